// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import "math"

const maxShort = 32767

// FloatToShort encodes v as hundredths, rounded and clamped to the
// symmetric int16 range.
func FloatToShort(v float64) int16 {
	switch {
	case math.IsNaN(v):
		return 0
	case v*100 >= maxShort:
		return maxShort
	case v*100 <= -maxShort:
		return -maxShort
	}
	return int16(math.Round(v * 100))
}

// ShortToFloat decodes hundredths.
func ShortToFloat(v int16) float64 {
	return float64(v) * 0.01
}
