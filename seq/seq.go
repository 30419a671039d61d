// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package seq tracks the wrapping sequence counters of the frame stream.
package seq // import "github.com/go-lpc/meridian/seq"

// Modulus is the wrapping value of the sequence counters.
const Modulus = 60000

// Tracker holds the outbound counter and the inbound predictor.
//
// A gap in the inbound stream is informational: the predictor adopts the
// received value as its new baseline and the frame is kept.
type Tracker struct {
	step   int
	out    int // last sent value
	expect int // last expected (or adopted) inbound value
}

// New returns a tracker advancing by step every cycle.
// A step that is not positive modulo Modulus is replaced by 1.
func New(step int) *Tracker {
	step %= Modulus
	if step <= 0 {
		step = 1
	}
	return &Tracker{step: step}
}

// Step returns the per-cycle increment.
func (t *Tracker) Step() int { return t.step }

// Predict returns the value following cur.
func (t *Tracker) Predict(cur int) int {
	return (cur + t.step) % Modulus
}

// Matches reports whether the received value is the expected one.
func Matches(expected, received int) bool {
	return expected == received
}

// Check advances the inbound prediction and compares it with received.
// On mismatch the tracker resynchronizes on received.
func (t *Tracker) Check(received uint16) bool {
	t.expect = t.Predict(t.expect)
	if Matches(t.expect, int(received)) {
		return true
	}
	t.expect = int(received)
	return false
}

// Expected returns the last expected (or adopted) inbound value.
func (t *Tracker) Expected() int { return t.expect }

// Advance increments the outbound counter and returns its new value.
func (t *Tracker) Advance() uint16 {
	t.out = t.Predict(t.out)
	return uint16(t.out)
}

// Reset sets both counters.
func (t *Tracker) Reset(out, expect int) {
	t.out = out % Modulus
	t.expect = expect % Modulus
}
