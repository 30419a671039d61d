// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package seq

import "testing"

func TestPredict(t *testing.T) {
	for _, tc := range []struct {
		step int
		cur  int
		want int
	}{
		{1, 0, 1},
		{1, 59999, 0},
		{2, 59998, 0},
		{2, 59999, 1},
		{0, 10, 11},
		{-3, 10, 11},
		{5, 100, 105},
		{Modulus, 10, 11},
		{2 * Modulus, 59999, 0},
		{Modulus + 2, 10, 12},
	} {
		trk := New(tc.step)
		if got := trk.Predict(tc.cur); got != tc.want {
			t.Fatalf("step=%d: invalid prediction for %d: got=%d, want=%d",
				tc.step, tc.cur, got, tc.want,
			)
		}
	}
}

func TestCheck(t *testing.T) {
	trk := New(2)
	trk.Reset(0, 59996)

	for _, tc := range []struct {
		recv   uint16
		ok     bool
		expect int
	}{
		{59998, true, 59998},
		{0, true, 0},
		{2, true, 2},
		{10, false, 10}, // gap: adopt the received value.
		{12, true, 12},
		{12, false, 12}, // duplicate.
		{14, true, 14},
	} {
		ok := trk.Check(tc.recv)
		if ok != tc.ok {
			t.Fatalf("recv=%d: invalid match: got=%v, want=%v", tc.recv, ok, tc.ok)
		}
		if got, want := trk.Expected(), tc.expect; got != want {
			t.Fatalf("recv=%d: invalid baseline: got=%d, want=%d", tc.recv, got, want)
		}
	}
}

func TestAdvance(t *testing.T) {
	trk := New(1)
	trk.Reset(59998, 0)
	for _, want := range []uint16{59999, 0, 1} {
		if got := trk.Advance(); got != want {
			t.Fatalf("invalid outbound value: got=%d, want=%d", got, want)
		}
	}
}
