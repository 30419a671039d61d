// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package telemetry merges the sensor and actuator state into the outbound
// frame.
package telemetry // import "github.com/go-lpc/meridian/telemetry"

import (
	"math"

	"github.com/go-lpc/meridian/actuator"
	"github.com/go-lpc/meridian/frame"
	"github.com/go-lpc/meridian/imu"
	"github.com/go-lpc/meridian/seq"
)

// Aggregator fills the outbound frame once per cycle.
type Aggregator struct {
	snap   *imu.Snapshot // nil when no sensor is mounted
	origin float64       // yaw zero reference, in degrees
}

// HeadingOrigin is the yaw zero reference before the first recenter.
// The sensor reports headings in [0, 360), so a heading of 180 reads as 0.
const HeadingOrigin = 180.0

// New creates an aggregator reading sensor samples from snap.
// A nil snap leaves the sensor slots untouched.
func New(snap *imu.Snapshot) *Aggregator {
	return &Aggregator{snap: snap, origin: HeadingOrigin}
}

// RawYaw returns the yaw of the latest sample, before recentering.
func (agg *Aggregator) RawYaw() (float64, bool) {
	if agg.snap == nil {
		return 0, false
	}
	smp, ok := agg.snap.Load()
	return smp.Yaw, ok
}

// Recenter sets the yaw zero reference.
func (agg *Aggregator) Recenter(raw float64) {
	agg.origin = raw
}

// Origin returns the yaw zero reference.
func (agg *Aggregator) Origin() float64 { return agg.origin }

// Yaw returns raw relative to the zero reference, in (-180, 180].
func (agg *Aggregator) Yaw(raw float64) float64 {
	return WrapAngle(raw - agg.origin)
}

// WrapAngle wraps deg into (-180, 180].
func WrapAngle(deg float64) float64 {
	deg = math.Mod(deg, 360)
	switch {
	case deg > 180:
		deg -= 360
	case deg <= -180:
		deg += 360
	}
	return deg
}

// Merge writes the unit angles of every bank, the latest sensor sample and
// the next outbound sequence value into out, then seals it.
func (agg *Aggregator) Merge(out *frame.Frame, banks []*actuator.Bank, sq *seq.Tracker) {
	for _, b := range banks {
		b.Store(out)
	}

	if agg.snap != nil {
		if smp, ok := agg.snap.Load(); ok {
			agg.sensor(out, &smp)
		}
	}

	out[frame.Seq] = int16(sq.Advance())
	out.Seal()
}

func (agg *Aggregator) sensor(out *frame.Frame, smp *imu.Sample) {
	for i := 0; i < 3; i++ {
		out[frame.AccX+i] = frame.FloatToShort(smp.Acc[i])
		out[frame.GyroX+i] = frame.FloatToShort(smp.Gyro[i])
		out[frame.MagX+i] = frame.FloatToShort(smp.Mag[i])
	}
	out[frame.Temp] = frame.FloatToShort(smp.Temp)
	out[frame.Roll] = frame.FloatToShort(smp.Roll)
	out[frame.Pitch] = frame.FloatToShort(smp.Pitch)
	out[frame.Yaw] = frame.FloatToShort(agg.Yaw(smp.Yaw))
}
