// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package actuator holds the two banks of actuators driven by the node and
// the narrow bus port they are dispatched through.
package actuator // import "github.com/go-lpc/meridian/actuator"

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-lpc/meridian/frame"
)

// ErrTimeout is returned by a bus when a unit did not answer in time.
var ErrTimeout = errors.New("actuator: timeout")

// Bus is the port to the actuators of one bank.
// Calls are bounded by their timeout and may fail; they never block forever.
type Bus interface {
	// ReadPosition reads the present position, in native units.
	ReadPosition(id uint8, timeout time.Duration) (int32, error)
	// WritePosition writes the goal position, in native units.
	WritePosition(id uint8, pos int32, timeout time.Duration) error
	// SetTorque enables or releases the torque of a unit.
	SetTorque(id uint8, enabled bool) error
}

// PositionModer is implemented by buses whose units need to be switched
// to position control before use.
type PositionModer interface {
	SetPositionMode(id uint8) error
}

// Side identifies a bank.
type Side uint8

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	switch s {
	case Left:
		return "L"
	case Right:
		return "R"
	}
	return fmt.Sprintf("Side(%d)", uint8(s))
}

// Base returns the first frame slot of the bank.
func (s Side) Base() int {
	if s == Right {
		return frame.RightBank
	}
	return frame.LeftBank
}

// FaultID returns the global fault identifier of unit i:
// left units are numbered from 0, right units from 100.
func (s Side) FaultID(i int) uint8 {
	if s == Right {
		return uint8(100 + i)
	}
	return uint8(i)
}

// Native position range of the actuators.
const (
	nativeCenter = 2048
	nativeRange  = 4096
)

// ToNative converts an angle in degrees into native position units.
func ToNative(deg float64) int32 {
	return int32(math.Round(deg*nativeRange/360 + nativeCenter))
}

// ToAngle converts native position units into an angle in degrees.
func ToAngle(pos int32) float64 {
	return float64(pos-nativeCenter) * 360 / nativeRange
}
