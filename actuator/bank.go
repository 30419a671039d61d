// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package actuator

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-lpc/meridian/frame"
)

// PositionCmd is the unit command requesting position control.
// Any other command value releases the unit.
const PositionCmd = 1

// Unit is one actuator of a bank.
type Unit struct {
	Mounted bool
	Sign    int     // rotation sign correction (+1 or -1)
	Angle   float64 // current angle, in degrees
	Prev    float64 // angle of the previous cycle, in degrees
	Faults  int     // consecutive read failures

	torque bool
}

func (u *Unit) sign() float64 {
	if u.Sign < 0 {
		return -1
	}
	return +1
}

// Bank is a group of up to frame.NumUnits units sharing one bus.
type Bank struct {
	side Side
	bus  Bus
	msg  *log.Logger

	units [frame.NumUnits]Unit

	timeout   time.Duration
	threshold int
	verbose   bool

	dst *Bank // receives the read-back angles
}

// Option configures a bank.
type Option func(*Bank)

// WithLogger sets the logger used for diagnostics.
func WithLogger(msg *log.Logger) Option {
	return func(b *Bank) { b.msg = msg }
}

// WithTimeout sets the bound of every bus read and write.
func WithTimeout(d time.Duration) Option {
	return func(b *Bank) { b.timeout = d }
}

// WithThreshold sets the number of consecutive read failures after which
// a unit is reported in the fault slot.
func WithThreshold(n int) Option {
	return func(b *Bank) { b.threshold = n }
}

// WithVerbose enables per-unit diagnostics.
func WithVerbose(v bool) Option {
	return func(b *Bank) { b.verbose = v }
}

// WithMount sets the mounted flag and rotation sign of unit i.
func WithMount(i int, mounted bool, sign int) Option {
	return func(b *Bank) {
		b.units[i].Mounted = mounted
		b.units[i].Sign = sign
	}
}

// WithWriteBack stores the read-back angles of this bank into dst.
//
// Older node releases had the right bank write its read-back angles into
// the left bank targets. Pending confirmation from the owner of the robot,
// that behavior is only available through this option.
func WithWriteBack(dst *Bank) Option {
	return func(b *Bank) { b.dst = dst }
}

// NewBank creates a bank of units driven through bus.
func NewBank(side Side, bus Bus, opts ...Option) *Bank {
	b := &Bank{
		side:      side,
		bus:       bus,
		msg:       log.New(os.Stdout, "actuator: ", 0),
		timeout:   20 * time.Millisecond,
		threshold: 4,
	}
	for i := range b.units {
		b.units[i].Sign = +1
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.dst == nil {
		b.dst = b
	}
	return b
}

// Side returns the side of the bank.
func (b *Bank) Side() Side { return b.side }

// Unit returns a copy of unit i.
func (b *Bank) Unit(i int) Unit { return b.units[i] }

// Mounted returns the number of mounted units.
func (b *Bank) Mounted() int {
	n := 0
	for i := range b.units {
		if b.units[i].Mounted {
			n++
		}
	}
	return n
}

// Setup switches every mounted unit to position control and enables its
// torque.
func (b *Bank) Setup() error {
	pm, _ := b.bus.(PositionModer)
	for i := range b.units {
		u := &b.units[i]
		if !u.Mounted {
			continue
		}
		id := uint8(i)
		if pm != nil {
			err := pm.SetPositionMode(id)
			if err != nil {
				return fmt.Errorf("actuator: could not set position mode of unit %s%02d: %w", b.side, i, err)
			}
		}
		err := b.bus.SetTorque(id, true)
		if err != nil {
			return fmt.Errorf("actuator: could not enable torque of unit %s%02d: %w", b.side, i, err)
		}
		u.torque = true
	}
	return nil
}

// Load records the commanded angles of the inbound frame for every unit,
// keeping the current angle as the previous one.
func (b *Bank) Load(f *frame.Frame) {
	base := b.side.Base()
	for i := range b.units {
		u := &b.units[i]
		u.Prev = u.Angle
		u.Angle = frame.ShortToFloat(f[frame.ValueSlot(base, i)])
	}
}

// Dispatch drives every mounted unit according to its command slot, then
// reads its position back.
// A unit that does not answer keeps its previous angle; once it failed
// threshold times in a row, its fault identifier is stamped into f.
func (b *Bank) Dispatch(f *frame.Frame) {
	base := b.side.Base()
	for i := range b.units {
		u := &b.units[i]
		if !u.Mounted {
			continue
		}
		b.dispatch(i, u, f[frame.CmdSlot(base, i)], f)
	}
}

func (b *Bank) dispatch(i int, u *Unit, cmd int16, f *frame.Frame) {
	id := uint8(i)
	switch cmd {
	case PositionCmd:
		if !u.torque {
			err := b.bus.SetTorque(id, true)
			if err != nil {
				b.debugf("could not enable torque of unit %s%02d: %+v", b.side, i, err)
			} else {
				u.torque = true
			}
		}
		err := b.bus.WritePosition(id, ToNative(u.Angle*u.sign()), b.timeout)
		if err != nil {
			b.debugf("could not write position of unit %s%02d: %+v", b.side, i, err)
		}
	default:
		err := b.bus.SetTorque(id, false)
		if err != nil {
			b.debugf("could not release unit %s%02d: %+v", b.side, i, err)
		}
		u.torque = false
	}

	var angle float64
	pos, err := b.bus.ReadPosition(id, b.timeout)
	switch err {
	case nil:
		u.Faults = 0
		angle = ToAngle(pos) * u.sign()
	default:
		angle = u.Prev
		u.Faults++
		// a unit coming back from a power loss has its torque off.
		u.torque = false
		if u.Faults >= b.threshold {
			fid := b.side.FaultID(i)
			f.SetFaultID(fid)
			if u.Faults == b.threshold {
				b.msg.Printf("unit %s%02d lost (fault-id=%d, faults=%d): %+v",
					b.side, i, fid, u.Faults, err,
				)
			}
		}
	}
	b.dst.units[i].Angle = angle
}

// Store writes the current angle of every unit into its value slot.
func (b *Bank) Store(f *frame.Frame) {
	base := b.side.Base()
	for i := range b.units {
		f[frame.ValueSlot(base, i)] = frame.FloatToShort(b.units[i].Angle)
	}
}

// ReleaseUnit releases the torque of unit i if it is mounted,
// whatever its fault counter.
func (b *Bank) ReleaseUnit(i int) {
	u := &b.units[i]
	if !u.Mounted {
		return
	}
	err := b.bus.SetTorque(uint8(i), false)
	if err != nil {
		b.debugf("could not release unit %s%02d: %+v", b.side, i, err)
	}
	u.torque = false
}

func (b *Bank) debugf(format string, args ...interface{}) {
	if !b.verbose {
		return
	}
	b.msg.Printf(format, args...)
}
