// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package actuator

import (
	"fmt"
	"time"
)

type call struct {
	op  string
	id  uint8
	arg int32
}

func (c call) String() string { return fmt.Sprintf("%s(%d, %d)", c.op, c.id, c.arg) }

// fakeBus is an in-memory bus: goal positions are reached instantly,
// units listed in lost never answer reads.
type fakeBus struct {
	pos    map[uint8]int32
	torque map[uint8]bool
	lost   map[uint8]bool
	calls  []call
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		pos:    make(map[uint8]int32),
		torque: make(map[uint8]bool),
		lost:   make(map[uint8]bool),
	}
}

func (bus *fakeBus) ReadPosition(id uint8, timeout time.Duration) (int32, error) {
	bus.calls = append(bus.calls, call{op: "read", id: id})
	if bus.lost[id] {
		return 0, ErrTimeout
	}
	pos, ok := bus.pos[id]
	if !ok {
		pos = nativeCenter
	}
	return pos, nil
}

func (bus *fakeBus) WritePosition(id uint8, pos int32, timeout time.Duration) error {
	bus.calls = append(bus.calls, call{op: "write", id: id, arg: pos})
	if bus.lost[id] {
		return ErrTimeout
	}
	bus.pos[id] = pos
	return nil
}

func (bus *fakeBus) SetTorque(id uint8, enabled bool) error {
	v := int32(0)
	if enabled {
		v = 1
	}
	bus.calls = append(bus.calls, call{op: "torque", id: id, arg: v})
	if bus.lost[id] {
		return ErrTimeout
	}
	bus.torque[id] = enabled
	return nil
}

func (bus *fakeBus) reset() { bus.calls = bus.calls[:0] }

var _ Bus = (*fakeBus)(nil)
