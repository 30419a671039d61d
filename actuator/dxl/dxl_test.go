// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dxl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"reflect"
	"testing"
	"time"

	"github.com/go-lpc/meridian/actuator"
)

// fakePort emulates a bus of units with a flat control table.
type fakePort struct {
	table map[uint8][]byte // control table per unit id
	errs  map[uint8]uint8  // status error per unit id
	noise []byte           // garbage sent before each status

	sent [][]byte
	rbuf bytes.Buffer
}

func newFakePort(ids ...uint8) *fakePort {
	p := &fakePort{
		table: make(map[uint8][]byte),
		errs:  make(map[uint8]uint8),
	}
	for _, id := range ids {
		p.table[id] = make([]byte, 256)
		binary.LittleEndian.PutUint16(p.table[id], 1060) // model number
	}
	return p
}

func (p *fakePort) SetReadTimeout(t time.Duration) error { return nil }
func (p *fakePort) ResetInputBuffer() error              { p.rbuf.Reset(); return nil }
func (p *fakePort) Close() error                         { return nil }

func (p *fakePort) Read(b []byte) (int, error) {
	if p.rbuf.Len() == 0 {
		return 0, nil // read timeout.
	}
	return p.rbuf.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.sent = append(p.sent, append([]byte(nil), b...))

	id := b[4]
	inst := b[7]
	params := unstuff(b[8 : len(b)-2])
	tbl, ok := p.table[id]
	if !ok || id == BroadcastID {
		return len(b), nil
	}

	var reply []byte
	switch inst {
	case instPing:
		reply = []byte{tbl[0], tbl[1], 0x2e}
	case instRead:
		addr := binary.LittleEndian.Uint16(params[0:])
		n := binary.LittleEndian.Uint16(params[2:])
		reply = append(reply, tbl[addr:addr+n]...)
	case instWrite:
		addr := binary.LittleEndian.Uint16(params[0:])
		copy(tbl[addr:], params[2:])
	}
	p.rbuf.Write(p.noise)
	p.rbuf.Write(makePacket(id, instStatus, append([]byte{p.errs[id]}, reply...)))
	return len(b), nil
}

func newTestBus(t *testing.T, p *fakePort) *Bus {
	t.Helper()

	orig := serialOpen
	serialOpen = func(name string, baud int) (port, error) { return p, nil }
	defer func() { serialOpen = orig }()

	bus, err := Open("/dev/ttyFake", 1000000, WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("could not open bus: %+v", err)
	}
	return bus
}

func TestPacket(t *testing.T) {
	// ping of unit 1, from the Protocol 2.0 reference.
	got := makePacket(1, instPing, nil)
	want := []byte{0xff, 0xff, 0xfd, 0x00, 0x01, 0x03, 0x00, 0x01, 0x19, 0x4e}
	if !bytes.Equal(got, want) {
		t.Fatalf("invalid ping packet:\ngot= % x\nwant=% x", got, want)
	}
}

func TestStuffing(t *testing.T) {
	for _, tc := range []struct {
		raw, stuffed []byte
	}{
		{raw: []byte{}, stuffed: []byte{}},
		{raw: []byte{1, 2, 3}, stuffed: []byte{1, 2, 3}},
		{raw: []byte{0xff, 0xff, 0xfd}, stuffed: []byte{0xff, 0xff, 0xfd, 0xfd}},
		{
			raw:     []byte{1, 0xff, 0xff, 0xfd, 2, 0xff, 0xff, 0xfd},
			stuffed: []byte{1, 0xff, 0xff, 0xfd, 0xfd, 2, 0xff, 0xff, 0xfd, 0xfd},
		},
		{raw: []byte{0xff, 0xfd, 0xfd}, stuffed: []byte{0xff, 0xfd, 0xfd}},
	} {
		t.Run(fmt.Sprintf("% x", tc.raw), func(t *testing.T) {
			got := stuff(tc.raw)
			if !bytes.Equal(got, tc.stuffed) {
				t.Fatalf("invalid stuffing:\ngot= % x\nwant=% x", got, tc.stuffed)
			}
			back := unstuff(got)
			if !bytes.Equal(back, tc.raw) {
				t.Fatalf("invalid unstuffing:\ngot= % x\nwant=% x", back, tc.raw)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	ok := makePacket(3, instStatus, []byte{0, 0xff, 0xff, 0xfd, 7})
	st, err := parseStatus(ok)
	if err != nil {
		t.Fatalf("could not parse status: %+v", err)
	}
	if got, want := st.params, []byte{0xff, 0xff, 0xfd, 7}; !bytes.Equal(got, want) {
		t.Fatalf("invalid params: got=% x, want=% x", got, want)
	}
	if st.id != 3 {
		t.Fatalf("invalid id: got=%d, want=3", st.id)
	}

	bad := append([]byte(nil), ok...)
	bad[len(bad)-1] ^= 0xff
	_, err = parseStatus(bad)
	if !errors.Is(err, ErrCRC) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrCRC)
	}

	_, err = parseStatus(ok[:5])
	if !errors.Is(err, errLength) {
		t.Fatalf("invalid error: got=%v, want=%v", err, errLength)
	}

	hdr := append([]byte(nil), ok...)
	hdr[2] = 0
	_, err = parseStatus(hdr)
	if !errors.Is(err, errHeader) {
		t.Fatalf("invalid error: got=%v, want=%v", err, errHeader)
	}
}

func TestBus(t *testing.T) {
	p := newFakePort(1, 2)
	p.noise = []byte{0x00, 0xff, 0x42}
	bus := newTestBus(t, p)
	defer bus.Close()

	model, err := bus.Ping(1, time.Second)
	if err != nil {
		t.Fatalf("could not ping: %+v", err)
	}
	if model != 1060 {
		t.Fatalf("invalid model: got=%d, want=%d", model, 1060)
	}

	err = bus.Setup([]uint8{1, 2})
	if err != nil {
		t.Fatalf("could not setup units: %+v", err)
	}
	for _, id := range []uint8{1, 2} {
		if got, want := p.table[id][addrOperatingMode], byte(positionMode); got != want {
			t.Fatalf("invalid operating mode for unit %d: got=%d, want=%d", id, got, want)
		}
		if got, want := p.table[id][addrTorqueEnable], byte(1); got != want {
			t.Fatalf("invalid torque for unit %d: got=%d, want=%d", id, got, want)
		}
	}

	err = bus.WritePosition(2, 3072, time.Second)
	if err != nil {
		t.Fatalf("could not write position: %+v", err)
	}
	if got, want := p.table[2][addrGoalPosition:addrGoalPosition+4], []byte{0x00, 0x0c, 0, 0}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid goal position: got=% x, want=% x", got, want)
	}

	binary.LittleEndian.PutUint32(p.table[2][addrPresentPosition:], 1024)
	pos, err := bus.ReadPosition(2, time.Second)
	if err != nil {
		t.Fatalf("could not read position: %+v", err)
	}
	if pos != 1024 {
		t.Fatalf("invalid position: got=%d, want=%d", pos, 1024)
	}

	err = bus.SetTorque(BroadcastID, false)
	if err != nil {
		t.Fatalf("could not release all units: %+v", err)
	}
}

func TestBusErrors(t *testing.T) {
	p := newFakePort(1)
	bus := newTestBus(t, p)

	_, err := bus.ReadPosition(9, 5*time.Millisecond)
	if !errors.Is(err, actuator.ErrTimeout) {
		t.Fatalf("invalid error: got=%v, want=%v", err, actuator.ErrTimeout)
	}

	p.errs[1] = 0x80 | 0x07
	err = bus.WritePosition(1, 0, time.Second)
	var serr StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("invalid error type: %T (%v)", err, err)
	}
	if got, want := serr.Error(), "dxl: unit 1: access error (hardware alert)"; got != want {
		t.Fatalf("invalid error message:\ngot= %q\nwant=%q", got, want)
	}
}

func TestOpenError(t *testing.T) {
	orig := serialOpen
	serialOpen = func(name string, baud int) (port, error) { return nil, io.ErrClosedPipe }
	defer func() { serialOpen = orig }()

	_, err := Open("/dev/ttyNone", 57600)
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("invalid error: got=%v, want=%v", err, io.ErrClosedPipe)
	}
}
