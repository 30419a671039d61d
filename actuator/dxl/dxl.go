// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dxl drives Dynamixel X-series actuators over a half-duplex serial
// link, with the Protocol 2.0 packet format.
package dxl // import "github.com/go-lpc/meridian/actuator/dxl"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/meridian/actuator"
	"go.bug.st/serial"
)

// Control table addresses.
const (
	addrOperatingMode   = 11
	addrTorqueEnable    = 64
	addrGoalPosition    = 116
	addrPresentPosition = 132
)

const positionMode = 3

const defaultTimeout = 20 * time.Millisecond

type port interface {
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error

	io.Reader
	io.Writer
	io.Closer
}

var (
	serialOpen = serialOpenImpl
)

func serialOpenImpl(name string, baud int) (port, error) {
	return serial.Open(name, &serial.Mode{BaudRate: baud})
}

// Bus is a serial link shared by up to 253 units.
// Bus is not safe for concurrent use.
type Bus struct {
	name string
	port port
	msg  *log.Logger
	buf  []byte
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger of the bus.
func WithLogger(msg *log.Logger) Option {
	return func(bus *Bus) { bus.msg = msg }
}

// Open opens the named serial port at the given baud rate.
func Open(name string, baud int, opts ...Option) (*Bus, error) {
	p, err := serialOpen(name, baud)
	if err != nil {
		return nil, fmt.Errorf("dxl: could not open serial port %q (baud=%d): %w", name, baud, err)
	}
	bus := &Bus{
		name: name,
		port: p,
		msg:  log.New(os.Stdout, "dxl: ", 0),
		buf:  make([]byte, 0, 64),
	}
	for _, opt := range opts {
		opt(bus)
	}
	return bus, nil
}

// Close closes the underlying serial port.
func (bus *Bus) Close() error {
	return bus.port.Close()
}

// Ping returns the model number of unit id.
func (bus *Bus) Ping(id uint8, timeout time.Duration) (uint16, error) {
	st, err := bus.transact(id, instPing, nil, timeout)
	if err != nil {
		return 0, fmt.Errorf("dxl: could not ping unit %d: %w", id, err)
	}
	if len(st.params) < 2 {
		return 0, fmt.Errorf("dxl: could not ping unit %d: %w", id, errLength)
	}
	return binary.LittleEndian.Uint16(st.params), nil
}

// Read reads n bytes of the control table of unit id, starting at addr.
func (bus *Bus) Read(id uint8, addr, n uint16, timeout time.Duration) ([]byte, error) {
	var params [4]byte
	binary.LittleEndian.PutUint16(params[0:], addr)
	binary.LittleEndian.PutUint16(params[2:], n)

	st, err := bus.transact(id, instRead, params[:], timeout)
	if err != nil {
		return nil, fmt.Errorf("dxl: could not read addr=%d from unit %d: %w", addr, id, err)
	}
	if len(st.params) != int(n) {
		return nil, fmt.Errorf(
			"dxl: could not read addr=%d from unit %d: %w (got=%d, want=%d)",
			addr, id, errLength, len(st.params), n,
		)
	}
	return st.params, nil
}

// Write writes data into the control table of unit id, starting at addr.
func (bus *Bus) Write(id uint8, addr uint16, data []byte, timeout time.Duration) error {
	params := make([]byte, 2, 2+len(data))
	binary.LittleEndian.PutUint16(params, addr)
	params = append(params, data...)

	_, err := bus.transact(id, instWrite, params, timeout)
	if err != nil {
		return fmt.Errorf("dxl: could not write addr=%d to unit %d: %w", addr, id, err)
	}
	return nil
}

// ReadPosition reads the present position of unit id.
func (bus *Bus) ReadPosition(id uint8, timeout time.Duration) (int32, error) {
	p, err := bus.Read(id, addrPresentPosition, 4, timeout)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(p)), nil
}

// WritePosition writes the goal position of unit id.
func (bus *Bus) WritePosition(id uint8, pos int32, timeout time.Duration) error {
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], uint32(pos))
	return bus.Write(id, addrGoalPosition, p[:], timeout)
}

// SetTorque enables or releases the torque of unit id.
func (bus *Bus) SetTorque(id uint8, enabled bool) error {
	v := byte(0)
	if enabled {
		v = 1
	}
	return bus.Write(id, addrTorqueEnable, []byte{v}, defaultTimeout)
}

// SetPositionMode switches unit id to position control.
// The torque of the unit is released, as required to change mode.
func (bus *Bus) SetPositionMode(id uint8) error {
	err := bus.SetTorque(id, false)
	if err != nil {
		return err
	}
	return bus.Write(id, addrOperatingMode, []byte{positionMode}, defaultTimeout)
}

// Setup switches the given units to position control and enables their
// torque.
func (bus *Bus) Setup(ids []uint8) error {
	for _, id := range ids {
		err := bus.SetPositionMode(id)
		if err != nil {
			return err
		}
		err = bus.SetTorque(id, true)
		if err != nil {
			return err
		}
	}
	bus.msg.Printf("%s: %d units in position mode", bus.name, len(ids))
	return nil
}

func (bus *Bus) transact(id, inst uint8, params []byte, timeout time.Duration) (status, error) {
	err := bus.port.ResetInputBuffer()
	if err != nil {
		return status{}, fmt.Errorf("could not reset input buffer: %w", err)
	}

	pkt := makePacket(id, inst, params)
	n, err := bus.port.Write(pkt)
	switch {
	case err != nil:
		return status{}, fmt.Errorf("could not send instruction: %w", err)
	case n != len(pkt):
		return status{}, fmt.Errorf("could not send instruction: %w", io.ErrShortWrite)
	}

	if id == BroadcastID {
		return status{}, nil
	}

	st, err := bus.recv(timeout)
	if err != nil {
		return st, err
	}
	if st.id != id {
		return st, fmt.Errorf("unexpected status from unit %d", st.id)
	}
	if st.err != 0 {
		return st, StatusError{ID: st.id, Code: st.err}
	}
	return st, nil
}

// recv reads one status packet, resynchronizing on the header.
func (bus *Bus) recv(timeout time.Duration) (status, error) {
	var (
		deadline = time.Now().Add(timeout)
		tmp      [64]byte
	)
	bus.buf = bus.buf[:0]

	for {
		// drop leading garbage until the header.
		for len(bus.buf) >= len(header) && [4]byte(bus.buf[:4]) != header {
			bus.buf = bus.buf[1:]
		}
		if len(bus.buf) >= hdrLen {
			n := int(binary.LittleEndian.Uint16(bus.buf[5:7]))
			if n > maxBody {
				bus.buf = bus.buf[1:]
				continue
			}
			if len(bus.buf) >= hdrLen+n {
				return parseStatus(bus.buf[:hdrLen+n])
			}
		}

		left := time.Until(deadline)
		if left <= 0 {
			return status{}, actuator.ErrTimeout
		}
		err := bus.port.SetReadTimeout(left)
		if err != nil {
			return status{}, fmt.Errorf("could not set read timeout: %w", err)
		}
		n, err := bus.port.Read(tmp[:])
		if err != nil && !errors.Is(err, io.EOF) {
			return status{}, fmt.Errorf("could not read status: %w", err)
		}
		bus.buf = append(bus.buf, tmp[:n]...)
	}
}

var (
	_ actuator.Bus           = (*Bus)(nil)
	_ actuator.PositionModer = (*Bus)(nil)
)
