// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gamepad reads the state of a Linux joystick device.
package gamepad // import "github.com/go-lpc/meridian/gamepad"

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Linux joystick event types.
const (
	evButton = 0x01
	evAxis   = 0x02
	evInit   = 0x80
)

const evSize = 8

// NumSticks is the number of stick axes reported.
const NumSticks = 4

var osOpen = func(name string) (io.ReadCloser, error) { return os.Open(name) }

// event is a Linux js_event.
type event struct {
	Time   uint32
	Value  int16
	Type   uint8
	Number uint8
}

// Joystick tracks the buttons and stick axes of a joystick device.
type Joystick struct {
	name string
	dev  io.ReadCloser
	msg  *log.Logger

	mu      sync.Mutex
	buttons uint16
	sticks  [NumSticks]int16
}

// Option configures a Joystick.
type Option func(*Joystick)

// WithLogger sets the logger of the joystick.
func WithLogger(msg *log.Logger) Option {
	return func(js *Joystick) { js.msg = msg }
}

// Open opens the joystick device at name (e.g. /dev/input/js0).
func Open(name string, opts ...Option) (*Joystick, error) {
	dev, err := osOpen(name)
	if err != nil {
		return nil, fmt.Errorf("gamepad: could not open %q: %w", name, err)
	}
	js := &Joystick{
		name: name,
		dev:  dev,
		msg:  log.New(os.Stdout, "gamepad: ", 0),
	}
	for _, opt := range opts {
		opt(js)
	}
	return js, nil
}

// Run reads events until the device is closed or ctx is done.
func (js *Joystick) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = js.dev.Close()
		case <-done:
		}
	}()

	var (
		buf [evSize]byte
		ev  event
	)
	for {
		_, err := io.ReadFull(js.dev, buf[:])
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("gamepad: could not read %q: %w", js.name, err)
		}
		ev.Time = binary.LittleEndian.Uint32(buf[0:])
		ev.Value = int16(binary.LittleEndian.Uint16(buf[4:]))
		ev.Type = buf[6]
		ev.Number = buf[7]
		js.apply(ev)
	}
}

func (js *Joystick) apply(ev event) {
	js.mu.Lock()
	defer js.mu.Unlock()

	switch ev.Type &^ evInit {
	case evButton:
		if ev.Number >= 16 {
			return
		}
		mask := uint16(1) << ev.Number
		if ev.Value != 0 {
			js.buttons |= mask
		} else {
			js.buttons &^= mask
		}
	case evAxis:
		if int(ev.Number) >= NumSticks {
			return
		}
		js.sticks[ev.Number] = ev.Value
	}
}

// State returns the buttons bit mask and the stick axes.
func (js *Joystick) State() (uint16, [NumSticks]int16) {
	js.mu.Lock()
	defer js.mu.Unlock()
	return js.buttons, js.sticks
}

// Close closes the underlying device.
func (js *Joystick) Close() error {
	err := js.dev.Close()
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("gamepad: could not close %q: %w", js.name, err)
	}
	return nil
}
