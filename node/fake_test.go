// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/go-lpc/meridian/actuator"
	"github.com/go-lpc/meridian/command"
	"github.com/go-lpc/meridian/frame"
	"github.com/go-lpc/meridian/imu"
	"github.com/go-lpc/meridian/seq"
	"github.com/go-lpc/meridian/telemetry"
)

var discard = log.New(io.Discard, "", 0)

// fakeBus is a bus whose units reach their goal instantly.
type fakeBus struct {
	mu       sync.Mutex
	pos      map[uint8]int32
	lost     map[uint8]bool
	writes   int
	releases []uint8
	enabled  map[uint8]bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		pos:     make(map[uint8]int32),
		lost:    make(map[uint8]bool),
		enabled: make(map[uint8]bool),
	}
}

func (bus *fakeBus) ReadPosition(id uint8, _ time.Duration) (int32, error) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if bus.lost[id] {
		return 0, actuator.ErrTimeout
	}
	if p, ok := bus.pos[id]; ok {
		return p, nil
	}
	return 2048, nil
}

func (bus *fakeBus) WritePosition(id uint8, pos int32, _ time.Duration) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.writes++
	if bus.lost[id] {
		return actuator.ErrTimeout
	}
	bus.pos[id] = pos
	return nil
}

func (bus *fakeBus) SetTorque(id uint8, on bool) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if !on {
		bus.releases = append(bus.releases, id)
	}
	if bus.lost[id] {
		return actuator.ErrTimeout
	}
	bus.enabled[id] = on
	return nil
}

func (bus *fakeBus) Close() error { return nil }

func (bus *fakeBus) reset() {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.writes = 0
	bus.releases = nil
}

type nopSleeper struct{}

func (nopSleeper) Sleep(time.Duration) {}

type fakePad struct {
	buttons uint16
	sticks  [4]int16
}

func (pad fakePad) State() (uint16, [4]int16) { return pad.buttons, pad.sticks }

// fixture drives an engine as the host would.
type fixture struct {
	t    *testing.T
	lbus *fakeBus
	rbus *fakeBus
	snap *imu.Snapshot
	agg  *telemetry.Aggregator
	eng  *Engine

	seq int
	in  []byte
	out []byte
}

func newFixture(t *testing.T, threshold int, opts ...EngineOption) *fixture {
	t.Helper()
	fx := &fixture{
		t:    t,
		lbus: newFakeBus(),
		rbus: newFakeBus(),
		snap: new(imu.Snapshot),
		in:   make([]byte, frame.Size),
		out:  make([]byte, frame.Size),
	}

	bopts := func(mounted ...int) []actuator.Option {
		o := []actuator.Option{
			actuator.WithLogger(discard),
			actuator.WithThreshold(threshold),
		}
		for _, i := range mounted {
			o = append(o, actuator.WithMount(i, true, +1))
		}
		return o
	}
	left := actuator.NewBank(actuator.Left, fx.lbus, bopts(0, 3)...)
	right := actuator.NewBank(actuator.Right, fx.rbus, bopts(1)...)

	fx.agg = telemetry.New(fx.snap)
	it := command.New(left, right, fx.agg,
		command.WithLogger(discard),
		command.WithSleeper(nopSleeper{}),
	)
	opts = append([]EngineOption{WithEngineLogger(discard)}, opts...)
	fx.eng = NewEngine(left, right, seq.New(1), fx.agg, it, opts...)
	return fx
}

// inbound returns the next host frame, with every mounted unit in position
// control.
func (fx *fixture) inbound() frame.Frame {
	fx.seq++
	var f frame.Frame
	f[frame.Master] = command.CodeRun
	f[frame.Seq] = int16(fx.seq)
	for _, i := range []int{0, 3} {
		f[frame.CmdSlot(frame.LeftBank, i)] = actuator.PositionCmd
	}
	f[frame.CmdSlot(frame.RightBank, 1)] = actuator.PositionCmd
	return f
}

// send seals f, runs one cycle with it and returns the outbound frame.
func (fx *fixture) send(f frame.Frame) frame.Frame {
	f.Seal()
	frame.Encode(fx.in, &f)
	return fx.cycle(true)
}

// sendRaw runs one cycle with f as is.
func (fx *fixture) sendRaw(f frame.Frame) frame.Frame {
	frame.Encode(fx.in, &f)
	return fx.cycle(true)
}

// idle runs one cycle without inbound datagram.
func (fx *fixture) idle() frame.Frame {
	return fx.cycle(false)
}

func (fx *fixture) cycle(fresh bool) frame.Frame {
	fx.eng.Cycle(fx.in, fresh, fx.out)
	var out frame.Frame
	frame.Decode(&out, fx.out)
	if !frame.Verify(&out) {
		fx.t.Fatalf("outbound frame is not sealed")
	}
	return out
}
