// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"log"
	"os"

	"github.com/go-lpc/meridian/actuator"
	"github.com/go-lpc/meridian/command"
	"github.com/go-lpc/meridian/frame"
	"github.com/go-lpc/meridian/seq"
	"github.com/go-lpc/meridian/telemetry"
)

// Gamepad provides the state of the gamepad attached to the node.
type Gamepad interface {
	State() (buttons uint16, sticks [4]int16)
}

// Counters are the cumulative counters of an engine.
type Counters struct {
	Cycles      int64 `json:"cycles"`
	Received    int64 `json:"received"`
	InboundErrs int64 `json:"inbound_errs"`
	SeqSkips    int64 `json:"seq_skips"`
	Disengages  int64 `json:"disengages"`
	Recenters   int64 `json:"recenters"`
}

// Engine runs the per-cycle frame processing.
// It owns the inbound and outbound frames, the banks, the sequence tracker
// and the aggregator; it is not safe for concurrent use.
type Engine struct {
	msg *log.Logger

	left  *actuator.Bank
	right *actuator.Bank
	banks []*actuator.Bank
	sq    *seq.Tracker
	agg   *telemetry.Aggregator
	it    *command.Interpreter
	pad   Gamepad

	flow  bool // trace the frame flow
	trace bool // trace the sequence values

	in  frame.Frame
	out frame.Frame
	cnt Counters
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithGamepad sets the gamepad copied into the outbound frame.
func WithGamepad(pad Gamepad) EngineOption {
	return func(e *Engine) { e.pad = pad }
}

// WithTracing enables the frame flow and sequence traces.
func WithTracing(flow, seq bool) EngineOption {
	return func(e *Engine) {
		e.flow = flow
		e.trace = seq
	}
}

// WithEngineLogger sets the logger of the engine.
func WithEngineLogger(msg *log.Logger) EngineOption {
	return func(e *Engine) { e.msg = msg }
}

// NewEngine creates an engine driving the given banks.
func NewEngine(left, right *actuator.Bank, sq *seq.Tracker, agg *telemetry.Aggregator, it *command.Interpreter, opts ...EngineOption) *Engine {
	e := &Engine{
		msg:   log.New(os.Stdout, "node: ", 0),
		left:  left,
		right: right,
		banks: []*actuator.Bank{left, right},
		sq:    sq,
		agg:   agg,
		it:    it,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cycle processes one cycle.
// When fresh is true, in holds the datagram received during this cycle.
// The sealed outbound frame is encoded into out.
func (e *Engine) Cycle(in []byte, fresh bool, out []byte) {
	e.cnt.Cycles++
	if fresh {
		e.cnt.Received++
		e.receive(in)
	}

	e.agg.Merge(&e.out, e.banks, e.sq)
	frame.Encode(out, &e.out)
}

func (e *Engine) receive(p []byte) {
	frame.Decode(&e.in, p)
	if e.flow {
		e.msg.Printf("[Rsvd]")
	}

	if !frame.Verify(&e.in) {
		e.cnt.InboundErrs++
		e.out.SetFlag(frame.ErrInbound)
		if e.flow {
			e.msg.Printf("[csNG] errors=%d", e.cnt.InboundErrs)
		}
		return
	}
	if e.flow {
		e.msg.Printf("[CSok]")
	}

	e.out = e.in
	e.out.ClearFlag(frame.ErrInbound)

	if e.pad != nil {
		buttons, sticks := e.pad.State()
		e.out[frame.Buttons] = int16(buttons)
		for i, v := range sticks {
			e.out[frame.Sticks+i] = v
		}
	}

	cmd := e.it.Apply(&e.out)
	switch cmd.(type) {
	case command.Disengage:
		e.cnt.Disengages++
	case command.Recenter:
		e.cnt.Recenters++
	}

	e.left.Load(&e.in)
	e.right.Load(&e.in)
	if command.Engages(cmd) {
		e.left.Dispatch(&e.out)
		e.right.Dispatch(&e.out)
	}

	recv := uint16(e.in[frame.Seq])
	if e.sq.Check(recv) {
		e.out.ClearFlag(frame.ErrSeqSkip)
	} else {
		e.cnt.SeqSkips++
		e.out.SetFlag(frame.ErrSeqSkip)
	}
	if e.trace {
		e.msg.Printf("exp:recv/%d:%d", e.sq.Expected(), recv)
	}
}

// Counters returns the engine counters.
func (e *Engine) Counters() Counters { return e.cnt }

// Outbound returns a copy of the last outbound frame.
func (e *Engine) Outbound() frame.Frame { return e.out }

// Start seals the outbound frame with a zero sequence value and encodes it
// into out, to be sent once before the first cycle.
func (e *Engine) Start(out []byte) {
	e.out[frame.Seq] = 0
	e.out.Seal()
	frame.Encode(out, &e.out)
}

// Faults copies the fault counters of the left and right banks into dst.
func (e *Engine) Faults(dst *[2][frame.NumUnits]int) {
	for j, b := range e.banks {
		for i := range dst[j] {
			dst[j][i] = b.Unit(i).Faults
		}
	}
}
