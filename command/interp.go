// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package command

import (
	"log"
	"os"
	"time"

	"github.com/go-lpc/meridian/actuator"
	"github.com/go-lpc/meridian/frame"
	"github.com/go-lpc/meridian/telemetry"
)

// RecenterAck is written into the status slot once a recenter is applied.
const RecenterAck = frame.Len

// Sleeper pauses the calling goroutine.
type Sleeper interface {
	Sleep(d time.Duration)
}

type stdSleeper struct{}

func (stdSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Interpreter applies master commands to the banks and the aggregator.
type Interpreter struct {
	left  *actuator.Bank
	right *actuator.Bank
	agg   *telemetry.Aggregator
	clk   Sleeper
	msg   *log.Logger

	reps   int
	gap    time.Duration
	settle time.Duration
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLogger sets the logger of the interpreter.
func WithLogger(msg *log.Logger) Option {
	return func(it *Interpreter) { it.msg = msg }
}

// WithSleeper sets how the disengage sequence waits.
func WithSleeper(clk Sleeper) Option {
	return func(it *Interpreter) { it.clk = clk }
}

// WithDisengage sets the number of release repetitions, the gap between
// two units and the settle time after the last repetition.
func WithDisengage(reps int, gap, settle time.Duration) Option {
	return func(it *Interpreter) {
		it.reps = reps
		it.gap = gap
		it.settle = settle
	}
}

// New creates an interpreter driving the given banks and aggregator.
func New(left, right *actuator.Bank, agg *telemetry.Aggregator, opts ...Option) *Interpreter {
	it := &Interpreter{
		left:   left,
		right:  right,
		agg:    agg,
		clk:    stdSleeper{},
		msg:    log.New(os.Stdout, "command: ", 0),
		reps:   5,
		gap:    2 * time.Microsecond,
		settle: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(it)
	}
	return it
}

// Apply interprets the master code of out, a copy of the inbound frame,
// and returns the applied command.
func (it *Interpreter) Apply(out *frame.Frame) Command {
	cmd := Parse(out[frame.Master])
	switch cmd.(type) {
	case Disengage:
		it.disengage()
	case Recenter:
		if raw, ok := it.agg.RawYaw(); ok {
			it.agg.Recenter(raw)
			out[frame.Status] = RecenterAck
		}
	case ClearFault:
		out.ClearFaultID()
	case Run, Other:
	}
	return cmd
}

func (it *Interpreter) disengage() {
	for r := 0; r < it.reps; r++ {
		for i := 0; i < frame.NumUnits; i++ {
			it.left.ReleaseUnit(i)
			it.clk.Sleep(it.gap)
			it.right.ReleaseUnit(i)
			it.clk.Sleep(it.gap)
		}
	}
	it.clk.Sleep(it.settle)
	it.msg.Printf("all units released")
}
