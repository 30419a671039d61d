// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sched paces the control loop on a virtual deadline advanced by
// one period every cycle.
package sched // import "github.com/go-lpc/meridian/sched"

import (
	"log"
	"os"
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is the time source of a scheduler.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Scheduler waits for the next cycle boundary.
//
// The deadline never catches up: after an overrun the next deadline is
// still the previous one plus one period, and the lag with the wall clock
// is reported by Behind.
type Scheduler struct {
	clk     Clock
	msg     *log.Logger
	period  time.Duration
	quantum time.Duration // coarse sleep granularity
	verbose bool

	deadline time.Time
	overruns int64
	behind   time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source.
func WithClock(clk Clock) Option {
	return func(s *Scheduler) { s.clk = clk }
}

// WithLogger sets the logger of the scheduler.
func WithLogger(msg *log.Logger) Option {
	return func(s *Scheduler) { s.msg = msg }
}

// WithQuantum sets the coarse sleep granularity.
// The remainder below the quantum is busy-waited.
func WithQuantum(d time.Duration) Option {
	return func(s *Scheduler) { s.quantum = d }
}

// WithVerbose logs every overrun.
func WithVerbose(v bool) Option {
	return func(s *Scheduler) { s.verbose = v }
}

// New creates a scheduler with the given period.
func New(period time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		clk:     clock.New(),
		msg:     log.New(os.Stdout, "sched: ", 0),
		period:  period,
		quantum: time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Period returns the cycle period.
func (s *Scheduler) Period() time.Duration { return s.period }

// Start sets the first deadline one period from now.
func (s *Scheduler) Start() {
	s.deadline = s.clk.Now().Add(s.period)
	s.overruns = 0
	s.behind = 0
}

// Deadline returns the current virtual deadline.
func (s *Scheduler) Deadline() time.Time { return s.deadline }

// Wait blocks until the current deadline, then advances it by one period.
// It reports whether the deadline had already passed.
func (s *Scheduler) Wait() bool {
	now := s.clk.Now()
	late := now.After(s.deadline)
	if late {
		s.overruns++
		s.behind = now.Sub(s.deadline)
		if s.verbose {
			s.msg.Printf("overrun: %v behind (overruns=%d)", s.behind, s.overruns)
		}
	} else {
		s.behind = 0
		for left := s.deadline.Sub(now); left > 0; left = s.deadline.Sub(s.clk.Now()) {
			if left > s.quantum {
				s.clk.Sleep(s.quantum)
			}
		}
	}
	s.deadline = s.deadline.Add(s.period)
	return late
}

// Overruns returns the number of cycles that ended past their deadline.
func (s *Scheduler) Overruns() int64 { return s.overruns }

// Behind returns the lag of the last overrun cycle, or zero.
func (s *Scheduler) Behind() time.Duration { return s.behind }
