// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package imu samples an inertial measurement unit at its own cadence and
// hands the latest sample over to the control loop.
package imu // import "github.com/go-lpc/meridian/imu"

import (
	"context"
	"log"
	"os"
	"sync/atomic"
	"time"
)

// Sample is one reading of the inertial sensor.
// Angles are in degrees, yaw is the raw heading of the sensor.
type Sample struct {
	Acc  [3]float64 // m/s^2
	Gyro [3]float64 // deg/s
	Mag  [3]float64 // uT
	Temp float64    // deg C

	Roll  float64
	Pitch float64
	Yaw   float64
}

// Source produces inertial samples.
type Source interface {
	Sample() (Sample, error)
}

// Snapshot holds the latest published sample.
// It has one writer and any number of readers; a reader never observes a
// partially written sample.
type Snapshot struct {
	p atomic.Pointer[Sample]
}

// Store publishes a copy of s.
func (snap *Snapshot) Store(s Sample) {
	snap.p.Store(&s)
}

// Load returns the latest published sample, and whether one was ever
// published.
func (snap *Snapshot) Load() (Sample, bool) {
	p := snap.p.Load()
	if p == nil {
		return Sample{}, false
	}
	return *p, true
}

// Sampler polls a source at a fixed period and publishes into a snapshot.
type Sampler struct {
	src    Source
	snap   *Snapshot
	period time.Duration
	msg    *log.Logger

	nerrs int64
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithLogger sets the logger of the sampler.
func WithLogger(msg *log.Logger) SamplerOption {
	return func(s *Sampler) { s.msg = msg }
}

// WithPeriod sets the polling period of the sampler.
func WithPeriod(d time.Duration) SamplerOption {
	return func(s *Sampler) { s.period = d }
}

// NewSampler creates a sampler publishing samples of src into snap.
func NewSampler(src Source, snap *Snapshot, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		src:    src,
		snap:   snap,
		period: 10 * time.Millisecond,
		msg:    log.New(os.Stdout, "imu: ", 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Errors returns the number of failed reads.
func (s *Sampler) Errors() int64 { return atomic.LoadInt64(&s.nerrs) }

// Run polls the source until ctx is done.
// Failed reads keep the previous sample published.
func (s *Sampler) Run(ctx context.Context) error {
	tck := time.NewTicker(s.period)
	defer tck.Stop()

	s.poll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tck.C:
			s.poll()
		}
	}
}

func (s *Sampler) poll() {
	smp, err := s.src.Sample()
	if err != nil {
		if n := atomic.AddInt64(&s.nerrs, 1); n == 1 || n%1000 == 0 {
			s.msg.Printf("could not read sample (errors=%d): %+v", n, err)
		}
		return
	}
	s.snap.Store(smp)
}
