// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package storage checks the local storage of the node and records the
// outbound frame stream.
package storage // import "github.com/go-lpc/meridian/storage"

import (
	"bufio"
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/go-lpc/meridian/frame"
)

// Check writes a random 4-digit code into a temporary file of dir, reads it
// back and removes the file.
func Check(dir string) error {
	code := []byte(fmt.Sprintf("%04d", rand.Intn(10000)))

	f, err := os.CreateTemp(dir, "meridian-check-")
	if err != nil {
		return fmt.Errorf("storage: could not create check file in %q: %w", dir, err)
	}
	name := f.Name()
	defer os.Remove(name)

	_, err = f.Write(code)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("storage: could not write check file %q: %w", name, err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("storage: could not close check file %q: %w", name, err)
	}

	got, err := os.ReadFile(name)
	if err != nil {
		return fmt.Errorf("storage: could not read check file %q: %w", name, err)
	}
	if !bytes.Equal(got, code) {
		return fmt.Errorf("storage: check file %q corrupted (got=%q, want=%q)", name, got, code)
	}

	err = os.Remove(name)
	if err != nil {
		return fmt.Errorf("storage: could not remove check file %q: %w", name, err)
	}
	return nil
}

// Recorder appends timestamped frames to a file.
type Recorder struct {
	f   *os.File
	w   *bufio.Writer
	enc *frame.Encoder
	rec frame.Record
	n   int64
}

// Create creates a recording file in dir, named after the current time.
func Create(dir string, now time.Time) (*Recorder, error) {
	name := filepath.Join(dir, "meridian-"+now.UTC().Format("20060102-150405")+".rec")
	f, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("storage: could not create recording file: %w", err)
	}
	w := bufio.NewWriter(f)
	return &Recorder{
		f:   f,
		w:   w,
		enc: frame.NewEncoder(w),
	}, nil
}

// Name returns the name of the recording file.
func (r *Recorder) Name() string { return r.f.Name() }

// Records returns the number of recorded frames.
func (r *Recorder) Records() int64 { return r.n }

// Record appends f, stamped with t.
func (r *Recorder) Record(t time.Time, f *frame.Frame) error {
	r.rec.Time = t.UnixNano()
	r.rec.Frame = *f
	err := r.enc.Encode(&r.rec)
	if err != nil {
		return fmt.Errorf("storage: could not record frame: %w", err)
	}
	r.n++
	return nil
}

// Close flushes and closes the recording file.
func (r *Recorder) Close() error {
	err := r.w.Flush()
	if err != nil {
		_ = r.f.Close()
		return fmt.Errorf("storage: could not flush recording file: %w", err)
	}
	err = r.f.Close()
	if err != nil {
		return fmt.Errorf("storage: could not close recording file: %w", err)
	}
	return nil
}
