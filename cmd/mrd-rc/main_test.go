// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-lpc/meridian/node"
)

type fakeNode struct {
	st     node.Status
	closed bool
}

func (n *fakeNode) Status() (node.Status, error) {
	n.st.Cycles += 10
	n.st.Received += 9
	n.st.InboundErrs++
	return n.st, nil
}

func (n *fakeNode) Close() error {
	n.closed = true
	return nil
}

func TestMonitor(t *testing.T) {
	fake := &fakeNode{}
	orig := dial
	defer func() { dial = orig }()
	dial = func(addr string) (statuser, error) {
		if addr != "node:22230" {
			t.Fatalf("invalid address %q", addr)
		}
		return fake, nil
	}

	dev := newMonitor("node:22230")
	dev.freq = time.Millisecond

	err := dev.start()
	if err == nil {
		t.Fatalf("expected an error before init")
	}

	err = dev.init()
	if err != nil {
		t.Fatalf("could not init: %+v", err)
	}
	err = dev.start()
	if err != nil {
		t.Fatalf("could not start: %+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- dev.poll(ctx) }()

	raw := <-dev.data
	<-dev.data
	cancel()
	err = <-done
	if err != nil {
		t.Fatalf("could not poll: %+v", err)
	}

	var st node.Status
	err = json.Unmarshal(raw, &st)
	if err != nil {
		t.Fatalf("could not decode status: %+v", err)
	}
	if got, want := st.Cycles, int64(20); got != want {
		t.Fatalf("invalid cycles: got=%d, want=%d", got, want)
	}

	cycles, errs := dev.stop()
	if cycles < 20 || cycles != 10*errs {
		t.Fatalf("invalid run summary: cycles=%d, errs=%d", cycles, errs)
	}

	dev.reset()
	if !fake.closed {
		t.Fatalf("client not closed")
	}
	if err := dev.sample(); err == nil {
		t.Fatalf("expected an error after reset")
	}
}

func TestMonitorDialError(t *testing.T) {
	orig := dial
	defer func() { dial = orig }()
	errDial := errors.New("no route to host")
	dial = func(string) (statuser, error) { return nil, errDial }

	err := newMonitor("node:22230").init()
	if !errors.Is(err, errDial) {
		t.Fatalf("invalid error: got=%v, want=%v", err, errDial)
	}
}
