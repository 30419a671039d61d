// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mrd-rc starts a TDAQ run-control process monitoring a robot node.
//
// During a run, the node status is polled from its control server and
// published on the /status output.
// The address of the control server is read from MERIDIAN_CTL.
package main // import "github.com/go-lpc/meridian/cmd/mrd-rc"

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/meridian/node"
)

func main() {
	cmd := flags.New()

	addr := os.Getenv("MERIDIAN_CTL")
	if addr == "" {
		addr = "127.0.0.1:22230"
	}
	dev := newMonitor(addr)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/status", dev.status)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type statuser interface {
	Status() (node.Status, error)
	Close() error
}

var dial = func(addr string) (statuser, error) {
	return node.Dial(addr)
}

type monitor struct {
	addr string
	freq time.Duration

	mu   sync.Mutex
	cli  statuser
	beg  node.Status
	last node.Status
	n    int
	data chan []byte
}

func newMonitor(addr string) *monitor {
	return &monitor{
		addr: addr,
		freq: 100 * time.Millisecond,
	}
}

func (dev *monitor) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command... (node=%s)", dev.addr)
	return nil
}

func (dev *monitor) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	return dev.init()
}

func (dev *monitor) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	dev.reset()
	return dev.init()
}

func (dev *monitor) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	return dev.start()
}

func (dev *monitor) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	cycles, errs := dev.stop()
	ctx.Msg.Infof("received /stop command... -> n=%d cycles=%d inbound-errors=%d", dev.n, cycles, errs)
	return nil
}

func (dev *monitor) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	dev.reset()
	return nil
}

func (dev *monitor) status(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-dev.data:
		dst.Body = data
	}
	return nil
}

func (dev *monitor) run(ctx tdaq.Context) error {
	return dev.poll(ctx.Ctx)
}

func (dev *monitor) init() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.cli != nil {
		return nil
	}
	cli, err := dial(dev.addr)
	if err != nil {
		return fmt.Errorf("could not connect to node: %w", err)
	}
	dev.cli = cli
	dev.data = make(chan []byte, 1024)
	dev.n = 0
	return nil
}

func (dev *monitor) reset() {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.cli != nil {
		_ = dev.cli.Close()
		dev.cli = nil
	}
	dev.n = 0
}

func (dev *monitor) start() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.cli == nil {
		return fmt.Errorf("node monitor not initialized")
	}
	st, err := dev.cli.Status()
	if err != nil {
		return fmt.Errorf("could not retrieve node status: %w", err)
	}
	dev.beg = st
	dev.last = st
	return nil
}

// stop returns the number of cycles and inbound errors during the run.
func (dev *monitor) stop() (cycles, errs int64) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.last.Cycles - dev.beg.Cycles, dev.last.InboundErrs - dev.beg.InboundErrs
}

func (dev *monitor) poll(ctx context.Context) error {
	tck := time.NewTicker(dev.freq)
	defer tck.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tck.C:
			err := dev.sample()
			if err != nil {
				return err
			}
		}
	}
}

func (dev *monitor) sample() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.cli == nil {
		return fmt.Errorf("node monitor not initialized")
	}
	st, err := dev.cli.Status()
	if err != nil {
		return fmt.Errorf("could not retrieve node status: %w", err)
	}
	dev.last = st

	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("could not encode node status: %w", err)
	}
	select {
	case dev.data <- raw:
		dev.n++
	default:
	}
	return nil
}
