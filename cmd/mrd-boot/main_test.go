// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestRun(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skipf("no sleep command: %+v", err)
	}

	for _, tc := range []struct {
		name string
		args []string
		mon  bool
		stop bool
	}{
		{
			name: "simple",
			args: []string{"0.1", "0.2", "0.1"},
		},
		{
			name: "simple-pmon",
			args: []string{"0.5", "0.5"},
			mon:  true,
		},
		{
			name: "simple-stop",
			args: []string{"10", "10"},
			stop: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "logs")

			cmds := make([]*exec.Cmd, len(tc.args))
			for i, arg := range tc.args {
				cmds[i] = exec.Command("sleep", arg)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tc.stop {
				go func() {
					time.Sleep(200 * time.Millisecond)
					cancel()
				}()
			}

			start := time.Now()
			err := run(ctx, tc.mon, 100*time.Millisecond, cmds, dir)
			if err != nil {
				t.Fatalf("could not run processes: %+v", err)
			}
			if tc.stop && time.Since(start) > 5*time.Second {
				t.Fatalf("processes were not stopped")
			}

			if _, err := os.Stat(filepath.Join(dir, "sleep.log")); err != nil {
				t.Fatalf("missing log file: %+v", err)
			}
		})
	}
}

func TestRunError(t *testing.T) {
	dir := t.TempDir()
	cmds := []*exec.Cmd{exec.Command(filepath.Join(dir, "not-there"))}
	err := run(context.Background(), false, time.Second, cmds, dir)
	if err == nil {
		t.Fatalf("expected an error")
	}
}
