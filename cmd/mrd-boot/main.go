// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mrd-boot (re)starts the meridian processes of a robot node,
// optionally monitoring their CPU and memory usage.
//
// Usage: mrd-boot [OPTIONS] [CMD1 [CMD2 ...]]
//
// Each command is a quoted command line. The default is to start mrd-node.
//
//	$> mrd-boot -pmon -logdir /var/log/meridian "mrd-node -cfg /etc/meridian/node.yaml" mrd-rc
package main // import "github.com/go-lpc/meridian/cmd/mrd-boot"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func main() {
	log.SetPrefix("mrd-boot: ")
	log.SetFlags(0)

	var (
		doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
		doFreq = flag.Duration("freq", 1*time.Second, "pmon frequency")
		dir    = flag.String("logdir", "/var/log/meridian", "directory for the processes logs")
	)

	flag.Parse()

	lines := flag.Args()
	if len(lines) == 0 {
		lines = []string{"mrd-node"}
	}

	cmds := make([]*exec.Cmd, len(lines))
	for i, line := range lines {
		args := strings.Fields(line)
		if len(args) == 0 {
			log.Fatalf("empty command #%d", i)
		}
		cmds[i] = exec.Command(args[0], args[1:]...)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	for _, cmd := range cmds {
		cleanup(filepath.Base(cmd.Path))
	}

	err := run(ctx, *doMon, *doFreq, cmds, *dir)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

// cleanup kills the stale instances of a process.
func cleanup(name string) {
	kill := exec.Command("pkill", "-x", name)
	kill.Stderr = os.Stderr
	kill.Stdout = os.Stdout
	err := kill.Run()
	if err != nil {
		log.Printf("no stale %q process killed: %+v", name, err)
	}
}

func run(ctx context.Context, doMon bool, freq time.Duration, cmds []*exec.Cmd, dir string) error {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return fmt.Errorf("could not create log dir %q: %w", dir, err)
	}

	var grp errgroup.Group
	for _, cmd := range cmds {
		cmd := cmd
		grp.Go(func() error {
			return start(ctx, cmd, dir, doMon, freq)
		})
	}

	err = grp.Wait()
	if err != nil {
		return fmt.Errorf("could not boot node: %w", err)
	}
	return nil
}

func start(ctx context.Context, cmd *exec.Cmd, dir string, doMon bool, freq time.Duration) error {
	name := filepath.Base(cmd.Path)
	out, err := os.Create(filepath.Join(dir, name+".log"))
	if err != nil {
		return fmt.Errorf("could not create output log file for %q: %w", name, err)
	}
	defer out.Close()

	cmd.Stdout = out
	cmd.Stderr = out

	log.Printf("starting %q...", name)
	err = cmd.Start()
	if err != nil {
		return fmt.Errorf("could not start %q: %w", name, err)
	}

	if doMon {
		stop, err := monitor(cmd.Process.Pid, name, dir, freq)
		if err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return err
		}
		defer stop()
	}

	errch := make(chan error, 1)
	go func() {
		errch <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		log.Printf("stopping %q...", name)
		err = cmd.Process.Signal(os.Interrupt)
		if err != nil {
			return fmt.Errorf("could not interrupt %q: %w", name, err)
		}
		select {
		case <-errch:
		case <-time.After(5 * time.Second):
			err = cmd.Process.Kill()
			if err != nil {
				return fmt.Errorf("could not kill %q: %w", name, err)
			}
			<-errch
		}
	case err = <-errch:
		if err != nil {
			return fmt.Errorf("could not run %q: %w", name, err)
		}
	}

	return nil
}

func monitor(pid int, name, dir string, freq time.Duration) (func(), error) {
	p, err := pmon.Monitor(pid)
	if err != nil {
		return nil, fmt.Errorf("could not start monitoring %q (pid=%d): %w", name, pid, err)
	}
	f, err := os.Create(filepath.Join(dir, name+"-pmon.log"))
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file for command %q: %w", name, err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		log.Printf("run pmon %q...", name)
		err := p.Run()
		if err != nil {
			log.Printf("could not monitor %q: %+v", name, err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop monitoring %q: %+v", name, err)
		}
		_ = f.Close()
	}, nil
}
