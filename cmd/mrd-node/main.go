// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mrd-node runs the control loop of a robot node.
package main // import "github.com/go-lpc/meridian/cmd/mrd-node"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/go-lpc/meridian"
	"github.com/go-lpc/meridian/alert"
	"github.com/go-lpc/meridian/conddb"
	"github.com/go-lpc/meridian/config"
	"github.com/go-lpc/meridian/gamepad"
	"github.com/go-lpc/meridian/health"
	"github.com/go-lpc/meridian/node"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func main() {
	log.SetPrefix("mrd-node: ")
	log.SetFlags(0)

	var (
		fname = flag.String("cfg", "/etc/meridian/node.yaml", "path to the node configuration file")
		robot = flag.String("robot", "", "robot name in the condition database")
		lock  = flag.Bool("mlock", true, "lock the process memory")
	)

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	err := run(ctx, *fname, *robot, *lock)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

var mlockall = func() error {
	return unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE)
}

func run(ctx context.Context, fname, robot string, lock bool) error {
	vers, _ := meridian.Version()
	log.Printf("meridian %s", vers)

	cfg, err := config.Load(fname)
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}

	if robot != "" {
		cfg.CondDB.Robot = robot
	}
	if cfg.CondDB.Name != "" {
		err = configure(ctx, &cfg)
		if err != nil {
			return err
		}
	}

	if lock {
		err = mlockall()
		if err != nil {
			log.Printf("could not lock memory: %+v", err)
		}
	}

	name := cfg.CondDB.Robot
	if name == "" {
		name, _ = os.Hostname()
	}

	var opts []node.Option
	if cfg.MQTT.Broker != "" {
		pub, err := health.Dial(cfg.MQTT.Broker, cfg.MQTT.Topic, health.WithName(name))
		if err != nil {
			return fmt.Errorf("could not create health publisher: %w", err)
		}
		defer pub.Close()
		opts = append(opts, node.WithReporter(pub, cfg.MQTT.Period))
	}
	if len(cfg.Alert.To) > 0 {
		m := alert.New(alert.AccountFromEnv(), cfg.Alert.To, alert.WithName(name))
		opts = append(opts, node.WithReporter(m, cfg.Alert.Period))
	}

	grp, ctx := errgroup.WithContext(ctx)
	if cfg.Gamepad.Mounted {
		js, err := gamepad.Open(cfg.Gamepad.Device)
		if err != nil {
			return fmt.Errorf("could not open gamepad: %w", err)
		}
		defer js.Close()
		opts = append(opts, node.WithGamepadInput(js))
		grp.Go(func() error { return js.Run(ctx) })
	}

	n, err := node.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("could not create node: %w", err)
	}

	grp.Go(func() error { return n.Run(ctx) })

	err = grp.Wait()
	if err != nil {
		_ = n.Close()
		return fmt.Errorf("could not run node: %w", err)
	}

	err = n.Close()
	if err != nil {
		return fmt.Errorf("could not close node: %w", err)
	}
	return nil
}

func configure(ctx context.Context, cfg *config.Config) error {
	db, err := conddb.Open(cfg.CondDB.Name)
	if err != nil {
		return fmt.Errorf("could not open condition db: %w", err)
	}
	defer db.Close()

	err = db.Configure(ctx, cfg)
	if err != nil {
		return fmt.Errorf("could not retrieve units tables: %w", err)
	}
	log.Printf("robot %q: %d+%d units mounted",
		cfg.CondDB.Robot,
		cfg.Actuators.Left.Mounted(), cfg.Actuators.Right.Mounted(),
	)
	return nil
}
