// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mrd-sql displays the units table of a robot stored in the
// condition database.
package main // import "github.com/go-lpc/meridian/cmd/mrd-sql"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/meridian/conddb"
)

type querier interface {
	LastRobot(ctx context.Context) (string, error)
	Units(ctx context.Context, robot string) ([]conddb.Unit, error)
}

func main() {
	log.SetPrefix("mrd-sql: ")
	log.SetFlags(0)

	var (
		dbname = flag.String("db", "meridian", "name of the condition database")
		robot  = flag.String("robot", "", "robot to inspect (default: last registered)")
	)

	flag.Parse()

	db, err := conddb.Open(*dbname)
	if err != nil {
		log.Fatalf("could not open condition db: %+v", err)
	}
	defer db.Close()

	err = doQuery(os.Stdout, db, *robot)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

func doQuery(w io.Writer, db querier, robot string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if robot == "" {
		v, err := db.LastRobot(ctx)
		if err != nil {
			return fmt.Errorf("could not get last robot: %w", err)
		}
		robot = v
	}
	fmt.Fprintf(w, "robot: %q\n", robot)

	units, err := db.Units(ctx, robot)
	if err != nil {
		return fmt.Errorf("could not get units of robot %q: %w", robot, err)
	}

	mounted := 0
	for _, u := range units {
		if u.Mounted {
			mounted++
		}
		fmt.Fprintf(w, ">>> unit=%s%02d mounted=%v sign=%+d\n", u.Side, u.Index, u.Mounted, u.Sign)
	}
	fmt.Fprintf(w, "units: %d (mounted: %d)\n", len(units), mounted)

	return nil
}
