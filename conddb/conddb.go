// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb gives access to the condition database holding the
// robots definitions and the mount tables of their actuator units.
package conddb // import "github.com/go-lpc/meridian/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/go-lpc/meridian/actuator"
	"github.com/go-lpc/meridian/config"
	"github.com/go-lpc/meridian/frame"
	"github.com/go-sql-driver/mysql"
)

const timeout = 5 * time.Second

var (
	drvName = "mysql"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// DB exposes convenience methods to retrieve the robots and units
// tables from the condition database.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the condition database dbname.
// Credentials are read from the CONDDB_USER, CONDDB_PASSWORD and
// CONDDB_HOST environment variables.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	cfg := mysql.NewConfig()
	cfg.User = env("CONDDB_USER", "meridian")
	cfg.Passwd = os.Getenv("CONDDB_PASSWORD")
	cfg.Net = "tcp"
	cfg.Addr = env("CONDDB_HOST", "localhost:3306")
	cfg.DBName = db
	cfg.ParseTime = true
	cfg.Timeout = timeout
	return cfg.FormatDSN()
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// LastRobot returns the name of the most recently registered robot.
func (db *DB) LastRobot(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name := ""
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT name FROM robots ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return name, fmt.Errorf("conddb: could not query last robot: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&name)
		if err != nil {
			return name, fmt.Errorf("conddb: could not get robot name: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return name, fmt.Errorf("conddb: could not scan db for last robot: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return name, fmt.Errorf("conddb: context error while retrieving last robot: %w", err)
	}

	if name == "" {
		return name, fmt.Errorf("conddb: no robot in %q db", db.name)
	}

	return name, nil
}

// Unit is a row of the units table.
type Unit struct {
	Side    actuator.Side
	Index   int
	Mounted bool
	Sign    int
}

// Units returns the units table of the named robot.
func (db *DB) Units(ctx context.Context, robot string) ([]Unit, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		"SELECT side, idx, mounted, sign FROM units WHERE robot=? ORDER BY side, idx",
		robot,
	)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not run units query: %w", err)
	}
	defer rows.Close()

	var units []Unit
	for i := 0; rows.Next(); i++ {
		var (
			side string
			unit Unit
		)
		err = rows.Scan(&side, &unit.Index, &unit.Mounted, &unit.Sign)
		if err != nil {
			return nil, fmt.Errorf("conddb: could not scan row %d of units: %w", i, err)
		}
		switch side {
		case "L":
			unit.Side = actuator.Left
		case "R":
			unit.Side = actuator.Right
		default:
			return nil, fmt.Errorf("conddb: invalid side %q in row %d of units", side, i)
		}
		if unit.Index < 0 || unit.Index >= frame.NumUnits {
			return nil, fmt.Errorf("conddb: invalid unit index %d in row %d of units", unit.Index, i)
		}
		if unit.Sign != -1 && unit.Sign != +1 {
			return nil, fmt.Errorf("conddb: invalid unit sign %d in row %d of units", unit.Sign, i)
		}
		units = append(units, unit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conddb: could not scan db for units: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("conddb: context error while retrieving units: %w", err)
	}

	if len(units) == 0 {
		return nil, fmt.Errorf("conddb: no units for robot %q", robot)
	}

	return units, nil
}

// Configure replaces the units tables of cfg with the ones of the
// robot named in cfg.CondDB, or of the last robot if none is named.
func (db *DB) Configure(ctx context.Context, cfg *config.Config) error {
	robot := cfg.CondDB.Robot
	if robot == "" {
		v, err := db.LastRobot(ctx)
		if err != nil {
			return err
		}
		robot = v
	}

	units, err := db.Units(ctx, robot)
	if err != nil {
		return err
	}

	var (
		left  = make([]config.Unit, frame.NumUnits)
		right = make([]config.Unit, frame.NumUnits)
	)
	for _, u := range units {
		tbl := left
		if u.Side == actuator.Right {
			tbl = right
		}
		tbl[u.Index] = config.Unit{Mounted: u.Mounted, Sign: u.Sign}
	}
	cfg.CondDB.Robot = robot
	cfg.Actuators.Left.Units = left
	cfg.Actuators.Right.Units = right
	return nil
}
