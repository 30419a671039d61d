// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb provides an in-memory database/sql driver serving
// canned rows and recording the queries it receives.
package fakedb // import "github.com/go-lpc/meridian/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
)

// Query is a query received by the driver.
type Query struct {
	SQL  string
	Args []driver.Value
}

// Session describes the rows served by the driver during a Run, and
// collects the queries it receives.
type Session struct {
	Rows    Rows  // rows returned by every query
	Err     error // error returned by every query, if any
	Queries []Query
}

var state struct {
	mu   sync.Mutex
	sess *Session
}

// Run runs f while the driver serves sess.
// Runs are serialized.
func Run(ctx context.Context, sess *Session, f func(ctx context.Context) error) error {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.sess = sess
	defer func() { state.sess = nil }()

	return f(ctx)
}

func init() {
	sql.Register("fakedb", &Driver{})
}

// Driver is the fakedb driver.
type Driver struct{}

// Open returns a new connection to the database.
func (drv *Driver) Open(name string) (driver.Conn, error) {
	return &Conn{}, nil
}

// Conn is a fakedb connection.
type Conn struct{}

// Prepare returns a prepared statement, bound to this connection.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{query: query}, nil
}

func (c *Conn) Close() error {
	return nil
}

func (c *Conn) Begin() (driver.Tx, error) {
	panic("not implemented")
}

// Stmt is a fakedb statement.
type Stmt struct {
	query string
}

func (stmt *Stmt) Close() error {
	return nil
}

// NumInput returns -1: placeholders are not checked.
func (stmt *Stmt) NumInput() int {
	return -1
}

func (stmt *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	panic("not implemented")
}

// Query records the query and returns a copy of the session rows.
func (stmt *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	sess := state.sess
	if sess == nil {
		return &Rows{}, nil
	}
	sess.Queries = append(sess.Queries, Query{SQL: stmt.query, Args: args})
	if sess.Err != nil {
		return nil, sess.Err
	}
	rows := sess.Rows
	return &rows, nil
}

// Rows is a canned result set.
type Rows struct {
	Names  []string
	Values [][]driver.Value
}

func (rows *Rows) Columns() []string {
	return rows.Names
}

func (rows *Rows) Close() error {
	return nil
}

// Next populates dest with the next row, or returns io.EOF.
func (rows *Rows) Next(dest []driver.Value) error {
	if len(rows.Values) == 0 {
		return io.EOF
	}
	copy(dest, rows.Values[0])
	rows.Values = rows.Values[1:]
	return nil
}

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*Conn)(nil)
	_ driver.Stmt   = (*Stmt)(nil)
	_ driver.Rows   = (*Rows)(nil)
)
