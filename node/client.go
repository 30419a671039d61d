// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client queries the control server of a running node.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

// Dial connects to the control server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("node: could not dial control server %q: %w", addr, err)
	}
	return &Client{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}, nil
}

// Close closes the connection to the control server.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(name string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.enc.Encode(map[string]string{"name": name})
	if err != nil {
		return fmt.Errorf("node: could not send %q request: %w", name, err)
	}

	rep := struct {
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}{}
	err = c.dec.Decode(&rep)
	if err != nil {
		return fmt.Errorf("node: could not decode %q reply: %w", name, err)
	}
	if rep.Msg != "ok" {
		return fmt.Errorf("node: %q request failed: %w", name, errors.New(rep.Msg))
	}

	err = json.Unmarshal(rep.Data, data)
	if err != nil {
		return fmt.Errorf("node: could not decode %q reply data: %w", name, err)
	}
	return nil
}

// Status returns the status of the node.
func (c *Client) Status() (Status, error) {
	var st Status
	err := c.send("status", &st)
	return st, err
}

// Hist returns the cycle time distribution of the node.
func (c *Client) Hist() ([]Bin, error) {
	var bins []Bin
	err := c.send("hist", &bins)
	return bins, err
}

// Version returns the version of the node binary.
func (c *Client) Version() (string, error) {
	var v struct {
		Version string `json:"version"`
	}
	err := c.send("version", &v)
	return v.Version, err
}
