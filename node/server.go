// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"

	"github.com/go-lpc/meridian"
)

// server answers JSON requests about a running node.
type server struct {
	ctl  net.Listener
	msg  *log.Logger
	node *Node
}

func newServer(addr string, n *Node) (*server, error) {
	ctl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not create control server on %q: %w", addr, err)
	}

	return &server{
		ctl:  ctl,
		msg:  n.msg,
		node: n,
	}, nil
}

// Addr returns the address of the control server.
func (srv *server) Addr() net.Addr { return srv.ctl.Addr() }

func (srv *server) serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		srv.close()
	}()

	for {
		conn, err := srv.ctl.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("could not accept connection: %w", err)
		}
		go srv.handle(conn)
	}
}

func (srv *server) handle(conn net.Conn) {
	defer conn.Close()

	var (
		dec = json.NewDecoder(conn)
		enc = json.NewEncoder(conn)
	)
	for {
		var req struct {
			Name string `json:"name"`
		}

		err := dec.Decode(&req)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			srv.msg.Printf("could not decode control request: %+v", err)
			srv.reply(enc, nil, err)
			return
		}

		switch strings.ToLower(req.Name) {
		case "status":
			st := srv.node.Status()
			srv.reply(enc, struct {
				Status
				Lost []string `json:"lost"`
			}{st, st.Lost()}, nil)

		case "hist":
			srv.reply(enc, srv.node.Hist(), nil)

		case "version":
			version, sum := meridian.Version()
			srv.reply(enc, map[string]string{"version": version, "sum": sum}, nil)

		default:
			srv.msg.Printf("unknown control request name=%q", req.Name)
			srv.reply(enc, nil, fmt.Errorf("unknown command %q", req.Name))
		}
	}
}

func (srv *server) reply(enc *json.Encoder, data interface{}, err error) {
	rep := struct {
		Msg  string      `json:"msg"`
		Data interface{} `json:"data,omitempty"`
	}{Msg: "ok", Data: data}
	if err != nil {
		rep.Msg = fmt.Sprintf("%+v", err)
	}

	_ = enc.Encode(rep)
}

func (srv *server) close() {
	_ = srv.ctl.Close()
}
