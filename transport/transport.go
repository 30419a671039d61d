// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport exchanges fixed-size frames with the host over UDP.
package transport // import "github.com/go-lpc/meridian/transport"

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"

	"github.com/go-lpc/meridian/frame"
)

// Link is a unicast datagram link to a single peer.
//
// Received datagrams land in a single-slot inbox: a datagram not polled
// before the next one arrives is overwritten.
type Link struct {
	conn *net.UDPConn
	peer *net.UDPAddr
	send bool
	msg  *log.Logger

	mu    sync.Mutex
	inbox [frame.Size]byte
	fresh bool
	stats Stats
}

// Stats are the counters of a link.
type Stats struct {
	Recv        int64 // datagrams of the expected size
	Dropped     int64 // datagrams of the wrong size
	Overwritten int64 // datagrams replaced before being polled
	Sent        int64
	SendErrs    int64
}

// Option configures a Link.
type Option func(*Link)

// WithLogger sets the logger of the link.
func WithLogger(msg *log.Logger) Option {
	return func(l *Link) { l.msg = msg }
}

// Listen binds the local address and resolves the peer address.
// Outbound datagrams are only sent when send is true.
func Listen(local, peer string, send bool, opts ...Option) (*Link, error) {
	laddr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, fmt.Errorf("transport: could not resolve local address %q: %w", local, err)
	}
	raddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, fmt.Errorf("transport: could not resolve peer address %q: %w", peer, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: could not listen on %q: %w", local, err)
	}

	l := &Link{
		conn: conn,
		peer: raddr,
		send: send,
		msg:  log.New(os.Stdout, "transport: ", 0),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LocalAddr returns the bound local address.
func (l *Link) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// Run receives datagrams until ctx is done or the link is closed.
func (l *Link) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.conn.Close()
	}()

	buf := make([]byte, frame.Size+1)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("transport: could not receive datagram: %w", err)
		}
		l.store(buf[:n])
	}
}

func (l *Link) store(p []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(p) != frame.Size {
		l.stats.Dropped++
		return
	}
	if l.fresh {
		l.stats.Overwritten++
	}
	copy(l.inbox[:], p)
	l.fresh = true
	l.stats.Recv++
}

// Poll copies the latest unpolled datagram into dst.
// It never blocks and reports whether a datagram was available.
func (l *Link) Poll(dst []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.fresh {
		return false
	}
	copy(dst, l.inbox[:])
	l.fresh = false
	return true
}

// Send sends p to the peer, if sending is enabled.
// Failures are counted, not returned: the loop never stops on transport
// errors.
func (l *Link) Send(p []byte) {
	if !l.send {
		return
	}
	_, err := l.conn.WriteToUDP(p, l.peer)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.stats.SendErrs++
		if l.stats.SendErrs == 1 {
			l.msg.Printf("could not send to %v: %+v", l.peer, err)
		}
		return
	}
	l.stats.Sent++
}

// Stats returns a copy of the link counters.
func (l *Link) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Close closes the link.
func (l *Link) Close() error {
	return l.conn.Close()
}
