// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mrd-host is an interactive console crafting frames for a robot
// node and displaying the telemetry it sends back.
//
// Usage:
//
//	$> mrd-host -addr 192.168.1.20:22224 -listen :22222
//	meridian> run
//	meridian> set L03 45
//	meridian> show
package main // import "github.com/go-lpc/meridian/cmd/mrd-host"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-lpc/meridian/actuator"
	"github.com/go-lpc/meridian/command"
	"github.com/go-lpc/meridian/frame"
	"github.com/go-lpc/meridian/seq"
	"github.com/peterh/liner"
)

func main() {
	log.SetPrefix("mrd-host: ")
	log.SetFlags(0)

	var (
		addr   = flag.String("addr", "127.0.0.1:22224", "[addr]:port of the robot node")
		listen = flag.String("listen", ":22222", "[addr]:port to receive telemetry on")
		step   = flag.Int("seq-step", 1, "sequence increment per frame")
	)

	flag.Parse()

	h, err := newHost(*listen, *addr, *step, os.Stdout)
	if err != nil {
		log.Fatalf("could not create host: %+v", err)
	}
	defer h.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.recv(ctx)

	err = console(h)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

var cmds = []string{
	"run", "off", "recenter", "clear",
	"set", "release", "send",
	"show", "stats", "help", "quit",
}

func console(h *host) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(func(line string) []string {
		var out []string
		for _, c := range cmds {
			if strings.HasPrefix(c, strings.ToLower(line)) {
				out = append(out, c)
			}
		}
		return out
	})

	hist := filepath.Join(os.TempDir(), ".mrd-host.history")
	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("meridian> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		quit, err := h.exec(line)
		if err != nil {
			fmt.Fprintf(h.out, "error: %+v\n", err)
		}
		if quit {
			return nil
		}
	}
}

type host struct {
	conn *net.UDPConn
	node *net.UDPAddr
	out  io.Writer

	sq *seq.Tracker
	tx frame.Frame

	mu   sync.Mutex
	rx   frame.Frame
	nrx  int
	nbad int
	ntx  int
}

func newHost(local, remote string, step int, out io.Writer) (*host, error) {
	laddr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, fmt.Errorf("could not resolve local address %q: %w", local, err)
	}
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, fmt.Errorf("could not resolve node address %q: %w", remote, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("could not listen on %q: %w", local, err)
	}
	h := &host{
		conn: conn,
		node: raddr,
		out:  out,
		sq:   seq.New(step),
	}
	h.tx[frame.Master] = command.CodeRun
	return h, nil
}

func (h *host) close() {
	_ = h.conn.Close()
}

// exec runs a console command. It reports whether the console should quit.
func (h *host) exec(line string) (bool, error) {
	args := strings.Fields(line)
	switch strings.ToLower(args[0]) {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintf(h.out, "commands: %s\n", strings.Join(cmds, ", "))
		return false, nil
	case "run":
		return false, h.master(command.Run{})
	case "off":
		return false, h.master(command.Disengage{})
	case "recenter":
		return false, h.master(command.Recenter{})
	case "clear":
		return false, h.master(command.ClearFault{})
	case "send":
		return false, h.send()
	case "set":
		if len(args) != 3 {
			return false, fmt.Errorf("usage: set <unit> <degrees>")
		}
		side, i, err := parseUnit(args[1])
		if err != nil {
			return false, err
		}
		deg, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return false, fmt.Errorf("could not parse angle %q: %w", args[2], err)
		}
		h.tx[frame.CmdSlot(side.Base(), i)] = actuator.PositionCmd
		h.tx[frame.ValueSlot(side.Base(), i)] = frame.FloatToShort(deg)
		return false, h.send()
	case "release":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: release <unit>")
		}
		side, i, err := parseUnit(args[1])
		if err != nil {
			return false, err
		}
		h.tx[frame.CmdSlot(side.Base(), i)] = 0
		return false, h.send()
	case "show":
		h.show()
		return false, nil
	case "stats":
		h.mu.Lock()
		fmt.Fprintf(h.out, "sent: %d, received: %d, corrupted: %d\n", h.ntx, h.nrx, h.nbad)
		h.mu.Unlock()
		return false, nil
	}
	return false, fmt.Errorf("unknown command %q", args[0])
}

func (h *host) master(cmd command.Command) error {
	h.tx[frame.Master] = cmd.Code()
	err := h.send()
	if cmd != (command.Run{}) {
		// one-shot commands fall back to run.
		h.tx[frame.Master] = command.CodeRun
	}
	return err
}

func (h *host) send() error {
	h.tx[frame.Seq] = int16(h.sq.Advance())
	h.tx.Seal()

	var buf [frame.Size]byte
	frame.Encode(buf[:], &h.tx)
	_, err := h.conn.WriteToUDP(buf[:], h.node)
	if err != nil {
		return fmt.Errorf("could not send frame: %w", err)
	}
	h.mu.Lock()
	h.ntx++
	h.mu.Unlock()
	return nil
}

func (h *host) recv(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = h.conn.Close()
	}()

	buf := make([]byte, 2*frame.Size)
	for {
		n, _, err := h.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n != frame.Size {
			continue
		}
		var f frame.Frame
		frame.Decode(&f, buf[:n])

		h.mu.Lock()
		if frame.Verify(&f) {
			h.rx = f
			h.nrx++
		} else {
			h.nbad++
		}
		h.mu.Unlock()
	}
}

func (h *host) show() {
	h.mu.Lock()
	f := h.rx
	h.mu.Unlock()

	o := h.out
	fmt.Fprintf(o, "seq=%d status=%d fault-id=%d flags=0x%04x\n",
		uint16(f[frame.Seq]), f[frame.Status], f.FaultID(), uint16(f[frame.Err])&0xff00,
	)
	fmt.Fprintf(o, "roll=%+.2f pitch=%+.2f yaw=%+.2f temp=%.2f\n",
		frame.ShortToFloat(f[frame.Roll]),
		frame.ShortToFloat(f[frame.Pitch]),
		frame.ShortToFloat(f[frame.Yaw]),
		frame.ShortToFloat(f[frame.Temp]),
	)
	for _, side := range []actuator.Side{actuator.Left, actuator.Right} {
		fmt.Fprintf(o, "%s:", side)
		for i := 0; i < frame.NumUnits; i++ {
			fmt.Fprintf(o, " %+7.2f", frame.ShortToFloat(f[frame.ValueSlot(side.Base(), i)]))
		}
		fmt.Fprintf(o, "\n")
	}
}

// parseUnit parses a unit name such as L03 or R14.
func parseUnit(name string) (actuator.Side, int, error) {
	if len(name) < 2 {
		return 0, 0, fmt.Errorf("invalid unit name %q", name)
	}
	var side actuator.Side
	switch name[0] {
	case 'L', 'l':
		side = actuator.Left
	case 'R', 'r':
		side = actuator.Right
	default:
		return 0, 0, fmt.Errorf("invalid unit side in %q", name)
	}
	i, err := strconv.Atoi(name[1:])
	if err != nil || i < 0 || i >= frame.NumUnits {
		return 0, 0, fmt.Errorf("invalid unit index in %q", name)
	}
	return side, i, nil
}
