// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package node runs the fixed-rate control loop of a robot node: it bridges
// the host link, the two actuator banks and the inertial sensor.
package node // import "github.com/go-lpc/meridian/node"

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"github.com/go-lpc/meridian/actuator"
	"github.com/go-lpc/meridian/actuator/dxl"
	"github.com/go-lpc/meridian/command"
	"github.com/go-lpc/meridian/config"
	"github.com/go-lpc/meridian/frame"
	"github.com/go-lpc/meridian/imu"
	"github.com/go-lpc/meridian/internal/mmap"
	"github.com/go-lpc/meridian/sched"
	"github.com/go-lpc/meridian/seq"
	"github.com/go-lpc/meridian/storage"
	"github.com/go-lpc/meridian/telemetry"
	"github.com/go-lpc/meridian/transport"
	"go-hep.org/x/hep/hbook"
	"golang.org/x/sync/errgroup"
)

type link interface {
	Run(ctx context.Context) error
	Poll(dst []byte) bool
	Send(p []byte)
	Stats() transport.Stats
	Close() error
}

type mirror interface {
	io.WriterAt
	io.Closer
}

var (
	openBus    = openBusImpl
	openIMU    = openIMUImpl
	openLink   = openLinkImpl
	openMirror = openMirrorImpl
)

func openBusImpl(port string, baud int, msg *log.Logger) (actuator.Bus, io.Closer, error) {
	bus, err := dxl.Open(port, baud, dxl.WithLogger(msg))
	if err != nil {
		return nil, nil, err
	}
	return bus, bus, nil
}

func openIMUImpl(bus int, addr uint8) (imu.Source, io.Closer, error) {
	dev, err := imu.OpenBNO055(bus, addr)
	if err != nil {
		return nil, nil, err
	}
	return dev, dev, nil
}

func openLinkImpl(local, peer string, send bool, msg *log.Logger) (link, error) {
	l, err := transport.Listen(local, peer, send, transport.WithLogger(msg))
	if err != nil {
		return nil, err
	}
	return l, nil
}

func openMirrorImpl(path string) (mirror, error) {
	h, err := mmap.Create(path, frame.Size)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Reporter publishes the status of the node.
type Reporter interface {
	Report(ctx context.Context, st Status) error
}

type reporter struct {
	r      Reporter
	period time.Duration
}

// Node is a control node.
type Node struct {
	cfg config.Config
	msg *log.Logger

	link  link
	eng   *Engine
	sch   *sched.Scheduler
	smp   *imu.Sampler
	mir   mirror
	rec   *storage.Recorder
	srv   *server
	reps  []reporter
	pad   Gamepad
	close []io.Closer

	mu   sync.RWMutex
	st   Status
	hist *hbook.H1D
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the logger of the node and of its components.
func WithLogger(msg *log.Logger) Option {
	return func(n *Node) { n.msg = msg }
}

// WithReporter runs r with the given period.
func WithReporter(r Reporter, period time.Duration) Option {
	return func(n *Node) {
		n.reps = append(n.reps, reporter{r: r, period: period})
	}
}

// WithGamepadInput sets the gamepad collaborator, used when the
// configuration mounts a gamepad.
func WithGamepadInput(pad Gamepad) Option {
	return func(n *Node) { n.pad = pad }
}

// New creates a node from its configuration, opening the actuator buses,
// the inertial sensor, the host link and the optional mirror and recorder.
func New(cfg config.Config, opts ...Option) (*Node, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("node: invalid configuration: %w", err)
	}

	n := &Node{
		cfg: cfg,
		msg: log.New(os.Stdout, "node: ", 0),
	}
	for _, opt := range opts {
		opt(n)
	}

	err = n.init()
	if err != nil {
		_ = n.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) init() error {
	cfg := n.cfg

	left, err := n.newBank(actuator.Left, cfg.Actuators.Left)
	if err != nil {
		return err
	}
	ropts := []actuator.Option{}
	if cfg.Actuators.LegacyRightWriteBack {
		n.msg.Printf("right bank read-backs are stored into the left bank")
		ropts = append(ropts, actuator.WithWriteBack(left))
	}
	right, err := n.newBank(actuator.Right, cfg.Actuators.Right, ropts...)
	if err != nil {
		return err
	}

	var snap *imu.Snapshot
	if cfg.IMU.Mounted {
		src, closer, err := openIMU(cfg.IMU.Bus, cfg.IMU.Addr)
		if err != nil {
			return fmt.Errorf("node: could not open imu: %w", err)
		}
		n.close = append(n.close, closer)
		snap = new(imu.Snapshot)
		n.smp = imu.NewSampler(src, snap,
			imu.WithPeriod(cfg.IMU.Period),
			imu.WithLogger(n.msg),
		)
	}

	var (
		sq  = seq.New(cfg.SeqStep)
		agg = telemetry.New(snap)
		it  = command.New(left, right, agg,
			command.WithLogger(n.msg),
			command.WithDisengage(cfg.Disengage.Reps, cfg.Disengage.Gap, cfg.Disengage.Settle),
		)
		eopts = []EngineOption{
			WithEngineLogger(n.msg),
			WithTracing(cfg.Monitor.Flow, cfg.Monitor.Seq),
		}
	)
	if cfg.Gamepad.Mounted {
		if n.pad == nil {
			return fmt.Errorf("node: gamepad mounted but no gamepad input")
		}
		eopts = append(eopts, WithGamepad(n.pad))
	}
	n.eng = NewEngine(left, right, sq, agg, it, eopts...)

	n.sch = sched.New(cfg.Period,
		sched.WithLogger(n.msg),
		sched.WithVerbose(cfg.Monitor.Overrun),
	)
	n.hist = hbook.NewH1D(100, 0, 2*ms(cfg.Period))
	n.st.Threshold = cfg.Threshold

	n.link, err = openLink(cfg.UDP.Listen, cfg.UDP.Peer, cfg.UDP.Send, n.msg)
	if err != nil {
		return fmt.Errorf("node: could not open host link: %w", err)
	}

	if cfg.Shm != "" {
		n.mir, err = openMirror(cfg.Shm)
		if err != nil {
			return fmt.Errorf("node: could not open frame mirror: %w", err)
		}
	}

	if cfg.Storage.Mounted {
		err = storage.Check(cfg.Storage.Dir)
		if err != nil {
			return fmt.Errorf("node: storage self-test failed: %w", err)
		}
		n.msg.Printf("storage %q: ok", cfg.Storage.Dir)
		if cfg.Storage.Record {
			n.rec, err = storage.Create(cfg.Storage.Dir, time.Now())
			if err != nil {
				return fmt.Errorf("node: could not create recorder: %w", err)
			}
			n.msg.Printf("recording frames into %q", n.rec.Name())
		}
	}

	if cfg.Control != "" {
		n.srv, err = newServer(cfg.Control, n)
		if err != nil {
			return fmt.Errorf("node: could not create control server: %w", err)
		}
	}

	return nil
}

func (n *Node) newBank(side actuator.Side, cfg config.Bank, opts ...actuator.Option) (*actuator.Bank, error) {
	var bus actuator.Bus = nopBus{}
	if cfg.Mounted() > 0 {
		b, closer, err := openBus(cfg.Port, cfg.Baud, n.msg)
		if err != nil {
			return nil, fmt.Errorf("node: could not open %s bus: %w", side, err)
		}
		n.close = append(n.close, closer)
		bus = b
	}

	opts = append([]actuator.Option{
		actuator.WithLogger(n.msg),
		actuator.WithTimeout(n.cfg.Actuators.Timeout),
		actuator.WithThreshold(n.cfg.Threshold),
		actuator.WithVerbose(n.cfg.Monitor.Faults),
	}, opts...)
	for i, u := range cfg.Units {
		opts = append(opts, actuator.WithMount(i, u.Mounted, u.Sign))
	}
	return actuator.NewBank(side, bus, opts...), nil
}

// Close releases the resources of the node.
func (n *Node) Close() error {
	var err error
	if n.rec != nil {
		if e := n.rec.Close(); e != nil && err == nil {
			err = e
		}
	}
	if n.mir != nil {
		if e := n.mir.Close(); e != nil && err == nil {
			err = e
		}
	}
	if n.link != nil {
		_ = n.link.Close()
	}
	if n.srv != nil {
		n.srv.close()
	}
	for _, c := range n.close {
		if e := c.Close(); e != nil && err == nil {
			err = e
		}
	}
	if err != nil {
		return fmt.Errorf("node: could not close node: %w", err)
	}
	return nil
}

// Run enables the actuators and runs the control loop until ctx is done.
// The host link receiver, the sensor sampler, the control server and the
// reporters run concurrently with the loop.
func (n *Node) Run(ctx context.Context) error {
	n.setup()

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return n.link.Run(ctx) })
	if n.smp != nil {
		grp.Go(func() error { return n.smp.Run(ctx) })
	}
	if n.srv != nil {
		grp.Go(func() error { return n.srv.serve(ctx) })
	}
	for _, r := range n.reps {
		r := r
		grp.Go(func() error { return n.report(ctx, r) })
	}
	grp.Go(func() error { return n.loop(ctx) })

	return grp.Wait()
}

// setup enables the torque of every mounted unit in position mode.
func (n *Node) setup() {
	for _, b := range n.eng.banks {
		if b.Mounted() == 0 {
			continue
		}
		err := b.Setup()
		if err != nil {
			n.msg.Printf("could not setup %s bank: %+v", b.Side(), err)
			continue
		}
		n.msg.Printf("%s bank: %d units enabled", b.Side(), b.Mounted())
	}
}

func (n *Node) loop(ctx context.Context) error {
	var (
		in  = make([]byte, frame.Size)
		out = make([]byte, frame.Size)
	)

	n.eng.Start(out)
	n.link.Send(out)

	n.sch.Start()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		beg := time.Now()
		fresh := n.link.Poll(in)
		n.eng.Cycle(in, fresh, out)
		n.link.Send(out)
		n.hooks(beg, out)
		n.update(time.Since(beg))

		n.sch.Wait()
	}
}

func (n *Node) hooks(now time.Time, out []byte) {
	if n.mir != nil {
		_, err := n.mir.WriteAt(out, 0)
		if err != nil {
			n.msg.Printf("could not mirror frame: %+v", err)
		}
	}
	if n.rec != nil {
		f := n.eng.Outbound()
		err := n.rec.Record(now, &f)
		if err != nil {
			n.msg.Printf("could not record frame: %+v", err)
			_ = n.rec.Close()
			n.rec = nil
		}
	}
}

func (n *Node) update(dt time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()

	v := ms(dt)
	n.hist.Fill(v, 1)
	if v > n.st.Cycle.Max {
		n.st.Cycle.Max = v
	}

	out := n.eng.Outbound()
	n.st.Counters = n.eng.Counters()
	n.st.Overruns = n.sch.Overruns()
	n.st.Behind = n.sch.Behind()
	n.st.FaultID = out.FaultID()
	n.eng.Faults(&n.st.Faults)
}

func (n *Node) report(ctx context.Context, r reporter) error {
	tck := time.NewTicker(r.period)
	defer tck.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tck.C:
			err := r.r.Report(ctx, n.Status())
			if err != nil {
				n.msg.Printf("could not report status: %+v", err)
			}
		}
	}
}

// Status returns a snapshot of the node status.
func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()

	st := n.st
	st.Link = n.link.Stats()
	st.Cycle.Mean = finite(n.hist.XMean())
	st.Cycle.StdDev = finite(n.hist.XStdDev())
	return st
}

// Hist returns the cycle time distribution, in milliseconds.
func (n *Node) Hist() []Bin {
	n.mu.RLock()
	defer n.mu.RUnlock()

	bins := make([]Bin, len(n.hist.Binning.Bins))
	for i, b := range n.hist.Binning.Bins {
		bins[i] = Bin{Min: b.XMin(), Max: b.XMax(), N: b.Entries()}
	}
	return bins
}

// Bin is a bin of the cycle time distribution.
type Bin struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	N   int64   `json:"n"`
}

// Status is the status of a node.
type Status struct {
	Counters

	Overruns  int64                  `json:"overruns"`
	Behind    time.Duration          `json:"behind"`
	FaultID   uint8                  `json:"fault_id"`
	Faults    [2][frame.NumUnits]int `json:"faults"`
	Threshold int                    `json:"threshold"`
	Link      transport.Stats        `json:"link"`
	Cycle     CycleStats             `json:"cycle"`
}

// CycleStats summarizes the cycle processing times, in milliseconds.
type CycleStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Max    float64 `json:"max"`
}

// Lost returns the names of the units whose fault counter reached the
// threshold.
func (st Status) Lost() []string {
	var lost []string
	for j, side := range []actuator.Side{actuator.Left, actuator.Right} {
		for i, n := range st.Faults[j] {
			if st.Threshold > 0 && n >= st.Threshold {
				lost = append(lost, fmt.Sprintf("%s%02d", side, i))
			}
		}
	}
	return lost
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// nopBus serves banks without any mounted unit.
type nopBus struct{}

func (nopBus) ReadPosition(uint8, time.Duration) (int32, error) { return 0, actuator.ErrTimeout }
func (nopBus) WritePosition(uint8, int32, time.Duration) error  { return actuator.ErrTimeout }
func (nopBus) SetTorque(uint8, bool) error                      { return actuator.ErrTimeout }
