// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package health publishes the status of a node on an MQTT broker.
package health // import "github.com/go-lpc/meridian/health"

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-lpc/meridian/node"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	quiesce        = 250 // ms
)

// Message is the msgpack payload published on each report.
type Message struct {
	ID   string    `msgpack:"id"`
	Node string    `msgpack:"node"`
	Seq  uint64    `msgpack:"seq"`
	Time time.Time `msgpack:"time"`

	Cycles      int64    `msgpack:"cycles"`
	Received    int64    `msgpack:"received"`
	InboundErrs int64    `msgpack:"inbound_errs"`
	SeqSkips    int64    `msgpack:"seq_skips"`
	Overruns    int64    `msgpack:"overruns"`
	FaultID     uint8    `msgpack:"fault_id"`
	Lost        []string `msgpack:"lost"`
	CycleMean   float64  `msgpack:"cycle_mean"`
	CycleMax    float64  `msgpack:"cycle_max"`
}

// Decode unmarshals a health message.
func Decode(p []byte) (Message, error) {
	var msg Message
	err := msgpack.Unmarshal(p, &msg)
	if err != nil {
		return msg, fmt.Errorf("health: could not decode message: %w", err)
	}
	return msg, nil
}

type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

var mqttConnect = mqttConnectImpl

func mqttConnectImpl(opts *mqtt.ClientOptions) (client, error) {
	cli := mqtt.NewClient(opts)
	tok := cli.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return cli, nil
}

// Publisher publishes node status messages.
type Publisher struct {
	id    uuid.UUID
	name  string
	topic string
	msg   *log.Logger
	cli   client
	seq   uint64
	now   func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger of the publisher.
func WithLogger(msg *log.Logger) Option {
	return func(p *Publisher) { p.msg = msg }
}

// WithName sets the node name carried by the messages.
func WithName(name string) Option {
	return func(p *Publisher) { p.name = name }
}

// Dial connects to the MQTT broker at addr and returns a publisher for
// the given topic. The tcp:// scheme may be omitted from addr.
func Dial(addr, topic string, opts ...Option) (*Publisher, error) {
	p := &Publisher{
		id:    uuid.New(),
		name:  "meridian",
		topic: topic,
		msg:   log.New(os.Stdout, "health: ", 0),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	o := mqtt.NewClientOptions()
	if !strings.Contains(addr, "://") {
		addr = "tcp://" + addr
	}
	o.AddBroker(addr)
	o.SetClientID(p.name + "-" + p.id.String())
	o.SetAutoReconnect(true)
	o.SetConnectRetryInterval(2 * time.Second)
	o.SetMaxReconnectInterval(30 * time.Second)
	o.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.msg.Printf("connection to %s lost: %+v", addr, err)
	}

	cli, err := mqttConnect(o)
	if err != nil {
		return nil, fmt.Errorf("health: could not connect to broker %q: %w", addr, err)
	}
	p.cli = cli
	p.msg.Printf("publishing on %s/%s (id=%v)", addr, topic, p.id)
	return p, nil
}

// Report publishes the node status.
func (p *Publisher) Report(ctx context.Context, st node.Status) error {
	p.seq++
	msg := Message{
		ID:          p.id.String(),
		Node:        p.name,
		Seq:         p.seq,
		Time:        p.now().UTC(),
		Cycles:      st.Cycles,
		Received:    st.Received,
		InboundErrs: st.InboundErrs,
		SeqSkips:    st.SeqSkips,
		Overruns:    st.Overruns,
		FaultID:     st.FaultID,
		Lost:        st.Lost(),
		CycleMean:   st.Cycle.Mean,
		CycleMax:    st.Cycle.Max,
	}
	raw, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("health: could not encode message: %w", err)
	}

	tok := p.cli.Publish(p.topic, 0, false, raw)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tok.Done():
	case <-time.After(publishTimeout):
		return fmt.Errorf("health: publish timeout")
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("health: could not publish message: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	p.cli.Disconnect(quiesce)
	return nil
}

var _ node.Reporter = (*Publisher)(nil)
