// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package health

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-lpc/meridian/node"
	"github.com/google/go-cmp/cmp"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error) *fakeToken {
	tok := &fakeToken{done: make(chan struct{}), err: err}
	close(tok.done)
	return tok
}

func (tok *fakeToken) Wait() bool                     { return true }
func (tok *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (tok *fakeToken) Done() <-chan struct{}          { return tok.done }
func (tok *fakeToken) Error() error                   { return tok.err }

type message struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	msgs []message
	err  error
	disc bool
}

func (cli *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	cli.msgs = append(cli.msgs, message{topic, payload.([]byte)})
	return newToken(cli.err)
}

func (cli *fakeClient) Disconnect(uint) { cli.disc = true }

func withClient(t *testing.T, cli client, err error) {
	orig := mqttConnect
	mqttConnect = func(opts *mqtt.ClientOptions) (client, error) {
		if got, want := len(opts.Servers), 1; got != want {
			t.Errorf("invalid number of brokers: got=%d, want=%d", got, want)
		}
		if err != nil {
			return nil, err
		}
		return cli, nil
	}
	t.Cleanup(func() { mqttConnect = orig })
}

func TestPublisher(t *testing.T) {
	cli := new(fakeClient)
	withClient(t, cli, nil)

	p, err := Dial("localhost:1883", "meridian/health",
		WithLogger(log.New(io.Discard, "", 0)),
		WithName("robot-1"),
	)
	if err != nil {
		t.Fatalf("could not dial: %+v", err)
	}
	now := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	p.now = func() time.Time { return now }

	st := node.Status{
		Counters:  node.Counters{Cycles: 100, Received: 98, InboundErrs: 1, SeqSkips: 2},
		Overruns:  3,
		FaultID:   101,
		Threshold: 4,
		Cycle:     node.CycleStats{Mean: 0.5, Max: 1.5},
	}
	st.Faults[1][1] = 5

	for i := 0; i < 2; i++ {
		err = p.Report(context.Background(), st)
		if err != nil {
			t.Fatalf("could not report: %+v", err)
		}
	}

	if got, want := len(cli.msgs), 2; got != want {
		t.Fatalf("invalid number of messages: got=%d, want=%d", got, want)
	}
	if got, want := cli.msgs[0].topic, "meridian/health"; got != want {
		t.Fatalf("invalid topic: got=%q, want=%q", got, want)
	}

	got, err := Decode(cli.msgs[1].payload)
	if err != nil {
		t.Fatalf("could not decode message: %+v", err)
	}
	want := Message{
		ID:          p.id.String(),
		Node:        "robot-1",
		Seq:         2,
		Time:        now,
		Cycles:      100,
		Received:    98,
		InboundErrs: 1,
		SeqSkips:    2,
		Overruns:    3,
		FaultID:     101,
		Lost:        []string{"R01"},
		CycleMean:   0.5,
		CycleMax:    1.5,
	}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Fatalf("invalid message: (-want +got)\n%s", diff)
	}

	err = p.Close()
	if err != nil {
		t.Fatalf("could not close: %+v", err)
	}
	if !cli.disc {
		t.Fatalf("client not disconnected")
	}
}

func TestPublisherErrors(t *testing.T) {
	errBroker := errors.New("no broker")
	withClient(t, nil, errBroker)
	_, err := Dial("localhost:1883", "t", WithLogger(log.New(io.Discard, "", 0)))
	if !errors.Is(err, errBroker) {
		t.Fatalf("invalid error: got=%v, want=%v", err, errBroker)
	}

	errPub := errors.New("not connected")
	cli := &fakeClient{err: errPub}
	withClient(t, cli, nil)
	p, err := Dial("localhost:1883", "t", WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("could not dial: %+v", err)
	}
	err = p.Report(context.Background(), node.Status{})
	if !errors.Is(err, errPub) {
		t.Fatalf("invalid error: got=%v, want=%v", err, errPub)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cli.err = nil
	// a done token may win over the cancelled context.
	err = p.Report(ctx, node.Status{})
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = Decode([]byte{0xc1})
	if err == nil {
		t.Fatalf("expected a decode error")
	}
}
