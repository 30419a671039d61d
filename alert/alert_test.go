// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package alert

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/go-lpc/meridian/node"
	mail "gopkg.in/gomail.v2"
)

func TestAccountFromEnv(t *testing.T) {
	t.Setenv("MAIL_USERNAME", "node@example.com")
	t.Setenv("MAIL_PASSWORD", "s3cr3t")
	t.Setenv("MAIL_SERVER", "smtp.example.com")
	t.Setenv("MAIL_PORT", "587")

	got := AccountFromEnv()
	want := Account{
		User:     "node@example.com",
		Password: "s3cr3t",
		Server:   "smtp.example.com",
		Port:     587,
	}
	if got != want {
		t.Fatalf("invalid account:\ngot= %+v\nwant=%+v", got, want)
	}
	if !got.valid() {
		t.Fatalf("account should be valid")
	}
	if (Account{}).valid() {
		t.Fatalf("empty account should be invalid")
	}
}

func lostStatus(units ...int) node.Status {
	st := node.Status{Threshold: 4}
	for _, i := range units {
		st.Faults[0][i] = 4
	}
	return st
}

func TestMailer(t *testing.T) {
	var subjects []string
	m := New(
		Account{User: "u", Password: "p", Server: "s", Port: 25},
		[]string{"ops@example.com"},
		WithLogger(log.New(io.Discard, "", 0)),
		WithName("robot-1"),
	)
	m.send = func(msg *mail.Message) error {
		subjects = append(subjects, msg.GetHeader("Subject")...)
		return nil
	}

	ctx := context.Background()
	for i := 0; i < 2*maxAlerts; i++ {
		err := m.Report(ctx, lostStatus(3))
		if err != nil {
			t.Fatalf("could not report: %+v", err)
		}
	}
	if got, want := len(subjects), maxAlerts; got != want {
		t.Fatalf("invalid number of alerts: got=%d, want=%d", got, want)
	}
	if got, want := subjects[0], "[robot-1] lost units: L03"; got != want {
		t.Fatalf("invalid subject:\ngot= %q\nwant=%q", got, want)
	}

	// unit is back, then lost again.
	_ = m.Report(ctx, lostStatus())
	_ = m.Report(ctx, lostStatus(3, 7))
	if got, want := len(subjects), maxAlerts+1; got != want {
		t.Fatalf("invalid number of alerts: got=%d, want=%d", got, want)
	}
	if got, want := subjects[maxAlerts], "[robot-1] lost units: L03, L07"; got != want {
		t.Fatalf("invalid subject:\ngot= %q\nwant=%q", got, want)
	}

	errMail := errors.New("smtp down")
	m.send = func(*mail.Message) error { return errMail }
	err := m.Report(ctx, lostStatus(3))
	if !errors.Is(err, errMail) {
		t.Fatalf("invalid error: got=%v, want=%v", err, errMail)
	}
}

func TestMailerNoCredentials(t *testing.T) {
	m := New(Account{}, nil, WithLogger(log.New(io.Discard, "", 0)))
	m.send = func(*mail.Message) error {
		t.Fatalf("no mail should be sent")
		return nil
	}
	err := m.Report(context.Background(), lostStatus(1))
	if err != nil {
		t.Fatalf("could not report: %+v", err)
	}
}
