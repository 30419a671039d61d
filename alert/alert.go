// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends mail alerts when actuators of a node are lost.
package alert // import "github.com/go-lpc/meridian/alert"

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-lpc/meridian/node"
	mail "gopkg.in/gomail.v2"
)

// maxAlerts is the maximum number of mails sent for a lost unit until it
// comes back.
const maxAlerts = 5

// Account holds the credentials of the mail server.
type Account struct {
	User     string
	Password string
	Server   string
	Port     int
}

// AccountFromEnv reads the MAIL_USERNAME, MAIL_PASSWORD, MAIL_SERVER and
// MAIL_PORT environment variables.
func AccountFromEnv() Account {
	port, _ := strconv.Atoi(os.Getenv("MAIL_PORT"))
	return Account{
		User:     os.Getenv("MAIL_USERNAME"),
		Password: os.Getenv("MAIL_PASSWORD"),
		Server:   os.Getenv("MAIL_SERVER"),
		Port:     port,
	}
}

func (acct Account) valid() bool {
	return acct.User != "" && acct.Password != "" && acct.Server != "" && acct.Port != 0
}

// Mailer mails the lost units of a node.
type Mailer struct {
	acct Account
	to   []string
	name string
	msg  *log.Logger

	alerts map[string]int
	send   func(msg *mail.Message) error
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithLogger sets the logger of the mailer.
func WithLogger(msg *log.Logger) Option {
	return func(m *Mailer) { m.msg = msg }
}

// WithName sets the node name used in the mail subject.
func WithName(name string) Option {
	return func(m *Mailer) { m.name = name }
}

// New creates a mailer sending alerts to the given recipients.
func New(acct Account, to []string, opts ...Option) *Mailer {
	m := &Mailer{
		acct:   acct,
		to:     to,
		name:   "meridian",
		msg:    log.New(os.Stdout, "alert: ", 0),
		alerts: make(map[string]int),
	}
	m.send = m.dial
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Report sends one mail per newly lost unit, up to maxAlerts mails per unit.
func (m *Mailer) Report(ctx context.Context, st node.Status) error {
	lost := st.Lost()
	cur := make(map[string]bool, len(lost))
	for _, name := range lost {
		cur[name] = true
	}
	for name := range m.alerts {
		if !cur[name] {
			m.msg.Printf("unit %s is back", name)
			delete(m.alerts, name)
		}
	}
	if len(lost) == 0 {
		return nil
	}

	var fresh []string
	for _, name := range lost {
		m.alerts[name]++
		if m.alerts[name] <= maxAlerts {
			fresh = append(fresh, name)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	sort.Strings(fresh)

	if !m.acct.valid() || len(m.to) == 0 {
		m.msg.Printf("could not send mail alert for %v: missing credentials", fresh)
		return nil
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.acct.User)
	msg.SetHeader("Bcc", m.to...)
	msg.SetHeader("Subject", fmt.Sprintf("[%s] lost units: %s", m.name, strings.Join(fresh, ", ")))
	msg.SetBody("text/plain", fmt.Sprintf(
		"lost units: %s\nfault-id: %d\ncycles: %d\noverruns: %d\ninbound errors: %d\n",
		strings.Join(lost, ", "), st.FaultID, st.Cycles, st.Overruns, st.InboundErrs,
	))

	err := m.send(msg)
	if err != nil {
		return fmt.Errorf("alert: could not send mail alert: %w", err)
	}
	return nil
}

func (m *Mailer) dial(msg *mail.Message) error {
	dial := mail.NewDialer(m.acct.Server, m.acct.Port, m.acct.User, m.acct.Password)
	dial.TLSConfig = &tls.Config{
		ServerName: m.acct.Server,
	}
	return dial.DialAndSend(msg)
}

var _ node.Reporter = (*Mailer)(nil)
