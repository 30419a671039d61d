// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package command interprets the master command code of inbound frames.
package command // import "github.com/go-lpc/meridian/command"

import "fmt"

// Master command codes.
const (
	CodeDisengage  int16 = 0
	CodeRun        int16 = 90
	CodeRecenter   int16 = 10002
	CodeClearFault int16 = 10004
)

// Command is one of Disengage, Run, Recenter, ClearFault or Other.
type Command interface {
	Code() int16
	isCommand()
}

// Disengage releases every mounted unit and skips the dispatch.
type Disengage struct{}

// Run is the nominal operation.
type Run struct{}

// Recenter captures the current raw yaw as the new zero reference.
type Recenter struct{}

// ClearFault clears the fault identifier of the outbound frame.
type ClearFault struct{}

// Other is any unknown code. It behaves as Run.
type Other struct{ Value int16 }

func (Disengage) Code() int16  { return CodeDisengage }
func (Run) Code() int16        { return CodeRun }
func (Recenter) Code() int16   { return CodeRecenter }
func (ClearFault) Code() int16 { return CodeClearFault }
func (cmd Other) Code() int16  { return cmd.Value }

func (Disengage) isCommand()  {}
func (Run) isCommand()        {}
func (Recenter) isCommand()   {}
func (ClearFault) isCommand() {}
func (Other) isCommand()      {}

func (Disengage) String() string  { return "disengage" }
func (Run) String() string        { return "run" }
func (Recenter) String() string   { return "recenter" }
func (ClearFault) String() string { return "clear-fault" }
func (cmd Other) String() string  { return fmt.Sprintf("other(%d)", cmd.Value) }

// Parse returns the command of a master code.
func Parse(code int16) Command {
	switch code {
	case CodeDisengage:
		return Disengage{}
	case CodeRun:
		return Run{}
	case CodeRecenter:
		return Recenter{}
	case CodeClearFault:
		return ClearFault{}
	default:
		return Other{Value: code}
	}
}

// Engages reports whether units are dispatched in a cycle carrying cmd.
func Engages(cmd Command) bool {
	_, off := cmd.(Disengage)
	return !off
}
