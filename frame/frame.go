// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package frame holds the fixed-layout binary frame exchanged once per
// cycle between the host and the node.
//
// A frame is made of Len little-endian 16-bit signed slots.
// The error slot is always second-to-last, the checksum slot always last.
package frame // import "github.com/go-lpc/meridian/frame"

import (
	"encoding/binary"
	"fmt"
)

const (
	Len  = 90      // number of 16-bit slots in a frame
	Size = 2 * Len // size of an encoded frame in bytes
)

// Slot offsets.
const (
	Master = 0 // master command code (inbound)
	Status = 0 // status/ack scratch (outbound)
	Seq    = 1 // sequence counter

	AccX  = 2
	AccY  = 3
	AccZ  = 4
	GyroX = 5
	GyroY = 6
	GyroZ = 7
	MagX  = 8
	MagY  = 9
	MagZ  = 10
	Temp  = 11
	Roll  = 12
	Pitch = 13
	Yaw   = 14

	Buttons = 15
	Sticks  = 16 // 4 slots

	LeftBank  = 20 // 15 (cmd, value) pairs
	RightBank = 50 // 15 (cmd, value) pairs

	User = 80 // 8 user slots

	Err      = Len - 2 // error flags (upper byte) and fault id (lower byte)
	Checksum = Len - 1
)

// NumUnits is the number of units in a bank.
const NumUnits = 15

// Error flags stored in the upper byte of the error slot.
const (
	ErrInbound uint16 = 1 << 14 // host to node frame failed its checksum
	ErrSeqSkip uint16 = 1 << 10 // unexpected inbound sequence value
)

// Frame is a decoded frame.
type Frame [Len]int16

// CmdSlot returns the command slot of unit i of the bank starting at base.
func CmdSlot(base, i int) int { return base + 2*i }

// ValueSlot returns the value slot of unit i of the bank starting at base.
func ValueSlot(base, i int) int { return base + 2*i + 1 }

// Decode decodes the little-endian slots of p into dst.
// Decode panics if p is not exactly Size bytes long.
func Decode(dst *Frame, p []byte) {
	if len(p) != Size {
		panic(fmt.Errorf("frame: invalid buffer size (got=%d, want=%d)", len(p), Size))
	}
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(p[2*i:]))
	}
}

// Encode encodes f into dst.
// Encode panics if dst is not exactly Size bytes long.
func Encode(dst []byte, f *Frame) {
	if len(dst) != Size {
		panic(fmt.Errorf("frame: invalid buffer size (got=%d, want=%d)", len(dst), Size))
	}
	for i, v := range f {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(v))
	}
}

// ChecksumOf returns the one's complement of the 16-bit sum of all slots
// but the checksum slot.
func ChecksumOf(f *Frame) uint16 {
	var sum uint16
	for _, v := range f[:Checksum] {
		sum += uint16(v)
	}
	return ^sum
}

// Verify reports whether the stored checksum matches the frame content.
func Verify(f *Frame) bool {
	return uint16(f[Checksum]) == ChecksumOf(f)
}

// Seal stores the checksum of the frame in its checksum slot.
func (f *Frame) Seal() {
	f[Checksum] = int16(ChecksumOf(f))
}

func (f *Frame) errSlot() uint16 { return uint16(f[Err]) }

// SetFlag raises the provided error flag.
func (f *Frame) SetFlag(flag uint16) {
	f[Err] = int16(f.errSlot() | flag)
}

// ClearFlag lowers the provided error flag.
func (f *Frame) ClearFlag(flag uint16) {
	f[Err] = int16(f.errSlot() &^ flag)
}

// HasFlag reports whether the provided error flag is raised.
func (f *Frame) HasFlag(flag uint16) bool {
	return f.errSlot()&flag == flag
}

// FaultID returns the fault identifier byte.
func (f *Frame) FaultID() uint8 {
	return uint8(f.errSlot())
}

// SetFaultID stamps the fault identifier byte, leaving the flags untouched.
func (f *Frame) SetFaultID(id uint8) {
	f[Err] = int16(f.errSlot()&0xff00 | uint16(id))
}

// ClearFaultID zeroes the fault identifier byte.
func (f *Frame) ClearFaultID() {
	f.SetFaultID(0)
}
