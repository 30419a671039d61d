// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dxl

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-lpc/meridian/internal/crc16"
)

// Protocol 2.0 instructions.
const (
	instPing   = 0x01
	instRead   = 0x02
	instWrite  = 0x03
	instStatus = 0x55
)

// BroadcastID addresses every unit on the bus. Broadcast writes are not
// acknowledged.
const BroadcastID = 0xfe

const (
	hdrLen  = 7 // header(4) + id(1) + length(2)
	minLen  = 4 // length field of a status without parameters: inst + err + crc
	maxBody = 1024
)

var header = [4]byte{0xff, 0xff, 0xfd, 0x00}

var (
	// ErrCRC is returned when a status packet fails its CRC check.
	ErrCRC = errors.New("dxl: invalid CRC")

	errHeader = errors.New("dxl: invalid packet header")
	errLength = errors.New("dxl: invalid packet length")
)

// StatusError is the error reported by a unit in its status packet.
type StatusError struct {
	ID   uint8
	Code uint8
}

func (e StatusError) Error() string {
	var msg string
	switch e.Code & 0x7f {
	case 1:
		msg = "result fail"
	case 2:
		msg = "instruction error"
	case 3:
		msg = "crc error"
	case 4:
		msg = "data range error"
	case 5:
		msg = "data length error"
	case 6:
		msg = "data limit error"
	case 7:
		msg = "access error"
	default:
		msg = fmt.Sprintf("error 0x%02x", e.Code&0x7f)
	}
	if e.Code&0x80 != 0 {
		msg += " (hardware alert)"
	}
	return fmt.Sprintf("dxl: unit %d: %s", e.ID, msg)
}

// stuff inserts an extra 0xfd after every 0xff 0xff 0xfd sequence.
func stuff(p []byte) []byte {
	o := make([]byte, 0, len(p)+len(p)/3)
	for i, v := range p {
		o = append(o, v)
		if i >= 2 && v == 0xfd && p[i-1] == 0xff && p[i-2] == 0xff {
			o = append(o, 0xfd)
		}
	}
	return o
}

// unstuff removes the 0xfd inserted by stuff.
func unstuff(p []byte) []byte {
	o := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		o = append(o, p[i])
		n := len(o)
		if n >= 3 && o[n-1] == 0xfd && o[n-2] == 0xff && o[n-3] == 0xff &&
			i+1 < len(p) && p[i+1] == 0xfd {
			i++
		}
	}
	return o
}

// makePacket builds an instruction packet.
func makePacket(id, inst uint8, params []byte) []byte {
	body := stuff(append([]byte{inst}, params...))
	n := len(body) + 2

	p := make([]byte, 0, hdrLen+n)
	p = append(p, header[:]...)
	p = append(p, id)
	p = binary.LittleEndian.AppendUint16(p, uint16(n))
	p = append(p, body...)
	p = binary.LittleEndian.AppendUint16(p, crc16.Checksum(p, crc16.Buypass))
	return p
}

type status struct {
	id     uint8
	err    uint8
	params []byte
}

// parseStatus decodes a complete status packet.
func parseStatus(p []byte) (status, error) {
	var st status
	if len(p) < hdrLen+minLen {
		return st, errLength
	}
	if [4]byte(p[:4]) != header {
		return st, errHeader
	}
	n := int(binary.LittleEndian.Uint16(p[5:7]))
	if n < minLen || len(p) != hdrLen+n {
		return st, fmt.Errorf("%w (len=%d, want=%d)", errLength, len(p), hdrLen+n)
	}

	var (
		end  = len(p) - 2
		recv = binary.LittleEndian.Uint16(p[end:])
		comp = crc16.Checksum(p[:end], crc16.Buypass)
	)
	if recv != comp {
		return st, fmt.Errorf("%w: recv=0x%04x comp=0x%04x", ErrCRC, recv, comp)
	}

	body := unstuff(p[hdrLen:end])
	if body[0] != instStatus {
		return st, fmt.Errorf("dxl: unexpected instruction 0x%02x", body[0])
	}
	st.id = p[4]
	st.err = body[1]
	st.params = body[2:]
	return st, nil
}
