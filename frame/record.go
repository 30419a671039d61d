// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-lpc/meridian/internal/crc16"
)

const (
	recHeader  = 0xb0 // record header marker
	recTrailer = 0xa0 // record trailer marker

	// RecordSize is the size in bytes of an encoded record.
	RecordSize = 1 + 8 + Size + 1 + crc16.Size
)

// Record is a timestamped frame, as written to a recording file.
type Record struct {
	Time  int64 // unix time in nanoseconds
	Frame Frame
}

// Encoder writes records to an output stream.
// Encoder computes the CRC-16 checksum of each record on the fly and
// appends it at the end of the record.
type Encoder struct {
	w   io.Writer
	buf []byte
	err error
	crc crc16.Hash16
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   w,
		buf: make([]byte, Size),
		crc: crc16.New(nil),
	}
}

// Encode writes the record to the stream.
func (enc *Encoder) Encode(rec *Record) error {
	if rec == nil {
		return nil
	}

	enc.crc.Reset()

	enc.writeU8(recHeader)
	if enc.err != nil {
		return fmt.Errorf("frame: could not write record header marker: %w", enc.err)
	}
	enc.writeU64(uint64(rec.Time))

	Encode(enc.buf[:Size], &rec.Frame)
	enc.write(enc.buf[:Size])

	enc.writeU8(recTrailer)
	enc.writeU16(enc.crc.Sum16())

	if enc.err != nil {
		return fmt.Errorf("frame: could not write record: %w", enc.err)
	}
	return nil
}

func (enc *Encoder) write(p []byte) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.Write(p)
	_, _ = enc.crc.Write(p) // can not fail.
}

func (enc *Encoder) writeU8(v uint8) {
	enc.buf[0] = v
	enc.write(enc.buf[:1])
}

func (enc *Encoder) writeU16(v uint16) {
	binary.BigEndian.PutUint16(enc.buf[:2], v)
	enc.write(enc.buf[:2])
}

func (enc *Encoder) writeU64(v uint64) {
	binary.BigEndian.PutUint64(enc.buf[:8], v)
	enc.write(enc.buf[:8])
}

// Decoder reads and validates records from an input stream.
type Decoder struct {
	r   io.Reader
	buf []byte
	err error
	crc crc16.Hash16
}

// NewDecoder creates a decoder that reads and validates records from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, Size),
		crc: crc16.New(nil),
	}
}

// Decode reads the next record from the stream.
// Decode returns io.EOF when the stream ends on a record boundary.
func (dec *Decoder) Decode(rec *Record) error {
	dec.crc.Reset()

	v := dec.readU8()
	if dec.err != nil {
		return fmt.Errorf("frame: could not read record header marker: %w", dec.err)
	}
	if v != recHeader {
		return fmt.Errorf("frame: invalid record header marker (got=0x%x)", v)
	}

	rec.Time = int64(dec.readU64())
	dec.read(dec.buf[:Size])
	if dec.err != nil {
		return fmt.Errorf("frame: could not read record frame: %w", dec.eof())
	}
	Decode(&rec.Frame, dec.buf[:Size])

	v = dec.readU8()
	if dec.err != nil {
		return fmt.Errorf("frame: could not read record trailer marker: %w", dec.eof())
	}
	if v != recTrailer {
		return fmt.Errorf("frame: invalid record trailer marker (got=0x%x)", v)
	}

	comp := dec.crc.Sum16()
	dec.err = readFull(dec.r, dec.buf[:2])
	if dec.err != nil {
		return fmt.Errorf("frame: could not read record CRC-16: %w", dec.eof())
	}
	recv := binary.BigEndian.Uint16(dec.buf[:2])
	if comp != recv {
		return fmt.Errorf(
			"frame: inconsistent record CRC: recv=0x%04x comp=0x%04x",
			recv, comp,
		)
	}

	return nil
}

func (dec *Decoder) eof() error {
	if dec.err == io.EOF {
		dec.err = io.ErrUnexpectedEOF
	}
	return dec.err
}

func (dec *Decoder) read(p []byte) {
	if dec.err != nil {
		return
	}
	dec.err = readFull(dec.r, p)
	_, _ = dec.crc.Write(p)
}

func (dec *Decoder) readU8() uint8 {
	dec.read(dec.buf[:1])
	return dec.buf[0]
}

func (dec *Decoder) readU64() uint64 {
	dec.read(dec.buf[:8])
	return binary.BigEndian.Uint64(dec.buf[:8])
}

func readFull(r io.Reader, p []byte) error {
	_, err := io.ReadFull(r, p)
	return err
}
