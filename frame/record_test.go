// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"
)

func TestRecordRW(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))

	var (
		buf  = new(bytes.Buffer)
		enc  = NewEncoder(buf)
		want = make([]Record, 5)
	)
	for i := range want {
		want[i] = Record{Time: int64(1e9 + i*10e6), Frame: randFrame(rnd)}
		err := enc.Encode(&want[i])
		if err != nil {
			t.Fatalf("could not encode record %d: %+v", i, err)
		}
	}

	if got, want := buf.Len(), len(want)*RecordSize; got != want {
		t.Fatalf("invalid stream size: got=%d, want=%d", got, want)
	}

	dec := NewDecoder(buf)
	for i := range want {
		var got Record
		err := dec.Decode(&got)
		if err != nil {
			t.Fatalf("could not decode record %d: %+v", i, err)
		}
		if got != want[i] {
			t.Fatalf("invalid record %d:\ngot= %v\nwant=%v", i, got, want[i])
		}
	}

	var rec Record
	err := dec.Decode(&rec)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got=%+v", err)
	}
}

func TestRecordDecodeErrors(t *testing.T) {
	var raw []byte
	{
		buf := new(bytes.Buffer)
		rec := Record{Time: 42}
		rec.Frame[Seq] = 7
		if err := NewEncoder(buf).Encode(&rec); err != nil {
			t.Fatalf("could not encode record: %+v", err)
		}
		raw = buf.Bytes()
	}

	corrupt := func(i int, v byte) []byte {
		p := append([]byte(nil), raw...)
		p[i] = v
		return p
	}

	for _, tc := range []struct {
		name string
		raw  []byte
		want string
	}{
		{
			name: "header",
			raw:  corrupt(0, 0xff),
			want: "frame: invalid record header marker (got=0xff)",
		},
		{
			name: "trailer",
			raw:  corrupt(1+8+Size, 0x00),
			want: "frame: invalid record trailer marker (got=0x0)",
		},
		{
			name: "crc",
			raw:  corrupt(1+8+2, 0x08),
			want: "frame: inconsistent record CRC",
		},
		{
			name: "short-frame",
			raw:  raw[:20],
			want: "frame: could not read record frame: unexpected EOF",
		},
		{
			name: "short-crc",
			raw:  raw[:len(raw)-1],
			want: "frame: could not read record CRC-16: unexpected EOF",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var rec Record
			err := NewDecoder(bytes.NewReader(tc.raw)).Decode(&rec)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if got := err.Error(); !bytes.HasPrefix([]byte(got), []byte(tc.want)) {
				t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, tc.want)
			}
		})
	}
}
