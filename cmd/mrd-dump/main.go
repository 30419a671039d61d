// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// mrd-dump decodes and displays frame recording files.
//
// Usage: mrd-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> mrd-dump -v ./meridian-20210304-050607.rec
//	rec=0 time=2021-03-04T05:06:07.000Z seq=1 status=90 err=0x0000 yaw=+0.00
//	rec=1 time=2021-03-04T05:06:07.010Z seq=2 status=90 err=0x0000 yaw=+0.35
//	[...]
//	=== ./meridian-20210304-050607.rec ===
//	records:         1500
//	duration:       15.0s
//	inbound errors:     0
//	seq skips:          2
//	fault ids:      [R01]
//	period:   mean=10.000ms stddev=0.012ms max=10.100ms
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sort"
	"time"

	"github.com/go-lpc/meridian/frame"
	"github.com/go-lpc/meridian/seq"
	"go-hep.org/x/hep/hbook"
)

func main() {
	log.SetPrefix("mrd-dump: ")
	log.SetFlags(0)

	err := xmain(os.Stdout, os.Args[1:])
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func xmain(w io.Writer, args []string) error {
	fset := flag.NewFlagSet("mrd-dump", flag.ContinueOnError)
	var (
		verbose = fset.Bool("v", false, "display every record")
		step    = fset.Int("seq-step", 1, "sequence increment per frame")
	)
	fset.Usage = func() {
		fmt.Fprintf(fset.Output(), "mrd-dump decodes and displays frame recording files.\n\nUsage: mrd-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]\n\n")
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		return err
	}

	if fset.NArg() == 0 {
		fset.Usage()
		return fmt.Errorf("missing path to input recording file")
	}

	for _, fname := range fset.Args() {
		err := process(w, fname, *step, *verbose)
		if err != nil {
			return fmt.Errorf("could not dump file %q: %w", fname, err)
		}
	}
	return nil
}

type summary struct {
	n      int
	beg    int64
	end    int64
	inErrs int
	skips  int
	faults map[uint8]bool
	dt     *hbook.H1D
	max    float64
}

func process(w io.Writer, fname string, step int, verbose bool) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	var (
		dec  = frame.NewDecoder(bufio.NewReader(f))
		sq   = seq.New(step)
		rec  frame.Record
		prev int64
		sum  = summary{
			faults: make(map[uint8]bool),
			dt:     hbook.NewH1D(100, 0, 100),
		}
	)
loop:
	for {
		err := dec.Decode(&rec)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not decode record %d: %w", sum.n, err)
		}

		fr := &rec.Frame
		if sum.n == 0 {
			sum.beg = rec.Time
			sq.Reset(0, int(uint16(fr[frame.Seq])))
		} else {
			dt := float64(rec.Time-prev) / float64(time.Millisecond)
			sum.dt.Fill(dt, 1)
			sum.max = math.Max(sum.max, dt)
			if !sq.Check(uint16(fr[frame.Seq])) {
				sum.skips++
			}
		}
		prev = rec.Time
		sum.end = rec.Time

		if fr.HasFlag(frame.ErrInbound) {
			sum.inErrs++
		}
		if id := fr.FaultID(); id != 0 {
			sum.faults[id] = true
		}

		if verbose {
			fmt.Fprintf(wbuf, "rec=%d time=%s seq=%d status=%d err=0x%04x yaw=%+.2f\n",
				sum.n,
				time.Unix(0, rec.Time).UTC().Format("2006-01-02T15:04:05.000Z"),
				uint16(fr[frame.Seq]), fr[frame.Status], uint16(fr[frame.Err]),
				frame.ShortToFloat(fr[frame.Yaw]),
			)
		}
		sum.n++
	}

	fmt.Fprintf(wbuf, "=== %s ===\n", fname)
	fmt.Fprintf(wbuf, "records:        % 5d\n", sum.n)
	fmt.Fprintf(wbuf, "duration:       %v\n", time.Duration(sum.end-sum.beg))
	fmt.Fprintf(wbuf, "inbound errors: % 5d\n", sum.inErrs)
	fmt.Fprintf(wbuf, "seq skips:      % 5d\n", sum.skips)
	fmt.Fprintf(wbuf, "fault ids:      %v\n", faultNames(sum.faults))
	if sum.n > 1 {
		fmt.Fprintf(wbuf, "period:   mean=%.3fms stddev=%.3fms max=%.3fms\n",
			sum.dt.XMean(), sum.dt.XStdDev(), sum.max,
		)
	}

	return nil
}

func faultNames(ids map[uint8]bool) []string {
	names := make([]string, 0, len(ids))
	for id := range ids {
		switch {
		case id >= 100:
			names = append(names, fmt.Sprintf("R%02d", id-100))
		default:
			names = append(names, fmt.Sprintf("L%02d", id))
		}
	}
	sort.Strings(names)
	return names
}
