// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package imu

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
	"time"
)

type fakeI2C struct {
	regs   [256]byte
	writes [][2]uint8
	closed bool
}

func (dev *fakeI2C) ReadReg(addr, reg uint8) (uint8, error) {
	return dev.regs[reg], nil
}

func (dev *fakeI2C) WriteReg(addr, reg, v uint8) error {
	dev.writes = append(dev.writes, [2]uint8{reg, v})
	dev.regs[reg] = v
	return nil
}

func (dev *fakeI2C) ReadBlockData(addr, reg uint8, buf []byte) error {
	copy(buf, dev.regs[reg:])
	return nil
}

func (dev *fakeI2C) Close() error {
	dev.closed = true
	return nil
}

func withFakeI2C(t *testing.T, dev *fakeI2C) func() {
	t.Helper()
	var (
		open   = smbusOpen
		sleep0 = sleep
	)
	smbusOpen = func(bus int, addr uint8) (i2cDevice, error) { return dev, nil }
	sleep = func(time.Duration) {}
	return func() {
		smbusOpen = open
		sleep = sleep0
	}
}

func TestBNO055(t *testing.T) {
	dev := &fakeI2C{}
	dev.regs[regChipID] = chipID
	put := func(reg int, vs ...int16) {
		for i, v := range vs {
			binary.LittleEndian.PutUint16(dev.regs[reg+2*i:], uint16(v))
		}
	}
	put(regAccData, 981, -50, 0)       // acc, 1/100 m/s^2
	put(regAccData+6, 160, 0, -32)     // mag, 1/16 uT
	put(regAccData+12, 16, -16, 8)     // gyro, 1/16 dps
	put(regAccData+18, 3200, -160, 48) // heading, roll, pitch, 1/16 deg
	dev.regs[regTemp] = 0xfe           // -2 deg C

	defer withFakeI2C(t, dev)()

	imu, err := OpenBNO055(1, DefaultAddr)
	if err != nil {
		t.Fatalf("could not open BNO055: %+v", err)
	}

	wantWrites := [][2]uint8{
		{regOprMode, modeConfig},
		{regPageID, 0},
		{regPwrMode, 0},
		{regSysTrigger, 0},
		{regOprMode, modeNDOF},
	}
	if !reflect.DeepEqual(dev.writes, wantWrites) {
		t.Fatalf("invalid init sequence:\ngot= %v\nwant=%v", dev.writes, wantWrites)
	}

	got, err := imu.Sample()
	if err != nil {
		t.Fatalf("could not read sample: %+v", err)
	}
	want := Sample{
		Acc:   [3]float64{9.81, -0.5, 0},
		Mag:   [3]float64{10, 0, -2},
		Gyro:  [3]float64{1, -1, 0.5},
		Temp:  -2,
		Yaw:   200,
		Roll:  -10,
		Pitch: 3,
	}
	if got != want {
		t.Fatalf("invalid sample:\ngot= %+v\nwant=%+v", got, want)
	}

	err = imu.Close()
	if err != nil || !dev.closed {
		t.Fatalf("could not close BNO055: %+v", err)
	}
}

func TestBNO055InvalidChip(t *testing.T) {
	dev := &fakeI2C{}
	dev.regs[regChipID] = 0x42
	defer withFakeI2C(t, dev)()

	_, err := OpenBNO055(1, DefaultAddr)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !dev.closed {
		t.Fatalf("device should be closed on init failure")
	}
}

func TestBNO055OpenError(t *testing.T) {
	errBus := errors.New("no such bus")
	orig := smbusOpen
	smbusOpen = func(bus int, addr uint8) (i2cDevice, error) { return nil, errBus }
	defer func() { smbusOpen = orig }()

	_, err := OpenBNO055(7, DefaultAddr)
	if !errors.Is(err, errBus) {
		t.Fatalf("invalid error: got=%v, want=%v", err, errBus)
	}
}
