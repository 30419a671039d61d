// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package imu

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-daq/smbus"
)

// BNO055 registers (page 0).
const (
	regChipID     = 0x00
	regPageID     = 0x07
	regAccData    = 0x08 // acc, mag, gyro, euler: 24 bytes
	regTemp       = 0x34
	regOprMode    = 0x3d
	regPwrMode    = 0x3e
	regSysTrigger = 0x3f

	chipID = 0xa0

	modeConfig = 0x00
	modeNDOF   = 0x0c

	dataLen = 24
)

// DefaultAddr is the default I2C address of the BNO055.
const DefaultAddr = 0x28

type i2cDevice interface {
	ReadReg(addr, reg uint8) (uint8, error)
	WriteReg(addr, reg, v uint8) error
	ReadBlockData(addr, reg uint8, buf []byte) error
	Close() error
}

var (
	smbusOpen = smbusOpenImpl
	sleep     = time.Sleep
)

func smbusOpenImpl(bus int, addr uint8) (i2cDevice, error) {
	return smbus.Open(bus, addr)
}

// BNO055 is an absolute orientation sensor running its own fusion.
type BNO055 struct {
	dev  i2cDevice
	addr uint8
	buf  [dataLen]byte
}

// OpenBNO055 opens the sensor at addr on the given I2C bus and switches it
// to 9-axis fusion mode.
func OpenBNO055(bus int, addr uint8) (*BNO055, error) {
	dev, err := smbusOpen(bus, addr)
	if err != nil {
		return nil, fmt.Errorf("imu: could not open i2c bus %d (addr=0x%x): %w", bus, addr, err)
	}

	imu := &BNO055{dev: dev, addr: addr}
	err = imu.init()
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("imu: could not initialize BNO055 (addr=0x%x): %w", addr, err)
	}
	return imu, nil
}

func (imu *BNO055) init() error {
	id, err := imu.dev.ReadReg(imu.addr, regChipID)
	if err != nil {
		return fmt.Errorf("could not read chip id: %w", err)
	}
	if id != chipID {
		return fmt.Errorf("invalid chip id (got=0x%x, want=0x%x)", id, chipID)
	}

	for _, v := range []struct {
		reg, val uint8
		name     string
	}{
		{regOprMode, modeConfig, "config mode"},
		{regPageID, 0x00, "page 0"},
		{regPwrMode, 0x00, "normal power mode"},
		{regSysTrigger, 0x00, "internal oscillator"},
		{regOprMode, modeNDOF, "fusion mode"},
	} {
		err = imu.dev.WriteReg(imu.addr, v.reg, v.val)
		if err != nil {
			return fmt.Errorf("could not set %s: %w", v.name, err)
		}
		sleep(20 * time.Millisecond)
	}
	return nil
}

// Close closes the underlying bus.
func (imu *BNO055) Close() error {
	return imu.dev.Close()
}

// Sample reads acceleration, magnetic field, angular rate, orientation and
// temperature.
func (imu *BNO055) Sample() (Sample, error) {
	var smp Sample
	err := imu.dev.ReadBlockData(imu.addr, regAccData, imu.buf[:])
	if err != nil {
		return smp, fmt.Errorf("imu: could not read data block: %w", err)
	}
	temp, err := imu.dev.ReadReg(imu.addr, regTemp)
	if err != nil {
		return smp, fmt.Errorf("imu: could not read temperature: %w", err)
	}

	vec := func(i int, scale float64) [3]float64 {
		var v [3]float64
		for j := range v {
			v[j] = float64(int16(binary.LittleEndian.Uint16(imu.buf[i+2*j:]))) / scale
		}
		return v
	}

	smp.Acc = vec(0, 100)
	smp.Mag = vec(6, 16)
	smp.Gyro = vec(12, 16)
	eul := vec(18, 16) // heading, roll, pitch
	smp.Yaw = eul[0]
	smp.Roll = eul[1]
	smp.Pitch = eul[2]
	smp.Temp = float64(int8(temp))
	return smp, nil
}

var _ Source = (*BNO055)(nil)
