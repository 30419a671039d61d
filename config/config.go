// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the configuration of a node, loaded once before the
// control loop starts.
package config // import "github.com/go-lpc/meridian/config"

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-lpc/meridian/frame"
	"github.com/go-lpc/meridian/seq"
	"gopkg.in/yaml.v3"
)

// Config is the configuration of a node.
type Config struct {
	Period    time.Duration `yaml:"period"`
	Threshold int           `yaml:"fault_threshold"`
	SeqStep   int           `yaml:"seq_step"`

	UDP       UDP       `yaml:"udp"`
	IMU       IMU       `yaml:"imu"`
	Actuators Actuators `yaml:"actuators"`
	Disengage Disengage `yaml:"disengage"`
	Monitor   Monitor   `yaml:"monitor"`
	Storage   Storage   `yaml:"storage"`
	Gamepad   Gamepad   `yaml:"gamepad"`

	Shm     string `yaml:"shm"`     // shared-memory mirror of the outbound frame
	Control string `yaml:"control"` // address of the control server

	CondDB CondDB `yaml:"conddb"`
	MQTT   MQTT   `yaml:"mqtt"`
	Alert  Alert  `yaml:"alert"`
}

// UDP configures the link with the host.
type UDP struct {
	Listen string `yaml:"listen"`
	Peer   string `yaml:"peer"`
	Send   bool   `yaml:"send"`
}

// IMU configures the inertial sensor.
type IMU struct {
	Mounted bool          `yaml:"mounted"`
	Bus     int           `yaml:"bus"`
	Addr    uint8         `yaml:"addr"`
	Period  time.Duration `yaml:"period"`
}

// Actuators configures both banks.
type Actuators struct {
	Timeout time.Duration `yaml:"timeout"`

	// LegacyRightWriteBack stores the right bank read-backs into the left
	// bank, as older node releases did.
	LegacyRightWriteBack bool `yaml:"legacy_right_writeback"`

	Left  Bank `yaml:"left"`
	Right Bank `yaml:"right"`
}

// Bank configures the serial link and the units of a bank.
type Bank struct {
	Port  string `yaml:"port"`
	Baud  int    `yaml:"baud"`
	Units []Unit `yaml:"units"`
}

// Unit is the mount flag and rotation sign of a unit.
type Unit struct {
	Mounted bool `yaml:"mounted"`
	Sign    int  `yaml:"sign"`
}

// Disengage configures the release sequence.
type Disengage struct {
	Reps   int           `yaml:"reps"`
	Gap    time.Duration `yaml:"gap"`
	Settle time.Duration `yaml:"settle"`
}

// Monitor toggles diagnostics.
type Monitor struct {
	Flow    bool `yaml:"flow"`
	Seq     bool `yaml:"seq"`
	Faults  bool `yaml:"faults"`
	Overrun bool `yaml:"overrun"`
}

// Storage configures the local storage.
type Storage struct {
	Mounted bool   `yaml:"mounted"`
	Dir     string `yaml:"dir"`
	Record  bool   `yaml:"record"`
}

// Gamepad configures the gamepad input.
type Gamepad struct {
	Mounted bool   `yaml:"mounted"`
	Device  string `yaml:"device"`
}

// CondDB configures the condition database holding the unit tables.
// An empty name disables it. An empty robot selects the last registered one.
type CondDB struct {
	Name  string `yaml:"name"`
	Robot string `yaml:"robot"`
}

// MQTT configures the health publisher. An empty broker disables it.
type MQTT struct {
	Broker string        `yaml:"broker"`
	Topic  string        `yaml:"topic"`
	Period time.Duration `yaml:"period"`
}

// Alert configures the fault mail alerts. No recipient disables them.
type Alert struct {
	To     []string      `yaml:"to"`
	Period time.Duration `yaml:"period"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Period:    10 * time.Millisecond,
		Threshold: 4,
		SeqStep:   1,
		UDP: UDP{
			Listen: ":22224",
			Peer:   "127.0.0.1:22222",
			Send:   true,
		},
		IMU: IMU{
			Bus:    1,
			Addr:   0x28,
			Period: 10 * time.Millisecond,
		},
		Actuators: Actuators{
			Timeout: 20 * time.Millisecond,
			Left:    Bank{Port: "/dev/ttyUSB0", Baud: 1000000},
			Right:   Bank{Port: "/dev/ttyUSB1", Baud: 1000000},
		},
		Disengage: Disengage{
			Reps:   5,
			Gap:    2 * time.Microsecond,
			Settle: 100 * time.Millisecond,
		},
		Storage: Storage{Dir: "/var/lib/meridian"},
		Gamepad: Gamepad{Device: "/dev/input/js0"},
		Control: ":22230",
		MQTT: MQTT{
			Topic:  "meridian/health",
			Period: time.Second,
		},
		Alert: Alert{Period: time.Minute},
	}
}

// Load reads the YAML configuration file at path, on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: could not read file: %w", err)
	}

	err = yaml.Unmarshal(raw, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("config: could not decode %q: %w", path, err)
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, fmt.Errorf("config: invalid configuration %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Period <= 0 {
		errs = append(errs, fmt.Errorf("invalid period %v", cfg.Period))
	}
	if cfg.Threshold < 1 {
		errs = append(errs, fmt.Errorf("invalid fault threshold %d", cfg.Threshold))
	}
	if cfg.SeqStep < 1 || cfg.SeqStep >= seq.Modulus {
		errs = append(errs, fmt.Errorf("invalid sequence step %d", cfg.SeqStep))
	}
	if cfg.UDP.Listen == "" {
		errs = append(errs, errors.New("missing udp listen address"))
	}
	if cfg.UDP.Send && cfg.UDP.Peer == "" {
		errs = append(errs, errors.New("missing udp peer address"))
	}
	if cfg.IMU.Mounted && cfg.IMU.Period <= 0 {
		errs = append(errs, fmt.Errorf("invalid imu period %v", cfg.IMU.Period))
	}
	if cfg.Actuators.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid actuator timeout %v", cfg.Actuators.Timeout))
	}
	for _, b := range []struct {
		name string
		bank *Bank
	}{
		{"left", &cfg.Actuators.Left},
		{"right", &cfg.Actuators.Right},
	} {
		if n := len(b.bank.Units); n > frame.NumUnits {
			errs = append(errs, fmt.Errorf("too many %s units (got=%d, max=%d)", b.name, n, frame.NumUnits))
		}
		for i, u := range b.bank.Units {
			if u.Sign < -1 || u.Sign > 1 {
				errs = append(errs, fmt.Errorf("invalid sign %d for %s unit %d", u.Sign, b.name, i))
			}
		}
		if b.bank.Mounted() > 0 && b.bank.Port == "" {
			errs = append(errs, fmt.Errorf("missing %s serial port", b.name))
		}
	}
	if cfg.Disengage.Reps < 1 {
		errs = append(errs, fmt.Errorf("invalid disengage repetitions %d", cfg.Disengage.Reps))
	}
	if cfg.Storage.Mounted && cfg.Storage.Dir == "" {
		errs = append(errs, errors.New("missing storage directory"))
	}
	if cfg.Storage.Record && !cfg.Storage.Mounted {
		errs = append(errs, errors.New("recording requires mounted storage"))
	}
	if cfg.Gamepad.Mounted && cfg.Gamepad.Device == "" {
		errs = append(errs, errors.New("missing gamepad device"))
	}
	if cfg.MQTT.Broker != "" && (cfg.MQTT.Topic == "" || cfg.MQTT.Period <= 0) {
		errs = append(errs, errors.New("invalid mqtt topic or period"))
	}
	if len(cfg.Alert.To) > 0 && cfg.Alert.Period <= 0 {
		errs = append(errs, fmt.Errorf("invalid alert period %v", cfg.Alert.Period))
	}
	return errors.Join(errs...)
}

// Mounted returns the number of mounted units of the bank.
func (b Bank) Mounted() int {
	n := 0
	for _, u := range b.Units {
		if u.Mounted {
			n++
		}
	}
	return n
}
