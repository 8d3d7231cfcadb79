// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package runcfg describes the configuration of an A-STEP run.
package runcfg // import "github.com/go-lpc/astep/runcfg"

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/astep/board"
	"github.com/go-lpc/astep/injector"
	"github.com/go-lpc/astep/rfg"
	"sigs.k8s.io/yaml"
)

// Board kinds.
const (
	KindCMOD  = "cmod"
	KindGECCO = "gecco"
)

// Configuration modes.
const (
	ModeSPI = "spi"
	ModeSR  = "sr"
)

// ErrFileExists is returned when saving over an existing configuration file.
var ErrFileExists = errors.New("runcfg: configuration file already exists")

// Config is the configuration of a run.
type Config struct {
	Serial   Serial    `json:"serial"`
	Board    Board     `json:"board"`
	Layers   []Layer   `json:"layers"`
	Readout  Readout   `json:"readout"`
	Injector *Injector `json:"injector,omitempty"`
	Store    string    `json:"store"`
	LogLevel string    `json:"log_level"`
	API      string    `json:"api,omitempty"` // address of the HTTP control API
}

// Serial describes the UART link to the board.
type Serial struct {
	Device  string   `json:"device"`
	Baud    int      `json:"baud"`
	Timeout Duration `json:"timeout"`
}

// Board describes the readout board and its clocks.
type Board struct {
	Kind        string                `json:"kind"`
	CoreHz      uint64                `json:"core_hz,omitempty"`
	SPIHz       uint64                `json:"spi_hz"`
	TimestampHz uint64                `json:"timestamp_hz"`
	ToT         bool                  `json:"tot_clock"`
	TS          bool                  `json:"ts_clock"`
	Timestamp   board.TimestampConfig `json:"timestamp"`
	ResetWait   Duration              `json:"reset_wait"`
	ChunkDelay  Duration              `json:"chunk_delay"`
}

// Layer describes the chips of a layer and how to configure them.
type Layer struct {
	ID        int     `json:"id"`
	Config    string  `json:"config"`          // chip configuration file
	Chip      string  `json:"chip"`            // chip name in the configuration file
	Chips     int     `json:"chips,omitempty"` // overrides the chain length
	Mode      string  `json:"mode"`            // spi or sr
	CkDiv     int     `json:"ckdiv,omitempty"` // SR clock stretching
	AnalogCol *int    `json:"analog_col,omitempty"`
	Pixels    []Pixel `json:"pixels,omitempty"` // enabled pixels
	Inject    *Pixel  `json:"inject,omitempty"` // injected pixel
}

// Pixel locates a pixel in a chain.
type Pixel struct {
	Chip int `json:"chip"`
	Col  int `json:"col"`
	Row  int `json:"row"`
}

// Readout describes the acquisition.
type Readout struct {
	Autoread bool     `json:"autoread"`
	Duration Duration `json:"duration"` // 0 runs until interrupted
	Limit    int      `json:"limit,omitempty"`
	Poll     Duration `json:"poll"`
}

// Injector describes the injection pattern.
type Injector struct {
	Enable bool `json:"enable"`
	injector.Pattern
}

// Default returns a run configuration with default values.
func Default() *Config {
	return &Config{
		Serial: Serial{
			Device:  "/dev/ttyUSB1",
			Baud:    rfg.DefaultBaud,
			Timeout: Duration(rfg.DefaultReadTimeout),
		},
		Board: Board{
			Kind:        KindCMOD,
			SPIHz:       1_000_000,
			TimestampHz: 1_000_000,
			ToT:         true,
			TS:          true,
			Timestamp:   board.TimestampConfig{Enable: true, MatchCounter: true},
			ResetWait:   Duration(board.DefaultResetWait),
			ChunkDelay:  Duration(board.DefaultChunkDelay),
		},
		Readout: Readout{
			Autoread: true,
			Poll:     Duration(board.DefaultPollPeriod),
		},
		Store:    "astep-raw.db",
		LogLevel: "info",
	}
}

// Load loads a run configuration from the provided YAML file.
// Fields missing from the file keep their default value.
func Load(fname string) (*Config, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return nil, fmt.Errorf("runcfg: could not read %q: %w", fname, err)
	}

	cfg := Default()
	err = yaml.UnmarshalStrict(raw, cfg)
	if err != nil {
		return nil, fmt.Errorf("runcfg: could not decode %q: %w", fname, err)
	}

	dir := filepath.Dir(fname)
	for i := range cfg.Layers {
		lay := &cfg.Layers[i]
		if lay.Config != "" && !filepath.IsAbs(lay.Config) {
			lay.Config = filepath.Join(dir, lay.Config)
		}
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("runcfg: invalid configuration %q: %w", fname, err)
	}
	return cfg, nil
}

// Save writes the configuration to fname, as YAML.
func (cfg *Config) Save(fname string, overwrite bool) error {
	_, err := os.Stat(fname)
	if err == nil && !overwrite {
		return fmt.Errorf("%w: %s", ErrFileExists, fname)
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("runcfg: could not encode configuration: %w", err)
	}

	err = os.MkdirAll(filepath.Dir(fname), 0755)
	if err != nil {
		return fmt.Errorf("runcfg: could not create configuration directory: %w", err)
	}

	err = os.WriteFile(fname, raw, 0644)
	if err != nil {
		return fmt.Errorf("runcfg: could not write configuration: %w", err)
	}
	return nil
}

// Validate checks the consistency of the configuration.
func (cfg *Config) Validate() error {
	if cfg.Serial.Device == "" {
		return fmt.Errorf("missing serial device")
	}
	if cfg.Serial.Baud <= 0 {
		return fmt.Errorf("invalid baud rate %d", cfg.Serial.Baud)
	}

	switch cfg.Board.Kind {
	case KindCMOD:
	case KindGECCO:
		if cfg.Board.CoreHz == 0 {
			return fmt.Errorf("missing core frequency for %s board", cfg.Board.Kind)
		}
	default:
		return fmt.Errorf("invalid board kind %q", cfg.Board.Kind)
	}
	if cfg.Board.Timestamp.MatchCounter && cfg.Board.Timestamp.External {
		return fmt.Errorf("FPGA timestamp can not count from both the match counter and the external input")
	}

	_, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	seen := make(map[int]bool)
	for _, lay := range cfg.Layers {
		if seen[lay.ID] {
			return fmt.Errorf("duplicate layer %d", lay.ID)
		}
		seen[lay.ID] = true
		if lay.Config == "" {
			return fmt.Errorf("missing chip configuration file for layer %d", lay.ID)
		}
		if lay.Chip == "" {
			return fmt.Errorf("missing chip name for layer %d", lay.ID)
		}
		switch lay.Mode {
		case ModeSPI, ModeSR:
		default:
			return fmt.Errorf("invalid configuration mode %q for layer %d", lay.Mode, lay.ID)
		}
	}

	if cfg.Injector != nil {
		err = cfg.Injector.Validate()
		if err != nil {
			return err
		}
	}
	return nil
}

// LayerIDs returns the identifiers of the configured layers.
func (cfg *Config) LayerIDs() []int {
	ids := make([]int, len(cfg.Layers))
	for i, lay := range cfg.Layers {
		ids[i] = lay.ID
	}
	return ids
}

// CoreFrequency returns the FPGA core frequency of the board, in Hz.
func (cfg *Config) CoreFrequency() uint64 {
	if cfg.Board.CoreHz != 0 {
		return cfg.Board.CoreHz
	}
	return board.CoreFrequencyCMOD
}

// UART returns the configuration of the serial link.
func (cfg *Config) UART() rfg.UARTConfig {
	return rfg.UARTConfig{
		Device:      cfg.Serial.Device,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: time.Duration(cfg.Serial.Timeout),
	}
}

// ParseLevel parses a message level name.
func ParseLevel(name string) (log.Level, error) {
	switch strings.ToLower(name) {
	case "debug", "dbg":
		return log.LvlDebug, nil
	case "info", "":
		return log.LvlInfo, nil
	case "warn", "warning":
		return log.LvlWarning, nil
	case "error", "err":
		return log.LvlError, nil
	default:
		return log.LvlInfo, fmt.Errorf("invalid log level %q", name)
	}
}

// Duration is a time.Duration encoded as a string ("1.5s", "100ms").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(p []byte) error {
	var v interface{}
	err := json.Unmarshal(p, &v)
	if err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*d = Duration(time.Duration(v))
	case string:
		dt, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(dt)
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}
