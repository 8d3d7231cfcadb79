// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package runcfg

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/astep/injector"
)

func TestLoad(t *testing.T) {
	cfg, err := Load("testdata/run.yml")
	if err != nil {
		t.Fatalf("could not load configuration: %+v", err)
	}

	if got, want := cfg.UART().Device, "/dev/ttyUSB3"; got != want {
		t.Fatalf("invalid device: got=%q, want=%q", got, want)
	}
	if got, want := cfg.UART().ReadTimeout, time.Second; got != want {
		t.Fatalf("invalid timeout: got=%v, want=%v", got, want)
	}
	if got, want := cfg.Board.SPIHz, uint64(2_000_000); got != want {
		t.Fatalf("invalid SPI frequency: got=%d, want=%d", got, want)
	}
	if got, want := time.Duration(cfg.Board.ResetWait), 250*time.Millisecond; got != want {
		t.Fatalf("invalid reset wait: got=%v, want=%v", got, want)
	}
	if got, want := time.Duration(cfg.Board.ChunkDelay), 100*time.Millisecond; got != want {
		t.Fatalf("invalid default chunk delay: got=%v, want=%v", got, want)
	}
	if got, want := cfg.CoreFrequency(), uint64(60_000_000); got != want {
		t.Fatalf("invalid core frequency: got=%d, want=%d", got, want)
	}
	if got, want := time.Duration(cfg.Readout.Duration), 150*time.Second; got != want {
		t.Fatalf("invalid run duration: got=%v, want=%v", got, want)
	}
	if got, want := cfg.LayerIDs(), []int{0, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid layers: got=%v, want=%v", got, want)
	}

	lay := cfg.Layers[0]
	if got, want := lay.Config, filepath.Join("testdata", "../../asic/testdata/astropix3.yml"); got != want {
		t.Fatalf("invalid chip config path: got=%q, want=%q", got, want)
	}
	if lay.AnalogCol == nil || *lay.AnalogCol != 3 {
		t.Fatalf("invalid analog column: %v", lay.AnalogCol)
	}
	if got, want := lay.Pixels, []Pixel{{Chip: 0, Col: 3, Row: 4}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid pixels: got=%v, want=%v", got, want)
	}
	if lay.Inject == nil || *lay.Inject != (Pixel{Col: 3, Row: 4}) {
		t.Fatalf("invalid injected pixel: %v", lay.Inject)
	}
	if got, want := cfg.Layers[1].CkDiv, 16; got != want {
		t.Fatalf("invalid ckdiv: got=%d, want=%d", got, want)
	}

	want := injector.DefaultPattern()
	want.Period = 162
	if cfg.Injector == nil || !cfg.Injector.Enable || cfg.Injector.Pattern != want {
		t.Fatalf("invalid injector: %+v", cfg.Injector)
	}

	lvl, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		t.Fatalf("could not parse log level: %+v", err)
	}
	if lvl != log.LvlDebug {
		t.Fatalf("invalid log level: got=%v, want=%v", lvl, log.LvlDebug)
	}
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "cfg", "run.yml")

	cfg := Default()
	cfg.Layers = []Layer{{ID: 1, Config: "/etc/astep/chip.yml", Chip: "astropix3", Mode: ModeSPI}}
	cfg.Readout.Duration = Duration(10 * time.Minute)
	cfg.Injector = &Injector{Enable: true, Pattern: injector.DefaultPattern()}

	err := cfg.Save(fname, false)
	if err != nil {
		t.Fatalf("could not save configuration: %+v", err)
	}

	err = cfg.Save(fname, false)
	if !errors.Is(err, ErrFileExists) {
		t.Fatalf("invalid error: %+v", err)
	}
	err = cfg.Save(fname, true)
	if err != nil {
		t.Fatalf("could not overwrite configuration: %+v", err)
	}

	got, err := Load(fname)
	if err != nil {
		t.Fatalf("could not load configuration: %+v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Fatalf("round trip failed:\ngot= %+v\nwant=%+v", got, cfg)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
	}{
		{"unknown-field", "serial: {device: /dev/ttyUSB0, parity: odd}\n"},
		{"bad-kind", "board: {kind: nexys}\n"},
		{"gecco-no-core", "board: {kind: gecco}\n"},
		{"bad-level", "log_level: chatty\n"},
		{"bad-mode", "layers: [{id: 0, config: c.yml, chip: astropix3, mode: i2c}]\n"},
		{"dup-layer", "layers: [{id: 0, config: c.yml, chip: astropix3, mode: spi}, {id: 0, config: c.yml, chip: astropix3, mode: sr}]\n"},
		{"no-chip", "layers: [{id: 0, config: c.yml, mode: spi}]\n"},
		{"bad-injector", "injector: {enable: true, period: 256}\n"},
		{"bad-duration", "readout: {duration: forever}\n"},
		{"both-timestamps", "board: {timestamp: {match_counter: true, external: true}}\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fname := filepath.Join(t.TempDir(), "run.yml")
			err := os.WriteFile(fname, []byte(tc.doc), 0644)
			if err != nil {
				t.Fatalf("could not write config: %+v", err)
			}
			_, err = Load(fname)
			if err == nil {
				t.Fatalf("expected an error")
			}
		})
	}

	cfg := Default()
	cfg.Board.Kind = KindGECCO
	cfg.Board.CoreHz = 80_000_000
	err := cfg.Validate()
	if err != nil {
		t.Fatalf("could not validate gecco config: %+v", err)
	}
	if got, want := cfg.CoreFrequency(), uint64(80_000_000); got != want {
		t.Fatalf("invalid core frequency: got=%d, want=%d", got, want)
	}
}

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		name string
		want log.Level
	}{
		{"debug", log.LvlDebug},
		{"INFO", log.LvlInfo},
		{"", log.LvlInfo},
		{"warn", log.LvlWarning},
		{"error", log.LvlError},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseLevel(tc.name)
			if err != nil {
				t.Fatalf("could not parse level: %+v", err)
			}
			if got != tc.want {
				t.Fatalf("invalid level: got=%v, want=%v", got, tc.want)
			}
		})
	}
}
