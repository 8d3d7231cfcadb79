// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asic

import (
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v2"
)

// LoadOption configures the loading of a chip configuration document.
type LoadOption func(*loadConfig)

type loadConfig struct {
	chips int
	rows  int
	cols  int
}

// WithChips overrides the daisy chain length declared by the document.
// n must be in [0, MaxChipID+1]; 0 keeps the declared length.
func WithChips(n int) LoadOption {
	return func(cfg *loadConfig) {
		cfg.chips = n
	}
}

// WithGeometry sets the matrix geometry used when the document does not
// declare one.
func WithGeometry(rows, cols int) LoadOption {
	return func(cfg *loadConfig) {
		cfg.rows = rows
		cfg.cols = cols
	}
}

// Load loads the configuration of the chip (or chain of chips) named
// name from the YAML file fname.
func Load(fname, name string, opts ...LoadOption) (*Chain, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("asic: could not open config file: %w", err)
	}
	defer f.Close()

	ch, err := ReadYAML(f, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("asic: could not load %q: %w", fname, err)
	}
	return ch, nil
}

// ReadYAML decodes the configuration of the chip (or chain of chips) named
// name from a YAML document of the form:
//
//	astropix3:
//	  chain:    {length: 2}
//	  geometry: {cols: 35, rows: 35}
//	  config_0:
//	    digitalconfig: {interrupt_pushpull: [1, 1], ...}
//	    vdacs:         {thpix: [10, 574], ...}
//	    recconfig:     {col0: [38, 0b001_1111...10], ...}
//	  config_1:
//	    ...
//
// Single chips use a "config" entry instead of "config_N".
// The order of blocks and fields in the document is the encoding order.
func ReadYAML(r io.Reader, name string, opts ...LoadOption) (*Chain, error) {
	var cfg loadConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("asic: could not read config: %w", err)
	}

	var doc yaml.MapSlice
	err = yaml.Unmarshal(raw, &doc)
	if err != nil {
		return nil, fmt.Errorf("asic: could not decode config: %w", err)
	}

	top, ok := get(doc, name)
	if !ok {
		return nil, &ConfigMissingError{Block: name}
	}
	sec, ok := top.(yaml.MapSlice)
	if !ok {
		return nil, fmt.Errorf("asic: %s: invalid chip section", name)
	}

	nchips := 1
	if v, ok := get(sec, "chain"); ok {
		chain, ok := v.(yaml.MapSlice)
		if !ok {
			return nil, fmt.Errorf("asic: %s: invalid chain section", name)
		}
		if v, ok := get(chain, "length"); ok {
			n, err := toUint(v)
			if err != nil {
				return nil, fmt.Errorf("asic: %s: invalid chain length: %w", name, err)
			}
			if n == 0 || n > MaxChipID+1 {
				return nil, fmt.Errorf("asic: %s: invalid chain length %d (max=%d)", name, n, MaxChipID+1)
			}
			nchips = int(n)
		}
	}
	switch {
	case cfg.chips < 0 || cfg.chips > MaxChipID+1:
		return nil, fmt.Errorf("asic: %s: invalid number of chips %d (max=%d)", name, cfg.chips, MaxChipID+1)
	case cfg.chips > 0:
		nchips = cfg.chips
	}

	rows, cols := cfg.rows, cfg.cols
	switch v, ok := get(sec, "geometry"); {
	case ok:
		geo, ok := v.(yaml.MapSlice)
		if !ok {
			return nil, fmt.Errorf("asic: %s: invalid geometry section", name)
		}
		r, err := getUint(geo, "rows")
		if err != nil {
			return nil, fmt.Errorf("asic: %s: invalid geometry: %w", name, err)
		}
		c, err := getUint(geo, "cols")
		if err != nil {
			return nil, fmt.Errorf("asic: %s: invalid geometry: %w", name, err)
		}
		rows, cols = int(r), int(c)
	case rows <= 0 || cols <= 0:
		return nil, &ConfigMissingError{Chip: name, Block: "geometry"}
	}

	chips := make([]*Chip, nchips)
	for i := range chips {
		key := fmt.Sprintf("config_%d", i)
		v, ok := get(sec, key)
		if !ok && nchips == 1 {
			key = "config"
			v, ok = get(sec, key)
		}
		if !ok {
			return nil, &ConfigMissingError{Chip: name, Block: key}
		}
		blocks, err := decodeBlocks(v)
		if err != nil {
			return nil, fmt.Errorf("asic: %s: invalid %s section: %w", name, key, err)
		}
		chip, err := NewChip(rows, cols, blocks)
		if err != nil {
			return nil, fmt.Errorf("asic: %s: invalid %s section: %w", name, key, err)
		}
		chips[i] = chip
	}

	return NewChain(name, chips...)
}

func decodeBlocks(v interface{}) ([]Block, error) {
	sec, ok := v.(yaml.MapSlice)
	if !ok {
		return nil, fmt.Errorf("not a mapping")
	}
	blocks := make([]Block, 0, len(sec))
	for _, item := range sec {
		name := fmt.Sprint(item.Key)
		fields, ok := item.Value.(yaml.MapSlice)
		if !ok {
			return nil, fmt.Errorf("block %q is not a mapping", name)
		}
		blk := Block{Name: name, Fields: make([]Field, 0, len(fields))}
		for _, f := range fields {
			key := fmt.Sprint(f.Key)
			pair, ok := f.Value.([]interface{})
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("field %s.%s is not a [width, value] pair", name, key)
			}
			w, err := toUint(pair[0])
			if err != nil {
				return nil, fmt.Errorf("invalid width of %s.%s: %w", name, key, err)
			}
			val, err := toUint(pair[1])
			if err != nil {
				return nil, fmt.Errorf("invalid value of %s.%s: %w", name, key, err)
			}
			blk.Fields = append(blk.Fields, Field{Name: key, Width: int(w), Value: val})
		}
		blocks = append(blocks, blk)
	}
	return blocks, nil
}

func get(ms yaml.MapSlice, key string) (interface{}, bool) {
	for _, item := range ms {
		if fmt.Sprint(item.Key) == key {
			return item.Value, true
		}
	}
	return nil, false
}

func getUint(ms yaml.MapSlice, key string) (uint64, error) {
	v, ok := get(ms, key)
	if !ok {
		return 0, fmt.Errorf("missing %q", key)
	}
	return toUint(v)
}

func toUint(v interface{}) (uint64, error) {
	switch v := v.(type) {
	case int:
		if v < 0 {
			return 0, fmt.Errorf("negative value %d", v)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("negative value %d", v)
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case uint:
		return uint64(v), nil
	case float64:
		if v < 0 || v != math.Trunc(v) || v > math.MaxUint64 {
			return 0, fmt.Errorf("invalid value %v", v)
		}
		return uint64(v), nil
	default:
		return 0, fmt.Errorf("invalid value type %T", v)
	}
}
