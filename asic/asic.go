// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package asic describes the configuration of AstroPix chips and daisy
// chains of chips, and encodes it into the shift-register and SPI
// configuration protocols.
package asic // import "github.com/go-lpc/astep/asic"

import (
	"fmt"
)

// Names of the configuration blocks with a dedicated meaning.
const (
	RecConfig = "recconfig" // per-column pixel, injection and analog masks
	VDACs     = "vdacs"     // voltage DACs
)

// reversed lists the blocks whose fields are shifted in LSB first,
// while the rest of the vector is shifted in MSB first.
var reversed = map[string]bool{
	VDACs: true,
}

// Field is a scalar configuration parameter packed on Width bits.
type Field struct {
	Name  string
	Width int
	Value uint64
}

// Block is an ordered list of configuration fields.
type Block struct {
	Name   string
	Fields []Field
}

func (blk *Block) field(name string) *Field {
	for i := range blk.Fields {
		if blk.Fields[i].Name == name {
			return &blk.Fields[i]
		}
	}
	return nil
}

// Chip is the configuration of a single chip.
//
// Blocks are encoded in slice order: that order is the order the chip
// shift register expects.
type Chip struct {
	Rows   int
	Cols   int
	Blocks []Block
}

// NewChip creates a chip configuration and validates its blocks.
func NewChip(rows, cols int, blocks []Block) (*Chip, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("asic: invalid matrix geometry (rows=%d, cols=%d)", rows, cols)
	}
	chip := &Chip{Rows: rows, Cols: cols, Blocks: blocks}
	err := chip.validate()
	if err != nil {
		return nil, err
	}
	return chip, nil
}

func (chip *Chip) validate() error {
	blks := make(map[string]bool, len(chip.Blocks))
	for _, blk := range chip.Blocks {
		if blks[blk.Name] {
			return fmt.Errorf("asic: duplicate block %q", blk.Name)
		}
		blks[blk.Name] = true
		names := make(map[string]bool, len(blk.Fields))
		for _, f := range blk.Fields {
			if names[f.Name] {
				return fmt.Errorf("asic: duplicate field %s.%s", blk.Name, f.Name)
			}
			names[f.Name] = true
			if f.Width <= 0 || f.Width > 64 {
				return fmt.Errorf("asic: invalid width %d for %s.%s", f.Width, blk.Name, f.Name)
			}
			if !fits(f.Value, f.Width) {
				return &EncodingError{Block: blk.Name, Field: f.Name, Width: f.Width, Value: f.Value}
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the chip configuration.
func (chip *Chip) Clone() *Chip {
	o := &Chip{
		Rows:   chip.Rows,
		Cols:   chip.Cols,
		Blocks: make([]Block, len(chip.Blocks)),
	}
	for i, blk := range chip.Blocks {
		o.Blocks[i] = Block{
			Name:   blk.Name,
			Fields: append([]Field(nil), blk.Fields...),
		}
	}
	return o
}

// Block returns the named configuration block.
func (chip *Chip) Block(name string) (*Block, error) {
	for i := range chip.Blocks {
		if chip.Blocks[i].Name == name {
			return &chip.Blocks[i], nil
		}
	}
	return nil, &ConfigMissingError{Block: name}
}

func (chip *Chip) lookup(block, name string) (*Field, error) {
	blk, err := chip.Block(block)
	if err != nil {
		return nil, err
	}
	f := blk.field(name)
	if f == nil {
		return nil, &ConfigMissingError{Block: block, Field: name}
	}
	return f, nil
}

// Field returns the value of the named field.
func (chip *Chip) Field(block, name string) (uint64, error) {
	f, err := chip.lookup(block, name)
	if err != nil {
		return 0, err
	}
	return f.Value, nil
}

// SetField sets the value of the named field.
func (chip *Chip) SetField(block, name string, v uint64) error {
	f, err := chip.lookup(block, name)
	if err != nil {
		return err
	}
	if !fits(v, f.Width) {
		return &EncodingError{Block: block, Field: name, Width: f.Width, Value: v}
	}
	f.Value = v
	return nil
}

// Len returns the number of configuration bits of the chip.
func (chip *Chip) Len() int {
	n := 0
	for _, blk := range chip.Blocks {
		for _, f := range blk.Fields {
			n += f.Width
		}
	}
	return n
}

// Vector returns the configuration bit vector of the chip.
//
// Every field is packed MSB first on its width, except for the fields of
// the VDACs block which are packed LSB first.
// The whole vector is then reversed, unless msbFirst is requested.
func (chip *Chip) Vector(msbFirst bool) (Bits, error) {
	err := chip.validate()
	if err != nil {
		return nil, err
	}

	bits := make(Bits, 0, chip.Len())
	for _, blk := range chip.Blocks {
		rev := reversed[blk.Name]
		for _, f := range blk.Fields {
			beg := len(bits)
			bits = appendUint(bits, f.Value, f.Width)
			if rev {
				bits[beg:].Reverse()
			}
		}
	}

	if !msbFirst {
		bits.Reverse()
	}
	return bits, nil
}

// Decode sets the field values of the chip from a configuration vector
// generated with the same msbFirst flag.
func (chip *Chip) Decode(bits Bits, msbFirst bool) error {
	if got, want := len(bits), chip.Len(); got != want {
		return fmt.Errorf("asic: invalid vector length (got=%d, want=%d)", got, want)
	}

	vec := append(Bits(nil), bits...)
	if !msbFirst {
		vec.Reverse()
	}

	for i := range chip.Blocks {
		blk := &chip.Blocks[i]
		rev := reversed[blk.Name]
		for j := range blk.Fields {
			f := &blk.Fields[j]
			sub := append(Bits(nil), vec[:f.Width]...)
			vec = vec[f.Width:]
			if rev {
				sub.Reverse()
			}
			f.Value = uintOf(sub)
		}
	}
	return nil
}

// Chain is a daisy chain of chips sharing one layer.
// Chips are indexed by their chip ID.
type Chain struct {
	Name  string
	Chips []*Chip
}

// NewChain creates a daisy chain of chips.
func NewChain(name string, chips ...*Chip) (*Chain, error) {
	if len(chips) == 0 {
		return nil, fmt.Errorf("asic: empty daisy chain")
	}
	if len(chips) > MaxChipID+1 {
		return nil, fmt.Errorf("asic: too many chips in daisy chain (n=%d, max=%d)", len(chips), MaxChipID+1)
	}
	return &Chain{Name: name, Chips: chips}, nil
}

// Len returns the number of chips in the chain.
func (ch *Chain) Len() int { return len(ch.Chips) }

// Chip returns the configuration of the i-th chip.
func (ch *Chain) Chip(i int) (*Chip, error) {
	if i < 0 || i >= len(ch.Chips) {
		return nil, fmt.Errorf("asic: %s: invalid chip index %d (chips=%d)", ch.Name, i, len(ch.Chips))
	}
	return ch.Chips[i], nil
}

// Vector returns the configuration bit vector of the whole chain.
//
// Chips are encoded from the highest index down to chip 0, each chip
// vector being built (and reversed unless msbFirst) independently:
// bits clocked in first travel to the chips farthest down the chain.
func (ch *Chain) Vector(msbFirst bool) (Bits, error) {
	n := 0
	for _, chip := range ch.Chips {
		n += chip.Len()
	}

	bits := make(Bits, 0, n)
	for i := len(ch.Chips) - 1; i >= 0; i-- {
		sub, err := ch.Chips[i].Vector(msbFirst)
		if err != nil {
			return nil, fmt.Errorf("asic: %s: could not encode chip %d: %w", ch.Name, i, err)
		}
		bits = append(bits, sub...)
	}
	return bits, nil
}

// Decode sets the field values of all chips from a chain vector
// generated with the same msbFirst flag.
func (ch *Chain) Decode(bits Bits, msbFirst bool) error {
	for i := len(ch.Chips) - 1; i >= 0; i-- {
		chip := ch.Chips[i]
		n := chip.Len()
		if len(bits) < n {
			return fmt.Errorf("asic: %s: vector too short for chip %d", ch.Name, i)
		}
		err := chip.Decode(bits[:n], msbFirst)
		if err != nil {
			return fmt.Errorf("asic: %s: could not decode chip %d: %w", ch.Name, i, err)
		}
		bits = bits[n:]
	}
	if len(bits) != 0 {
		return fmt.Errorf("asic: %s: %d trailing bits in vector", ch.Name, len(bits))
	}
	return nil
}
