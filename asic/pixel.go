// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asic

import "fmt"

// Layout of a recconfig column mask, for a matrix of n rows:
//   - bit 0:       row injection switch (of the row with the column index),
//   - bits 1..n:   comparator disable of rows 0..n-1 (cleared: pixel enabled),
//   - bit n+1:     column injection switch,
//   - bit n+2:     analog output (amplifier mux) select.
const injRowBit = 0

// DefaultColumnMask returns the recconfig mask of a column with all pixels
// disabled and all injection and analog switches off.
func DefaultColumnMask(rows int) uint64 {
	return (uint64(1)<<uint(rows) - 1) << 1
}

func colName(i int) string { return fmt.Sprintf("col%d", i) }

func (chip *Chip) checkRow(row int) error {
	if row < 0 || row >= chip.Rows {
		return fmt.Errorf("asic: row %d outside of matrix (rows=%d)", row, chip.Rows)
	}
	return nil
}

func (chip *Chip) checkCol(col int) error {
	if col < 0 || col >= chip.Cols {
		return fmt.Errorf("asic: column %d outside of matrix (cols=%d)", col, chip.Cols)
	}
	return nil
}

func (chip *Chip) column(col int) (*Field, error) {
	err := chip.checkCol(col)
	if err != nil {
		return nil, err
	}
	return chip.lookup(RecConfig, colName(col))
}

func (chip *Chip) setBit(f *Field, bit int, on bool) error {
	if bit >= f.Width {
		return &EncodingError{Block: RecConfig, Field: f.Name, Width: f.Width, Value: uint64(1) << uint(bit)}
	}
	if on {
		f.Value |= uint64(1) << uint(bit)
		return nil
	}
	f.Value &^= uint64(1) << uint(bit)
	return nil
}

// EnablePixel turns on the comparator of the pixel at (col, row).
func (chip *Chip) EnablePixel(col, row int) error {
	err := chip.checkRow(row)
	if err != nil {
		return err
	}
	f, err := chip.column(col)
	if err != nil {
		return err
	}
	return chip.setBit(f, row+1, false)
}

// DisablePixel turns off the comparator of the pixel at (col, row).
func (chip *Chip) DisablePixel(col, row int) error {
	err := chip.checkRow(row)
	if err != nil {
		return err
	}
	f, err := chip.column(col)
	if err != nil {
		return err
	}
	return chip.setBit(f, row+1, true)
}

// IsPixelEnabled reports whether the comparator of the pixel at (col, row) is on.
func (chip *Chip) IsPixelEnabled(col, row int) (bool, error) {
	err := chip.checkRow(row)
	if err != nil {
		return false, err
	}
	f, err := chip.column(col)
	if err != nil {
		return false, err
	}
	return f.Value&(uint64(1)<<uint(row+1)) == 0, nil
}

// EnableInjRow closes the injection switch of the given row.
// Row switches live in bit 0 of the column mask with the same index.
func (chip *Chip) EnableInjRow(row int) error {
	return chip.injRow(row, true)
}

// DisableInjRow opens the injection switch of the given row.
func (chip *Chip) DisableInjRow(row int) error {
	return chip.injRow(row, false)
}

func (chip *Chip) injRow(row int, on bool) error {
	err := chip.checkRow(row)
	if err != nil {
		return err
	}
	f, err := chip.lookup(RecConfig, colName(row))
	if err != nil {
		return err
	}
	return chip.setBit(f, injRowBit, on)
}

// EnableInjCol closes the injection switch of the given column.
func (chip *Chip) EnableInjCol(col int) error {
	return chip.injCol(col, true)
}

// DisableInjCol opens the injection switch of the given column.
func (chip *Chip) DisableInjCol(col int) error {
	return chip.injCol(col, false)
}

func (chip *Chip) injCol(col int, on bool) error {
	f, err := chip.column(col)
	if err != nil {
		return err
	}
	return chip.setBit(f, chip.Rows+1, on)
}

// EnableAmpOutCol routes the analog output of the given column to the
// amplifier mux, and disconnects all the other columns.
func (chip *Chip) EnableAmpOutCol(col int) error {
	sel, err := chip.column(col)
	if err != nil {
		return err
	}
	blk, err := chip.Block(RecConfig)
	if err != nil {
		return err
	}
	bit := chip.Rows + 2
	for i := range blk.Fields {
		f := &blk.Fields[i]
		if bit >= f.Width {
			continue
		}
		f.Value &^= uint64(1) << uint(bit)
	}
	return chip.setBit(sel, bit, true)
}

// ResetRecConfig disables all pixels, injection switches and analog
// outputs.
func (chip *Chip) ResetRecConfig() error {
	blk, err := chip.Block(RecConfig)
	if err != nil {
		return err
	}
	mask := DefaultColumnMask(chip.Rows)
	for i := range blk.Fields {
		f := &blk.Fields[i]
		if !fits(mask, f.Width) {
			return &EncodingError{Block: RecConfig, Field: f.Name, Width: f.Width, Value: mask}
		}
	}
	for i := range blk.Fields {
		blk.Fields[i].Value = mask
	}
	return nil
}
