// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package board

import (
	"fmt"
)

// DividerOutOfRangeError is returned when the clock divider needed to reach
// a target frequency does not fit the divider register.
type DividerOutOfRangeError struct {
	Target  uint64  // requested frequency, in Hz
	Core    uint64  // FPGA core frequency, in Hz
	Divider uint64  // computed divider
	Max     uint64  // largest valid divider
	MinHz   float64 // smallest achievable frequency, in Hz
	MaxHz   float64 // largest achievable frequency, in Hz
}

func (e *DividerOutOfRangeError) Error() string {
	return fmt.Sprintf(
		"board: divider %d for %d Hz is out of range [1, %d] (core=%d Hz, min. frequency=%.0f Hz, max. frequency=%.0f Hz)",
		e.Divider, e.Target, e.Max, e.Core, e.MinHz, e.MaxHz,
	)
}

// LayerInResetError is returned when a bulk transfer is attempted on a
// layer whose reset line is asserted.
type LayerInResetError struct {
	Layer int
}

func (e *LayerInResetError) Error() string {
	return fmt.Sprintf("board: layer %d is in reset", e.Layer)
}

// StuckLayerWarning reports a layer whose interrupt did not go high within
// the bounded number of flush iterations.
// It is only logged: the layer may legitimately be idle.
type StuckLayerWarning struct {
	Layer      int
	Iterations int
	Status     uint64 // last value of the layer status register
}

func (e *StuckLayerWarning) Error() string {
	return fmt.Sprintf(
		"board: layer %d interrupt still low after %d flush iterations (status=0x%x)",
		e.Layer, e.Iterations, e.Status,
	)
}

// LayerStateError is returned when an operation requires a layer to be in
// a given state.
type LayerStateError struct {
	Layer int
	State LayerState
	Want  LayerState
}

func (e *LayerStateError) Error() string {
	return fmt.Sprintf("board: layer %d is %v (want %v)", e.Layer, e.State, e.Want)
}
