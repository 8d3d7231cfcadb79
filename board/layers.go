// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package board

import (
	"context"
	"fmt"
	"time"

	"github.com/go-lpc/astep/internal/regs"
)

// cfg_ctrl bits.
const (
	ctrlHold            = 1 << 0
	ctrlReset           = 1 << 1
	ctrlAutoreadDisable = 1 << 2
	ctrlChipSelect      = 1 << 3
	ctrlMISODisable     = 1 << 4
)

// LayerControl is the content of a layer cfg_ctrl register.
//
// Hold and Reset are only wired to layer 0 and are shared by all layers.
// ChipSelect is OR-ed between layers on the bus.
type LayerControl struct {
	Hold            bool `json:"hold"`
	Reset           bool `json:"reset"`
	AutoreadDisable bool `json:"autoread_disable"`
	ChipSelect      bool `json:"chip_select"`
	MISODisable     bool `json:"miso_disable"`
}

// Encode returns the register value of the control word.
func (lc LayerControl) Encode() uint64 {
	var v uint64
	v = setBit(v, ctrlHold, lc.Hold)
	v = setBit(v, ctrlReset, lc.Reset)
	v = setBit(v, ctrlAutoreadDisable, lc.AutoreadDisable)
	v = setBit(v, ctrlChipSelect, lc.ChipSelect)
	v = setBit(v, ctrlMISODisable, lc.MISODisable)
	return v
}

// DecodeLayerControl decodes a cfg_ctrl register value.
func DecodeLayerControl(v uint64) LayerControl {
	return LayerControl{
		Hold:            v&ctrlHold != 0,
		Reset:           v&ctrlReset != 0,
		AutoreadDisable: v&ctrlAutoreadDisable != 0,
		ChipSelect:      v&ctrlChipSelect != 0,
		MISODisable:     v&ctrlMISODisable != 0,
	}
}

// Autoread reports whether interrupt-driven automatic reading is enabled.
func (lc LayerControl) Autoread() bool { return !lc.AutoreadDisable }

func (lc LayerControl) String() string {
	return fmt.Sprintf(
		"{hold:%v reset:%v autoread:%v cs:%v miso:%v}",
		lc.Hold, lc.Reset, lc.Autoread(), lc.ChipSelect, !lc.MISODisable,
	)
}

// BoardSharedLines is the state of the lines shared by all layers,
// as last driven by the board.
type BoardSharedLines struct {
	Hold       bool `json:"hold"`
	Reset      bool `json:"reset"`
	ChipSelect bool `json:"chip_select"`
}

// LayerState is the state of a layer.
type LayerState int

const (
	StateIdle              LayerState = iota // released and deselected
	StateReset                               // shared reset asserted
	StateHeld                                // shared hold asserted, deselected
	StateSelectedIdle                        // selected, MISO disabled or held
	StateSelectedStreaming                   // selected, MISO enabled, released
)

func (s LayerState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReset:
		return "RESET"
	case StateHeld:
		return "HELD"
	case StateSelectedIdle:
		return "SELECTED_IDLE"
	case StateSelectedStreaming:
		return "SELECTED_STREAMING"
	default:
		return fmt.Sprintf("LayerState(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s LayerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// stateOf derives the state of a layer from the control words of layer 0,
// holding the shared lines, and of the layer itself.
func stateOf(shared, lc LayerControl) LayerState {
	cs := shared.ChipSelect || lc.ChipSelect
	switch {
	case shared.Reset:
		return StateReset
	case cs && !lc.MISODisable && !shared.Hold:
		return StateSelectedStreaming
	case cs:
		return StateSelectedIdle
	case shared.Hold:
		return StateHeld
	default:
		return StateIdle
	}
}

func (brd *Board) checkLayer(id int) error {
	if id < 0 || id >= regs.NumLayers {
		return fmt.Errorf("board: invalid layer %d (layers: [0, %d))", id, regs.NumLayers)
	}
	return nil
}

// setControl queues the write of lc to the cfg_ctrl register of layer id
// and updates the shared lines accordingly.
// It is the only path modifying a layer control register.
func (brd *Board) setControl(op *regop, id int, lc LayerControl, flush bool) {
	if op.err != nil {
		return
	}
	op.write(brd.layers[id].regs.CfgCtrl, lc.Encode(), flush)
	if op.err != nil {
		return
	}
	brd.track(id, lc)
}

// getControl reads the cfg_ctrl register of layer id.
func (brd *Board) getControl(op *regop, id int) LayerControl {
	v := op.read(brd.layers[id].regs.CfgCtrl)
	if op.err != nil {
		return LayerControl{}
	}
	lc := DecodeLayerControl(v)
	brd.track(id, lc)
	return lc
}

func (brd *Board) track(id int, lc LayerControl) {
	brd.layers[id].ctrl = lc
	if id == 0 {
		brd.shared.Hold = lc.Hold
		brd.shared.Reset = lc.Reset
	}
	cs := false
	for _, lay := range brd.layers {
		cs = cs || lay.ctrl.ChipSelect
	}
	brd.shared.ChipSelect = cs
}

// SharedLines returns the shared lines as last driven or read by the board.
func (brd *Board) SharedLines() BoardSharedLines {
	return brd.shared
}

// LayerControl reads the control register of a layer.
func (brd *Board) LayerControl(ctx context.Context, id int) (LayerControl, error) {
	err := brd.checkLayer(id)
	if err != nil {
		return LayerControl{}, err
	}
	op := brd.op(ctx)
	lc := brd.getControl(op, id)
	if op.err != nil {
		return lc, fmt.Errorf("board: could not read layer %d control: %w", id, op.err)
	}
	return lc, nil
}

// State returns the state of a layer, derived from the hardware registers.
func (brd *Board) State(ctx context.Context, id int) (LayerState, error) {
	err := brd.checkLayer(id)
	if err != nil {
		return StateIdle, err
	}
	op := brd.op(ctx)
	var (
		l0 = brd.getControl(op, 0)
		lc = l0
	)
	if id != 0 {
		lc = brd.getControl(op, id)
	}
	if op.err != nil {
		return StateIdle, fmt.Errorf("board: could not read layer %d state: %w", id, op.err)
	}
	return stateOf(l0, lc), nil
}

func (brd *Board) requireState(ctx context.Context, id int, want LayerState) error {
	state, err := brd.State(ctx, id)
	if err != nil {
		return err
	}
	if state != want {
		return &LayerStateError{Layer: id, State: state, Want: want}
	}
	return nil
}

// EnableReadout enables the readout of the provided layers.
//
// All layers are first disabled, then each requested layer is selected
// with its MISO enabled, and finally the shared hold is lowered once.
func (brd *Board) EnableReadout(ctx context.Context, layers []int, autoread bool) error {
	for _, id := range layers {
		err := brd.checkLayer(id)
		if err != nil {
			return err
		}
	}

	op := brd.op(ctx)
	brd.disableReadout(op, false)
	for _, id := range layers {
		brd.setControl(op, id, LayerControl{
			Hold:            id == 0,
			AutoreadDisable: !autoread,
			ChipSelect:      true,
		}, false)
	}
	brd.hold(op, false, true)
	if op.err != nil {
		return fmt.Errorf("board: could not enable readout of layers %v: %w", layers, op.err)
	}
	brd.msg.Debugf("readout enabled for layers %v (autoread=%v)", layers, autoread)
	return nil
}

// DisableReadout raises the shared hold and disables autoread, chip-select
// and MISO on all layers.
// When flush is false, the writes are only queued and reach the board with
// the next flush or read of the register file.
func (brd *Board) DisableReadout(ctx context.Context, flush bool) error {
	op := brd.op(ctx)
	brd.disableReadout(op, flush)
	if op.err != nil {
		return fmt.Errorf("board: could not disable readout: %w", op.err)
	}
	return nil
}

func (brd *Board) disableReadout(op *regop, flush bool) {
	for i := range brd.layers {
		brd.setControl(op, i, LayerControl{
			Hold:            true,
			AutoreadDisable: true,
			MISODisable:     true,
		}, false)
	}
	if flush {
		op.flush()
	}
}

// Hold asserts or deasserts the shared hold line, through layer 0.
func (brd *Board) Hold(ctx context.Context, hold, flush bool) error {
	op := brd.op(ctx)
	brd.hold(op, hold, flush)
	if op.err != nil {
		return fmt.Errorf("board: could not set hold=%v: %w", hold, op.err)
	}
	return nil
}

func (brd *Board) hold(op *regop, hold, flush bool) {
	lc := brd.getControl(op, 0)
	lc.Hold = hold
	brd.setControl(op, 0, lc, flush)
}

// SelectSPI asserts the shared chip-select line, through layer 0.
// Layers in autoread mode already assert it.
func (brd *Board) SelectSPI(ctx context.Context, flush bool) error {
	op := brd.op(ctx)
	brd.chipSelect(op, true, flush)
	if op.err != nil {
		return fmt.Errorf("board: could not select SPI: %w", op.err)
	}
	return nil
}

// DeselectSPI deasserts the shared chip-select line, through layer 0.
// Layers in autoread mode keep it asserted.
func (brd *Board) DeselectSPI(ctx context.Context, flush bool) error {
	op := brd.op(ctx)
	brd.chipSelect(op, false, flush)
	if op.err != nil {
		return fmt.Errorf("board: could not deselect SPI: %w", op.err)
	}
	return nil
}

func (brd *Board) chipSelect(op *regop, cs, flush bool) {
	lc := brd.getControl(op, 0)
	lc.ChipSelect = cs
	brd.setControl(op, 0, lc, flush)
}

// ResetLayers asserts the shared reset line for the wait duration, then
// clears it.
// The wait is not interrupted by ctx, and reset is cleared even when ctx
// is canceled meanwhile.
func (brd *Board) ResetLayers(ctx context.Context, wait time.Duration) error {
	op := brd.op(ctx)
	lc := brd.getControl(op, 0)
	lc.Reset = true
	brd.setControl(op, 0, lc, true)
	if op.err != nil {
		return fmt.Errorf("board: could not assert layers reset: %w", op.err)
	}

	brd.msg.Debugf("layers in reset for %v", wait)
	brd.sleep(wait)

	op = brd.op(context.Background())
	lc.Reset = false
	brd.setControl(op, 0, lc, true)
	if op.err != nil {
		return fmt.Errorf("board: could not clear layers reset: %w", op.err)
	}
	return nil
}

// AssertNotInReset returns a LayerInResetError if the reset line seen by
// the layer is asserted.
func (brd *Board) AssertNotInReset(ctx context.Context, id int) error {
	err := brd.checkLayer(id)
	if err != nil {
		return err
	}
	op := brd.op(ctx)
	l0 := brd.getControl(op, 0)
	lc := l0
	if id != 0 {
		lc = brd.getControl(op, id)
	}
	if op.err != nil {
		return fmt.Errorf("board: could not read layer %d control: %w", id, op.err)
	}
	if l0.Reset || lc.Reset {
		return &LayerInResetError{Layer: id}
	}
	return nil
}

// WriteBytes writes p to the MOSI buffer of a layer.
// When wait is true, WriteBytes flushes the write and waits until the
// layer has shifted all the bytes out.
func (brd *Board) WriteBytes(ctx context.Context, id int, p []byte, wait bool) error {
	err := brd.checkLayer(id)
	if err != nil {
		return err
	}
	lay := &brd.layers[id]

	op := brd.op(ctx)
	op.writeBytes(lay.regs.MOSIBytes, p, wait)
	if op.err != nil {
		return fmt.Errorf("board: could not write %d bytes to layer %d: %w", len(p), id, op.err)
	}
	if !wait {
		return nil
	}

	err = brd.AssertNotInReset(ctx, id)
	if err != nil {
		return err
	}

	for {
		n := op.read(lay.regs.MOSIWriteSize)
		if op.err != nil {
			return fmt.Errorf("board: could not read layer %d MOSI write size: %w", id, op.err)
		}
		if n == 0 {
			return nil
		}
		err = ctx.Err()
		if err != nil {
			return fmt.Errorf("board: could not wait for layer %d MOSI bytes: %w", id, err)
		}
	}
}

// LayerStats holds the statistics counters of a layer.
type LayerStats struct {
	Idle        uint64 `json:"idle"`
	Frames      uint64 `json:"frames"`
	WrongLength uint64 `json:"wrong_length"`
	Status      uint64 `json:"status"`
	MOSIPending uint64 `json:"mosi_pending"`
}

// LayerStats reads the statistics counters of a layer.
func (brd *Board) LayerStats(ctx context.Context, id int) (LayerStats, error) {
	err := brd.checkLayer(id)
	if err != nil {
		return LayerStats{}, err
	}
	var (
		lay = &brd.layers[id]
		op  = brd.op(ctx)
	)
	stats := LayerStats{
		Idle:        op.read(lay.regs.StatIdleCounter),
		Frames:      op.read(lay.regs.StatFrameCounter),
		WrongLength: op.read(lay.regs.StatWrongLengthCounter),
		Status:      op.read(lay.regs.Status),
		MOSIPending: op.read(lay.regs.MOSIWriteSize),
	}
	if op.err != nil {
		return stats, fmt.Errorf("board: could not read layer %d stats: %w", id, op.err)
	}
	return stats, nil
}

// ResetStatCounters zeroes the frame and idle counters of a layer.
func (brd *Board) ResetStatCounters(ctx context.Context, id int, flush bool) error {
	err := brd.checkLayer(id)
	if err != nil {
		return err
	}
	op := brd.op(ctx)
	brd.resetStatCounters(op, id, flush)
	if op.err != nil {
		return fmt.Errorf("board: could not reset layer %d counters: %w", id, op.err)
	}
	return nil
}

func (brd *Board) resetStatCounters(op *regop, id int, flush bool) {
	lay := &brd.layers[id]
	op.write(lay.regs.StatFrameCounter, 0, false)
	op.write(lay.regs.StatIdleCounter, 0, flush)
}

// ZeroWrongLength zeroes the wrong-length counter of a layer.
func (brd *Board) ZeroWrongLength(ctx context.Context, id int, flush bool) error {
	err := brd.checkLayer(id)
	if err != nil {
		return err
	}
	op := brd.op(ctx)
	op.write(brd.layers[id].regs.StatWrongLengthCounter, 0, flush)
	if op.err != nil {
		return fmt.Errorf("board: could not zero layer %d wrong-length counter: %w", id, op.err)
	}
	return nil
}
