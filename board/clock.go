// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package board

import (
	"context"
	"fmt"

	"github.com/go-lpc/astep/internal/regs"
)

// DividerPath selects how a divider relates the core clock to the
// target frequency.
type DividerPath int

const (
	// FrameTagPath divides the core clock directly: div = core/target.
	FrameTagPath DividerPath = iota
	// HalfPeriodPath toggles the clock every div cycles: div = core/(2*target).
	HalfPeriodPath
)

const (
	// MaxSPIDivider is the largest value of the 8-bit SPI clock divider.
	MaxSPIDivider = 0xff
	// MaxFrameTagDivider is the largest value of the 8-bit frame tag divider.
	MaxFrameTagDivider = 0xff
	// MaxTimestampDivider is the largest value of the 32-bit timestamp
	// match counter.
	MaxTimestampDivider = 1<<32 - 1
)

// Divider returns the divider of the core clock reaching the target
// frequency, or a DividerOutOfRangeError if it is outside [1, maxDiv].
func Divider(target, core, maxDiv uint64, path DividerPath) (uint64, error) {
	if target == 0 {
		return 0, fmt.Errorf("board: invalid target frequency 0 Hz")
	}
	var (
		div  uint64
		span = float64(core)
	)
	switch path {
	case FrameTagPath:
		div = core / target
	case HalfPeriodPath:
		div = core / target / 2
		span /= 2
	default:
		return 0, fmt.Errorf("board: invalid divider path %d", path)
	}

	if div < 1 || div > maxDiv {
		return 0, &DividerOutOfRangeError{
			Target:  target,
			Core:    core,
			Divider: div,
			Max:     maxDiv,
			MinHz:   span / float64(maxDiv),
			MaxHz:   span,
		}
	}
	return div, nil
}

// ConfigureSPIFrequency sets the SPI bit clock of all layers to the
// provided frequency, in Hz.
func (brd *Board) ConfigureSPIFrequency(ctx context.Context, hz uint64, flush bool) error {
	div, err := Divider(hz, brd.cfg.core, MaxSPIDivider, HalfPeriodPath)
	if err != nil {
		return fmt.Errorf("board: could not configure SPI frequency: %w", err)
	}
	brd.msg.Debugf("SPI clock: %d Hz (divider=%d)", hz, div)
	return brd.ConfigureSPIDivider(ctx, div, flush)
}

// ConfigureSPIDivider sets the SPI clock divider of all layers.
func (brd *Board) ConfigureSPIDivider(ctx context.Context, div uint64, flush bool) error {
	op := brd.op(ctx)
	op.write(regs.SPILayersCkDivider, div, flush)
	if op.err != nil {
		return fmt.Errorf("board: could not configure SPI divider: %w", op.err)
	}
	return nil
}

// ConfigureFrameTag enables or disables the frame tag counter.
func (brd *Board) ConfigureFrameTag(ctx context.Context, enable, flush bool) error {
	var v uint64
	if enable {
		v = tsEnable
	}
	op := brd.op(ctx)
	op.write(regs.FrameTagCounterCtrl, v, flush)
	if op.err != nil {
		return fmt.Errorf("board: could not configure frame tag: %w", op.err)
	}
	return nil
}

// ConfigureFrameTagFrequency sets the frame tag counter frequency, in Hz,
// through its 8-bit divider.
func (brd *Board) ConfigureFrameTagFrequency(ctx context.Context, hz uint64, flush bool) error {
	div, err := Divider(hz, brd.cfg.core, MaxFrameTagDivider, FrameTagPath)
	if err != nil {
		return fmt.Errorf("board: could not configure frame tag frequency: %w", err)
	}
	return brd.ConfigureFrameTagDivider(ctx, div, flush)
}

// ConfigureFrameTagDivider sets the frame tag counter match value and
// restarts its trigger counter.
func (brd *Board) ConfigureFrameTagDivider(ctx context.Context, div uint64, flush bool) error {
	op := brd.op(ctx)
	op.write(regs.FrameTagCounterTriggerMatch, div, false)
	op.write(regs.FrameTagCounterTrigger, 0, flush)
	if op.err != nil {
		return fmt.Errorf("board: could not configure frame tag divider: %w", op.err)
	}
	return nil
}

// ConfigureTimestampFrequency sets the frequency, in Hz, at which the
// internal match counter increments the FPGA timestamp.
func (brd *Board) ConfigureTimestampFrequency(ctx context.Context, hz uint64, flush bool) error {
	div, err := Divider(hz, brd.cfg.core, MaxTimestampDivider, FrameTagPath)
	if err != nil {
		return fmt.Errorf("board: could not configure timestamp frequency: %w", err)
	}
	brd.msg.Debugf("FPGA timestamp: %d Hz (divider=%d)", hz, div)

	op := brd.op(ctx)
	op.write(regs.FrameTagCounterTriggerMatch, div, flush)
	if op.err != nil {
		return fmt.Errorf("board: could not configure timestamp divider: %w", op.err)
	}
	return nil
}

// FPGA timestamp control bits.
const (
	tsEnable       = 0x1
	tsMatchCounter = 0x2
	tsExternal     = 0x4
	tsForce        = 0x8
)

// TimestampConfig configures the FPGA timestamp counter.
type TimestampConfig struct {
	Enable       bool `json:"enable"`
	Force        bool `json:"force"`         // count at each clock cycle
	MatchCounter bool `json:"match_counter"` // count from the internal match counter
	External     bool `json:"external"`      // count from the external timestamp input
}

// ConfigureFPGATimestamp configures the source of the FPGA timestamp.
// Counting from both the match counter and the external input is invalid.
func (brd *Board) ConfigureFPGATimestamp(ctx context.Context, cfg TimestampConfig, flush bool) error {
	if cfg.MatchCounter && cfg.External {
		return fmt.Errorf("board: FPGA timestamp can not count from both the match counter and the external input")
	}
	var v uint64
	v = setBit(v, tsEnable, cfg.Enable)
	v = setBit(v, tsMatchCounter, cfg.MatchCounter)
	v = setBit(v, tsExternal, cfg.External)
	v = setBit(v, tsForce, cfg.Force)

	op := brd.op(ctx)
	op.write(regs.FrameTagCounterCtrl, v, flush)
	if op.err != nil {
		return fmt.Errorf("board: could not configure FPGA timestamp: %w", op.err)
	}
	return nil
}
