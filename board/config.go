// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package board

import (
	"context"
	"fmt"

	"github.com/go-lpc/astep/asic"
	"github.com/go-lpc/astep/internal/regs"
)

// WriteConfigSR shifts the configuration of the chain into the shift
// register of a layer, through the SIN/CK1/CK2/LOAD lines.
// Only the first limit bits are shifted when limit is positive.
//
// The layer must be held. The whole frame is queued and sent by a single
// flush.
func (brd *Board) WriteConfigSR(ctx context.Context, id int, chain *asic.Chain, ckdiv, limit int) error {
	err := brd.checkLayer(id)
	if err != nil {
		return err
	}

	bits, err := chain.Vector(false)
	if err != nil {
		return fmt.Errorf("board: could not encode layer %d configuration: %w", id, err)
	}
	if limit > 0 && limit < len(bits) {
		bits = bits[:limit]
	}
	frame, err := asic.SRFrame(bits, id, ckdiv)
	if err != nil {
		return fmt.Errorf("board: could not create layer %d SR frame: %w", id, err)
	}

	err = brd.requireState(ctx, id, StateHeld)
	if err != nil {
		return err
	}

	brd.msg.Infof("writing SR config for layer=%d, len=%d", id, len(bits))

	op := brd.op(ctx)
	for _, w := range frame {
		op.add(regs.LayersSROut, uint64(w.Value), w.Repeat)
	}
	op.flush()
	if op.err != nil {
		return fmt.Errorf("board: could not write layer %d SR config: %w", id, op.err)
	}
	return nil
}

// WriteConfigSPI sends the configuration of the chain to a layer, as an
// SPI frame addressed to the target chip (or asic.Broadcast).
//
// The layer must be held. The bus is selected while the frame is sent,
// chunk by chunk, and deselected afterwards.
// Once started, sending the frame is not interrupted by ctx.
func (brd *Board) WriteConfigSPI(ctx context.Context, id int, chain *asic.Chain, target int) error {
	err := brd.checkLayer(id)
	if err != nil {
		return err
	}

	bits, err := chain.Vector(false)
	if err != nil {
		return fmt.Errorf("board: could not encode layer %d configuration: %w", id, err)
	}
	frame, err := asic.SPIFrame(bits, target, asic.DefaultNLoad)
	if err != nil {
		return fmt.Errorf("board: could not create layer %d SPI frame: %w", id, err)
	}

	err = brd.AssertNotInReset(ctx, id)
	if err != nil {
		return err
	}
	err = brd.requireState(ctx, id, StateHeld)
	if err != nil {
		return err
	}

	brd.msg.Infof("writing SPI config for chip=%d, layer=%d, len=%d", target, id, len(frame))

	var (
		lay    = &brd.layers[id]
		op     = brd.op(context.Background())
		chunks = asic.Chunks(frame, asic.SPIChunkSize)
	)
	brd.chipSelect(op, true, false)
	for i, chunk := range chunks {
		brd.msg.Debugf("writing chunk %d/%d len=%d", i+1, len(chunks), len(chunk))
		op.writeBytes(lay.regs.MOSIBytes, chunk, true)
		if op.err != nil {
			break
		}
		brd.sleep(brd.cfg.chunk)
		n := op.read(lay.regs.MOSIWriteSize)
		brd.msg.Debugf("current MOSI write count=%d", n)
	}
	brd.chipSelect(op, false, true)
	if op.err != nil {
		return fmt.Errorf("board: could not write layer %d SPI config: %w", id, op.err)
	}
	return nil
}
