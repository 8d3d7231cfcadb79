// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package board

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-lpc/astep/internal/regs"
)

const statusInterrupt = 0x1

var filler = make([]byte, FillerSize)

// Flush empties the sensors of the provided layers.
//
// The shared hold is released once. Then, for each layer and while its
// interrupt reads low, idle bytes are clocked out of the chips, up to
// MaxFlushIterations times, and the shared readout buffer is drained.
// Once all layers are flushed, hold is asserted again, chip-select is
// restored and the layers counters are zeroed.
// A layer whose interrupt stays low is reported as a StuckLayerWarning in
// the log and does not fail the flush.
func (brd *Board) Flush(ctx context.Context, layers ...int) error {
	for _, id := range layers {
		err := brd.checkLayer(id)
		if err != nil {
			return err
		}
	}
	if len(layers) == 0 {
		return nil
	}

	var (
		op = brd.op(ctx)
		l0 = brd.getControl(op, 0)
		cs = l0.ChipSelect
	)
	brd.hold(op, false, true)
	if op.err != nil {
		return fmt.Errorf("board: could not release hold: %w", op.err)
	}

	for _, id := range layers {
		brd.flushLayer(op, id)
		if op.err != nil {
			return fmt.Errorf("board: could not flush layer %d: %w", id, op.err)
		}
	}

	l0 = brd.getControl(op, 0)
	l0.Hold = true
	l0.ChipSelect = cs
	brd.setControl(op, 0, l0, false)
	for _, id := range layers {
		brd.resetStatCounters(op, id, false)
	}
	op.flush()
	if op.err != nil {
		return fmt.Errorf("board: could not restore hold after flush: %w", op.err)
	}
	return nil
}

func (brd *Board) flushLayer(op *regop, id int) {
	var (
		lay    = &brd.layers[id]
		status uint64
		iter   = 0
	)
	for ; iter < MaxFlushIterations; iter++ {
		status = op.read(lay.regs.Status)
		if op.err != nil || status&statusInterrupt != 0 {
			break
		}
		brd.chipSelect(op, true, false)
		op.writeBytes(lay.regs.MOSIBytes, filler, true)
	}
	if op.err != nil {
		return
	}
	if iter == MaxFlushIterations {
		warn := &StuckLayerWarning{Layer: id, Iterations: iter, Status: status}
		brd.msg.Warnf("%v", warn)
	}

	n := int(op.read(regs.ReadoutReadSize))
	raw := op.readBytes(regs.ReadoutRaw, n)
	if op.err != nil {
		return
	}
	brd.msg.Debugf("layer %d flushed: %d iterations, %d bytes drained", id, iter, len(raw))
}

// Buffer is a chunk of raw readout data, as delivered by the board.
// Buffer boundaries are meaningful to the decoder and must be kept.
type Buffer struct {
	Index uint64 `json:"index"` // monotonic readout index
	Size  int    `json:"size"`  // size declared by the board
	Data  []byte `json:"data"`
}

// bufferHeaderSize is the size of the (index, size) header of an encoded buffer.
const bufferHeaderSize = 8 + 4

// MarshalBinary encodes the buffer as index(8) | size(4) | data,
// integers being big-endian.
func (buf Buffer) MarshalBinary() ([]byte, error) {
	out := make([]byte, bufferHeaderSize+len(buf.Data))
	binary.BigEndian.PutUint64(out[0:], buf.Index)
	binary.BigEndian.PutUint32(out[8:], uint32(buf.Size))
	copy(out[bufferHeaderSize:], buf.Data)
	return out, nil
}

// UnmarshalBinary decodes a buffer encoded by MarshalBinary.
func (buf *Buffer) UnmarshalBinary(p []byte) error {
	if len(p) < bufferHeaderSize {
		return fmt.Errorf("board: invalid buffer encoding (%d bytes)", len(p))
	}
	buf.Index = binary.BigEndian.Uint64(p[0:])
	buf.Size = int(binary.BigEndian.Uint32(p[8:]))
	buf.Data = make([]byte, len(p)-bufferHeaderSize)
	copy(buf.Data, p[bufferHeaderSize:])
	return nil
}

// ReadBuffer reads the content of the shared readout buffer, up to limit
// bytes when limit is positive.
// Empty buffers are returned too, and consume an index.
func (brd *Board) ReadBuffer(ctx context.Context, limit int) (Buffer, error) {
	op := brd.op(ctx)
	size := int(op.read(regs.ReadoutReadSize))
	n := size
	if limit > 0 && n > limit {
		n = limit
	}
	data := op.readBytes(regs.ReadoutRaw, n)
	if op.err != nil {
		return Buffer{}, fmt.Errorf("board: could not read readout buffer: %w", op.err)
	}

	buf := Buffer{
		Index: brd.rdo.index,
		Size:  size,
		Data:  data,
	}
	brd.rdo.index++
	return buf, nil
}

// Run reads buffers until ctx is canceled and hands the non-empty ones,
// in order, to sink.
// Cancellation is only checked between two buffers.
func (brd *Board) Run(ctx context.Context, limit int, sink func(Buffer) error) error {
	var (
		nbufs  int
		nbytes int
	)
	defer func() {
		brd.msg.Infof("readout stopped: %d buffers, %d bytes", nbufs, nbytes)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		buf, err := brd.ReadBuffer(ctx, limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if len(buf.Data) == 0 {
			if brd.cfg.poll > 0 {
				tck := time.NewTimer(brd.cfg.poll)
				select {
				case <-ctx.Done():
					tck.Stop()
					return nil
				case <-tck.C:
				}
			}
			continue
		}

		err = sink(buf)
		if err != nil {
			return fmt.Errorf("board: could not hand off buffer %d: %w", buf.Index, err)
		}
		nbufs++
		nbytes += len(buf.Data)
	}
}
