// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package board drives an A-STEP readout board through its register file:
// layer control lines, clock dividers, configuration push and readout.
package board // import "github.com/go-lpc/astep/board"

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/astep/internal/regs"
	"github.com/go-lpc/astep/rfg"
)

const (
	// NumLayers is the number of layers driven by the board.
	NumLayers = regs.NumLayers

	// CoreFrequencyCMOD is the FPGA core clock of the CMOD board.
	CoreFrequencyCMOD = 60_000_000

	// DefaultChunkDelay is the delay between two SPI configuration chunks.
	DefaultChunkDelay = 100 * time.Millisecond

	// DefaultPollPeriod is the readout polling period when the board
	// has no data available.
	DefaultPollPeriod = 10 * time.Millisecond

	// DefaultResetWait is the default duration of a layers reset.
	DefaultResetWait = 500 * time.Millisecond

	// FillerSize is the number of idle bytes written per flush iteration.
	FillerSize = 20

	// MaxFlushIterations bounds the number of filler writes per layer flush.
	MaxFlushIterations = 20
)

var firmwares = map[uint64]string{
	0xab02: "Nexys GECCO Astropix v2",
	0xab03: "Nexys GECCO Astropix v3",
	0xac03: "CMOD Astropix v3",
}

// Board is an A-STEP readout board.
//
// A Board is not safe for concurrent use.
type Board struct {
	rf  *rfg.File
	msg log.MsgStream

	cfg struct {
		core  uint64        // FPGA core frequency, in Hz
		chunk time.Duration // delay between SPI chunks
		poll  time.Duration // readout polling period when no data is available
	}
	sleep func(time.Duration)

	layers [regs.NumLayers]layer
	shared BoardSharedLines

	rdo struct {
		index uint64 // index of the next readout buffer
	}
}

// layer holds the resolved registers and last known control value of a layer.
type layer struct {
	id   int
	regs regs.Layer
	ctrl LayerControl
}

// Option configures a Board.
type Option func(*Board)

// WithLogger sets the message stream used by the board.
func WithLogger(msg log.MsgStream) Option {
	return func(brd *Board) {
		brd.msg = msg
	}
}

// WithCoreFrequency sets the FPGA core frequency, in Hz, used to
// compute clock dividers.
func WithCoreFrequency(hz uint64) Option {
	return func(brd *Board) {
		brd.cfg.core = hz
	}
}

// WithChunkDelay sets the delay between two chunks of an SPI
// configuration frame.
func WithChunkDelay(d time.Duration) Option {
	return func(brd *Board) {
		brd.cfg.chunk = d
	}
}

// WithPollPeriod sets the delay between two readout polls when the board
// has no data available.
func WithPollPeriod(d time.Duration) Option {
	return func(brd *Board) {
		brd.cfg.poll = d
	}
}

// New returns a board driven through the provided register file.
func New(rf *rfg.File, opts ...Option) *Board {
	brd := &Board{
		rf:    rf,
		msg:   log.NewMsgStream("board", log.LvlInfo, os.Stderr),
		sleep: time.Sleep,
	}
	brd.cfg.core = CoreFrequencyCMOD
	brd.cfg.chunk = DefaultChunkDelay
	brd.cfg.poll = DefaultPollPeriod

	for _, opt := range opts {
		opt(brd)
	}

	for i := range brd.layers {
		brd.layers[i] = layer{id: i, regs: regs.Layers[i]}
	}

	return brd
}

// Open opens the UART link described by cfg and returns the board behind it.
func Open(cfg rfg.UARTConfig, opts ...Option) (*Board, error) {
	rf, err := rfg.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("board: could not open register file: %w", err)
	}
	return New(rf, opts...), nil
}

// Close flushes pending writes and closes the underlying register file.
func (brd *Board) Close() error {
	ctx := context.Background()
	err := brd.rf.Flush(ctx)
	if err != nil {
		_ = brd.rf.Close()
		return fmt.Errorf("board: could not flush register file: %w", err)
	}
	err = brd.rf.Close()
	if err != nil {
		return fmt.Errorf("board: could not close register file: %w", err)
	}
	return nil
}

// RegisterFile returns the register file driving the board.
func (brd *Board) RegisterFile() *rfg.File { return brd.rf }

// Msg returns the message stream of the board.
func (brd *Board) Msg() log.MsgStream { return brd.msg }

// CoreFrequency returns the FPGA core frequency, in Hz.
func (brd *Board) CoreFrequency() uint64 { return brd.cfg.core }

// FlushWrites transmits all pending register writes.
func (brd *Board) FlushWrites(ctx context.Context) error {
	err := brd.rf.Flush(ctx)
	if err != nil {
		return fmt.Errorf("board: could not flush register file: %w", err)
	}
	return nil
}

// FirmwareID returns the raw firmware identifier.
func (brd *Board) FirmwareID(ctx context.Context) (uint64, error) {
	v, err := brd.rf.Read(ctx, regs.FirmwareID)
	if err != nil {
		return 0, fmt.Errorf("board: could not read firmware id: %w", err)
	}
	return v, nil
}

// FirmwareVersion returns the raw firmware version.
func (brd *Board) FirmwareVersion(ctx context.Context) (uint64, error) {
	v, err := brd.rf.Read(ctx, regs.FirmwareVersion)
	if err != nil {
		return 0, fmt.Errorf("board: could not read firmware version: %w", err)
	}
	return v, nil
}

// FirmwareName returns the name of the firmware running on the board.
func (brd *Board) FirmwareName(ctx context.Context) (string, error) {
	id, err := brd.FirmwareID(ctx)
	if err != nil {
		return "", err
	}
	return FirmwareName(id), nil
}

// FirmwareName returns the name associated with a firmware identifier.
func FirmwareName(id uint64) string {
	name, ok := firmwares[id]
	if !ok {
		return fmt.Sprintf("Firmware ID unknown: 0x%x", id)
	}
	return name
}

const (
	ioCtrlToT = 0x1
	ioCtrlTS  = 0x2
)

// EnableSensorClocks enables or disables the time-over-threshold and
// timestamp clocks sent to the sensors.
func (brd *Board) EnableSensorClocks(ctx context.Context, tot, ts bool, flush bool) error {
	op := brd.op(ctx)
	v := op.read(regs.IOCtrl)
	v = setBit(v, ioCtrlToT, tot)
	v = setBit(v, ioCtrlTS, ts)
	op.write(regs.IOCtrl, v, flush)
	if op.err != nil {
		return fmt.Errorf("board: could not configure sensor clocks: %w", op.err)
	}
	return nil
}

func setBit(v, mask uint64, on bool) uint64 {
	if on {
		return v | mask
	}
	return v &^ mask
}

// regop performs a sequence of register accesses.
// Once an access fails, the following ones are no-ops and the first error
// is kept.
type regop struct {
	ctx context.Context
	rf  *rfg.File
	err error
}

func (brd *Board) op(ctx context.Context) *regop {
	return &regop{ctx: ctx, rf: brd.rf}
}

func (op *regop) read(reg rfg.Register) uint64 {
	if op.err != nil {
		return 0
	}
	v, err := op.rf.Read(op.ctx, reg)
	if err != nil {
		op.err = fmt.Errorf("could not read %s: %w", reg.Name, err)
	}
	return v
}

func (op *regop) readBytes(reg rfg.Register, n int) []byte {
	if op.err != nil {
		return nil
	}
	p, err := op.rf.ReadBytes(op.ctx, reg, n)
	if err != nil {
		op.err = fmt.Errorf("could not read %d bytes from %s: %w", n, reg.Name, err)
	}
	return p
}

func (op *regop) write(reg rfg.Register, v uint64, flush bool) {
	op.add(reg, v, 1)
	if flush {
		op.flush()
	}
}

func (op *regop) add(reg rfg.Register, v uint64, repeat int) {
	if op.err != nil {
		return
	}
	err := op.rf.AddWrite(reg, v, repeat)
	if err != nil {
		op.err = fmt.Errorf("could not write %s: %w", reg.Name, err)
	}
}

func (op *regop) writeBytes(reg rfg.Register, p []byte, flush bool) {
	if op.err != nil {
		return
	}
	op.rf.AddWriteBytes(reg, p)
	if flush {
		op.flush()
	}
}

func (op *regop) flush() {
	if op.err != nil {
		return
	}
	err := op.rf.Flush(op.ctx)
	if err != nil {
		op.err = fmt.Errorf("could not flush: %w", err)
	}
}
