// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daq runs the data acquisition of an A-STEP board, from the
// initialization of its clocks down to the storage of readout buffers.
package daq // import "github.com/go-lpc/astep/daq"

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/astep/asic"
	"github.com/go-lpc/astep/board"
	"github.com/go-lpc/astep/injector"
	"github.com/go-lpc/astep/rawstore"
	"github.com/go-lpc/astep/runcfg"
	"golang.org/x/sync/errgroup"
)

// Device drives a board through a run.
type Device struct {
	cfg *runcfg.Config
	msg log.MsgStream

	brd *board.Board
	inj *injector.Injector // nil when injection is disabled

	chains map[int]*asic.Chain
}

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the message stream of the device.
func WithLogger(msg log.MsgStream) Option {
	return func(dev *Device) {
		dev.msg = msg
	}
}

// New returns a device running brd with the provided configuration.
func New(brd *board.Board, cfg *runcfg.Config, opts ...Option) *Device {
	dev := &Device{
		cfg:    cfg,
		msg:    log.NewMsgStream("daq", log.LvlInfo, os.Stderr),
		brd:    brd,
		chains: make(map[int]*asic.Chain),
	}
	for _, opt := range opts {
		opt(dev)
	}
	if cfg.Injector != nil && cfg.Injector.Enable {
		dev.inj = injector.New(brd.RegisterFile(), injector.WithLogger(dev.msg))
	}
	return dev
}

// Open opens the board described by cfg.
func Open(cfg *runcfg.Config, opts ...Option) (*Device, error) {
	var tmp Device
	tmp.msg = log.NewMsgStream("daq", log.LvlInfo, os.Stderr)
	for _, opt := range opts {
		opt(&tmp)
	}

	brd, err := board.Open(
		cfg.UART(),
		board.WithLogger(tmp.msg),
		board.WithCoreFrequency(cfg.CoreFrequency()),
		board.WithChunkDelay(time.Duration(cfg.Board.ChunkDelay)),
		board.WithPollPeriod(time.Duration(cfg.Readout.Poll)),
	)
	if err != nil {
		return nil, fmt.Errorf("daq: could not open board: %w", err)
	}
	return New(brd, cfg, opts...), nil
}

// Board returns the board driven by the device.
func (dev *Device) Board() *board.Board { return dev.brd }

// Injector returns the pattern generator of the device, if injection
// is enabled.
func (dev *Device) Injector() *injector.Injector { return dev.inj }

// Close closes the underlying board.
func (dev *Device) Close() error {
	return dev.brd.Close()
}

// Initialize identifies the firmware, sets up the clocks and the FPGA
// timestamp, resets the layers and leaves them held.
func (dev *Device) Initialize(ctx context.Context) error {
	var (
		brd = dev.brd
		cfg = dev.cfg.Board
	)

	name, err := brd.FirmwareName(ctx)
	if err != nil {
		return fmt.Errorf("daq: could not identify firmware: %w", err)
	}
	vers, err := brd.FirmwareVersion(ctx)
	if err != nil {
		return fmt.Errorf("daq: could not identify firmware: %w", err)
	}
	dev.msg.Infof("firmware: %s (version=0x%x)", name, vers)

	err = brd.ConfigureSPIFrequency(ctx, cfg.SPIHz, false)
	if err != nil {
		return fmt.Errorf("daq: could not configure SPI clock: %w", err)
	}
	err = brd.ConfigureTimestampFrequency(ctx, cfg.TimestampHz, false)
	if err != nil {
		return fmt.Errorf("daq: could not configure timestamp clock: %w", err)
	}
	err = brd.ConfigureFPGATimestamp(ctx, cfg.Timestamp, false)
	if err != nil {
		return fmt.Errorf("daq: could not configure FPGA timestamp: %w", err)
	}
	err = brd.EnableSensorClocks(ctx, cfg.ToT, cfg.TS, true)
	if err != nil {
		return fmt.Errorf("daq: could not enable sensor clocks: %w", err)
	}

	err = brd.ResetLayers(ctx, time.Duration(cfg.ResetWait))
	if err != nil {
		return fmt.Errorf("daq: could not reset layers: %w", err)
	}
	err = brd.DisableReadout(ctx, true)
	if err != nil {
		return fmt.Errorf("daq: could not disable readout: %w", err)
	}
	return nil
}

// Configure loads the chip configuration of every layer, applies the
// pixel settings of the run and pushes the result to the chips.
// Layers must be held.
func (dev *Device) Configure(ctx context.Context) error {
	for _, lay := range dev.cfg.Layers {
		chain, err := dev.load(lay)
		if err != nil {
			return fmt.Errorf("daq: could not load layer %d configuration: %w", lay.ID, err)
		}

		switch lay.Mode {
		case runcfg.ModeSR:
			ckdiv := lay.CkDiv
			if ckdiv <= 0 {
				ckdiv = asic.DefaultCkDiv
			}
			err = dev.brd.WriteConfigSR(ctx, lay.ID, chain, ckdiv, 0)
		default:
			err = dev.brd.WriteConfigSPI(ctx, lay.ID, chain, asic.Broadcast)
		}
		if err != nil {
			return fmt.Errorf("daq: could not configure layer %d: %w", lay.ID, err)
		}
		dev.chains[lay.ID] = chain
		dev.msg.Infof("layer %d configured (%s, chips=%d)", lay.ID, lay.Mode, chain.Len())
	}
	return nil
}

func (dev *Device) load(lay runcfg.Layer) (*asic.Chain, error) {
	var opts []asic.LoadOption
	if lay.Chips > 0 {
		opts = append(opts, asic.WithChips(lay.Chips))
	}
	chain, err := asic.Load(lay.Config, lay.Chip, opts...)
	if err != nil {
		return nil, err
	}

	if lay.AnalogCol != nil {
		for _, chip := range chain.Chips {
			err = chip.EnableAmpOutCol(*lay.AnalogCol)
			if err != nil {
				return nil, err
			}
		}
	}

	for _, pix := range lay.Pixels {
		chip, err := chain.Chip(pix.Chip)
		if err != nil {
			return nil, err
		}
		err = chip.EnablePixel(pix.Col, pix.Row)
		if err != nil {
			return nil, err
		}
	}

	if pix := lay.Inject; pix != nil {
		chip, err := chain.Chip(pix.Chip)
		if err != nil {
			return nil, err
		}
		err = chip.EnableInjCol(pix.Col)
		if err != nil {
			return nil, err
		}
		err = chip.EnableInjRow(pix.Row)
		if err != nil {
			return nil, err
		}
	}
	return chain, nil
}

// Chain returns the configuration pushed to a layer.
func (dev *Device) Chain(id int) (*asic.Chain, bool) {
	chain, ok := dev.chains[id]
	return chain, ok
}

// Start drains the configured layers, enables their readout and starts
// the injection pattern.
func (dev *Device) Start(ctx context.Context) error {
	ids := dev.cfg.LayerIDs()
	if len(ids) == 0 {
		return fmt.Errorf("daq: no layer to read out")
	}

	err := dev.brd.Flush(ctx, ids...)
	if err != nil {
		return fmt.Errorf("daq: could not flush layers: %w", err)
	}

	err = dev.brd.EnableReadout(ctx, ids, dev.cfg.Readout.Autoread)
	if err != nil {
		return fmt.Errorf("daq: could not enable readout: %w", err)
	}

	if dev.inj != nil {
		err = dev.inj.SetPattern(dev.cfg.Injector.Pattern)
		if err != nil {
			return fmt.Errorf("daq: invalid injection pattern: %w", err)
		}
		err = dev.inj.Start(ctx)
		if err != nil {
			return fmt.Errorf("daq: could not start injector: %w", err)
		}
	}
	dev.msg.Infof("readout started (layers=%v, autoread=%v)", ids, dev.cfg.Readout.Autoread)
	return nil
}

// Stop stops the injection pattern, disables the readout and drains the
// layers.
func (dev *Device) Stop(ctx context.Context) error {
	if dev.inj != nil {
		err := dev.inj.Stop(ctx)
		if err != nil {
			return fmt.Errorf("daq: could not stop injector: %w", err)
		}
	}

	err := dev.brd.DisableReadout(ctx, true)
	if err != nil {
		return fmt.Errorf("daq: could not disable readout: %w", err)
	}

	if ids := dev.cfg.LayerIDs(); len(ids) > 0 {
		err = dev.brd.Flush(ctx, ids...)
		if err != nil {
			return fmt.Errorf("daq: could not flush layers: %w", err)
		}
	}
	dev.msg.Infof("readout stopped")
	return nil
}

// Readout reads buffers until ctx is canceled and hands them to sink.
func (dev *Device) Readout(ctx context.Context, sink func(board.Buffer) error) error {
	return dev.brd.Run(ctx, dev.cfg.Readout.Limit, sink)
}

// Acquire reads buffers into w until ctx is canceled or the configured
// run duration has elapsed.
func (dev *Device) Acquire(ctx context.Context, w *rawstore.Writer) error {
	if d := time.Duration(dev.cfg.Readout.Duration); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	var (
		grp, gctx = errgroup.WithContext(ctx)
		bufs      = make(chan board.Buffer, 64)
		failed    = make(chan struct{})
		werr      error
	)

	grp.Go(func() error {
		defer close(bufs)
		return dev.Readout(gctx, func(buf board.Buffer) error {
			select {
			case bufs <- buf:
				return nil
			case <-failed:
				return werr
			}
		})
	})

	grp.Go(func() error {
		for buf := range bufs {
			err := w.Write(buf)
			if err != nil {
				werr = err
				close(failed)
				return fmt.Errorf("daq: could not store buffer %d: %w", buf.Index, err)
			}
		}
		return nil
	})

	return grp.Wait()
}

// Run performs a complete run: initialization, configuration, readout
// into a new run of the store, and stop.
func (dev *Device) Run(ctx context.Context, store *rawstore.Store, run uint64, comment string) (rawstore.RunInfo, error) {
	var info rawstore.RunInfo

	err := dev.Initialize(ctx)
	if err != nil {
		return info, err
	}
	err = dev.Configure(ctx)
	if err != nil {
		return info, err
	}

	w, err := store.Create(run, comment)
	if err != nil {
		return info, fmt.Errorf("daq: could not create run: %w", err)
	}
	dev.msg.Infof("starting run %d...", w.Run())

	err = dev.Start(ctx)
	if err != nil {
		_ = w.Close()
		return info, err
	}

	err = dev.Acquire(ctx, w)
	if err != nil {
		_ = dev.Stop(context.Background())
		_ = w.Close()
		return info, err
	}

	err = dev.Stop(context.Background())
	if err != nil {
		_ = w.Close()
		return info, err
	}

	err = w.Close()
	if err != nil {
		return info, fmt.Errorf("daq: could not close run %d: %w", w.Run(), err)
	}

	info, err = store.Run(w.Run())
	if err != nil {
		return info, fmt.Errorf("daq: could not read run %d: %w", w.Run(), err)
	}
	dev.msg.Infof("run %d done: %d buffers, %d bytes", info.Run, info.Buffers, info.Bytes)
	return info, nil
}
