// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package board

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/astep/asic"
	"github.com/go-lpc/astep/internal/fakerfg"
	"github.com/go-lpc/astep/internal/regs"
	"github.com/go-lpc/astep/rfg"
)

func newTestBoard(t *testing.T) (*Board, *fakerfg.Device, *bytes.Buffer) {
	t.Helper()
	var (
		dev = fakerfg.New()
		out = new(bytes.Buffer)
		brd = New(
			dev.File(),
			WithLogger(log.NewMsgStream("board", log.LvlDebug, out)),
			WithChunkDelay(0),
			WithPollPeriod(0),
		)
	)
	brd.sleep = func(time.Duration) {}
	return brd, dev, out
}

func newTestChain(t *testing.T) *asic.Chain {
	t.Helper()
	chip, err := asic.NewChip(1, 1, []asic.Block{
		{Name: "digitalconfig", Fields: []asic.Field{{Name: "a", Width: 3, Value: 0b101}}},
		{Name: asic.VDACs, Fields: []asic.Field{{Name: "thpix", Width: 4, Value: 0b0011}}},
	})
	if err != nil {
		t.Fatalf("could not create chip: %+v", err)
	}
	ch, err := asic.NewChain("astropix3", chip)
	if err != nil {
		t.Fatalf("could not create chain: %+v", err)
	}
	return ch
}

func ctrlOf(dev *fakerfg.Device, id int) LayerControl {
	return DecodeLayerControl(dev.Get(regs.Layers[id].CfgCtrl))
}

func TestLayerControlCodec(t *testing.T) {
	for _, tc := range []struct {
		v  uint64
		lc LayerControl
	}{
		{0x00, LayerControl{}},
		{0x01, LayerControl{Hold: true}},
		{0x02, LayerControl{Reset: true}},
		{0x04, LayerControl{AutoreadDisable: true}},
		{0x08, LayerControl{ChipSelect: true}},
		{0x10, LayerControl{MISODisable: true}},
		{0x15, LayerControl{Hold: true, AutoreadDisable: true, MISODisable: true}},
		{0x1f, LayerControl{true, true, true, true, true}},
	} {
		t.Run(tc.lc.String(), func(t *testing.T) {
			if got, want := tc.lc.Encode(), tc.v; got != want {
				t.Fatalf("invalid encoding: got=0x%x, want=0x%x", got, want)
			}
			if got, want := DecodeLayerControl(tc.v), tc.lc; got != want {
				t.Fatalf("invalid decoding: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestDivider(t *testing.T) {
	for _, tc := range []struct {
		name   string
		target uint64
		max    uint64
		path   DividerPath
		want   uint64
		minHz  float64
		err    bool
	}{
		{name: "timestamp-1MHz", target: 1_000_000, max: MaxTimestampDivider, path: FrameTagPath, want: 60},
		{name: "spi-1MHz", target: 1_000_000, max: MaxSPIDivider, path: HalfPeriodPath, want: 30},
		{name: "spi-100Hz", target: 100, max: MaxSPIDivider, path: HalfPeriodPath, minHz: 117647, err: true},
		{name: "frame-tag-1kHz", target: 1_000, max: MaxFrameTagDivider, path: FrameTagPath, minHz: 235294, err: true},
		{name: "spi-too-fast", target: 60_000_000, max: MaxSPIDivider, path: HalfPeriodPath, minHz: 117647, err: true},
		{name: "spi-huge", target: 1 << 63, max: MaxSPIDivider, path: HalfPeriodPath, minHz: 117647, err: true},
		{name: "timestamp-huge", target: 1<<64 - 1, max: MaxTimestampDivider, path: FrameTagPath, minHz: 0, err: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			div, err := Divider(tc.target, CoreFrequencyCMOD, tc.max, tc.path)
			if !tc.err {
				if err != nil {
					t.Fatalf("could not compute divider: %+v", err)
				}
				if div != tc.want {
					t.Fatalf("invalid divider: got=%d, want=%d", div, tc.want)
				}
				return
			}

			var derr *DividerOutOfRangeError
			if !errors.As(err, &derr) {
				t.Fatalf("invalid error: %+v", err)
			}
			if got, want := uint64(derr.MinHz), uint64(tc.minHz); got != want {
				t.Fatalf("invalid min. frequency: got=%d, want=%d", got, want)
			}
			if got, want := derr.Max, tc.max; got != want {
				t.Fatalf("invalid max divider: got=%d, want=%d", got, want)
			}
		})
	}

	_, err := Divider(0, CoreFrequencyCMOD, MaxSPIDivider, HalfPeriodPath)
	if err == nil {
		t.Fatalf("expected an error for a null frequency")
	}
}

func TestConfigureClocks(t *testing.T) {
	ctx := context.Background()
	brd, dev, _ := newTestBoard(t)

	err := brd.ConfigureSPIFrequency(ctx, 1_000_000, true)
	if err != nil {
		t.Fatalf("could not configure SPI frequency: %+v", err)
	}
	if got, want := dev.Writes(regs.SPILayersCkDivider), []uint64{30}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid SPI divider writes: got=%v, want=%v", got, want)
	}

	err = brd.ConfigureSPIFrequency(ctx, 100, true)
	var derr *DividerOutOfRangeError
	if !errors.As(err, &derr) {
		t.Fatalf("invalid error: %+v", err)
	}

	err = brd.ConfigureTimestampFrequency(ctx, 1_000_000, true)
	if err != nil {
		t.Fatalf("could not configure timestamp frequency: %+v", err)
	}
	if got, want := dev.Get(regs.FrameTagCounterTriggerMatch), uint64(60); got != want {
		t.Fatalf("invalid timestamp divider: got=%d, want=%d", got, want)
	}

	dev.Reset()
	err = brd.ConfigureFrameTagDivider(ctx, 10, true)
	if err != nil {
		t.Fatalf("could not configure frame tag divider: %+v", err)
	}
	txs := dev.Log()
	if len(txs) != 2 {
		t.Fatalf("invalid number of transactions: got=%d, want=2", len(txs))
	}
	if txs[0].Addr != regs.FrameTagCounterTriggerMatch.Addr || txs[0].Value() != 10 {
		t.Fatalf("invalid first write: %+v", txs[0])
	}
	if txs[1].Addr != regs.FrameTagCounterTrigger.Addr || txs[1].Value() != 0 {
		t.Fatalf("invalid second write: %+v", txs[1])
	}
	if got, want := dev.Syncs(), 1; got != want {
		t.Fatalf("invalid number of flushes: got=%d, want=%d", got, want)
	}

	err = brd.ConfigureFrameTag(ctx, true, true)
	if err != nil {
		t.Fatalf("could not enable frame tag: %+v", err)
	}
	if got, want := dev.Get(regs.FrameTagCounterCtrl), uint64(0x1); got != want {
		t.Fatalf("invalid frame tag control: got=0x%x, want=0x%x", got, want)
	}
}

func TestConfigureFPGATimestamp(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		cfg  TimestampConfig
		want uint64
		err  bool
	}{
		{name: "disabled", cfg: TimestampConfig{}, want: 0x0},
		{name: "match-counter", cfg: TimestampConfig{Enable: true, MatchCounter: true}, want: 0x3},
		{name: "external", cfg: TimestampConfig{Enable: true, External: true}, want: 0x5},
		{name: "force", cfg: TimestampConfig{Enable: true, Force: true}, want: 0x9},
		{name: "both-sources", cfg: TimestampConfig{Enable: true, MatchCounter: true, External: true}, err: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			brd, dev, _ := newTestBoard(t)
			err := brd.ConfigureFPGATimestamp(ctx, tc.cfg, true)
			if tc.err {
				if err == nil {
					t.Fatalf("expected an error")
				}
				if n := len(dev.Log()); n != 0 {
					t.Fatalf("invalid number of transactions: got=%d, want=0", n)
				}
				return
			}
			if err != nil {
				t.Fatalf("could not configure FPGA timestamp: %+v", err)
			}
			if got := dev.Get(regs.FrameTagCounterCtrl); got != tc.want {
				t.Fatalf("invalid control: got=0x%x, want=0x%x", got, tc.want)
			}
		})
	}
}

func TestEnableReadout(t *testing.T) {
	ctx := context.Background()
	brd, dev, _ := newTestBoard(t)

	err := brd.DisableReadout(ctx, true)
	if err != nil {
		t.Fatalf("could not disable readout: %+v", err)
	}
	for i := 0; i < regs.NumLayers; i++ {
		want := LayerControl{Hold: true, AutoreadDisable: true, MISODisable: true}
		if got := ctrlOf(dev, i); got != want {
			t.Fatalf("invalid layer %d control: got=%v, want=%v", i, got, want)
		}
		state, err := brd.State(ctx, i)
		if err != nil {
			t.Fatalf("could not read layer %d state: %+v", i, err)
		}
		if state != StateHeld {
			t.Fatalf("invalid layer %d state: got=%v, want=%v", i, state, StateHeld)
		}
	}

	dev.Reset()
	err = brd.EnableReadout(ctx, []int{0, 2}, true)
	if err != nil {
		t.Fatalf("could not enable readout: %+v", err)
	}

	if got, want := ctrlOf(dev, 1), (LayerControl{Hold: true, AutoreadDisable: true, MISODisable: true}); got != want {
		t.Fatalf("invalid layer 1 control: got=%v, want=%v", got, want)
	}
	for _, i := range []int{0, 2} {
		if got, want := ctrlOf(dev, i), (LayerControl{ChipSelect: true}); got != want {
			t.Fatalf("invalid layer %d control: got=%v, want=%v", i, got, want)
		}
	}

	// hold is lowered last, through layer 0.
	var last fakerfg.Txn
	for _, tx := range dev.Log() {
		if tx.Op == fakerfg.OpWrite {
			last = tx
		}
	}
	if last.Addr != regs.Layers[0].CfgCtrl.Addr || DecodeLayerControl(last.Value()).Hold {
		t.Fatalf("invalid last write: %+v", last)
	}
	if got, want := brd.SharedLines(), (BoardSharedLines{ChipSelect: true}); got != want {
		t.Fatalf("invalid shared lines: got=%+v, want=%+v", got, want)
	}

	for _, tc := range []struct {
		layer int
		want  LayerState
	}{
		{0, StateSelectedStreaming},
		{1, StateSelectedIdle},
		{2, StateSelectedStreaming},
	} {
		got, err := brd.State(ctx, tc.layer)
		if err != nil {
			t.Fatalf("could not read layer %d state: %+v", tc.layer, err)
		}
		if got != tc.want {
			t.Fatalf("invalid layer %d state: got=%v, want=%v", tc.layer, got, tc.want)
		}
	}

	err = brd.EnableReadout(ctx, []int{3}, true)
	if err == nil {
		t.Fatalf("expected an error for an invalid layer")
	}
}

func TestDisableReadoutDeferred(t *testing.T) {
	ctx := context.Background()
	brd, dev, _ := newTestBoard(t)

	err := brd.DisableReadout(ctx, false)
	if err != nil {
		t.Fatalf("could not disable readout: %+v", err)
	}
	if got, want := brd.RegisterFile().Pending(), regs.NumLayers; got != want {
		t.Fatalf("invalid number of pending writes: got=%d, want=%d", got, want)
	}
	if n := len(dev.Log()); n != 0 {
		t.Fatalf("invalid number of transactions: got=%d, want=0", n)
	}

	err = brd.FlushWrites(ctx)
	if err != nil {
		t.Fatalf("could not flush writes: %+v", err)
	}
	for i := 0; i < regs.NumLayers; i++ {
		want := LayerControl{Hold: true, AutoreadDisable: true, MISODisable: true}
		if got := ctrlOf(dev, i); got != want {
			t.Fatalf("invalid layer %d control: got=%v, want=%v", i, got, want)
		}
	}
}

func TestSelectSPI(t *testing.T) {
	ctx := context.Background()
	brd, dev, _ := newTestBoard(t)

	dev.Set(regs.Layers[0].CfgCtrl, 0x15)
	err := brd.SelectSPI(ctx, true)
	if err != nil {
		t.Fatalf("could not select SPI: %+v", err)
	}
	if got, want := dev.Get(regs.Layers[0].CfgCtrl), uint64(0x1d); got != want {
		t.Fatalf("invalid control: got=0x%x, want=0x%x", got, want)
	}
	if n := len(dev.Writes(regs.Layers[1].CfgCtrl)) + len(dev.Writes(regs.Layers[2].CfgCtrl)); n != 0 {
		t.Fatalf("chip-select driven through layers 1-2")
	}

	err = brd.DeselectSPI(ctx, true)
	if err != nil {
		t.Fatalf("could not deselect SPI: %+v", err)
	}
	if got, want := dev.Get(regs.Layers[0].CfgCtrl), uint64(0x15); got != want {
		t.Fatalf("invalid control: got=0x%x, want=0x%x", got, want)
	}
}

func TestResetLayers(t *testing.T) {
	brd, dev, _ := newTestBoard(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var slept time.Duration
	brd.sleep = func(d time.Duration) {
		slept = d
		cancel()
	}

	dev.Set(regs.Layers[0].CfgCtrl, 0x01)
	err := brd.ResetLayers(ctx, DefaultResetWait)
	if err != nil {
		t.Fatalf("could not reset layers: %+v", err)
	}
	if slept != DefaultResetWait {
		t.Fatalf("invalid reset duration: got=%v, want=%v", slept, DefaultResetWait)
	}
	if got, want := dev.Writes(regs.Layers[0].CfgCtrl), []uint64{0x03, 0x01}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid control writes: got=%v, want=%v", got, want)
	}
	if brd.SharedLines().Reset {
		t.Fatalf("shared reset still asserted")
	}
}

func TestAssertNotInReset(t *testing.T) {
	ctx := context.Background()
	brd, dev, _ := newTestBoard(t)

	dev.Set(regs.Layers[0].CfgCtrl, ctrlReset)
	for i := 0; i < regs.NumLayers; i++ {
		err := brd.AssertNotInReset(ctx, i)
		var rerr *LayerInResetError
		if !errors.As(err, &rerr) {
			t.Fatalf("invalid error: %+v", err)
		}
		if rerr.Layer != i {
			t.Fatalf("invalid layer: got=%d, want=%d", rerr.Layer, i)
		}
		state, err := brd.State(ctx, i)
		if err != nil {
			t.Fatalf("could not read state: %+v", err)
		}
		if state != StateReset {
			t.Fatalf("invalid state: got=%v, want=%v", state, StateReset)
		}
	}

	dev.Set(regs.Layers[0].CfgCtrl, ctrlHold)
	err := brd.AssertNotInReset(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	err = brd.WriteBytes(ctx, 1, []byte{1, 2}, false)
	if err != nil {
		t.Fatalf("could not queue bytes: %+v", err)
	}
	dev.Set(regs.Layers[0].CfgCtrl, ctrlReset)
	err = brd.WriteBytes(ctx, 1, []byte{3}, true)
	var rerr *LayerInResetError
	if !errors.As(err, &rerr) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestWriteBytesWait(t *testing.T) {
	ctx := context.Background()
	brd, dev, _ := newTestBoard(t)

	dev.Script(regs.Layers[2].MOSIWriteSize, 3, 1, 0)
	err := brd.WriteBytes(ctx, 2, []byte{1, 2, 3}, true)
	if err != nil {
		t.Fatalf("could not write bytes: %+v", err)
	}
	if got, want := dev.Bytes(regs.Layers[2].MOSIBytes), []byte{1, 2, 3}; !bytes.Equal(got, want) {
		t.Fatalf("invalid MOSI bytes: got=%v, want=%v", got, want)
	}
	if got, want := dev.Reads(regs.Layers[2].MOSIWriteSize), 3; got != want {
		t.Fatalf("invalid number of polls: got=%d, want=%d", got, want)
	}
}

func TestFlush(t *testing.T) {
	ctx := context.Background()

	t.Run("interrupt-high", func(t *testing.T) {
		brd, dev, out := newTestBoard(t)
		lay := regs.Layers[1]
		dev.Set(regs.Layers[0].CfgCtrl, 0x15)
		dev.Set(lay.Status, statusInterrupt)
		dev.Set(regs.ReadoutReadSize, 4)
		dev.Fill(regs.ReadoutRaw, []byte{1, 2, 3, 4})
		dev.Set(lay.StatFrameCounter, 42)
		dev.Set(lay.StatIdleCounter, 12)

		err := brd.Flush(ctx, 1)
		if err != nil {
			t.Fatalf("could not flush layer: %+v", err)
		}

		if n := len(dev.Bytes(lay.MOSIBytes)); n != 0 {
			t.Fatalf("invalid number of filler bytes: got=%d, want=0", n)
		}
		if got, want := dev.Reads(regs.ReadoutReadSize), 1; got != want {
			t.Fatalf("invalid number of drains: got=%d, want=%d", got, want)
		}
		if got, want := dev.Reads(regs.ReadoutRaw), 1; got != want {
			t.Fatalf("invalid number of raw reads: got=%d, want=%d", got, want)
		}
		for _, reg := range []rfg.Register{lay.StatFrameCounter, lay.StatIdleCounter} {
			if got, want := dev.Writes(reg), []uint64{0}; !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid %s writes: got=%v, want=%v", reg.Name, got, want)
			}
		}
		if got, want := dev.Writes(regs.Layers[0].CfgCtrl), []uint64{0x14, 0x15}; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid hold sequence: got=%v, want=%v", got, want)
		}
		if strings.Contains(out.String(), "interrupt still low") {
			t.Fatalf("unexpected stuck layer warning:\n%s", out.String())
		}
	})

	t.Run("multi-layer", func(t *testing.T) {
		brd, dev, _ := newTestBoard(t)
		dev.Set(regs.Layers[0].CfgCtrl, 0x15)
		for _, id := range []int{0, 2} {
			dev.Set(regs.Layers[id].Status, statusInterrupt)
			dev.Set(regs.Layers[id].StatFrameCounter, 42)
		}

		err := brd.Flush(ctx, 0, 2)
		if err != nil {
			t.Fatalf("could not flush layers: %+v", err)
		}

		// hold released once, asserted once after the last drain.
		if got, want := dev.Writes(regs.Layers[0].CfgCtrl), []uint64{0x14, 0x15}; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid hold sequence: got=%v, want=%v", got, want)
		}
		if got, want := dev.Reads(regs.ReadoutReadSize), 2; got != want {
			t.Fatalf("invalid number of drains: got=%d, want=%d", got, want)
		}
		for _, id := range []int{0, 2} {
			reg := regs.Layers[id].StatFrameCounter
			if got, want := dev.Writes(reg), []uint64{0}; !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid %s writes: got=%v, want=%v", reg.Name, got, want)
			}
		}
		if got := dev.Writes(regs.Layers[1].StatFrameCounter); len(got) != 0 {
			t.Fatalf("layer 1 counters modified: %v", got)
		}
	})

	t.Run("interrupt-after-3", func(t *testing.T) {
		brd, dev, out := newTestBoard(t)
		lay := regs.Layers[2]
		dev.Script(lay.Status, 0, 0, 0, statusInterrupt)

		err := brd.Flush(ctx, 2)
		if err != nil {
			t.Fatalf("could not flush layer: %+v", err)
		}
		if got, want := len(dev.Bytes(lay.MOSIBytes)), 3*FillerSize; got != want {
			t.Fatalf("invalid number of filler bytes: got=%d, want=%d", got, want)
		}
		if got, want := dev.Reads(regs.ReadoutReadSize), 1; got != want {
			t.Fatalf("invalid number of drains: got=%d, want=%d", got, want)
		}
		if strings.Contains(out.String(), "interrupt still low") {
			t.Fatalf("unexpected stuck layer warning:\n%s", out.String())
		}
		// chip-select restored, hold asserted.
		if got, want := ctrlOf(dev, 0), (LayerControl{Hold: true}); got != want {
			t.Fatalf("invalid layer 0 control: got=%v, want=%v", got, want)
		}
	})

	t.Run("stuck", func(t *testing.T) {
		brd, dev, out := newTestBoard(t)
		lay := regs.Layers[0]

		err := brd.Flush(ctx, 0)
		if err != nil {
			t.Fatalf("stuck layer should not fail the flush: %+v", err)
		}
		if got, want := len(dev.Bytes(lay.MOSIBytes)), MaxFlushIterations*FillerSize; got != want {
			t.Fatalf("invalid number of filler bytes: got=%d, want=%d", got, want)
		}
		if got, want := dev.Reads(lay.Status), MaxFlushIterations; got != want {
			t.Fatalf("invalid number of status polls: got=%d, want=%d", got, want)
		}
		if got, want := dev.Reads(regs.ReadoutReadSize), 1; got != want {
			t.Fatalf("invalid number of drains: got=%d, want=%d", got, want)
		}
		if !strings.Contains(out.String(), "board: layer 0 interrupt still low after 20 flush iterations") {
			t.Fatalf("missing stuck layer warning:\n%s", out.String())
		}
	})

	t.Run("invalid-layer", func(t *testing.T) {
		brd, dev, _ := newTestBoard(t)
		err := brd.Flush(ctx, 0, 5)
		if err == nil {
			t.Fatalf("expected an error")
		}
		if n := len(dev.Log()); n != 0 {
			t.Fatalf("invalid number of transactions: got=%d, want=0", n)
		}
	})
}

func TestReadBuffer(t *testing.T) {
	ctx := context.Background()
	brd, dev, _ := newTestBoard(t)

	dev.Script(regs.ReadoutReadSize, 3, 0, 5)
	dev.Fill(regs.ReadoutRaw, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	for _, tc := range []struct {
		limit int
		want  Buffer
	}{
		{0, Buffer{Index: 0, Size: 3, Data: []byte{1, 2, 3}}},
		{0, Buffer{Index: 1, Size: 0, Data: []byte{}}},
		{2, Buffer{Index: 2, Size: 5, Data: []byte{4, 5}}},
	} {
		got, err := brd.ReadBuffer(ctx, tc.limit)
		if err != nil {
			t.Fatalf("could not read buffer: %+v", err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("invalid buffer:\ngot= %+v\nwant=%+v", got, tc.want)
		}
	}
}

func TestRun(t *testing.T) {
	brd, dev, _ := newTestBoard(t)

	dev.Script(regs.ReadoutReadSize, 2, 0, 3)
	dev.Fill(regs.ReadoutRaw, []byte{1, 2, 3, 4, 5})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []Buffer
	err := brd.Run(ctx, 0, func(buf Buffer) error {
		got = append(got, buf)
		if len(got) == 2 {
			cancel()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("could not run readout: %+v", err)
	}

	want := []Buffer{
		{Index: 0, Size: 2, Data: []byte{1, 2}},
		{Index: 2, Size: 3, Data: []byte{3, 4, 5}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid buffers:\ngot= %+v\nwant=%+v", got, want)
	}

	errSink := errors.New("sink full")
	dev.Script(regs.ReadoutReadSize, 1)
	dev.Fill(regs.ReadoutRaw, []byte{6})
	err = brd.Run(context.Background(), 0, func(Buffer) error { return errSink })
	if !errors.Is(err, errSink) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestWriteConfigSPI(t *testing.T) {
	ctx := context.Background()
	brd, dev, _ := newTestBoard(t)
	chain := newTestChain(t)

	err := brd.DisableReadout(ctx, true)
	if err != nil {
		t.Fatalf("could not disable readout: %+v", err)
	}

	dev.Reset()
	err = brd.WriteConfigSPI(ctx, 0, chain, 0)
	if err != nil {
		t.Fatalf("could not write SPI config: %+v", err)
	}

	bits, err := chain.Vector(false)
	if err != nil {
		t.Fatalf("could not encode chain: %+v", err)
	}
	want, err := asic.SPIFrame(bits, 0, asic.DefaultNLoad)
	if err != nil {
		t.Fatalf("could not create SPI frame: %+v", err)
	}
	if got := dev.Bytes(regs.Layers[0].MOSIBytes); !bytes.Equal(got, want) {
		t.Fatalf("invalid MOSI bytes:\ngot= %x\nwant=%x", got, want)
	}

	// selected while shifting, then back to held.
	if got, want := dev.Writes(regs.Layers[0].CfgCtrl), []uint64{0x1d, 0x15}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid control writes: got=%v, want=%v", got, want)
	}
	state, err := brd.State(ctx, 0)
	if err != nil {
		t.Fatalf("could not read state: %+v", err)
	}
	if state != StateHeld {
		t.Fatalf("invalid state: got=%v, want=%v", state, StateHeld)
	}

	err = brd.EnableReadout(ctx, []int{0}, true)
	if err != nil {
		t.Fatalf("could not enable readout: %+v", err)
	}
	err = brd.WriteConfigSPI(ctx, 0, chain, 0)
	var serr *LayerStateError
	if !errors.As(err, &serr) {
		t.Fatalf("invalid error: %+v", err)
	}
	if serr.State != StateSelectedStreaming {
		t.Fatalf("invalid state: got=%v, want=%v", serr.State, StateSelectedStreaming)
	}

	err = brd.WriteConfigSPI(ctx, 0, chain, 32)
	var eerr *asic.EncodingError
	if !errors.As(err, &eerr) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestWriteConfigSR(t *testing.T) {
	ctx := context.Background()
	brd, dev, _ := newTestBoard(t)
	chain := newTestChain(t)

	err := brd.DisableReadout(ctx, true)
	if err != nil {
		t.Fatalf("could not disable readout: %+v", err)
	}

	dev.Reset()
	err = brd.WriteConfigSR(ctx, 1, chain, 2, 0)
	if err != nil {
		t.Fatalf("could not write SR config: %+v", err)
	}

	bits, err := chain.Vector(false)
	if err != nil {
		t.Fatalf("could not encode chain: %+v", err)
	}
	frame, err := asic.SRFrame(bits, 1, 2)
	if err != nil {
		t.Fatalf("could not create SR frame: %+v", err)
	}
	var want []uint64
	for _, w := range frame {
		for i := 0; i < w.Repeat; i++ {
			want = append(want, uint64(w.Value))
		}
	}
	if got := dev.Writes(regs.LayersSROut); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid SR writes:\ngot= %v\nwant=%v", got, want)
	}
	if got, want := dev.Syncs(), 1; got != want {
		t.Fatalf("invalid number of flushes: got=%d, want=%d", got, want)
	}

	dev.Reset()
	err = brd.WriteConfigSR(ctx, 1, chain, 2, 4)
	if err != nil {
		t.Fatalf("could not write truncated SR config: %+v", err)
	}
	if got, want := len(dev.Writes(regs.LayersSROut)), 4*(1+4*2)+2*2; got != want {
		t.Fatalf("invalid number of SR writes: got=%d, want=%d", got, want)
	}

	dev.Set(regs.Layers[0].CfgCtrl, 0)
	err = brd.WriteConfigSR(ctx, 1, chain, 2, 0)
	var serr *LayerStateError
	if !errors.As(err, &serr) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestFirmware(t *testing.T) {
	ctx := context.Background()
	brd, dev, _ := newTestBoard(t)

	for _, tc := range []struct {
		id   uint64
		want string
	}{
		{0xab02, "Nexys GECCO Astropix v2"},
		{0xab03, "Nexys GECCO Astropix v3"},
		{0xac03, "CMOD Astropix v3"},
		{0x1234, "Firmware ID unknown: 0x1234"},
	} {
		dev.Set(regs.FirmwareID, tc.id)
		got, err := brd.FirmwareName(ctx)
		if err != nil {
			t.Fatalf("could not read firmware name: %+v", err)
		}
		if got != tc.want {
			t.Fatalf("invalid firmware name: got=%q, want=%q", got, tc.want)
		}
	}

	dev.Set(regs.FirmwareVersion, 0x0102)
	v, err := brd.FirmwareVersion(ctx)
	if err != nil {
		t.Fatalf("could not read firmware version: %+v", err)
	}
	if v != 0x0102 {
		t.Fatalf("invalid firmware version: got=0x%x, want=0x0102", v)
	}
}

func TestEnableSensorClocks(t *testing.T) {
	ctx := context.Background()
	brd, dev, _ := newTestBoard(t)

	for _, tc := range []struct {
		tot, ts bool
		want    uint64
	}{
		{true, true, 0xf3},
		{true, false, 0xf1},
		{false, true, 0xf2},
		{false, false, 0xf0},
	} {
		dev.Set(regs.IOCtrl, 0xf0)
		err := brd.EnableSensorClocks(ctx, tc.tot, tc.ts, true)
		if err != nil {
			t.Fatalf("could not configure sensor clocks: %+v", err)
		}
		if got := dev.Get(regs.IOCtrl); got != tc.want {
			t.Fatalf("invalid io_ctrl (tot=%v, ts=%v): got=0x%x, want=0x%x", tc.tot, tc.ts, got, tc.want)
		}
	}
}

func TestLayerStats(t *testing.T) {
	ctx := context.Background()
	brd, dev, _ := newTestBoard(t)

	lay := regs.Layers[2]
	dev.Set(lay.StatIdleCounter, 10)
	dev.Set(lay.StatFrameCounter, 20)
	dev.Set(lay.StatWrongLengthCounter, 3)
	dev.Set(lay.Status, 1)

	got, err := brd.LayerStats(ctx, 2)
	if err != nil {
		t.Fatalf("could not read stats: %+v", err)
	}
	if want := (LayerStats{Idle: 10, Frames: 20, WrongLength: 3, Status: 1}); got != want {
		t.Fatalf("invalid stats: got=%+v, want=%+v", got, want)
	}

	err = brd.ResetStatCounters(ctx, 2, true)
	if err != nil {
		t.Fatalf("could not reset counters: %+v", err)
	}
	err = brd.ZeroWrongLength(ctx, 2, true)
	if err != nil {
		t.Fatalf("could not zero wrong-length counter: %+v", err)
	}
	got, err = brd.LayerStats(ctx, 2)
	if err != nil {
		t.Fatalf("could not read stats: %+v", err)
	}
	if want := (LayerStats{Status: 1}); got != want {
		t.Fatalf("invalid stats: got=%+v, want=%+v", got, want)
	}
}

func TestTransportError(t *testing.T) {
	ctx := context.Background()
	brd, dev, _ := newTestBoard(t)

	dev.FailAfter(0, io.ErrClosedPipe)
	err := brd.DisableReadout(ctx, true)
	var terr *rfg.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("invalid error: %+v", err)
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("transport error not wrapped: %+v", err)
	}

	_, err = brd.State(ctx, 0)
	if !errors.As(err, &terr) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestBufferBinary(t *testing.T) {
	buf := Buffer{Index: 0x0102030405060708, Size: 10, Data: []byte{0xca, 0xfe}}
	raw, err := buf.MarshalBinary()
	if err != nil {
		t.Fatalf("could not encode buffer: %+v", err)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 0, 0, 0, 10, 0xca, 0xfe}
	if !bytes.Equal(raw, want) {
		t.Fatalf("invalid encoding:\ngot= %x\nwant=%x", raw, want)
	}

	var got Buffer
	err = got.UnmarshalBinary(raw)
	if err != nil {
		t.Fatalf("could not decode buffer: %+v", err)
	}
	if !reflect.DeepEqual(got, buf) {
		t.Fatalf("invalid buffer: got=%+v, want=%+v", got, buf)
	}

	err = got.UnmarshalBinary(raw[:11])
	if err == nil {
		t.Fatalf("expected an error")
	}
}
