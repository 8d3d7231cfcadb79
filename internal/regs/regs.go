// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs holds the register map of the astep24-3l firmware.
package regs // import "github.com/go-lpc/astep/internal/regs"

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-lpc/astep/rfg"
)

// NumLayers is the number of SPI layers driven by the firmware.
const NumLayers = 3

const (
	layerBase   = 0x0020
	layerStride = 0x0020
)

var (
	FirmwareID      = rfg.Register{Name: "hk_firmware_id", Addr: 0x0000, Width: 2}
	FirmwareVersion = rfg.Register{Name: "hk_firmware_version", Addr: 0x0002, Width: 2}

	IOCtrl = rfg.Register{Name: "io_ctrl", Addr: 0x0004, Width: 1}

	SPILayersCkDivider = rfg.Register{Name: "spi_layers_ckdivider", Addr: 0x0005, Width: 1}

	FrameTagCounterCtrl         = rfg.Register{Name: "layers_cfg_frame_tag_counter_ctrl", Addr: 0x0006, Width: 1}
	FrameTagCounterTrigger      = rfg.Register{Name: "layers_cfg_frame_tag_counter_trigger", Addr: 0x0007, Width: 4}
	FrameTagCounterTriggerMatch = rfg.Register{Name: "layers_cfg_frame_tag_counter_trigger_match", Addr: 0x000b, Width: 4}
	FrameTagCounter             = rfg.Register{Name: "layers_cfg_frame_tag_counter", Addr: 0x000f, Width: 4}

	LayersSROut = rfg.Register{Name: "layers_sr_out", Addr: 0x0013, Width: 1}

	InjCtrl  = rfg.Register{Name: "layers_inj_ctrl", Addr: 0x0014, Width: 1}
	InjWAddr = rfg.Register{Name: "layers_inj_waddr", Addr: 0x0015, Width: 1}
	InjWData = rfg.Register{Name: "layers_inj_wdata", Addr: 0x0016, Width: 1}

	ReadoutReadSize = rfg.Register{Name: "layers_readout_read_size", Addr: 0x0017, Width: 2}
	ReadoutRaw      = rfg.Register{Name: "layers_readout", Addr: 0x0019, Width: 1}
)

// Layer holds the registers of one SPI layer.
type Layer struct {
	CfgCtrl                rfg.Register
	Status                 rfg.Register
	StatIdleCounter        rfg.Register
	StatFrameCounter       rfg.Register
	StatWrongLengthCounter rfg.Register
	MOSIBytes              rfg.Register
	MOSIWriteSize          rfg.Register
}

// Layers holds the registers of all layers, indexed by layer number.
var Layers = func() [NumLayers]Layer {
	var lays [NumLayers]Layer
	for i := range lays {
		var (
			base = uint16(layerBase + i*layerStride)
			name = func(s string) string { return fmt.Sprintf("layer_%d_%s", i, s) }
		)
		lays[i] = Layer{
			CfgCtrl:                rfg.Register{Name: name("cfg_ctrl"), Addr: base + 0x00, Width: 1},
			Status:                 rfg.Register{Name: name("status"), Addr: base + 0x01, Width: 1},
			StatIdleCounter:        rfg.Register{Name: name("stat_idle_counter"), Addr: base + 0x02, Width: 4},
			StatFrameCounter:       rfg.Register{Name: name("stat_frame_counter"), Addr: base + 0x06, Width: 4},
			StatWrongLengthCounter: rfg.Register{Name: name("stat_wronglength_counter"), Addr: base + 0x0a, Width: 4},
			MOSIBytes:              rfg.Register{Name: name("mosi_bytes"), Addr: base + 0x0e, Width: 1},
			MOSIWriteSize:          rfg.Register{Name: name("mosi_write_size"), Addr: base + 0x0f, Width: 2},
		}
	}
	return lays
}()

var table = func() map[string]rfg.Register {
	db := make(map[string]rfg.Register)
	for _, reg := range []rfg.Register{
		FirmwareID, FirmwareVersion,
		IOCtrl,
		SPILayersCkDivider,
		FrameTagCounterCtrl, FrameTagCounterTrigger, FrameTagCounterTriggerMatch, FrameTagCounter,
		LayersSROut,
		InjCtrl, InjWAddr, InjWData,
		ReadoutReadSize, ReadoutRaw,
	} {
		db[reg.Name] = reg
	}
	for _, lay := range Layers {
		for _, reg := range []rfg.Register{
			lay.CfgCtrl, lay.Status,
			lay.StatIdleCounter, lay.StatFrameCounter, lay.StatWrongLengthCounter,
			lay.MOSIBytes, lay.MOSIWriteSize,
		} {
			db[reg.Name] = reg
		}
	}
	return db
}()

// Lookup returns the register with the provided (case insensitive) name.
func Lookup(name string) (rfg.Register, bool) {
	reg, ok := table[strings.ToLower(name)]
	return reg, ok
}

// All returns all registers, sorted by address.
func All() []rfg.Register {
	out := make([]rfg.Register, 0, len(table))
	for _, reg := range table {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Addr < out[j].Addr
	})
	return out
}
