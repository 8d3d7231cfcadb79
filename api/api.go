// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package api exposes the control of an A-STEP board over HTTP.
//
// Routes:
//
//	GET  /api/status
//	GET  /api/layers/{layer}
//	POST /api/layers/{layer}/flush
//	POST /api/readout/enable    {"layers": [0, 2], "autoread": true}
//	POST /api/readout/disable
//	POST /api/injector/start    optional injection pattern
//	POST /api/injector/stop
package api // import "github.com/go-lpc/astep/api"

import (
	"github.com/go-lpc/astep/board"
	"github.com/go-lpc/astep/injector"
)

// Status is the state of the board.
type Status struct {
	FirmwareID      uint64                 `json:"firmware_id"`
	FirmwareVersion uint64                 `json:"firmware_version"`
	Firmware        string                 `json:"firmware"`
	Shared          board.BoardSharedLines `json:"shared"`
	Layers          []LayerStatus          `json:"layers"`
	Injector        *InjectorStatus        `json:"injector,omitempty"`
}

// LayerStatus is the state of a layer.
type LayerStatus struct {
	ID      int                `json:"id"`
	State   string             `json:"state"`
	Control board.LayerControl `json:"control"`
	Stats   *board.LayerStats  `json:"stats,omitempty"`
}

// InjectorStatus is the state of the pattern generator.
type InjectorStatus struct {
	Running bool             `json:"running"`
	Pattern injector.Pattern `json:"pattern"`
}

// ReadoutRequest selects the layers whose readout is enabled.
type ReadoutRequest struct {
	Layers   []int `json:"layers"`
	Autoread bool  `json:"autoread"`
}

// Error is the body of a failed request.
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"error"`
}
