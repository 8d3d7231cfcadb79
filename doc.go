// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package astep holds code to configure and read out the A-STEP
// pixel-sensor layers: daisy-chained AstroPix ASICs driven by an FPGA
// register file over UART.
//
// The sub-packages are layered as follows:
//   - rfg: register file (queued writes, flush, reads) and its UART transport,
//   - asic: chip configuration and its shift-register and SPI encodings,
//   - board: layer control lines, clocks and readout flow,
//   - injector: on-board pulse generator,
//   - rawstore: persistence of readout buffers,
//   - runcfg: run configuration documents,
//   - daq: run flow, from board initialization down to readout storage,
//   - api: HTTP control of a board.
package astep // import "github.com/go-lpc/astep"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of astep and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/astep"
	if b.Main.Path == root && b.Main.Version != "" && b.Main.Version != "(devel)" {
		return b.Main.Version, b.Main.Sum
	}

	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
