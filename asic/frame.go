// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asic

import "fmt"

// SPI configuration protocol byte codes.
const (
	SPIBroadcast byte = 0x7e // header of a frame addressed to all chips
	SPIBit0      byte = 0x00
	SPIBit1      byte = 0x01
	SPILoad      byte = 0x03
	SPIEmpty     byte = 0x00

	SPIHeaderEmpty   byte = 0b001 << 5
	SPIHeaderRouting byte = 0b010 << 5
	SPIHeaderSR      byte = 0b011 << 5
)

const (
	// Broadcast is the target of SPI frames addressed to all the chips of a chain.
	Broadcast = -1

	// MaxChipID is the largest chip ID that can be addressed.
	MaxChipID = 0x1f

	DefaultNLoad = 10  // default number of LOAD (and idle) trailer bytes
	DefaultCkDiv = 8   // default stretch factor of the shift-register clocks
	SPIChunkSize = 256 // size of the mosi bursts of an SPI frame
)

// SPIFrame renders a configuration vector as an SPI frame addressed to
// the chip with ID target, or to all chips when target is Broadcast.
//
// The frame holds a header byte, one byte per configuration bit and,
// when nload > 0, nload LOAD bytes followed by nload idle bytes.
func SPIFrame(bits Bits, target, nload int) ([]byte, error) {
	var hdr byte
	switch {
	case target == Broadcast:
		hdr = SPIBroadcast
	case target < 0 || target > MaxChipID:
		return nil, &EncodingError{Block: "spi", Field: "chip-id", Width: 5, Value: uint64(target)}
	default:
		hdr = SPIHeaderSR | byte(target)
	}
	if nload < 0 {
		return nil, fmt.Errorf("asic: invalid number of load bytes %d", nload)
	}

	frame := make([]byte, 0, 1+len(bits)+2*nload)
	frame = append(frame, hdr)
	for _, bit := range bits {
		if bit != 0 {
			frame = append(frame, SPIBit1)
			continue
		}
		frame = append(frame, SPIBit0)
	}
	for i := 0; i < nload; i++ {
		frame = append(frame, SPILoad)
	}
	for i := 0; i < nload; i++ {
		frame = append(frame, SPIEmpty)
	}
	return frame, nil
}

// Chunks splits a frame into consecutive chunks of at most size bytes.
func Chunks(frame []byte, size int) [][]byte {
	if size <= 0 {
		size = SPIChunkSize
	}
	out := make([][]byte, 0, (len(frame)+size-1)/size)
	for beg := 0; beg < len(frame); beg += size {
		end := beg + size
		if end > len(frame) {
			end = len(frame)
		}
		out = append(out, frame[beg:end])
	}
	return out
}

// Shift-register control register bits.
const (
	SRCK1 = 1 << 0
	SRCK2 = 1 << 1
	SRSIN = 1 << 2

	srLoadShift = 3 // LOAD of layer l is bit l+3
)

// SRWrite is a write of the shift-register control register,
// repeated Repeat times.
type SRWrite struct {
	Value  uint8
	Repeat int
}

// SRFrame renders a configuration vector as the sequence of writes of the
// shift-register control register driving the given layer.
//
// Each bit is presented on SIN, then latched by a CK1 pulse and a CK2
// pulse; each clock level is held for ckdiv writes.
// The LOAD line of the layer is pulsed once all bits are shifted in.
func SRFrame(bits Bits, layer, ckdiv int) ([]SRWrite, error) {
	if layer < 0 || layer+srLoadShift > 7 {
		return nil, fmt.Errorf("asic: invalid shift-register layer %d", layer)
	}
	if ckdiv < 1 {
		return nil, fmt.Errorf("asic: invalid clock stretch factor %d", ckdiv)
	}

	var (
		out = make([]SRWrite, 0, 5*len(bits)+2)
		sin uint8
	)
	for _, bit := range bits {
		sin = 0
		if bit != 0 {
			sin = SRSIN
		}
		out = append(out,
			SRWrite{Value: sin, Repeat: 1},
			SRWrite{Value: sin | SRCK1, Repeat: ckdiv},
			SRWrite{Value: sin, Repeat: ckdiv},
			SRWrite{Value: sin | SRCK2, Repeat: ckdiv},
			SRWrite{Value: sin, Repeat: ckdiv},
		)
	}
	out = append(out,
		SRWrite{Value: sin | 1<<uint(layer+srLoadShift), Repeat: ckdiv},
		SRWrite{Value: 0, Repeat: ckdiv},
	)
	return out, nil
}
