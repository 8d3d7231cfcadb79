// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asic

import (
	"fmt"
	"strings"
)

// Bits is a configuration bit vector, one bit per element (0 or 1),
// in shift order: Bits[0] is the first bit clocked into the chain.
type Bits []byte

// ParseBits parses a string of '0' and '1' characters.
// Underscores are ignored.
func ParseBits(s string) (Bits, error) {
	bits := make(Bits, 0, len(s))
	for i, c := range s {
		switch c {
		case '0':
			bits = append(bits, 0)
		case '1':
			bits = append(bits, 1)
		case '_':
		default:
			return nil, fmt.Errorf("asic: invalid bit %q at index %d", c, i)
		}
	}
	return bits, nil
}

func (bits Bits) String() string {
	var o strings.Builder
	o.Grow(len(bits))
	for _, b := range bits {
		if b != 0 {
			o.WriteByte('1')
			continue
		}
		o.WriteByte('0')
	}
	return o.String()
}

// Reverse reverses the bits in place.
func (bits Bits) Reverse() {
	for i, j := 0, len(bits)-1; i < j; i, j = i+1, j-1 {
		bits[i], bits[j] = bits[j], bits[i]
	}
}

// appendUint appends the width bits of v, MSB first.
func appendUint(bits Bits, v uint64, width int) Bits {
	for i := width - 1; i >= 0; i-- {
		bits = append(bits, byte(v>>uint(i))&0x1)
	}
	return bits
}

// uintOf decodes an MSB first bit sequence.
func uintOf(bits Bits) uint64 {
	var v uint64
	for _, b := range bits {
		v = v<<1 | uint64(b&0x1)
	}
	return v
}

func fits(v uint64, width int) bool {
	if width >= 64 {
		return true
	}
	return v>>uint(width) == 0
}
