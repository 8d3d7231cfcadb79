// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asic

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestSPIFrame(t *testing.T) {
	bits, _ := ParseBits("1101")

	for _, tc := range []struct {
		name   string
		target int
		nload  int
		want   []byte
	}{
		{
			name:   "broadcast",
			target: Broadcast,
			nload:  2,
			want:   []byte{0x7e, 1, 1, 0, 1, 3, 3, 0, 0},
		},
		{
			name:   "chip-0",
			target: 0,
			nload:  1,
			want:   []byte{0x60, 1, 1, 0, 1, 3, 0},
		},
		{
			name:   "chip-5-no-load",
			target: 5,
			nload:  0,
			want:   []byte{0x65, 1, 1, 0, 1},
		},
		{
			name:   "chip-31",
			target: 31,
			nload:  DefaultNLoad,
			want: append(
				[]byte{0x7f, 1, 1, 0, 1},
				append(bytes.Repeat([]byte{SPILoad}, 10), bytes.Repeat([]byte{SPIEmpty}, 10)...)...,
			),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SPIFrame(bits, tc.target, tc.nload)
			if err != nil {
				t.Fatalf("could not create frame: %+v", err)
			}
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("invalid frame:\ngot= %x\nwant=%x", got, tc.want)
			}
		})
	}

	for _, target := range []int{-2, 32, 255} {
		_, err := SPIFrame(bits, target, 1)
		var eerr *EncodingError
		if !errors.As(err, &eerr) {
			t.Fatalf("invalid error for target=%d: %+v", target, err)
		}
	}
}

func TestChunks(t *testing.T) {
	frame := make([]byte, 600)
	for i := range frame {
		frame[i] = byte(i)
	}

	chunks := Chunks(frame, SPIChunkSize)
	if got, want := len(chunks), 3; got != want {
		t.Fatalf("invalid number of chunks: got=%d, want=%d", got, want)
	}
	for i, want := range []int{256, 256, 88} {
		if got := len(chunks[i]); got != want {
			t.Fatalf("invalid chunk size [%d]: got=%d, want=%d", i, got, want)
		}
	}
	if got := bytes.Join(chunks, nil); !bytes.Equal(got, frame) {
		t.Fatalf("chunks do not reassemble the frame")
	}
	if got := Chunks(nil, 256); len(got) != 0 {
		t.Fatalf("invalid chunks for empty frame: %v", got)
	}
}

func TestSRFrame(t *testing.T) {
	bits, _ := ParseBits("10")

	got, err := SRFrame(bits, 1, 2)
	if err != nil {
		t.Fatalf("could not create SR frame: %+v", err)
	}

	want := []SRWrite{
		// bit 1
		{0x4, 1}, {0x5, 2}, {0x4, 2}, {0x6, 2}, {0x4, 2},
		// bit 0
		{0x0, 1}, {0x1, 2}, {0x0, 2}, {0x2, 2}, {0x0, 2},
		// load layer 1
		{0x10, 2}, {0x0, 2},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid SR frame:\ngot= %v\nwant=%v", got, want)
	}

	for _, tc := range []struct {
		layer, ckdiv int
	}{
		{-1, 8},
		{5, 8},
		{0, 0},
	} {
		_, err := SRFrame(bits, tc.layer, tc.ckdiv)
		if err == nil {
			t.Fatalf("expected an error (layer=%d, ckdiv=%d)", tc.layer, tc.ckdiv)
		}
	}
}
