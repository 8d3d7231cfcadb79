// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rfg implements the host side of the FPGA register file:
// named registers, a FIFO queue of write transactions and its explicit flush.
package rfg // import "github.com/go-lpc/astep/rfg"

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// Register describes a register of the firmware register file.
type Register struct {
	Name  string
	Addr  uint16
	Width int // width of the register value, in bytes.
}

func (reg Register) String() string {
	return fmt.Sprintf("%s@0x%04x", reg.Name, reg.Addr)
}

// mask returns the largest value the register can hold.
func (reg Register) mask() uint64 {
	if reg.Width >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*uint(reg.Width)) - 1
}

const (
	cmdWrite byte = 0x01
	cmdRead  byte = 0x02
	cmdSync  byte = 0x03

	maxCount = 0xffff
)

type txn struct {
	reg  Register
	data []byte
}

// File is a register file endpoint.
//
// Writes are queued with AddWrite and AddWriteBytes and only transmitted,
// in FIFO order, by Flush.
// A File is not safe for concurrent use.
type File struct {
	rw    io.ReadWriter
	queue []txn
	buf   []byte
}

// New returns a register file talking to the device through rw.
func New(rw io.ReadWriter) *File {
	return &File{rw: rw}
}

// Close closes the underlying transport, if it is an io.Closer.
// Pending writes are dropped.
func (f *File) Close() error {
	f.queue = f.queue[:0]
	if c, ok := f.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Pending returns the number of queued write transactions.
func (f *File) Pending() int {
	return len(f.queue)
}

// AddWrite queues repeat writes of v to reg.
// A repeat count smaller than 1 is treated as 1.
func (f *File) AddWrite(reg Register, v uint64, repeat int) error {
	if v > reg.mask() {
		return fmt.Errorf("rfg: value 0x%x overflows register %v (width=%d)", v, reg, reg.Width)
	}
	if repeat < 1 {
		repeat = 1
	}
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, v)
	data = data[:reg.Width]
	for i := 0; i < repeat; i++ {
		f.queue = append(f.queue, txn{reg: reg, data: data})
	}
	return nil
}

// AddWriteBytes queues a burst of bytes to the FIFO register reg.
func (f *File) AddWriteBytes(reg Register, p []byte) {
	for len(p) > 0 {
		n := len(p)
		if n > maxCount {
			n = maxCount
		}
		data := make([]byte, n)
		copy(data, p[:n])
		f.queue = append(f.queue, txn{reg: reg, data: data})
		p = p[n:]
	}
}

// Write writes v to reg.
// The write is only queued when flush is false.
func (f *File) Write(ctx context.Context, reg Register, v uint64, flush bool) error {
	err := f.AddWrite(reg, v, 1)
	if err != nil {
		return err
	}
	if !flush {
		return nil
	}
	return f.Flush(ctx)
}

// WriteBytes writes the burst p to the FIFO register reg.
// The write is only queued when flush is false.
func (f *File) WriteBytes(ctx context.Context, reg Register, p []byte, flush bool) error {
	f.AddWriteBytes(reg, p)
	if !flush {
		return nil
	}
	return f.Flush(ctx)
}

// Flush transmits all queued writes in order and waits for the device
// to acknowledge them.
// The queue is emptied even when the transmission fails.
func (f *File) Flush(ctx context.Context) error {
	if len(f.queue) == 0 {
		return nil
	}
	queue := f.queue
	f.queue = f.queue[:0]

	err := ctx.Err()
	if err != nil {
		return err
	}

	f.buf = f.buf[:0]
	for _, tx := range queue {
		f.buf = appendHeader(f.buf, cmdWrite, tx.reg.Addr, len(tx.data))
		f.buf = append(f.buf, tx.data...)
	}
	f.buf = appendHeader(f.buf, cmdSync, 0, 0)

	_, err = f.rw.Write(f.buf)
	if err != nil {
		return &TransportError{Op: "flush", Reg: queue[0].reg.Name, Err: err}
	}

	var ack [2]byte
	_, err = io.ReadFull(f.rw, ack[:])
	if err != nil {
		return &TransportError{Op: "flush", Reg: queue[0].reg.Name, Err: err}
	}

	var (
		got  = binary.BigEndian.Uint16(ack[:])
		want = uint16(len(queue))
	)
	if got != want {
		return &TransportError{
			Op:  "flush",
			Reg: queue[0].reg.Name,
			Err: fmt.Errorf("invalid acknowledged write count (got=%d, want=%d)", got, want),
		}
	}

	return nil
}

// Read flushes pending writes and reads the current value of reg.
func (f *File) Read(ctx context.Context, reg Register) (uint64, error) {
	raw, err := f.read(ctx, reg, reg.Width)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], raw)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// ReadBytes flushes pending writes and reads n bytes from the FIFO register reg.
// ReadBytes returns an empty slice when n <= 0.
func (f *File) ReadBytes(ctx context.Context, reg Register, n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}
	out := make([]byte, 0, n)
	for n > 0 {
		sz := n
		if sz > maxCount {
			sz = maxCount
		}
		raw, err := f.read(ctx, reg, sz)
		if err != nil {
			return nil, err
		}
		out = append(out, raw...)
		n -= sz
	}
	return out, nil
}

func (f *File) read(ctx context.Context, reg Register, n int) ([]byte, error) {
	err := f.Flush(ctx)
	if err != nil {
		return nil, err
	}

	err = ctx.Err()
	if err != nil {
		return nil, err
	}

	f.buf = appendHeader(f.buf[:0], cmdRead, reg.Addr, n)
	_, err = f.rw.Write(f.buf)
	if err != nil {
		return nil, &TransportError{Op: "read", Reg: reg.Name, Err: err}
	}

	out := make([]byte, n)
	_, err = io.ReadFull(f.rw, out)
	if err != nil {
		return nil, &TransportError{Op: "read", Reg: reg.Name, Err: err}
	}
	return out, nil
}

func appendHeader(p []byte, cmd byte, addr uint16, n int) []byte {
	return append(p,
		cmd,
		byte(addr>>8), byte(addr),
		byte(n>>8), byte(n),
	)
}

// TransportError reports a failure of the link to the register file.
// Transport errors are never retried.
type TransportError struct {
	Op  string // operation that failed (flush, read)
	Reg string // first register involved
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rfg: %s of %q failed: %v", e.Op, e.Reg, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
