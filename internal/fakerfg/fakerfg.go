// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakerfg provides an in-memory register file device, speaking
// the rfg wire protocol, to exercise board drivers without hardware.
package fakerfg // import "github.com/go-lpc/astep/internal/fakerfg"

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/go-lpc/astep/rfg"
)

const (
	cmdWrite byte = 0x01
	cmdRead  byte = 0x02
	cmdSync  byte = 0x03
)

// Op is the kind of a recorded transaction.
type Op byte

const (
	OpWrite Op = 'W'
	OpRead  Op = 'R'
)

// Txn is a transaction received by the device.
type Txn struct {
	Op   Op
	Addr uint16
	Data []byte // written bytes, or bytes sent back for a read.
}

// Value returns the little-endian value held by the transaction data.
func (tx Txn) Value() uint64 {
	var buf [8]byte
	copy(buf[:], tx.Data)
	return binary.LittleEndian.Uint64(buf[:])
}

// Device is a fake register file.
// Registers without scripted values behave as plain memory:
// reads return the last written value.
type Device struct {
	mu sync.Mutex

	in  bytes.Buffer
	out bytes.Buffer

	mem    map[uint16]uint64
	script map[uint16][][]byte
	fifo   map[uint16][]byte
	log    []Txn
	nsync  int
	nwrite int // writes received since last sync

	// OnWrite, when set, is called after each write transaction
	// has been applied to the register memory.
	OnWrite func(dev *Device, addr uint16, data []byte)

	err   error
	failN int
}

// New returns a new fake register file device.
func New() *Device {
	return &Device{
		mem:    make(map[uint16]uint64),
		script: make(map[uint16][][]byte),
		fifo:   make(map[uint16][]byte),
	}
}

// File returns a register file connected to this device.
func (dev *Device) File() *rfg.File {
	return rfg.New(dev)
}

// Set sets the memory value of reg.
func (dev *Device) Set(reg rfg.Register, v uint64) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.mem[reg.Addr] = v
}

// SetLocked sets the memory value of reg. It must only be called from OnWrite.
func (dev *Device) SetLocked(reg rfg.Register, v uint64) {
	dev.mem[reg.Addr] = v
}

// Get returns the memory value of reg.
func (dev *Device) Get(reg rfg.Register) uint64 {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.mem[reg.Addr]
}

// Script queues values returned, in order, by the next reads of reg.
// Once exhausted, reads of reg fall back to the register memory.
func (dev *Device) Script(reg rfg.Register, vs ...uint64) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	for _, v := range vs {
		raw := make([]byte, 8)
		binary.LittleEndian.PutUint64(raw, v)
		dev.script[reg.Addr] = append(dev.script[reg.Addr], raw)
	}
}

// Fill appends raw bytes to the content of the FIFO register reg.
func (dev *Device) Fill(reg rfg.Register, p []byte) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.fifo[reg.Addr] = append(dev.fifo[reg.Addr], p...)
}

// FailAfter makes the device fail with err after n more transmissions.
func (dev *Device) FailAfter(n int, err error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.failN = n
	dev.err = err
}

// Log returns the transactions received so far.
func (dev *Device) Log() []Txn {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	out := make([]Txn, len(dev.log))
	copy(out, dev.log)
	return out
}

// Syncs returns the number of flush synchronisations received so far.
func (dev *Device) Syncs() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.nsync
}

// Reset clears the transaction log.
func (dev *Device) Reset() {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.log = dev.log[:0]
	dev.nsync = 0
}

// Writes returns the written values of reg, in order.
func (dev *Device) Writes(reg rfg.Register) []uint64 {
	var out []uint64
	for _, tx := range dev.Log() {
		if tx.Op == OpWrite && tx.Addr == reg.Addr {
			out = append(out, tx.Value())
		}
	}
	return out
}

// Bytes returns the concatenated bytes written to the FIFO register reg.
func (dev *Device) Bytes(reg rfg.Register) []byte {
	var out []byte
	for _, tx := range dev.Log() {
		if tx.Op == OpWrite && tx.Addr == reg.Addr {
			out = append(out, tx.Data...)
		}
	}
	return out
}

// Reads returns the number of read transactions of reg.
func (dev *Device) Reads(reg rfg.Register) int {
	n := 0
	for _, tx := range dev.Log() {
		if tx.Op == OpRead && tx.Addr == reg.Addr {
			n++
		}
	}
	return n
}

func (dev *Device) Write(p []byte) (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.err != nil {
		if dev.failN <= 0 {
			return 0, dev.err
		}
		dev.failN--
	}

	dev.in.Write(p)
	err := dev.process()
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (dev *Device) Read(p []byte) (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.out.Len() == 0 {
		return 0, io.EOF
	}
	return dev.out.Read(p)
}

func (dev *Device) process() error {
	for dev.in.Len() >= 5 {
		hdr := dev.in.Bytes()[:5]
		var (
			cmd  = hdr[0]
			addr = binary.BigEndian.Uint16(hdr[1:3])
			n    = int(binary.BigEndian.Uint16(hdr[3:5]))
		)
		switch cmd {
		case cmdWrite:
			if dev.in.Len() < 5+n {
				return nil
			}
			dev.in.Next(5)
			data := make([]byte, n)
			_, _ = dev.in.Read(data)
			dev.log = append(dev.log, Txn{Op: OpWrite, Addr: addr, Data: data})
			var buf [8]byte
			copy(buf[:], data)
			dev.mem[addr] = binary.LittleEndian.Uint64(buf[:])
			dev.nwrite++
			if dev.OnWrite != nil {
				dev.OnWrite(dev, addr, data)
			}

		case cmdRead:
			dev.in.Next(5)
			data := dev.readLocked(addr, n)
			dev.log = append(dev.log, Txn{Op: OpRead, Addr: addr, Data: data})
			dev.out.Write(data)

		case cmdSync:
			dev.in.Next(5)
			dev.nsync++
			var ack [2]byte
			binary.BigEndian.PutUint16(ack[:], uint16(dev.nwrite))
			dev.out.Write(ack[:])
			dev.nwrite = 0

		default:
			dev.in.Reset()
			return fmt.Errorf("fakerfg: invalid command 0x%x", cmd)
		}
	}
	return nil
}

func (dev *Device) readLocked(addr uint16, n int) []byte {
	if fifo, ok := dev.fifo[addr]; ok && len(fifo) > 0 {
		out := make([]byte, n)
		m := copy(out, fifo)
		dev.fifo[addr] = fifo[m:]
		return out
	}

	out := make([]byte, n)
	if vs := dev.script[addr]; len(vs) > 0 {
		copy(out, vs[0])
		dev.script[addr] = vs[1:]
		return out
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], dev.mem[addr])
	copy(out, buf[:])
	return out
}

var _ io.ReadWriter = (*Device)(nil)
