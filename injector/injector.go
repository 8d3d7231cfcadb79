// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package injector drives the injection pattern generator of the readout
// board firmware.
//
// The pattern generator is programmed through three registers: a write
// address, a write data and a control register whose WRITE bit latches
// the address/data pair.
package injector // import "github.com/go-lpc/astep/injector"

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/astep/internal/regs"
	"github.com/go-lpc/astep/rfg"
)

// Ctrl is a value of the pattern generator control register.
type Ctrl uint8

const (
	CtrlNone    Ctrl = 0
	CtrlReset   Ctrl = 1 << 0
	CtrlSuspend Ctrl = 1 << 1
	CtrlSynced  Ctrl = 1 << 2
	CtrlTrigger Ctrl = 1 << 3
	CtrlWrite   Ctrl = 1 << 4
)

// pattern generator addresses.
const (
	addrPulsesPerSet = 7
	addrPeriod       = 8
	addrFlags        = 9
	addrCycleHi      = 10
	addrCycleLo      = 11
	addrInitDelayHi  = 12
	addrInitDelayLo  = 13
	addrClkDivHi     = 14
	addrClkDivLo     = 15

	patternFlags = 0b010100
)

// Registers are the register file registers of a pattern generator.
type Registers struct {
	Ctrl  rfg.Register
	WAddr rfg.Register
	WData rfg.Register
}

// DefaultPrefix is the register name prefix of the layers injector.
const DefaultPrefix = "LAYERS_INJ"

// Lookup returns the {prefix}_CTRL, {prefix}_WADDR and {prefix}_WDATA
// registers.
func Lookup(prefix string) (Registers, error) {
	var (
		out  Registers
		miss []string
	)
	for _, v := range []struct {
		reg  *rfg.Register
		name string
	}{
		{&out.Ctrl, prefix + "_CTRL"},
		{&out.WAddr, prefix + "_WADDR"},
		{&out.WData, prefix + "_WDATA"},
	} {
		reg, ok := regs.Lookup(v.name)
		if !ok {
			miss = append(miss, v.name)
			continue
		}
		*v.reg = reg
	}
	if len(miss) > 0 {
		return out, fmt.Errorf("injector: unknown registers %s", strings.Join(miss, ", "))
	}
	return out, nil
}

// Pattern describes the injection pattern.
type Pattern struct {
	Period       int `json:"period"`         // [0, 255]
	ClkDiv       int `json:"clkdiv"`         // [0, 65535]
	InitDelay    int `json:"initdelay"`      // [0, 65535]
	Cycle        int `json:"cycle"`          // number of pulses, [0, 65535]
	PulsesPerSet int `json:"pulses_per_set"` // [0, 255]
}

// DefaultPattern returns the power-on injection pattern.
func DefaultPattern() Pattern {
	return Pattern{
		Period:       100,
		ClkDiv:       300,
		InitDelay:    100,
		Cycle:        0,
		PulsesPerSet: 1,
	}
}

// Validate checks all parameters are within their range.
func (p Pattern) Validate() error {
	for _, v := range []struct {
		name string
		v    int
		max  int
	}{
		{"period", p.Period, 0xff},
		{"clkdiv", p.ClkDiv, 0xffff},
		{"initdelay", p.InitDelay, 0xffff},
		{"cycle", p.Cycle, 0xffff},
		{"pulses-per-set", p.PulsesPerSet, 0xff},
	} {
		err := checkRange(v.name, v.v, v.max)
		if err != nil {
			return err
		}
	}
	return nil
}

func checkRange(name string, v, hi int) error {
	if v < 0 || v > hi {
		return fmt.Errorf("injector: %s=%d out of range [0, %d]", name, v, hi)
	}
	return nil
}

// Injector is a pattern generator.
//
// An Injector is not safe for concurrent use.
type Injector struct {
	rf   *rfg.File
	regs Registers
	msg  log.MsgStream

	pat    Pattern
	sticky Ctrl // bits applied with every control write
}

// Option configures an Injector.
type Option func(*Injector)

// WithLogger sets the message stream of the injector.
func WithLogger(msg log.MsgStream) Option {
	return func(inj *Injector) {
		inj.msg = msg
	}
}

// WithRegisters sets the registers driving the pattern generator.
func WithRegisters(regs Registers) Option {
	return func(inj *Injector) {
		inj.regs = regs
	}
}

// New returns an injector programmed through rf, with the default pattern.
func New(rf *rfg.File, opts ...Option) *Injector {
	inj := &Injector{
		rf: rf,
		regs: Registers{
			Ctrl:  regs.InjCtrl,
			WAddr: regs.InjWAddr,
			WData: regs.InjWData,
		},
		msg:    log.NewMsgStream("injector", log.LvlInfo, os.Stderr),
		pat:    DefaultPattern(),
		sticky: CtrlNone,
	}
	for _, opt := range opts {
		opt(inj)
	}
	return inj
}

// Pattern returns the current injection pattern.
func (inj *Injector) Pattern() Pattern { return inj.pat }

// Sticky returns the control bits currently latched.
func (inj *Injector) Sticky() Ctrl { return inj.sticky }

// SetPattern replaces the whole injection pattern.
// The pattern is left untouched if any parameter is out of range.
func (inj *Injector) SetPattern(p Pattern) error {
	err := p.Validate()
	if err != nil {
		return err
	}
	inj.pat = p
	return nil
}

// SetPeriod sets the injection period.
func (inj *Injector) SetPeriod(v int) error {
	err := checkRange("period", v, 0xff)
	if err != nil {
		return err
	}
	inj.pat.Period = v
	return nil
}

// SetClkDiv sets the injection clock divider.
func (inj *Injector) SetClkDiv(v int) error {
	err := checkRange("clkdiv", v, 0xffff)
	if err != nil {
		return err
	}
	inj.pat.ClkDiv = v
	return nil
}

// SetInitDelay sets the injection initial delay.
func (inj *Injector) SetInitDelay(v int) error {
	err := checkRange("initdelay", v, 0xffff)
	if err != nil {
		return err
	}
	inj.pat.InitDelay = v
	return nil
}

// SetCycle sets the number of injected pulses.
func (inj *Injector) SetCycle(v int) error {
	err := checkRange("cycle", v, 0xffff)
	if err != nil {
		return err
	}
	inj.pat.Cycle = v
	return nil
}

// SetPulsesPerSet sets the number of pulses per set.
func (inj *Injector) SetPulsesPerSet(v int) error {
	err := checkRange("pulses-per-set", v, 0xff)
	if err != nil {
		return err
	}
	inj.pat.PulsesPerSet = v
	return nil
}

// Stop suspends and resets the pattern generator.
// Stop is idempotent.
func (inj *Injector) Stop(ctx context.Context) error {
	err := inj.stop()
	if err == nil {
		err = inj.rf.Flush(ctx)
	}
	if err != nil {
		return fmt.Errorf("injector: could not stop injection: %w", err)
	}
	return nil
}

func (inj *Injector) stop() error {
	inj.sticky = CtrlSuspend | CtrlReset
	return inj.ctrl(inj.sticky)
}

// Start stops the pattern generator, programs the current pattern and
// starts the injection.
// Start returns once the hardware has acknowledged all writes.
// If the pattern could not be transmitted, the injector is left stopped.
func (inj *Injector) Start(ctx context.Context) error {
	err := inj.Stop(ctx)
	if err != nil {
		return err
	}

	p := inj.pat
	for _, w := range []struct {
		addr uint64
		v    int
	}{
		{addrPulsesPerSet, p.PulsesPerSet},
		{addrPeriod, p.Period},
		{addrFlags, patternFlags},
		{addrCycleHi, p.Cycle >> 8},
		{addrCycleLo, p.Cycle & 0xff},
		{addrInitDelayHi, p.InitDelay >> 8},
		{addrInitDelayLo, p.InitDelay & 0xff},
		{addrClkDivHi, p.ClkDiv >> 8},
		{addrClkDivLo, p.ClkDiv & 0xff},
	} {
		err = inj.write(w.addr, uint64(w.v))
		if err != nil {
			return fmt.Errorf("injector: could not program address %d: %w", w.addr, err)
		}
	}

	for _, v := range []Ctrl{CtrlSuspend | CtrlReset, CtrlNone} {
		err = inj.ctrl(v)
		if err != nil {
			return fmt.Errorf("injector: could not load pattern: %w", err)
		}
	}

	err = inj.rf.Flush(ctx)
	if err != nil {
		return fmt.Errorf("injector: could not start injection: %w", err)
	}
	inj.sticky = CtrlNone
	inj.msg.Infof("injection started: %+v", p)
	return nil
}

// write queues the latching of v at the pattern generator address addr.
func (inj *Injector) write(addr, v uint64) error {
	err := inj.rf.AddWrite(inj.regs.WAddr, addr, 1)
	if err != nil {
		return err
	}
	err = inj.rf.AddWrite(inj.regs.WData, v, 1)
	if err != nil {
		return err
	}
	err = inj.ctrl(inj.sticky | CtrlWrite)
	if err != nil {
		return err
	}
	return inj.ctrl(inj.sticky)
}

func (inj *Injector) ctrl(v Ctrl) error {
	return inj.rf.AddWrite(inj.regs.Ctrl, uint64(v), 1)
}
