// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rfg

import (
	"fmt"
	"os"
	"time"

	"github.com/tarm/serial"
)

// UARTConfig describes the serial link to the board.
type UARTConfig struct {
	Device      string        // path to the tty device (e.g. /dev/ttyUSB1)
	Baud        int           // baud rate
	ReadTimeout time.Duration // maximum time to wait for a reply byte
}

// Serial settings of the astep24-3l firmware.
const (
	DefaultBaud        = 921600
	DefaultReadTimeout = 2 * time.Second
)

// DefaultUARTConfig returns the serial settings of the astep24-3l firmware.
func DefaultUARTConfig(dev string) UARTConfig {
	return UARTConfig{
		Device:      dev,
		Baud:        DefaultBaud,
		ReadTimeout: DefaultReadTimeout,
	}
}

// UART is a serial transport to the register file.
// The tty device is locked for exclusive use while the UART is open.
type UART struct {
	port *serial.Port
	lock *os.File
}

// OpenUART opens the serial link described by cfg.
func OpenUART(cfg UARTConfig) (*UART, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("rfg: no serial device")
	}
	if cfg.Baud <= 0 {
		return nil, fmt.Errorf("rfg: invalid baud rate %d", cfg.Baud)
	}

	lock, err := lockDevice(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("rfg: could not lock serial device %q: %w", cfg.Device, err)
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		_ = unlockDevice(lock)
		return nil, fmt.Errorf("rfg: could not open serial device %q: %w", cfg.Device, err)
	}

	return &UART{port: port, lock: lock}, nil
}

func (u *UART) Read(p []byte) (int, error)  { return u.port.Read(p) }
func (u *UART) Write(p []byte) (int, error) { return u.port.Write(p) }

// Close closes the serial port and releases the device lock.
func (u *UART) Close() error {
	err := u.port.Close()
	if e := unlockDevice(u.lock); e != nil && err == nil {
		err = e
	}
	if err != nil {
		return fmt.Errorf("rfg: could not close serial device: %w", err)
	}
	return nil
}

// Open opens a register file over the serial link described by cfg.
func Open(cfg UARTConfig) (*File, error) {
	u, err := OpenUART(cfg)
	if err != nil {
		return nil, err
	}
	return New(u), nil
}
