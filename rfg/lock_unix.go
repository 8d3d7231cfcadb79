// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package rfg

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func lockDevice(name string) (*os.File, error) {
	f, err := os.OpenFile(name, os.O_RDONLY|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, err
	}

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("device already in use")
		}
		return nil, err
	}
	return f, nil
}

func unlockDevice(f *os.File) error {
	if f == nil {
		return nil
	}
	defer f.Close()
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
