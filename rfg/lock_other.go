// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !unix

package rfg

import "os"

func lockDevice(name string) (*os.File, error) { return nil, nil }
func unlockDevice(f *os.File) error           { return nil }
