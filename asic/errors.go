// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asic

import "fmt"

// EncodingError reports a configuration value that does not fit in its
// declared bit width.
type EncodingError struct {
	Block string
	Field string
	Width int
	Value uint64
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf(
		"asic: value %d (0x%x) of %s.%s does not fit in %d bits",
		e.Value, e.Value, e.Block, e.Field, e.Width,
	)
}

// ConfigMissingError reports a required configuration block (or a field
// of a block) absent from a chip configuration.
type ConfigMissingError struct {
	Chip  string
	Block string
	Field string
}

func (e *ConfigMissingError) Error() string {
	name := e.Block
	if e.Field != "" {
		name += "." + e.Field
	}
	if e.Chip != "" {
		return fmt.Sprintf("asic: %s: missing configuration %q", e.Chip, name)
	}
	return fmt.Sprintf("asic: missing configuration %q", name)
}
