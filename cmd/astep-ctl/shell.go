// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-lpc/astep/internal/regs"
	"github.com/go-lpc/astep/rfg"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

func newShellCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive register console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := a.open()
			if err != nil {
				return err
			}
			defer dev.Close()

			sh := newShell(dev.Board().RegisterFile(), cmd.OutOrStdout())
			return sh.run(context.Background())
		},
	}
}

var errQuit = errors.New("quit")

// shell peeks and pokes registers of the board.
type shell struct {
	rf  *rfg.File
	out io.Writer
}

func newShell(rf *rfg.File, out io.Writer) *shell {
	return &shell{rf: rf, out: out}
}

func (sh *shell) run(ctx context.Context) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(sh.complete)

	for {
		line, err := term.Prompt("astep> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintf(sh.out, "\n")
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		err = sh.exec(ctx, line)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Fprintf(sh.out, "error: %+v\n", err)
		}
	}
}

func (sh *shell) complete(line string) []string {
	var out []string
	cmd, name, ok := strings.Cut(line, " ")
	if !ok {
		for _, c := range []string{"help", "regs", "read", "write", "quit"} {
			if strings.HasPrefix(c, cmd) {
				out = append(out, c)
			}
		}
		return out
	}
	if cmd != "read" && cmd != "write" {
		return nil
	}
	name = strings.TrimLeft(name, " ")
	for _, reg := range regs.All() {
		if strings.HasPrefix(reg.Name, name) {
			out = append(out, cmd+" "+reg.Name)
		}
	}
	return out
}

func (sh *shell) exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	switch args[0] {
	case "quit", "exit":
		return errQuit

	case "help":
		fmt.Fprintf(sh.out, `commands:
  regs                  list registers
  read  REG [N]         read a register, or N bytes of a FIFO register
  write REG VALUE...    write a register, or bytes to a FIFO register
  quit                  leave the shell
`)
		return nil

	case "regs":
		for _, reg := range regs.All() {
			fmt.Fprintf(sh.out, "0x%04x %-45s %d\n", reg.Addr, reg.Name, reg.Width)
		}
		return nil

	case "read":
		if len(args) < 2 || len(args) > 3 {
			return fmt.Errorf("usage: read REG [N]")
		}
		reg, err := lookup(args[1])
		if err != nil {
			return err
		}
		if len(args) == 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid number of bytes %q", args[2])
			}
			raw, err := sh.rf.ReadBytes(ctx, reg, n)
			if err != nil {
				return err
			}
			fmt.Fprintf(sh.out, "%s = %x\n", reg.Name, raw)
			return nil
		}
		v, err := sh.rf.Read(ctx, reg)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%s = 0x%x (%d)\n", reg.Name, v, v)
		return nil

	case "write":
		if len(args) < 3 {
			return fmt.Errorf("usage: write REG VALUE...")
		}
		reg, err := lookup(args[1])
		if err != nil {
			return err
		}
		vs := make([]uint64, len(args)-2)
		for i, arg := range args[2:] {
			vs[i], err = strconv.ParseUint(arg, 0, 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", arg, err)
			}
		}
		if len(vs) == 1 {
			return sh.rf.Write(ctx, reg, vs[0], true)
		}
		raw := make([]byte, len(vs))
		for i, v := range vs {
			if v > 0xff {
				return fmt.Errorf("invalid byte value 0x%x", v)
			}
			raw[i] = byte(v)
		}
		return sh.rf.WriteBytes(ctx, reg, raw, true)

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func lookup(name string) (rfg.Register, error) {
	reg, ok := regs.Lookup(name)
	if ok {
		return reg, nil
	}
	addr, err := strconv.ParseUint(name, 0, 16)
	if err != nil {
		return rfg.Register{}, fmt.Errorf("unknown register %q", name)
	}
	for _, reg := range regs.All() {
		if uint64(reg.Addr) == addr {
			return reg, nil
		}
	}
	return rfg.Register{}, fmt.Errorf("unknown register address 0x%x", addr)
}
