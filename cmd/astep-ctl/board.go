// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"

	"github.com/go-lpc/astep/board"
	"github.com/go-lpc/astep/injector"
	"github.com/spf13/cobra"
)

func newFwIDCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fwid",
		Short: "Print the firmware identification of the board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := a.open()
			if err != nil {
				return err
			}
			defer dev.Close()

			ctx, cancel := a.context()
			defer cancel()

			brd := dev.Board()
			id, err := brd.FirmwareID(ctx)
			if err != nil {
				return err
			}
			vers, err := brd.FirmwareVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "firmware: 0x%04x (%s), version=0x%04x\n",
				id, board.FirmwareName(id), vers,
			)
			return nil
		},
	}
}

func newConfigureCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Initialize the board and configure the chips of all layers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := a.open()
			if err != nil {
				return err
			}
			defer dev.Close()

			ctx, cancel := a.context()
			defer cancel()

			err = dev.Initialize(ctx)
			if err != nil {
				return err
			}
			return dev.Configure(ctx)
		},
	}
}

func newInjectCommand(a *app) *cobra.Command {
	pat := injector.DefaultPattern()
	cmd := &cobra.Command{
		Use:       "inject start|stop",
		Short:     "Start or stop the injection pattern generator",
		Args:      cobra.ExactValidArgs(1),
		ValidArgs: []string{"start", "stop"},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Injector == nil {
				return nil
			}
			flags := cmd.Flags()
			for _, v := range []struct {
				name string
				dst  *int
				val  int
			}{
				{"period", &pat.Period, a.cfg.Injector.Period},
				{"clkdiv", &pat.ClkDiv, a.cfg.Injector.ClkDiv},
				{"initdelay", &pat.InitDelay, a.cfg.Injector.InitDelay},
				{"cycle", &pat.Cycle, a.cfg.Injector.Cycle},
				{"pulses", &pat.PulsesPerSet, a.cfg.Injector.PulsesPerSet},
			} {
				if !flags.Changed(v.name) {
					*v.dst = v.val
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := a.open()
			if err != nil {
				return err
			}
			defer dev.Close()

			ctx, cancel := a.context()
			defer cancel()

			inj := injector.New(dev.Board().RegisterFile(), injector.WithLogger(a.msg))
			switch args[0] {
			case "start":
				err = inj.SetPattern(pat)
				if err != nil {
					return err
				}
				return inj.Start(ctx)
			default:
				return inj.Stop(ctx)
			}
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&pat.Period, "period", pat.Period, "injection period")
	flags.IntVar(&pat.ClkDiv, "clkdiv", pat.ClkDiv, "clock divider of the pattern generator")
	flags.IntVar(&pat.InitDelay, "initdelay", pat.InitDelay, "initial delay")
	flags.IntVar(&pat.Cycle, "cycle", pat.Cycle, "number of cycles (0: infinite)")
	flags.IntVar(&pat.PulsesPerSet, "pulses", pat.PulsesPerSet, "number of pulses per set")
	return cmd
}

func newFlushCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "flush [layer...]",
		Short: "Drain the data of the provided layers (default: configured layers)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := layerIDs(args)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				ids = a.cfg.LayerIDs()
			}
			if len(ids) == 0 {
				return fmt.Errorf("no layer to flush")
			}

			dev, err := a.open()
			if err != nil {
				return err
			}
			defer dev.Close()

			ctx, cancel := a.context()
			defer cancel()

			return dev.Board().Flush(ctx, ids...)
		},
	}
}

func layerIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, arg := range args {
		id, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid layer %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
