// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-lpc/astep/api"
	"github.com/go-lpc/astep/injector"
	"github.com/spf13/cobra"
)

const defaultAPIAddr = ":8080"

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP control API of the board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.API
			}
			if addr == "" {
				addr = defaultAPIAddr
			}

			dev, err := a.open()
			if err != nil {
				return err
			}
			defer dev.Close()

			ctx, cancel := a.context()
			defer cancel()

			inj := dev.Injector()
			if inj == nil {
				inj = injector.New(dev.Board().RegisterFile(), injector.WithLogger(a.msg))
			}
			srv := api.NewServer(dev.Board(), api.WithLogger(a.msg), api.WithInjector(inj))
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "[ip]:port to serve on")
	return cmd
}

func newRemoteCommand(a *app) *cobra.Command {
	var (
		addr string
		cli  *api.Client
	)
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Control a board through its HTTP control API",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			err := a.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.API
			}
			if addr == "" {
				addr = defaultAPIAddr
			}
			cli = api.NewClient(addr)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "", "address of the control API")

	show := func(cmd *cobra.Command, v interface{}) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	var autoread bool
	enable := &cobra.Command{
		Use:   "enable LAYER...",
		Short: "Enable the readout of layers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := layerIDs(args)
			if err != nil {
				return err
			}
			return cli.EnableReadout(ids, autoread)
		},
	}
	enable.Flags().BoolVar(&autoread, "autoread", true, "enable the autoread mode")

	pat := injector.DefaultPattern()
	var usePat bool
	inject := &cobra.Command{
		Use:       "inject start|stop",
		Short:     "Start or stop the injection pattern generator",
		Args:      cobra.ExactValidArgs(1),
		ValidArgs: []string{"start", "stop"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "stop" {
				return cli.StopInjector()
			}
			if !usePat {
				return cli.StartInjector(nil)
			}
			return cli.StartInjector(&pat)
		},
	}
	inject.Flags().BoolVar(&usePat, "pattern", false, "send the pattern defined by the flags")
	inject.Flags().IntVar(&pat.Period, "period", pat.Period, "injection period")
	inject.Flags().IntVar(&pat.ClkDiv, "clkdiv", pat.ClkDiv, "clock divider of the pattern generator")
	inject.Flags().IntVar(&pat.InitDelay, "initdelay", pat.InitDelay, "initial delay")
	inject.Flags().IntVar(&pat.Cycle, "cycle", pat.Cycle, "number of cycles (0: infinite)")
	inject.Flags().IntVar(&pat.PulsesPerSet, "pulses", pat.PulsesPerSet, "number of pulses per set")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Print the state of the board",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := cli.Status()
				if err != nil {
					return err
				}
				return show(cmd, st)
			},
		},
		&cobra.Command{
			Use:   "layer LAYER",
			Short: "Print the state and counters of a layer",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid layer %q: %w", args[0], err)
				}
				lay, err := cli.Layer(id)
				if err != nil {
					return err
				}
				return show(cmd, lay)
			},
		},
		&cobra.Command{
			Use:   "flush LAYER...",
			Short: "Drain the data of layers",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := layerIDs(args)
				if err != nil {
					return err
				}
				for _, id := range ids {
					err = cli.Flush(id)
					if err != nil {
						return err
					}
				}
				return nil
			},
		},
		enable,
		&cobra.Command{
			Use:   "disable",
			Short: "Disable the readout of all layers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return cli.DisableReadout()
			},
		},
		inject,
	)
	return cmd
}
