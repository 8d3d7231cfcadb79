// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command astep-ctl configures and reads out A-STEP boards.
//
// Usage:
//
//	$> astep-ctl fwid      -c run.yml
//	$> astep-ctl configure -c run.yml
//	$> astep-ctl run       -c run.yml --duration=10m
//	$> astep-ctl dump      astep-raw.db 1
//	$> astep-ctl serve     -c run.yml --addr=:8080
//	$> astep-ctl remote    --addr=localhost:8080 status
//	$> astep-ctl shell     -c run.yml
package main // import "github.com/go-lpc/astep/cmd/astep-ctl"

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/astep"
	"github.com/go-lpc/astep/daq"
	"github.com/go-lpc/astep/runcfg"
	"github.com/spf13/cobra"
)

func main() {
	cmd := newRootCommand(os.Stdout, os.Stderr)
	err := cmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// app holds the state shared by all commands.
type app struct {
	fname  string // run configuration file
	device string // serial device, overrides the configuration
	level  string // message level, overrides the configuration

	cfg *runcfg.Config
	msg log.MsgStream
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := new(app)
	vers, _ := astep.Version()
	if vers == "" {
		vers = "(devel)"
	}
	cmd := &cobra.Command{
		Use:          "astep-ctl",
		Short:        "Tool to configure and read out A-STEP boards",
		Version:      vers,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().StringVarP(&a.fname, "config", "c", "", "path to the run configuration file")
	cmd.PersistentFlags().StringVar(&a.device, "device", "", "serial device of the board")
	cmd.PersistentFlags().StringVar(&a.level, "log-level", "", "message level (debug|info|warn|error)")

	cmd.AddCommand(
		newFwIDCommand(a),
		newConfigureCommand(a),
		newInjectCommand(a),
		newFlushCommand(a),
		newRunCommand(a),
		newDumpCommand(a),
		newServeCommand(a),
		newRemoteCommand(a),
		newShellCommand(a),
	)
	return cmd
}

func (a *app) load(stderr io.Writer) error {
	cfg := runcfg.Default()
	if a.fname != "" {
		var err error
		cfg, err = runcfg.Load(a.fname)
		if err != nil {
			return err
		}
	}
	if a.device != "" {
		cfg.Serial.Device = a.device
	}
	if a.level != "" {
		cfg.LogLevel = a.level
	}

	lvl, err := runcfg.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.msg = log.NewMsgStream("astep-ctl", lvl, stderr)
	return nil
}

// open opens the board described by the run configuration.
func (a *app) open() (*daq.Device, error) {
	dev, err := daq.Open(a.cfg, daq.WithLogger(a.msg))
	if err != nil {
		return nil, fmt.Errorf("could not open board: %w", err)
	}
	return dev, nil
}

// context returns a context canceled on interrupt.
func (a *app) context() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
