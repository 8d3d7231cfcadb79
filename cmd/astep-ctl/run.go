// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-lpc/astep/board"
	"github.com/go-lpc/astep/rawstore"
	"github.com/go-lpc/astep/runcfg"
	"github.com/spf13/cobra"
)

func newRunCommand(a *app) *cobra.Command {
	var (
		run     uint64
		comment string
		store   string
		dur     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Configure the board and record a readout run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if store != "" {
				a.cfg.Store = store
			}
			if cmd.Flags().Changed("duration") {
				a.cfg.Readout.Duration = runcfg.Duration(dur)
			}

			db, err := rawstore.Open(a.cfg.Store)
			if err != nil {
				return err
			}
			defer db.Close()

			dev, err := a.open()
			if err != nil {
				return err
			}
			defer dev.Close()

			ctx, cancel := a.context()
			defer cancel()

			info, err := dev.Run(ctx, db, run, comment)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %d: %d buffers, %d bytes, %v\n",
				info.Run, info.Buffers, info.Bytes, info.Stop.Sub(info.Start),
			)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.Uint64Var(&run, "run", 0, "run number (0: next free run number)")
	flags.StringVar(&comment, "comment", "", "comment attached to the run")
	flags.StringVar(&store, "store", "", "path to the readout store")
	flags.DurationVar(&dur, "duration", 0, "run duration (0: until interrupted)")
	return cmd
}

func newDumpCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "dump STORE [RUN]",
		Short: "List the runs of a readout store, or dump the buffers of a run",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := rawstore.Open(args[0])
			if err != nil {
				return err
			}
			defer db.Close()

			if len(args) == 1 {
				return dumpRuns(cmd.OutOrStdout(), db)
			}

			run, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run number %q: %w", args[1], err)
			}
			return dumpRun(cmd.OutOrStdout(), db, run, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 16, "maximum number of bytes displayed per buffer (0: all)")
	return cmd
}

func dumpRuns(w io.Writer, db *rawstore.Store) error {
	runs, err := db.Runs()
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Fprintf(w, "run %d: start=%s buffers=%d bytes=%d",
			run.Run, run.Start.Format(time.RFC3339), run.Buffers, run.Bytes,
		)
		if run.Comment != "" {
			fmt.Fprintf(w, " comment=%q", run.Comment)
		}
		fmt.Fprintf(w, "\n")
	}
	return nil
}

func dumpRun(w io.Writer, db *rawstore.Store, run uint64, limit int) error {
	info, err := db.Run(run)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "run %d: %d buffers, %d bytes\n", info.Run, info.Buffers, info.Bytes)
	return db.Scan(run, func(buf board.Buffer) error {
		data := buf.Data
		if limit > 0 && len(data) > limit {
			data = data[:limit]
		}
		_, err := fmt.Fprintf(w, "buffer[%d]: size=%d data=%x\n", buf.Index, buf.Size, data)
		return err
	})
}
