// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command astep-srv starts a TDAQ server driving an A-STEP board.
//
// Readout buffers are published on the "/raw" output, encoded as
// index(8) | size(4) | data.
//
// Usage:
//
//	$> astep-srv -id astep-01 -lvl dbg -rc-addr :44000 ./run.yml
package main // import "github.com/go-lpc/astep/cmd/astep-srv"

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/astep/board"
	"github.com/go-lpc/astep/daq"
	"github.com/go-lpc/astep/runcfg"
)

func main() {
	cmd := flags.New()
	if len(cmd.Args) == 0 {
		log.Fatalf("missing run configuration file")
	}

	dev := newServer(cmd.Args[0])

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/raw", dev.raw)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type server struct {
	fname string
	open  func(cfg *runcfg.Config, msg tlog.MsgStream) (*daq.Device, error)

	cfg *runcfg.Config
	dev *daq.Device

	mu     sync.Mutex
	cancel context.CancelFunc // stops the readout loop
	done   chan struct{}      // closed when the readout loop exits

	n    int
	data chan board.Buffer
}

func newServer(fname string) *server {
	return &server{
		fname: fname,
		open: func(cfg *runcfg.Config, msg tlog.MsgStream) (*daq.Device, error) {
			return daq.Open(cfg, daq.WithLogger(msg))
		},
	}
}

func (srv *server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	cfg, err := runcfg.Load(srv.fname)
	if err != nil {
		ctx.Msg.Errorf("could not load run configuration: %+v", err)
		return fmt.Errorf("could not load run configuration: %w", err)
	}

	if srv.dev != nil {
		_ = srv.dev.Close()
		srv.dev = nil
	}

	dev, err := srv.open(cfg, ctx.Msg)
	if err != nil {
		ctx.Msg.Errorf("could not open board: %+v", err)
		return fmt.Errorf("could not open board: %w", err)
	}
	srv.cfg = cfg
	srv.dev = dev
	return nil
}

func (srv *server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	if srv.dev == nil {
		return fmt.Errorf("board not configured")
	}

	err := srv.dev.Initialize(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not initialize board: %+v", err)
		return fmt.Errorf("could not initialize board: %w", err)
	}

	err = srv.dev.Configure(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not configure chips: %+v", err)
		return fmt.Errorf("could not configure chips: %w", err)
	}

	srv.reset()
	return nil
}

func (srv *server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	srv.stop()
	if srv.dev != nil {
		err := srv.dev.Board().DisableReadout(ctx.Ctx, true)
		if err != nil {
			ctx.Msg.Errorf("could not disable readout: %+v", err)
			return fmt.Errorf("could not disable readout: %w", err)
		}
	}
	srv.reset()
	return nil
}

func (srv *server) reset() {
	srv.data = make(chan board.Buffer, 1024)
	srv.n = 0
}

func (srv *server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	if srv.dev == nil {
		return fmt.Errorf("board not configured")
	}

	err := srv.dev.Start(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not start readout: %+v", err)
		return fmt.Errorf("could not start readout: %w", err)
	}
	return nil
}

func (srv *server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	srv.stop()
	ctx.Msg.Debugf("received /stop command... -> n=%d", srv.n)
	if srv.dev == nil {
		return nil
	}

	err := srv.dev.Stop(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not stop readout: %+v", err)
		return fmt.Errorf("could not stop readout: %w", err)
	}
	return nil
}

func (srv *server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	srv.stop()
	if srv.dev == nil {
		return nil
	}
	err := srv.dev.Close()
	srv.dev = nil
	if err != nil {
		ctx.Msg.Errorf("could not close board: %+v", err)
		return fmt.Errorf("could not close board: %w", err)
	}
	return nil
}

// stop stops the readout loop, if running, and waits for it to exit.
func (srv *server) stop() {
	srv.mu.Lock()
	cancel, done := srv.cancel, srv.done
	srv.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (srv *server) raw(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case buf := <-srv.data:
		raw, err := buf.MarshalBinary()
		if err != nil {
			return fmt.Errorf("could not encode buffer %d: %w", buf.Index, err)
		}
		dst.Body = raw
	}
	return nil
}

func (srv *server) run(ctx tdaq.Context) error {
	if srv.dev == nil {
		return fmt.Errorf("board not configured")
	}

	rctx, cancel := context.WithCancel(ctx.Ctx)
	done := make(chan struct{})
	srv.mu.Lock()
	srv.cancel, srv.done = cancel, done
	srv.mu.Unlock()

	defer func() {
		cancel()
		srv.mu.Lock()
		srv.cancel, srv.done = nil, nil
		srv.mu.Unlock()
		close(done)
	}()

	err := srv.dev.Readout(rctx, func(buf board.Buffer) error {
		select {
		case srv.data <- buf:
			srv.n++
		case <-rctx.Done():
		}
		return nil
	})
	if err != nil {
		ctx.Msg.Errorf("could not read out board: %+v", err)
		return fmt.Errorf("could not read out board: %w", err)
	}
	return nil
}
