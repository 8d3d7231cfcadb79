// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/astep/board"
	"github.com/go-lpc/astep/injector"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

// Server serves the control API of a board.
// Requests are served one at a time.
type Server struct {
	mu  sync.Mutex
	brd *board.Board
	inj *injector.Injector
	msg log.MsgStream

	running bool // whether the injector was started

	router *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the message stream of the server.
func WithLogger(msg log.MsgStream) Option {
	return func(srv *Server) {
		srv.msg = msg
	}
}

// WithInjector exposes the provided pattern generator.
func WithInjector(inj *injector.Injector) Option {
	return func(srv *Server) {
		srv.inj = inj
	}
}

// NewServer returns a control server for brd.
func NewServer(brd *board.Board, opts ...Option) *Server {
	srv := &Server{
		brd: brd,
		msg: log.NewMsgStream("astep-api", log.LvlInfo, os.Stderr),
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.router = mux.NewRouter()
	api := srv.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", srv.handleStatus).Methods("GET")
	api.HandleFunc("/layers/{layer:[0-9]+}", srv.handleLayer).Methods("GET")
	api.HandleFunc("/layers/{layer:[0-9]+}/flush", srv.handleFlush).Methods("POST")
	api.HandleFunc("/readout/enable", srv.handleEnable).Methods("POST")
	api.HandleFunc("/readout/disable", srv.handleDisable).Methods("POST")
	api.HandleFunc("/injector/start", srv.handleInjStart).Methods("POST")
	api.HandleFunc("/injector/stop", srv.handleInjStop).Methods("POST")

	return srv
}

// Handler returns the HTTP handler of the API, with access logging.
func (srv *Server) Handler() http.Handler {
	return handlers.LoggingHandler(msgWriter{srv.msg}, srv.router)
}

// ListenAndServe serves the API on addr until ctx is canceled.
func (srv *Server) ListenAndServe(ctx context.Context, addr string) error {
	hsrv := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		srv.msg.Infof("serving control API on %q", addr)
		err := hsrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	grp.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hsrv.Shutdown(sctx)
	})

	err := grp.Wait()
	if err != nil {
		return fmt.Errorf("api: could not serve control API: %w", err)
	}
	return nil
}

func (srv *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	var (
		ctx = r.Context()
		st  Status
		err error
	)
	st.FirmwareID, err = srv.brd.FirmwareID(ctx)
	if err != nil {
		srv.fail(w, err)
		return
	}
	st.FirmwareVersion, err = srv.brd.FirmwareVersion(ctx)
	if err != nil {
		srv.fail(w, err)
		return
	}
	st.Firmware = board.FirmwareName(st.FirmwareID)

	for id := 0; id < board.NumLayers; id++ {
		lay, err := srv.layer(ctx, id, false)
		if err != nil {
			srv.fail(w, err)
			return
		}
		st.Layers = append(st.Layers, lay)
	}
	st.Shared = srv.brd.SharedLines()

	if srv.inj != nil {
		st.Injector = &InjectorStatus{
			Running: srv.running,
			Pattern: srv.inj.Pattern(),
		}
	}

	srv.reply(w, st)
}

func (srv *Server) layer(ctx context.Context, id int, stats bool) (LayerStatus, error) {
	lay := LayerStatus{ID: id}
	lc, err := srv.brd.LayerControl(ctx, id)
	if err != nil {
		return lay, err
	}
	lay.Control = lc

	state, err := srv.brd.State(ctx, id)
	if err != nil {
		return lay, err
	}
	lay.State = state.String()

	if stats {
		st, err := srv.brd.LayerStats(ctx, id)
		if err != nil {
			return lay, err
		}
		lay.Stats = &st
	}
	return lay, nil
}

func layerID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(mux.Vars(r)["layer"])
	if err != nil || id < 0 || id >= board.NumLayers {
		return 0, fmt.Errorf("invalid layer %q", mux.Vars(r)["layer"])
	}
	return id, nil
}

func (srv *Server) handleLayer(w http.ResponseWriter, r *http.Request) {
	id, err := layerID(r)
	if err != nil {
		srv.replyError(w, http.StatusNotFound, err)
		return
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	lay, err := srv.layer(r.Context(), id, true)
	if err != nil {
		srv.fail(w, err)
		return
	}
	srv.reply(w, lay)
}

func (srv *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	id, err := layerID(r)
	if err != nil {
		srv.replyError(w, http.StatusNotFound, err)
		return
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	err = srv.brd.Flush(r.Context(), id)
	if err != nil {
		srv.fail(w, err)
		return
	}
	srv.reply(w, nil)
}

func (srv *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	var req ReadoutRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		srv.replyError(w, http.StatusBadRequest, fmt.Errorf("could not decode readout request: %w", err))
		return
	}
	if len(req.Layers) == 0 {
		srv.replyError(w, http.StatusBadRequest, fmt.Errorf("no layer to enable"))
		return
	}
	for _, id := range req.Layers {
		if id < 0 || id >= board.NumLayers {
			srv.replyError(w, http.StatusBadRequest, fmt.Errorf("invalid layer %d", id))
			return
		}
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	err = srv.brd.EnableReadout(r.Context(), req.Layers, req.Autoread)
	if err != nil {
		srv.fail(w, err)
		return
	}
	srv.msg.Infof("readout enabled for layers %v (autoread=%v)", req.Layers, req.Autoread)
	srv.reply(w, nil)
}

func (srv *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	err := srv.brd.DisableReadout(r.Context(), true)
	if err != nil {
		srv.fail(w, err)
		return
	}
	srv.msg.Infof("readout disabled")
	srv.reply(w, nil)
}

func (srv *Server) handleInjStart(w http.ResponseWriter, r *http.Request) {
	if srv.inj == nil {
		srv.replyError(w, http.StatusNotFound, fmt.Errorf("no injector"))
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		srv.replyError(w, http.StatusBadRequest, err)
		return
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if len(bytes.TrimSpace(raw)) > 0 {
		var p injector.Pattern
		err = json.Unmarshal(raw, &p)
		if err != nil {
			srv.replyError(w, http.StatusBadRequest, fmt.Errorf("could not decode injection pattern: %w", err))
			return
		}
		err = srv.inj.SetPattern(p)
		if err != nil {
			srv.replyError(w, http.StatusBadRequest, err)
			return
		}
	}

	err = srv.inj.Start(r.Context())
	if err != nil {
		srv.fail(w, err)
		return
	}
	srv.running = true
	srv.reply(w, nil)
}

func (srv *Server) handleInjStop(w http.ResponseWriter, r *http.Request) {
	if srv.inj == nil {
		srv.replyError(w, http.StatusNotFound, fmt.Errorf("no injector"))
		return
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	err := srv.inj.Stop(r.Context())
	if err != nil {
		srv.fail(w, err)
		return
	}
	srv.running = false
	srv.reply(w, nil)
}

// fail reports a failed board operation.
func (srv *Server) fail(w http.ResponseWriter, err error) {
	var (
		code = http.StatusBadGateway
		rerr *board.LayerInResetError
		serr *board.LayerStateError
	)
	switch {
	case errors.As(err, &rerr), errors.As(err, &serr):
		code = http.StatusConflict
	}
	srv.replyError(w, code, err)
}

func (srv *Server) replyError(w http.ResponseWriter, code int, err error) {
	srv.msg.Errorf("request failed: %+v", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Error{Code: code, Msg: err.Error()})
}

func (srv *Server) reply(w http.ResponseWriter, v interface{}) {
	if v == nil {
		v = struct {
			Code int `json:"code"`
		}{http.StatusOK}
	}
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		srv.msg.Errorf("could not encode reply: %+v", err)
	}
}

// msgWriter forwards access log lines to a message stream.
type msgWriter struct {
	msg log.MsgStream
}

func (w msgWriter) Write(p []byte) (int, error) {
	w.msg.Debugf("%s", bytes.TrimRight(p, "\n"))
	return len(p), nil
}
