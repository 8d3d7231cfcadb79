// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-lpc/astep/injector"
	"github.com/imroc/req"
)

// Client is a client of the control API.
type Client struct {
	prefix string
}

// NewClient returns a client for the control API served at addr.
// addr is either a host:port pair or a URL.
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		prefix: strings.TrimRight(addr, "/") + "/api",
	}
}

func (c *Client) url(format string, args ...interface{}) string {
	return c.prefix + fmt.Sprintf(format, args...)
}

// Status returns the state of the board.
func (c *Client) Status() (Status, error) {
	var st Status
	r, err := req.Get(c.url("/status"))
	if err != nil {
		return st, fmt.Errorf("api: could not get status: %w", err)
	}
	err = decode(r, &st)
	if err != nil {
		return st, fmt.Errorf("api: could not get status: %w", err)
	}
	return st, nil
}

// Layer returns the state and counters of a layer.
func (c *Client) Layer(id int) (LayerStatus, error) {
	var lay LayerStatus
	r, err := req.Get(c.url("/layers/%d", id))
	if err != nil {
		return lay, fmt.Errorf("api: could not get layer %d: %w", id, err)
	}
	err = decode(r, &lay)
	if err != nil {
		return lay, fmt.Errorf("api: could not get layer %d: %w", id, err)
	}
	return lay, nil
}

// Flush drains the data of a layer.
func (c *Client) Flush(id int) error {
	r, err := req.Post(c.url("/layers/%d/flush", id))
	if err != nil {
		return fmt.Errorf("api: could not flush layer %d: %w", id, err)
	}
	err = decode(r, nil)
	if err != nil {
		return fmt.Errorf("api: could not flush layer %d: %w", id, err)
	}
	return nil
}

// EnableReadout enables the readout of the provided layers.
func (c *Client) EnableReadout(layers []int, autoread bool) error {
	r, err := req.Post(c.url("/readout/enable"), req.BodyJSON(ReadoutRequest{
		Layers:   layers,
		Autoread: autoread,
	}))
	if err != nil {
		return fmt.Errorf("api: could not enable readout: %w", err)
	}
	err = decode(r, nil)
	if err != nil {
		return fmt.Errorf("api: could not enable readout: %w", err)
	}
	return nil
}

// DisableReadout disables the readout of all layers.
func (c *Client) DisableReadout() error {
	r, err := req.Post(c.url("/readout/disable"))
	if err != nil {
		return fmt.Errorf("api: could not disable readout: %w", err)
	}
	err = decode(r, nil)
	if err != nil {
		return fmt.Errorf("api: could not disable readout: %w", err)
	}
	return nil
}

// StartInjector starts the pattern generator.
// A nil pattern starts the generator with its current pattern.
func (c *Client) StartInjector(p *injector.Pattern) error {
	var args []interface{}
	if p != nil {
		args = append(args, req.BodyJSON(p))
	}
	r, err := req.Post(c.url("/injector/start"), args...)
	if err != nil {
		return fmt.Errorf("api: could not start injector: %w", err)
	}
	err = decode(r, nil)
	if err != nil {
		return fmt.Errorf("api: could not start injector: %w", err)
	}
	return nil
}

// StopInjector stops the pattern generator.
func (c *Client) StopInjector() error {
	r, err := req.Post(c.url("/injector/stop"))
	if err != nil {
		return fmt.Errorf("api: could not stop injector: %w", err)
	}
	err = decode(r, nil)
	if err != nil {
		return fmt.Errorf("api: could not stop injector: %w", err)
	}
	return nil
}

func decode(r *req.Resp, v interface{}) error {
	if r.Response().StatusCode != http.StatusOK {
		var e Error
		if err := r.ToJSON(&e); err == nil && e.Msg != "" {
			return fmt.Errorf("%s: %s", r.Response().Status, e.Msg)
		}
		return fmt.Errorf("%s", r.Response().Status)
	}
	if v == nil {
		return nil
	}
	return r.ToJSON(v)
}
