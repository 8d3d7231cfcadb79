// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rawstore persists raw readout buffers, run by run, in a bbolt
// database.
//
// Each buffer is stored under its readout index together with the size
// declared by the board, so buffer boundaries survive until decoding.
package rawstore // import "github.com/go-lpc/astep/rawstore"

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-lpc/astep/board"
	"go.etcd.io/bbolt"
)

var (
	bktRuns    = []byte("runs")
	bktBuffers = []byte("buffers")
	keyMeta    = []byte("meta")
)

// Store is a database of readout runs.
type Store struct {
	db *bbolt.DB
}

// RunInfo describes a stored run.
type RunInfo struct {
	Run     uint64    `json:"run"`
	Start   time.Time `json:"start"`
	Stop    time.Time `json:"stop,omitempty"`
	Buffers int       `json:"buffers"`
	Bytes   int64     `json:"bytes"`
	Comment string    `json:"comment,omitempty"`
}

// Open opens, or creates, the store at fname.
func Open(fname string) (*Store, error) {
	db, err := bbolt.Open(fname, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("rawstore: could not open %q: %w", fname, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bktRuns)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rawstore: could not create runs bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("rawstore: could not close store: %w", err)
	}
	return nil
}

func runKey(run uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], run)
	return key[:]
}

// Create creates a new run and returns a writer for its buffers.
// A run number of 0 allocates the next free run number.
func (s *Store) Create(run uint64, comment string) (*Writer, error) {
	info := RunInfo{Run: run, Start: time.Now().UTC(), Comment: comment}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bktRuns)
		if info.Run == 0 {
			seq, err := runs.NextSequence()
			if err != nil {
				return err
			}
			for runs.Bucket(runKey(seq)) != nil {
				seq, err = runs.NextSequence()
				if err != nil {
					return err
				}
			}
			info.Run = seq
		}
		bkt, err := runs.CreateBucket(runKey(info.Run))
		if err != nil {
			return fmt.Errorf("could not create run %d: %w", info.Run, err)
		}
		_, err = bkt.CreateBucket(bktBuffers)
		if err != nil {
			return err
		}
		return putMeta(bkt, info)
	})
	if err != nil {
		return nil, fmt.Errorf("rawstore: could not create run: %w", err)
	}
	return &Writer{db: s.db, info: info}, nil
}

func putMeta(bkt *bbolt.Bucket, info RunInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("could not encode run %d metadata: %w", info.Run, err)
	}
	return bkt.Put(keyMeta, raw)
}

func getMeta(bkt *bbolt.Bucket) (RunInfo, error) {
	var info RunInfo
	raw := bkt.Get(keyMeta)
	if raw == nil {
		return info, fmt.Errorf("missing run metadata")
	}
	err := json.Unmarshal(raw, &info)
	return info, err
}

// Runs returns the description of all stored runs, in run order.
func (s *Store) Runs() ([]RunInfo, error) {
	var out []RunInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bktRuns).ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			info, err := getMeta(tx.Bucket(bktRuns).Bucket(k))
			if err != nil {
				return fmt.Errorf("run %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, info)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("rawstore: could not list runs: %w", err)
	}
	return out, nil
}

// Run returns the description of a stored run.
func (s *Store) Run(run uint64) (RunInfo, error) {
	var info RunInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bktRuns).Bucket(runKey(run))
		if bkt == nil {
			return fmt.Errorf("no such run %d", run)
		}
		var err error
		info, err = getMeta(bkt)
		return err
	})
	if err != nil {
		return info, fmt.Errorf("rawstore: could not read run %d: %w", run, err)
	}
	return info, nil
}

// Scan calls fn for each buffer of the run, in readout order.
func (s *Store) Scan(run uint64, fn func(buf board.Buffer) error) error {
	err := s.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bktRuns).Bucket(runKey(run))
		if bkt == nil {
			return fmt.Errorf("no such run %d", run)
		}
		return bkt.Bucket(bktBuffers).ForEach(func(k, v []byte) error {
			buf, err := decode(k, v)
			if err != nil {
				return err
			}
			return fn(buf)
		})
	})
	if err != nil {
		return fmt.Errorf("rawstore: could not scan run %d: %w", run, err)
	}
	return nil
}

// Writer appends readout buffers to a run.
type Writer struct {
	db   *bbolt.DB
	info RunInfo
	last uint64
	n    int
}

// Run returns the run number written to.
func (w *Writer) Run() uint64 { return w.info.Run }

// Write stores a buffer.
// Buffers must be written with strictly increasing indices.
func (w *Writer) Write(buf board.Buffer) error {
	if w.n > 0 && buf.Index <= w.last {
		return fmt.Errorf(
			"rawstore: buffer index %d not after last index %d (run=%d)",
			buf.Index, w.last, w.info.Run,
		)
	}

	key, val := encode(buf)
	err := w.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bktRuns).Bucket(runKey(w.info.Run)).Bucket(bktBuffers)
		return bkt.Put(key, val)
	})
	if err != nil {
		return fmt.Errorf("rawstore: could not store buffer %d (run=%d): %w", buf.Index, w.info.Run, err)
	}

	w.last = buf.Index
	w.n++
	w.info.Buffers++
	w.info.Bytes += int64(len(buf.Data))
	return nil
}

// Close records the end of the run.
func (w *Writer) Close() error {
	w.info.Stop = time.Now().UTC()
	err := w.db.Update(func(tx *bbolt.Tx) error {
		return putMeta(tx.Bucket(bktRuns).Bucket(runKey(w.info.Run)), w.info)
	})
	if err != nil {
		return fmt.Errorf("rawstore: could not close run %d: %w", w.info.Run, err)
	}
	return nil
}

// encode encodes a buffer as (index, size|data).
func encode(buf board.Buffer) (key, val []byte) {
	raw, _ := buf.MarshalBinary()
	return raw[:8], raw[8:]
}

func decode(key, val []byte) (board.Buffer, error) {
	var buf board.Buffer
	if len(key) != 8 {
		return buf, fmt.Errorf("invalid buffer key (%d bytes)", len(key))
	}
	raw := make([]byte, 0, len(key)+len(val))
	raw = append(append(raw, key...), val...)
	err := buf.UnmarshalBinary(raw)
	return buf, err
}
