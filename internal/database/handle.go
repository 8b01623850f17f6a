// Copyright 2019 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package database provides handles onto container files holding groups and
// fixed-schema tables.
//
// A container is a bbolt file.  Read handles open it read-only under a
// shared advisory lock and write handles open it read-write under an
// exclusive one; opening blocks until the lock is granted.  Resolved nodes
// are cached per handle until it is closed.
package database

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// CloseIntent tells a handle what the caller expects from Close.
type CloseIntent int

const (
	// KeepOpen returns the handle for reuse without releasing its lock.
	// Write handles treat it like Release.
	KeepOpen CloseIntent = iota
	// Release closes the file and drops the advisory lock.
	Release
)

func (intent CloseIntent) String() string {
	if intent == Release {
		return "release"
	}
	return "keep-open"
}

// Handle is the interface shared by read and write handles.
type Handle interface {
	// Filename returns the path of the container file.
	Filename() string
	// Open opens the container and acquires its advisory lock.
	Open() error
	// Node returns the group or table at path.  The boolean is false if no
	// node exists there.
	Node(path Path) (Node, bool, error)
	// Table returns the table at path.  The boolean is false if no node
	// exists there; a group at path is an error.
	Table(path Path) (*Table, bool, error)
	// TableExists reports whether a table exists at path.
	TableExists(path Path) (bool, error)
	// Close closes the handle according to intent.
	Close(intent CloseIntent) error
}

// handle is the state common to read and write handles.
type handle struct {
	filename string
	readOnly bool
	logger   *zap.Logger

	mu    sync.Mutex
	db    *bolt.DB
	tx    *bolt.Tx
	cache map[string]Node
}

func newHandle(filename string, readOnly bool, logger *zap.Logger) handle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return handle{
		filename: filename,
		readOnly: readOnly,
		logger:   logger.With(zap.String("container", filename)),
	}
}

// Filename implements Handle.
func (h *handle) Filename() string {
	return h.filename
}

func (h *handle) isOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.db != nil
}

// open opens the file unless it is already open.  It blocks until the
// advisory lock is granted.
func (h *handle) open() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db != nil {
		return nil
	}

	lock := "exclusive"
	if h.readOnly {
		lock = "shared"
		if _, err := os.Stat(h.filename); err != nil {
			if os.IsNotExist(err) {
				return &NotFoundError{h.filename, err}
			}
			return errors.Wrapf(err, "checking %s", h.filename)
		}
	}

	h.logger.Debug("opening container", zap.String("lock", lock))
	db, err := bolt.Open(h.filename, 0644, &bolt.Options{ReadOnly: h.readOnly})
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return &NotFoundError{h.filename, err}
		}
		return errors.Wrapf(err, "opening %s", h.filename)
	}
	h.db = db
	h.cache = make(map[string]Node)
	h.logger.Debug("opened container", zap.String("lock", lock))
	return nil
}

// close drops the node cache, releases the lock and closes the file.
func (h *handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return &NotOpenError{h.filename, "close"}
	}
	h.cache = nil
	if h.tx != nil {
		if err := h.tx.Rollback(); err != nil && err != bolt.ErrTxClosed {
			h.logger.Warn("rolling back open transaction", zap.Error(err))
		}
		h.tx = nil
	}
	err := h.db.Close()
	h.db = nil
	h.logger.Debug("closed container")
	return errors.Wrapf(err, "closing %s", h.filename)
}

// view runs fn in the handle's pending write transaction if there is one and
// in a fresh read transaction otherwise.
func (h *handle) view(op string, fn func(tx *bolt.Tx) error) error {
	h.mu.Lock()
	db, tx := h.db, h.tx
	h.mu.Unlock()
	if db == nil {
		return &NotOpenError{h.filename, op}
	}
	if tx != nil {
		return fn(tx)
	}
	return db.View(fn)
}

// Node implements Handle.
func (h *handle) Node(path Path) (Node, bool, error) {
	if err := path.validate(); err != nil {
		return nil, false, err
	}
	key := path.String()
	h.mu.Lock()
	if h.db == nil {
		h.mu.Unlock()
		return nil, false, &NotOpenError{h.filename, "get node " + key}
	}
	if node, ok := h.cache[key]; ok {
		h.mu.Unlock()
		return node, true, nil
	}
	h.mu.Unlock()

	if len(path) == 0 {
		return h.remember(key, &Group{}), true, nil
	}

	var node Node
	err := h.view("get node "+key, func(tx *bolt.Tx) error {
		b := lookupBucket(tx, path)
		if b == nil {
			return nil
		}
		var err error
		node, err = readNode(h, path, b)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if node == nil {
		return nil, false, nil
	}
	return h.remember(key, node), true, nil
}

func (h *handle) remember(key string, node Node) Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cache != nil {
		h.cache[key] = node
	}
	return node
}

func (h *handle) forget() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cache != nil {
		h.cache = make(map[string]Node)
	}
}

// Table implements Handle.
func (h *handle) Table(path Path) (*Table, bool, error) {
	node, ok, err := h.Node(path)
	if err != nil || !ok {
		return nil, ok, err
	}
	table, isTable := node.(*Table)
	if !isTable {
		return nil, false, errors.Errorf("node %s is a group, not a table", path)
	}
	return table, true, nil
}

// TableExists implements Handle.
func (h *handle) TableExists(path Path) (bool, error) {
	node, ok, err := h.Node(path)
	if err != nil || !ok {
		return false, err
	}
	_, isTable := node.(*Table)
	return isTable, nil
}
