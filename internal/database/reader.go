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

package database

import (
	"sync"

	"go.uber.org/zap"
)

var _ Handle = &Reader{}

// Reader is a read-only handle.  Readers are only obtained from a Registry,
// which hands out a single Reader per filename.
type Reader struct {
	handle
	registry *Registry

	// Guarded by registry.mu.
	refs    int
	release bool
}

// Open implements Handle.  It is a no-op if the file is already open.
func (r *Reader) Open() error {
	return r.open()
}

// Close implements Handle.  The caller gives up its reference; with
// KeepOpen the file stays open for the next caller, with Release it is
// closed as soon as no other reference remains.  Closing a reader that holds
// no references fails with a NotOpenError.
func (r *Reader) Close(intent CloseIntent) error {
	reg := r.registry
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r.refs <= 0 {
		return &NotOpenError{r.filename, "close"}
	}
	r.refs--
	if intent == Release {
		r.release = true
	}
	return reg.releaseIfIdle(r)
}

// Registry owns the read handles of a process, one per filename.  Handles
// stay open between uses until they are explicitly released.
//
// While a file is being rebuilt (between BeginRebuild and EndRebuild) its
// reader is closed whenever its last reference is given up, whatever the
// close intent, so that the writer can take the exclusive lock.
type Registry struct {
	logger *zap.Logger

	mu       sync.Mutex
	readers  map[string]*Reader
	rebuilds map[string]int
}

// NewRegistry returns an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:   logger,
		readers:  make(map[string]*Reader),
		rebuilds: make(map[string]int),
	}
}

// Reader returns the open Reader for filename, creating, registering and
// opening it on first use.  Every successful call must be paired with a call
// to Reader.Close.
func (reg *Registry) Reader(filename string) (*Reader, error) {
	reg.mu.Lock()
	r, ok := reg.readers[filename]
	if !ok {
		r = &Reader{handle: newHandle(filename, true, reg.logger), registry: reg}
		reg.readers[filename] = r
		reg.logger.Debug("registered reader", zap.String("container", filename))
	}
	r.refs++
	reg.mu.Unlock()

	if err := r.Open(); err != nil {
		reg.mu.Lock()
		r.refs--
		reg.mu.Unlock()
		return nil, err
	}
	return r, nil
}

// Release closes the reader for filename so that a writer can take the
// exclusive lock.  If the reader is still referenced the close happens when
// the last reference is given up.  The reader stays registered and reopens
// on its next use.
func (reg *Registry) Release(filename string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.readers[filename]
	if !ok {
		return nil
	}
	r.release = true
	return reg.releaseIfIdle(r)
}

// BeginRebuild marks filename as being rebuilt and releases its reader.
// Until the matching EndRebuild, readers of filename may still be obtained
// but are closed as soon as they become idle.  Rebuilds of the same file
// nest.
func (reg *Registry) BeginRebuild(filename string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.rebuilds[filename]++
	reg.logger.Debug("rebuild started", zap.String("container", filename), zap.Int("rebuilds", reg.rebuilds[filename]))
	r, ok := reg.readers[filename]
	if !ok {
		return nil
	}
	return reg.releaseIfIdle(r)
}

// EndRebuild ends a rebuild started with BeginRebuild.  Idle readers of
// filename stay open again afterwards.
func (reg *Registry) EndRebuild(filename string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.rebuilds[filename] <= 1 {
		delete(reg.rebuilds, filename)
	} else {
		reg.rebuilds[filename]--
	}
	reg.logger.Debug("rebuild finished", zap.String("container", filename))
}

// Rebuilding reports whether filename is being rebuilt.
func (reg *Registry) Rebuilding(filename string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.rebuilds[filename] > 0
}

// Close closes every open reader regardless of outstanding references.
func (reg *Registry) Close() error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var first error
	for _, r := range reg.readers {
		if !r.isOpen() {
			continue
		}
		if err := r.close(); err != nil && first == nil {
			first = err
		}
		r.refs = 0
		r.release = false
	}
	return first
}

// Len returns the number of registered readers.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.readers)
}

// releaseIfIdle must be called with reg.mu held.
func (reg *Registry) releaseIfIdle(r *Reader) error {
	if r.refs > 0 || (!r.release && reg.rebuilds[r.filename] == 0) {
		return nil
	}
	r.release = false
	if !r.isOpen() {
		return nil
	}
	reg.logger.Debug("releasing reader", zap.String("container", r.filename))
	return r.close()
}
