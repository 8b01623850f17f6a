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
	"bytes"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var _ Handle = &Writer{}

// Writer is a read-write handle.  Everything written between Open and Close
// belongs to one transaction: Close commits it, Abort (or a failed commit)
// discards it and leaves the container as it was before Open.
type Writer struct {
	handle
}

// NewWriter returns a write handle onto filename.  The file and its
// directory are created by Open if needed.
func NewWriter(filename string, logger *zap.Logger) *Writer {
	return &Writer{newHandle(filename, false, logger)}
}

// Open implements Handle.  It blocks until no other handle holds a lock on
// the file.
func (w *Writer) Open() error {
	if err := os.MkdirAll(filepath.Dir(w.filename), 0755); err != nil {
		return errors.Wrapf(err, "creating directory for %s", w.filename)
	}
	if err := w.open(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.tx != nil {
		return nil
	}
	tx, err := w.db.Begin(true)
	if err != nil {
		return errors.Wrapf(err, "starting write transaction on %s", w.filename)
	}
	w.tx = tx
	return nil
}

// Close implements Handle.  It commits everything written since Open and
// closes the file.  A write handle always releases its lock, whatever the
// intent.
func (w *Writer) Close(_ CloseIntent) error {
	w.mu.Lock()
	tx := w.tx
	w.tx = nil
	w.mu.Unlock()
	if tx == nil {
		return &NotOpenError{w.filename, "commit"}
	}
	if err := tx.Commit(); err != nil {
		w.close()
		return errors.Wrapf(err, "committing %s", w.filename)
	}
	w.logger.Debug("committed container")
	return w.close()
}

// Abort discards everything written since Open and closes the file.
func (w *Writer) Abort() error {
	if !w.isOpen() {
		return &NotOpenError{w.filename, "abort"}
	}
	w.logger.Debug("aborting writes")
	return w.close()
}

func (w *Writer) writeTx(op string) (*bolt.Tx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db == nil || w.tx == nil {
		return nil, &NotOpenError{w.filename, op}
	}
	return w.tx, nil
}

// CreateGroups creates every missing group along path and returns the
// deepest one.  Existing groups are reused.
func (w *Writer) CreateGroups(path Path) (*Group, error) {
	tx, err := w.writeTx("create groups " + path.String())
	if err != nil {
		return nil, err
	}
	if err := path.validate(); err != nil {
		return nil, err
	}
	if _, err := createGroups(tx, path); err != nil {
		return nil, err
	}
	w.forget()
	return &Group{path}, nil
}

func createGroups(tx *bolt.Tx, path Path) (container, error) {
	var c container = tx
	for i, name := range path {
		b, err := c.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return nil, errors.Wrapf(err, "creating group %s", path[:i+1])
		}
		switch kind := b.Get(kindKey); {
		case kind == nil:
			if err := b.Put(kindKey, groupKind); err != nil {
				return nil, err
			}
		case !bytes.Equal(kind, groupKind):
			return nil, errors.Errorf("%s exists and is not a group", path[:i+1])
		}
		c = b
	}
	return c, nil
}

// CreateTable creates a table at path, creating intermediate groups as
// needed.  A table already at path is replaced.  expectedRows is a sizing
// hint.
func (w *Writer) CreateTable(path Path, schema Schema, expectedRows int) (*TableWriter, error) {
	tx, err := w.writeTx("create table " + path.String())
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return nil, errors.New("cannot create a table at the root")
	}
	if err := path.validate(); err != nil {
		return nil, err
	}
	if err := schema.validate(); err != nil {
		return nil, errors.Wrapf(err, "table %s", path)
	}
	encoded, err := schema.marshal()
	if err != nil {
		return nil, errors.Wrapf(err, "encoding schema of %s", path)
	}

	parent, err := createGroups(tx, path[:len(path)-1])
	if err != nil {
		return nil, err
	}
	name := []byte(path[len(path)-1])
	if existing := parent.Bucket(name); existing != nil {
		if !bytes.Equal(existing.Get(kindKey), tableKind) {
			return nil, errors.Errorf("%s exists and is not a table", path)
		}
		if err := parent.DeleteBucket(name); err != nil {
			return nil, errors.Wrapf(err, "replacing table %s", path)
		}
		w.logger.Info("replacing table", zap.Stringer("table", path))
	}
	b, err := parent.CreateBucketIfNotExists(name)
	if err != nil {
		return nil, errors.Wrapf(err, "creating table %s", path)
	}
	if err := b.Put(kindKey, tableKind); err != nil {
		return nil, err
	}
	if err := b.Put(schemaKey, encoded); err != nil {
		return nil, err
	}
	attrs, err := b.CreateBucketIfNotExists(attrsKey)
	if err != nil {
		return nil, err
	}
	rows, err := b.CreateBucketIfNotExists(rowsKey)
	if err != nil {
		return nil, err
	}
	if expectedRows > 0 {
		// Row keys only ever grow, so pages can be filled completely.
		rows.FillPercent = 1.0
	}
	w.forget()
	w.logger.Debug("created table", zap.Stringer("table", path), zap.Stringer("schema", schema),
		zap.Int("expected_rows", expectedRows))
	return &TableWriter{w: w, path: path, schema: schema, rows: rows, attrs: attrs}, nil
}

// RemoveTable removes the table at path.  The boolean is false if there was
// no table to remove.
func (w *Writer) RemoveTable(path Path) (bool, error) {
	tx, err := w.writeTx("remove table " + path.String())
	if err != nil {
		return false, err
	}
	if len(path) == 0 {
		return false, errors.New("cannot remove the root")
	}
	if err := path.validate(); err != nil {
		return false, err
	}
	parent := lookupContainer(tx, path[:len(path)-1])
	if parent == nil {
		return false, nil
	}
	name := []byte(path[len(path)-1])
	b := parent.Bucket(name)
	if b == nil {
		return false, nil
	}
	if !bytes.Equal(b.Get(kindKey), tableKind) {
		return false, errors.Errorf("%s is not a table", path)
	}
	if err := parent.DeleteBucket(name); err != nil {
		return false, errors.Wrapf(err, "removing table %s", path)
	}
	w.forget()
	return true, nil
}

// TableWriter appends to a table created by Writer.CreateTable.
type TableWriter struct {
	w      *Writer
	path   Path
	schema Schema
	rows   *bolt.Bucket
	attrs  *bolt.Bucket
}

// AppendRow appends one row to the table.
func (tw *TableWriter) AppendRow(row Row) error {
	if _, err := tw.w.writeTx("append row to " + tw.path.String()); err != nil {
		return err
	}
	data, err := tw.schema.EncodeRow(row)
	if err != nil {
		return errors.Wrapf(err, "table %s", tw.path)
	}
	seq, err := tw.rows.NextSequence()
	if err != nil {
		return errors.Wrapf(err, "table %s", tw.path)
	}
	return tw.rows.Put(rowKey(int(seq-1)), data)
}

// SetAttr stores a named attribute on the table.
func (tw *TableWriter) SetAttr(name string, value []byte) error {
	if _, err := tw.w.writeTx("set attribute on " + tw.path.String()); err != nil {
		return err
	}
	if name == "" {
		return errors.New("attribute name is empty")
	}
	return tw.attrs.Put([]byte(name), value)
}

// NumRows returns the number of rows appended so far.
func (tw *TableWriter) NumRows() int {
	return int(tw.rows.Sequence())
}
