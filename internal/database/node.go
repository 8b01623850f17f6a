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
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Reserved keys inside a node bucket.  Node names may not start with a zero
// byte, so these never collide with children.
var (
	kindKey   = []byte("\x00kind")
	schemaKey = []byte("\x00schema")
	attrsKey  = []byte("\x00attrs")
	rowsKey   = []byte("\x00rows")

	groupKind = []byte("group")
	tableKind = []byte("table")
)

// Path addresses a node inside a container, from the root down.
type Path []string

func (p Path) String() string {
	return "/" + strings.Join(p, "/")
}

func (p Path) validate() error {
	for _, name := range p {
		if name == "" || name[0] == 0 || strings.ContainsRune(name, '/') {
			return errors.Errorf("invalid node name %q in %s", name, p)
		}
	}
	return nil
}

// Node is a resolved group or table.
type Node interface {
	Path() Path
}

// Group is a node that only holds other nodes.
type Group struct {
	path Path
}

// Path implements Node.
func (g *Group) Path() Path {
	return g.path
}

// Table is a node holding rows of a fixed schema.  The rows themselves stay
// on disk and are read through the handle that resolved the table.
type Table struct {
	h      *handle
	path   Path
	schema Schema
	rows   int
	attrs  map[string][]byte
}

// Path implements Node.
func (t *Table) Path() Path {
	return t.path
}

// Schema returns the columns of the table.
func (t *Table) Schema() Schema {
	return t.schema
}

// NumRows returns the number of rows stored in the table.
func (t *Table) NumRows() int {
	return t.rows
}

// Attr returns the named table attribute.
func (t *Table) Attr(name string) ([]byte, bool) {
	v, ok := t.attrs[name]
	return v, ok
}

// Rows calls fn for count rows starting at row first, in row order.
func (t *Table) Rows(first, count int, fn func(i int, row Row) error) error {
	if first < 0 || count < 0 || first+count > t.rows {
		return errors.Errorf("rows [%d, %d) out of range for table %s with %d rows", first, first+count, t.path, t.rows)
	}
	if count == 0 {
		return nil
	}
	return t.h.view("read rows", func(tx *bolt.Tx) error {
		b := lookupBucket(tx, t.path)
		if b == nil {
			return errors.Errorf("table %s disappeared", t.path)
		}
		rows := b.Bucket(rowsKey)
		if rows == nil {
			return errors.Errorf("table %s has no row bucket", t.path)
		}
		c := rows.Cursor()
		i := first
		for k, v := c.Seek(rowKey(first)); k != nil && i < first+count; k, v = c.Next() {
			row, err := t.schema.DecodeRow(v)
			if err != nil {
				return errors.Wrapf(err, "decoding row %d of %s", i, t.path)
			}
			if err := fn(i, row); err != nil {
				return err
			}
			i++
		}
		if i != first+count {
			return errors.Errorf("table %s: read %d rows, want %d", t.path, i-first, count)
		}
		return nil
	})
}

func rowKey(i int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(i))
	return key
}

// container is satisfied by both *bolt.Tx (the root group) and *bolt.Bucket.
type container interface {
	Bucket(name []byte) *bolt.Bucket
	CreateBucketIfNotExists(name []byte) (*bolt.Bucket, error)
	DeleteBucket(name []byte) error
}

func lookupBucket(tx *bolt.Tx, path Path) *bolt.Bucket {
	var c container = tx
	var b *bolt.Bucket
	for _, name := range path {
		if b = c.Bucket([]byte(name)); b == nil {
			return nil
		}
		c = b
	}
	return b
}

func lookupContainer(tx *bolt.Tx, path Path) container {
	if len(path) == 0 {
		return tx
	}
	if b := lookupBucket(tx, path); b != nil {
		return b
	}
	return nil
}

func readNode(h *handle, path Path, b *bolt.Bucket) (Node, error) {
	switch kind := string(b.Get(kindKey)); kind {
	case string(groupKind):
		return &Group{path}, nil
	case string(tableKind):
		schema, err := unmarshalSchema(b.Get(schemaKey))
		if err != nil {
			return nil, errors.Wrapf(err, "reading schema of %s", path)
		}
		table := &Table{h: h, path: path, schema: schema, attrs: make(map[string][]byte)}
		if rows := b.Bucket(rowsKey); rows != nil {
			table.rows = int(rows.Sequence())
		}
		if attrs := b.Bucket(attrsKey); attrs != nil {
			err := attrs.ForEach(func(k, v []byte) error {
				table.attrs[string(k)] = append([]byte(nil), v...)
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
		return table, nil
	default:
		return nil, errors.Errorf("node %s has unknown kind %q", path, kind)
	}
}
