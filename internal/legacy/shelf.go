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

// Package legacy reads and writes the older bounding region format: a
// key/value shelf file holding one value per chromosome.
//
// Two value shapes exist in the wild.  Older files store an ordered mapping
// from region start to region info; newer ones store two parallel lists of
// starts and infos.  A single file only ever holds one shape.
package legacy

import (
	"bytes"
	"database/sql"
	"encoding/gob"
	"fmt"
	"os"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"
)

// Info describes one stored bounding region.
type Info struct {
	Start, End           int32
	StartIndex, EndIndex int32
	// Bin indexes are carried over from the old format and unused here.
	StartBinIndex, EndBinIndex int32
}

// Shape identifies how chromosome values are laid out in a shelf.
type Shape int

const (
	// OrderedMapping values map each region start to its Info.
	OrderedMapping Shape = iota + 1
	// ParallelLists values hold a list of starts and a list of Infos.
	ParallelLists
)

func (s Shape) String() string {
	switch s {
	case OrderedMapping:
		return "ordered-mapping"
	case ParallelLists:
		return "parallel-lists"
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

type mappingEntry struct {
	Start int32
	Info  Info
}

type orderedMapping struct {
	Entries []mappingEntry
}

type parallelLists struct {
	Starts []int32
	Infos  []Info
}

// envelope decodes either shape; gob matches fields by name.
type envelope struct {
	Entries []mappingEntry
	Starts  []int32
	Infos   []Info
}

func (e *envelope) shape() (Shape, bool) {
	switch {
	case len(e.Entries) > 0 && len(e.Starts) == 0 && len(e.Infos) == 0:
		return OrderedMapping, true
	case len(e.Entries) == 0 && (len(e.Starts) > 0 || len(e.Infos) > 0):
		return ParallelLists, true
	}
	return 0, false
}

const schema = `CREATE TABLE shelf (key TEXT PRIMARY KEY, value BLOB NOT NULL)`

// Shelf is an open legacy bounding region file.
type Shelf struct {
	filename string
	db       *sqlx.DB
	shape    Shape
	logger   *zap.Logger
}

type row struct {
	Key   string `db:"key"`
	Value []byte `db:"value"`
}

// Open opens the shelf at filename read-only and determines its value shape.
func Open(filename string, logger *zap.Logger) (*Shelf, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := os.Stat(filename); err != nil {
		return nil, errors.Wrap(err, "opening legacy shelf")
	}
	db, err := sqlx.Open("sqlite", "file:"+filename+"?mode=ro")
	if err != nil {
		return nil, errors.Wrapf(err, "opening legacy shelf %s", filename)
	}
	shelf := &Shelf{filename: filename, db: db, logger: logger.With(zap.String("shelf", filename))}
	if err := shelf.detectShape(); err != nil {
		db.Close()
		return nil, err
	}
	shelf.logger.Debug("opened legacy shelf", zap.Stringer("shape", shelf.shape))
	return shelf, nil
}

func (s *Shelf) detectShape() error {
	rows, err := s.db.Queryx("SELECT key, value FROM shelf ORDER BY key")
	if err != nil {
		return errors.Wrapf(err, "reading legacy shelf %s", s.filename)
	}
	defer rows.Close()
	for rows.Next() {
		var r row
		if err := rows.StructScan(&r); err != nil {
			return errors.Wrapf(err, "reading legacy shelf %s", s.filename)
		}
		var e envelope
		if err := gob.NewDecoder(bytes.NewReader(r.Value)).Decode(&e); err != nil {
			return errors.Wrapf(err, "decoding chromosome %q of %s", r.Key, s.filename)
		}
		if shape, ok := e.shape(); ok {
			s.shape = shape
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrapf(err, "reading legacy shelf %s", s.filename)
	}
	// Only empty values: any shape reads them the same way.
	s.shape = ParallelLists
	return nil
}

// Shape returns the value shape detected when the shelf was opened.
func (s *Shelf) Shape() Shape {
	return s.shape
}

// Chromosomes returns the chromosomes that have a stored value.
func (s *Shelf) Chromosomes() ([]string, error) {
	var keys []string
	if err := s.db.Select(&keys, "SELECT key FROM shelf ORDER BY key"); err != nil {
		return nil, errors.Wrapf(err, "listing chromosomes of %s", s.filename)
	}
	return keys, nil
}

// Regions loads the stored regions of chromosome.  The boolean is false if
// the shelf has no value for chromosome.
func (s *Shelf) Regions(chromosome string) (Regions, bool, error) {
	var value []byte
	err := s.db.Get(&value, "SELECT value FROM shelf WHERE key = ?", chromosome)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading chromosome %q of %s", chromosome, s.filename)
	}
	var e envelope
	if err := gob.NewDecoder(bytes.NewReader(value)).Decode(&e); err != nil {
		return nil, false, errors.Wrapf(err, "decoding chromosome %q of %s", chromosome, s.filename)
	}
	if shape, ok := e.shape(); ok && shape != s.shape {
		return nil, false, errors.Errorf("chromosome %q of %s is stored as %v, shelf holds %v", chromosome, s.filename, shape, s.shape)
	}
	switch s.shape {
	case OrderedMapping:
		return newMappingRegions(e.Entries), true, nil
	default:
		regions, err := newListRegions(e.Starts, e.Infos)
		if err != nil {
			return nil, false, errors.Wrapf(err, "chromosome %q of %s", chromosome, s.filename)
		}
		return regions, true, nil
	}
}

// Close closes the shelf.
func (s *Shelf) Close() error {
	return s.db.Close()
}

// Create writes a shelf holding regions, keyed by chromosome, in the given
// shape.  An existing file at filename is replaced.
func Create(filename string, shape Shape, regions map[string][]Info) error {
	if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "replacing %s", filename)
	}
	db, err := sqlx.Open("sqlite", filename)
	if err != nil {
		return errors.Wrapf(err, "creating legacy shelf %s", filename)
	}
	defer db.Close()
	if _, err := db.Exec(schema); err != nil {
		return errors.Wrapf(err, "creating legacy shelf %s", filename)
	}

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	for chromosome, infos := range regions {
		sorted := append([]Info(nil), infos...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

		var value interface{}
		switch shape {
		case OrderedMapping:
			m := orderedMapping{Entries: make([]mappingEntry, len(sorted))}
			for i, info := range sorted {
				m.Entries[i] = mappingEntry{info.Start, info}
			}
			value = m
		case ParallelLists:
			l := parallelLists{Starts: make([]int32, len(sorted)), Infos: sorted}
			for i, info := range sorted {
				l.Starts[i] = info.Start
			}
			value = l
		default:
			tx.Rollback()
			return errors.Errorf("unknown %v", shape)
		}

		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(value); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "encoding chromosome %q", chromosome)
		}
		if _, err := tx.Exec("INSERT INTO shelf (key, value) VALUES (?, ?)", chromosome, buf.Bytes()); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "storing chromosome %q", chromosome)
		}
	}
	return tx.Commit()
}
