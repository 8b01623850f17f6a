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
	"fmt"
	"strings"

	"github.com/googlegenomics/trackregions/internal/binary"
	"github.com/pkg/errors"
)

const schemaMagic = "BRT\x01"

// Kind is the storage type of a column.
type Kind uint8

const (
	// String columns hold zero-padded strings of a fixed width.
	String Kind = iota + 1
	// Int32 columns hold signed 32-bit integers.
	Int32
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int32:
		return "int32"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Column describes one column of a table.  Width is only meaningful for
// String columns.
type Column struct {
	Name  string
	Kind  Kind
	Width int
}

// StringColumn returns a fixed-width string column.
func StringColumn(name string, width int) Column {
	return Column{Name: name, Kind: String, Width: width}
}

// Int32Column returns a 32-bit integer column.
func Int32Column(name string) Column {
	return Column{Name: name, Kind: Int32}
}

// Schema is the ordered list of columns of a table.
type Schema []Column

// Row holds one value per schema column: a string for String columns and an
// int32 for Int32 columns.
type Row []interface{}

// Index returns the position of the named column, or -1.
func (s Schema) Index(name string) int {
	for i, column := range s {
		if column.Name == name {
			return i
		}
	}
	return -1
}

// RowSize returns the encoded size of one row in bytes.
func (s Schema) RowSize() int {
	var size int
	for _, column := range s {
		switch column.Kind {
		case String:
			size += column.Width
		case Int32:
			size += 4
		}
	}
	return size
}

func (s Schema) String() string {
	parts := make([]string, len(s))
	for i, column := range s {
		parts[i] = fmt.Sprintf("%s %s", column.Name, column.Kind)
		if column.Kind == String {
			parts[i] = fmt.Sprintf("%s(%d)", parts[i], column.Width)
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (s Schema) validate() error {
	if len(s) == 0 {
		return errors.New("schema has no columns")
	}
	seen := make(map[string]bool)
	for _, column := range s {
		if column.Name == "" {
			return errors.New("schema has an unnamed column")
		}
		if seen[column.Name] {
			return errors.Errorf("column %q defined twice", column.Name)
		}
		seen[column.Name] = true
		switch column.Kind {
		case String:
			if column.Width <= 0 {
				return errors.Errorf("string column %q has non-positive width %d", column.Name, column.Width)
			}
		case Int32:
		default:
			return errors.Errorf("column %q has unknown %v", column.Name, column.Kind)
		}
	}
	return nil
}

// EncodeRow encodes row according to the schema.  Values are checked against
// the column types only.
func (s Schema) EncodeRow(row Row) ([]byte, error) {
	if len(row) != len(s) {
		return nil, errors.Errorf("row has %d values, schema %v has %d columns", len(row), s, len(s))
	}
	var buf bytes.Buffer
	buf.Grow(s.RowSize())
	for i, column := range s {
		switch column.Kind {
		case String:
			v, ok := row[i].(string)
			if !ok {
				return nil, errors.Errorf("column %q: want string, got %T", column.Name, row[i])
			}
			if err := binary.WriteFixedString(&buf, v, column.Width); err != nil {
				return nil, errors.Wrapf(err, "column %q", column.Name)
			}
		case Int32:
			v, ok := row[i].(int32)
			if !ok {
				return nil, errors.Errorf("column %q: want int32, got %T", column.Name, row[i])
			}
			if err := binary.Write(&buf, v); err != nil {
				return nil, errors.Wrapf(err, "column %q", column.Name)
			}
		}
	}
	return buf.Bytes(), nil
}

// DecodeRow decodes a row produced by EncodeRow.
func (s Schema) DecodeRow(data []byte) (Row, error) {
	if len(data) != s.RowSize() {
		return nil, errors.Errorf("row of %d bytes does not match schema size %d", len(data), s.RowSize())
	}
	r := bytes.NewReader(data)
	row := make(Row, len(s))
	for i, column := range s {
		switch column.Kind {
		case String:
			v, err := binary.ReadFixedString(r, column.Width)
			if err != nil {
				return nil, errors.Wrapf(err, "column %q", column.Name)
			}
			row[i] = v
		case Int32:
			var v int32
			if err := binary.Read(r, &v); err != nil {
				return nil, errors.Wrapf(err, "column %q", column.Name)
			}
			row[i] = v
		}
	}
	return row, nil
}

func (s Schema) marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(schemaMagic)
	if err := binary.Write(&buf, uint16(len(s))); err != nil {
		return nil, err
	}
	for _, column := range s {
		if err := binary.WriteString(&buf, column.Name); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, struct {
			Kind  uint8
			Width uint16
		}{uint8(column.Kind), uint16(column.Width)}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func unmarshalSchema(data []byte) (Schema, error) {
	r := bytes.NewReader(data)
	if err := binary.ExpectBytes(r, []byte(schemaMagic)); err != nil {
		return nil, err
	}
	var count uint16
	if err := binary.Read(r, &count); err != nil {
		return nil, errors.Wrap(err, "reading column count")
	}
	schema := make(Schema, count)
	for i := range schema {
		name, err := binary.ReadString(r)
		if err != nil {
			return nil, errors.Wrapf(err, "reading column %d name", i)
		}
		var layout struct {
			Kind  uint8
			Width uint16
		}
		if err := binary.Read(r, &layout); err != nil {
			return nil, errors.Wrapf(err, "reading column %q layout", name)
		}
		schema[i] = Column{Name: name, Kind: Kind(layout.Kind), Width: int(layout.Width)}
	}
	return schema, schema.validate()
}
