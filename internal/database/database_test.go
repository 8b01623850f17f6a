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
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSchema = Schema{
		StringColumn("name", 5),
		Int32Column("value"),
	}
	testTable = Path{"track", "values"}
)

func writeTestTable(t *testing.T, filename string, rows ...Row) {
	t.Helper()
	w := NewWriter(filename, nil)
	require.NoError(t, w.Open())
	tw, err := w.CreateTable(testTable, testSchema, len(rows))
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, tw.AppendRow(row))
	}
	require.NoError(t, tw.SetAttr("origin", []byte("test")))
	require.NoError(t, w.Close(Release))
}

func readAll(t *testing.T, table *Table) []Row {
	t.Helper()
	var rows []Row
	require.NoError(t, table.Rows(0, table.NumRows(), func(_ int, row Row) error {
		rows = append(rows, row)
		return nil
	}))
	return rows
}

func TestWriteThenRead(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "sub", "track.brdb")
	writeTestTable(t, filename, Row{"chr1", int32(10)}, Row{"chrX", int32(-3)})

	reg := NewRegistry(nil)
	defer reg.Close()
	r, err := reg.Reader(filename)
	require.NoError(t, err)
	defer r.Close(Release)

	table, ok, err := r.Table(testTable)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, table.NumRows())
	assert.Equal(t, testSchema, table.Schema())
	assert.Equal(t, []Row{{"chr1", int32(10)}, {"chrX", int32(-3)}}, readAll(t, table))

	origin, ok := table.Attr("origin")
	assert.True(t, ok)
	assert.Equal(t, "test", string(origin))

	group, ok, err := r.Node(Path{"track"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.IsType(t, &Group{}, group)

	exists, err := r.TableExists(Path{"track"})
	require.NoError(t, err)
	assert.False(t, exists, "a group is not a table")
}

func TestNodeAbsent(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "track.brdb")
	writeTestTable(t, filename)

	reg := NewRegistry(nil)
	defer reg.Close()
	r, err := reg.Reader(filename)
	require.NoError(t, err)
	defer r.Close(KeepOpen)

	testCases := []struct {
		name string
		path Path
	}{
		{"missing table", Path{"track", "other"}},
		{"missing group", Path{"elsewhere", "values"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			node, ok, err := r.Node(tc.path)
			assert.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, node)
		})
	}
}

func TestNodeCached(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "track.brdb")
	writeTestTable(t, filename, Row{"a", int32(1)})

	reg := NewRegistry(nil)
	defer reg.Close()
	r, err := reg.Reader(filename)
	require.NoError(t, err)
	defer r.Close(KeepOpen)

	first, _, err := r.Table(testTable)
	require.NoError(t, err)
	second, _, err := r.Table(testTable)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestReaderNotFound(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Reader(filepath.Join(t.TempDir(), "missing.brdb"))
	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound), "got %v", err)
}

func TestRegistryReusesReader(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "track.brdb")
	writeTestTable(t, filename)

	reg := NewRegistry(nil)
	defer reg.Close()
	first, err := reg.Reader(filename)
	require.NoError(t, err)
	require.NoError(t, first.Close(KeepOpen))

	second, err := reg.Reader(filename)
	require.NoError(t, err)
	defer second.Close(KeepOpen)
	assert.Same(t, first, second)
	assert.Equal(t, 1, reg.Len())
	assert.True(t, second.isOpen(), "keep-open close released the file")
}

func TestReaderCloseIntent(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "track.brdb")
	writeTestTable(t, filename)

	reg := NewRegistry(nil)
	defer reg.Close()
	a, err := reg.Reader(filename)
	require.NoError(t, err)
	b, err := reg.Reader(filename)
	require.NoError(t, err)

	require.NoError(t, a.Close(Release))
	assert.True(t, b.isOpen(), "released while still referenced")
	require.NoError(t, b.Close(KeepOpen))
	assert.False(t, b.isOpen(), "pending release not honoured by last reference")

	var notOpen *NotOpenError
	assert.True(t, errors.As(b.Close(Release), &notOpen), "closing an unreferenced reader should fail")

	_, _, err = b.Node(testTable)
	assert.True(t, errors.As(err, &notOpen), "got %v", err)
}

func TestRegistryReleaseAllowsRebuild(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "track.brdb")
	writeTestTable(t, filename, Row{"a", int32(1)})

	reg := NewRegistry(nil)
	defer reg.Close()
	r, err := reg.Reader(filename)
	require.NoError(t, err)
	require.NoError(t, r.Close(KeepOpen))

	require.NoError(t, reg.Release(filename))
	writeTestTable(t, filename, Row{"b", int32(2)}, Row{"c", int32(3)})

	r, err = reg.Reader(filename)
	require.NoError(t, err)
	defer r.Close(KeepOpen)
	table, ok, err := r.Table(testTable)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []Row{{"b", int32(2)}, {"c", int32(3)}}, readAll(t, table))
}

func TestWriterWaitsForReader(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "track.brdb")
	writeTestTable(t, filename, Row{"a", int32(1)})

	reg := NewRegistry(nil)
	defer reg.Close()
	r, err := reg.Reader(filename)
	require.NoError(t, err)

	w := NewWriter(filename, nil)
	opened := make(chan error, 1)
	go func() { opened <- w.Open() }()
	select {
	case err := <-opened:
		t.Fatalf("Writer opened while a reader held the file: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, r.Close(Release))
	select {
	case err := <-opened:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Writer still waiting after the reader was released")
	}
	require.NoError(t, w.Close(Release))
}

func TestRegistryRebuildReleasesIdleReaders(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "track.brdb")
	writeTestTable(t, filename, Row{"a", int32(1)})

	reg := NewRegistry(nil)
	defer reg.Close()
	r, err := reg.Reader(filename)
	require.NoError(t, err)

	require.NoError(t, reg.BeginRebuild(filename))
	assert.True(t, reg.Rebuilding(filename))
	assert.True(t, r.isOpen(), "a referenced reader must stay open")

	// Every idle close releases the file until the rebuild ends, not only
	// the first one.
	for i := 0; i < 2; i++ {
		require.NoError(t, r.Close(KeepOpen))
		assert.False(t, r.isOpen(), "close %d kept the reader open during a rebuild", i)
		r, err = reg.Reader(filename)
		require.NoError(t, err)
	}

	reg.EndRebuild(filename)
	assert.False(t, reg.Rebuilding(filename))
	require.NoError(t, r.Close(KeepOpen))
	assert.True(t, r.isOpen(), "idle reader closed after the rebuild ended")
}

func TestRegistryRebuildsNest(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.BeginRebuild("a.brdb"))
	require.NoError(t, reg.BeginRebuild("a.brdb"))
	reg.EndRebuild("a.brdb")
	assert.True(t, reg.Rebuilding("a.brdb"))
	reg.EndRebuild("a.brdb")
	assert.False(t, reg.Rebuilding("a.brdb"))
	assert.False(t, reg.Rebuilding("b.brdb"))
}

func TestWriterAbortKeepsPreviousTable(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "track.brdb")
	writeTestTable(t, filename, Row{"keep", int32(1)})

	w := NewWriter(filename, nil)
	require.NoError(t, w.Open())
	tw, err := w.CreateTable(testTable, testSchema, 1)
	require.NoError(t, err)
	require.NoError(t, tw.AppendRow(Row{"lost", int32(2)}))
	require.NoError(t, w.Abort())

	reg := NewRegistry(nil)
	defer reg.Close()
	r, err := reg.Reader(filename)
	require.NoError(t, err)
	defer r.Close(KeepOpen)
	table, _, err := r.Table(testTable)
	require.NoError(t, err)
	assert.Equal(t, []Row{{"keep", int32(1)}}, readAll(t, table))
}

func TestWriterGroupsAndRemove(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "track.brdb")
	w := NewWriter(filename, nil)
	require.NoError(t, w.Open())

	_, err := w.CreateGroups(Path{"a", "b"})
	require.NoError(t, err)
	_, err = w.CreateGroups(Path{"a", "b"})
	require.NoError(t, err, "creating existing groups should be idempotent")

	_, err = w.CreateTable(Path{"a", "b", "t"}, testSchema, 0)
	require.NoError(t, err)
	exists, err := w.TableExists(Path{"a", "b", "t"})
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = w.CreateGroups(Path{"a", "b", "t"})
	assert.Error(t, err, "a table cannot become a group")
	_, err = w.CreateTable(Path{"a"}, testSchema, 0)
	assert.Error(t, err, "a group cannot become a table")

	removed, err := w.RemoveTable(Path{"a", "b", "t"})
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = w.RemoveTable(Path{"a", "b", "t"})
	require.NoError(t, err)
	assert.False(t, removed)
	require.NoError(t, w.Close(Release))
}

func TestWriterNotOpen(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "track.brdb")
	w := NewWriter(filename, nil)
	require.NoError(t, w.Open())
	tw, err := w.CreateTable(testTable, testSchema, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close(Release))

	var notOpen *NotOpenError
	assert.True(t, errors.As(tw.AppendRow(Row{"a", int32(1)}), &notOpen))
	_, err = w.CreateTable(testTable, testSchema, 0)
	assert.True(t, errors.As(err, &notOpen))
	assert.True(t, errors.As(w.Close(Release), &notOpen))
}

func TestAppendRowTyping(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "track.brdb")
	w := NewWriter(filename, nil)
	require.NoError(t, w.Open())
	defer w.Abort()
	tw, err := w.CreateTable(testTable, testSchema, 0)
	require.NoError(t, err)

	testCases := []struct {
		name string
		row  Row
	}{
		{"too few values", Row{"a"}},
		{"wrong string type", Row{1, int32(1)}},
		{"wrong int type", Row{"a", 1}},
		{"string too wide", Row{"abcdef", int32(1)}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tw.AppendRow(tc.row))
		})
	}
	assert.Equal(t, 0, tw.NumRows())
}

func TestSchemaRoundTrip(t *testing.T) {
	encoded, err := testSchema.marshal()
	require.NoError(t, err)
	decoded, err := unmarshalSchema(encoded)
	require.NoError(t, err)
	assert.Equal(t, testSchema, decoded)

	_, err = unmarshalSchema([]byte("XXXX"))
	assert.Error(t, err)
}
