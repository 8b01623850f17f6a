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

package boundingregion

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/googlegenomics/trackregions/internal/binary"
	"github.com/googlegenomics/trackregions/internal/database"
	"github.com/googlegenomics/trackregions/internal/genomics"
	"github.com/googlegenomics/trackregions/internal/track"
)

// TablePath is where bounding regions are stored inside a track container.
var TablePath = database.Path{"metadata", "bounding_regions"}

const (
	chromosomeRowsAttr = "chromosome_rows"
	buildIDAttr        = "build_id"

	// DefaultCacheSize is the number of chromosomes whose regions an Index
	// keeps in memory if Options.CacheSize is not set.
	DefaultCacheSize = 256
)

var chromosomeRowsMagic = []byte("BRC\x01")

func tableSchema(chromosomeWidth int) database.Schema {
	return database.Schema{
		database.StringColumn("chromosome", chromosomeWidth),
		database.Int32Column("start"),
		database.Int32Column("end"),
		database.Int32Column("start_index"),
		database.Int32Column("end_index"),
		database.Int32Column("element_count"),
	}
}

// chromosomeRows is the contiguous block of table rows holding the regions
// of one chromosome.
type chromosomeRows struct {
	Name         string
	First, Count int32
}

func encodeChromosomeRows(blocks []chromosomeRows) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(chromosomeRowsMagic)
	if err := binary.Write(&buf, uint32(len(blocks))); err != nil {
		return nil, err
	}
	for _, block := range blocks {
		if err := binary.WriteString(&buf, block.Name); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, [2]int32{block.First, block.Count}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeChromosomeRows(data []byte) ([]chromosomeRows, error) {
	r := bytes.NewReader(data)
	if err := binary.ExpectBytes(r, chromosomeRowsMagic); err != nil {
		return nil, err
	}
	var n uint32
	if err := binary.Read(r, &n); err != nil {
		return nil, fmt.Errorf("reading chromosome count: %v", err)
	}
	if int64(n) > int64(r.Len()) {
		return nil, fmt.Errorf("chromosome count %d exceeds attribute size", n)
	}
	blocks := make([]chromosomeRows, n)
	for i := range blocks {
		name, err := binary.ReadString(r)
		if err != nil {
			return nil, err
		}
		var span [2]int32
		if err := binary.Read(r, &span); err != nil {
			return nil, fmt.Errorf("reading rows of %q: %v", name, err)
		}
		blocks[i] = chromosomeRows{name, span[0], span[1]}
	}
	return blocks, nil
}

// groupRows splits regions into per-chromosome row blocks and returns the
// longest chromosome name.
func groupRows(regions []BoundingRegion) ([]chromosomeRows, int, error) {
	var (
		blocks []chromosomeRows
		seen   = make(map[string]bool)
		width  = 1
	)
	for i, region := range regions {
		if len(region.Chromosome) > width {
			width = len(region.Chromosome)
		}
		if n := len(blocks); n > 0 && blocks[n-1].Name == region.Chromosome {
			blocks[n-1].Count++
			continue
		}
		if seen[region.Chromosome] {
			return nil, 0, pkgerrors.Errorf("regions of chromosome %q are not contiguous", region.Chromosome)
		}
		seen[region.Chromosome] = true
		blocks = append(blocks, chromosomeRows{region.Chromosome, int32(i), 1})
	}
	return blocks, width, nil
}

// regionSet holds the regions of one chromosome sorted by start.
type regionSet struct {
	starts  []int32
	regions []BoundingRegion
}

// floor returns the index of the last region starting at or before start,
// or -1.
func (s *regionSet) floor(start int32) int {
	return sort.Search(len(s.starts), func(i int) bool { return s.starts[i] > start }) - 1
}

func (s *regionSet) enclosing(query genomics.Region) (BoundingRegion, bool) {
	i := s.floor(query.Start)
	if i < 0 {
		return BoundingRegion{}, false
	}
	candidate := s.regions[i]
	if query.Start < candidate.End && query.End <= candidate.End {
		return candidate, true
	}
	return BoundingRegion{}, false
}

func (s *regionSet) allEnclosing(query genomics.Region) []BoundingRegion {
	var found []BoundingRegion
	for i := s.floor(query.Start); i >= 0; i-- {
		if s.regions[i].Contains(query) {
			found = append(found, s.regions[i])
		}
	}
	for i, j := 0, len(found)-1; i < j; i, j = i+1, j-1 {
		found[i], found[j] = found[j], found[i]
	}
	return found
}

func (s *regionSet) elementCount() int64 {
	if len(s.regions) == 0 {
		return 0
	}
	return int64(s.regions[len(s.regions)-1].EndIndex) - int64(s.regions[0].StartIndex)
}

// Index stores and queries the bounding regions of a track in its container
// file.  Regions are read per chromosome on first use and kept in an LRU
// cache.  Index is safe for concurrent use.
type Index struct {
	track    track.Track
	filename string
	genome   genomics.Genome
	readers  *database.Registry
	logger   *zap.Logger
	cache    *lru.Cache[string, *regionSet]

	mu         sync.Mutex
	generation uint64 // incremented by every Store
}

// NewIndex returns an Index over the container file of t below root.  The
// file is not touched until the Index is used.
func NewIndex(root string, t track.Track, genome genomics.Genome, readers *database.Registry, opts Options) (*Index, error) {
	opts = opts.withDefaults()
	cache, err := lru.New[string, *regionSet](opts.CacheSize)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "creating region cache")
	}
	filename := t.ContainerFilename(root)
	return &Index{
		track:    t,
		filename: filename,
		genome:   genome,
		readers:  readers,
		logger:   opts.Logger.With(zap.String("track", t.String()), zap.String("container", filename)),
		cache:    cache,
	}, nil
}

// Filename returns the container file of the index.
func (ix *Index) Filename() string {
	return ix.filename
}

// Exists reports whether the container file holds a bounding region table.
func (ix *Index) Exists() (bool, error) {
	r, err := ix.readers.Reader(ix.filename)
	if err != nil {
		var notFound *database.NotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	defer r.Close(database.KeepOpen)
	return r.TableExists(TablePath)
}

// Store replaces the stored bounding regions of the track with regions,
// which must be grouped by chromosome as returned by Build.  While Store
// runs, readers of the container are closed as soon as they become idle, so
// Store blocks until every iteration over All has finished.  Queries issued
// meanwhile see either the old or the new table, which replaces the old one
// atomically.
func (ix *Index) Store(regions []BoundingRegion) error {
	blocks, width, err := groupRows(regions)
	if err != nil {
		return err
	}
	rowsAttr, err := encodeChromosomeRows(blocks)
	if err != nil {
		return pkgerrors.Wrap(err, "encoding chromosome rows")
	}

	buildID := uuid.New().String()
	if err := ix.write(regions, width, rowsAttr, buildID); err != nil {
		return err
	}
	ix.mu.Lock()
	ix.generation++
	ix.cache.Purge()
	ix.mu.Unlock()
	ix.logger.Info("stored bounding regions",
		zap.Int("regions", len(regions)),
		zap.Int("chromosomes", len(blocks)),
		zap.String("build_id", buildID))
	return nil
}

// write replaces the table while the container is marked as being rebuilt,
// so that readers give up their shared lock as soon as they are idle.
func (ix *Index) write(regions []BoundingRegion, width int, rowsAttr []byte, buildID string) error {
	if err := ix.readers.BeginRebuild(ix.filename); err != nil {
		return pkgerrors.Wrapf(err, "releasing readers of %s", ix.filename)
	}
	defer ix.readers.EndRebuild(ix.filename)

	w := database.NewWriter(ix.filename, ix.logger)
	if err := w.Open(); err != nil {
		return err
	}
	tw, err := w.CreateTable(TablePath, tableSchema(width), len(regions))
	if err != nil {
		w.Abort()
		return err
	}
	for _, region := range regions {
		row := database.Row{region.Chromosome, region.Start, region.End, region.StartIndex, region.EndIndex, region.ElementCount}
		if err := tw.AppendRow(row); err != nil {
			w.Abort()
			return pkgerrors.Wrapf(err, "storing region %s", region.Region)
		}
	}
	if err := tw.SetAttr(chromosomeRowsAttr, rowsAttr); err != nil {
		w.Abort()
		return err
	}
	if err := tw.SetAttr(buildIDAttr, []byte(buildID)); err != nil {
		w.Abort()
		return err
	}
	return w.Close(database.Release)
}

// BuildID returns the identifier written by the last Store.
func (ix *Index) BuildID() (string, error) {
	r, table, err := ix.table()
	if err != nil {
		return "", err
	}
	defer r.Close(database.KeepOpen)
	id, ok := table.Attr(buildIDAttr)
	if !ok {
		return "", pkgerrors.Errorf("%s has no %s attribute", ix.filename, buildIDAttr)
	}
	return string(id), nil
}

// table returns a referenced reader and the bounding region table.  The
// caller must close the reader.
func (ix *Index) table() (*database.Reader, *database.Table, error) {
	r, err := ix.readers.Reader(ix.filename)
	if err != nil {
		var notFound *database.NotFoundError
		if errors.As(err, &notFound) {
			return nil, nil, &NotAvailableError{ix.track.String()}
		}
		return nil, nil, err
	}
	table, ok, err := r.Table(TablePath)
	if err != nil || !ok {
		r.Close(database.KeepOpen)
		if err == nil {
			err = &NotAvailableError{ix.track.String()}
		}
		return nil, nil, err
	}
	return r, table, nil
}

func (ix *Index) chromosomeBlocks(table *database.Table) ([]chromosomeRows, error) {
	attr, ok := table.Attr(chromosomeRowsAttr)
	if !ok {
		return nil, pkgerrors.Errorf("%s has no %s attribute", ix.filename, chromosomeRowsAttr)
	}
	blocks, err := decodeChromosomeRows(attr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "decoding %s of %s", chromosomeRowsAttr, ix.filename)
	}
	return blocks, nil
}

// regions returns the regions of chromosome, loading them if needed.
func (ix *Index) regions(chromosome string) (*regionSet, error) {
	if set, ok := ix.cache.Get(chromosome); ok {
		return set, nil
	}
	ix.mu.Lock()
	generation := ix.generation
	ix.mu.Unlock()
	r, table, err := ix.table()
	if err != nil {
		return nil, err
	}
	defer r.Close(database.KeepOpen)
	blocks, err := ix.chromosomeBlocks(table)
	if err != nil {
		return nil, err
	}

	set := &regionSet{}
	for _, block := range blocks {
		if block.Name != chromosome {
			continue
		}
		set.starts = make([]int32, 0, block.Count)
		set.regions = make([]BoundingRegion, 0, block.Count)
		err := table.Rows(int(block.First), int(block.Count), func(i int, row database.Row) error {
			region, err := rowToRegion(row)
			if err != nil {
				return pkgerrors.Wrapf(err, "row %d of %s", i, ix.filename)
			}
			set.starts = append(set.starts, region.Start)
			set.regions = append(set.regions, region)
			return nil
		})
		if err != nil {
			return nil, err
		}
		break
	}
	// A Store that committed while the rows were read purged the cache
	// already; the rows may be stale.
	ix.mu.Lock()
	if generation == ix.generation {
		ix.cache.Add(chromosome, set)
	}
	ix.mu.Unlock()
	ix.logger.Debug("loaded bounding regions", zap.String("chromosome", chromosome), zap.Int("regions", len(set.regions)))
	return set, nil
}

func rowToRegion(row database.Row) (BoundingRegion, error) {
	if len(row) != 6 {
		return BoundingRegion{}, fmt.Errorf("got %d columns, want 6", len(row))
	}
	chromosome, ok := row[0].(string)
	if !ok {
		return BoundingRegion{}, fmt.Errorf("chromosome column holds %T", row[0])
	}
	var ints [5]int32
	for i := range ints {
		v, ok := row[i+1].(int32)
		if !ok {
			return BoundingRegion{}, fmt.Errorf("column %d holds %T", i+1, row[i+1])
		}
		ints[i] = v
	}
	return BoundingRegion{
		Region:       genomics.Region{Chromosome: chromosome, Start: ints[0], End: ints[1]},
		StartIndex:   ints[2],
		EndIndex:     ints[3],
		ElementCount: ints[4],
	}, nil
}

// EnclosingRegion returns the stored region enclosing query.  If none does
// and query is the minimal region of the genome, a zero-length region
// carrying query is returned.  Otherwise the error is an
// *OutsideBoundingRegionError.
func (ix *Index) EnclosingRegion(query genomics.Region) (BoundingRegion, error) {
	set, err := ix.regions(query.Chromosome)
	if err != nil {
		return BoundingRegion{}, err
	}
	if region, ok := set.enclosing(query); ok {
		return region, nil
	}
	if minimal, ok := ix.genome.MinimalRegion(); ok && minimal == query {
		return sentinel(query), nil
	}
	return BoundingRegion{}, ix.outside(query, set)
}

// AllEnclosingRegions returns every stored region containing query, in
// start order.  If there is none the error is an
// *OutsideBoundingRegionError.
func (ix *Index) AllEnclosingRegions(query genomics.Region) ([]BoundingRegion, error) {
	set, err := ix.regions(query.Chromosome)
	if err != nil {
		return nil, err
	}
	found := set.allEnclosing(query)
	if len(found) == 0 {
		return nil, ix.outside(query, set)
	}
	return found, nil
}

func (ix *Index) outside(query genomics.Region, set *regionSet) error {
	return &OutsideBoundingRegionError{Region: query, Track: ix.track.String(), Declared: len(set.regions) > 0}
}

// TotalElementCount returns the number of elements stored for chromosomes,
// or for every chromosome of the genome if none are given.
func (ix *Index) TotalElementCount(chromosomes ...string) (int64, error) {
	if len(chromosomes) == 0 {
		chromosomes = ix.genome.Chromosomes()
	}
	var total int64
	for _, chromosome := range chromosomes {
		set, err := ix.regions(chromosome)
		if err != nil {
			return 0, err
		}
		total += set.elementCount()
	}
	return total, nil
}

// All yields every stored region: chromosomes in genome order, regions in
// start order.  Chromosomes unknown to the genome follow in storage order.
// The container stays referenced until iteration ends.
func (ix *Index) All() iter.Seq2[BoundingRegion, error] {
	return func(yield func(BoundingRegion, error) bool) {
		r, table, err := ix.table()
		if err != nil {
			yield(BoundingRegion{}, err)
			return
		}
		defer r.Close(database.KeepOpen)
		blocks, err := ix.chromosomeBlocks(table)
		if err != nil {
			yield(BoundingRegion{}, err)
			return
		}

		order := make([]string, len(blocks))
		for i, block := range blocks {
			order[i] = block.Name
		}
		slices.SortStableFunc(order, func(a, b string) int {
			return genomics.CompareChromosomes(ix.genome, a, b)
		})

		for _, chromosome := range order {
			set, err := ix.regions(chromosome)
			if err != nil {
				yield(BoundingRegion{}, err)
				return
			}
			for _, region := range set.regions {
				if !yield(region, nil) {
					return
				}
			}
		}
	}
}
