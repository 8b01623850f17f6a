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
	"iter"
	"os"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/googlegenomics/trackregions/internal/genomics"
	"github.com/googlegenomics/trackregions/internal/legacy"
	"github.com/googlegenomics/trackregions/internal/track"
)

// LegacyIndex answers queries from a legacy shelf file.  It is read-only.
//
// Unlike Index, a query on a chromosome without stored regions is answered
// with a zero-length region, as older callers expect.
type LegacyIndex struct {
	track    track.Track
	filename string
	genome   genomics.Genome
	logger   *zap.Logger

	mu         sync.Mutex
	shelf      *legacy.Shelf
	contents   map[string]legacy.Regions
	loaded     map[string]bool
	iterations int  // running iterations over All
	closing    bool // Close was called during an iteration
}

// NewLegacyIndex returns a LegacyIndex over the shelf of t below root.
func NewLegacyIndex(root string, t track.Track, genome genomics.Genome, opts Options) *LegacyIndex {
	opts = opts.withDefaults()
	filename := t.LegacyFilename(root)
	return &LegacyIndex{
		track:    t,
		filename: filename,
		genome:   genome,
		logger:   opts.Logger.With(zap.String("track", t.String()), zap.String("shelf", filename)),
		contents: make(map[string]legacy.Regions),
		loaded:   make(map[string]bool),
	}
}

// Filename returns the shelf file of the index.
func (lx *LegacyIndex) Filename() string {
	return lx.filename
}

// Exists reports whether the shelf file exists.
func (lx *LegacyIndex) Exists() bool {
	_, err := os.Stat(lx.filename)
	return err == nil
}

func (lx *LegacyIndex) open() (*legacy.Shelf, error) {
	if lx.shelf != nil {
		return lx.shelf, nil
	}
	if !lx.Exists() {
		return nil, &NotAvailableError{lx.track.String()}
	}
	shelf, err := legacy.Open(lx.filename, lx.logger)
	if err != nil {
		return nil, err
	}
	lx.shelf = shelf
	return shelf, nil
}

// regions returns the stored regions of chromosome, loading them on first
// use.
func (lx *LegacyIndex) regions(chromosome string) (legacy.Regions, bool, error) {
	lx.mu.Lock()
	defer lx.mu.Unlock()
	if !lx.loaded[chromosome] {
		shelf, err := lx.open()
		if err != nil {
			return nil, false, err
		}
		regions, ok, err := shelf.Regions(chromosome)
		if err != nil {
			return nil, false, err
		}
		if ok {
			lx.contents[chromosome] = regions
		}
		lx.loaded[chromosome] = true
	}
	regions, ok := lx.contents[chromosome]
	return regions, ok, nil
}

func fromInfo(chromosome string, info legacy.Info) BoundingRegion {
	return BoundingRegion{
		Region:        genomics.Region{Chromosome: chromosome, Start: info.Start, End: info.End},
		StartIndex:    info.StartIndex,
		EndIndex:      info.EndIndex,
		ElementCount:  info.EndIndex - info.StartIndex,
		StartBinIndex: info.StartBinIndex,
		EndBinIndex:   info.EndBinIndex,
	}
}

// EnclosingRegion returns the stored region enclosing query.  A query on a
// chromosome without a stored value, or equal to the minimal region of the
// genome, gets a zero-length region carrying query.
func (lx *LegacyIndex) EnclosingRegion(query genomics.Region) (BoundingRegion, error) {
	regions, ok, err := lx.regions(query.Chromosome)
	if err != nil {
		return BoundingRegion{}, err
	}
	if ok {
		if info, found := regions.Floor(query.Start); found && query.Start < info.End && query.End <= info.End {
			return fromInfo(query.Chromosome, info), nil
		}
		if minimal, isSet := lx.genome.MinimalRegion(); !isSet || minimal != query {
			return BoundingRegion{}, &OutsideBoundingRegionError{Region: query, Track: lx.track.String(), Declared: regions.Len() > 0}
		}
	}
	return sentinel(query), nil
}

// AllEnclosingRegions returns every stored region containing query, in
// start order.
func (lx *LegacyIndex) AllEnclosingRegions(query genomics.Region) ([]BoundingRegion, error) {
	regions, ok, err := lx.regions(query.Chromosome)
	if err != nil {
		return nil, err
	}
	var found []BoundingRegion
	if ok {
		for _, info := range regions.Infos() {
			region := fromInfo(query.Chromosome, info)
			if region.Contains(query) {
				found = append(found, region)
			}
		}
	}
	if len(found) == 0 {
		return nil, &OutsideBoundingRegionError{Region: query, Track: lx.track.String(), Declared: ok && regions.Len() > 0}
	}
	return found, nil
}

// TotalElementCount returns the number of elements stored for chromosomes,
// or for every chromosome of the genome if none are given.
func (lx *LegacyIndex) TotalElementCount(chromosomes ...string) (int64, error) {
	if len(chromosomes) == 0 {
		chromosomes = lx.genome.Chromosomes()
	}
	var total int64
	for _, chromosome := range chromosomes {
		regions, ok, err := lx.regions(chromosome)
		if err != nil {
			return 0, err
		}
		if !ok || regions.Len() == 0 {
			continue
		}
		infos := regions.Infos()
		total += int64(infos[len(infos)-1].EndIndex) - int64(infos[0].StartIndex)
	}
	return total, nil
}

// All yields every stored region: chromosomes in genome order, regions in
// start order.  Chromosomes unknown to the genome follow in key order.  The
// shelf stays open until iteration ends, even if Close is called meanwhile.
func (lx *LegacyIndex) All() iter.Seq2[BoundingRegion, error] {
	return func(yield func(BoundingRegion, error) bool) {
		lx.mu.Lock()
		shelf, err := lx.open()
		var order []string
		if err == nil {
			order, err = shelf.Chromosomes()
		}
		if err != nil {
			lx.mu.Unlock()
			yield(BoundingRegion{}, err)
			return
		}
		lx.iterations++
		lx.mu.Unlock()
		defer lx.endIteration()

		slices.SortStableFunc(order, func(a, b string) int {
			return genomics.CompareChromosomes(lx.genome, a, b)
		})
		for _, chromosome := range order {
			regions, ok, err := lx.regions(chromosome)
			if err != nil {
				yield(BoundingRegion{}, err)
				return
			}
			if !ok {
				continue
			}
			for _, info := range regions.Infos() {
				if !yield(fromInfo(chromosome, info), nil) {
					return
				}
			}
		}
	}
}

func (lx *LegacyIndex) endIteration() {
	lx.mu.Lock()
	defer lx.mu.Unlock()
	lx.iterations--
	if lx.iterations == 0 && lx.closing {
		if err := lx.closeLocked(); err != nil {
			lx.logger.Warn("closing shelf after iteration", zap.Error(err))
		}
	}
}

// Close closes the shelf if it was opened.  If iterations over All are
// running the shelf is closed when the last one ends.
func (lx *LegacyIndex) Close() error {
	lx.mu.Lock()
	defer lx.mu.Unlock()
	if lx.iterations > 0 {
		lx.closing = true
		return nil
	}
	return lx.closeLocked()
}

func (lx *LegacyIndex) closeLocked() error {
	lx.closing = false
	if lx.shelf == nil {
		return nil
	}
	err := lx.shelf.Close()
	lx.shelf = nil
	lx.contents = make(map[string]legacy.Regions)
	lx.loaded = make(map[string]bool)
	return err
}
