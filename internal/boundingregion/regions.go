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
	"errors"
	"fmt"
	"iter"
	"sync"

	"go.uber.org/zap"

	"github.com/googlegenomics/trackregions/internal/database"
	"github.com/googlegenomics/trackregions/internal/genomics"
	"github.com/googlegenomics/trackregions/internal/track"
)

// Querier is the query contract shared by both storage formats.
type Querier interface {
	EnclosingRegion(query genomics.Region) (BoundingRegion, error)
	AllEnclosingRegions(query genomics.Region) ([]BoundingRegion, error)
	TotalElementCount(chromosomes ...string) (int64, error)
	All() iter.Seq2[BoundingRegion, error]
}

// Format identifies the storage format answering queries for a track.
type Format int

const (
	// Unavailable means the track has no stored bounding regions.
	Unavailable Format = iota
	// Current is the container table written by Index.Store.
	Current
	// Legacy is the shelf file read by LegacyIndex.
	Legacy
)

func (f Format) String() string {
	switch f {
	case Unavailable:
		return "unavailable"
	case Current:
		return "current"
	case Legacy:
		return "legacy"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// Regions answers bounding region queries for one track from whichever
// format is stored, preferring the current one.  The choice is made on the
// first query and kept until the next Store.
type Regions struct {
	track   track.Track
	current *Index
	legacy  *LegacyIndex
	opts    Options
	logger  *zap.Logger

	mu     sync.Mutex
	format Format
	active Querier
}

var _ Querier = (*Regions)(nil)
var _ Querier = (*Index)(nil)
var _ Querier = (*LegacyIndex)(nil)

// New returns the Regions of t, stored below root.
func New(root string, t track.Track, genome genomics.Genome, readers *database.Registry, opts Options) (*Regions, error) {
	opts = opts.withDefaults()
	current, err := NewIndex(root, t, genome, readers, opts)
	if err != nil {
		return nil, err
	}
	return &Regions{
		track:   t,
		current: current,
		legacy:  NewLegacyIndex(root, t, genome, opts),
		opts:    opts,
		logger:  opts.Logger.With(zap.String("track", t.String())),
	}, nil
}

// Track returns the track whose regions are served.
func (r *Regions) Track() track.Track {
	return r.track
}

// Format returns the format answering queries, selecting it if needed.
func (r *Regions) Format() (Format, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.selectLocked(); err != nil {
		var notAvailable *NotAvailableError
		if errors.As(err, &notAvailable) {
			return Unavailable, nil
		}
		return Unavailable, err
	}
	return r.format, nil
}

func (r *Regions) selectLocked() error {
	if r.active != nil {
		return nil
	}
	exists, err := r.current.Exists()
	if err != nil {
		return err
	}
	switch {
	case exists:
		r.format, r.active = Current, r.current
	case r.legacy.Exists():
		r.format, r.active = Legacy, r.legacy
	default:
		return &NotAvailableError{r.track.String()}
	}
	r.logger.Debug("selected bounding region format", zap.Stringer("format", r.format))
	return nil
}

func (r *Regions) querier() (Querier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.selectLocked(); err != nil {
		return nil, err
	}
	return r.active, nil
}

// fallback turns a miss on an undeclared chromosome into the sentinel
// region if the policy is enabled.
func (r *Regions) fallback(query genomics.Region, err error) (BoundingRegion, bool) {
	if !r.opts.UndeclaredChromosomeFallback {
		return BoundingRegion{}, false
	}
	var outside *OutsideBoundingRegionError
	if errors.As(err, &outside) && !outside.Declared {
		return sentinel(query), true
	}
	return BoundingRegion{}, false
}

// EnclosingRegion implements Querier.
func (r *Regions) EnclosingRegion(query genomics.Region) (BoundingRegion, error) {
	q, err := r.querier()
	if err != nil {
		return BoundingRegion{}, err
	}
	region, err := q.EnclosingRegion(query)
	if err != nil {
		if fb, ok := r.fallback(query, err); ok {
			return fb, nil
		}
		return BoundingRegion{}, err
	}
	return region, nil
}

// AllEnclosingRegions implements Querier.
func (r *Regions) AllEnclosingRegions(query genomics.Region) ([]BoundingRegion, error) {
	q, err := r.querier()
	if err != nil {
		return nil, err
	}
	regions, err := q.AllEnclosingRegions(query)
	if err != nil {
		if fb, ok := r.fallback(query, err); ok {
			return []BoundingRegion{fb}, nil
		}
		return nil, err
	}
	return regions, nil
}

// TotalElementCount implements Querier.
func (r *Regions) TotalElementCount(chromosomes ...string) (int64, error) {
	q, err := r.querier()
	if err != nil {
		return 0, err
	}
	return q.TotalElementCount(chromosomes...)
}

// All implements Querier.
func (r *Regions) All() iter.Seq2[BoundingRegion, error] {
	return func(yield func(BoundingRegion, error) bool) {
		q, err := r.querier()
		if err != nil {
			yield(BoundingRegion{}, err)
			return
		}
		for region, err := range q.All() {
			if !yield(region, err) {
				return
			}
		}
	}
}

// Store validates descriptors with Build and writes the result in the
// current format.  On success queries switch to the new table.  On failure
// the stored regions, if any, are left untouched.
func (r *Regions) Store(descriptors []Descriptor, chromosomesWithData []string, sparse bool) ([]BoundingRegion, error) {
	regions, err := Build(descriptors, chromosomesWithData, sparse)
	if err != nil {
		return nil, err
	}
	if err := r.current.Store(regions); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.format, r.active = Current, r.current
	r.mu.Unlock()
	return regions, nil
}

// Close releases the legacy shelf, if open.  Container readers belong to the
// registry passed to New.
func (r *Regions) Close() error {
	return r.legacy.Close()
}
