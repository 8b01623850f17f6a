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

// Package catalog finds the tracks stored below a root directory and hands
// out their bounding regions.
package catalog

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/googlegenomics/trackregions/internal/boundingregion"
	"github.com/googlegenomics/trackregions/internal/database"
	"github.com/googlegenomics/trackregions/internal/genomics"
	"github.com/googlegenomics/trackregions/internal/track"
)

// Entry is a track found on disk.
type Entry struct {
	Track  track.Track
	Format boundingregion.Format
}

// Catalog resolves tracks of one genome below a storage root.  The
// bounding regions of recently used tracks are kept open.
type Catalog struct {
	root    string
	genome  genomics.Genome
	readers *database.Registry
	opts    boundingregion.Options
	logger  *zap.Logger
	open    *lru.Cache[string, *boundingregion.Regions]
}

// New returns a Catalog.  Container readers are taken from readers.
func New(root string, genome genomics.Genome, readers *database.Registry, opts boundingregion.Options) (*Catalog, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	size := opts.CacheSize
	if size <= 0 {
		size = boundingregion.DefaultCacheSize
	}
	logger := opts.Logger.With(zap.String("root", root), zap.String("genome", genome.Name()))
	open, err := lru.NewWithEvict(size, func(key string, regions *boundingregion.Regions) {
		if err := regions.Close(); err != nil {
			logger.Warn("closing evicted track", zap.String("track", key), zap.Error(err))
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating track cache")
	}
	return &Catalog{root, genome, readers, opts, logger, open}, nil
}

// Genome returns the genome of the catalog.
func (c *Catalog) Genome() genomics.Genome {
	return c.genome
}

// Track returns the track named name, written as "a:b:c".
func (c *Catalog) Track(name string, allowOverlaps bool) (track.Track, error) {
	parts, err := track.ParseName(name)
	if err != nil {
		return track.Track{}, err
	}
	return track.Track{Genome: c.genome.Name(), Name: parts, AllowOverlaps: allowOverlaps}, nil
}

func key(t track.Track) string {
	if t.AllowOverlaps {
		return t.String() + "\x00overlaps"
	}
	return t.String()
}

// Regions returns the bounding regions of the named track.
func (c *Catalog) Regions(name string, allowOverlaps bool) (*boundingregion.Regions, error) {
	t, err := c.Track(name, allowOverlaps)
	if err != nil {
		return nil, err
	}
	k := key(t)
	if regions, ok := c.open.Get(k); ok {
		return regions, nil
	}
	regions, err := boundingregion.New(c.root, t, c.genome, c.readers, c.opts)
	if err != nil {
		return nil, err
	}
	if previous, ok, _ := c.open.PeekOrAdd(k, regions); ok {
		regions.Close()
		return previous, nil
	}
	return regions, nil
}

// Tracks lists the tracks of the genome that have a container or a legacy
// shelf file, sorted by name.  A track with both is reported as Current.
func (c *Catalog) Tracks() ([]Entry, error) {
	var entries []Entry
	for _, allowOverlaps := range []bool{false, true} {
		base := track.Track{Genome: c.genome.Name(), AllowOverlaps: allowOverlaps}.Dir(c.root)
		found := make(map[string]boundingregion.Format)
		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == base {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			dir := filepath.Dir(path)
			rel, err := filepath.Rel(base, dir)
			if err != nil || rel == "." {
				return nil
			}
			name := strings.Join(strings.Split(rel, string(filepath.Separator)), ":")
			switch {
			case d.Name() == filepath.Base(dir)+track.ContainerSuffix:
				found[name] = boundingregion.Current
			case track.IsLegacyFilename(d.Name()):
				if found[name] != boundingregion.Current {
					found[name] = boundingregion.Legacy
				}
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "listing tracks below %s", base)
		}
		for name, format := range found {
			parts, err := track.ParseName(name)
			if err != nil {
				continue
			}
			entries = append(entries, Entry{
				Track:  track.Track{Genome: c.genome.Name(), Name: parts, AllowOverlaps: allowOverlaps},
				Format: format,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Track, entries[j].Track
		if a.String() != b.String() {
			return a.String() < b.String()
		}
		return !a.AllowOverlaps && b.AllowOverlaps
	})
	return entries, nil
}

// Close closes every open track.
func (c *Catalog) Close() error {
	c.open.Purge()
	return nil
}
