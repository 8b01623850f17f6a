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
	"iter"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/googlegenomics/trackregions/internal/database"
	"github.com/googlegenomics/trackregions/internal/genomics"
	"github.com/googlegenomics/trackregions/internal/track"
)

var testTrack = track.Track{Genome: "testgenome", Name: []string{"Genes", "RefSeq"}}

func testGenome(t *testing.T) genomics.Genome {
	t.Helper()
	genome, err := genomics.NewStaticGenome("testgenome", []genomics.Chromosome{
		{Name: "chr1", Length: 1000},
		{Name: "chr2", Length: 500},
	}, nil)
	require.NoError(t, err)
	return genome
}

func newTestIndex(t *testing.T) (*Index, string) {
	t.Helper()
	root := t.TempDir()
	readers := database.NewRegistry(nil)
	t.Cleanup(func() { readers.Close() })
	ix, err := NewIndex(root, testTrack, testGenome(t), readers, Options{CacheSize: 2})
	require.NoError(t, err)
	return ix, root
}

func region(chromosome string, start, end int32) genomics.Region {
	return genomics.Region{Chromosome: chromosome, Start: start, End: end}
}

func storeDescriptors(t *testing.T, ix *Index, sparse bool, descriptors ...Descriptor) []BoundingRegion {
	t.Helper()
	regions, err := Build(descriptors, nil, sparse)
	require.NoError(t, err)
	require.NoError(t, ix.Store(regions))
	return regions
}

func collect(t *testing.T, q Querier) []BoundingRegion {
	t.Helper()
	var got []BoundingRegion
	for region, err := range q.All() {
		require.NoError(t, err)
		got = append(got, region)
	}
	return got
}

func TestIndex_Scenario(t *testing.T) {
	ix, _ := newTestIndex(t)
	regions := storeDescriptors(t, ix, false, desc("chr1", 0, 100, 100), desc("chr1", 150, 200, 50))

	got, err := ix.EnclosingRegion(region("chr1", 10, 90))
	require.NoError(t, err)
	assert.Equal(t, regions[0], got)

	_, err = ix.EnclosingRegion(region("chr1", 100, 150))
	var outside *OutsideBoundingRegionError
	require.True(t, errors.As(err, &outside), "got %v, want *OutsideBoundingRegionError", err)
	assert.True(t, outside.Declared)
	assert.Equal(t, "Genes:RefSeq", outside.Track)
}

func TestIndex_EnclosingSubIntervals(t *testing.T) {
	ix, _ := newTestIndex(t)
	regions := storeDescriptors(t, ix, true,
		desc("chr1", 0, 100, 7),
		desc("chr1", 150, 200, 3),
		desc("chr1", 300, 301, 1),
		desc("chr2", 5, 50, 0))

	for _, r := range regions {
		for start := r.Start; start < r.End; start += 7 {
			for end := start + 1; end <= r.End; end += 11 {
				query := region(r.Chromosome, start, end)
				got, err := ix.EnclosingRegion(query)
				if err != nil {
					t.Fatalf("EnclosingRegion(%s) failed: %v", query, err)
				}
				if got != r {
					t.Fatalf("EnclosingRegion(%s) = %v, want %v", query, got, r)
				}
			}
		}
	}
}

func TestIndex_Outside(t *testing.T) {
	ix, _ := newTestIndex(t)
	storeDescriptors(t, ix, false, desc("chr1", 100, 200, 100))

	testCases := []struct {
		name     string
		query    genomics.Region
		declared bool
	}{
		{"before first", region("chr1", 0, 10), true},
		{"crosses end", region("chr1", 150, 250), true},
		{"after last", region("chr1", 300, 400), true},
		{"undeclared chromosome", region("chr2", 0, 10), false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ix.EnclosingRegion(tc.query)
			var outside *OutsideBoundingRegionError
			if !errors.As(err, &outside) {
				t.Fatalf("EnclosingRegion(%s) = %v, want *OutsideBoundingRegionError", tc.query, err)
			}
			if outside.Declared != tc.declared {
				t.Errorf("Declared = %v, want %v", outside.Declared, tc.declared)
			}
		})
	}
}

func TestIndex_MinimalRegionSentinel(t *testing.T) {
	ix, _ := newTestIndex(t)
	storeDescriptors(t, ix, false, desc("chr1", 0, 100, 100))

	minimal := region("chr1", 0, 1000)
	got, err := ix.EnclosingRegion(minimal)
	require.NoError(t, err)
	assert.Equal(t, BoundingRegion{Region: minimal}, got)
}

func TestIndex_AllEnclosingRegions(t *testing.T) {
	ix, _ := newTestIndex(t)
	regions := storeDescriptors(t, ix, false, desc("chr1", 0, 100, 100), desc("chr1", 150, 200, 50))

	got, err := ix.AllEnclosingRegions(region("chr1", 160, 170))
	require.NoError(t, err)
	if diff := cmp.Diff([]BoundingRegion{regions[1]}, got); diff != "" {
		t.Errorf("Wrong regions (-want +got):\n%s", diff)
	}

	_, err = ix.AllEnclosingRegions(region("chr1", 90, 160))
	var outside *OutsideBoundingRegionError
	assert.True(t, errors.As(err, &outside))
}

func TestIndex_TotalElementCount(t *testing.T) {
	ix, _ := newTestIndex(t)
	regions := storeDescriptors(t, ix, true,
		desc("chr1", 0, 100, 4),
		desc("chr1", 150, 200, 6),
		desc("chr2", 0, 10, 5))

	var sum int64
	for _, r := range regions {
		sum += int64(r.ElementCount)
	}
	total, err := ix.TotalElementCount()
	require.NoError(t, err)
	assert.Equal(t, sum, total)

	testCases := []struct {
		chromosome string
		want       int64
	}{
		{"chr1", 10},
		{"chr2", 5},
		{"chrUn", 0},
	}
	for _, tc := range testCases {
		got, err := ix.TotalElementCount(tc.chromosome)
		require.NoError(t, err)
		if got != tc.want {
			t.Errorf("TotalElementCount(%q) = %d, want %d", tc.chromosome, got, tc.want)
		}
	}
}

func TestIndex_AllRoundTrip(t *testing.T) {
	ix, _ := newTestIndex(t)
	regions := storeDescriptors(t, ix, true,
		desc("chr1", 0, 100, 4),
		desc("chr1", 150, 200, 6),
		desc("chr2", 0, 10, 5),
		desc("chr2", 20, 30, 1))

	if diff := cmp.Diff(regions, collect(t, ix)); diff != "" {
		t.Errorf("Wrong regions (-want +got):\n%s", diff)
	}
	// The sequence restarts.
	assert.Len(t, collect(t, ix), len(regions))
}

func TestIndex_AllCanonicalOrder(t *testing.T) {
	ix, _ := newTestIndex(t)
	storeDescriptors(t, ix, true,
		desc("chrUn", 0, 10, 1),
		desc("chr2", 0, 10, 1),
		desc("chr1", 0, 10, 1))

	var got []string
	for _, r := range collect(t, ix) {
		got = append(got, r.Chromosome)
	}
	if diff := cmp.Diff([]string{"chr1", "chr2", "chrUn"}, got); diff != "" {
		t.Errorf("Wrong chromosome order (-want +got):\n%s", diff)
	}
}

func TestIndex_AllStopsEarly(t *testing.T) {
	ix, _ := newTestIndex(t)
	storeDescriptors(t, ix, true, desc("chr1", 0, 10, 1), desc("chr1", 20, 30, 1), desc("chr2", 0, 10, 1))

	n := 0
	for _, err := range ix.All() {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestIndex_NotAvailable(t *testing.T) {
	ix, _ := newTestIndex(t)

	exists, err := ix.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	var notAvailable *NotAvailableError
	_, err = ix.EnclosingRegion(region("chr1", 0, 10))
	assert.True(t, errors.As(err, &notAvailable), "EnclosingRegion: got %v", err)
	_, err = ix.TotalElementCount()
	assert.True(t, errors.As(err, &notAvailable), "TotalElementCount: got %v", err)
	for _, err := range ix.All() {
		assert.True(t, errors.As(err, &notAvailable), "All: got %v", err)
	}
}

func TestIndex_StoreReplaces(t *testing.T) {
	ix, _ := newTestIndex(t)
	storeDescriptors(t, ix, false, desc("chr1", 0, 100, 100))
	first, err := ix.BuildID()
	require.NoError(t, err)

	// Warm the cache and keep a reader registered while rebuilding.
	_, err = ix.EnclosingRegion(region("chr1", 10, 20))
	require.NoError(t, err)

	replaced := storeDescriptors(t, ix, false, desc("chr1", 500, 600, 100))
	second, err := ix.BuildID()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = ix.EnclosingRegion(region("chr1", 10, 20))
	var outside *OutsideBoundingRegionError
	assert.True(t, errors.As(err, &outside))
	got, err := ix.EnclosingRegion(region("chr1", 510, 520))
	require.NoError(t, err)
	assert.Equal(t, replaced[0], got)
}

func TestIndex_QueryDuringStore(t *testing.T) {
	ix, _ := newTestIndex(t)
	storeDescriptors(t, ix, false, desc("chr1", 0, 100, 100))

	next, stop := iter.Pull2(ix.All())
	_, err, ok := next()
	require.True(t, ok)
	require.NoError(t, err)

	replacement, err := Build([]Descriptor{desc("chr1", 0, 50, 50)}, nil, false)
	require.NoError(t, err)
	stored := make(chan error, 1)
	go func() { stored <- ix.Store(replacement) }()
	select {
	case err := <-stored:
		t.Fatalf("Store returned while an iteration was running: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	// Queries issued once the iteration ended reopen the container; they
	// must not keep the writer waiting.
	stop()
	ix.cache.Purge()
	_, err = ix.EnclosingRegion(region("chr1", 10, 20))
	require.NoError(t, err)

	select {
	case err := <-stored:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Store still waiting after the iteration ended")
	}
	assert.False(t, ix.readers.Rebuilding(ix.Filename()))
	got, err := ix.EnclosingRegion(region("chr1", 10, 20))
	require.NoError(t, err)
	assert.Equal(t, replacement[0], got)
}

func TestIndex_StoreRejectsUngrouped(t *testing.T) {
	ix, _ := newTestIndex(t)
	err := ix.Store([]BoundingRegion{
		{Region: region("chr1", 0, 10)},
		{Region: region("chr2", 0, 10)},
		{Region: region("chr1", 20, 30)},
	})
	assert.Error(t, err)
	exists, err := ix.Exists()
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDecodeChromosomeRows_Truncated(t *testing.T) {
	data, err := encodeChromosomeRows([]chromosomeRows{{"chr1", 0, 2}, {"chr2", 2, 1}})
	require.NoError(t, err)
	got, err := decodeChromosomeRows(data)
	require.NoError(t, err)
	assert.Equal(t, []chromosomeRows{{"chr1", 0, 2}, {"chr2", 2, 1}}, got)

	_, err = decodeChromosomeRows(data[:len(data)-3])
	assert.Error(t, err)
	_, err = decodeChromosomeRows([]byte("nope"))
	assert.Error(t, err)
}
