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

// Package boundingregion indexes the bounding regions of a track: the
// disjoint, per-chromosome windows its data is partitioned into, each mapped
// to the range of rows holding its elements.
package boundingregion

import (
	"math"
	"sort"
	"strings"

	"github.com/googlegenomics/trackregions/internal/genomics"
)

// BoundingRegion is a stored bounding region together with the rows of the
// track data it covers.
type BoundingRegion struct {
	genomics.Region
	// StartIndex and EndIndex delimit the half-open range of data rows of
	// the region.
	StartIndex, EndIndex int32
	ElementCount         int32
	// StartBinIndex and EndBinIndex are only filled in by the legacy format.
	StartBinIndex, EndBinIndex int32
}

// Descriptor is a bounding region as declared by preprocessing, before row
// offsets are assigned.
type Descriptor struct {
	Region       genomics.Region
	ElementCount int32
}

// sentinel is returned for queries answered without a stored region.
func sentinel(region genomics.Region) BoundingRegion {
	return BoundingRegion{Region: region}
}

// Build checks descriptors and assigns each one its rows.  Descriptors of a
// chromosome must be contiguous and sorted by start, with a gap between
// consecutive regions and a positive length.  Unless sparse, the length of a
// region must equal its element count.  If sparse, every chromosome in
// chromosomesWithData must have a region.  Rows are numbered cumulatively in
// input order.  The first violation found is returned as an
// *InvalidFormatError.
func Build(descriptors []Descriptor, chromosomesWithData []string, sparse bool) ([]BoundingRegion, error) {
	var (
		last    *genomics.Region
		seen    = make(map[string]bool)
		total   int64
		regions = make([]BoundingRegion, 0, len(descriptors))
	)
	for i := range descriptors {
		d := descriptors[i]
		region := d.Region

		if last == nil || region.Chromosome != last.Chromosome {
			if seen[region.Chromosome] {
				return nil, newInvalidFormatError([]genomics.Region{region},
					"bounding region (%s) is not grouped with previous bounding regions of the same chromosome", region)
			}
			seen[region.Chromosome] = true
		} else {
			if region.Start < last.Start || (region.Start == last.Start && region.End < last.End) {
				return nil, newInvalidFormatError([]genomics.Region{*last, region},
					"bounding regions in the same chromosome are unsorted: %s > %s", *last, region)
			}
			if last.Overlaps(region) {
				return nil, newInvalidFormatError([]genomics.Region{*last, region},
					"bounding regions '%s' and '%s' overlap", *last, region)
			}
			if last.End == region.Start {
				return nil, newInvalidFormatError([]genomics.Region{*last, region},
					"bounding regions '%s' and '%s' are adjoining (there is no gap between them)", *last, region)
			}
		}
		if region.Length() < 1 {
			return nil, newInvalidFormatError([]genomics.Region{region},
				"bounding region '%s' does not have positive length", region)
		}
		if d.ElementCount < 0 {
			return nil, newInvalidFormatError([]genomics.Region{region},
				"bounding region '%s' has negative element count %d", region, d.ElementCount)
		}
		if !sparse && region.Length() != d.ElementCount {
			return nil, newInvalidFormatError([]genomics.Region{region},
				"track type representation is dense, but the length of bounding region '%s' is not equal to the element count: %d != %d",
				region, region.Length(), d.ElementCount)
		}
		if total+int64(d.ElementCount) > math.MaxInt32 {
			return nil, newInvalidFormatError([]genomics.Region{region},
				"bounding region '%s' ends past row %d", region, math.MaxInt32)
		}

		regions = append(regions, BoundingRegion{
			Region:       region,
			StartIndex:   int32(total),
			EndIndex:     int32(total) + d.ElementCount,
			ElementCount: d.ElementCount,
		})
		total += int64(d.ElementCount)
		last = &descriptors[i].Region
	}

	if sparse {
		var missing []string
		for _, chromosome := range chromosomesWithData {
			if !seen[chromosome] {
				missing = append(missing, chromosome)
				seen[chromosome] = true
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return nil, &InvalidFormatError{
				Message:     "some chromosomes contain data, but have no bounding regions: " + strings.Join(missing, ", "),
				Chromosomes: missing,
			}
		}
	}
	return regions, nil
}
