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
	"fmt"

	"github.com/googlegenomics/trackregions/internal/genomics"
)

// InvalidFormatError reports bounding regions that violate a build-time
// invariant.  Nothing is written when it is returned.
type InvalidFormatError struct {
	Message string
	// Regions holds the offending regions, if any.
	Regions []genomics.Region
	// Chromosomes holds the offending chromosomes, if any.
	Chromosomes []string
}

func (err *InvalidFormatError) Error() string {
	return "invalid bounding regions: " + err.Message
}

func newInvalidFormatError(regions []genomics.Region, format string, args ...interface{}) error {
	return &InvalidFormatError{Message: fmt.Sprintf(format, args...), Regions: regions}
}

// OutsideBoundingRegionError reports a query region that no stored bounding
// region covers.
type OutsideBoundingRegionError struct {
	Region genomics.Region
	Track  string
	// Declared is true if the chromosome of Region has at least one stored
	// bounding region.
	Declared bool
}

func (err *OutsideBoundingRegionError) Error() string {
	return fmt.Sprintf("the analysis region '%s' is outside the bounding regions of track: %s", err.Region, err.Track)
}

// NotAvailableError reports a track without any stored bounding regions,
// in either format.
type NotAvailableError struct {
	Track string
}

func (err *NotAvailableError) Error() string {
	return "bounding regions not available for track: " + err.Track
}
