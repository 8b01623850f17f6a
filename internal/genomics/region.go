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

// Package genomics contains definitions related to Genomic data.
package genomics

import "fmt"

// Region defines a region of genomic interest.
type Region struct {
	// Chromosome names the sequence the region lies on.
	Chromosome string
	// Start and End specify the half-open range (in base pairs) relative to
	// the start of the chromosome.
	Start, End int32
}

// Length returns the number of base pairs covered by the region.
func (region Region) Length() int32 {
	return region.End - region.Start
}

// Overlaps reports whether region and other share at least one base pair.
func (region Region) Overlaps(other Region) bool {
	return region.Chromosome == other.Chromosome &&
		region.Start < other.End && other.Start < region.End
}

// Adjoins reports whether region and other lie on the same chromosome with no
// gap between them.
func (region Region) Adjoins(other Region) bool {
	if region.Chromosome != other.Chromosome {
		return false
	}
	return region.End == other.Start || other.End == region.Start
}

// Contains reports whether other lies entirely inside region.
func (region Region) Contains(other Region) bool {
	return region.Chromosome == other.Chromosome &&
		region.Start <= other.Start && other.End <= region.End
}

func (region Region) String() string {
	return fmt.Sprintf("%s:%d-%d", region.Chromosome, region.Start, region.End)
}
