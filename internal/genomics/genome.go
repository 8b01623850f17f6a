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

package genomics

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// Genome provides the genome metadata needed to order and bound regions.
type Genome interface {
	// Name returns the genome identifier, e.g. "hg19".
	Name() string
	// Chromosomes returns every chromosome of the genome in canonical order.
	Chromosomes() []string
	// MinimalRegion returns the smallest analysis region of the genome, if the
	// genome defines one.
	MinimalRegion() (Region, bool)
}

// Chromosome describes a single sequence of a Genome.
type Chromosome struct {
	Name   string
	Length int32
}

// StaticGenome is a Genome with a fixed chromosome list.
type StaticGenome struct {
	name        string
	chromosomes []Chromosome
	rank        map[string]int
	minimal     *Region
}

// NewStaticGenome returns a genome made of chromosomes, in the given order.
// If minimal is nil the whole first chromosome is the minimal region.
func NewStaticGenome(name string, chromosomes []Chromosome, minimal *Region) (*StaticGenome, error) {
	rank := make(map[string]int, len(chromosomes))
	for i, chromosome := range chromosomes {
		if chromosome.Name == "" {
			return nil, fmt.Errorf("chromosome %d has no name", i)
		}
		if _, ok := rank[chromosome.Name]; ok {
			return nil, fmt.Errorf("chromosome %q listed twice", chromosome.Name)
		}
		rank[chromosome.Name] = i
	}
	if minimal == nil && len(chromosomes) > 0 && chromosomes[0].Length > 0 {
		minimal = &Region{Chromosome: chromosomes[0].Name, End: chromosomes[0].Length}
	}
	return &StaticGenome{name, chromosomes, rank, minimal}, nil
}

// Name implements Genome.
func (g *StaticGenome) Name() string {
	return g.name
}

// Chromosomes implements Genome.
func (g *StaticGenome) Chromosomes() []string {
	names := make([]string, len(g.chromosomes))
	for i, chromosome := range g.chromosomes {
		names[i] = chromosome.Name
	}
	return names
}

// MinimalRegion implements Genome.
func (g *StaticGenome) MinimalRegion() (Region, bool) {
	if g.minimal == nil {
		return Region{}, false
	}
	return *g.minimal, true
}

// CompareChromosomes orders chromosome names by the canonical order of
// genome.  Chromosomes unknown to the genome sort after known ones and
// compare equal to each other, so a stable sort keeps them in their original
// order.
func CompareChromosomes(genome Genome, a, b string) int {
	if a == b {
		return 0
	}
	return cmp.Compare(rankOf(genome, a), rankOf(genome, b))
}

// Compare orders regions by the canonical chromosome order of genome, then by
// start and end.  Chromosomes unknown to the genome sort after known ones, by
// name.
func Compare(genome Genome, a, b Region) int {
	if a.Chromosome != b.Chromosome {
		if c := CompareChromosomes(genome, a.Chromosome, b.Chromosome); c != 0 {
			return c
		}
		return strings.Compare(a.Chromosome, b.Chromosome)
	}
	switch {
	case a.Start != b.Start:
		if a.Start < b.Start {
			return -1
		}
		return 1
	case a.End != b.End:
		if a.End < b.End {
			return -1
		}
		return 1
	}
	return 0
}

func rankOf(genome Genome, chromosome string) int {
	if g, ok := genome.(*StaticGenome); ok {
		if r, ok := g.rank[chromosome]; ok {
			return r
		}
		return len(g.rank)
	}
	names := genome.Chromosomes()
	for i, name := range names {
		if name == chromosome {
			return i
		}
	}
	return len(names)
}

// ParseRegion parses a region written as "chromosome:start-end".
func ParseRegion(s string) (Region, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return Region{}, fmt.Errorf("region %q: missing chromosome", s)
	}
	bounds := strings.SplitN(s[i+1:], "-", 2)
	if len(bounds) != 2 {
		return Region{}, fmt.Errorf("region %q: expected start-end", s)
	}
	start, err := strconv.ParseInt(bounds[0], 10, 32)
	if err != nil {
		return Region{}, fmt.Errorf("parsing start: %v", err)
	}
	end, err := strconv.ParseInt(bounds[1], 10, 32)
	if err != nil {
		return Region{}, fmt.Errorf("parsing end: %v", err)
	}
	region := Region{Chromosome: s[:i], Start: int32(start), End: int32(end)}
	if region.Start < 0 || region.Start >= region.End {
		return Region{}, fmt.Errorf("region %q: empty or negative range", s)
	}
	return region, nil
}
