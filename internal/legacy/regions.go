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

package legacy

import (
	"sort"

	"github.com/google/btree"
	"github.com/pkg/errors"
)

// Regions holds the stored regions of one chromosome, ordered by start.
type Regions interface {
	// Floor returns the region with the greatest start not after start.
	Floor(start int32) (Info, bool)
	// Infos returns every region in start order.
	Infos() []Info
	// Len returns the number of regions.
	Len() int
}

// mappingRegions holds an ordered-mapping value.
type mappingRegions struct {
	tree *btree.BTreeG[Info]
}

func newMappingRegions(entries []mappingEntry) *mappingRegions {
	tree := btree.NewG(16, func(a, b Info) bool { return a.Start < b.Start })
	for _, entry := range entries {
		info := entry.Info
		info.Start = entry.Start
		tree.ReplaceOrInsert(info)
	}
	return &mappingRegions{tree}
}

func (m *mappingRegions) Floor(start int32) (Info, bool) {
	var found Info
	var ok bool
	m.tree.DescendLessOrEqual(Info{Start: start}, func(info Info) bool {
		found, ok = info, true
		return false
	})
	return found, ok
}

func (m *mappingRegions) Infos() []Info {
	infos := make([]Info, 0, m.tree.Len())
	m.tree.Ascend(func(info Info) bool {
		infos = append(infos, info)
		return true
	})
	return infos
}

func (m *mappingRegions) Len() int {
	return m.tree.Len()
}

// listRegions holds a parallel-lists value.
type listRegions struct {
	starts []int32
	infos  []Info
}

func newListRegions(starts []int32, infos []Info) (*listRegions, error) {
	if len(starts) != len(infos) {
		return nil, errors.Errorf("%d starts but %d region infos", len(starts), len(infos))
	}
	if !sort.SliceIsSorted(starts, func(i, j int) bool { return starts[i] < starts[j] }) {
		return nil, errors.New("region starts are not sorted")
	}
	return &listRegions{starts, infos}, nil
}

func (l *listRegions) Floor(start int32) (Info, bool) {
	i := sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > start })
	if i == 0 {
		return Info{}, false
	}
	return l.infos[i-1], true
}

func (l *listRegions) Infos() []Info {
	return l.infos
}

func (l *listRegions) Len() int {
	return len(l.infos)
}
