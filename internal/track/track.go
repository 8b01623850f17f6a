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

// Package track resolves where the files of a track live on disk.
package track

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// ContainerSuffix is the extension of track container files.
	ContainerSuffix = ".brdb"

	// LegacyFilename is the fixed name of the legacy bounding region file.
	LegacyFilename = "boundingRegions.shelve"

	withOverlaps = "withOverlaps"
	noOverlaps   = "noOverlaps"
)

// Track identifies one overlap-policy variant of a track of a genome.
type Track struct {
	Genome string
	// Name is the hierarchical track name, e.g. {"Genes", "RefSeq"}.
	Name          []string
	AllowOverlaps bool
}

// ParseName splits a track name written as "a:b:c".
func ParseName(s string) ([]string, error) {
	parts := strings.Split(s, ":")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return nil, fmt.Errorf("invalid track name %q", s)
		}
	}
	return parts, nil
}

// String returns the track name written as "a:b:c".
func (t Track) String() string {
	return strings.Join(t.Name, ":")
}

// Dir returns the directory holding the files of the track below root.
func (t Track) Dir(root string) string {
	policy := noOverlaps
	if t.AllowOverlaps {
		policy = withOverlaps
	}
	parts := append([]string{root, t.Genome, policy}, t.Name...)
	return filepath.Join(parts...)
}

// ContainerFilename returns the container file of the track below root.
func (t Track) ContainerFilename(root string) string {
	return filepath.Join(t.Dir(root), t.Name[len(t.Name)-1]+ContainerSuffix)
}

// LegacyFilename returns the legacy bounding region file of the track below
// root.
func (t Track) LegacyFilename(root string) string {
	return filepath.Join(t.Dir(root), LegacyFilename)
}

// IsLegacyFilename reports whether name is the legacy bounding region file
// name.
func IsLegacyFilename(name string) bool {
	return name == LegacyFilename
}
