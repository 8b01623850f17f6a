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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/googlegenomics/trackregions/internal/boundingregion"
	"github.com/googlegenomics/trackregions/internal/genomics"
)

func TestLoadDefaults(t *testing.T) {
	if _, err := Load("/nonexistent/path/trackregions.yaml"); err == nil {
		t.Fatal("expected error for nonexistent path")
	}

	cfg, err := Load("")
	require.NoError(t, err)
	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr: got %s", cfg.Server.Addr)
	}
	if cfg.Storage.Root != "processed" {
		t.Errorf("default root: got %s", cfg.Storage.Root)
	}
	if cfg.Index.CacheSize != boundingregion.DefaultCacheSize {
		t.Errorf("default cache_size: got %d", cfg.Index.CacheSize)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default log level: got %s", cfg.Log.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackregions.yaml")
	content := `
storage:
  root: /data/processed
genome:
  name: testgenome
  chromosomes:
    - {name: chr1, length: 1000}
    - {name: chr2, length: 500}
  minimal_region: "chr2:0-100"
index:
  cache_size: -1
  undeclared_chromosome_fallback: true
server:
  addr: ":9000"
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/processed", cfg.Storage.Root)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, boundingregion.DefaultCacheSize, cfg.Index.CacheSize)
	assert.True(t, cfg.Index.UndeclaredChromosomeFallback)
	assert.Equal(t, LogConfig{Level: "debug", Format: "console"}, cfg.Log)

	genome, err := cfg.BuildGenome()
	require.NoError(t, err)
	assert.Equal(t, "testgenome", genome.Name())
	assert.Equal(t, []string{"chr1", "chr2"}, genome.Chromosomes())
	minimal, ok := genome.MinimalRegion()
	require.True(t, ok)
	assert.Equal(t, genomics.Region{Chromosome: "chr2", Start: 0, End: 100}, minimal)
}

func TestBuildGenome_Invalid(t *testing.T) {
	testCases := []struct {
		name   string
		genome GenomeConfig
	}{
		{"duplicate chromosome", GenomeConfig{Chromosomes: []ChromosomeConfig{{"chr1", 10}, {"chr1", 10}}}},
		{"bad minimal region", GenomeConfig{MinimalRegion: "chr1"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{Genome: tc.genome}
			if _, err := cfg.BuildGenome(); err == nil {
				t.Error("BuildGenome succeeded")
			}
		})
	}
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackregions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}
