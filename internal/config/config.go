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

// Package config loads the trackregions configuration file.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/googlegenomics/trackregions/internal/boundingregion"
	"github.com/googlegenomics/trackregions/internal/genomics"
)

// DefaultPaths are searched in order when no configuration file is named.
var DefaultPaths = []string{"configs/trackregions.yaml", "trackregions.yaml"}

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Genome  GenomeConfig  `yaml:"genome"`
	Index   IndexConfig   `yaml:"index"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

type StorageConfig struct {
	// Root is the directory holding processed tracks, laid out as
	// root/genome/{withOverlaps,noOverlaps}/track/name.
	Root string `yaml:"root"`
}

type ChromosomeConfig struct {
	Name   string `yaml:"name"`
	Length int32  `yaml:"length"`
}

type GenomeConfig struct {
	Name        string             `yaml:"name"`
	Chromosomes []ChromosomeConfig `yaml:"chromosomes"`
	// MinimalRegion is written as "chr:start-end".  Empty means the whole
	// first chromosome.
	MinimalRegion string `yaml:"minimal_region"`
}

type IndexConfig struct {
	CacheSize                    int  `yaml:"cache_size"`
	UndeclaredChromosomeFallback bool `yaml:"undeclared_chromosome_fallback"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration at configPath, or the first of DefaultPaths
// that exists if configPath is empty.  Without any file the defaults are
// returned.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{Root: "processed"},
		Genome:  GenomeConfig{Name: "hg19"},
		Index:   IndexConfig{CacheSize: boundingregion.DefaultCacheSize},
		Server:  ServerConfig{Addr: ":8080"},
		Log:     LogConfig{Level: "info", Format: "json"},
	}

	if configPath == "" {
		for _, p := range DefaultPaths {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, errors.Wrapf(err, "parsing %s", p)
				}
				break
			}
		}
		applyDefaults(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, errors.Wrap(err, "reading configuration")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing %s", configPath)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "processed"
	}
	if cfg.Index.CacheSize <= 0 {
		cfg.Index.CacheSize = boundingregion.DefaultCacheSize
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// BuildGenome returns the genome described by the configuration.
func (cfg *Config) BuildGenome() (*genomics.StaticGenome, error) {
	chromosomes := make([]genomics.Chromosome, len(cfg.Genome.Chromosomes))
	for i, c := range cfg.Genome.Chromosomes {
		chromosomes[i] = genomics.Chromosome{Name: c.Name, Length: c.Length}
	}
	var minimal *genomics.Region
	if cfg.Genome.MinimalRegion != "" {
		region, err := genomics.ParseRegion(cfg.Genome.MinimalRegion)
		if err != nil {
			return nil, errors.Wrap(err, "parsing minimal region")
		}
		minimal = &region
	}
	genome, err := genomics.NewStaticGenome(cfg.Genome.Name, chromosomes, minimal)
	if err != nil {
		return nil, errors.Wrapf(err, "genome %s", cfg.Genome.Name)
	}
	return genome, nil
}
