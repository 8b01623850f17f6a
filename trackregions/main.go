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

// This binary builds and queries the bounding region indexes of processed
// tracks, and serves them over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/googlegenomics/trackregions/internal/boundingregion"
	"github.com/googlegenomics/trackregions/internal/catalog"
	"github.com/googlegenomics/trackregions/internal/config"
	"github.com/googlegenomics/trackregions/internal/database"
	"github.com/googlegenomics/trackregions/internal/log"
)

// app holds what every command needs once flags are parsed.
type app struct {
	configPath string
	logLevel   string
	profile    string
	overlaps   bool

	cfg      *config.Config
	logger   *zap.Logger
	readers  *database.Registry
	catalog  *catalog.Catalog
	profiler interface{ Stop() }
}

func (a *app) setup(logFormat string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if logFormat == "" {
		logFormat = cfg.Log.Format
	}
	logger, err := log.New(cfg.Log.Level, logFormat)
	if err != nil {
		return err
	}
	genome, err := cfg.BuildGenome()
	if err != nil {
		return err
	}

	switch a.profile {
	case "":
	case "cpu":
		a.profiler = profile.Start(profile.CPUProfile, profile.Quiet)
	case "mem":
		a.profiler = profile.Start(profile.MemProfile, profile.Quiet)
	case "block":
		a.profiler = profile.Start(profile.BlockProfile, profile.Quiet)
	default:
		return fmt.Errorf("unknown profile mode %q", a.profile)
	}

	a.cfg = cfg
	a.logger = logger
	a.readers = database.NewRegistry(logger)
	a.catalog, err = catalog.New(cfg.Storage.Root, genome, a.readers, boundingregion.Options{
		Logger:                       logger,
		CacheSize:                    cfg.Index.CacheSize,
		UndeclaredChromosomeFallback: cfg.Index.UndeclaredChromosomeFallback,
	})
	return err
}

func (a *app) teardown() error {
	var first error
	if a.catalog != nil {
		first = a.catalog.Close()
	}
	if a.readers != nil {
		if err := a.readers.Close(); err != nil && first == nil {
			first = err
		}
	}
	if a.profiler != nil {
		a.profiler.Stop()
	}
	if a.logger != nil {
		a.logger.Sync()
	}
	return first
}

func (a *app) regions(name string) (*boundingregion.Regions, error) {
	return a.catalog.Regions(name, a.overlaps)
}

func rootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "trackregions",
		Short:         "Build and query the bounding region indexes of processed tracks.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			format := log.Console
			if cmd.Name() == "serve" {
				format = ""
			}
			return a.setup(format)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "configuration file (default: configs/trackregions.yaml or trackregions.yaml)")
	flags.StringVar(&a.logLevel, "log_level", "", "overrides the configured log level")
	flags.StringVar(&a.profile, "profile", "", "write a cpu, mem or block profile to a temporary directory")
	flags.BoolVar(&a.overlaps, "overlaps", false, "use the variant of the track that allows overlapping elements")

	root.AddCommand(
		buildCommand(a),
		lookupCommand(a),
		countCommand(a),
		listCommand(a),
		tracksCommand(a),
		serveCommand(a),
	)
	return root
}

func main() {
	a := &app{}
	err := rootCommand(a).Execute()
	if closeErr := a.teardown(); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
