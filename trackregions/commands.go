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

package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/googlegenomics/trackregions/api"
	"github.com/googlegenomics/trackregions/internal/analytics"
	"github.com/googlegenomics/trackregions/internal/boundingregion"
	"github.com/googlegenomics/trackregions/internal/genomics"
)

// readDescriptors parses tab separated descriptors, one per line:
// chromosome, start, end and element count.  Lines starting with '#' are
// skipped.
func readDescriptors(r io.Reader) ([]boundingregion.Descriptor, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.Comment = '#'
	reader.FieldsPerRecord = 4
	reader.ReuseRecord = true

	var descriptors []boundingregion.Descriptor
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return descriptors, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading descriptors")
		}
		var numbers [3]int32
		for i, field := range record[1:] {
			n, err := strconv.ParseInt(field, 10, 32)
			if err != nil {
				line, _ := reader.FieldPos(i + 1)
				return nil, errors.Wrapf(err, "line %d", line)
			}
			numbers[i] = int32(n)
		}
		descriptors = append(descriptors, boundingregion.Descriptor{
			Region:       genomics.Region{Chromosome: record[0], Start: numbers[0], End: numbers[1]},
			ElementCount: numbers[2],
		})
	}
}

func buildCommand(a *app) *cobra.Command {
	var (
		sparse   bool
		withData []string
	)
	cmd := &cobra.Command{
		Use:   "build <track> <descriptors.tsv>",
		Short: "Validate bounding region descriptors and store them for a track.",
		Long: `Validate bounding region descriptors and store them for a track.

The descriptor file holds one tab separated line per bounding region:
chromosome, start, end and element count, grouped by chromosome and sorted by
start.  Use - to read from standard input.  Nothing is written if any
descriptor is invalid.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			descriptors, err := readDescriptors(in)
			if err != nil {
				return err
			}
			regions, err := a.regions(args[0])
			if err != nil {
				return err
			}
			stored, err := regions.Store(descriptors, withData, sparse)
			if err != nil {
				return err
			}
			var total int64
			for _, region := range stored {
				total += int64(region.ElementCount)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d bounding regions covering %d elements\n", len(stored), total)
			return nil
		},
	}
	cmd.Flags().BoolVar(&sparse, "sparse", false, "elements are not one per position")
	cmd.Flags().StringSliceVar(&withData, "with_data", nil, "chromosomes that carry data; each needs a bounding region in sparse mode")
	return cmd
}

func writeRegion(w io.Writer, region boundingregion.BoundingRegion) {
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n",
		region.Chromosome, region.Start, region.End, region.StartIndex, region.EndIndex, region.ElementCount)
}

func lookupCommand(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "lookup <track> <chromosome:start-end>",
		Short: "Print the bounding region enclosing a region.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := genomics.ParseRegion(args[1])
			if err != nil {
				return err
			}
			regions, err := a.regions(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !all {
				region, err := regions.EnclosingRegion(query)
				if err != nil {
					return err
				}
				writeRegion(out, region)
				return nil
			}
			found, err := regions.AllEnclosingRegions(query)
			if err != nil {
				return err
			}
			for _, region := range found {
				writeRegion(out, region)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "print every bounding region containing the region")
	return cmd
}

func countCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count <track> [chromosome...]",
		Short: "Print the number of elements of a track, optionally per chromosome.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			regions, err := a.regions(args[0])
			if err != nil {
				return err
			}
			total, err := regions.TotalElementCount(args[1:]...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), total)
			return nil
		},
	}
}

func listCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <track>",
		Short: "Print every bounding region of a track in genome order.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			regions, err := a.regions(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for region, err := range regions.All() {
				if err != nil {
					return err
				}
				writeRegion(out, region)
			}
			return nil
		},
	}
}

func tracksCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tracks",
		Short: "List the tracks with bounding regions.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := a.catalog.Tracks()
			if err != nil {
				return err
			}
			for _, entry := range entries {
				policy := "noOverlaps"
				if entry.Track.AllowOverlaps {
					policy = "withOverlaps"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", entry.Track, policy, entry.Format)
			}
			return nil
		},
	}
}

func serveCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve bounding region queries over HTTP.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			recorder, err := analytics.NewRecorder(reg)
			if err != nil {
				return err
			}

			gin.SetMode(gin.ReleaseMode)
			router := gin.New()
			router.Use(gin.Recovery(), api.RequestLogger(a.logger), recorder.Middleware(),
				analytics.Tracking(func(hits []analytics.Hit) {
					if err := recorder.Send(hits); err != nil {
						a.logger.Warn("recording hits", zap.Int("hits", len(hits)), zap.Error(err))
					}
				}))
			api.NewServer(a.catalog, a.logger).Export(router)
			api.ExportMetrics(router, reg)

			server := &http.Server{Addr: addr, Handler: router}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			errc := make(chan error, 1)
			go func() {
				a.logger.Info("serving", zap.String("addr", addr))
				errc <- server.ListenAndServe()
			}()

			select {
			case err := <-errc:
				return errors.Wrap(err, "HTTP server returned an error")
			case <-ctx.Done():
			}
			shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.logger.Info("shutting down")
			return server.Shutdown(shutdown)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default: from configuration)")
	return cmd
}
