// Copyright 2017 Google Inc.
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

// Package api implements the bounding region query API.
//
// Every endpoint names a track as "a:b:c" and takes an optional overlaps
// parameter selecting the overlap-policy variant of the track.
//
//	GET /tracks
//	GET /regions/:track?overlaps=true
//	GET /regions/:track/enclosing?chromosome=chr1&start=10&end=90
//	GET /regions/:track/enclosing/all?chromosome=chr1&start=10&end=90
//	GET /regions/:track/count?chromosome=chr1&chromosome=chr2
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/googlegenomics/trackregions/internal/analytics"
	"github.com/googlegenomics/trackregions/internal/boundingregion"
	"github.com/googlegenomics/trackregions/internal/catalog"
	"github.com/googlegenomics/trackregions/internal/genomics"
)

var (
	errMissingChromosome = errors.New("no chromosome specified")
	errMissingBounds     = errors.New("start and end must both be specified")
)

// Server provides the query API.  Must be created with NewServer.
type Server struct {
	catalog *catalog.Catalog
	logger  *zap.Logger
}

// NewServer returns a new Server answering queries from tracks in catalog.
func NewServer(catalog *catalog.Catalog, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{catalog, logger}
}

// Export registers the API endpoints with router.
func (server *Server) Export(router gin.IRouter) {
	router.Use(forwardOrigin)
	router.GET("/tracks", server.serveTracks)
	router.GET("/regions/:track", server.serveAll)
	router.GET("/regions/:track/enclosing", server.serveEnclosing)
	router.GET("/regions/:track/enclosing/all", server.serveAllEnclosing)
	router.GET("/regions/:track/count", server.serveCount)
}

// ExportMetrics registers the Prometheus scrape endpoint with router.
func ExportMetrics(router gin.IRouter, gatherer prometheus.Gatherer) {
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// RequestLogger returns a gin handler logging every request to logger.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

type regionJSON struct {
	Chromosome    string `json:"chromosome"`
	Start         int32  `json:"start"`
	End           int32  `json:"end"`
	StartIndex    int32  `json:"start_index"`
	EndIndex      int32  `json:"end_index"`
	ElementCount  int32  `json:"element_count"`
	StartBinIndex int32  `json:"start_bin_index,omitempty"`
	EndBinIndex   int32  `json:"end_bin_index,omitempty"`
}

func toJSON(region boundingregion.BoundingRegion) regionJSON {
	return regionJSON{
		Chromosome:    region.Chromosome,
		Start:         region.Start,
		End:           region.End,
		StartIndex:    region.StartIndex,
		EndIndex:      region.EndIndex,
		ElementCount:  region.ElementCount,
		StartBinIndex: region.StartBinIndex,
		EndBinIndex:   region.EndBinIndex,
	}
}

func (server *Server) regions(c *gin.Context) (*boundingregion.Regions, error) {
	overlaps, err := parseOverlaps(c.Query("overlaps"))
	if err != nil {
		return nil, newInvalidInputError("parsing overlaps", err)
	}
	regions, err := server.catalog.Regions(c.Param("track"), overlaps)
	if err != nil {
		return nil, newInvalidInputError("parsing track name", err)
	}
	return regions, nil
}

func (server *Server) serveTracks(c *gin.Context) {
	entries, err := server.catalog.Tracks()
	if err != nil {
		writeError(c, err)
		return
	}
	tracks := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		tracks = append(tracks, gin.H{
			"name":     entry.Track.String(),
			"overlaps": entry.Track.AllowOverlaps,
			"format":   entry.Format.String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"genome": server.catalog.Genome().Name(), "tracks": tracks})
}

func (server *Server) serveEnclosing(c *gin.Context) {
	track := analytics.TrackerFromContext(c.Request.Context())
	track(analytics.Event("Regions", "Enclosing Request Received", nil))

	regions, err := server.regions(c)
	if err != nil {
		writeError(c, err)
		return
	}
	query, err := parseRegion(c)
	if err != nil {
		writeError(c, newInvalidInputError("parsing region", err))
		return
	}
	region, err := regions.EnclosingRegion(query)
	if err != nil {
		track(analytics.Event("Regions", "Enclosing Request Failed", nil))
		writeError(c, server.queryError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"region": toJSON(region)})
}

func (server *Server) serveAllEnclosing(c *gin.Context) {
	track := analytics.TrackerFromContext(c.Request.Context())
	track(analytics.Event("Regions", "All Enclosing Request Received", nil))

	regions, err := server.regions(c)
	if err != nil {
		writeError(c, err)
		return
	}
	query, err := parseRegion(c)
	if err != nil {
		writeError(c, newInvalidInputError("parsing region", err))
		return
	}
	found, err := regions.AllEnclosingRegions(query)
	if err != nil {
		writeError(c, server.queryError(err))
		return
	}
	out := make([]regionJSON, len(found))
	for i, region := range found {
		out[i] = toJSON(region)
	}
	count := int64(len(out))
	track(analytics.Event("Regions", "All Enclosing Response Regions", &count))
	c.JSON(http.StatusOK, gin.H{"regions": out})
}

func (server *Server) serveCount(c *gin.Context) {
	regions, err := server.regions(c)
	if err != nil {
		writeError(c, err)
		return
	}
	chromosomes := c.QueryArray("chromosome")
	total, err := regions.TotalElementCount(chromosomes...)
	if err != nil {
		writeError(c, server.queryError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"element_count": total})
}

func (server *Server) serveAll(c *gin.Context) {
	regions, err := server.regions(c)
	if err != nil {
		writeError(c, err)
		return
	}
	format, err := regions.Format()
	if err != nil {
		writeError(c, err)
		return
	}
	out := []regionJSON{}
	for region, err := range regions.All() {
		if err != nil {
			writeError(c, server.queryError(err))
			return
		}
		out = append(out, toJSON(region))
	}
	count := int64(len(out))
	analytics.TrackerFromContext(c.Request.Context())(analytics.Event("Regions", "List Response Regions", &count))
	c.JSON(http.StatusOK, gin.H{"format": format.String(), "regions": out})
}

// queryError maps the errors of bounding region queries to API errors.
func (server *Server) queryError(err error) error {
	var (
		notAvailable *boundingregion.NotAvailableError
		outside      *boundingregion.OutsideBoundingRegionError
	)
	switch {
	case errors.As(err, &notAvailable):
		return newNotFoundError("looking up bounding regions", err)
	case errors.As(err, &outside):
		return newOutsideBoundingRegionError(err)
	}
	server.logger.Error("bounding region query failed", zap.Error(err))
	return err
}

func parseOverlaps(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

func parseRegion(c *gin.Context) (genomics.Region, error) {
	var (
		chromosome = c.Query("chromosome")
		start      = c.Query("start")
		end        = c.Query("end")
	)
	if chromosome == "" {
		return genomics.Region{}, errMissingChromosome
	}
	if start == "" || end == "" {
		return genomics.Region{}, errMissingBounds
	}
	region := genomics.Region{Chromosome: chromosome}

	n, err := strconv.ParseInt(start, 10, 32)
	if err != nil {
		return genomics.Region{}, fmt.Errorf("parsing start: %v", err)
	}
	region.Start = int32(n)

	n, err = strconv.ParseInt(end, 10, 32)
	if err != nil {
		return genomics.Region{}, fmt.Errorf("parsing end: %v", err)
	}
	region.End = int32(n)

	if region.Start < 0 || region.Start >= region.End {
		return genomics.Region{}, fmt.Errorf("%s: empty or negative range", region)
	}
	return region, nil
}

// apiError is used to capture errors that have been defined in the API.
type apiError struct {
	name  string
	code  int
	cause error
}

func (err *apiError) Error() string {
	return fmt.Sprintf("%s (%d): %v", err.name, err.code, err.cause)
}

func (err *apiError) Unwrap() error {
	return err.cause
}

func newApiError(name string, code int, context string, err error) error {
	return &apiError{name, code, fmt.Errorf("%s: %w", context, err)}
}

func newInvalidInputError(context string, err error) error {
	return newApiError("InvalidInput", http.StatusBadRequest, context, err)
}

func newNotFoundError(context string, err error) error {
	return newApiError("NotFound", http.StatusNotFound, context, err)
}

func newOutsideBoundingRegionError(err error) error {
	return &apiError{"OutsideBoundingRegion", http.StatusNotFound, err}
}

// writeError writes either a JSON object or bare HTTP error describing err.
// A JSON object is written only when the error has a name and code defined
// by the API.
func writeError(c *gin.Context, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		c.JSON(apiErr.code, gin.H{
			"error":   apiErr.name,
			"message": fmt.Sprintf("%s: %v", http.StatusText(apiErr.code), apiErr.cause),
		})
		return
	}
	code := http.StatusInternalServerError
	c.String(code, "%s: %v", http.StatusText(code), err)
}

func forwardOrigin(c *gin.Context) {
	if origin := c.GetHeader("Origin"); origin != "" {
		c.Header("Access-Control-Allow-Origin", origin)
	}
	c.Next()
}
