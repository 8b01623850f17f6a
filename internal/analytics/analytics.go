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

// Package analytics records usage of the query server as Prometheus metrics.
package analytics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "trackregions"

// Hit represents a single analytics event.
type Hit struct {
	Category string
	Action   string
	// Value is optional.
	Value *int64
}

// Event generates a new hit.  The value may be nil but category and action
// are required.
func Event(category, action string, value *int64) Hit {
	return Hit{category, action, value}
}

// Recorder turns hits and requests into metrics.  To create a properly
// initialized Recorder, use NewRecorder.
type Recorder struct {
	events   *prometheus.CounterVec
	values   *prometheus.HistogramVec
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewRecorder returns a Recorder whose metrics are registered with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Analytics events by category and action.",
		}, []string{"category", "action"}),
		values: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_values",
			Help:      "Values carried by analytics events.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"category", "action"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	for _, c := range []prometheus.Collector{r.events, r.values, r.requests, r.latency} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "registering analytics metrics")
		}
	}
	return r, nil
}

// Send records hits.
func (r *Recorder) Send(hits []Hit) error {
	for _, hit := range hits {
		if hit.Category == "" || hit.Action == "" {
			return errors.Errorf("hit %+v lacks a category or action", hit)
		}
		r.events.WithLabelValues(hit.Category, hit.Action).Inc()
		if hit.Value != nil {
			r.values.WithLabelValues(hit.Category, hit.Action).Observe(float64(*hit.Value))
		}
	}
	return nil
}

// Middleware returns a gin handler that counts requests and measures their
// latency by route.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		r.requests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		r.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

type contextKey int

var (
	hitsKey = contextKey(1)
)

func withHits(req *http.Request, hits *[]Hit) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), hitsKey, hits))
}

// TrackingHandler returns a new http.Handler which wraps the provided
// handler.  The wrapper prepares the incoming request's context for use with
// the TrackerFromContext function.  When the underlying handler completes,
// the track function is invoked with any hits accumulated during the request.
func TrackingHandler(handler http.Handler, track func([]Hit)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var hits []Hit
		handler.ServeHTTP(w, withHits(req, &hits))
		track(hits)
	})
}

// Tracking is the gin form of TrackingHandler.
func Tracking(track func([]Hit)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var hits []Hit
		c.Request = withHits(c.Request, &hits)
		c.Next()
		track(hits)
	}
}

// TrackerFromContext is intended to be used with contexts that are generated
// by TrackingHandler or Tracking.  It returns a function that buffers hits to
// be delivered to the track function provided in the original call.
func TrackerFromContext(ctx context.Context) func(Hit) {
	if hits, ok := ctx.Value(hitsKey).(*[]Hit); ok {
		return func(hit Hit) { *hits = append(*hits, hit) }
	}
	return func(Hit) {}
}
