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

package boundingregion

import "go.uber.org/zap"

// Options configures an Index or a Regions.
type Options struct {
	Logger *zap.Logger

	// CacheSize is the number of chromosomes whose regions are kept in
	// memory.  Zero means DefaultCacheSize.
	CacheSize int

	// UndeclaredChromosomeFallback makes queries on a chromosome without any
	// stored region return a zero-length region instead of failing.
	UndeclaredChromosomeFallback bool
}

func (opts Options) withDefaults() Options {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	return opts
}
