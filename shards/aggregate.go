// Copyright 2016 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package shards fans a single query out across several independently
// loaded index files and aggregates their matches, the way the
// teacher's shardedSearcher spreads one query across many shard files
// -- without the teacher's repo-priority ranking, request scheduler,
// or streaming Sender machinery, none of which this corpus needs.
package shards

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/livegrep/codesearch"
)

var metricAggregateSearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "codesearch_aggregate_search_duration_seconds",
	Help:    "Time spent searching across every shard in an Aggregator.",
	Buckets: prometheus.DefBuckets,
})

// Aggregator searches a fixed set of independently loaded index files
// (spec 6's single-file format, one per corpus snapshot) as if they
// were one corpus, the way the teacher's shardedSearcher presents many
// on-disk shards as one Searcher.
type Aggregator struct {
	drivers []*codesearch.Driver
	stores  []*codesearch.ChunkStore
}

// Open loads every index file named by paths and returns an Aggregator
// searching all of them concurrently. threads bounds each shard's own
// internal fan-out (see Driver); shard-level fan-out in Search is
// bounded by a semaphore sized to the number of shards.
func Open(paths []string, threads int) (*Aggregator, error) {
	a := &Aggregator{}
	for _, p := range paths {
		store, err := codesearch.LoadIndex(p)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.stores = append(a.stores, store)
		a.drivers = append(a.drivers, codesearch.NewDriver(store, threads))
	}
	return a, nil
}

// Close releases every shard's memory mapping.
func (a *Aggregator) Close() {
	for _, s := range a.stores {
		s.Close()
	}
}

// Search runs q against every shard concurrently, bounded by a
// semaphore sized to the number of shards actually open (mirrors the
// teacher's GOMAXPROCS-wide feeder in streamSearch, scaled down since
// each shard already parallelizes internally via Driver).
func (a *Aggregator) Search(ctx context.Context, q *codesearch.Query, onMatch func(*codesearch.MatchResult)) (*codesearch.SearchStats, error) {
	start := time.Now()
	defer func() { metricAggregateSearchDuration.Observe(time.Since(start).Seconds()) }()

	concurrency := int64(len(a.drivers))
	if concurrency < 1 {
		concurrency = 1
	}
	throttle := semaphore.NewWeighted(concurrency)
	g, gctx := errgroup.WithContext(ctx)

	var (
		mu      sync.Mutex
		merged  []*codesearch.MatchResult
		agg     codesearch.SearchStats
		anyExit codesearch.ExitReason
	)

	for _, d := range a.drivers {
		d := d
		if err := throttle.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer throttle.Release(1)
			stats, err := d.Search(gctx, q, func(m *codesearch.MatchResult) {
				mu.Lock()
				merged = append(merged, m)
				mu.Unlock()
			})
			if err != nil {
				return err
			}
			mu.Lock()
			agg.RE2TimeMS += stats.RE2TimeMS
			agg.AnalyzeTimeMS += stats.AnalyzeTimeMS
			if stats.ExitReason != codesearch.ExitNone {
				anyExit = stats.ExitReason
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	agg.ExitReason = anyExit

	for _, m := range merged {
		onMatch(m)
	}
	return &agg, nil
}
