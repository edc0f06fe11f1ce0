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

package codesearch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation of the driver and filtered searcher,
// mirroring the teacher's own promauto-registered metrics around its
// shardedSearcher (shards/shards.go) at this design's narrower scope:
// one Driver searching one ChunkStore rather than many repo shards.
var (
	metricQueriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codesearch_queries_total",
		Help: "Total number of Driver.Search calls.",
	})

	metricSearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codesearch_search_duration_seconds",
		Help:    "Time spent in Driver.Search, end to end.",
		Buckets: prometheus.DefBuckets,
	})

	metricExitReasonTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codesearch_search_exit_reason_total",
		Help: "Searches by ExitReason (None, MatchLimit, Timeout).",
	}, []string{"reason"})

	metricChunkSearchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codesearch_chunk_search_total",
		Help: "Per-chunk searches by whether the suffix-array filter ran or fell back to a full scan.",
	}, []string{"mode"})

	metricSuffixArrayBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codesearch_suffix_array_build_duration_seconds",
		Help:    "Time to build one chunk's suffix array during Finalize.",
		Buckets: prometheus.DefBuckets,
	})
)
