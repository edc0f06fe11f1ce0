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
	"context"
	"fmt"
	"regexp/syntax"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/grafana/regexp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// kMaxProgramSize bounds the compiled regex program size accepted from
// a query; above it the regex is rejected as malformed input (spec 7).
const kMaxProgramSize = 1 << 16

// Driver is the search driver (spec 4.6): it fans a query's per-chunk
// work out across a worker pool and aggregates results subject to
// max_matches and the query deadline.
type Driver struct {
	store   *ChunkStore
	threads int
}

// NewDriver returns a Driver searching store with up to threads
// concurrent chunk workers (default 4, matching the teacher's
// shards.go default parallelism).
func NewDriver(store *ChunkStore, threads int) *Driver {
	if threads <= 0 {
		threads = 4
	}
	return &Driver{store: store, threads: threads}
}

var _ Searcher = (*Driver)(nil)

// Close releases no resources of its own; ChunkStore's mmap lifetime is
// owned by whoever loaded it (indexfile.go).
func (d *Driver) Close() {}

// Search implements Searcher (spec 4.6, 6). Results are collected up to
// MaxMatches in discovery order, then stable-sorted by score before
// delivery to onMatch (spec 9's Open Question resolution).
func (d *Driver) Search(ctx context.Context, q *Query, onMatch func(*MatchResult)) (*SearchStats, error) {
	start := time.Now()
	metricQueriesTotal.Inc()
	defer func() { metricSearchDuration.Observe(time.Since(start).Seconds()) }()
	stats := &SearchStats{}

	cq, err := compileQuery(q)
	if err != nil {
		return nil, err
	}
	stats.AnalyzeTimeMS = time.Since(start).Milliseconds()

	maxMatches := q.MaxMatches
	if maxMatches <= 0 {
		maxMatches = 1 << 30
	}

	var (
		mu      sync.Mutex
		matches []*MatchResult
		count   int32
		reason  int32 // atomic ExitReason
	)

	deadline := q.Deadline
	hasDeadline := !deadline.IsZero()

	exitEarly := func() bool {
		if atomic.LoadInt32(&reason) != int32(ExitNone) {
			return true
		}
		if hasDeadline && time.Now().After(deadline) {
			atomic.CompareAndSwapInt32(&reason, int32(ExitNone), int32(ExitTimeout))
			return true
		}
		return false
	}

	var live *roaring.Bitmap
	if cq.tree != nil {
		live = liveTreeBitmap(d.store, cq.tree)
	}

	searchStart := time.Now()
	throttle := semaphore.NewWeighted(int64(d.threads))
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range d.store.Chunks() {
		c := c
		if exitEarly() {
			break
		}
		if err := throttle.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer throttle.Release(1)
			searchOneChunk(d.store, c, cq, live, exitEarly, maxMatches, &count, &reason, &mu, &matches)
			return nil
		})
	}
	_ = g.Wait()
	stats.RE2TimeMS = time.Since(searchStart).Milliseconds()

	sortStart := time.Now()
	sort.SliceStable(matches, func(i, j int) bool {
		si := fileScoreOf(d.store, matches[i])
		sj := fileScoreOf(d.store, matches[j])
		return si > sj
	})
	stats.SortTimeMS = time.Since(sortStart).Milliseconds()

	for _, m := range matches {
		onMatch(m)
	}
	stats.ExitReason = ExitReason(atomic.LoadInt32(&reason))
	metricExitReasonTotal.WithLabelValues(stats.ExitReason.String()).Inc()
	return stats, nil
}

// searchOneChunk runs the compiled query's regex against a single
// chunk (spec 4.6's per-worker unit), emitting resolved matches into
// the shared, mutex-protected matches slice until exitEarly reports
// true.
func searchOneChunk(store *ChunkStore, c *Chunk, cq *compiledQuery, live *roaring.Bitmap, exitEarly func() bool, maxMatches int, count *int32, reason *int32, mu *sync.Mutex, matches *[]*MatchResult) {
	if live != nil && !chunkMayContainTree(c, live) {
		return
	}
	if exitEarly() {
		return
	}

	searchChunk(c, cq.key, cq.re, func(matchStart, matchEnd uint32) bool {
		if exitEarly() {
			return false
		}
		lineOff := lineStart(c.Bytes(), matchStart)
		lineStop := lineEnd(c.Bytes(), matchEnd)
		mr := resolveMatch(store, c, lineOff, lineStop-lineOff, matchStart, matchEnd, cq)
		if mr == nil {
			return true
		}
		mu.Lock()
		cur := atomic.LoadInt32(count)
		if cur < int32(maxMatches) {
			// Truncate to the remaining budget so one multi-context
			// result can't push count past maxMatches.
			if remaining := int32(maxMatches) - cur; int32(len(mr.Contexts)) > remaining {
				mr.Contexts = mr.Contexts[:remaining]
			}
			*matches = append(*matches, mr)
			if atomic.AddInt32(count, int32(len(mr.Contexts))) >= int32(maxMatches) {
				atomic.CompareAndSwapInt32(reason, int32(ExitNone), int32(ExitMatchLimit))
			}
		}
		stop := atomic.LoadInt32(count) >= int32(maxMatches)
		mu.Unlock()
		return !stop
	})
}

// chunkMayContainTree is the per-chunk tree short-circuit (spec 4.4.4,
// SPEC_FULL D.4): skip a chunk entirely if none of its contributing
// trees are in the query's precomputed live-tree bitmap.
func chunkMayContainTree(c *Chunk, live *roaring.Bitmap) bool {
	if c.treeBits.IsEmpty() {
		return true
	}
	return c.treeBits.Intersects(live)
}

// liveTreeBitmap evaluates treeRE against every known tree's repo name
// once per query, instead of once per chunk, and returns the ids of
// the trees that pass -- the roaring bitmap this produces is cheap to
// intersect against each chunk's treeBits (spec 9's selectivity note
// generalized from a single tree_names map to many trees).
func liveTreeBitmap(store *ChunkStore, treeRE *regexp.Regexp) *roaring.Bitmap {
	bm := roaring.New()
	for i, t := range store.files.trees {
		name := "?"
		if int(t.Repo) < len(store.files.repos) {
			name = store.files.repos[t.Repo].Name
		}
		if treeRE.MatchString(name) {
			bm.Add(uint32(i))
		}
	}
	return bm
}

// fileScoreOf returns the best (highest) static score among the files
// a MatchResult resolved to, used purely as a delivery sort key (spec
// 9's Open Question resolution): it never affects which results
// survive the max_matches cap, only their order once collected.
func fileScoreOf(store *ChunkStore, m *MatchResult) int32 {
	var best int32
	for _, ctx := range m.Contexts {
		for _, fid := range ctx.Files {
			if int(fid) < len(store.files.files) {
				if s := store.files.files[fid].Score; s > best {
					best = s
				}
			}
		}
	}
	return best
}

// compileQuery parses q.Line into a regex AST, builds the grafana/regexp
// matcher and, separately, the IndexKey the planner derives from the
// same AST (spec 4.3), and compiles the file/tree predicates. Returns
// ErrInvalidQuery wrapped with detail on a parse failure or an
// over-large compiled program (spec 7).
func compileQuery(q *Query) (*compiledQuery, error) {
	if q.Line == "" {
		return nil, fmt.Errorf("%w: empty line pattern", ErrInvalidQuery)
	}

	foldCase := q.FoldCase
	if !foldCase && !containsUpperASCII(q.Line) {
		foldCase = true
	}

	pattern := q.Line
	parseFlags := syntax.Perl
	if foldCase {
		parseFlags |= syntax.FoldCase
	}
	ast, err := syntax.Parse(pattern, parseFlags)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuery, err)
	}
	simplified := ast.Simplify()

	prog, err := syntax.Compile(simplified)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuery, err)
	}
	if len(prog.Inst) > kMaxProgramSize {
		return nil, fmt.Errorf("%w: compiled program too large (%d instructions)", ErrInvalidQuery, len(prog.Inst))
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuery, err)
	}
	if foldCase {
		re, err = regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidQuery, err)
		}
	}

	cq := &compiledQuery{q: q, re: re, key: PlanQuery(simplified)}

	compileAux := func(pat string) (*regexp.Regexp, error) {
		if pat == "" {
			return nil, nil
		}
		return regexp.Compile(pat)
	}
	if cq.file, err = compileAux(q.File); err != nil {
		return nil, fmt.Errorf("%w: file pattern: %s", ErrInvalidQuery, err)
	}
	if cq.tree, err = compileAux(q.Tree); err != nil {
		return nil, fmt.Errorf("%w: tree pattern: %s", ErrInvalidQuery, err)
	}
	if cq.tags, err = compileAux(q.Tags); err != nil {
		return nil, fmt.Errorf("%w: tags pattern: %s", ErrInvalidQuery, err)
	}
	if cq.notFile, err = compileAux(q.NotFile); err != nil {
		return nil, fmt.Errorf("%w: not_file pattern: %s", ErrInvalidQuery, err)
	}
	if cq.notTree, err = compileAux(q.NotTree); err != nil {
		return nil, fmt.Errorf("%w: not_tree pattern: %s", ErrInvalidQuery, err)
	}
	if cq.notTags, err = compileAux(q.NotTags); err != nil {
		return nil, fmt.Errorf("%w: not_tags pattern: %s", ErrInvalidQuery, err)
	}
	return cq, nil
}

func containsUpperASCII(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return r >= 'A' && r <= 'Z' }) >= 0
}
