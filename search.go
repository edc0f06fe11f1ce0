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
	"sort"

	"github.com/grafana/regexp"
)

// kMinFilterRatio bounds filtered-search candidate volume: once the
// accumulated candidate count would exceed chunk.size / kMinFilterRatio,
// filtering is abandoned for a full scan (spec 4.4.1).
const kMinFilterRatio = 50

// kMinSkip is the byte distance within which two candidate positions
// are folded into the same line range rather than closing it (spec
// 4.4.2).
const kMinSkip = 250

// kMaxScan bounds a single full_search call's scan window.
const kMaxScan = 1 << 20

// lineRange is a candidate byte span, widened to cover whole lines,
// that full_search should scan for matches.
type lineRange struct {
	min, max uint32
}

// saFrame is a stack frame of the suffix-array descent: the sub-range
// of the suffix array still consistent with key at the given depth.
type saFrame struct {
	lo, hi int
	key    *IndexKey
	depth  uint32
}

// searchChunk runs a query's regex against one chunk, using key (which
// may be nil, meaning "full scan only") to prune the suffix array
// before falling back to a full regex scan. emit is called once per
// match found within the chunk; it returns false to request an early
// stop (match limit or deadline already hit).
func searchChunk(c *Chunk, key *IndexKey, re *regexp.Regexp, emit func(matchStart, matchEnd uint32) bool) {
	if key == nil {
		metricChunkSearchTotal.WithLabelValues("full").Inc()
		fullSearch(c, 0, c.Size(), re, emit)
		return
	}

	candidates, ok := filteredCandidates(c, key)
	if !ok {
		metricChunkSearchTotal.WithLabelValues("full").Inc()
		fullSearch(c, 0, c.Size(), re, emit)
		return
	}
	metricChunkSearchTotal.WithLabelValues("filtered").Inc()

	for _, r := range widenToLineRanges(c, candidates) {
		if !fullSearch(c, r.min, r.max, re, emit) {
			return
		}
	}
}

// filteredCandidates descends the suffix array by key, returning every
// candidate byte offset the key admits, or ok=false if the candidate
// set grew past the bail-out ratio (spec 4.4.1).
func filteredCandidates(c *Chunk, key *IndexKey) ([]uint32, bool) {
	limit := int(c.Size()) / kMinFilterRatio
	if limit < 1 {
		limit = 1
	}

	var candidates []uint32
	stack := []saFrame{{lo: 0, hi: len(c.suffixes), key: key, depth: 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.key == nil || f.key.IsLeaf() || f.hi-f.lo <= 100 {
			if len(candidates)+(f.hi-f.lo) > limit {
				return nil, false
			}
			candidates = append(candidates, c.suffixes[f.lo:f.hi]...)
			continue
		}

		for _, e := range f.key.Edges() {
			if e.Lo == e.Hi || e.Child == nil {
				// A single byte value, or a leaf range with no further
				// descent: one contiguous block at this depth suffices.
				subLo := saLowerBound(c.data, c.suffixes, f.lo, f.hi, f.depth, byteRank(e.Lo))
				subHi := saUpperBound(c.data, c.suffixes, f.lo, f.hi, f.depth, byteRank(e.Hi))
				if subLo >= subHi {
					continue
				}
				stack = append(stack, saFrame{lo: subLo, hi: subHi, key: e.Child, depth: f.depth + 1})
				continue
			}

			// A multi-byte range with a child must descend one byte
			// value at a time: sa[f.lo:f.hi] is sorted primarily by the
			// byte at f.depth, so the combined [Lo,Hi] block is only
			// contiguous at this depth -- it is not globally sorted by
			// depth+1 across distinct depth-byte values, which a single
			// lower/upper-bound pair at depth+1 would wrongly assume
			// (spec 4.4.1: subdivide for each byte value in [lo,hi]).
			for v := int(e.Lo); v <= int(e.Hi); v++ {
				rank := byteRank(byte(v))
				subLo := saLowerBound(c.data, c.suffixes, f.lo, f.hi, f.depth, rank)
				subHi := saUpperBound(c.data, c.suffixes, f.lo, f.hi, f.depth, rank)
				if subLo >= subHi {
					continue
				}
				stack = append(stack, saFrame{lo: subLo, hi: subHi, key: e.Child, depth: f.depth + 1})
			}
		}
	}
	return candidates, true
}

// widenToLineRanges sorts candidates, widens each to its
// containing line, and merges positions within kMinSkip bytes into a
// single range (spec 4.4.2). It uses sort.Slice rather than a literal
// LSD radix sort: both give the same O(n log n)-or-better ascending
// order the widening pass needs, and the pack has no radix-sort
// library to ground a hand-rolled one on (see DESIGN.md).
func widenToLineRanges(c *Chunk, candidates []uint32) []lineRange {
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	var ranges []lineRange
	cur := lineRange{min: lineStart(c.Bytes(), candidates[0]), max: lineEnd(c.Bytes(), candidates[0])}
	for _, p := range candidates[1:] {
		switch {
		case p >= cur.min && p <= cur.max:
			// already covered
		case p <= cur.max+kMinSkip:
			if e := lineEnd(c.Bytes(), p); e > cur.max {
				cur.max = e
			}
		default:
			ranges = append(ranges, cur)
			cur = lineRange{min: lineStart(c.Bytes(), p), max: lineEnd(c.Bytes(), p)}
		}
	}
	ranges = append(ranges, cur)
	return ranges
}

// lineStart returns the offset of the first byte of the line
// containing p (the byte after the preceding '\n', or 0).
func lineStart(data []byte, p uint32) uint32 {
	for p > 0 && data[p-1] != '\n' {
		p--
	}
	return p
}

// lineEnd returns the offset one past the line's terminating '\n'
// (or len(data) if the chunk ends without one, which should not
// happen for a well-formed chunk but is handled defensively).
func lineEnd(data []byte, p uint32) uint32 {
	n := uint32(len(data))
	for p < n && data[p] != '\n' {
		p++
	}
	if p < n {
		p++
	}
	return p
}

// fullSearch runs re in unanchored mode over data[lo:hi], in
// sub-windows no larger than kMaxScan, handing each match to emit and
// resuming the scan just after the matched line. Returns false if emit
// requested an early stop.
func fullSearch(c *Chunk, lo, hi uint32, re *regexp.Regexp, emit func(matchStart, matchEnd uint32) bool) bool {
	for lo < hi {
		window := hi
		if window-lo > kMaxScan {
			window = lo + kMaxScan
		}
		data := c.Bytes()[lo:window]
		loc := re.FindIndex(data)
		if loc == nil {
			lo = window
			continue
		}
		start := lo + uint32(loc[0])
		end := lo + uint32(loc[1])
		if !emit(start, end) {
			return false
		}
		lo = lineEnd(c.Bytes(), end)
	}
	return true
}
