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

import "sort"

// kMaxWidth bounds the number of ranges folded into one alternation
// before the planner gives up and returns an unindexable Any() key.
const kMaxWidth = 32

// kMaxNodes bounds the size of a concatenated IndexKey before Concat
// stops extending it.
const kMaxNodes = 1 << 24

// kMinWeight is the minimum 1/selectivity an IndexKey must reach to be
// worth using; below it, a full scan is cheaper than filtering.
const kMinWeight = 16

// AnchorFlags record which ends of an IndexKey are pinned to the
// originating regex rather than free to extend.
type AnchorFlags uint8

const (
	// AnchorLeft means the key must start where the regex match
	// starts; it was not absorbed into a longer key on the left.
	AnchorLeft AnchorFlags = 1 << iota
	// AnchorRight is the symmetric flag on the right.
	AnchorRight
	// AnchorRepeat marks a key produced by '+' or '{n,}', which
	// Concat may graft additional repetitions onto.
	AnchorRepeat
)

func (a AnchorFlags) has(f AnchorFlags) bool { return a&f != 0 }

// edge is one byte-range transition out of an IndexKey node: "any byte
// in [Lo,Hi] followed by whatever matches Child". Child == nil marks a
// leaf (the key terminates here).
type edge struct {
	Lo, Hi byte
	Child  *IndexKey
}

// Stats are the selectivity bookkeeping carried by every IndexKey,
// recomputed on every structural edit (spec 3, never mutated out of
// band).
type Stats struct {
	// Selectivity estimates the fraction of a random-printable-ASCII
	// corpus this key admits; lower is more selective.
	Selectivity float64
	// Depth is the number of edges from the root to the deepest leaf.
	Depth int32
	// Nodes is the total edge count in the key.
	Nodes int64
	// TailPaths is the number of distinct root-to-leaf paths, i.e. the
	// number of "tails" Concat would graft a following key onto.
	TailPaths int64
}

// Weight is 1/Selectivity, clamped so a key with zero (or negative)
// selectivity does not divide by zero. The edge-free empty and any keys
// carry selectivity 1, so their weight is 1.
func (s Stats) Weight() float64 {
	if s.Selectivity <= 0 {
		return 1e18
	}
	return 1 / s.Selectivity
}

// IndexKey is a trie of byte-range edges derived from a regex (spec 3).
// Leaf-to-root paths name the smallest-selectivity set of byte ranges
// any match of the regex must traverse.
type IndexKey struct {
	edges  []edge
	anchor AnchorFlags
	stats  Stats
}

// Anchor reports the key's anchor flags.
func (k *IndexKey) Anchor() AnchorFlags { return k.anchor }

// Stats reports the key's selectivity bookkeeping.
func (k *IndexKey) Stats() Stats { return k.stats }

// Edges exposes the key's outgoing edges in sorted, disjoint byte
// order, for the filtered searcher's suffix-array descent.
func (k *IndexKey) Edges() []edge { return k.edges }

// IsLeaf reports whether this node terminates a key path (no outgoing
// edges).
func (k *IndexKey) IsLeaf() bool { return len(k.edges) == 0 }

// emptyKey is the anchored-both, edge-free key matched by NoMatch,
// Empty, anchors, and word-boundary nodes: it constrains nothing but a
// single point in the string, so it is concat-neutral.
func emptyKey() *IndexKey {
	return &IndexKey{anchor: AnchorLeft | AnchorRight, stats: Stats{Selectivity: 1, TailPaths: 1}}
}

// anyKey is the unconstrained key (AnyChar, '*', '?', wide classes):
// no edges, no anchors, absorbs into a concat as an unanchoring break.
func anyKey() *IndexKey {
	return &IndexKey{stats: Stats{Selectivity: 1, TailPaths: 1}}
}

// byteRangeKey returns a single-edge key for the inclusive byte range
// [lo,hi], anchored both ways, with one child (or none, for a leaf).
func byteRangeKey(lo, hi byte, child *IndexKey) *IndexKey {
	k := &IndexKey{anchor: AnchorLeft | AnchorRight}
	k.edges = []edge{{Lo: lo, Hi: hi, Child: child}}
	k.recomputeStats()
	return k
}

// literalByteChain builds a left-to-right chain of single-byte edges,
// anchored both ways, terminating in a leaf.
func literalByteChain(bs []byte) *IndexKey {
	var tail *IndexKey
	for i := len(bs) - 1; i >= 0; i-- {
		tail = byteRangeKey(bs[i], bs[i], tail)
	}
	if tail == nil {
		return emptyKey()
	}
	return tail
}

// recomputeStats derives k.stats from k.edges and their children,
// per spec 3: each edge contributes (hi-lo+1)/100 * child.selectivity
// (random printable ASCII corpus model); nodes/tailPaths/depth
// aggregate over edges.
func (k *IndexKey) recomputeStats() {
	if len(k.edges) == 0 {
		k.stats = Stats{Selectivity: 1, TailPaths: 1}
		return
	}
	var sel float64
	var nodes int64
	var tails int64
	var depth int32
	for _, e := range k.edges {
		width := float64(int(e.Hi)-int(e.Lo)) + 1
		childSel := 1.0
		childNodes := int64(0)
		childTails := int64(1)
		childDepth := int32(0)
		if e.Child != nil {
			childSel = e.Child.stats.Selectivity
			childNodes = e.Child.stats.Nodes
			childTails = e.Child.stats.TailPaths
			childDepth = e.Child.stats.Depth
		}
		sel += (width / 100) * childSel
		nodes += 1 + childNodes
		tails += childTails
		if childDepth+1 > depth {
			depth = childDepth + 1
		}
	}
	k.stats = Stats{Selectivity: sel, Nodes: nodes, TailPaths: tails, Depth: depth}
}

// checkRep asserts the invariant that edges are disjoint and sorted by
// Lo, recursively. Used by tests and by assertion-heavy build modes; a
// violation indicates a planner bug, not a runtime condition.
func (k *IndexKey) checkRep() bool {
	for i := 1; i < len(k.edges); i++ {
		if k.edges[i].Lo <= k.edges[i-1].Hi {
			return false
		}
	}
	for _, e := range k.edges {
		if e.Child != nil && !e.Child.checkRep() {
			return false
		}
	}
	return true
}

// collectTails returns every leaf IndexKey reachable from k (nodes
// with no outgoing edges), used by Concat to graft a following key
// onto every tail of the preceding one.
func collectTails(k *IndexKey) []*IndexKey {
	if k.IsLeaf() {
		return []*IndexKey{k}
	}
	var out []*IndexKey
	for _, e := range k.edges {
		if e.Child != nil {
			out = append(out, collectTails(e.Child)...)
		}
	}
	return out
}

// concatTwo grafts rhs onto every tail of lhs (a copy of lhs, so lhs
// is left untouched) and recomputes stats bottom-up. Anchoring of the
// result is AnchorLeft from lhs, AnchorRight from rhs; AnchorRepeat is
// dropped (a concatenated key is no longer itself a bare repeat).
func concatTwo(lhs, rhs *IndexKey) *IndexKey {
	if lhs.IsLeaf() {
		// Grafting directly replaces the combinator: lhs contributes no
		// edges of its own (it's Empty()), so the result is just rhs
		// re-anchored on the left by lhs.
		out := cloneKey(rhs)
		if lhs.anchor.has(AnchorLeft) {
			out.anchor |= AnchorLeft
		} else {
			out.anchor &^= AnchorLeft
		}
		return out
	}

	out := cloneKey(lhs)
	grafted := 0
	var graft func(k *IndexKey)
	graft = func(k *IndexKey) {
		for i := range k.edges {
			if k.edges[i].Child == nil {
				k.edges[i].Child = cloneKey(rhs)
				grafted++
			} else {
				graft(k.edges[i].Child)
			}
		}
	}
	graft(out)

	out.anchor = lhs.anchor &^ AnchorRight &^ AnchorRepeat
	if rhs.anchor.has(AnchorRight) {
		out.anchor |= AnchorRight
	}
	recomputeStatsBottomUp(out)
	return out
}

func cloneKey(k *IndexKey) *IndexKey {
	c := &IndexKey{anchor: k.anchor, stats: k.stats}
	if len(k.edges) > 0 {
		c.edges = make([]edge, len(k.edges))
		for i, e := range k.edges {
			c.edges[i] = e
			if e.Child != nil {
				c.edges[i].Child = cloneKey(e.Child)
			}
		}
	}
	return c
}

func recomputeStatsBottomUp(k *IndexKey) {
	for _, e := range k.edges {
		if e.Child != nil {
			recomputeStatsBottomUp(e.Child)
		}
	}
	k.recomputeStats()
}

// alternateTwo folds lhs and rhs into the union of their tries: edges
// covering disjoint byte ranges are merged as-is; overlapping ranges
// are split at intersection boundaries and recursively alternated. If
// the merged width exceeds kMaxWidth or recursion runs past 10 levels,
// it returns Any().
func alternateTwo(lhs, rhs *IndexKey, depth int) *IndexKey {
	if depth > 10 {
		return anyKey()
	}
	if lhs.IsLeaf() || rhs.IsLeaf() {
		// A leaf in an alternation means "match ends here on this
		// branch"; once any branch can terminate, the combined key can
		// only assert a single shared prefix, which the two leaves
		// don't have a principled way to express unless they're both
		// leaves. Conservatively fall back to Any() rather than risk
		// excluding a true match (spec 4: never exclude a real match).
		if lhs.IsLeaf() && rhs.IsLeaf() {
			return emptyKey()
		}
		return anyKey()
	}

	bounds := splitBoundaries(lhs.edges, rhs.edges)
	if len(bounds) > kMaxWidth*2 {
		return anyKey()
	}

	out := &IndexKey{anchor: lhs.anchor & rhs.anchor}
	for i := 0; i+1 < len(bounds); i++ {
		lo, hi := bounds[i], bounds[i+1]-1
		if lo > hi {
			continue
		}
		lc, lok := childForRange(lhs.edges, lo, hi)
		rc, rok := childForRange(rhs.edges, lo, hi)
		switch {
		case !lok && !rok:
			continue
		case !lok:
			out.edges = append(out.edges, edge{Lo: lo, Hi: hi, Child: rc})
		case !rok:
			out.edges = append(out.edges, edge{Lo: lo, Hi: hi, Child: lc})
		default:
			if lc == nil || rc == nil {
				out.edges = append(out.edges, edge{Lo: lo, Hi: hi, Child: nil})
			} else {
				out.edges = append(out.edges, edge{Lo: lo, Hi: hi, Child: alternateTwo(lc, rc, depth+1)})
			}
		}
	}
	if len(out.edges) > kMaxWidth {
		return anyKey()
	}
	out.recomputeStats()
	return out
}

// splitBoundaries returns the sorted, deduplicated set of range
// start/end+1 boundaries across both edge sets, used to carve both
// tries into a common set of atomic byte ranges before merging.
func splitBoundaries(a, b []edge) []byte {
	set := map[int]bool{}
	for _, e := range a {
		set[int(e.Lo)] = true
		set[int(e.Hi)+1] = true
	}
	for _, e := range b {
		set[int(e.Lo)] = true
		set[int(e.Hi)+1] = true
	}
	ints := make([]int, 0, len(set))
	for v := range set {
		ints = append(ints, v)
	}
	sort.Ints(ints)
	out := make([]byte, 0, len(ints))
	for _, v := range ints {
		if v >= 0 && v < 256 {
			out = append(out, byte(v))
		}
	}
	return out
}

// childForRange returns the child of whichever edge in edges fully
// contains [lo,hi] and whether such an edge exists (edges are assumed
// disjoint and to fully contain or fully exclude any boundary-aligned
// range).
func childForRange(edges []edge, lo, hi byte) (*IndexKey, bool) {
	for _, e := range edges {
		if e.Lo <= lo && hi <= e.Hi {
			return e.Child, true
		}
	}
	return nil, false
}
