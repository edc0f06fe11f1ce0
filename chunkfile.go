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

// cfNode is a node of the augmented interval BST built once over a
// chunk's finalized files slice. Since files is sorted and immutable by
// the time cfRoot is built, the tree is built bottom-up from the
// sorted slice (balanced by construction, never rebalanced) rather than
// grown by repeated insertion -- there is no pack-provided interval
// tree to ground this on (see DESIGN.md), so this follows the
// textbook "build from sorted array" approach augmented per spec 3
// (cf_root).
type cfNode struct {
	rec        *chunkFile
	left       *cfNode
	right      *cfNode
	rightLimit uint32
}

// buildCFTree builds a balanced BST, keyed by left, over recs (which
// must already be sorted by left and non-overlapping), augmented with
// rightLimit = max right endpoint in the subtree.
func buildCFTree(recs []chunkFile) *cfNode {
	if len(recs) == 0 {
		return nil
	}
	mid := len(recs) / 2
	n := &cfNode{rec: &recs[mid]}
	n.left = buildCFTree(recs[:mid])
	n.right = buildCFTree(recs[mid+1:])

	n.rightLimit = n.rec.right
	if n.left != nil && n.left.rightLimit > n.rightLimit {
		n.rightLimit = n.left.rightLimit
	}
	if n.right != nil && n.right.rightLimit > n.rightLimit {
		n.rightLimit = n.right.rightLimit
	}
	return n
}

// recordsContaining appends, in ascending `left` order, every record
// whose [left,right] contains p, to out, and returns the extended
// slice. The rightLimit augmentation lets it prune subtrees that can't
// possibly reach p.
func (n *cfNode) recordsContaining(p uint32, out []*chunkFile) []*chunkFile {
	if n == nil || n.rightLimit < p {
		return out
	}
	if n.left != nil {
		out = n.left.recordsContaining(p, out)
	}
	if n.rec.left <= p && p <= n.rec.right {
		out = append(out, n.rec)
	}
	if n.rec.left <= p && n.right != nil {
		out = n.right.recordsContaining(p, out)
	}
	return out
}

// finalizeFiles sorts pending by left, merges records with identical
// (left,right) by unioning their file sets, asserts non-overlap, and
// returns the finalized slice plus its BST root. Gap-based merging of
// adjacent records already happened per-file in add/finishFile; this
// pass only merges exact-range duplicates contributed by different
// files and rejects any residual overlap as a corrupt-build invariant
// violation.
func finalizeFiles(pending []chunkFile) ([]chunkFile, *cfNode) {
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].left != pending[j].left {
			return pending[i].left < pending[j].left
		}
		return pending[i].right < pending[j].right
	})

	merged := pending[:0:0]
	for _, rec := range pending {
		if n := len(merged); n > 0 && merged[n-1].left == rec.left && merged[n-1].right == rec.right {
			merged[n-1].files = unionFileIDs(merged[n-1].files, rec.files)
			continue
		}
		if n := len(merged); n > 0 && merged[n-1].right >= rec.left {
			panic("codesearch: overlapping chunkFile records at finalize")
		}
		merged = append(merged, rec)
	}
	return merged, buildCFTree(merged)
}

func unionFileIDs(a, b []FileID) []FileID {
	seen := make(map[FileID]bool, len(a)+len(b))
	out := make([]FileID, 0, len(a)+len(b))
	for _, ids := range [2][]FileID{a, b} {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// addChunkFile attributes byte range [l,r] of the chunk currently being
// built to file f. Line dedup means a file's lines do not necessarily
// arrive in increasing offset order (a later line can reuse an
// earlier, already-deduped, lower-offset range), so every pending
// record is a candidate: this scans all of curFile for the record
// with the smallest gap to [l,r] and, if that gap is < kMaxGap, merges
// into it via left=min(left,l), right=max(right,r) (spec 4.1);
// otherwise it opens a new pending record. A merge can close the gap
// to a third, unrelated record, so curFile is re-sorted and any
// resulting overlaps are coalesced after every call.
func (c *Chunk) addChunkFile(f FileID, tree TreeRef, l, r uint32) {
	c.treeBits.Add(uint32(tree))

	best := -1
	var bestGap int
	for i := range c.curFile {
		gap := rangeGap(c.curFile[i].left, c.curFile[i].right, l, r)
		if best == -1 || gap < bestGap {
			best, bestGap = i, gap
		}
	}

	if best >= 0 && bestGap < kMaxGap {
		rec := &c.curFile[best]
		if l < rec.left {
			rec.left = l
		}
		if r > rec.right {
			rec.right = r
		}
	} else {
		c.curFile = append(c.curFile, chunkFile{left: l, right: r, files: []FileID{f}})
	}

	sort.Slice(c.curFile, func(i, j int) bool { return c.curFile[i].left < c.curFile[j].left })
	c.curFile = coalesceOverlaps(c.curFile)
}

// rangeGap returns the gap in bytes between an existing [a,b] record
// and a candidate [l,r]: negative when the two ranges overlap,
// otherwise the count of bytes strictly between them.
func rangeGap(a, b, l, r uint32) int {
	switch {
	case r < a:
		return int(a) - int(r) - 1
	case l > b:
		return int(l) - int(b) - 1
	default:
		return -1
	}
}

// coalesceOverlaps merges adjacent records (recs sorted by left) whose
// ranges overlap after a gap-based expansion, unioning their file
// sets. Keeps curFile satisfying finishFile's non-overlap invariant
// even when a merge above reached into a neighboring record's range.
func coalesceOverlaps(recs []chunkFile) []chunkFile {
	out := recs[:0:0]
	for _, rec := range recs {
		if n := len(out); n > 0 && rec.left <= out[n-1].right {
			if rec.right > out[n-1].right {
				out[n-1].right = rec.right
			}
			out[n-1].files = unionFileIDs(out[n-1].files, rec.files)
			continue
		}
		out = append(out, rec)
	}
	return out
}

// finishFile flushes the pending records for the file currently being
// indexed into this chunk into the chunk's permanent files list. It
// must be called once, after the file's last line has been attributed,
// before finalize().
func (c *Chunk) finishFile() {
	if len(c.curFile) == 0 {
		return
	}
	for i := 1; i < len(c.curFile); i++ {
		if c.curFile[i].left <= c.curFile[i-1].right {
			panic("codesearch: chunkFile records for one file must not overlap")
		}
	}
	c.files = append(c.files, c.curFile...)
	c.curFile = nil
}

// finalize builds cfRoot from the accumulated files records. Must be
// called once finishFile has been called for every file touching this
// chunk.
func (c *Chunk) finalize() {
	c.files, c.cfRoot = finalizeFiles(c.files)
	c.suffixes = buildSuffixArray(c.Bytes())
}
