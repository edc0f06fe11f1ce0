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

import "crypto/sha1"

// lineRef locates one already-indexed, deduplicated line.
type lineRef struct {
	chunk  ChunkID
	off, n uint32
}

// lineDeduper collapses identical lines (including the terminating
// '\n') to a single backing byte range, keyed by the line's crypto/sha1
// digest (the same hash build/indexer.go's Add takes over whole-file
// content). A hash collision between distinct line bytes would silently
// corrupt the index, so a lookup compares the line against the bytes
// already stored in the chunk before reusing a range, not out of
// caution about sha1 specifically but because any fixed-width digest
// can in principle collide.
type lineDeduper struct {
	store  *ChunkStore
	bucket map[[20]byte][]dedupEntry
}

type dedupEntry struct {
	hash [20]byte
	ref  lineRef
}

func newLineDeduper(store *ChunkStore) *lineDeduper {
	return &lineDeduper{store: store, bucket: map[[20]byte][]dedupEntry{}}
}

// dedup returns the byte range backing line (which must include its
// trailing '\n'), copying it into the chunk store on first sight and
// reusing the existing range on a hit.
func (d *lineDeduper) dedup(line []byte) lineRef {
	h := sha1.Sum(line)
	for _, e := range d.bucket[h] {
		if d.sameBytes(e.ref, line) {
			return e.ref
		}
	}

	chunkID, off := d.store.allocLine(len(line))
	dst := d.store.chunk(chunkID).Slice(off, uint32(len(line)))
	copy(dst, line)

	ref := lineRef{chunk: chunkID, off: off, n: uint32(len(line))}
	d.bucket[h] = append(d.bucket[h], dedupEntry{hash: h, ref: ref})
	return ref
}

func (d *lineDeduper) sameBytes(ref lineRef, line []byte) bool {
	existing := d.store.chunk(ref.chunk).Slice(ref.off, ref.n)
	if len(existing) != len(line) {
		return false
	}
	for i := range existing {
		if existing[i] != line[i] {
			return false
		}
	}
	return true
}
