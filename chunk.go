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

import "github.com/RoaringBitmap/roaring"

// ChunkID identifies a Chunk within a ChunkStore: its index in the
// store's chunk slice, starting at 0.
type ChunkID uint32

// FileID is a dense handle for an IndexedFile, used everywhere the core
// refers to a file instead of copying tree/path strings around.
type FileID uint32

// kMaxGap is the maximum byte gap between two chunkFile records
// contributing the same file set before they are kept as separate
// records rather than merged.
const kMaxGap = 1024

// DefaultChunkSize is 2**27 bytes, the default capacity of a content
// chunk.
const DefaultChunkSize = 1 << 27

// Chunk is a fixed-capacity byte buffer holding concatenated,
// `\n`-terminated, deduplicated lines, plus the index structures built
// over it at finalize time. Once finalize() has run, a Chunk is
// immutable and safe for concurrent readers.
type Chunk struct {
	id ChunkID

	// data[0:size] is the used prefix of the chunk. Capacity is fixed
	// at construction.
	data []byte
	size uint32

	// suffixes is a permutation of 0..size-1, sorted by the suffix
	// starting at that offset under the "\n sorts first" order. Built
	// by finalize().
	suffixes []uint32

	// files is the sorted, non-overlapping list of chunkFile records
	// covering data[0:size]. Built by finalizeFiles().
	files []chunkFile

	// cfRoot is a balanced BST over files, keyed by left, augmented
	// with the max right endpoint in the subtree.
	cfRoot *cfNode

	// treeBits is the set of TreeRef ids contributing any byte to this
	// chunk, encoded as a roaring bitmap (spec 4.4.4's tree_names fast
	// path, generalized to the dense integer ids a large multi-repo
	// corpus accumulates rather than a map of strings). Driver.Search
	// intersects this against the query's live-tree bitmap before
	// bothering to search the chunk's bytes at all.
	treeBits *roaring.Bitmap

	// curFile accumulates pending chunkFile records for the file
	// currently being indexed into this chunk; flushed by
	// finishFile().
	curFile []chunkFile
}

func newChunk(id ChunkID, capacity uint32) *Chunk {
	return &Chunk{
		id:       id,
		data:     make([]byte, 0, capacity),
		treeBits: roaring.New(),
	}
}

// ID returns the chunk's identity within its store.
func (c *Chunk) ID() ChunkID { return c.id }

// Size returns the used prefix length of the chunk.
func (c *Chunk) Size() uint32 { return c.size }

// Bytes returns the used prefix of the chunk's data. The returned slice
// must not be mutated; it may alias an mmap'd region.
func (c *Chunk) Bytes() []byte { return c.data[:c.size] }

// Slice returns data[off:off+n], bounds-checked against size.
func (c *Chunk) Slice(off, n uint32) []byte {
	return c.data[off : off+n]
}

// remaining is the unused capacity left in the chunk.
func (c *Chunk) remaining() int { return cap(c.data) - int(c.size) }

// alloc reserves n contiguous bytes at the end of the chunk's used
// prefix and returns them for the caller to fill in. It never fails: the
// ChunkStore is responsible for only calling alloc on a chunk with
// enough remaining capacity.
func (c *Chunk) alloc(n int) []byte {
	start := len(c.data)
	c.data = c.data[:start+n]
	c.size = uint32(start + n)
	return c.data[start : start+n]
}

// chunkFile states that bytes [left, right] (inclusive) of a chunk are
// present, verbatim, in every file named in Files.
type chunkFile struct {
	left, right uint32
	files       []FileID
}

// gapTo returns the number of bytes strictly between the record's right
// end and left, or -1 if [left,right] does not start after the record.
// Nothing calls it; addChunkFile measures gaps with rangeGap
// (chunkfile.go).
func (f chunkFile) gapTo(left, right uint32) int {
	if left > f.right {
		return int(left) - int(f.right) - 1
	}
	return -1
}
