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
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ChunkStore owns every Chunk's content bytes, suffix array, and
// chunk-file index. It is the "base-class chunk_allocator" of spec 9,
// re-architected as a single struct specialized by an allocMode rather
// than by subclassing: allocInMemory for stores built by NewChunkStore,
// allocMmapRO for stores loaded read-only by LoadIndex (read.go).
// allocMmapRW is declared, but nothing in this package produces a store
// in that mode; WriteIndex (write.go) serializes an in-memory store.
type ChunkStore struct {
	mode allocMode

	chunkCap uint32

	chunks []*Chunk

	files fileTable

	// threads bounds the finalize() suffix-array worker pool.
	threads int

	// baseAddrs supports chunkFromPointer's predecessor search: for
	// each chunk, the address of data[0] at the time finalize() ran.
	// Only meaningful once chunks are frozen (mmap'd or otherwise
	// stable), matching the teacher's read-only IndexFile contract.
	baseAddrs []uintptr

	// closer releases the memory mapping backing a store returned by
	// LoadIndex (read.go). nil for a store built in-process by
	// build.Indexer.
	closer *mmapedIndexFile
}

type allocMode int

const (
	allocInMemory allocMode = iota
	allocMmapRW
	allocMmapRO
)

// NewChunkStore creates a ChunkStore for offline index building, backed
// by plain heap buffers (allocInMemory).
func NewChunkStore(chunkSize uint32, threads int) *ChunkStore {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if threads <= 0 {
		threads = 4
	}
	return &ChunkStore{
		mode:     allocInMemory,
		chunkCap: chunkSize,
		threads:  threads,
	}
}

// chunk returns the chunk with the given id. It panics on an
// out-of-range id, which indicates a corrupt index or a planner/search
// bug -- never a condition callers are expected to recover from.
func (s *ChunkStore) chunk(id ChunkID) *Chunk {
	return s.chunks[id]
}

// Chunks returns every content chunk, in id order. Only valid after
// Finalize.
func (s *ChunkStore) Chunks() []*Chunk { return s.chunks }

// currentChunk returns the chunk new line bytes should land in,
// allocating a fresh one if the current chunk cannot fit n more bytes
// or there is no current chunk yet.
func (s *ChunkStore) currentChunk(n int) (*Chunk, error) {
	if uint32(n) > s.chunkCap {
		return nil, fmt.Errorf("%w: line of %d bytes exceeds chunk capacity %d", ErrResourceExhausted, n, s.chunkCap)
	}
	if len(s.chunks) == 0 || s.chunks[len(s.chunks)-1].remaining() < n {
		s.chunks = append(s.chunks, newChunk(ChunkID(len(s.chunks)), s.chunkCap))
	}
	return s.chunks[len(s.chunks)-1], nil
}

// allocLine reserves n bytes for one deduplicated line and returns
// where they landed.
func (s *ChunkStore) allocLine(n int) (ChunkID, uint32) {
	c, err := s.currentChunk(n)
	if err != nil {
		// lineDeduper is only ever asked to dedup lines no longer
		// than the indexer's line limit, which NewIndexer caps at
		// chunkCap, so this is an invariant violation, not a
		// user-facing error.
		panic(err)
	}
	off := c.size
	c.alloc(n)
	return c.id, off
}

// Finalize builds every chunk's suffix array and chunk-file index.
// Suffix-array construction for distinct chunks is independent, so it
// runs across a worker pool of size threads via errgroup, the same
// fan-out idiom shards/shards.go uses to parallelize per-shard work;
// finalize here plays the role of spec 4.1's "chunks pushed to a
// closed bounded channel as they fill" -- errgroup.Go already bounds
// concurrency without a hand-rolled channel-of-work, so that is the
// Go-idiomatic rendering of the same fan-out.
func (s *ChunkStore) Finalize() error {
	ctx := context.Background()
	throttle := semaphore.NewWeighted(int64(s.threads))
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range s.chunks {
		c := c
		if err := throttle.Acquire(ctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer throttle.Release(1)
			buildStart := time.Now()
			c.finishFile()
			c.finalize()
			metricSuffixArrayBuildDuration.Observe(time.Since(buildStart).Seconds())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.baseAddrs = make([]uintptr, len(s.chunks))
	for i, c := range s.chunks {
		if len(c.data) > 0 {
			s.baseAddrs[i] = addrOf(c.data)
		}
	}
	return nil
}

// chunkFromPointer identifies the chunk owning a byte pointer into some
// chunk's data, via predecessor search over base addresses captured at
// Finalize time (spec 4.1). Returns false if p does not fall in any
// known chunk.
func (s *ChunkStore) chunkFromPointer(p uintptr) (ChunkID, bool) {
	i := sort.Search(len(s.baseAddrs), func(i int) bool { return s.baseAddrs[i] > p })
	if i == 0 {
		return 0, false
	}
	idx := i - 1
	c := s.chunks[idx]
	base := s.baseAddrs[idx]
	if p >= base && p < base+uintptr(len(c.data)) {
		return ChunkID(idx), true
	}
	return 0, false
}
