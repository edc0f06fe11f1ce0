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

// LineDeduper is the exported face of lineDeduper, for build.Indexer.
type LineDeduper struct{ d *lineDeduper }

// NewLineDeduper returns a LineDeduper backed by store.
func NewLineDeduper(store *ChunkStore) *LineDeduper {
	return &LineDeduper{d: newLineDeduper(store)}
}

// Dedup returns the (chunk, offset) backing line, allocating it on
// first sight.
func (l *LineDeduper) Dedup(line []byte) (ChunkID, uint32) {
	ref := l.d.dedup(line)
	return ref.chunk, ref.off
}

// ContentBuilder is the exported face of contentBuilder.
type ContentBuilder struct{ b contentBuilder }

// NewContentBuilder returns an empty ContentBuilder.
func NewContentBuilder() *ContentBuilder { return &ContentBuilder{} }

// Add appends a piece to the content map under construction.
func (c *ContentBuilder) Add(chunk ChunkID, off, n uint32) { c.b.add(chunk, off, n) }

// Build finalizes the content map.
func (c *ContentBuilder) Build() *ContentMap { return c.b.build() }

// AddChunkFile attributes byte range [l,r] of chunk id to file f in
// tree, and records tree's membership in the chunk's tree bitmap.
func (s *ChunkStore) AddChunkFile(id ChunkID, f FileID, tree TreeRef, l, r uint32) {
	s.chunk(id).addChunkFile(f, tree, l, r)
}

// FinishChunks flushes the pending chunkFile records for every chunk
// in ids into each chunk's permanent files list. Call once per file,
// after every line of that file has been attributed via AddChunkFile,
// naming every chunk the file's lines landed in.
func (s *ChunkStore) FinishChunks(ids []ChunkID) {
	seen := map[ChunkID]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		s.chunk(id).finishFile()
	}
}

// ReconstructFile rebuilds a file's bytes purely from its ContentMap,
// the diagnostic codesearchtool's dump-file subcommand exercises to
// check the store's round-trip property: every byte a file contributed
// at index-build time is still reachable through the deduplicated
// chunk store. Lines dropped at build time for exceeding the indexer's
// line limit are not present in the result.
func (s *ChunkStore) ReconstructFile(repoName, path string) ([]byte, bool) {
	for _, f := range s.files.files {
		if f.Path != path {
			continue
		}
		if int(f.Tree) >= len(s.files.trees) {
			continue
		}
		repo := s.files.trees[f.Tree].Repo
		if int(repo) >= len(s.files.repos) || s.files.repos[repo].Name != repoName {
			continue
		}
		if f.Content == nil {
			return nil, true
		}
		var out []byte
		for _, p := range f.Content.Pieces() {
			out = append(out, s.chunk(p.Chunk).Slice(p.Offset, p.Len)...)
		}
		return out, true
	}
	return nil, false
}
