// Copyright 2017 Google Inc. All rights reserved.
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

import "encoding/binary"

// indexVersion identifies the on-disk format (spec 6): it is recorded
// in the meta section, and a mismatch is a fatal load error. indexMagic
// is not written to the file and is not checked on load.
const (
	indexMagic   uint32 = 0xc0d35eac
	indexVersion uint32 = 1
)

// simpleSection is a byte range within the index file, the same
// off/sz pair the teacher's read.go passes around as simpleSection;
// read/write here operate on our own reader/writer rather than
// zoekt's, since the base section types this module's teacher snapshot
// used live in a file the retrieval pack did not include (see
// DESIGN.md) -- the off/sz-pair-plus-trailing-pointer layout itself is
// still the teacher's idiom.
type simpleSection struct {
	off uint32
	sz  uint32
}

func (s *simpleSection) write(w *writer, data []byte) {
	s.off = uint32(len(w.buf))
	s.sz = uint32(len(data))
	w.buf = append(w.buf, data...)
}

func (s *simpleSection) writeTo(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, s.off)
	dst = binary.BigEndian.AppendUint32(dst, s.sz)
	return dst
}

func (s *simpleSection) readFrom(src []byte) []byte {
	s.off = binary.BigEndian.Uint32(src)
	s.sz = binary.BigEndian.Uint32(src[4:])
	return src[8:]
}

// indexTOC names every section of the on-disk format (spec 6). Repos,
// trees, files and chunk headers are each stored as one JSON array, the
// way the teacher's metaData/repoMetaData sections are JSON (read.go);
// chunk content, suffix arrays, and chunk-file records are raw
// big-endian binary sections. Chunk content is sliced straight out of
// the mapping; suffix arrays and chunk-file records are decoded into
// new slices at load time.
type indexTOC struct {
	meta          simpleSection
	repos         simpleSection
	trees         simpleSection
	files         simpleSection
	chunkHeaders  simpleSection
	chunkData     simpleSection
	chunkSuffixes simpleSection
	chunkFiles    simpleSection
}

func (t *indexTOC) sections() []*simpleSection {
	return []*simpleSection{
		&t.meta,
		&t.repos,
		&t.trees,
		&t.files,
		&t.chunkHeaders,
		&t.chunkData,
		&t.chunkSuffixes,
		&t.chunkFiles,
	}
}

// indexMeta is the header JSON blob: format version, chunk sizing, and
// a build timestamp (spec 6's header fields not already covered by a
// dedicated section).
type indexMeta struct {
	IndexFormatVersion int32
	ChunkSize          uint32
	NumChunks          uint32
	NumRepos           uint32
	NumTrees           uint32
	NumFiles           uint32
	BuildTimestamp     int64
}
