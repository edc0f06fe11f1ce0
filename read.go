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
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/RoaringBitmap/roaring"
)

// footerSize is the width of the trailing {off,sz} pointer every index
// file ends with (spec 6): readers locate the TOC by reading the last
// footerSize bytes, not by scanning from the front.
const footerSize = 8

// LoadIndex opens and mmaps the index file at path and returns a
// ChunkStore ready to serve queries (allocMmapRO). The returned store's
// byte slices alias the mapping; callers must call Close once the store
// is no longer needed.
func LoadIndex(path string) (*ChunkStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	mf, err := openMappedFile(f)
	if err != nil {
		return nil, err
	}
	store, err := loadFromData(mf.data)
	if err != nil {
		mf.Close()
		return nil, err
	}
	store.closer = mf
	return store, nil
}

// Close releases the memory mapping backing a store loaded by LoadIndex.
// It is a no-op for stores built in memory by build.Indexer.
func (s *ChunkStore) Close() {
	if s.closer != nil {
		s.closer.Close()
		s.closer = nil
	}
}

// DropCaches advises the kernel to evict this store's mapped pages from
// the page cache (spec 5 Memory), for a store being retired in favor of
// a freshly loaded index. No-op for a store never loaded from disk.
func (s *ChunkStore) DropCaches() {
	if s.closer != nil {
		s.closer.DropCaches()
	}
}

func loadFromData(data []byte) (*ChunkStore, error) {
	if len(data) < footerSize {
		return nil, fmt.Errorf("%w: file too short for footer", ErrMalformedIndex)
	}
	var tocSec simpleSection
	tocSec.readFrom(data[len(data)-footerSize:])
	tocBytes, err := sliceSection(data, tocSec)
	if err != nil {
		return nil, err
	}

	if len(tocBytes) < 4 {
		return nil, fmt.Errorf("%w: truncated TOC", ErrMalformedIndex)
	}
	n := binary.BigEndian.Uint32(tocBytes)
	rest := tocBytes[4:]
	var toc indexTOC
	secs := toc.sections()
	if int(n) != len(secs) {
		return nil, fmt.Errorf("%w: TOC has %d sections, want %d", ErrMalformedIndex, n, len(secs))
	}
	for _, s := range secs {
		if len(rest) < 8 {
			return nil, fmt.Errorf("%w: truncated TOC entry", ErrMalformedIndex)
		}
		rest = s.readFrom(rest)
	}

	metaBlob, err := sliceSection(data, toc.meta)
	if err != nil {
		return nil, err
	}
	var meta indexMeta
	if err := json.Unmarshal(metaBlob, &meta); err != nil {
		return nil, fmt.Errorf("%w: meta: %s", ErrMalformedIndex, err)
	}
	if meta.IndexFormatVersion != int32(indexVersion) {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrMalformedIndex, meta.IndexFormatVersion, indexVersion)
	}

	reposBlob, err := sliceSection(data, toc.repos)
	if err != nil {
		return nil, err
	}
	var repos []Repo
	if err := json.Unmarshal(reposBlob, &repos); err != nil {
		return nil, fmt.Errorf("%w: repos: %s", ErrMalformedIndex, err)
	}

	treesBlob, err := sliceSection(data, toc.trees)
	if err != nil {
		return nil, err
	}
	var trees []Tree
	if err := json.Unmarshal(treesBlob, &trees); err != nil {
		return nil, fmt.Errorf("%w: trees: %s", ErrMalformedIndex, err)
	}

	filesBlob, err := sliceSection(data, toc.files)
	if err != nil {
		return nil, err
	}
	var records []fileRecord
	if err := json.Unmarshal(filesBlob, &records); err != nil {
		return nil, fmt.Errorf("%w: files: %s", ErrMalformedIndex, err)
	}

	headersBlob, err := sliceSection(data, toc.chunkHeaders)
	if err != nil {
		return nil, err
	}
	var headers []chunkHeaderRecord
	if err := json.Unmarshal(headersBlob, &headers); err != nil {
		return nil, fmt.Errorf("%w: chunk headers: %s", ErrMalformedIndex, err)
	}

	chunkData, err := sliceSection(data, toc.chunkData)
	if err != nil {
		return nil, err
	}
	suffixBlob, err := sliceSection(data, toc.chunkSuffixes)
	if err != nil {
		return nil, err
	}
	filesRecBlob, err := sliceSection(data, toc.chunkFiles)
	if err != nil {
		return nil, err
	}

	store := &ChunkStore{
		mode:     allocMmapRO,
		chunkCap: meta.ChunkSize,
		threads:  4,
	}

	suffixCursor := uint64(0)
	filesCursor := uint32(0)
	for i, hdr := range headers {
		if hdr.DataOff+uint64(hdr.Size) > uint64(len(chunkData)) {
			return nil, fmt.Errorf("%w: chunk %d data out of range", ErrMalformedIndex, i)
		}
		c := &Chunk{
			id:       ChunkID(i),
			data:     chunkData[hdr.DataOff : hdr.DataOff+uint64(hdr.Size) : hdr.DataOff+uint64(hdr.Size)],
			size:     hdr.Size,
			treeBits: roaring.New(),
		}

		nSuffixes := uint64(hdr.Size)
		if suffixCursor+nSuffixes*4 > uint64(len(suffixBlob)) {
			return nil, fmt.Errorf("%w: chunk %d suffix array out of range", ErrMalformedIndex, i)
		}
		c.suffixes = make([]uint32, nSuffixes)
		for j := range c.suffixes {
			c.suffixes[j] = binary.BigEndian.Uint32(suffixBlob[suffixCursor+uint64(j)*4:])
		}
		suffixCursor += nSuffixes * 4

		c.files = make([]chunkFile, 0, hdr.NFiles)
		for j := uint32(0); j < hdr.NFiles; j++ {
			if filesCursor+12 > uint32(len(filesRecBlob)) {
				return nil, fmt.Errorf("%w: chunk %d file record out of range", ErrMalformedIndex, i)
			}
			left := binary.BigEndian.Uint32(filesRecBlob[filesCursor:])
			right := binary.BigEndian.Uint32(filesRecBlob[filesCursor+4:])
			nids := binary.BigEndian.Uint32(filesRecBlob[filesCursor+8:])
			filesCursor += 12
			ids := make([]FileID, nids)
			for k := range ids {
				if filesCursor+4 > uint32(len(filesRecBlob)) {
					return nil, fmt.Errorf("%w: chunk %d file id out of range", ErrMalformedIndex, i)
				}
				ids[k] = FileID(binary.BigEndian.Uint32(filesRecBlob[filesCursor:]))
				filesCursor += 4
			}
			c.files = append(c.files, chunkFile{left: left, right: right, files: ids})
		}
		c.files, c.cfRoot = finalizeFiles(c.files)

		store.chunks = append(store.chunks, c)
	}

	files := make([]IndexedFile, len(records))
	for i, r := range records {
		files[i] = IndexedFile{
			Tree:  r.Tree,
			Path:  r.Path,
			Hash:  r.Hash,
			Score: r.Score,
			No:    r.No,
		}
		if r.Pieces != nil {
			files[i].Content = &ContentMap{pieces: r.Pieces}
		}
	}
	store.files = fileTable{files: files, trees: trees, repos: repos}

	store.baseAddrs = make([]uintptr, len(store.chunks))
	for i, c := range store.chunks {
		if len(c.data) > 0 {
			store.baseAddrs[i] = addrOf(c.data)
		}
	}
	for _, c := range store.chunks {
		for _, rec := range c.files {
			for _, fid := range rec.files {
				if int(fid) < len(files) {
					c.treeBits.Add(uint32(files[fid].Tree))
				}
			}
		}
	}

	return store, nil
}

func sliceSection(data []byte, s simpleSection) ([]byte, error) {
	if uint64(s.off)+uint64(s.sz) > uint64(len(data)) {
		return nil, fmt.Errorf("%w: section [%d,%d) out of range (len %d)", ErrMalformedIndex, s.off, s.off+s.sz, len(data))
	}
	return data[s.off : s.off+s.sz], nil
}
