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
	"io"
)

// writer accumulates the index file's bytes in memory before a single
// final write -- offsets into a growing in-memory buffer are simpler
// to reason about than seeking a partial file.
type writer struct {
	buf []byte
}

type chunkHeaderRecord struct {
	DataOff  uint64
	FilesOff uint64
	Size     uint32
	NFiles   uint32
}

type fileRecord struct {
	Tree    TreeRef
	Path    string
	Hash    [20]byte
	Score   int32
	No      FileID
	Pieces  []Piece
}

// WriteIndex serializes store's finalized chunks plus the file/tree/
// repo metadata to out, in the section layout named by indexTOC (spec
// 6). store.Finalize must already have been called.
func WriteIndex(out io.Writer, store *ChunkStore) error {
	w := &writer{}
	var toc indexTOC

	meta := indexMeta{
		IndexFormatVersion: int32(indexVersion),
		ChunkSize:          store.chunkCap,
		NumChunks:          uint32(len(store.chunks)),
		NumRepos:           uint32(len(store.files.repos)),
		NumTrees:           uint32(len(store.files.trees)),
		NumFiles:           uint32(len(store.files.files)),
	}
	metaBlob, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	toc.meta.write(w, metaBlob)

	reposBlob, err := json.Marshal(store.files.repos)
	if err != nil {
		return err
	}
	toc.repos.write(w, reposBlob)

	treesBlob, err := json.Marshal(store.files.trees)
	if err != nil {
		return err
	}
	toc.trees.write(w, treesBlob)

	records := make([]fileRecord, len(store.files.files))
	for i, f := range store.files.files {
		records[i] = fileRecord{Tree: f.Tree, Path: f.Path, Hash: f.Hash, Score: f.Score, No: f.No}
		if f.Content != nil {
			records[i].Pieces = f.Content.pieces
		}
	}
	filesBlob, err := json.Marshal(records)
	if err != nil {
		return err
	}
	toc.files.write(w, filesBlob)

	var headers []chunkHeaderRecord
	var dataBlob, suffixBlob, filesRecBlob []byte
	for _, c := range store.chunks {
		hdr := chunkHeaderRecord{
			DataOff:  uint64(len(dataBlob)),
			FilesOff: uint64(len(filesRecBlob)),
			Size:     c.size,
			NFiles:   uint32(len(c.files)),
		}
		dataBlob = append(dataBlob, c.Bytes()...)
		for _, off := range c.suffixes {
			suffixBlob = binary.BigEndian.AppendUint32(suffixBlob, off)
		}
		for _, rec := range c.files {
			filesRecBlob = binary.BigEndian.AppendUint32(filesRecBlob, rec.left)
			filesRecBlob = binary.BigEndian.AppendUint32(filesRecBlob, rec.right)
			filesRecBlob = binary.BigEndian.AppendUint32(filesRecBlob, uint32(len(rec.files)))
			for _, fid := range rec.files {
				filesRecBlob = binary.BigEndian.AppendUint32(filesRecBlob, uint32(fid))
			}
		}
		headers = append(headers, hdr)
	}
	headerBlob, err := json.Marshal(headers)
	if err != nil {
		return err
	}
	toc.chunkHeaders.write(w, headerBlob)
	toc.chunkData.write(w, dataBlob)
	toc.chunkSuffixes.write(w, suffixBlob)
	toc.chunkFiles.write(w, filesRecBlob)

	// TOC table: count, then each section's {off,sz}, written as its
	// own section so it is covered by the same mmap-safe offset
	// arithmetic as everything else.
	secs := toc.sections()
	tocBytes := binary.BigEndian.AppendUint32(nil, uint32(len(secs)))
	for _, s := range secs {
		tocBytes = s.writeTo(tocBytes)
	}
	var tocSec simpleSection
	tocSec.write(w, tocBytes)

	// Footer: the TOC section's own {off,sz}, at a fixed location
	// (the last 8 bytes of the file) so loadFromData can find it without
	// a separate index.
	footer := tocSec.writeTo(nil)
	w.buf = append(w.buf, footer...)

	_, err = out.Write(w.buf)
	return err
}
