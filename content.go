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

// Piece is one contiguous slice of a Chunk's data contributing to a
// file's reconstructed byte sequence.
type Piece struct {
	Chunk  ChunkID
	Offset uint32
	Len    uint32
}

// ContentMap is the ordered list of Pieces that, concatenated, recreate
// a file's original bytes (save for lines dropped for exceeding
// lineLimit, an explicit, documented lossy trade-off). Immutable once
// built.
type ContentMap struct {
	pieces []Piece
}

// Pieces returns the content map's pieces in file order.
func (m *ContentMap) Pieces() []Piece { return m.pieces }

// contentBuilder accumulates Pieces for one file as its lines are
// attributed to chunk byte ranges, coalescing a new piece into the
// previous one when they are byte-contiguous within the same chunk.
type contentBuilder struct {
	pieces []Piece
}

// add appends a piece [chunk, off, off+n), extending the last piece in
// place if it is an exact continuation.
func (b *contentBuilder) add(chunk ChunkID, off, n uint32) {
	if k := len(b.pieces); k > 0 {
		last := &b.pieces[k-1]
		if last.Chunk == chunk && last.Offset+last.Len == off {
			last.Len += n
			return
		}
	}
	b.pieces = append(b.pieces, Piece{Chunk: chunk, Offset: off, Len: n})
}

// build finalizes the content map. The builder must not be reused
// afterward.
func (b *contentBuilder) build() *ContentMap {
	return &ContentMap{pieces: b.pieces}
}

// lineAtPiece returns the 0-based line index, within the file, of the
// byte at offset pieceOff inside pieces[pieceIdx], by counting '\n'
// bytes in every earlier piece and in pieces[pieceIdx] before pieceOff.
// ok is false if pieceIdx or pieceOff lies past the end. The match
// resolver uses it to compute line numbers (spec 4.5.3); context
// gathering goes through contentMapLines instead.
//
// store is required to resolve ChunkID -> Chunk bytes.
func lineAtPiece(store *ChunkStore, pieces []Piece, pieceIdx int, pieceOff uint32) (lno uint32, ok bool) {
	lno = 0
	for i := 0; i < pieceIdx; i++ {
		p := pieces[i]
		data := store.chunk(p.Chunk).Slice(p.Offset, p.Len)
		for _, b := range data {
			if b == '\n' {
				lno++
			}
		}
	}
	if pieceIdx >= len(pieces) {
		return 0, false
	}
	p := pieces[pieceIdx]
	data := store.chunk(p.Chunk).Slice(p.Offset, p.Len)
	if pieceOff > uint32(len(data)) {
		return 0, false
	}
	for _, b := range data[:pieceOff] {
		if b == '\n' {
			lno++
		}
	}
	return lno, true
}
