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

import "unicode/utf8"

// contextLines is the fixed number of lines of context gathered on
// each side of a match (spec 3).
const contextLines = 3

// LineRef is a zero-copy reference to one line's bytes, living inside
// a chunk.
type LineRef struct {
	Chunk    ChunkID
	Off, Len uint32
}

// MatchContext groups a matching line with its surrounding context and
// every (tree, path) the line is attributed to, once results that
// share identical context have been coalesced (spec 4.5.5).
type MatchContext struct {
	Files         []FileID
	LineNo        uint32
	ContextBefore []LineRef
	ContextAfter  []LineRef
}

// MatchResult is one emitted hit: the matching line plus its match
// byte offsets within that line, and every MatchContext it resolved
// to.
type MatchResult struct {
	Contexts   []MatchContext
	Line       LineRef
	MatchLeft  uint32
	MatchRight uint32
}

// resolveMatch maps a matching byte range inside a chunk's line back
// to the set of files that contain it, recovering each file's line
// number and gathering context (spec 4.5). It returns nil if the
// line's bytes are not valid UTF-8 (treated as binary-ish content and
// dropped per spec 4.5.1).
func resolveMatch(store *ChunkStore, c *Chunk, lineOff, lineLen, matchStart, matchEnd uint32, cq *compiledQuery) *MatchResult {
	line := c.Slice(lineOff, lineLen)
	if !utf8.Valid(line) {
		return nil
	}

	recs := c.cfRoot.recordsContaining(lineOff, nil)
	if len(recs) == 0 {
		return nil
	}

	type resolved struct {
		file   FileID
		lno    uint32
		before []LineRef
		after  []LineRef
	}
	var perFile []resolved

	for _, rec := range recs {
		for _, fid := range rec.files {
			cm, tree, ok := store.fileContentMap(fid)
			if !ok {
				continue
			}
			if !acceptsFile(cq, store, fid, tree) {
				continue
			}
			pieceIdx, pieceOff, ok := locatePieceForChunkOffset(store, cm, c.id, lineOff)
			if !ok {
				// The candidate file's chunk-file record covers this
				// range, but the file's own content map doesn't -- the
				// dedup'd line belongs to a different file's copy of
				// an identical byte sequence at an overlapping range.
				// Spec 4.5.3: skip.
				continue
			}
			lno, ok := lineAtPiece(store, cm.pieces, pieceIdx, pieceOff)
			if !ok {
				continue
			}
			absOff := cm.pieces[pieceIdx].Offset + pieceOff
			before := gatherContext(store, cm.pieces, pieceIdx, absOff, -contextLines)
			after := gatherContext(store, cm.pieces, pieceIdx, absOff, contextLines)
			perFile = append(perFile, resolved{file: fid, lno: lno + 1, before: before, after: after})
		}
	}
	if len(perFile) == 0 {
		return nil
	}

	// Coalesce by identical (lno, before, after): files sharing exactly
	// the same context are nearly-identical copies and are merged into
	// one MatchContext with multiple file ids (spec 4.5.5).
	var contexts []MatchContext
	for _, r := range perFile {
		merged := false
		for i := range contexts {
			if contexts[i].LineNo == r.lno && sameRefs(contexts[i].ContextBefore, r.before) && sameRefs(contexts[i].ContextAfter, r.after) {
				contexts[i].Files = append(contexts[i].Files, r.file)
				merged = true
				break
			}
		}
		if !merged {
			contexts = append(contexts, MatchContext{
				Files:         []FileID{r.file},
				LineNo:        r.lno,
				ContextBefore: r.before,
				ContextAfter:  r.after,
			})
		}
	}

	return &MatchResult{
		Contexts:   contexts,
		Line:       LineRef{Chunk: c.id, Off: lineOff, Len: lineLen},
		MatchLeft:  matchStart - lineOff,
		MatchRight: matchEnd - lineOff,
	}
}

func sameRefs(a, b []LineRef) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// locatePieceForChunkOffset finds the piece of cm whose [Chunk,
// Offset, Offset+Len) contains (chunk, off), returning its index and
// the offset within that piece.
func locatePieceForChunkOffset(store *ChunkStore, cm *ContentMap, chunk ChunkID, off uint32) (int, uint32, bool) {
	for i, p := range cm.pieces {
		if p.Chunk == chunk && off >= p.Offset && off < p.Offset+p.Len {
			return i, off - p.Offset, true
		}
	}
	return 0, 0, false
}

// gatherContext walks n lines (negative: backward, positive: forward)
// from pieceIdx through cm's pieces, returning LineRefs into chunk
// data. Walking backward over a singly-forward pieces list requires a
// rescan rather than a doubly-linked walk (spec 9 design note); since
// content maps are small and immutable this rescans from the start
// once per context-gathering call rather than maintaining extra
// back-pointers.
func gatherContext(store *ChunkStore, pieces []Piece, pieceIdx int, absOff uint32, n int) []LineRef {
	lines := contentMapLines(store, pieces)
	chunk := pieces[pieceIdx].Chunk
	center := -1
	for i, l := range lines {
		if l.ref.Chunk == chunk && absOff >= l.ref.Off && absOff < l.ref.Off+l.ref.Len {
			center = i
			break
		}
	}
	if center == -1 {
		return nil
	}

	var out []LineRef
	if n < 0 {
		start := center + n
		if start < 0 {
			start = 0
		}
		for i := start; i < center; i++ {
			out = append(out, lines[i].ref)
		}
	} else {
		end := center + n + 1
		if end > len(lines) {
			end = len(lines)
		}
		for i := center + 1; i < end; i++ {
			out = append(out, lines[i].ref)
		}
	}
	return out
}

type mappedLine struct {
	ref LineRef
}

// contentMapLines expands a file's content map pieces into per-line
// LineRefs, splitting each piece on '\n'. It assumes pieces only ever
// span whole lines at their boundaries (which the indexer guarantees,
// since every indexed line -- and hence every piece -- is itself
// '\n'-terminated).
func contentMapLines(store *ChunkStore, pieces []Piece) []mappedLine {
	var lines []mappedLine
	for _, p := range pieces {
		data := store.chunk(p.Chunk).Slice(p.Offset, p.Len)
		start := uint32(0)
		for j, b := range data {
			if b == '\n' {
				lines = append(lines, mappedLine{
					ref: LineRef{Chunk: p.Chunk, Off: p.Offset + start, Len: uint32(j+1) - start},
				})
				start = uint32(j + 1)
			}
		}
	}
	return lines
}
