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
	"bytes"
	"regexp/syntax"
	"sort"
	"testing"

	"github.com/grafana/regexp"
)

func TestBuildSuffixArraySorted(t *testing.T) {
	data := []byte("banana\napple\nbandana\n")
	sa := buildSuffixArray(data)

	if len(sa) != len(data) {
		t.Fatalf("len(sa) = %d, want %d", len(sa), len(data))
	}

	rewritten := append([]byte(nil), data...)
	for i, b := range rewritten {
		if b == '\n' {
			rewritten[i] = 0
		}
	}
	if !sort.SliceIsSorted(sa, func(i, j int) bool {
		return compareSuffixes(rewritten, sa[i], sa[j]) < 0
	}) {
		t.Fatalf("suffix array not sorted under compareSuffixes: %v", sa)
	}

	seen := map[uint32]bool{}
	for _, off := range sa {
		if seen[off] {
			t.Fatalf("duplicate offset %d in suffix array", off)
		}
		seen[off] = true
	}
}

func TestLineStartEnd(t *testing.T) {
	data := []byte("abc\ndef\nghi")
	cases := []struct {
		p         uint32
		wantStart uint32
		wantEnd   uint32
	}{
		{0, 0, 3},
		{2, 0, 3},
		{4, 4, 7},
		{9, 8, 11},
	}
	for _, c := range cases {
		if got := lineStart(data, c.p); got != c.wantStart {
			t.Errorf("lineStart(%d) = %d, want %d", c.p, got, c.wantStart)
		}
		if got := lineEnd(data, c.p); got != c.wantEnd {
			t.Errorf("lineEnd(%d) = %d, want %d", c.p, got, c.wantEnd)
		}
	}
}

func planLiteralForTest(t *testing.T, pattern string) *IndexKey {
	t.Helper()
	ast, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		t.Fatalf("syntax.Parse(%q): %v", pattern, err)
	}
	return PlanQuery(ast.Simplify())
}

func TestSearchChunkFindsLiteral(t *testing.T) {
	c := newChunk(0, 1<<12)
	text := "hello world\ngoodbye world\n"
	copy(c.alloc(len(text)), text)
	c.suffixes = buildSuffixArray(c.Bytes())

	key := planLiteralForTest(t, "world")
	re := regexp.MustCompile("world")

	var got []string
	searchChunk(c, key, re, func(start, end uint32) bool {
		got = append(got, string(c.Bytes()[start:end]))
		return true
	})

	if len(got) != 2 {
		t.Fatalf("got %d matches, want 2: %v", len(got), got)
	}
	for _, g := range got {
		if g != "world" {
			t.Errorf("match = %q, want %q", g, "world")
		}
	}
}

func TestFilteredCandidatesSubsetOfFullScan(t *testing.T) {
	c := newChunk(0, 1<<12)
	// The chunk must hold more than 100 suffixes, or the descent stops at
	// the root frame and returns it whole, and at least 50 bytes per
	// candidate, or the candidate count trips the kMinFilterRatio
	// bail-out. The filler lines contain no 'f', so "fox" is the only
	// suffix under the key's first edge.
	text := "the quick brown fox jumps over the lazy dog\n" +
		"the lazy dog sleeps in the sun\n" +
		"the lazy dog sleeps in the sun\n" +
		"the lazy dog sleeps in the sun\n" +
		"the lazy dog sleeps in the sun\n"
	copy(c.alloc(len(text)), text)
	c.suffixes = buildSuffixArray(c.Bytes())

	key := planLiteralForTest(t, "fox")
	cands, ok := filteredCandidates(c, key)
	if !ok {
		t.Fatal("filteredCandidates reported unindexable for a plain literal")
	}
	want := bytes.Index([]byte(text), []byte("fox"))
	if len(cands) != 1 || int(cands[0]) != want {
		t.Fatalf("candidates = %v, want [%d]", cands, want)
	}
}
