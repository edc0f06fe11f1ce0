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
	"regexp/syntax"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// byteRange is a comparable projection of an edge, for diffing plan
// shapes with go-cmp without exposing IndexKey's unexported fields.
type byteRange struct {
	Lo, Hi byte
}

// leafPaths returns every root-to-leaf sequence of byte ranges in k,
// in edge order.
func leafPaths(k *IndexKey) [][]byteRange {
	if k == nil || k.IsLeaf() {
		return [][]byteRange{nil}
	}
	var out [][]byteRange
	for _, e := range k.Edges() {
		step := byteRange{e.Lo, e.Hi}
		if e.Child == nil {
			out = append(out, []byteRange{step})
			continue
		}
		for _, tail := range leafPaths(e.Child) {
			path := append([]byteRange{step}, tail...)
			out = append(out, path)
		}
	}
	return out
}

func plan(t *testing.T, pattern string) *IndexKey {
	t.Helper()
	ast, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		t.Fatalf("syntax.Parse(%q): %v", pattern, err)
	}
	return PlanQuery(ast.Simplify())
}

func TestPlanQueryLiteral(t *testing.T) {
	key := plan(t, "cat")
	if key == nil {
		t.Fatal("PlanQuery(\"cat\") = nil, want a key")
	}

	got := leafPaths(key)
	want := [][]byteRange{{{'c', 'c'}, {'a', 'a'}, {'t', 't'}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("leafPaths mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanQueryFoldCase(t *testing.T) {
	key := plan(t, "(?i)hi")
	if key == nil {
		t.Fatal("PlanQuery(\"(?i)hi\") = nil, want a key")
	}

	got := leafPaths(key)
	want := [][]byteRange{
		{{'h', 'h'}, {'i', 'i'}},
		{{'h', 'h'}, {'I', 'I'}},
		{{'H', 'H'}, {'i', 'i'}},
		{{'H', 'H'}, {'I', 'I'}},
	}
	less := func(a, b []byteRange) bool {
		for i := range a {
			if i >= len(b) {
				return false
			}
			if a[i] != b[i] {
				return a[i].Lo < b[i].Lo
			}
		}
		return len(a) < len(b)
	}
	sortPaths := func(paths [][]byteRange) {
		for i := 1; i < len(paths); i++ {
			for j := i; j > 0 && less(paths[j], paths[j-1]); j-- {
				paths[j], paths[j-1] = paths[j-1], paths[j]
			}
		}
	}
	sortPaths(want)
	sortPaths(got)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("leafPaths mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanQueryUnindexableFallsBackToNil(t *testing.T) {
	if key := plan(t, ".*"); key != nil {
		t.Errorf("PlanQuery(\".*\") = %v, want nil (unindexable, full scan)", key)
	}
}
