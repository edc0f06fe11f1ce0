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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineDeduperDedupesIdenticalLines(t *testing.T) {
	store := NewChunkStore(DefaultChunkSize, 1)
	d := NewLineDeduper(store)

	chunk1, off1 := d.Dedup([]byte("package main\n"))
	chunk2, off2 := d.Dedup([]byte("package main\n"))

	assert.Equal(t, chunk1, chunk2, "identical lines should land in the same chunk")
	assert.Equal(t, off1, off2, "identical lines should dedup to the same offset")
}

func TestLineDeduperDistinguishesDifferentLines(t *testing.T) {
	store := NewChunkStore(DefaultChunkSize, 1)
	d := NewLineDeduper(store)

	chunk1, off1 := d.Dedup([]byte("package main\n"))
	chunk2, off2 := d.Dedup([]byte("package other\n"))

	if chunk1 == chunk2 && off1 == off2 {
		t.Fatal("distinct lines must not collapse to the same (chunk, offset)")
	}
}

func TestLineDeduperRoundTripsBytes(t *testing.T) {
	store := NewChunkStore(DefaultChunkSize, 1)
	d := NewLineDeduper(store)

	line := []byte("func main() {}\n")
	chunk, off := d.Dedup(line)

	got := store.chunk(chunk).Slice(off, uint32(len(line)))
	require.Equal(t, line, got)
}
