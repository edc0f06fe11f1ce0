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
	"time"

	"github.com/grafana/regexp"
)

// Repo describes one repository contributing trees to the corpus.
type Repo struct {
	Name     string
	Metadata map[string]string
}

// RepoRef is a dense handle into the repos table.
type RepoRef uint32

// Tree is one (repo, revision) pair; every IndexedFile belongs to
// exactly one Tree.
type Tree struct {
	Repo     RepoRef
	Revision string
}

// TreeRef is a dense handle into the trees table.
type TreeRef uint32

// IndexedFile is one (tree, path) entry in the corpus.
type IndexedFile struct {
	Tree    TreeRef
	Path    string
	Hash    [20]byte
	Content *ContentMap
	Score   int32
	No      FileID
}

// fileTable holds the immutable, post-Finalize metadata ChunkStore
// needs to answer file/tree queries and the match resolver needs to
// build MatchContexts; it is filled in by build.Indexer and frozen
// alongside the chunk data.
type fileTable struct {
	files []IndexedFile
	trees []Tree
	repos []Repo
}

func (s *ChunkStore) fileContentMap(id FileID) (*ContentMap, Tree, bool) {
	if int(id) >= len(s.files.files) {
		return nil, Tree{}, false
	}
	f := s.files.files[id]
	return f.Content, s.files.trees[f.Tree], true
}

// SetFileTable installs the file/tree/repo metadata built by the
// indexer. Must be called before Finalize's caller starts serving
// queries.
func (s *ChunkStore) SetFileTable(files []IndexedFile, trees []Tree, repos []Repo) {
	s.files = fileTable{files: files, trees: trees, repos: repos}
}

// Query is one search request (spec 3/6).
type Query struct {
	Line string

	File, Tree, Tags          string
	NotFile, NotTree, NotTags string

	FoldCase bool

	MaxMatches   int
	FilenameOnly bool

	Deadline time.Time
}

// compiledQuery is a Query after its regexes have been parsed and
// planned, held for the duration of one Search call.
type compiledQuery struct {
	q *Query

	re  *regexp.Regexp
	key *IndexKey

	file, tree, tags          *regexp.Regexp
	notFile, notTree, notTags *regexp.Regexp
}

// acceptsFile reports whether fid/tree satisfies cq's file/tree
// predicates (and their negations). Tag filtering (tag/ctags secondary
// search) is out of spec scope (spec 1) and always accepted here. cq is
// passed explicitly by the caller (resolveMatch) rather than read off
// the store, so concurrent Search calls against the same store never
// share mutable predicate state.
func acceptsFile(cq *compiledQuery, store *ChunkStore, fid FileID, tree Tree) bool {
	if cq == nil {
		return true
	}
	f := store.files.files[fid]
	if cq.file != nil && !cq.file.MatchString(f.Path) {
		return false
	}
	if cq.notFile != nil && cq.notFile.MatchString(f.Path) {
		return false
	}
	repoName := store.files.repos[tree.Repo].Name
	if cq.tree != nil && !cq.tree.MatchString(repoName) {
		return false
	}
	if cq.notTree != nil && cq.notTree.MatchString(repoName) {
		return false
	}
	return true
}

// SearchStats reports terminal per-query timing and the exit reason
// (spec 6).
type SearchStats struct {
	RE2TimeMS     int64
	SortTimeMS    int64
	IndexTimeMS   int64
	AnalyzeTimeMS int64
	ExitReason    ExitReason
}

// Searcher is the boundary a caller (an RPC server, a CLI, a test)
// drives a query through. Search streams results into the callback
// until the corpus is exhausted or the query hits a limit.
type Searcher interface {
	Search(ctx context.Context, q *Query, onMatch func(*MatchResult)) (*SearchStats, error)
	Close()
}
