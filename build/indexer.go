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

// Package build implements a convenient interface for building
// codesearch index files out of a stream of (tree, path, content)
// documents.
package build

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar"
	"github.com/dustin/go-humanize"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/livegrep/codesearch"
)

// DefaultDir is the directory index files are written to absent an
// explicit -index flag.
var DefaultDir = filepath.Join(os.Getenv("HOME"), ".codesearch")

// Options sets options for index construction.
type Options struct {
	// IndexDir is the directory the finished index file is written to.
	IndexDir string

	// Name names the output index file, "<Name>.cszoekt" under
	// IndexDir.
	Name string

	// SizeMax is the maximum file size indexed; larger files are
	// skipped outright (spec 7's degrade-silently tier) unless they
	// match LargeFiles.
	SizeMax int

	// LineLimit is the maximum deduplicated-line length; longer lines
	// are dropped from the file's content map rather than failing the
	// whole build (spec 7). NewIndexer caps it at the chunk size, so no
	// line the indexer keeps can trigger ErrResourceExhausted.
	LineLimit int

	// ChunkSize sizes the chunk store's arenas (spec 4.1); zero selects
	// codesearch.DefaultChunkSize.
	ChunkSize uint32

	// Parallelism bounds ChunkStore.Finalize's suffix-array worker
	// pool.
	Parallelism int

	// LargeFiles is a list of glob patterns (doublestar syntax)
	// exempting matching paths from SizeMax.
	LargeFiles []string
}

func (o *Options) SetDefaults() {
	if o.IndexDir == "" {
		o.IndexDir = DefaultDir
	}
	if o.Name == "" {
		o.Name = "corpus"
	}
	if o.SizeMax == 0 {
		o.SizeMax = 2 << 20
	}
	if o.LineLimit == 0 {
		o.LineLimit = 1 << 16
	}
	if o.Parallelism == 0 {
		o.Parallelism = 4
	}
}

// Flags adds flags for build options to fs.
func (o *Options) Flags(fs *flag.FlagSet) {
	x := *o
	x.SetDefaults()
	fs.IntVar(&o.SizeMax, "file_limit", x.SizeMax, "maximum file size")
	fs.IntVar(&o.LineLimit, "line_limit", x.LineLimit, "maximum deduplicated line length")
	fs.IntVar(&o.Parallelism, "parallelism", x.Parallelism, "maximum number of parallel finalize workers")
	fs.StringVar(&o.IndexDir, "index", x.IndexDir, "directory for search indices")
	fs.StringVar(&o.Name, "name", x.Name, "name of the output index")
}

// IgnoreSizeMax reports whether name should bypass SizeMax, per
// LargeFiles.
func (o *Options) IgnoreSizeMax(name string) bool {
	for _, pattern := range o.LargeFiles {
		pattern = strings.TrimSpace(pattern)
		if m, _ := doublestar.PathMatch(pattern, name); m {
			return true
		}
	}
	return false
}

// Indexer accumulates documents into a ChunkStore and writes a single
// finished index file (spec 6) on Finish. It is the build-side
// counterpart to read.go's LoadIndex.
type Indexer struct {
	opts Options

	store   *codesearch.ChunkStore
	dedup   *codesearch.LineDeduper
	files   []codesearch.IndexedFile
	trees   []codesearch.Tree
	repos   []codesearch.Repo
	repoIdx map[string]codesearch.RepoRef
	treeIdx map[codesearch.Tree]codesearch.TreeRef

	buildLog io.WriteCloser

	skipped int
}

// NewIndexer creates an Indexer, ready to accept documents via Add.
func NewIndexer(opts Options) (*Indexer, error) {
	opts.SetDefaults()
	// Every line the indexer keeps must fit in one chunk.
	chunkCap := opts.ChunkSize
	if chunkCap == 0 {
		chunkCap = codesearch.DefaultChunkSize
	}
	if opts.LineLimit > int(chunkCap) {
		opts.LineLimit = int(chunkCap)
	}
	if err := os.MkdirAll(opts.IndexDir, 0o700); err != nil {
		return nil, err
	}

	store := codesearch.NewChunkStore(opts.ChunkSize, opts.Parallelism)
	ix := &Indexer{
		opts:    opts,
		store:   store,
		dedup:   codesearch.NewLineDeduper(store),
		repoIdx: map[string]codesearch.RepoRef{},
		treeIdx: map[codesearch.Tree]codesearch.TreeRef{},
		buildLog: &lumberjack.Logger{
			Filename:   filepath.Join(opts.IndexDir, "codesearch-build-log.tsv"),
			MaxSize:    100,
			MaxBackups: 5,
		},
	}
	return ix, nil
}

func (ix *Indexer) treeRef(repoName, revision string) codesearch.TreeRef {
	rref, ok := ix.repoIdx[repoName]
	if !ok {
		rref = codesearch.RepoRef(len(ix.repos))
		ix.repos = append(ix.repos, codesearch.Repo{Name: repoName})
		ix.repoIdx[repoName] = rref
	}
	t := codesearch.Tree{Repo: rref, Revision: revision}
	tref, ok := ix.treeIdx[t]
	if !ok {
		tref = codesearch.TreeRef(len(ix.trees))
		ix.trees = append(ix.trees, t)
		ix.treeIdx[t] = tref
	}
	return tref
}

// Add indexes one file's content under (repoName, revision, path). A
// file larger than SizeMax (and not covered by LargeFiles) is skipped
// with a build-log entry rather than failing the build (spec 7).
func (ix *Indexer) Add(repoName, revision, path string, content []byte) error {
	if len(content) > ix.opts.SizeMax && !ix.opts.IgnoreSizeMax(path) {
		ix.skipped++
		ix.logBuild("skip", path, fmt.Sprintf("%d bytes exceeds file_limit", len(content)))
		return nil
	}

	tree := ix.treeRef(repoName, revision)
	fid := codesearch.FileID(len(ix.files))

	cm, err := ix.indexLines(fid, tree, content)
	if err != nil {
		return err
	}

	h := sha1.Sum(content)
	ix.files = append(ix.files, codesearch.IndexedFile{
		Tree:    tree,
		Path:    path,
		Hash:    h,
		Content: cm,
		Score:   codesearch.ScoreFile(path),
		No:      fid,
	})
	return nil
}

func (ix *Indexer) indexLines(fid codesearch.FileID, tree codesearch.TreeRef, content []byte) (*codesearch.ContentMap, error) {
	cb := codesearch.NewContentBuilder()
	touched := map[codesearch.ChunkID]bool{}
	r := bufio.NewReaderSize(bytes.NewReader(content), 64*1024)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) == 0 && err == io.EOF {
			break
		}
		if len(line) > ix.opts.LineLimit {
			// Dropped, not failed: spec 7 treats an over-long line as a
			// lossy, logged trade-off rather than a fatal build error.
			ix.logBuild("drop-line", "", fmt.Sprintf("line of %d bytes exceeds line_limit", len(line)))
			if err == io.EOF {
				break
			}
			continue
		}
		chunkID, off := ix.dedup.Dedup(line)
		cb.Add(chunkID, off, uint32(len(line)))
		ix.store.AddChunkFile(chunkID, fid, tree, off, off+uint32(len(line))-1)
		touched[chunkID] = true
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	ids := make([]codesearch.ChunkID, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	ix.store.FinishChunks(ids)
	return cb.Build(), nil
}

func (ix *Indexer) logBuild(action, path, detail string) {
	fmt.Fprintf(ix.buildLog, "%s\t%s\t%s\n", action, path, detail)
}

// Finish finalizes the chunk store and writes the index file to
// IndexDir/Name.cszoekt, returning its path.
func (ix *Indexer) Finish() (string, error) {
	defer ix.buildLog.Close()

	if err := ix.store.Finalize(); err != nil {
		return "", err
	}
	ix.store.SetFileTable(ix.files, ix.trees, ix.repos)

	name := filepath.Join(ix.opts.IndexDir, ix.opts.Name+".cszoekt")
	tmp, err := os.CreateTemp(ix.opts.IndexDir, filepath.Base(name)+".*.tmp")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	if err := codesearch.WriteIndex(tmp, ix.store); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return "", err
	}

	fi, statErr := os.Stat(name)
	size := "unknown size"
	if statErr == nil {
		size = humanize.Bytes(uint64(fi.Size()))
	}
	log.Printf("wrote %s (%s, %d files, %d skipped)", name, size, len(ix.files), ix.skipped)
	return name, nil
}
