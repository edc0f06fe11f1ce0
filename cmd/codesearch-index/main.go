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

// Command codesearch-index walks a directory tree and builds a
// codesearch index file out of its contents.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/livegrep/codesearch/build"
)

func main() {
	var opts build.Options
	fs := flag.NewFlagSet("codesearch-index", flag.ExitOnError)
	opts.Flags(fs)
	revision := fs.String("revision", "HEAD", "revision label recorded for every indexed tree")
	ignoreDirs := fs.String("ignore_dirs", ".git,.hg,.svn", "comma separated list of directories to skip")
	fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		fmt.Fprintf(fs.Output(), "USAGE: %s [options] PATHS...\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		os.Exit(1)
	}

	// Tune GOMAXPROCS to match the container's CPU quota.
	_, _ = maxprocs.Set()

	ignore := map[string]bool{}
	for _, d := range strings.Split(*ignoreDirs, ",") {
		if d = strings.TrimSpace(d); d != "" {
			ignore[d] = true
		}
	}

	ix, err := build.NewIndexer(opts)
	if err != nil {
		log.Fatal(err)
	}

	for _, arg := range fs.Args() {
		if err := indexArg(ix, arg, *revision, ignore); err != nil {
			log.Fatal(err)
		}
	}

	path, err := ix.Finish()
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("index written to %s", path)
}

func indexArg(ix *build.Indexer, arg, revision string, ignore map[string]bool) error {
	dir, err := filepath.Abs(filepath.Clean(arg))
	if err != nil {
		return err
	}
	repoName := filepath.Base(dir)

	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if ignore[filepath.Base(path)] {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(path, dir+"/")
		return ix.Add(repoName, revision, rel, content)
	})
}
