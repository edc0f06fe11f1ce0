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

// Command codesearchtool bundles small diagnostics against the query
// planner and on-disk index format: analyze-re prints the IndexKey a
// regex plans to, dump-file reconstructs a file purely from its
// ContentMap, and inspect-index prints how many chunks an index holds.
package main

import (
	"fmt"
	"log"
	"os"
	"regexp/syntax"

	"github.com/livegrep/codesearch"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "analyze-re":
		err = analyzeRE(os.Args[2:])
	case "dump-file":
		err = dumpFile(os.Args[2:])
	case "inspect-index":
		err = inspectIndex(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "USAGE: %s analyze-re PATTERN | dump-file INDEX TREE PATH | inspect-index INDEX\n", os.Args[0])
	os.Exit(1)
}

// analyzeRE prints the IndexKey the planner derives from pattern, one
// edge per line with its depth, so a caller can see why a query is or
// isn't selective without reading planner.go.
func analyzeRE(args []string) error {
	if len(args) != 1 {
		usage()
	}
	ast, err := syntax.Parse(args[0], syntax.Perl)
	if err != nil {
		return fmt.Errorf("parsing regex: %w", err)
	}
	key := codesearch.PlanQuery(ast.Simplify())
	if key == nil {
		fmt.Println("unindexable: falls back to a full scan")
		return nil
	}
	stats := key.Stats()
	fmt.Printf("weight=%.4g selectivity=%.6g depth=%d nodes=%d tailPaths=%d\n",
		stats.Weight(), stats.Selectivity, stats.Depth, stats.Nodes, stats.TailPaths)
	printKey(key, 0)
	return nil
}

func printKey(k *codesearch.IndexKey, depth int) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	if k.IsLeaf() {
		fmt.Printf("%s(leaf)\n", indent)
		return
	}
	for _, e := range k.Edges() {
		if e.Lo == e.Hi {
			fmt.Printf("%s0x%02x ->\n", indent, e.Lo)
		} else {
			fmt.Printf("%s[0x%02x-0x%02x] ->\n", indent, e.Lo, e.Hi)
		}
		if e.Child != nil {
			printKey(e.Child, depth+1)
		}
	}
}

// dumpFile reconstructs one file's content purely from its ContentMap,
// exercising the round-trip property that a file's bytes recorded at
// build time can be recovered from the deduplicated chunk store alone.
func dumpFile(args []string) error {
	if len(args) != 3 {
		usage()
	}
	store, err := codesearch.LoadIndex(args[0])
	if err != nil {
		return err
	}
	defer store.Close()

	content, ok := store.ReconstructFile(args[1], args[2])
	if !ok {
		return fmt.Errorf("no file %s in tree %s", args[2], args[1])
	}
	os.Stdout.Write(content)
	return nil
}

// inspectIndex prints headline counts about a loaded index, for a
// quick sanity check after a build.
func inspectIndex(args []string) error {
	if len(args) != 1 {
		usage()
	}
	store, err := codesearch.LoadIndex(args[0])
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Printf("chunks=%d\n", len(store.Chunks()))
	return nil
}
