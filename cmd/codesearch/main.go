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

// Command codesearch serves search queries over HTTP and RPC, reading
// one or more index files built by codesearch-index.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/livegrep/codesearch"
	crpc "github.com/livegrep/codesearch/rpc"
	"github.com/livegrep/codesearch/shards"
)

func main() {
	fs := flag.NewFlagSet("codesearch", flag.ExitOnError)
	listen := fs.String("listen", ":6070", "address to serve HTTP and RPC search on")
	rpcPath := fs.String("rpc_path", crpc.DefaultRPCPath, "HTTP path the RPC server is mounted at")
	threads := fs.Int("threads", 4, "per-shard concurrent chunk workers")
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("CODESEARCH")); err != nil {
		log.Fatal(err)
	}

	if fs.NArg() == 0 {
		fmt.Fprintf(fs.Output(), "USAGE: %s [options] INDEX...\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		os.Exit(1)
	}

	_, _ = maxprocs.Set()

	agg, err := shards.Open(fs.Args(), *threads)
	if err != nil {
		log.Fatalf("opening indexes: %v", err)
	}
	defer agg.Close()

	mux := http.NewServeMux()
	mux.Handle(*rpcPath, crpc.Server(aggregatorSearcher{agg}))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/search", searchHandler(agg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { fmt.Fprintln(w, "ok") })

	srv := &http.Server{Addr: *listen, Handler: mux}

	go func() {
		log.Printf("codesearch listening on %s (%d shards)", *listen, fs.NArg())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// aggregatorSearcher adapts *shards.Aggregator to codesearch.Searcher so
// it can be handed to rpc.Server, which only knows about the interface.
type aggregatorSearcher struct{ a *shards.Aggregator }

func (s aggregatorSearcher) Search(ctx context.Context, q *codesearch.Query, onMatch func(*codesearch.MatchResult)) (*codesearch.SearchStats, error) {
	return s.a.Search(ctx, q, onMatch)
}

func (s aggregatorSearcher) Close() { s.a.Close() }

// searchHandler answers ?q=<line regex> over plain HTTP/JSON, for
// curl-friendly debugging alongside the RPC path real clients use.
func searchHandler(agg *shards.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := &codesearch.Query{
			Line:     r.URL.Query().Get("q"),
			File:     r.URL.Query().Get("file"),
			Tree:     r.URL.Query().Get("tree"),
			FoldCase: r.URL.Query().Get("i") == "1",
		}
		if q.Line == "" {
			http.Error(w, "missing q parameter", http.StatusBadRequest)
			return
		}
		if n, err := strconv.Atoi(r.URL.Query().Get("max_matches")); err == nil {
			q.MaxMatches = n
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		var matches []*codesearch.MatchResult
		stats, err := agg.Search(ctx, q, func(m *codesearch.MatchResult) {
			matches = append(matches, m)
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Stats   *codesearch.SearchStats    `json:"stats"`
			Matches []*codesearch.MatchResult `json:"matches"`
		}{stats, matches})
	}
}
