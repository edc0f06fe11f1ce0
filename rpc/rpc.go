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

// Package rpc exposes a codesearch.Searcher over RPC, the way the
// teacher's rpc package exposes a zoekt.Searcher: a thin keegancsmith/rpc
// gob server plus a client satisfying the same interface, so a caller
// can swap a local Driver/Aggregator for a networked one without
// noticing.
package rpc

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/keegancsmith/rpc"

	"github.com/livegrep/codesearch"
)

// DefaultRPCPath is the HTTP path the RPC server is mounted at.
const DefaultRPCPath = "/rpc"

// searchArgs/searchReply are the gob-encoded request/response pair for
// the Searcher.Search RPC method. onMatch cannot cross the wire, so the
// server buffers every MatchResult and returns them as a slice.
type searchArgs struct {
	Query *codesearch.Query
}

type searchReply struct {
	Matches []*codesearch.MatchResult
	Stats   *codesearch.SearchStats
}

// server adapts a codesearch.Searcher to the keegancsmith/rpc calling
// convention (one exported method per RPC, first arg the decoded
// request, second a pointer to the reply to fill in).
type server struct {
	searcher codesearch.Searcher
}

func (s *server) Search(args *searchArgs, reply *searchReply) error {
	var matches []*codesearch.MatchResult
	stats, err := s.searcher.Search(context.Background(), args.Query, func(m *codesearch.MatchResult) {
		matches = append(matches, m)
	})
	if err != nil {
		return err
	}
	reply.Matches = matches
	reply.Stats = stats
	return nil
}

// Server returns an http.Handler serving searcher over RPC at whatever
// path the caller mounts it on; Client dials DefaultRPCPath.
func Server(searcher codesearch.Searcher) http.Handler {
	s := rpc.NewServer()
	if err := s.Register(&server{searcher: searcher}); err != nil {
		panic("codesearch/rpc: unexpected error registering server: " + err.Error())
	}
	return s
}

// Client connects to a Searcher RPC server at address (host:port).
func Client(address string) codesearch.Searcher {
	return ClientAtPath(address, DefaultRPCPath)
}

// ClientAtPath connects to a Searcher RPC server at http://address/path.
func ClientAtPath(address, path string) codesearch.Searcher {
	return &client{addr: address, path: path}
}

type client struct {
	addr, path string

	mu  sync.Mutex
	cl  *rpc.Client
	gen int
}

var _ codesearch.Searcher = (*client)(nil)

// Search implements codesearch.Searcher. Since Search results cross the
// wire as one gob-encoded batch rather than streaming, onMatch is
// invoked once per result only after the whole reply has arrived.
func (c *client) Search(ctx context.Context, q *codesearch.Query, onMatch func(*codesearch.MatchResult)) (*codesearch.SearchStats, error) {
	var reply searchReply
	if err := c.call(ctx, "server.Search", &searchArgs{Query: q}, &reply); err != nil {
		return nil, err
	}
	for _, m := range reply.Matches {
		onMatch(m)
	}
	return reply.Stats, nil
}

func (c *client) call(ctx context.Context, method string, args, reply interface{}) error {
	cl, gen, err := c.getRPCClient(ctx, 0)
	if err == nil {
		err = cl.Call(ctx, method, args, reply)
		if err != rpc.ErrShutdown {
			return err
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
	}

	cl, _, err = c.getRPCClient(ctx, gen)
	if err != nil {
		return err
	}
	return cl.Call(ctx, method, args, reply)
}

func (c *client) getRPCClient(ctx context.Context, gen int) (*rpc.Client, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return c.cl, c.gen, nil
	}
	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	cl, err := rpc.DialHTTPPathTimeout("tcp", c.addr, c.path, timeout)
	if err != nil {
		return nil, c.gen, err
	}
	c.cl = cl
	c.gen++
	return c.cl, c.gen, nil
}

func (c *client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cl != nil {
		c.cl.Close()
	}
}

func (c *client) String() string {
	return fmt.Sprintf("rpcSearcher(%s/%s)", c.addr, c.path)
}
