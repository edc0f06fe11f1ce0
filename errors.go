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

import "errors"

// Error taxonomy (spec 7). Fatal index-load errors and per-query
// errors are distinguished by which sentinel they wrap, the way
// read.go's load path returns plain fmt.Errorf("barf: ...") errors
// while eval.go rejects bad queries without touching the index; here
// that distinction is made explicit via errors.Is instead of by
// grepping error strings.
var (
	// ErrMalformedIndex marks a fatal error on the load path: version
	// mismatch, out-of-range section offset, undecodable section.
	ErrMalformedIndex = errors.New("codesearch: malformed index")

	// ErrInvalidQuery marks a per-query error that yields no partial
	// results: regex parse failure or compiled program too large. A
	// character class too wide to plan is not an error: the planner
	// plans it to Any().
	ErrInvalidQuery = errors.New("codesearch: invalid query")

	// ErrResourceExhausted is returned internally when an index-build
	// input would overflow a fixed-capacity structure (a line longer
	// than chunk capacity). build/indexer.go caps its line limit at the
	// chunk size and drops longer lines before they reach the chunk
	// store, so a build driven by the indexer never hits it.
	ErrResourceExhausted = errors.New("codesearch: resource exhausted")
)

// ExitReason is the non-error termination cause of a query (spec 6).
type ExitReason int

const (
	// ExitNone means the query ran to completion without hitting a
	// limit.
	ExitNone ExitReason = iota
	// ExitMatchLimit means max_matches results were emitted and the
	// search was cut short.
	ExitMatchLimit
	// ExitTimeout means the query's deadline elapsed before the
	// search finished.
	ExitTimeout
)

func (e ExitReason) String() string {
	switch e {
	case ExitNone:
		return "None"
	case ExitMatchLimit:
		return "MatchLimit"
	case ExitTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}
