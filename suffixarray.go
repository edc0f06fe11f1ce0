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

import "sort"

// buildSuffixArray returns a permutation of the offsets 0..len(data)-1
// sorted by the suffix starting at each offset, under the convention
// that '\n' sorts before every other byte. The order agrees with
// comparing two offsets only up to (exclusive) the first '\n' on each
// side, shorter line first at equality; suffixes whose lines tie are
// further ordered by the bytes after the '\n'.
//
// The newline-first property lets line boundaries fall on contiguous
// runs in the array: every suffix beginning at a line start sorts among
// other line starts by the line's own bytes, never by bytes that belong
// to the previous line.
//
// We get it by temporarily rewriting '\n' to 0x00 (which already sorts
// first under plain byte comparison), running an ordinary comparison
// sort, then restoring the newlines. Any correct suffix-sorting
// algorithm is acceptable here (spec's "divsufsort-style"); this
// package has no pack-provided suffix array library to ground on -- see
// DESIGN.md -- so the construction is a straightforward comparison sort
// over the rewritten bytes.
func buildSuffixArray(data []byte) []uint32 {
	n := len(data)
	sa := make([]uint32, n)
	for i := range sa {
		sa[i] = uint32(i)
	}
	if n == 0 {
		return sa
	}

	rewritten := make([]byte, n)
	for i, b := range data {
		if b == '\n' {
			rewritten[i] = 0
		} else {
			rewritten[i] = b
		}
	}

	sort.Slice(sa, func(i, j int) bool {
		return compareSuffixes(rewritten, sa[i], sa[j]) < 0
	})
	return sa
}

// compareSuffixes compares rewritten[a:] and rewritten[b:] lexically,
// longer-is-larger at a common prefix.
func compareSuffixes(rewritten []byte, a, b uint32) int {
	n := uint32(len(rewritten))
	for a < n && b < n {
		da, db := rewritten[a], rewritten[b]
		if da != db {
			if da < db {
				return -1
			}
			return 1
		}
		a++
		b++
	}
	switch {
	case a == n && b == n:
		return 0
	case a == n:
		return -1
	default:
		return 1
	}
}

// cmpLineOrder compares data[a:] and data[b:] under the search order
// used downstream: '\n' sorts before any other byte, otherwise memcmp,
// ties broken by length. It operates on the original (non-rewritten)
// bytes. Nothing in the package calls it; saLowerBound/saUpperBound
// compare one byte rank at a time via saByteRankAt.
func cmpLineOrder(data []byte, a, b uint32) int {
	n := uint32(len(data))
	for a < n && b < n {
		da, db := data[a], data[b]
		if da != db {
			ra, rb := byteRank(da), byteRank(db)
			if ra < rb {
				return -1
			}
			return 1
		}
		a++
		b++
	}
	switch {
	case a == n && b == n:
		return 0
	case a == n:
		return -1
	default:
		return 1
	}
}

// byteRank orders '\n' before every other byte, otherwise natural byte
// order.
func byteRank(b byte) int {
	if b == '\n' {
		return -1
	}
	return int(b)
}

// saLowerBound returns the smallest index i in sa[lo:hi] such that the
// byte at depth `depth` of the suffix sa[i] is >= target (using
// byteRank, with a suffix shorter than depth+1 bytes treated as
// rank -2, i.e. less than '\n'). sa[lo:hi] must already be sorted by
// byteRank at this depth.
func saLowerBound(data []byte, sa []uint32, lo, hi int, depth uint32, target int) int {
	for lo < hi {
		mid := (lo + hi) / 2
		if saByteRankAt(data, sa[mid], depth) < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// saUpperBound is the symmetric upper bound.
func saUpperBound(data []byte, sa []uint32, lo, hi int, depth uint32, target int) int {
	for lo < hi {
		mid := (lo + hi) / 2
		if saByteRankAt(data, sa[mid], depth) <= target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// saByteRankAt returns byteRank(data[off+depth]), or -2 (sorts before
// even '\n') if the suffix starting at off is shorter than depth+1
// bytes.
func saByteRankAt(data []byte, off, depth uint32) int {
	pos := off + depth
	if pos >= uint32(len(data)) {
		return -2
	}
	return byteRank(data[pos])
}
