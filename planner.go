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
	"unicode"
	"unicode/utf8"
)

// PlanQuery walks a parsed, simplified regex AST and returns the
// IndexKey that any match of the regex must traverse, or nil if the
// regex is unindexable (the caller should fall back to a full scan).
// Mirrors the teacher's regexpToMatchTreeRecursive post-order walk
// (eval.go), generalized from "emit a matchTree leaf" to "emit an
// IndexKey trie node" per spec 4.3.
func PlanQuery(re *syntax.Regexp) *IndexKey {
	k := planNode(re)
	if k == nil || k.stats.Weight() < kMinWeight {
		return nil
	}
	return k
}

func planNode(r *syntax.Regexp) *IndexKey {
	switch r.Op {
	case syntax.OpNoMatch, syntax.OpEmptyMatch,
		syntax.OpBeginLine, syntax.OpEndLine,
		syntax.OpBeginText, syntax.OpEndText,
		syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		return emptyKey()

	case syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return anyKey()

	case syntax.OpLiteral:
		return planLiteral(r)

	case syntax.OpCharClass:
		return planCharClass(r)

	case syntax.OpCapture:
		return planNode(r.Sub[0])

	case syntax.OpConcat:
		return planConcat(r.Sub)

	case syntax.OpAlternate:
		return planAlternate(r.Sub)

	case syntax.OpPlus:
		child := planNode(r.Sub[0])
		if child == nil {
			return nil
		}
		if child.anchor.has(AnchorLeft) && child.anchor.has(AnchorRight) {
			out := cloneKey(child)
			out.anchor |= AnchorRepeat
			return out
		}
		return child

	case syntax.OpRepeat:
		if r.Min >= 1 {
			child := planNode(r.Sub[0])
			if child == nil {
				return nil
			}
			if r.Max < 0 || r.Max > r.Min {
				if child.anchor.has(AnchorLeft) && child.anchor.has(AnchorRight) {
					out := cloneKey(child)
					out.anchor |= AnchorRepeat
					return out
				}
			}
			return child
		}
		return anyKey()

	case syntax.OpStar, syntax.OpQuest:
		return anyKey()

	default:
		return anyKey()
	}
}

// planLiteral builds the byte-chain key for a literal rune sequence.
// Case-folded ASCII letters get a two-way alternation at each folded
// byte; a case-folded literal whose fold target is multi-byte (the
// canonical example is U+212A KELVIN SIGN folding to 'k') gets a
// two-way alternation between the literal's own byte chain and the
// fold target's.
func planLiteral(r *syntax.Regexp) *IndexKey {
	var tail *IndexKey
	folded := r.Flags&syntax.FoldCase != 0
	for i := len(r.Rune) - 1; i >= 0; i-- {
		tail = planRune(r.Rune[i], folded, tail)
	}
	if tail == nil {
		return emptyKey()
	}
	return tail
}

func planRune(rn rune, folded bool, child *IndexKey) *IndexKey {
	if !folded {
		return runeChain(rn, child)
	}

	if rn < utf8.RuneSelf && ((rn >= 'a' && rn <= 'z') || (rn >= 'A' && rn <= 'Z')) {
		lo := rn | 0x20
		up := lo &^ 0x20
		return indexOrRune(lo, up, child)
	}

	// Non-ASCII case folding: gather every simple fold of rn (runes
	// that case-fold to the same equivalence class) and alternate
	// their byte chains. This also covers runes whose fold target
	// encodes to a different number of UTF-8 bytes (U+212A -> 'k').
	chains := []*IndexKey{runeChain(rn, child)}
	for f := unicode.SimpleFold(rn); f != rn; f = unicode.SimpleFold(f) {
		chains = append(chains, runeChain(f, child))
		if len(chains) > kMaxWidth {
			break
		}
	}
	out := chains[0]
	for _, c := range chains[1:] {
		out = alternateTwo(out, c, 0)
	}
	return out
}

// indexOrRune is a tiny helper so planRune can build a two-edge
// alternation for the common ASCII-letter case without going through
// the general alternateTwo merge (both branches are single bytes of
// equal width, so a direct two-edge node is cheaper and exact).
func indexOrRune(lo, up rune, child *IndexKey) *IndexKey {
	k := &IndexKey{anchor: AnchorLeft | AnchorRight}
	a, b := byte(lo), byte(up)
	if a > b {
		a, b = b, a
	}
	k.edges = []edge{{Lo: a, Hi: a, Child: child}}
	if b != a {
		k.edges = append(k.edges, edge{Lo: b, Hi: b, Child: child})
	}
	k.recomputeStats()
	return k
}

func runeChain(rn rune, child *IndexKey) *IndexKey {
	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], rn)
	bs := buf[:n]
	tail := child
	for i := len(bs) - 1; i >= 0; i-- {
		tail = byteRangeKey(bs[i], bs[i], tail)
	}
	return tail
}

// planCharClass builds one edge per [lo,hi] rune range in the class,
// restricted to ranges that fit in a single byte; ranges above U+0080
// are lowered to a small alternation of single-rune chains (a full
// lex-range trie generator is unneeded at the class sizes this planner
// accepts). Classes wider than kMaxWidth bail out to Any().
func planCharClass(r *syntax.Regexp) *IndexKey {
	if len(r.Rune)/2 > kMaxWidth {
		return anyKey()
	}

	var out *IndexKey
	count := 0
	for i := 0; i+1 < len(r.Rune); i += 2 {
		lo, hi := r.Rune[i], r.Rune[i+1]
		if lo >= utf8.RuneSelf || hi >= utf8.RuneSelf {
			for rn := lo; rn <= hi; rn++ {
				count++
				if count > kMaxWidth {
					return anyKey()
				}
				chain := runeChain(rn, nil)
				if out == nil {
					out = chain
				} else {
					out = alternateTwo(out, chain, 0)
				}
			}
			continue
		}
		count++
		if count > kMaxWidth {
			return anyKey()
		}
		k := byteRangeKey(byte(lo), byte(hi), nil)
		if out == nil {
			out = k
		} else {
			out = alternateTwo(out, k, 0)
		}
	}
	if out == nil {
		return anyKey()
	}
	return out
}

// planConcat searches for the contiguous sub-sequence of children
// whose joined stats minimize selectivity, subject to nodes <
// kMaxNodes (spec 4.3). Anchoring mirrors which children were used:
// dropping AnchorLeft if the chosen run doesn't start at child 0,
// AnchorRight if it doesn't reach the last child.
func planConcat(subs []*syntax.Regexp) *IndexKey {
	children := make([]*IndexKey, len(subs))
	for i, s := range subs {
		children[i] = planNode(s)
	}

	type run struct {
		key        *IndexKey
		start, end int // [start,end)
	}
	var best *run
	for start := 0; start < len(children); start++ {
		var cur *IndexKey
		for end := start; end < len(children); end++ {
			c := children[end]
			if c == nil {
				break
			}
			if cur == nil {
				cur = c
			} else {
				joined := concatTwo(cur, c)
				if joined.stats.Nodes >= kMaxNodes {
					break
				}
				cur = joined
			}
			if best == nil || cur.stats.Selectivity < best.key.stats.Selectivity {
				best = &run{key: cur, start: start, end: end + 1}
			}
		}
	}
	if best == nil {
		return anyKey()
	}
	out := cloneKey(best.key)
	if best.start != 0 {
		out.anchor &^= AnchorLeft
	}
	if best.end != len(children) {
		out.anchor &^= AnchorRight
	}
	return out
}

// planAlternate folds children with binary alternateTwo. Any branch
// that plans to Any() forces the whole alternation to Any(), since a
// single unconstrained branch means the regex can match without
// traversing any particular byte range.
func planAlternate(subs []*syntax.Regexp) *IndexKey {
	var out *IndexKey
	for _, s := range subs {
		c := planNode(s)
		if c == nil || (c.IsLeaf() && c.stats.Selectivity >= 1 && c.anchor == 0) {
			return anyKey()
		}
		if out == nil {
			out = c
		} else {
			out = alternateTwo(out, c, 0)
		}
	}
	if out == nil {
		return anyKey()
	}
	return out
}
