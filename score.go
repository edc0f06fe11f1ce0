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
	"path"
	"strings"
)

// scoreBase is the starting score every file receives before path-based
// adjustments (spec D.5, mirrors the teacher's score_file base weight).
const scoreBase = 1000

// scorePenaltyPerDir is subtracted once per path component below the
// root, so files living closer to a tree's root sort ahead of deeply
// nested ones when several files tie on everything else.
const scorePenaltyPerDir = 5

// scoreBoostExt credits extensions that are disproportionately likely
// to be what a code search is actually looking for.
var scoreBoostExt = map[string]int32{
	".go":   50,
	".py":   40,
	".java": 40,
	".c":    40,
	".h":    40,
	".cc":   40,
	".cpp":  40,
	".rs":   40,
	".js":   30,
	".ts":   30,
	".rb":   30,
}

// scorePenaltyPath flags path substrings that usually indicate
// generated or vendored content, worth surfacing last.
var scorePenaltyPath = []string{"vendor/", "node_modules/", "third_party/", ".min.", "/generated/"}

// ScoreFile computes the static per-file score used purely as a
// delivery sort key (spec 9's Open Question resolution) -- it never
// affects which matches survive max_matches, only the order in which
// they are handed to onMatch once collected.
func ScoreFile(p string) int32 {
	score := int32(scoreBase)

	depth := strings.Count(p, "/")
	score -= int32(depth) * scorePenaltyPerDir

	if boost, ok := scoreBoostExt[strings.ToLower(path.Ext(p))]; ok {
		score += boost
	}

	lower := strings.ToLower(p)
	for _, bad := range scorePenaltyPath {
		if strings.Contains(lower, bad) {
			score -= 500
			break
		}
	}

	if strings.Contains(lower, "test") {
		score -= 50
	}

	return score
}
