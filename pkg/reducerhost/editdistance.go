package reducerhost

import (
	"sort"
	"strings"
)

// editDistance computes the restricted Damerau-Levenshtein distance between
// a and b, bounded by limit: it returns ok=false as soon as it can prove the
// distance exceeds limit, matching the upstream early-exit behavior.
//
// Ported from original_source/crates/cli/src/edit_distance.rs.
func editDistance(a, b string, limit int) (int, bool) {
	ar := []rune(a)
	br := []rune(b)
	if len(ar) < len(br) {
		ar, br = br, ar
	}

	minDist := len(ar) - len(br)
	if minDist > limit {
		return 0, false
	}

	// Strip common prefix.
	for len(br) > 0 && len(ar) > 0 && ar[0] == br[0] {
		ar = ar[1:]
		br = br[1:]
	}
	// Strip common suffix.
	for len(br) > 0 && len(ar) > 0 && ar[len(ar)-1] == br[len(br)-1] {
		ar = ar[:len(ar)-1]
		br = br[:len(br)-1]
	}

	if len(br) == 0 {
		return minDist, true
	}

	prevPrev := make([]int, len(br)+1)
	prev := make([]int, len(br)+1)
	current := make([]int, len(br)+1)
	for i := range prev {
		prev[i] = i
	}

	for i := 1; i <= len(ar); i++ {
		current[0] = i
		aIdx := i - 1
		for j := 1; j <= len(br); j++ {
			bIdx := j - 1
			subCost := 1
			if ar[aIdx] == br[bIdx] {
				subCost = 0
			}
			current[j] = min3(prev[j]+1, current[j-1]+1, prev[j-1]+subCost)
			if i > 1 && j > 1 && ar[aIdx] == br[bIdx-1] && ar[aIdx-1] == br[bIdx] {
				if prevPrev[j-2]+1 < current[j] {
					current[j] = prevPrev[j-2] + 1
				}
			}
		}
		prevPrev, prev, current = prev, current, prevPrev
	}

	distance := prev[len(br)]
	if distance > limit {
		return 0, false
	}
	return distance, true
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// findBestMatch finds the closest candidate to lookup, trying (in order) an
// exact case-insensitive match, an edit-distance match within dist (default
// max(len(lookup),3)/3), and finally a sorted-words match. Returns "" if
// nothing qualifies.
//
// Ported from find_best_match_for_name in
// original_source/crates/cli/src/edit_distance.rs.
func findBestMatch(candidates []string, lookup string) string {
	upper := strings.ToUpper(lookup)
	for _, c := range candidates {
		if strings.ToUpper(c) == upper {
			return c
		}
	}

	dist := max(len(lookup), 3) / 3

	var best string
	for _, c := range candidates {
		d, ok := editDistance(lookup, c, dist)
		if !ok {
			continue
		}
		if d == 0 {
			return c
		}
		dist = d - 1
		best = c
	}
	if best != "" {
		return best
	}
	return findMatchBySortedWords(candidates, lookup)
}

func findMatchBySortedWords(candidates []string, lookup string) string {
	target := sortByWords(lookup)
	var result string
	for _, c := range candidates {
		if sortByWords(c) == target {
			result = c
		}
	}
	return result
}

func sortByWords(name string) string {
	words := strings.Split(name, "_")
	sort.Strings(words)
	return strings.Join(words, "_")
}

