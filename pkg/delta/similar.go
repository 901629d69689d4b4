package delta

import (
	"sort"
)

// ContentInfo summarizes one regular-file content object for similarity
// matching: its size and the basenames it appears under in the tree.
type ContentInfo struct {
	Size      uint64
	Basenames []string
}

// ScoreFunc estimates how similar two content objects are, as a percentage.
// The scoring function is a generation-time policy knob: it tunes delta
// quality and has no bearing on validating or executing built deltas.
type ScoreFunc func(from, to ContentInfo) int

// BasenameSizeScore is the default heuristic: objects sharing no basename
// score zero; otherwise the score is the size proximity, 100 for equal
// sizes falling linearly to 0 as the sizes diverge.
func BasenameSizeScore(from, to ContentInfo) int {
	if !shareBasename(from.Basenames, to.Basenames) {
		return 0
	}
	a, b := from.Size, to.Size
	if a == b {
		return 100
	}
	max := a
	if b > max {
		max = b
	}
	diff := max - min64(a, b)
	return int(100 - diff*100/max)
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func shareBasename(a, b []string) bool {
	seen := make(map[string]bool, len(a))
	for _, n := range a {
		seen[n] = true
	}
	for _, n := range b {
		if seen[n] {
			return true
		}
	}
	return false
}

// ComputeSimilar pairs new content objects of the target commit with
// candidates from the source commit for binary diffing. Both maps are keyed
// by hex content checksum. A pair is accepted only when score exceeds
// threshold (a percentage); everything unmatched falls through to
// whole-object or fallback encoding. A nil score uses BasenameSizeScore.
// The result maps target checksum to the chosen source checksum and is
// deterministic for identical inputs.
func ComputeSimilar(from, to map[string]ContentInfo, threshold int, score ScoreFunc) map[string]string {
	if score == nil {
		score = BasenameSizeScore
	}

	fromKeys := make([]string, 0, len(from))
	for k := range from {
		fromKeys = append(fromKeys, k)
	}
	sort.Strings(fromKeys)

	toKeys := make([]string, 0, len(to))
	for k := range to {
		toKeys = append(toKeys, k)
	}
	sort.Strings(toKeys)

	out := make(map[string]string)
	for _, tk := range toKeys {
		// Content already present in the source needs no transfer at all.
		if _, ok := from[tk]; ok {
			continue
		}
		best := ""
		bestScore := threshold
		for _, fk := range fromKeys {
			if s := score(from[fk], to[tk]); s > bestScore {
				best, bestScore = fk, s
			}
		}
		if best != "" {
			out[tk] = best
		}
	}
	return out
}
