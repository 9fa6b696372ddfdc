package orchestrator

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/helmsman-ai/helmsman/config"
)

// callRecord is one executed tool call in the rolling history of a run.
type callRecord struct {
	Tool string
	Args string // raw JSON argument string as issued by the model
}

// stringPrefixLen is how many leading characters two string argument values
// must share to count as a match during similarity scoring.
const stringPrefixLen = 10

// detectLoop inspects the rolling call history for runaway behavior. It is a
// pure function over the records; thresholds come from configuration.
func detectLoop(records []callRecord, cfg config.LoopDetection) (string, bool) {
	if reason, ok := detectRepeatedPattern(records, cfg); ok {
		return reason, true
	}
	if reason, ok := detectToolStreak(records, cfg); ok {
		return reason, true
	}
	return "", false
}

// detectRepeatedPattern compares, for each pattern length in the configured
// range, the most recent N calls against the N calls before them. A match
// requires identical tool names and near-identical arguments at every position.
func detectRepeatedPattern(records []callRecord, cfg config.LoopDetection) (string, bool) {
	for n := cfg.PatternMinLength; n <= cfg.PatternMaxLength; n++ {
		if len(records) < 2*n {
			break
		}
		recent := records[len(records)-n:]
		prior := records[len(records)-2*n : len(records)-n]

		match := true
		for i := 0; i < n; i++ {
			if recent[i].Tool != prior[i].Tool {
				match = false
				break
			}
			if argumentSimilarity(recent[i].Args, prior[i].Args) < cfg.SimilarityThreshold {
				match = false
				break
			}
		}
		if match {
			names := make([]string, n)
			for i, r := range recent {
				names[i] = r.Tool
			}
			return fmt.Sprintf("repeating pattern of %d tool calls (%s)", n, strings.Join(names, ", ")), true
		}
	}
	return "", false
}

// detectToolStreak counts consecutive calls to the same tool among the
// trailing window. Exploratory tools tolerate a longer streak since repeated
// reads and searches are legitimate while the model explores a codebase.
func detectToolStreak(records []callRecord, cfg config.LoopDetection) (string, bool) {
	if len(records) == 0 {
		return "", false
	}
	last := records[len(records)-1].Tool

	limit := cfg.StreakLimit
	for _, name := range cfg.ExploratoryTools {
		if name == last {
			limit = cfg.ExploratoryStreakLimit
			break
		}
	}

	// The scan must cover at least the applicable limit, otherwise a window
	// narrower than the exploratory limit makes that limit unreachable.
	span := cfg.StreakWindow
	if limit > span {
		span = limit
	}
	window := records
	if len(window) > span {
		window = window[len(window)-span:]
	}

	streak := 0
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Tool != last {
			break
		}
		streak++
	}
	if limit > 0 && streak >= limit {
		return fmt.Sprintf("%d consecutive calls to tool %q", streak, last), true
	}
	return "", false
}

// argumentSimilarity scores how alike two JSON argument strings are (0..1).
// Both sides are parsed as key/value maps; a key counts as a match when the
// values are equal, or for strings when one is a prefix of the other within
// the first stringPrefixLen characters. When either side fails to parse as an
// object the score falls back to a character-position matching ratio.
func argumentSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	objA := gjson.Parse(a)
	objB := gjson.Parse(b)
	if !objA.IsObject() || !objB.IsObject() {
		return charSimilarity(a, b)
	}

	mapA := objA.Map()
	mapB := objB.Map()
	keys := map[string]struct{}{}
	for k := range mapA {
		keys[k] = struct{}{}
	}
	for k := range mapB {
		keys[k] = struct{}{}
	}
	if len(keys) == 0 {
		return 1.0
	}

	matches := 0
	for k := range keys {
		va, okA := mapA[k]
		vb, okB := mapB[k]
		if !okA || !okB {
			continue
		}
		if va.Raw == vb.Raw {
			matches++
			continue
		}
		if va.Type == gjson.String && vb.Type == gjson.String && stringsSimilar(va.String(), vb.String()) {
			matches++
		}
	}
	return float64(matches) / float64(len(keys))
}

// stringsSimilar applies the prefix rule for string argument values.
func stringsSimilar(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) >= stringPrefixLen && len(b) >= stringPrefixLen {
		return a[:stringPrefixLen] == b[:stringPrefixLen]
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// charSimilarity is the positional fallback for unstructured arguments.
func charSimilarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	matches := 0
	for i := 0; i < shorter; i++ {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(longer)
}
