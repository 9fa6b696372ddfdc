package orchestrator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helmsman-ai/helmsman/config"
)

func detectCfg() config.LoopDetection {
	return config.Default().LoopDetection
}

func record(tool, args string) callRecord {
	return callRecord{Tool: tool, Args: args}
}

func TestDetectRepeatedPattern_IdenticalPair(t *testing.T) {
	records := []callRecord{
		record("read", `{"path":"a.go"}`),
		record("write", `{"path":"b.go"}`),
		record("read", `{"path":"a.go"}`),
		record("write", `{"path":"b.go"}`),
	}
	reason, detected := detectLoop(records, detectCfg())
	assert.True(t, detected)
	assert.Contains(t, reason, "repeating pattern of 2 tool calls")
	assert.Contains(t, reason, "read, write")
}

func TestDetectRepeatedPattern_DifferentArgsDoNotTrigger(t *testing.T) {
	records := []callRecord{
		record("read", `{"path":"pkg/server/handler.go"}`),
		record("read", `{"path":"pkg/client/transport.go"}`),
		record("read", `{"path":"pkg/proto/codec.go"}`),
		record("read", `{"path":"cmd/main/entry.go"}`),
	}
	_, detected := detectRepeatedPattern(records, detectCfg())
	assert.False(t, detected)
}

func TestDetectRepeatedPattern_SimilarStringArgs(t *testing.T) {
	// paths share a long prefix, so values count as similar
	records := []callRecord{
		record("grep", `{"pattern":"func ProcessMessage one"}`),
		record("grep", `{"pattern":"func ProcessMessage two"}`),
		record("grep", `{"pattern":"func ProcessMessage one"}`),
		record("grep", `{"pattern":"func ProcessMessage two"}`),
	}
	_, detected := detectRepeatedPattern(records, detectCfg())
	assert.True(t, detected)
}

func TestDetectRepeatedPattern_TooShortHistory(t *testing.T) {
	records := []callRecord{
		record("read", `{"path":"a.go"}`),
		record("read", `{"path":"a.go"}`),
		record("write", `{"path":"b.go"}`),
	}
	_, detected := detectRepeatedPattern(records, detectCfg())
	assert.False(t, detected)
}

func TestDetectToolStreak_NormalLimit(t *testing.T) {
	cfg := detectCfg()

	var records []callRecord
	for i := 0; i < cfg.StreakLimit-1; i++ {
		records = append(records, record("write", fmt.Sprintf(`{"path":"f%d.go","content":"different content body %d"}`, i, i*100)))
	}
	_, detected := detectToolStreak(records, cfg)
	assert.False(t, detected, "one below the limit must not trigger")

	records = append(records, record("write", `{"path":"f9.go","content":"another completely different body"}`))
	reason, detected := detectToolStreak(records, cfg)
	assert.True(t, detected)
	assert.Contains(t, reason, `tool "write"`)
}

func TestDetectToolStreak_ExploratoryLimit(t *testing.T) {
	cfg := detectCfg()

	var records []callRecord
	for i := 0; i < cfg.StreakLimit; i++ {
		records = append(records, record("read", fmt.Sprintf(`{"path":"some/long/unique/dir%d/file%d.go"}`, i*7, i*13)))
	}
	_, detected := detectToolStreak(records, cfg)
	assert.False(t, detected, "exploratory tools tolerate the normal limit")

	for i := 0; i < cfg.ExploratoryStreakLimit-cfg.StreakLimit; i++ {
		records = append(records, record("read", fmt.Sprintf(`{"path":"other/unique/tree%d/leaf%d.go"}`, i*11, i*17)))
	}
	reason, detected := detectToolStreak(records, cfg)
	assert.True(t, detected)
	assert.Contains(t, reason, `tool "read"`)
}

func TestDetectToolStreak_ExploratoryLimitReachableWithDefaults(t *testing.T) {
	// A long run of read calls with unrelated arguments must be caught by the
	// streak rule at exactly the exploratory limit, even though the default
	// streak window is narrower than that limit.
	cfg := detectCfg()

	var records []callRecord
	for i := 0; i < 30; i++ {
		records = append(records, record("read", fmt.Sprintf(`{"path":"area%d/module%d/file%d.go"}`, i*3, i*7, i*13)))
		reason, detected := detectLoop(records, cfg)
		if i+1 < cfg.ExploratoryStreakLimit {
			assert.False(t, detected, "call %d must not trigger", i+1)
			continue
		}
		assert.True(t, detected, "call %d must trigger", i+1)
		assert.Contains(t, reason, `tool "read"`)
		return
	}
}

func TestDetectToolStreak_BrokenByOtherTool(t *testing.T) {
	cfg := detectCfg()
	var records []callRecord
	for i := 0; i < cfg.StreakLimit-1; i++ {
		records = append(records, record("write", fmt.Sprintf(`{"path":"f%d.go"}`, i)))
	}
	records = append(records, record("ls", `{"path":"."}`))
	records = append(records, record("write", `{"path":"z.go"}`))

	_, detected := detectToolStreak(records, cfg)
	assert.False(t, detected)
}

func TestArgumentSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, argumentSimilarity(`{"a":1}`, `{"a":1}`))
	assert.Equal(t, 1.0, argumentSimilarity(`{}`, `{}`))

	// one of two keys matches
	assert.InDelta(t, 0.5, argumentSimilarity(`{"a":1,"b":2}`, `{"a":1,"b":3}`), 0.001)

	// disjoint keys
	assert.Equal(t, 0.0, argumentSimilarity(`{"a":1}`, `{"b":1}`))

	// string prefix rule: first 10 chars equal counts as a match
	assert.Equal(t, 1.0, argumentSimilarity(`{"path":"internal/server/a.go"}`, `{"path":"internal/server/b.go"}`))

	// short strings require full prefix containment
	assert.Equal(t, 1.0, argumentSimilarity(`{"q":"abc"}`, `{"q":"abcdef"}`))
	assert.Equal(t, 0.0, argumentSimilarity(`{"q":"abc"}`, `{"q":"xyz"}`))
}

func TestArgumentSimilarity_NonObjectFallback(t *testing.T) {
	assert.Equal(t, 1.0, argumentSimilarity("", ""))
	assert.Equal(t, 1.0, argumentSimilarity("abc", "abc"))
	assert.InDelta(t, 0.5, argumentSimilarity("ab", "ax"), 0.001)
}

func TestCallLimiter(t *testing.T) {
	l := NewCallLimiter(3)
	assert.False(t, l.Exceeded())
	l.Add(2)
	assert.False(t, l.Exceeded())
	assert.Equal(t, 1, l.Remaining())
	l.Add(1)
	assert.False(t, l.Exceeded(), "reaching the cap exactly is allowed")
	l.Add(1)
	assert.True(t, l.Exceeded())
	assert.Equal(t, 4, l.Count())

	unbounded := NewCallLimiter(0)
	unbounded.Add(1000)
	assert.False(t, unbounded.Exceeded())
}
