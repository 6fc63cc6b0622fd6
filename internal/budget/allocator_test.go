package budget

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func text(n int) string {
	return strings.Repeat("x", n)
}

func TestWouldExceed(t *testing.T) {
	a := NewAllocator(100, zerolog.Nop())

	small := []Source{{Kind: SourceHistory, Content: text(30)}} // ~10 tokens + overhead
	assert.False(t, a.WouldExceed(small))

	big := []Source{{Kind: SourceHistory, Content: text(600)}} // ~200 tokens
	assert.True(t, a.WouldExceed(big))
}

// The allocator holds no per-turn state: the same sources evaluate the same
// way no matter what was checked before, so one instance can serve
// concurrent sessions.
func TestWouldExceedIsStateless(t *testing.T) {
	a := NewAllocator(100, zerolog.Nop())

	big := []Source{{Kind: SourceHistory, Content: text(600)}}
	small := []Source{{Kind: SourceHistory, Content: text(30)}}
	for i := 0; i < 3; i++ {
		assert.True(t, a.WouldExceed(big))
		assert.False(t, a.WouldExceed(small))
	}
}

// Sources totaling ~120% of budget must compress to at or under budget with
// the latest turn and system instructions untouched.
func TestCompressOverBudgetKeepsProtectedSources(t *testing.T) {
	a := NewAllocator(1000, zerolog.Nop())

	systemText := text(300)  // ~100 tokens
	latestText := text(300)  // ~100 tokens
	sources := []Source{
		{Kind: SourceSystem, Label: "system", Content: systemText},
		{Kind: SourceHistory, Label: "turn-1", Content: text(600)},
		{Kind: SourceCases, Label: "case-1", Content: text(1500)},
		{Kind: SourceToolOutput, Label: "tool-1", Content: text(900)},
		{Kind: SourceHistory, Label: "turn-2", Content: latestText, Latest: true},
	}
	require.Greater(t, a.Estimate(sources), 1200, "fixture must start at least 20% over budget")

	out := a.Compress(sources, 1000)
	assert.LessOrEqual(t, a.Estimate(out), 1000)

	var foundSystem, foundLatest bool
	for _, s := range out {
		if s.Kind == SourceSystem {
			foundSystem = true
			assert.Equal(t, systemText, s.Content, "system instructions must be unmodified")
		}
		if s.Latest {
			foundLatest = true
			assert.Equal(t, latestText, s.Content, "latest turn must be unmodified")
		}
	}
	assert.True(t, foundSystem)
	assert.True(t, foundLatest)
}

func TestCompressDropsCasesWholeNeverTruncated(t *testing.T) {
	a := NewAllocator(200, zerolog.Nop())

	caseText := text(450)
	sources := []Source{
		{Kind: SourceHistory, Label: "turn-1", Content: text(300), Latest: true},
		{Kind: SourceCases, Label: "case-1", Content: caseText},
		{Kind: SourceCases, Label: "case-2", Content: caseText},
	}

	out := a.Compress(sources, 200)
	for _, s := range out {
		if s.Kind == SourceCases {
			assert.Equal(t, caseText, s.Content, "surviving cases must be intact, not truncated")
		}
	}
}

func TestCompressSummarizesToolOutputBeforeDropping(t *testing.T) {
	a := NewAllocator(400, zerolog.Nop())

	sources := []Source{
		{Kind: SourceHistory, Label: "turn-1", Content: text(150), Latest: true},
		{Kind: SourceToolOutput, Label: "tool-1", Content: text(3000)},
	}

	out := a.Compress(sources, 400)
	require.Len(t, out, 2, "tool output should be summarized, not dropped, when that suffices")
	assert.Contains(t, out[1].Content, "summarized away")
	assert.LessOrEqual(t, a.Estimate(out), 400)
}

func TestCompressNoopUnderBudget(t *testing.T) {
	a := NewAllocator(1000, zerolog.Nop())
	sources := []Source{{Kind: SourceHistory, Content: text(30), Latest: true}}

	out := a.Compress(sources, 1000)
	assert.Equal(t, sources, out)
}
