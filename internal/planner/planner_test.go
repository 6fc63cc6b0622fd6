package planner

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/budget"
	"maestro/internal/champion"
	"maestro/internal/provider"
	"maestro/internal/tools"
)

// scriptedProvider returns canned responses in order.
type scriptedProvider struct {
	responses []provider.Response
	errs      []error
	calls     int
	requests  []provider.Request
}

func (p *scriptedProvider) Name() string     { return "scripted" }
func (p *scriptedProvider) Models() []string { return []string{"test-model"} }

func (p *scriptedProvider) Invoke(ctx context.Context, req provider.Request) (*provider.Response, error) {
	p.requests = append(p.requests, req)
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.responses) {
		return &provider.Response{Text: "TOOLS", Usage: provider.Usage{InputTokens: 1}}, nil
	}
	resp := p.responses[i]
	return &resp, nil
}

type fixedRetriever struct {
	cases  []champion.Case
	err    error
	called int
}

func (r *fixedRetriever) Query(ctx context.Context, text string, topK int, minSimilarity float64) ([]champion.Case, error) {
	r.called++
	return r.cases, r.err
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	require.NoError(t, r.Register(tools.NewScriptTool(tools.ScriptToolConfig{
		Name:        "web_search",
		Description: "search the web",
		Script:      `({})`,
	})))
	require.NoError(t, r.Register(tools.NewScriptTool(tools.ScriptToolConfig{
		Name:        "sales_report",
		Description: "query sales records by date range",
		Script:      `({})`,
	})))
	return r
}

func newPlanner(t *testing.T, prov provider.Provider, retr Retriever, alloc *budget.Allocator) *Planner {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Model = "test-model"
	return New(prov, retr, alloc, testRegistry(t), cfg, zerolog.Nop())
}

func planJSON(t *testing.T) string {
	t.Helper()
	specs := []phaseSpec{
		{Goal: "fetch the sales numbers", Tools: []string{"sales_report", "web_search"}},
		{Goal: "summarize findings", Tools: []string{"web_search"}, Independent: false},
	}
	data, err := json.Marshal(specs)
	require.NoError(t, err)
	return string(data)
}

func TestPlanDirectAnswer(t *testing.T) {
	prov := &scriptedProvider{responses: []provider.Response{
		{Text: "DIRECT: The capital of France is Paris.", Usage: provider.Usage{InputTokens: 40, OutputTokens: 12}},
	}}
	retr := &fixedRetriever{}
	p := newPlanner(t, prov, retr, nil)

	plan, usage, err := p.Plan(context.Background(), TurnInput{TurnID: "t1", Text: "capital of France?"})
	require.NoError(t, err)
	assert.True(t, plan.Direct)
	assert.Equal(t, "The capital of France is Paris.", plan.Answer)
	assert.Empty(t, plan.Phases)
	assert.Equal(t, 52, usage.Total())
	assert.Zero(t, retr.called, "direct answers skip retrieval")
}

func TestPlanDecomposesWithChampionBias(t *testing.T) {
	prov := &scriptedProvider{responses: []provider.Response{
		{Text: "TOOLS", Usage: provider.Usage{InputTokens: 30, OutputTokens: 2}},
		{Text: planJSON(t), Usage: provider.Usage{InputTokens: 200, OutputTokens: 80}},
	}}
	retr := &fixedRetriever{cases: []champion.Case{
		{ID: "c1", Question: "sales last week", Trace: json.RawMessage(`[{"tool":"sales_report"}]`), Similarity: 0.8},
	}}
	p := newPlanner(t, prov, retr, nil)

	plan, usage, err := p.Plan(context.Background(), TurnInput{TurnID: "t1", Text: "sales for the past 7 days"})
	require.NoError(t, err)
	require.False(t, plan.Direct)
	require.Len(t, plan.Phases, 2)

	first := plan.Phases[0]
	assert.Equal(t, "fetch the sales numbers", first.Goal)
	assert.Equal(t, []string{"sales_report", "web_search"}, first.CandidateTools)
	assert.Equal(t, StatusPending, first.Status)
	assert.NotEmpty(t, first.ID)

	assert.Equal(t, 1, retr.called)
	assert.Equal(t, 312, usage.Total())

	// The decomposition prompt carries the champion case as few-shot bias.
	decomposeReq := prov.requests[1]
	prompt := decomposeReq.Messages[len(decomposeReq.Messages)-1].Content
	assert.Contains(t, prompt, "sales last week")
	assert.Contains(t, prompt, "sales_report")
}

func TestPlanRetrievalFailureDegradesToUnbiased(t *testing.T) {
	prov := &scriptedProvider{responses: []provider.Response{
		{Text: "TOOLS"},
		{Text: planJSON(t)},
	}}
	retr := &fixedRetriever{err: context.DeadlineExceeded}
	p := newPlanner(t, prov, retr, nil)

	plan, _, err := p.Plan(context.Background(), TurnInput{TurnID: "t1", Text: "sales"})
	require.NoError(t, err, "retrieval failure must not fail the turn")
	assert.Len(t, plan.Phases, 2)
}

func TestPlanClassifyFailureIsPlanningError(t *testing.T) {
	prov := &scriptedProvider{errs: []error{provider.NewError(provider.ErrCodeTimeout, "scripted", "deadline", true)}}
	p := newPlanner(t, prov, &fixedRetriever{}, nil)

	_, _, err := p.Plan(context.Background(), TurnInput{TurnID: "t1", Text: "hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPlanning)
	var pe *PlanningError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "classify", pe.Stage)
	assert.Equal(t, 1, prov.calls, "planner must not retry")
}

func TestPlanSurvivesTransientRateLimitWithRetryingProvider(t *testing.T) {
	inner := &scriptedProvider{
		errs: []error{provider.NewError(provider.ErrCodeRateLimited, "scripted", "429", true)},
		responses: []provider.Response{
			{}, // consumed by the failing first attempt
			{Text: "DIRECT: Paris.", Usage: provider.Usage{InputTokens: 12, OutputTokens: 4}},
		},
	}
	retrying := provider.WithRetry(inner, provider.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}, zerolog.Nop())
	p := newPlanner(t, retrying, &fixedRetriever{}, nil)

	plan, usage, err := p.Plan(context.Background(), TurnInput{TurnID: "t1", Text: "capital of France?"})
	require.NoError(t, err, "a transient rate limit must be absorbed, not become a planning failure")
	require.True(t, plan.Direct)
	assert.Equal(t, "Paris.", plan.Answer)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 16, usage.Total())
}

func TestPlanUnparseableDecomposition(t *testing.T) {
	prov := &scriptedProvider{responses: []provider.Response{
		{Text: "TOOLS"},
		{Text: "sorry, I cannot produce a plan"},
	}}
	p := newPlanner(t, prov, &fixedRetriever{}, nil)

	_, _, err := p.Plan(context.Background(), TurnInput{TurnID: "t1", Text: "do things"})
	require.Error(t, err)
	var pe *PlanningError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "decompose", pe.Stage)
}

func TestPlanCompressesWhenOverBudget(t *testing.T) {
	prov := &scriptedProvider{responses: []provider.Response{
		{Text: "TOOLS"},
		{Text: planJSON(t)},
	}}
	bigTrace := json.RawMessage(`"` + strings.Repeat("x", 3000) + `"`)
	retr := &fixedRetriever{cases: []champion.Case{
		{ID: "c1", Question: "old case", Trace: bigTrace},
		{ID: "c2", Question: "another old case", Trace: bigTrace},
	}}
	alloc := budget.NewAllocator(500, zerolog.Nop())
	p := newPlanner(t, prov, retr, alloc)

	plan, _, err := p.Plan(context.Background(), TurnInput{
		TurnID: "t1",
		Text:   "sales for the past 7 days",
		History: []provider.Message{
			{Role: provider.RoleUser, Content: "earlier question"},
			{Role: provider.RoleAssistant, Content: "earlier answer"},
		},
	})
	require.NoError(t, err)
	require.Len(t, plan.Phases, 2)

	// Oversized cases must have been dropped from the final prompt.
	decomposeReq := prov.requests[1]
	prompt := decomposeReq.Messages[len(decomposeReq.Messages)-1].Content
	assert.NotContains(t, prompt, strings.Repeat("x", 100))
}

func TestPlanMarkdownFencedJSON(t *testing.T) {
	fenced := "```json\n" + planJSON(t) + "\n```"
	prov := &scriptedProvider{responses: []provider.Response{
		{Text: "TOOLS"},
		{Text: fenced},
	}}
	p := newPlanner(t, prov, &fixedRetriever{}, nil)

	plan, _, err := p.Plan(context.Background(), TurnInput{TurnID: "t1", Text: "sales"})
	require.NoError(t, err)
	assert.Len(t, plan.Phases, 2)
}

func TestBehaviorBlocksArePrepended(t *testing.T) {
	prov := &scriptedProvider{responses: []provider.Response{
		{Text: "TOOLS"},
		{Text: planJSON(t)},
	}}
	p := newPlanner(t, prov, &fixedRetriever{}, nil)

	_, _, err := p.Plan(context.Background(), TurnInput{
		TurnID:   "t1",
		Text:     "sales",
		Behavior: []string{"Always respond in formal tone."},
	})
	require.NoError(t, err)

	for _, req := range prov.requests {
		require.NotEmpty(t, req.Messages)
		assert.Equal(t, provider.RoleSystem, req.Messages[0].Role)
		assert.Equal(t, "Always respond in formal tone.", req.Messages[0].Content)
	}
}
