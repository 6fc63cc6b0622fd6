package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/coordinator"
	"maestro/internal/events"
	"maestro/internal/executor"
	"maestro/internal/ledger"
	"maestro/internal/planner"
	"maestro/internal/provider"
	"maestro/internal/session"
	"maestro/internal/tools"
)

// scriptedProvider returns canned responses in order. Safe for concurrent
// use so serialized child sessions can share it.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []provider.Response
	calls     int
}

func (p *scriptedProvider) Name() string     { return "scripted" }
func (p *scriptedProvider) Models() []string { return []string{"test-model"} }

func (p *scriptedProvider) Invoke(ctx context.Context, req provider.Request) (*provider.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i >= len(p.responses) {
		return &provider.Response{Text: "{}", Usage: provider.Usage{InputTokens: 1}}, nil
	}
	resp := p.responses[i]
	return &resp, nil
}

type scriptedTool struct {
	tools.BaseTool
	results []tools.Result
	calls   int
	cancel  context.CancelFunc
}

func (t *scriptedTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	i := t.calls
	t.calls++
	if t.cancel != nil {
		t.cancel()
		return tools.NewExecutionFailure("interrupted"), nil
	}
	if i < len(t.results) {
		return t.results[i], nil
	}
	return tools.NewSuccess(json.RawMessage(`{"ok": true}`)), nil
}

func resp(text string, in, out int) provider.Response {
	return provider.Response{Text: text, Usage: provider.Usage{InputTokens: in, OutputTokens: out}}
}

// testPricing charges 1 micro-USD per input token and 2 per output token.
func testPricing() *ledger.Pricing {
	return ledger.NewPricing(map[string]ledger.ModelPrice{
		"scripted/test-model": {InputPerMTok: 1_000_000, OutputPerMTok: 2_000_000},
	})
}

func newTestEngine(t *testing.T, prov provider.Provider, cfg Config, toolList ...tools.Tool) (*Engine, *session.Store, *events.Bus) {
	t.Helper()
	db, err := session.Open(filepath.Join(t.TempDir(), "maestro.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := session.NewStore(db)

	registry := tools.NewRegistry()
	for _, tl := range toolList {
		require.NoError(t, registry.Register(tl))
	}

	bus := events.NewBus(256)
	cfg.Model = "test-model"
	coordCfg := coordinator.DefaultConfig()
	coordCfg.MaxParallelism = 1 // deterministic child order under a scripted provider
	e := New(Options{
		Provider:          prov,
		Registry:          registry,
		Pricing:           testPricing(),
		Store:             store,
		Bus:               bus,
		PlannerConfig:     planner.DefaultConfig(),
		ExecutorConfig:    executor.DefaultConfig(),
		CoordinatorConfig: coordCfg,
		Config:            cfg,
	}, zerolog.Nop())
	return e, store, bus
}

func planJSON(t *testing.T, phases ...map[string]any) string {
	t.Helper()
	data, err := json.Marshal(phases)
	require.NoError(t, err)
	return string(data)
}

func TestTurnDirectAnswer(t *testing.T) {
	prov := &scriptedProvider{responses: []provider.Response{
		resp("DIRECT: Paris.", 40, 12),
		resp("Quick geography question", 4, 3),
	}}
	cfg := DefaultConfig()
	e, store, _ := newTestEngine(t, prov, cfg)
	ctx := context.Background()

	sess, err := store.Create(ctx, "")
	require.NoError(t, err)

	result, err := e.Turn(ctx, sess.ID, "capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris.", result.Answer)
	assert.False(t, result.Degraded)
	assert.True(t, result.Plan.Direct)

	// 40+4 input at 1 µUSD, 12+3 output at 2 µUSD: naming tokens were
	// amended into the turn's persisted record.
	assert.Equal(t, ledger.MicroUSD(74), result.Cost.TurnCost)
	records, err := store.ListCostRecords(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ledger.MicroUSD(74), records[0].SessionCumulative)

	named, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Quick geography question", named.Title)
}

func TestTurnToolPlanEndToEnd(t *testing.T) {
	tool := &scriptedTool{BaseTool: tools.BaseTool{
		ToolName:        "sales_report",
		ToolDescription: "query sales records",
		ToolParameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"start_date": map[string]any{"type": "string"},
				"end_date":   map[string]any{"type": "string"},
			},
		},
	}}
	prov := &scriptedProvider{responses: []provider.Response{
		resp("TOOLS", 10, 2),
		resp(planJSON(t, map[string]any{"goal": "fetch sales", "tools": []string{"sales_report"}}), 20, 5),
		resp(`{}`, 5, 3),
		resp("Here are your sales.", 30, 8),
		resp("Sales summary", 4, 2),
	}}
	e, store, bus := newTestEngine(t, prov, DefaultConfig(), tool)
	ch, stop := bus.Subscribe()
	defer stop()
	ctx := context.Background()

	sess, err := store.Create(ctx, "")
	require.NoError(t, err)

	result, err := e.Turn(ctx, sess.ID, "sales for the past 7 days")
	require.NoError(t, err)
	assert.Equal(t, "Here are your sales.", result.Answer)
	assert.False(t, result.Degraded)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, planner.StatusCompleted, result.Plan.Phases[0].Status)
	assert.Equal(t, 1, tool.calls)

	// Resolved relative dates were bound into the tool call.
	assert.Contains(t, result.Outcomes[0].Args, "start_date")
	assert.Contains(t, result.Outcomes[0].Args, "end_date")

	// 65 input + 18 output tokens before naming, then 4/2 amended in.
	assert.Equal(t, ledger.MicroUSD(109), result.Cost.TurnCost)

	// Second turn: cumulative reflects the amended first turn.
	prov.mu.Lock()
	prov.responses = append(prov.responses, resp("DIRECT: ok", 7, 1))
	prov.mu.Unlock()
	_, err = e.Turn(ctx, sess.ID, "thanks")
	require.NoError(t, err)
	records, err := store.ListCostRecords(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, ledger.MicroUSD(109+9), records[1].SessionCumulative)

	types := map[events.Type]int{}
	for len(ch) > 0 {
		types[(<-ch).Type]++
	}
	assert.Equal(t, 2, types[events.TypeTurnStarted])
	assert.Equal(t, 2, types[events.TypePlanCreated])
	assert.Equal(t, 1, types[events.TypePhaseStarted])
	assert.Equal(t, 1, types[events.TypeToolInvoked])
	assert.GreaterOrEqual(t, types[events.TypeCostUpdated], 2)
	assert.Equal(t, 2, types[events.TypeTurnCompleted])
}

func TestTurnFansOutIndependentPhases(t *testing.T) {
	prov := &scriptedProvider{responses: []provider.Response{
		resp("TOOLS", 10, 2),
		resp(planJSON(t,
			map[string]any{"goal": "research alpha", "tools": []string{"x"}, "independent": true},
			map[string]any{"goal": "research beta", "tools": []string{"x"}, "independent": true},
		), 20, 5),
		resp("DIRECT: alpha findings", 6, 4), // child 1
		resp("DIRECT: beta findings", 6, 4),  // child 2
		resp("alpha and beta, combined", 15, 6),
	}}
	cfg := DefaultConfig()
	cfg.AutoTitle = false
	e, store, _ := newTestEngine(t, prov, cfg)
	ctx := context.Background()

	sess, err := store.Create(ctx, "already titled")
	require.NoError(t, err)

	result, err := e.Turn(ctx, sess.ID, "research alpha and beta")
	require.NoError(t, err)
	assert.Equal(t, "alpha and beta, combined", result.Answer)
	assert.False(t, result.Degraded)

	trail, err := store.Delegations(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	for _, d := range trail {
		assert.Equal(t, 1, d.NestingLevel)
		assert.Equal(t, coordinator.StatusCompleted, d.Status)

		child, err := store.Get(ctx, d.ChildSessionID)
		require.NoError(t, err)
		assert.Equal(t, sess.ID, child.ParentSessionID)
		assert.Equal(t, 1, child.NestingLevel)
	}

	// Parent turn cost folds in both children's tokens: 10+20+15 parent
	// input + 6+6 child input, 2+5+6 parent output + 4+4 child output.
	records, err := store.ListCostRecords(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ledger.MicroUSD(57+2*21), records[0].TurnCost)
}

func TestTurnCancellationStillFlushesCost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tool := &scriptedTool{
		BaseTool: tools.BaseTool{ToolName: "fetch", ToolDescription: "fetch", ToolParameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
		}},
		cancel: cancel,
	}
	prov := &scriptedProvider{responses: []provider.Response{
		resp("TOOLS", 10, 2),
		resp(planJSON(t, map[string]any{"goal": "fetch data", "tools": []string{"fetch"}}), 20, 5),
		resp(`{"query": "data"}`, 5, 3),
	}}
	cfg := DefaultConfig()
	cfg.AutoTitle = false
	e, store, _ := newTestEngine(t, prov, cfg, tool)

	sess, err := store.Create(context.Background(), "t")
	require.NoError(t, err)

	result, err := e.Turn(ctx, sess.ID, "fetch the data")
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Contains(t, result.Answer, "Partial result")

	// Tokens consumed before cancellation are persisted, not rolled back.
	records, err := store.ListCostRecords(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ledger.MicroUSD(35+2*10), records[0].TurnCost)
}

func TestTurnPlanningFailureFlushesCost(t *testing.T) {
	prov := &scriptedProvider{responses: []provider.Response{
		resp("garbled nonsense", 25, 7),
	}}
	cfg := DefaultConfig()
	cfg.AutoTitle = false
	e, store, _ := newTestEngine(t, prov, cfg)
	ctx := context.Background()

	sess, err := store.Create(ctx, "t")
	require.NoError(t, err)

	result, err := e.Turn(ctx, sess.ID, "do something")
	require.Error(t, err)
	assert.ErrorIs(t, err, planner.ErrPlanning)
	require.NotNil(t, result)
	assert.True(t, result.Degraded)

	records, err := store.ListCostRecords(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, records, 1, "a fatal planning error still flushes the cost record")
	assert.Equal(t, ledger.MicroUSD(25+2*7), records[0].TurnCost)
}

func TestCumulativeCostIsExactSumAcrossTurns(t *testing.T) {
	prov := &scriptedProvider{responses: []provider.Response{
		resp("DIRECT: one", 11, 3),
		resp("DIRECT: two", 7, 9),
		resp("DIRECT: three", 30, 1),
	}}
	cfg := DefaultConfig()
	cfg.AutoTitle = false
	e, store, _ := newTestEngine(t, prov, cfg)
	ctx := context.Background()

	sess, err := store.Create(ctx, "t")
	require.NoError(t, err)

	for _, text := range []string{"a", "b", "c"} {
		_, err := e.Turn(ctx, sess.ID, text)
		require.NoError(t, err)
	}

	records, err := store.ListCostRecords(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	var sum ledger.MicroUSD
	for _, rec := range records {
		sum += rec.TurnCost
		assert.Equal(t, sum, rec.SessionCumulative, "cumulative must equal the exact sum of turn costs")
	}
}
