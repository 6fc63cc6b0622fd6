package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/coordinator"
	"maestro/internal/ledger"
	"maestro/internal/provider"
)

var (
	_ ledger.Store      = (*Store)(nil)
	_ coordinator.Store = (*Store)(nil)
)

func openTestDB(t *testing.T) (*DB, *Store) {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "maestro.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, NewStore(db)
}

func TestOpenAppliesMigrations(t *testing.T) {
	db, _ := openTestDB(t)
	version, err := Version(db.DB)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	// Reopening is idempotent.
	db2, err := Open(db.Path())
	require.NoError(t, err)
	defer db2.Close()
	version, err = Version(db2.DB)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestSessionLifecycle(t *testing.T) {
	_, store := openTestDB(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "first chat")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	assert.Zero(t, sess.NestingLevel)

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "first chat", got.Title)

	require.NoError(t, store.Rename(ctx, sess.ID, "renamed"))
	got, err = store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)

	child, err := store.CreateChild(ctx, "child-1", sess.ID, 1, "researcher")
	require.NoError(t, err)
	assert.Equal(t, "child-1", child.ID)
	assert.Equal(t, sess.ID, child.ParentSessionID)
	assert.Equal(t, 1, child.NestingLevel)

	roots, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, roots, 1, "children are not listed as root sessions")

	require.NoError(t, store.Delete(ctx, sess.ID))
	_, err = store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, store.Rename(ctx, sess.ID, "x"), ErrSessionNotFound)
}

func TestMessageHistoryOrder(t *testing.T) {
	_, store := openTestDB(t)
	ctx := context.Background()
	sess, err := store.Create(ctx, "")
	require.NoError(t, err)

	msgs := []provider.Message{
		{Role: provider.RoleUser, Content: "hello"},
		{Role: provider.RoleAssistant, Content: "hi there"},
		{Role: provider.RoleUser, Content: "sales for the past 7 days"},
	}
	for _, m := range msgs {
		require.NoError(t, store.AppendMessage(ctx, sess.ID, m))
	}

	history, err := store.History(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, msgs, history)
}

func TestCostRecordRoundTripAndAmend(t *testing.T) {
	_, store := openTestDB(t)
	ctx := context.Background()
	sess, err := store.Create(ctx, "")
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	first := ledger.CostRecord{
		TurnID: "t1", Seq: 1, Provider: "openai", Model: "gpt-test",
		InputTokens: 1000, OutputTokens: 200,
		TurnCost: 2500, SessionCumulative: 2500,
		Priced: true, RecordedAt: now,
	}
	second := ledger.CostRecord{
		TurnID: "t2", Seq: 2, Provider: "openai", Model: "gpt-test",
		InputTokens: 500, OutputTokens: 100,
		TurnCost: 1200, SessionCumulative: 3700,
		Priced: true, RecordedAt: now.Add(time.Minute),
	}
	require.NoError(t, store.AppendCostRecord(ctx, sess.ID, first))
	require.NoError(t, store.AppendCostRecord(ctx, sess.ID, second))

	records, err := store.ListCostRecords(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "t1", records[0].TurnID)
	assert.Equal(t, ledger.MicroUSD(2500), records[0].TurnCost)
	assert.Equal(t, ledger.MicroUSD(3700), records[1].SessionCumulative)

	// In-place recompute after late system usage.
	first.InputTokens = 1400
	first.TurnCost = 3000
	first.SessionCumulative = 3000
	require.NoError(t, store.UpdateCostRecord(ctx, sess.ID, first))
	second.SessionCumulative = 4200
	require.NoError(t, store.UpdateCostRecord(ctx, sess.ID, second))

	records, err = store.ListCostRecords(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.MicroUSD(3000), records[0].TurnCost)
	assert.Equal(t, 1400, records[0].InputTokens)
	assert.Equal(t, ledger.MicroUSD(4200), records[1].SessionCumulative)

	missing := ledger.CostRecord{TurnID: "nope", Seq: 9}
	assert.ErrorIs(t, store.UpdateCostRecord(ctx, sess.ID, missing), ledger.ErrTurnNotFound)
}

func TestDelegationAuditTrail(t *testing.T) {
	_, store := openTestDB(t)
	ctx := context.Background()
	sess, err := store.Create(ctx, "")
	require.NoError(t, err)

	d := coordinator.Delegation{
		ID:              "d1",
		ParentSessionID: sess.ID,
		ChildSessionID:  "c1",
		NestingLevel:    1,
		Profile:         "researcher",
		Goal:            "find sources",
		Status:          coordinator.StatusRunning,
		StartedAt:       time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.AppendDelegation(ctx, d))
	require.NoError(t, store.CompleteDelegation(ctx, "d1", coordinator.StatusCompleted, 345, ""))

	trail, err := store.Delegations(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, coordinator.StatusCompleted, trail[0].Status)
	assert.Equal(t, 345, trail[0].TokensUsed)
	assert.NotNil(t, trail[0].CompletedAt)
	assert.Empty(t, trail[0].Error)

	require.NoError(t, store.AppendDelegation(ctx, coordinator.Delegation{
		ID: "d2", ParentSessionID: sess.ID, ChildSessionID: "c2",
		NestingLevel: 1, Status: coordinator.StatusRunning,
		StartedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.CompleteDelegation(ctx, "d2", coordinator.StatusFailed, 10, "profile crashed"))
	trail, err = store.Delegations(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "profile crashed", trail[1].Error)
}

func TestPruneOlderThan(t *testing.T) {
	_, store := openTestDB(t)
	ctx := context.Background()

	stale, err := store.Create(ctx, "old")
	require.NoError(t, err)
	fresh, err := store.Create(ctx, "new")
	require.NoError(t, err)

	past := time.Now().UTC().Add(-90 * 24 * time.Hour)
	_, err = store.db.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?", past, stale.ID)
	require.NoError(t, err)

	n, err := store.PruneOlderThan(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Get(ctx, stale.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}
