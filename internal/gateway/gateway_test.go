package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/engine"
	"maestro/internal/events"
	"maestro/internal/ledger"
	"maestro/internal/session"
)

type stubRunner struct {
	result *engine.TurnResult
	err    error
	gotID  string
	gotTxt string
}

func (r *stubRunner) Turn(ctx context.Context, sessionID, text string) (*engine.TurnResult, error) {
	r.gotID, r.gotTxt = sessionID, text
	return r.result, r.err
}

func newTestGateway(t *testing.T, runner TurnRunner) (*httptest.Server, *session.Store, *events.Bus) {
	t.Helper()
	db, err := session.Open(filepath.Join(t.TempDir(), "gw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := session.NewStore(db)
	bus := events.NewBus(64)

	srv := NewServer(DefaultConfig(), store, runner, bus, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store, bus
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	ts, _, _ := newTestGateway(t, &stubRunner{})
	var body map[string]string
	code := getJSON(t, ts.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestSessionEndpoints(t *testing.T) {
	ts, store, _ := newTestGateway(t, &stubRunner{})
	ctx := context.Background()

	resp, err := http.Post(ts.URL+"/api/v1/sessions", "application/json",
		strings.NewReader(`{"title": "quarterly numbers"}`))
	require.NoError(t, err)
	var created session.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "quarterly numbers", created.Title)
	assert.NotEmpty(t, created.ID)

	var got session.Session
	code := getJSON(t, ts.URL+"/api/v1/sessions/"+created.ID, &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, created.ID, got.ID)

	var listing struct {
		Sessions []session.Session `json:"sessions"`
	}
	code = getJSON(t, ts.URL+"/api/v1/sessions", &listing)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, listing.Sessions, 1)

	code = getJSON(t, ts.URL+"/api/v1/sessions/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, code)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/sessions/"+created.ID, nil)
	require.NoError(t, err)
	dresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	dresp.Body.Close()
	assert.Equal(t, http.StatusOK, dresp.StatusCode)

	_, err = store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestUsageEndpointReportsCumulative(t *testing.T) {
	ts, store, _ := newTestGateway(t, &stubRunner{})
	ctx := context.Background()

	sess, err := store.Create(ctx, "t")
	require.NoError(t, err)
	require.NoError(t, store.AppendCostRecord(ctx, sess.ID, ledger.CostRecord{
		TurnID: "t1", Seq: 1, Provider: "p", Model: "m",
		TurnCost: 2500, SessionCumulative: 2500, Priced: true, RecordedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.AppendCostRecord(ctx, sess.ID, ledger.CostRecord{
		TurnID: "t2", Seq: 2, Provider: "p", Model: "m",
		TurnCost: 1300, SessionCumulative: 3800, Priced: true, RecordedAt: time.Now().UTC(),
	}))

	var usage usageResponse
	code := getJSON(t, ts.URL+"/api/v1/sessions/"+sess.ID+"/usage", &usage)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, usage.Records, 2)
	assert.Equal(t, ledger.MicroUSD(3800), usage.Cumulative)
}

func TestTurnEndpointInvokesRunner(t *testing.T) {
	runner := &stubRunner{result: &engine.TurnResult{TurnID: "turn-1", Answer: "done"}}
	ts, store, _ := newTestGateway(t, runner)

	sess, err := store.Create(context.Background(), "t")
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/v1/sessions/"+sess.ID+"/turns", "application/json",
		strings.NewReader(`{"text": "run the numbers"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result engine.TurnResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "done", result.Answer)
	assert.Equal(t, sess.ID, runner.gotID)
	assert.Equal(t, "run the numbers", runner.gotTxt)
}

func TestTurnEndpointRejectsEmptyText(t *testing.T) {
	ts, _, _ := newTestGateway(t, &stubRunner{})
	resp, err := http.Post(ts.URL+"/api/v1/sessions/x/turns", "application/json",
		strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventStreamForwardsEvents(t *testing.T) {
	ts, _, bus := newTestGateway(t, &stubRunner{})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Wait for the subscription to land before publishing.
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 },
		2*time.Second, 10*time.Millisecond)

	bus.Publish(events.Event{Type: events.TypeTurnStarted, SessionID: "s1", TurnID: "t1"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.TypeTurnStarted, ev.Type)
	assert.Equal(t, "s1", ev.SessionID)
}

func TestEventStreamSessionFilter(t *testing.T) {
	ts, _, bus := newTestGateway(t, &stubRunner{})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events?session_id=wanted"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool { return bus.Subscribers() == 1 },
		2*time.Second, 10*time.Millisecond)

	bus.Publish(events.Event{Type: events.TypeTurnStarted, SessionID: "other", TurnID: "t1"})
	bus.Publish(events.Event{Type: events.TypeTurnCompleted, SessionID: "wanted", TurnID: "t2"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "wanted", ev.SessionID, "events for other sessions are filtered out")
	assert.Equal(t, events.TypeTurnCompleted, ev.Type)
}
