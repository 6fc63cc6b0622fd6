package engine

import (
	"context"
	"fmt"
	"strings"

	"maestro/internal/ledger"
	"maestro/internal/provider"
	"maestro/internal/session"
)

const titlePrompt = `Generate a short title (at most six words) for a conversation that starts with the request below. Respond with the title only, no quotes.

%s`

// nameSession generates a session title after the first turn. The naming
// call is a system-level call landing after the turn's cost record was
// persisted, so its tokens amend that record in place instead of vanishing.
func (e *Engine) nameSession(ctx context.Context, sess *session.Session, text, turnID string, led *ledger.SessionLedger) (ledger.CostRecord, bool) {
	resp, err := e.provider.Invoke(ctx, provider.Request{
		Model: e.cfg.Model,
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: fmt.Sprintf(titlePrompt, text)},
		},
		MaxTokens: 32,
	})
	if err != nil {
		e.log.Warn().Err(err).Msg("session naming call failed")
		return ledger.CostRecord{}, false
	}

	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Text), `"`))
	if title == "" {
		return ledger.CostRecord{}, false
	}
	if err := e.store.Rename(ctx, sess.ID, title); err != nil {
		e.log.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to store session title")
	}

	rec, err := led.AmendTurn(context.WithoutCancel(ctx), turnID, resp.Usage)
	if err != nil {
		e.log.Error().Err(err).Str("turn_id", turnID).Msg("failed to fold naming tokens into turn cost")
		return ledger.CostRecord{}, false
	}
	e.log.Debug().Str("session_id", sess.ID).Str("title", title).Msg("session named")
	return rec, true
}
