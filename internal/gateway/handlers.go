package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"maestro/internal/ledger"
	"maestro/internal/session"
)

const (
	errCodeInvalidRequest = "INVALID_REQUEST"
	errCodeNotFound       = "NOT_FOUND"
	errCodeInternal       = "INTERNAL_ERROR"
)

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func sendError(w http.ResponseWriter, status int, code, message string) {
	sendJSON(w, status, errorResponse{Error: errorDetail{Code: code, Message: message}})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.List(r.Context(), 0)
	if err != nil {
		sendError(w, http.StatusInternalServerError, errCodeInternal, err.Error())
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	sendJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if r.Body != nil {
		// An empty body creates an untitled session.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	sess, err := s.store.Create(r.Context(), body.Title)
	if err != nil {
		sendError(w, http.StatusInternalServerError, errCodeInternal, err.Error())
		return
	}
	sendJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, session.ErrSessionNotFound) {
		sendError(w, http.StatusNotFound, errCodeNotFound, err.Error())
		return
	}
	if err != nil {
		sendError(w, http.StatusInternalServerError, errCodeInternal, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.Get(r.Context(), id); errors.Is(err, session.ErrSessionNotFound) {
		sendError(w, http.StatusNotFound, errCodeNotFound, err.Error())
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		sendError(w, http.StatusInternalServerError, errCodeInternal, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.Get(r.Context(), id); errors.Is(err, session.ErrSessionNotFound) {
		sendError(w, http.StatusNotFound, errCodeNotFound, err.Error())
		return
	}
	history, err := s.store.History(r.Context(), id)
	if err != nil {
		sendError(w, http.StatusInternalServerError, errCodeInternal, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"messages": history})
}

// usageResponse summarizes a session's cost: per-turn records plus the
// cumulative figure, which is the exact sum of the turn costs.
type usageResponse struct {
	SessionID  string              `json:"session_id"`
	Records    []ledger.CostRecord `json:"records"`
	Cumulative ledger.MicroUSD     `json:"cumulative_micro_usd"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.Get(r.Context(), id); errors.Is(err, session.ErrSessionNotFound) {
		sendError(w, http.StatusNotFound, errCodeNotFound, err.Error())
		return
	}
	records, err := s.store.ListCostRecords(r.Context(), id)
	if err != nil {
		sendError(w, http.StatusInternalServerError, errCodeInternal, err.Error())
		return
	}
	resp := usageResponse{SessionID: id, Records: records}
	if resp.Records == nil {
		resp.Records = []ledger.CostRecord{}
	}
	if n := len(records); n > 0 {
		resp.Cumulative = records[n-1].SessionCumulative
	}
	sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		sendError(w, http.StatusBadRequest, errCodeInvalidRequest, "body must carry a non-empty 'text'")
		return
	}

	result, err := s.runner.Turn(r.Context(), id, body.Text)
	if errors.Is(err, session.ErrSessionNotFound) {
		sendError(w, http.StatusNotFound, errCodeNotFound, err.Error())
		return
	}
	if err != nil {
		// The turn may still carry a flushed cost record; the error response
		// stays terse and the event stream carries the detail.
		sendError(w, http.StatusInternalServerError, errCodeInternal, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, result)
}
