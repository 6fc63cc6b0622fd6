// Package gateway exposes a minimal HTTP and WebSocket surface for an
// external presentation layer: session CRUD, turn submission, cost lookups
// and a live stream of engine events. Rendering stays on the other side of
// the wire.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"maestro/internal/engine"
	"maestro/internal/events"
	"maestro/internal/session"
)

// TurnRunner runs one user turn to completion. Satisfied by *engine.Engine.
type TurnRunner interface {
	Turn(ctx context.Context, sessionID, text string) (*engine.TurnResult, error)
}

// Config tunes the gateway server.
type Config struct {
	Addr        string
	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:7950",
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
}

// Server is the HTTP gateway.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	store      *session.Store
	runner     TurnRunner
	bus        *events.Bus
	log        zerolog.Logger
}

// NewServer assembles the gateway around an engine, a session store and the
// event bus.
func NewServer(cfg Config, store *session.Store, runner TurnRunner, bus *events.Bus, log zerolog.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		store:  store,
		runner: runner,
		bus:    bus,
		log:    log.With().Str("component", "gateway").Logger(),
	}
	s.routes()

	handler := Recovery(s.log)(Logging(s.log)(CORS(s.router)))
	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     handler,
		ReadTimeout: cfg.ReadTimeout,
		// No write timeout: the event stream holds its connection open.
		WriteTimeout: 0,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/events", s.handleEventStream)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/usage", s.handleUsage).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/turns", s.handleTurn).Methods(http.MethodPost)
}

// Handler returns the assembled handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("gateway listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
