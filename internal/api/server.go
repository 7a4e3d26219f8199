// Package api exposes the turn orchestrator over HTTP. It carries two
// caller-facing surfaces — a JSON POST endpoint used by the telephony
// webhook bridge and the tenant test console, and a websocket channel for
// the embeddable web-chat widget — plus the health endpoints. Both surfaces
// are thin adapters: decode, call [turn.Processor.ProcessTurn], encode.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/relaydesk/relaydesk/internal/health"
	"github.com/relaydesk/relaydesk/internal/observe"
	"github.com/relaydesk/relaydesk/internal/turn"
)

// maxTurnBody caps the request body for /v1/turn. A caller utterance is a
// few hundred bytes; anything near this limit is garbage or abuse.
const maxTurnBody = 64 << 10

// TurnProcessor is the orchestrator surface the server needs. Satisfied by
// [*turn.Processor].
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, in turn.Input) *turn.Output
}

// Server serves the channel-adapter HTTP surface.
type Server struct {
	proc    TurnProcessor
	health  *health.Handler
	metrics *observe.Metrics
	log     *slog.Logger

	// origins allowed to open the web-chat websocket. Empty means the
	// origin check is skipped (local test console).
	origins []string
}

// ServerOption configures a [Server].
type ServerOption func(*Server)

// WithHealth sets the health handler registered on the mux.
func WithHealth(h *health.Handler) ServerOption {
	return func(s *Server) { s.health = h }
}

// WithServerMetrics overrides the default metrics instance.
func WithServerMetrics(m *observe.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithAllowedOrigins sets the websocket origin allowlist for the web-chat
// widget.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.origins = origins }
}

// NewServer creates the API server around a turn processor.
func NewServer(proc TurnProcessor, log *slog.Logger, opts ...ServerOption) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		proc: proc,
		log:  log,
	}
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the full routed handler with observability middleware
// applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/turn", s.handleTurn)
	mux.HandleFunc("GET /v1/chat", s.handleChat)
	s.health.Register(mux)
	return observe.Middleware(s.metrics)(mux)
}

// handleTurn runs one orchestrator turn for a JSON request body shaped like
// [turn.Input] and answers with the [turn.Output] document.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var in turn.Input
	body := http.MaxBytesReader(w, r.Body, maxTurnBody)
	if err := json.NewDecoder(body).Decode(&in); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, body)

	if in.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "companyId is required")
		return
	}
	if in.Channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}

	out := s.proc.ProcessTurn(r.Context(), in)
	writeJSON(w, http.StatusOK, out)
}

// errorBody is the JSON error envelope for the HTTP surface.
type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}
