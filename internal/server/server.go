// Package server exposes an [agent.Agent] over HTTP.
//
// Routes:
//
//	GET  /healthz       liveness
//	GET  /readyz        readiness ("llm" and "page" checks)
//	POST /v1/chat       run one turn: {"message"} -> {"text","steps","tool_calls","outcome"}
//	POST /v1/reset      clear the conversation
//	GET  /v1/tools      current tool namespace with origins
//	GET  /v1/history    conversation so far
//	GET  /v1/activity   tool activity log
//	GET  /v1/ws         streaming event surface (WebSocket)
//	GET  /metrics       Prometheus scrape endpoint
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/pagepilot/internal/agent"
	"github.com/MrWong99/pagepilot/internal/health"
	"github.com/MrWong99/pagepilot/internal/observe"
)

// maxBodyBytes bounds a /v1/chat request body.
const maxBodyBytes = 1 << 20

// Server routes HTTP requests to one agent.
type Server struct {
	agent          *agent.Agent
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	turnTimeout    time.Duration
	originPatterns []string
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth serves /healthz and /readyz from h. Without it only /healthz is
// served, with no readiness checks.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics records HTTP and WebSocket metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler replaces the default promhttp handler on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithTurnTimeout bounds each turn. Zero means no limit.
func WithTurnTimeout(d time.Duration) Option {
	return func(s *Server) { s.turnTimeout = d }
}

// WithOriginPatterns lists the cross-origin hosts allowed to open the
// WebSocket, e.g. "localhost:*".
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// New returns a server for a.
func New(a *agent.Agent, opts ...Option) *Server {
	s := &Server{agent: a}
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(observe.Middleware(s.metrics), chimw.Recoverer)

	s.health.Register(r)
	r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/reset", s.handleReset)
		r.Get("/tools", s.handleTools)
		r.Get("/history", s.handleHistory)
		r.Get("/activity", s.handleActivity)
		r.Get("/ws", s.handleWS)
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.turnTimeout > 0 {
		return context.WithTimeout(ctx, s.turnTimeout)
	}
	return context.WithCancel(ctx)
}

// ── REST ────────────────────────────────────────────────────────────────────

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Text      string `json:"text"`
	Steps     int    `json:"steps"`
	ToolCalls int    `json:"tool_calls"`
	Outcome   string `json:"outcome"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}

	ctx, cancel := s.turnContext(r.Context())
	defer cancel()

	turn, err := s.agent.Converse(ctx, req.Message, nil)
	switch {
	case errors.Is(err, agent.ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "turn timed out"})
		return
	case err != nil:
		observe.Logger(r.Context()).Warn("turn aborted", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Text:      turn.Text,
		Steps:     turn.Steps,
		ToolCalls: turn.ToolCalls,
		Outcome:   turn.Outcome,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.agent.Reset()
	w.WriteHeader(http.StatusNoContent)
}

type toolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Origin      string         `json:"origin"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	descs := s.agent.Tools()
	out := make([]toolInfo, len(descs))
	for i, d := range descs {
		out[i] = toolInfo{
			Name:        d.Name(),
			Description: d.Definition.Description,
			Origin:      d.Origin.String(),
			Parameters:  d.Definition.Parameters,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type historyCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type historyEntry struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	Name       string        `json:"name,omitempty"`
	ToolCalls  []historyCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	HasImage   bool          `json:"has_image,omitempty"`
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	msgs := s.agent.History()
	out := make([]historyEntry, len(msgs))
	for i, m := range msgs {
		out[i] = historyEntry{
			Role:       m.Role,
			Content:    m.Text(),
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
			HasImage:   m.HasImage(),
		}
		for _, c := range m.ToolCalls {
			out[i].ToolCalls = append(out[i].ToolCalls, historyCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleActivity(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Activity())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}
