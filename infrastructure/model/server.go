package model

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ahrav/go-rollouts/infrastructure/transport"
	"github.com/ahrav/go-rollouts/internal/domain"
)

// Server exposes a CoreModel over HTTP at the Responses-API surface:
// POST /v1/responses for generation and GET /health for readiness.
type Server struct {
	core   CoreModel
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer builds the HTTP surface for a model backend. logger may be
// nil.
func NewServer(core CoreModel, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{core: core, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /v1/responses", s.handleResponses)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

// Handler returns the server's routing handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until the context is canceled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return transport.ServeUntilDone(ctx, addr, s.mux, s.logger)
}

func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	var req domain.ResponsesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Input) == 0 {
		writeError(w, http.StatusBadRequest, "input must not be empty")
		return
	}

	start := time.Now()
	resp, err := s.core.Generate(r.Context(), &req)
	if err != nil {
		s.logger.Error("generation failed", "model", s.core.Model(), "error", err)
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeError(w, status, err.Error())
		return
	}

	s.logger.Debug("generation served",
		"model", resp.Model,
		"output_items", len(resp.Output),
		"elapsed", time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
