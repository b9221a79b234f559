// Package resource implements resource servers: the tool endpoints an
// agent calls mid-interaction and the verification endpoint that scores
// a completed interaction.
//
// A Server is assembled from named tools plus a Verifier. The grader
// and calculator servers in this package cover the common cases of
// reference-answer scoring and multi-step tool use; domain-specific
// servers compose the same pieces.
package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/ahrav/go-rollouts/infrastructure/transport"
	"github.com/ahrav/go-rollouts/internal/domain"
)

// ToolFunc executes one tool invocation. Arguments arrive as the raw
// JSON blob the model produced; the tool owns its own decoding and
// validation.
type ToolFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Verifier scores a completed interaction.
type Verifier interface {
	Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResponse, error)
}

// Server exposes registered tools at POST /tools/{name}, verification
// at POST /verify, and readiness at GET /health.
type Server struct {
	name     string
	verifier Verifier
	logger   *slog.Logger

	mu    sync.RWMutex
	tools map[string]ToolFunc
	specs map[string]domain.ToolSpec

	mux *http.ServeMux
}

// NewServer builds a resource server around a verifier. logger may be
// nil.
func NewServer(name string, verifier Verifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		name:     name,
		verifier: verifier,
		logger:   logger,
		tools:    make(map[string]ToolFunc),
		specs:    make(map[string]domain.ToolSpec),
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /tools/{name}", s.handleTool)
	s.mux.HandleFunc("GET /tools", s.handleListTools)
	s.mux.HandleFunc("POST /verify", s.handleVerify)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

// RegisterTool adds a named tool endpoint with its declaration. The
// declaration is what agents advertise to the model as the callable
// surface.
func (s *Server) RegisterTool(spec domain.ToolSpec, fn ToolFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[spec.Name] = fn
	s.specs[spec.Name] = spec
}

// ToolSpecs returns the declarations of every registered tool, sorted
// by name.
func (s *Server) ToolSpecs() []domain.ToolSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	specs := make([]domain.ToolSpec, 0, len(s.specs))
	for _, spec := range s.specs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Handler returns the server's routing handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return transport.ServeUntilDone(ctx, addr, s.mux, s.logger)
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	s.mu.RLock()
	fn, ok := s.tools[name]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown tool %q", name))
		return
	}

	args, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read arguments: "+err.Error())
		return
	}

	result, err := fn(r.Context(), args)
	if err != nil {
		s.logger.Warn("tool failed", "server", s.name, "tool", name, "error", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}

// handleListTools serves the tool declarations so agents can discover
// the callable surface instead of hardcoding it.
func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ToolSpecs())
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid verify request: "+err.Error())
		return
	}

	resp, err := s.verifier.Verify(r.Context(), req)
	if err != nil {
		s.logger.Error("verification failed", "server", s.name, "error", err)
		status := http.StatusUnprocessableEntity
		if errors.Is(err, domain.ErrInvalidConfiguration) {
			status = http.StatusInternalServerError
		}
		writeError(w, status, err.Error())
		return
	}
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
