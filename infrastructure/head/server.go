// Package head implements the head server: the process that owns the
// fully resolved configuration and the live service registry. Every
// other process in a deployment learns its configuration and its peers
// from here instead of from files, which keeps a multi-process run
// consistent by construction.
package head

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/go-rollouts/infrastructure/transport"
	"github.com/ahrav/go-rollouts/internal/application"
	"github.com/ahrav/go-rollouts/internal/domain"
)

// Server serves the resolved configuration at GET /v1/config, the
// registry at GET and POST /v1/services, and readiness at GET /health.
type Server struct {
	cfg      *application.ResolvedConfig
	registry *application.ServiceRegistry
	logger   *slog.Logger
	mux      *http.ServeMux
}

// registrationRequest is the body of POST /v1/services.
type registrationRequest struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
}

// NewServer builds the head server over a resolved configuration and
// its registry. logger may be nil.
func NewServer(cfg *application.ResolvedConfig, registry *application.ServiceRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{cfg: cfg, registry: registry, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /v1/config", s.handleConfig)
	s.mux.HandleFunc("GET /v1/services", s.handleListServices)
	s.mux.HandleFunc("POST /v1/services", s.handleRegister)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	return s
}

// Handler returns the server's routing handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves at the configured head address until the
// context is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	head := s.cfg.Head()
	addr := fmt.Sprintf("%s:%d", head.Host, head.Port)
	return transport.ServeUntilDone(ctx, addr, s.mux, s.logger)
}

// handleConfig serves the resolved configuration as YAML. Workers fetch
// it at startup so every process runs from the identical tree.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	raw, err := s.cfg.YAML()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode configuration: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleListServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Entries())
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid registration: "+err.Error())
		return
	}
	if req.Name == "" || req.BaseURL == "" {
		writeError(w, http.StatusBadRequest, "registration requires name and base_url")
		return
	}

	if err := s.registry.Register(req.Name, req.BaseURL); err != nil {
		var conflict *application.RegistrationConflictError
		switch {
		case errors.As(err, &conflict):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrServiceNotDeclared):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.logger.Info("service registered", "name", req.Name, "base_url", req.BaseURL)
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
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
