// Package httpapi provides the engine's debug and metrics surface: health,
// Prometheus metrics, and a read-only workflow-state endpoint. It is never
// the path by which a workflow is invoked — that happens via cmd/engine or
// an embedding program calling workflow.Runner directly.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/durableflow/engine/internal/repo"
)

// Server exposes /healthz, /metrics, and GET /workflows/{id}.
type Server struct {
	gw      repo.Gateway
	logger  *zap.Logger
	http    *http.Server
	version string
}

// NewServer builds a Server listening on addr. serviceVersion is reported
// from /healthz.
func NewServer(addr string, gw repo.Gateway, logger *zap.Logger, serviceVersion string) *Server {
	s := &Server{
		gw:      gw,
		logger:  logger.With(zap.String("component", "httpapi")),
		version: serviceVersion,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/workflows/", s.handleGetWorkflow)

	s.http = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting debug HTTP server", zap.String("address", s.http.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","version":%q,"timestamp":%q}`, s.version, time.Now().UTC().Format(time.RFC3339))
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/workflows/")
	id, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "invalid workflow instance id", http.StatusBadRequest)
		return
	}

	snapshot, err := s.gw.GetWorkflowInstanceWithSteps(r.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			http.Error(w, "workflow instance not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to load workflow snapshot", zap.Error(err), zap.String("workflow_instance_id", idStr))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		s.logger.Error("failed to encode workflow snapshot", zap.Error(err))
	}
}
