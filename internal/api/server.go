package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/CU-BIC/S3/internal/logging"
	"github.com/CU-BIC/S3/internal/metrics"
	"github.com/CU-BIC/S3/internal/middleware"
	"github.com/CU-BIC/S3/internal/sampler"
)

// ProgressProvider reports the state of a running collection.
type ProgressProvider interface {
	Progress() sampler.Progress
}

// StatusResponse is the /status payload.
type StatusResponse struct {
	sampler.Progress
	PercentComplete float64 `json:"percent_complete"`
}

// Server wires the status routes to a ProgressProvider.
type Server struct {
	router chi.Router
	logger *zap.Logger

	mu       sync.RWMutex
	progress ProgressProvider
}

// NewServer constructs a Server with middleware and routes. The provider may
// be attached later with SetProgress.
func NewServer(progress ProgressProvider, logger *zap.Logger) *Server {
	metrics.Init()
	s := &Server{progress: progress, logger: logging.OrNop(logger)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Recoverer(s.logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/status", s.status)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetProgress attaches the provider served on /status.
func (s *Server) SetProgress(p ProgressProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = p
}

func (s *Server) provider() ProgressProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.provider() == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	p := s.provider()
	if p == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no run attached")
		return
	}
	snap := p.Progress()
	s.writeJSON(w, http.StatusOK, StatusResponse{Progress: snap, PercentComplete: snap.PercentComplete()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe serves handler on addr until ctx is done, then shuts down
// within shutdownTimeout.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration, logger *zap.Logger) error {
	logger = logging.OrNop(logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	logger.Info("status server stopped")
	return nil
}
