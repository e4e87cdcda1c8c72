package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fieldops/internal/config"
	"fieldops/internal/domain"

	"github.com/rs/zerolog"
)

// Deps are the services the HTTP API is built on.
type Deps struct {
	Jobs      domain.JobService
	Sheets    domain.SheetsWriter
	Worker    domain.SyncWorker
	Queue     domain.SyncQueueRepository
	SheetName string
}

// HTTPServer exposes the job log and sheet operations over HTTP.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	server *http.Server
	auth   *HTTPAuth
	logger zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "http").Logger()
	}
	srv := &HTTPServer{cfg: cfg, deps: deps, logger: l}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealthz)

	mux.HandleFunc("GET /api/v1/categories", srv.handleCategories)
	mux.HandleFunc("GET /api/v1/jobs", srv.handleListJobs)
	mux.HandleFunc("POST /api/v1/jobs", srv.handleCreateJob)
	mux.HandleFunc("GET /api/v1/jobs/export", srv.handleExport)
	mux.HandleFunc("GET /api/v1/jobs/{id}", srv.handleGetJob)
	mux.HandleFunc("PUT /api/v1/jobs/{id}", srv.handleUpdateJob)
	mux.HandleFunc("DELETE /api/v1/jobs/{id}", srv.handleDeleteJob)

	mux.HandleFunc("POST /api/v1/sheets/sync", srv.handleSheetSync)
	mux.HandleFunc("POST /api/v1/sheets/headers", srv.handleSheetHeaders)
	mux.HandleFunc("GET /api/v1/sheets/status", srv.handleSheetStatus)
	mux.HandleFunc("DELETE /api/v1/sheets/rows/{no}", srv.handleSheetDeleteRow)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           loggingMiddleware(l, srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		// a full resync runs inside POST /api/v1/sheets/sync
		WriteTimeout: 2 * time.Minute,
	}

	return srv
}

// Handler returns the fully wrapped router.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
