package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/felixgeelhaar/relay-go/application/batch"
	"github.com/felixgeelhaar/relay-go/application/lifecycle"
	"github.com/felixgeelhaar/relay-go/infrastructure/config"
	"github.com/felixgeelhaar/relay-go/infrastructure/logging"
)

// Handler holds the application services behind the HTTP routes.
type Handler struct {
	service *lifecycle.Service
	batch   *batch.Orchestrator
}

// NewHandler creates the route handler.
func NewHandler(service *lifecycle.Service, orchestrator *batch.Orchestrator) *Handler {
	return &Handler{service: service, batch: orchestrator}
}

// Routes builds the full route table. Literal segments win over
// wildcards, so /v1/events/inbox and /v1/events/batch take precedence
// over /v1/events/{id}.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /v1/events", h.handleCreate)
	mux.HandleFunc("GET /v1/events", h.handleList)
	mux.HandleFunc("GET /v1/events/inbox", h.handleInbox)
	mux.HandleFunc("GET /v1/events/{id}", h.handleGet)
	mux.HandleFunc("PATCH /v1/events/{id}", h.handleUpdate)
	mux.HandleFunc("DELETE /v1/events/{id}", h.handleDelete)
	mux.HandleFunc("POST /v1/events/{id}/acknowledge", h.handleAcknowledge)
	mux.HandleFunc("POST /v1/events/{id}/replay", h.handleReplay)

	mux.HandleFunc("POST /v1/events/batch", h.handleBatchCreate)
	mux.HandleFunc("POST /v1/events/batch/update", h.handleBatchUpdate)
	mux.HandleFunc("POST /v1/events/batch/delete", h.handleBatchDelete)
	mux.HandleFunc("POST /v1/events/batch/replay", h.handleBatchReplay)

	return withRequestLogging(withCallerID(mux))
}

// Server wraps the HTTP listener with graceful shutdown.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// NewServer creates a server for the handler.
func NewServer(cfg config.ServerConfig, handler *Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler.Routes(),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Add(logging.Str("addr", s.httpServer.Addr)).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	logging.Info().Msg("http server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}
