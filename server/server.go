// Package server exposes the admin and configuration-provider HTTP API:
// project, endpoint, and credential admission, incident and alert
// acknowledgement, and the dashboard statistics queries.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/velzox/apimon/core"
	"github.com/velzox/apimon/secrets"
	"github.com/velzox/apimon/store"
)

type ctxKey int

const requestIDKey ctxKey = 0

// Server is the admin HTTP API.
type Server struct {
	store  store.Store
	stats  *store.StatsCache
	box    *secrets.Box
	cfg    core.ServerConfig
	logger core.Logger

	http *http.Server
}

// Options configures the server.
type Options struct {
	Store  store.Store
	Stats  *store.StatsCache
	Box    *secrets.Box
	Config core.ServerConfig
	Logger core.Logger
}

// New builds the server and its router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	s := &Server{
		store:  opts.Store,
		stats:  opts.Stats,
		box:    opts.Box,
		cfg:    opts.Config,
		logger: opts.Logger,
	}
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", opts.Config.Address, opts.Config.Port),
		Handler:      s.Router(),
		ReadTimeout:  opts.Config.ReadTimeout,
		WriteTimeout: opts.Config.WriteTimeout,
	}
	return s
}

// Router assembles the route tree. Exposed so tests can drive the handlers
// through httptest without binding a port.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.logRequests)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/projects", s.handleCreateProject)

		r.Route("/endpoints", func(r chi.Router) {
			r.Get("/", s.handleListEndpoints)
			r.Post("/", s.handleCreateEndpoint)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetEndpoint)
				r.Put("/", s.handleUpdateEndpoint)
				r.Delete("/", s.handleDeleteEndpoint)
				r.Patch("/enabled", s.handleSetEnabled)
				r.Get("/results", s.handleListResults)
				r.Get("/stats", s.handleEndpointStats)
				r.Get("/stats/hourly", s.handleHourlyStats)
				r.Get("/incidents", s.handleListIncidents)
				r.Get("/alerts", s.handleListAlerts)
				r.Post("/alerts/ack-all", s.handleAckAllAlerts)
			})
		})

		r.Route("/credentials", func(r chi.Router) {
			r.Get("/", s.handleListCredentials)
			r.Post("/", s.handleCreateCredential)
			r.Delete("/{id}", s.handleDeleteCredential)
		})

		r.Post("/incidents/{id}/ack", s.handleAckIncident)
		r.Post("/alerts/{id}/ack", s.handleAckAlert)
	})

	return r
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("Admin API listening", map[string]interface{}{
		"addr": s.http.Addr,
	})
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request handled", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  requestIDFrom(r.Context()),
		})
	})
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			s.logger.Error("Response encoding failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg, RequestID: requestIDFrom(r.Context())})
}

// writeStoreError maps domain errors to HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case core.IsNotFound(err):
		s.writeError(w, r, http.StatusNotFound, err.Error())
	case err == core.ErrDuplicateName:
		s.writeError(w, r, http.StatusConflict, err.Error())
	case err == core.ErrCredentialInUse:
		s.writeError(w, r, http.StatusConflict, err.Error())
	default:
		s.logger.Error("Store operation failed", map[string]interface{}{
			"error":      err.Error(),
			"request_id": requestIDFrom(r.Context()),
		})
		s.writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
