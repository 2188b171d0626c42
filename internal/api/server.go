// Package api serves the HTTP publish and status endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"kafnotif/internal/event"
	"kafnotif/internal/logging"
	"kafnotif/internal/status"
)

const maxBody = 1 << 20

// Publisher is the outbound half the API needs.
type Publisher interface {
	Publish(ctx context.Context, n *event.Notification) error
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	router     *chi.Mux
	pub        Publisher
	store      status.Store
	ready      func() bool
	log        *slog.Logger
	httpServer *http.Server
}

// NewServer wires the routes. store may be nil when tracking is off; ready
// may be nil when no consumption pool runs in this process.
func NewServer(cfg ServerConfig, pub Publisher, store status.Store, ready func() bool) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	r := chi.NewRouter()
	s := &Server{router: r, pub: pub, store: store, ready: ready, log: logging.For("api")}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api/notifications", func(r chi.Router) {
		r.Post("/", s.handlePublish)
		r.Get("/{id}", s.handleStatus)
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks; it returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("http api listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.httpServer.Shutdown(ctx) }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "DOWN", "consuming": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "UP", "consuming": s.ready != nil})
}

type publishResponse struct {
	ID      string `json:"id"`
	Channel string `json:"notificationType"`
	Status  string `json:"status"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	n, err := event.Decode(raw)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.ScheduledAt == nil {
		now := time.Now().UTC()
		n.ScheduledAt = &now
	}
	if err := n.Validate(); err != nil {
		s.errorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	// PENDING goes in first; once published a consumer may record a later state.
	rec := status.Record{ID: n.ID, Channel: string(n.Channel), Recipient: n.Recipient, State: status.StatePending}
	s.putStatus(r.Context(), rec)
	if err := s.pub.Publish(r.Context(), n); err != nil {
		rec.State, rec.LastError = status.StateFailed, "publish: "+err.Error()
		s.putStatus(r.Context(), rec)
		s.errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, publishResponse{ID: n.ID, Channel: string(n.Channel), Status: string(status.StatePending)})
}

func (s *Server) putStatus(ctx context.Context, rec status.Record) {
	if s.store == nil {
		return
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := s.store.Put(ctx, rec); err != nil {
		s.log.Warn("status update failed", "id", rec.ID, "state", rec.State, "err", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusNotImplemented, "status tracking is disabled")
		return
	}
	rec, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, status.ErrNotFound):
		s.errorResponse(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]any{"error": msg, "status": code})
}
