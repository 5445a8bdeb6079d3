package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/visage-live/visage/pkg/coordinator/apierror"
	"github.com/visage-live/visage/pkg/coordinator/config"
	"github.com/visage-live/visage/pkg/coordinator/handlers"
	"github.com/visage-live/visage/pkg/coordinator/hub"
	"github.com/visage-live/visage/pkg/coordinator/metrics"
	"github.com/visage-live/visage/pkg/coordinator/mw"
	"github.com/visage-live/visage/pkg/coordinator/sessions"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	hub     *hub.Hub
	metrics *metrics.Metrics
	manager *sessions.Manager

	draining atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	m := metrics.New(cfg.MetricsNamespace)
	h := hub.New(cfg.ClientBuffer, m, logger)

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		mux:     http.NewServeMux(),
		hub:     h,
		metrics: m,
		manager: sessions.NewManager(cfg, h, m, logger),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{Config: s.cfg, Hub: s.hub})
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle("/session/message", handlers.MessageHandler{
		Config:  s.cfg,
		Manager: s.manager,
		Logger:  s.logger,
	})
	s.mux.Handle("/session/reset", handlers.ResetHandler{
		Config:  s.cfg,
		Manager: s.manager,
	})
	s.mux.Handle("/session/events", handlers.EventsHandler{
		Config: s.cfg,
		Hub:    s.hub,
		Logger: s.logger,
	})
	s.mux.Handle("/external-context", handlers.ContextHandler{
		Config:  s.cfg,
		Manager: s.manager,
	})
	s.mux.Handle("/external-context/status", handlers.ContextStatusHandler{
		Manager: s.manager,
	})
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// Hub exposes the event hub, mainly for tests.
func (s *Server) Hub() *hub.Hub { return s.hub }

// Manager exposes the session manager, mainly for tests.
func (s *Server) Manager() *sessions.Manager { return s.manager }

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.drainGuard(h)
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Run performs background housekeeping until the context ends.
func (s *Server) Run(ctx context.Context) {
	go s.manager.StartReaper(ctx)
}

// SetDraining makes session endpoints refuse new work while in-flight
// requests and streams wind down.
func (s *Server) SetDraining() {
	s.draining.Store(true)
}

// Close shuts down every managed speech session.
func (s *Server) Close() {
	s.manager.Close()
}

func (s *Server) drainGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() && strings.HasPrefix(r.URL.Path, "/session/") {
			reqID, _ := mw.RequestIDFrom(r.Context())
			apierror.Write(w, http.StatusServiceUnavailable, &apierror.Error{
				Type:      apierror.ErrUnavailable,
				Code:      "draining",
				Message:   "server is shutting down",
				RequestID: reqID,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
