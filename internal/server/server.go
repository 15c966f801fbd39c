// Package server hosts the HTTP surface: websocket connections for the relay,
// the authentication collaborator API, static files and the ops endpoint.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/Yuzoo0703/Trae-chat-room/internal/auth"
	"github.com/Yuzoo0703/Trae-chat-room/internal/config"
	"github.com/Yuzoo0703/Trae-chat-room/internal/directory"
	"github.com/Yuzoo0703/Trae-chat-room/internal/relay"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server wires dependencies and hosts the HTTP listeners.
type Server struct {
	cfg           config.Config
	log           *zap.Logger
	store         directory.Store
	relay         *relay.Service
	tokens        *auth.TokenService
	validate      *validator.Validate
	adminPassword string

	httpSrv  *http.Server
	adminSrv *http.Server
	ready    atomic.Bool
}

// New constructs a server with its dependencies. An empty adminPassword
// disables the admin API.
func New(cfg config.Config, logger *zap.Logger, store directory.Store, svc *relay.Service, tokens *auth.TokenService, adminPassword string) *Server {
	return &Server{
		cfg:           cfg,
		log:           logger,
		store:         store,
		relay:         svc,
		tokens:        tokens,
		validate:      validator.New(),
		adminPassword: adminPassword,
	}
}

// Start boots both listeners and blocks until ctx is cancelled or the main
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.startAdminServer()

	s.httpSrv = &http.Server{
		Addr:              s.cfg.HTTPAddress,
		Handler:           s.routes(),
		ReadHeaderTimeout: s.cfg.Admin.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.Info("server listening", zap.String("address", s.cfg.HTTPAddress))
	s.ready.Store(true)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
		defer cancel()
		s.Shutdown(stopCtx)
		return nil
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Get("/search_users", s.handleSearchUsers)

		r.Post("/admin/login", s.handleAdminLogin)
		r.Group(func(r chi.Router) {
			r.Use(s.adminAuth)
			r.Get("/admin/users", s.handleAdminListUsers)
			r.Delete("/admin/users/{userID}", s.handleAdminDeleteUser)
			r.Post("/admin/wipe", s.handleAdminWipe)
		})
	})

	if dir := s.cfg.StaticDir; dir != "" {
		if _, err := os.Stat(dir); err == nil {
			r.Handle("/*", http.FileServer(http.Dir(dir)))
		} else {
			s.log.Warn("static directory missing; not serving assets", zap.String("dir", dir))
		}
	}

	return r
}

// startAdminServer exposes metrics and health probes on a separate address so
// they never share a port with client traffic.
func (s *Server) startAdminServer() {
	if s.cfg.Admin.Address == "" {
		return
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	s.relay.RegisterMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not_ready"))
	})

	s.adminSrv = &http.Server{
		Addr:              s.cfg.Admin.Address,
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.Admin.ReadHeaderTimeout,
	}

	go func() {
		if err := s.adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server stopped", zap.Error(err))
		}
	}()
	s.log.Info("admin server listening", zap.String("address", s.cfg.Admin.Address))
}

// Shutdown attempts a graceful stop of both listeners.
func (s *Server) Shutdown(ctx context.Context) {
	s.ready.Store(false)

	if s.adminSrv != nil {
		if err := s.adminSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server shutdown", zap.Error(err))
		}
	}
	if s.httpSrv == nil {
		return
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("server shutdown timed out; forcing close", zap.Error(err))
		_ = s.httpSrv.Close()
	}
	s.log.Info("server stopped")
}
