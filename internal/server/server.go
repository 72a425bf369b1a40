// Package server assembles the HTTP service: the module router, the ambient
// middleware, the service endpoints and the background jobs.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/R3E-Network/commerce_layer/internal/auth"
	"github.com/R3E-Network/commerce_layer/internal/config"
	"github.com/R3E-Network/commerce_layer/internal/errors"
	"github.com/R3E-Network/commerce_layer/internal/kv"
	"github.com/R3E-Network/commerce_layer/internal/logging"
	"github.com/R3E-Network/commerce_layer/internal/metrics"
	"github.com/R3E-Network/commerce_layer/internal/middleware"
	"github.com/R3E-Network/commerce_layer/internal/module"
)

// Version is reported by /health and /info.
var Version = "dev"

// Options are the dependencies of a Server.
type Options struct {
	Config  *config.Config
	Logger  *logging.Logger
	Store   kv.Store
	Guard   *auth.Guard
	Metrics *metrics.Metrics
	Modules []module.Module
}

// Server is the assembled HTTP service.
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	store    kv.Store
	metrics  *metrics.Metrics
	registry *module.Registry
	limiter  *middleware.RateLimiter
	handler  http.Handler
	jobs     *cron.Cron
	started  time.Time
}

// New validates and mounts the modules and builds the middleware chain.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("server: config is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New(false)
	}

	registry := module.NewRegistry(opts.Store, opts.Guard, logger)
	for _, mod := range opts.Modules {
		if err := registry.Register(mod); err != nil {
			return nil, err
		}
	}

	s := &Server{
		cfg:      opts.Config,
		logger:   logger,
		store:    opts.Store,
		metrics:  m,
		registry: registry,
		limiter:  middleware.NewRateLimiter(opts.Config.RateLimitRPS, opts.Config.RateLimitBurst, logger),
		started:  time.Now(),
	}
	// Module endpoints are limited per user once the guard has run.
	registry.Use(s.limiter.Handler)

	router := mux.NewRouter()
	router.Use(middleware.MetricsMiddleware(m))
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	registry.Mount(router)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		module.WriteError(logger, w, r, errors.NotFound("route", r.URL.Path))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		module.WriteError(logger, w, r, &errors.ServiceError{
			Code:       "METHOD_NOT_ALLOWED",
			Message:    fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path),
			HTTPStatus: http.StatusMethodNotAllowed,
		})
	})

	var h http.Handler = router
	h = middleware.NewCORSMiddleware(opts.Config.AllowedOrigins()).Handler(h)
	h = middleware.NewTracingMiddleware(logger).Handler(h)
	h = middleware.Recovery(logger)(h)
	s.handler = h

	s.jobs = cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(logger))))
	if err := s.scheduleJobs(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry returns the module registry.
func (s *Server) Registry() *module.Registry {
	return s.registry
}

// Run serves HTTP on the configured address until ctx is cancelled, then
// shuts down gracefully and closes the store.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.jobs.Start()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")

		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		<-s.jobs.Stop().Done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if closeErr := s.store.Close(); closeErr != nil {
		s.logger.WithError(closeErr).Warn("failed to close store")
	}
	s.logger.Info("server stopped")
	return err
}
