// Package api provides the HTTP API of netsweep. It serves health and
// version endpoints, lists network adapters, streams sweeps over a websocket
// and exposes Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apihandlers "github.com/anstrom/netsweep/internal/api/handlers"
	"github.com/anstrom/netsweep/internal/api/middleware"
	"github.com/anstrom/netsweep/internal/config"
	"github.com/anstrom/netsweep/internal/errors"
	"github.com/anstrom/netsweep/internal/logging"
	"github.com/anstrom/netsweep/internal/metrics"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	systemMetricsInterval = 15 * time.Second
	maxHeaderBytes        = 1 << 20
)

// Dependencies are the scanner components the API drives.
type Dependencies struct {
	Targets apihandlers.TargetSource
	Sweeper apihandlers.Sweeper
	// Gate is optional; the health check reports it when set.
	Gate apihandlers.GateStatus
	// Metrics is optional; a fresh collector set is created when nil.
	Metrics *metrics.PrometheusMetrics
}

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
	config     *config.Config
	logger     *logging.Logger
	metrics    *metrics.PrometheusMetrics
	streams    *apihandlers.ScanStreamHandler
	startTime  time.Time
}

// New creates a new API server instance.
func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	if deps.Targets == nil || deps.Sweeper == nil {
		return nil, errors.NewConfigError(errors.CodeConfiguration, "api server requires a target source and a sweeper")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewPrometheusMetrics()
	}

	logger := logging.Default().WithComponent("api")

	server := &Server{
		router:    mux.NewRouter(),
		config:    cfg,
		logger:    logger,
		metrics:   deps.Metrics,
		startTime: time.Now(),
	}

	server.setupRoutes(deps)
	server.setupMiddleware()

	server.handler = server.router
	if len(cfg.API.CORSOrigins) > 0 {
		server.handler = handlers.CORS(
			handlers.AllowedOrigins(cfg.API.CORSOrigins),
			handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		)(server.router)
	}

	server.httpServer = &http.Server{
		Addr:           net.JoinHostPort(cfg.API.ListenAddr, strconv.Itoa(cfg.API.Port)),
		Handler:        server.handler,
		ReadTimeout:    cfg.API.ReadTimeout,
		WriteTimeout:   cfg.API.WriteTimeout,
		IdleTimeout:    cfg.API.IdleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}

	return server, nil
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server",
		"address", s.httpServer.Addr,
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout)

	s.metrics.StartPeriodicUpdates(ctx, systemMetricsInterval)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		s.streams.Close()
		return err
	}
}

// Stop cancels streaming sweeps and gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	// Hijacked websocket connections are not tracked by Shutdown.
	s.streams.Close()

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

func (s *Server) setupRoutes(deps Dependencies) {
	health := apihandlers.NewHealthHandler(deps.Gate, s.logger)
	adapters := apihandlers.NewAdapterHandler(deps.Targets, s.logger)
	s.streams = apihandlers.NewScanStreamHandler(deps.Targets, deps.Sweeper, s.config.API.MaxTargets, s.logger)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/liveness", health.Liveness).Methods(http.MethodGet)
	api.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	api.HandleFunc("/version", health.Version).Methods(http.MethodGet)
	api.HandleFunc("/adapters", adapters.ListAdapters).Methods(http.MethodGet)
	api.HandleFunc("/scan/ws", s.streams.ScanWebSocket).Methods(http.MethodGet)

	if s.config.Metrics.Enabled {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.Handle(path, promhttp.HandlerFor(s.metrics.GetRegistry(), promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}

	s.router.HandleFunc("/", s.index).Methods(http.MethodGet)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	if s.config.API.RequestLogging {
		s.router.Use(middleware.Logging(s.logger))
	}
	s.router.Use(middleware.Metrics(s.metrics))
	s.router.Use(middleware.SecurityHeaders())
	if s.config.API.RateLimitEnabled {
		s.router.Use(middleware.RateLimit(s.config.API.RateLimitRequests, s.config.API.RateLimitWindow, s.logger))
	}
}

// index describes the API for requests to the root path.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]string{
		"liveness": "/api/v1/liveness",
		"health":   "/api/v1/health",
		"version":  "/api/v1/version",
		"adapters": "/api/v1/adapters",
		"scan":     "/api/v1/scan/ws",
	}
	if s.config.Metrics.Enabled {
		endpoints["metrics"] = s.config.Metrics.Path
	}

	response := map[string]interface{}{
		"service":   "netsweep",
		"version":   "v1",
		"endpoints": endpoints,
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := sonic.ConfigDefault.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode API index response", "error", err)
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}

// ActiveStreams returns the number of websocket sweeps in progress.
func (s *Server) ActiveStreams() int {
	return s.streams.Active()
}
