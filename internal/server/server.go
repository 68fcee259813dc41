// Package server runs the ledger's HTTP API and its companion metrics
// listener.
package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/internal/api"
	"github.com/inferloop/dpledger/internal/api/responses"
	"github.com/inferloop/dpledger/internal/observability/metrics"
	"github.com/inferloop/dpledger/pkg/constants"
	"github.com/inferloop/dpledger/pkg/errors"
)

// Server represents the HTTP server
type Server struct {
	httpServer    *http.Server
	metricsServer *http.Server
	router        *mux.Router
	logger        *logrus.Logger
	config        *Config
	handlers      *api.Handlers
	metrics       *metrics.PrometheusMetrics
	limiter       *clientLimiter
}

// NewServer creates a new HTTP server instance around an assembled
// handler set. The metrics registry may be nil; the metrics listener is
// then skipped even when enabled in the configuration.
func NewServer(config *Config, handlers *api.Handlers, prometheus *metrics.PrometheusMetrics, logger *logrus.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}
	if handlers == nil {
		return nil, fmt.Errorf("server requires an API handler set")
	}
	if logger == nil {
		logger = logrus.New()
	}

	server := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		config:   config,
		handlers: handlers,
		metrics:  prometheus,
	}
	if config.RateLimit > 0 {
		server.limiter = newClientLimiter(config.RateLimit, rateLimitWindow)
	}

	server.setupMiddleware()
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         config.Address(),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	if config.EnableMetrics && prometheus != nil {
		server.setupMetricsServer()
	}

	return server, nil
}

// Start starts the HTTP server and, when configured, the metrics
// listener. It blocks until the listener fails or is shut down.
func (s *Server) Start(ctx context.Context) error {
	if s.metricsServer != nil {
		go func() {
			s.logger.WithField("address", s.config.MetricsAddress()).Info("Starting metrics server")
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.WithError(err).Error("Metrics server error")
			}
		}()
	}

	s.logger.WithField("address", s.config.Address()).Info("Starting HTTP server")
	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		return s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	}
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("Error shutting down metrics server")
		}
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Error("Error shutting down HTTP server")
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// setupRoutes sets up the HTTP routes
func (s *Server) setupRoutes() {
	// Probes and version stay outside the API prefix
	s.router.HandleFunc("/health", s.handlers.Health.GetHealth).Methods("GET")
	s.router.HandleFunc("/health/live", s.handlers.Health.GetLiveness).Methods("GET")
	s.router.HandleFunc("/health/ready", s.handlers.Health.GetReadiness).Methods("GET")
	s.router.HandleFunc("/version", s.handlers.Health.GetVersion).Methods("GET")

	apiRouter := s.router.PathPrefix(constants.APIPrefix).Subrouter()

	// Scope lifecycle and spending
	apiRouter.HandleFunc("/scopes", s.handlers.Scopes.CreateScope).Methods("POST")
	apiRouter.HandleFunc("/scopes", s.handlers.Scopes.ListScopes).Methods("GET")
	apiRouter.HandleFunc("/scopes/{kind}/{id}", s.handlers.Scopes.GetScope).Methods("GET")
	apiRouter.HandleFunc("/scopes/{kind}/{id}", s.handlers.Scopes.DeleteScope).Methods("DELETE")
	apiRouter.HandleFunc("/scopes/{kind}/{id}/spend", s.handlers.Scopes.Spend).Methods("POST")
	apiRouter.HandleFunc("/scopes/{kind}/{id}/check", s.handlers.Scopes.CheckAllocation).Methods("POST")
	apiRouter.HandleFunc("/scopes/{kind}/{id}/reset", s.handlers.Scopes.ResetScope).Methods("POST")
	apiRouter.HandleFunc("/scopes/{kind}/{id}/events", s.handlers.Scopes.GetScopeEvents).Methods("GET")

	// Stateless composition planning
	apiRouter.HandleFunc("/compose", s.handlers.Composition.Compose).Methods("POST")
	apiRouter.HandleFunc("/compose/compare", s.handlers.Composition.Compare).Methods("POST")
	apiRouter.HandleFunc("/convert", s.handlers.Composition.Convert).Methods("POST")
	apiRouter.HandleFunc("/amplify", s.handlers.Composition.Amplify).Methods("POST")
	apiRouter.HandleFunc("/schedule", s.handlers.Composition.Schedule).Methods("POST")

	// Mechanism catalog
	apiRouter.HandleFunc("/mechanisms", s.handlers.Mechanisms.ListMechanisms).Methods("GET")
	apiRouter.HandleFunc("/mechanisms/{type}/calibrate", s.handlers.Mechanisms.Calibrate).Methods("POST")

	// Alerts
	apiRouter.HandleFunc("/alerts", s.handlers.Alerts.QueryStored).Methods("GET")
	apiRouter.HandleFunc("/alerts/active", s.handlers.Alerts.GetActive).Methods("GET")
	apiRouter.HandleFunc("/alerts/history", s.handlers.Alerts.GetHistory).Methods("GET")

	// Snapshots
	apiRouter.HandleFunc("/snapshots", s.handlers.Snapshots.CreateSnapshot).Methods("POST")
	apiRouter.HandleFunc("/snapshots", s.handlers.Snapshots.ListSnapshots).Methods("GET")
	apiRouter.HandleFunc("/snapshots/{name}", s.handlers.Snapshots.GetSnapshot).Methods("GET")
	apiRouter.HandleFunc("/snapshots/{name}", s.handlers.Snapshots.DeleteSnapshot).Methods("DELETE")
	apiRouter.HandleFunc("/snapshots/{name}/restore", s.handlers.Snapshots.RestoreSnapshot).Methods("POST")

	// Usage reporting and dashboard export
	apiRouter.HandleFunc("/usage", s.handlers.Usage.GetUsage).Methods("GET")
	apiRouter.HandleFunc("/dashboards/{template}", s.handlers.Dashboards.GetDashboard).Methods("GET")

	// Fallback handlers bypass router.Use, so decorate them directly
	s.router.NotFoundHandler = s.requestIDMiddleware(http.HandlerFunc(s.notFound))
	s.router.MethodNotAllowedHandler = s.requestIDMiddleware(http.HandlerFunc(s.methodNotAllowed))
}

// setupMiddleware sets up HTTP middleware. Order matters: the request
// ID must exist before anything logs, and recovery sits inside the
// logging and instrumentation layers so panics still show up as 500s
// in both.
func (s *Server) setupMiddleware() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.instrumentationMiddleware)
	s.router.Use(s.recoveryMiddleware)

	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}
	s.router.Use(s.securityHeadersMiddleware)
	s.router.Use(s.requestSizeLimitMiddleware)

	if s.limiter != nil {
		s.router.Use(s.rateLimitMiddleware)
	}
}

// setupMetricsServer sets up the metrics listener
func (s *Server) setupMetricsServer() {
	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	metricsRouter.HandleFunc("/health/live", s.handlers.Health.GetLiveness).Methods("GET")

	if s.config.EnableProfiling {
		setupProfilingRoutes(metricsRouter)
	}

	s.metricsServer = &http.Server{
		Addr:         s.config.MetricsAddress(),
		Handler:      metricsRouter,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupProfilingRoutes exposes pprof on the metrics listener only, so
// profiling never rides on the public API port.
func setupProfilingRoutes(router *mux.Router) {
	router.HandleFunc("/debug/pprof/", pprof.Index)
	router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	router.HandleFunc("/debug/pprof/trace", pprof.Trace)
	router.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	router.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	router.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	router.Handle("/debug/pprof/block", pprof.Handler("block"))
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	responses.WriteError(w, r, errors.NewValidationError(errors.CodeRouteNotFound,
		fmt.Sprintf("no route for %s", r.URL.Path)).WithHTTPStatus(http.StatusNotFound))
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	responses.WriteError(w, r, errors.NewValidationError(errors.CodeMethodNotAllowed,
		fmt.Sprintf("method %s is not allowed for %s", r.Method, r.URL.Path)).
		WithHTTPStatus(http.StatusMethodNotAllowed))
}

// GetRouter returns the HTTP router
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetConfig returns the server configuration
func (s *Server) GetConfig() *Config {
	return s.config
}
