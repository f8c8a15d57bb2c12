// Package server wires the quarry HTTP API.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/cmd/quarry/config"
	"github.com/TFMV/quarry/cmd/quarry/middleware"
	"github.com/TFMV/quarry/pkg/agent"
	"github.com/TFMV/quarry/pkg/cache"
	"github.com/TFMV/quarry/pkg/handlers"
	"github.com/TFMV/quarry/pkg/infrastructure/memory"
	"github.com/TFMV/quarry/pkg/infrastructure/metrics"
	"github.com/TFMV/quarry/pkg/llm"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/services"
)

// Server is the quarry HTTP API with its components.
type Server struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics metrics.Collector

	handler       http.Handler
	httpServer    *http.Server
	metricsServer *metrics.MetricsServer

	closers []Closer
}

// New builds every configured component. A group whose configuration is
// missing (database DSN, Polygon key, model API key) answers its routes with
// 503; a configured database that cannot be reached fails New.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, version string) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			arrowGauge("arrow_bytes_in_use", "Bytes held by Arrow export buffers.", memory.Shared().BytesUsed),
			arrowGauge("arrow_bytes_peak", "High-water mark of Arrow export buffers.", memory.Shared().PeakBytes),
		)
		s.metrics = metrics.NewPrometheusCollectorWithRegistry(reg, metrics.DefaultNamespace)
		s.metricsServer = metrics.NewMetricsServer(cfg.Metrics.Address, cfg.Metrics.Path, reg)
	} else {
		s.metrics = metrics.NewNoOpCollector()
	}

	routes := &handlers.Routes{Version: version}
	if err := s.buildRoutes(ctx, routes); err != nil {
		s.Close()
		return nil, err
	}

	auth := middleware.NewAuthMiddleware(cfg.Auth, logger.With().Str("component", "auth_middleware").Logger())
	logMW := middleware.NewLoggingMiddleware(logger.With().Str("component", "http").Logger())
	metricsMW := middleware.NewMetricsMiddleware(&middlewareMetricsAdapter{collector: s.metrics})
	recoverMW := middleware.NewRecoveryMiddleware(logger.With().Str("component", "recovery_middleware").Logger())

	s.handler = middleware.Chain(routes.Mux(),
		recoverMW.Handler,
		logMW.Handler,
		auth.Handler,
		metricsMW.Handler,
	)
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
	}
	return s, nil
}

func (s *Server) component(name string) zerolog.Logger {
	return s.logger.With().Str("component", name).Logger()
}

func (s *Server) buildRoutes(ctx context.Context, routes *handlers.Routes) error {
	cfg := s.cfg
	svcMetrics := NewServiceMetrics(s.metrics)
	handlerMetrics := handlers.NewMetricsAdapter(s.metrics)

	client, err := llm.New(cfg.LLM, s.component("llm"))
	if err != nil {
		s.logger.Warn().Err(err).Msg("Model not configured; chat and generated SQL are unavailable")
		client = nil
	}

	var (
		analyses cache.Cache[*models.StockAnalysis]
		results  cache.Cache[*models.TabularResult]
	)
	if cfg.Cache.Enabled {
		cacheCfg := cache.DefaultConfig().WithMaxEntries(cfg.Cache.MaxEntries).WithTTL(cfg.Cache.TTL)
		analyses = cache.NewMemoryCache[*models.StockAnalysis](cacheCfg)
		results = cache.NewMemoryCache[*models.TabularResult](cacheCfg)
	}

	store, assistant, err := NewDatasetAssistant(cfg.Server.UploadDir, client, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open dataset store: %w", err)
	}
	s.closers = append(s.closers, store.Close)
	routes.Datasets = handlers.NewDatasetHandler(
		services.NewDatasetService(store, assistant, NewLogger(s.component("dataset_service")), svcMetrics),
		cfg.Server.MaxUploadSize,
		NewLogger(s.component("dataset_handler")),
		handlerMetrics,
	)

	if analyzer, err := NewAnalyzer(cfg.Market, s.component("market")); err != nil {
		s.logger.Warn().Err(err).Msg("Market data not configured")
	} else {
		routes.Stocks = handlers.NewStockHandler(
			services.NewStockService(analyzer, analyses, NewLogger(s.component("stock_service")), svcMetrics),
			NewLogger(s.component("stock_handler")),
			handlerMetrics,
		)
	}

	if cfg.Database.DSN == "" {
		s.logger.Warn().Msg("No database configured")
		return nil
	}
	x, closer, err := OpenExplorer(ctx, cfg.Database, s.component("explorer"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.closers = append(s.closers, closer)

	var asker services.Asker
	if client != nil {
		asker = NewAgent(client, x, cfg.Database.MaxRounds, s.component("agent"), agent.WithMaxHistory(cfg.Database.MaxHistory))
	}
	routes.Explorer = handlers.NewExplorerHandler(
		services.NewExplorerService(x, asker, results, NewLogger(s.component("explorer_service")), svcMetrics),
		NewLogger(s.component("explorer_handler")),
		handlerMetrics,
	)
	s.logger.Info().Str("backend", x.Backend()).Str("database", x.DatabaseName()).Msg("Database connected")
	return nil
}

// Handler returns the API handler with its middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully within the
// configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.metricsServer != nil {
		go func() {
			s.logger.Info().Str("address", s.cfg.Metrics.Address).Msg("Starting metrics server")
			if err := s.metricsServer.Start(); err != nil {
				s.logger.Error().Err(err).Msg("Failed to start metrics server")
			}
		}()
	}

	serverErrCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("address", ln.Addr().String()).
			Bool("auth", s.cfg.Auth.Enabled).
			Msg("Server listening")
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
		close(serverErrCh)
	}()

	select {
	case err := <-serverErrCh:
		if err != nil {
			s.Close()
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info().Msg("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, waits for in-flight ones and releases
// every component.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Dur("timeout", s.cfg.Server.ShutdownTimeout).Msg("Starting graceful shutdown")

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Error during server shutdown")
	}

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	s.Close()
	s.logger.Info().Msg("Server shutdown complete")
	return err
}

// Close releases the components in reverse order of creation.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Error().Err(err).Msg("Error closing component")
		}
	}
	s.closers = nil
}

func arrowGauge(name, help string, read func() int64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metrics.DefaultNamespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(read()) })
}
