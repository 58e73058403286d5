package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"webp-gateway/internal/filesystem"
	"webp-gateway/internal/handlers"
	"webp-gateway/internal/logging"
	"webp-gateway/internal/memory"
	"webp-gateway/internal/metrics"
	"webp-gateway/internal/middleware"
	"webp-gateway/internal/startup"
	"webp-gateway/internal/webp"
)

const (
	shutdownTimeout  = 30 * time.Second
	collectInterval  = time.Minute
	readHeaderLimit  = 15 * time.Second
	idleConnDeadline = 60 * time.Second
)

func newServeCmd(cfg *startup.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(cfg)
		},
	}
	cmd.Flags().Int("port", 0, "HTTP port (default: 8080, env: WEBP_SERVER_PORT)")
	cmd.Flags().Int("metrics-port", 0, "metrics port (default: 9090, env: WEBP_SERVER_METRICS_PORT)")
	cmd.Flags().Bool("metrics", true, "run the metrics server (env: WEBP_SERVER_METRICS_ENABLED)")
	return cmd
}

func runServe(cfg *startup.Config) error {
	startTime := time.Now()

	memory.ConfigureFromEnv()
	startup.LogConfiguration(cfg)

	if err := startup.PrepareDirectories(cfg); err != nil {
		return err
	}

	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(map[string]string{
		"public": cfg.PublicDir,
		"cache":  cfg.WebP.CachePath,
	}))
	filesystem.SetObserver(metrics.NewFilesystemObserver())

	g, err := openGateway(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer g.Close()

	if g.db != nil {
		startup.LogIndexInit(g.db.Path(), g.indexOpened, g.indexRecords, g.indexChanged)
	} else {
		startup.LogIndexDisabled()
	}
	startup.LogConverterInit(cfg, g.mw.Pool().Size())
	metrics.InitializeMetrics(g.mw.Converter().Name())

	h := handlers.New(g.mw)
	router := setupRouter(h, g.mw)
	startup.LogHTTPRoutes(router, cfg.Log.StaticFiles, cfg.Log.HealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogStaticFiles = cfg.Log.StaticFiles
	loggingConfig.LogHealthChecks = cfg.Log.HealthChecks
	loggedHandler := middleware.Logger(loggingConfig)(router)
	handler := middleware.Metrics(middleware.DefaultMetricsConfig())(loggedHandler)

	// Conversions can take longer than any sensible write timeout, so only
	// header reads and idle connections are bounded.
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderLimit,
		IdleTimeout:       idleConnDeadline,
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", cfg.Server.Port, err)
	}

	var metricsSrv *http.Server
	if cfg.Server.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", h.MetricsHandler())
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: readHeaderLimit,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	collector := metrics.NewCollector(g.mw.Store(), collectInterval)
	collector.Start()

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	startup.LogServerStarted(startup.ServerInfo{
		Port:            cfg.Server.Port,
		MetricsPort:     cfg.Server.MetricsPort,
		MetricsEnabled:  cfg.Server.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		startup.LogShutdownInitiated(sig.String())
	case runErr = <-serveErr:
		logging.Error("Server error: %v", runErr)
		startup.LogShutdownInitiated("server error")
	}

	shutdown(g, srv, metricsSrv, collector)
	return runErr
}

func setupRouter(h *handlers.Handlers, mw *webp.Middleware) *mux.Router {
	r := mux.NewRouter()

	// Health check and version routes
	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)

	// Cache administration
	r.HandleFunc("/api/cache/stats", h.GetCacheStats).Methods(http.MethodGet)
	r.HandleFunc("/api/cache/clear", h.ClearCache).Methods(http.MethodPost)
	r.HandleFunc("/api/cache/prune", h.PruneCache).Methods(http.MethodPost)
	r.HandleFunc("/api/convert", h.ConvertImage).Methods(http.MethodPost)

	// Everything else is a file below the public directory
	r.PathPrefix("/").Handler(mw.Handler(http.HandlerFunc(h.ServeStatic)))

	return r
}

func shutdown(g *gateway, srv, metricsSrv *http.Server, collector *metrics.Collector) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	startup.LogShutdownStep("Stopping metrics collector")
	collector.Stop()
	startup.LogShutdownStepComplete("Metrics collector stopped")

	// Draining requests keep their conversions; whatever is still running
	// after the drain is killed.
	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Killing running conversions")
	g.mw.Cleanup()
	startup.LogShutdownStepComplete("Converter cleanup complete")

	if metricsSrv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	startup.LogShutdownComplete()
}
