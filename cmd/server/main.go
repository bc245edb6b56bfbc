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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/asakaida/restree/internal/app"
	"github.com/asakaida/restree/internal/bootstrap"
	"github.com/asakaida/restree/internal/handlers"
	"github.com/asakaida/restree/internal/infrastructure/config"
	"github.com/asakaida/restree/internal/infrastructure/logging"
	"github.com/asakaida/restree/internal/infrastructure/metrics"
)

const (
	defaultEnv      = "dev"
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Get environment from ENV variable or use default
	env := os.Getenv("ENV")
	if env == "" {
		env = defaultEnv
	}

	// Initialize configuration
	if err := config.InitConfig(env); err != nil {
		logrus.Fatalf("Failed to initialize config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(&cfg.Log)
	if err != nil {
		logrus.Fatalf("Failed to initialize logging: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server stopped with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx := context.Background()

	collector := metrics.NewCollector()
	exporter := metrics.NewPrometheusExporterWith(collector, prometheus.DefaultRegisterer)

	a, err := app.New(ctx, cfg, logger, app.Options{Listen: true, Collector: collector, Exporter: exporter})
	if err != nil {
		return err
	}
	defer a.Close()

	// Memory stores start empty; postgres stores are seeded explicitly or via SEED_FILE
	if cfg.SeedFile != "" || a.Postgres == nil {
		seed := bootstrap.DefaultSeed()
		if cfg.SeedFile != "" {
			if seed, err = bootstrap.LoadSeed(afero.NewOsFs(), cfg.SeedFile); err != nil {
				return err
			}
		}
		if err := bootstrap.Apply(ctx, a.BootstrapDeps(), seed); err != nil {
			return fmt.Errorf("failed to apply seed: %w", err)
		}
	}

	handler := handlers.NewResourceTreeHandler(a.Tree, a.Resolver, a.Decider, a.Principal, a.Regions)

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			logging.UnaryServerInterceptor(logger),
			metrics.UnaryServerInterceptor(collector, exporter),
		),
	)
	handlers.RegisterResourceTreeServer(grpcServer, handler)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(handlers.ServiceName, healthpb.HealthCheckResponse_SERVING)

	// Register reflection service (for grpcurl, etc.)
	reflection.Register(grpcServer)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	logger.WithField("addr", addr).Info("gRPC server listening")

	metricsServer := newMetricsServer(cfg, exporter, a)

	serverErrors := make(chan error, 2)
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			serverErrors <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go func() {
		logger.WithField("addr", metricsServer.Addr).Info("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serverErrors:
		return err
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("initiating graceful shutdown")
	}

	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		logger.Info("gRPC server stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing stop")
		grpcServer.Stop()
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("error stopping metrics server")
	}

	logger.Info("shutdown complete")
	return nil
}

// newMetricsServer serves /metrics and a /healthz probe that pings the database
func newMetricsServer(cfg *config.Config, exporter *metrics.PrometheusExporter, a *app.App) *http.Server {
	mux := http.NewServeMux()
	metricsHandler := promhttp.Handler()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		exporter.Update()
		metricsHandler.ServeHTTP(w, r)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if a.Postgres != nil {
			if err := a.Postgres.HealthCheck(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
