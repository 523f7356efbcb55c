package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sugarbeet-lab/yieldsim/internal/history"
	"github.com/sugarbeet-lab/yieldsim/internal/metrics"
	"github.com/sugarbeet-lab/yieldsim/internal/simd"
	"github.com/sugarbeet-lab/yieldsim/pkg/config"
	"github.com/sugarbeet-lab/yieldsim/pkg/logger"
)

func main() {
	var configPath string
	var grpcAddr string
	var httpAddr string
	var logLevel string
	var historyDB string

	flag.StringVar(&configPath, "config", "", "server config YAML (flags override it)")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.StringVar(&historyDB, "history-db", "", "sqlite history path (\"off\" disables history)")
	flag.Parse()

	cfg := config.DefaultServer()
	if configPath != "" {
		loaded, err := config.LoadServer(configPath)
		if err != nil {
			logger.Error("failed to load server config", "path", configPath, "error", err)
			os.Exit(1)
		}
		cfg = *loaded
	}
	override(&cfg.GRPCAddr, grpcAddr)
	override(&cfg.HTTPAddr, httpAddr)
	override(&cfg.LogLevel, logLevel)
	override(&cfg.HistoryDB, historyDB)

	logger.SetDefault(logger.Open(cfg.LogLevel, logger.Format(cfg.LogFormat), os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(cfg.MetricsNamespace)
	opts := []simd.ExecutorOption{simd.WithObserver(collector)}

	var hist *history.Store
	if cfg.HistoryDB != "" && cfg.HistoryDB != "off" {
		retention, err := cfg.GetHistoryRetention()
		if err != nil {
			logger.Error("invalid history retention", "value", cfg.HistoryRetention, "error", err)
			os.Exit(1)
		}
		hist, err = history.Open(ctx, cfg.HistoryDB, retention)
		if err != nil {
			logger.Error("failed to open history", "path", cfg.HistoryDB, "error", err)
			os.Exit(1)
		}
		defer hist.Close()
		opts = append(opts, simd.WithHistory(hist))
	}
	if cfg.CallbackURL != "" {
		opts = append(opts, simd.WithCallback(simd.NewNotifier(), cfg.CallbackURL, cfg.CallbackSecret))
	}

	store := simd.NewRunStore()
	executor := simd.NewRunExecutor(store, opts...)

	var historyReader simd.HistoryReader
	if hist != nil {
		historyReader = hist
	}

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		// TODO: Configure gRPC server security (e.g., TLS, authentication)
		// before exposing this service outside a trusted network.
		grpcServer = grpc.NewServer()
		simd.RegisterSimulationServiceServer(grpcServer, simd.NewSimulationGRPCServer(store, executor))
		healthSrv := health.NewServer()
		healthSrv.SetServingStatus(simd.SimulationServiceName, healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(grpcServer, healthSrv)

		grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Error("failed to listen for gRPC", "addr", cfg.GRPCAddr, "error", err)
			os.Exit(1)
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(grpcLis); err != nil {
				logger.Error("gRPC server error", "error", err)
				stop()
			}
		}()
	}

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		httpSrv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           simd.NewHTTPServer(store, executor, historyReader, collector.Handler()).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "error", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := executor.Shutdown(shutdownCtx); err != nil {
		logger.Warn("runs still executing at shutdown", "error", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown error", "error", err)
		}
	}
}

func override(dst *string, flagValue string) {
	if flagValue != "" {
		*dst = flagValue
	}
}
