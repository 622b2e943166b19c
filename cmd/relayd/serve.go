package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gtzirun/cloud/internal/config"
	"github.com/gtzirun/cloud/internal/history"
	"github.com/gtzirun/cloud/internal/history/factory"
	"github.com/gtzirun/cloud/internal/metrics"
	"github.com/gtzirun/cloud/internal/relay"
	"github.com/gtzirun/cloud/internal/server"
)

// shutdownSlack is added to the relay grace period when draining.
const shutdownSlack = 5 * time.Second

// runServe runs the daemon until ctx is cancelled or a termination signal
// arrives. ready, when set, receives the bound API address.
func runServe(ctx context.Context, configPath string, ready func(addr string)) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	log := cfg.Log.NewSlogger()
	slog.SetDefault(log)

	sinks, err := factory.NewSinks(cfg.History.Sinks)
	if err != nil {
		return fmt.Errorf("failed to open history sinks: %w", err)
	}
	dispatcher := history.NewDispatcher(log, sinks...)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			log.Warn("closing history sinks", "error", err)
		}
	}()

	sup := relay.NewSupervisor(cfg.SupervisorConfig(), relay.ProcessSpawner{
		Binary: cfg.Relay.FFmpegPath,
		Log:    cfg.Log,
		Logger: log,
	}, log)
	sup.SetHistory(dispatcher)

	router := server.NewRouter(sup, cfg.Server.BasePath, log)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv, err = setupMetrics(cfg.Metrics, sup, router, log)
		if err != nil {
			return err
		}
	}

	tlsCfg, err := cfg.Server.TLS.Setup()
	if err != nil {
		return fmt.Errorf("failed to set up TLS: %w", err)
	}
	srv, err := server.NewServer(cfg.Server.Listen, router, tlsCfg)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	log.Info("relayd listening", "addr", srv.Addr, "tls", tlsCfg != nil, "base_path", cfg.Server.BasePath, "ffmpeg", cfg.Relay.FFmpegPath)
	if ready != nil {
		ready(srv.Addr)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	log.Info("shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.GracePeriod+shutdownSlack)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := sup.Shutdown(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("relay shutdown: %w", err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Close()
	}
	return errors.Join(errs...)
}

// setupMetrics registers collectors and either mounts /metrics on the API
// router or serves it on its own listener.
func setupMetrics(cfg config.MetricsConfig, sup *relay.Supervisor, router *server.Router, log *slog.Logger) (*http.Server, error) {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	usage := metrics.NewUsageCollector(sup.Registry().PIDs, log)
	if err := prometheus.DefaultRegisterer.Register(usage); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("failed to register usage collector: %w", err)
		}
	}

	if cfg.Listen == "" {
		router.SetMetricsHandler(metrics.Handler())
		return nil, nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "addr", cfg.Listen, "error", err)
		}
	}()
	return srv, nil
}
