// Command passkit-worker drains the email queue. Run any number of copies
// against the same Redis; expired leases are reclaimed by whichever worker
// sweeps first.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/passkit/internal/app"
	"github.com/MrEthical07/passkit/internal/config"
	"github.com/MrEthical07/passkit/metrics/export/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	metricsAddr := flag.String("metrics-addr", ":9091", "address for /metrics and /healthz; empty disables")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *metricsAddr); err != nil {
		logger.Error("worker exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, metricsAddr string) error {
	rt, err := app.Open(ctx, cfg, logger, "passkit-worker")
	if err != nil {
		return err
	}
	defer rt.Close()

	worker, err := rt.Worker()
	if err != nil {
		return err
	}
	if err := worker.Start(ctx); err != nil {
		return err
	}

	var srv *http.Server
	if metricsAddr != "" {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux := http.NewServeMux()
		mux.Handle("GET "+path, prometheus.NewExporter(rt.Metrics).Handler())
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := rt.Ready(r.Context()); err != nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ok"))
		})
		srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down", zap.Int64("in_flight", worker.InFlight()))

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	if err := worker.Close(); err != nil {
		return err
	}
	return nil
}
