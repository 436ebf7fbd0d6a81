// Command passkit-server serves the account API.
//
// Configuration comes from an optional YAML file (-config) overridden by
// PASSKIT_* environment variables. With redis.in_memory and no database DSN it
// runs without any external service:
//
//	PASSKIT_REDIS_IN_MEMORY=true go run ./cmd/passkit-server
//
//	curl -i -X POST localhost:8080/auth/register \
//	  -d '{"email":"ada@example.com","password":"correct horse battery","display_name":"Ada"}'
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

	"github.com/MrEthical07/passkit/internal/app"
	"github.com/MrEthical07/passkit/internal/config"
	"github.com/MrEthical07/passkit/internal/httpapi"
	"github.com/MrEthical07/passkit/metrics/export/prometheus"
	"github.com/MrEthical07/passkit/middleware"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	rt, err := app.Open(ctx, cfg, logger, "passkit-server")
	if err != nil {
		return err
	}
	defer rt.Close()

	engine, err := rt.Engine()
	if err != nil {
		return fmt.Errorf("engine build: %w", err)
	}
	defer engine.Close()

	if cfg.Queue.InProcessWorker {
		worker, err := rt.Worker()
		if err != nil {
			return fmt.Errorf("worker: %w", err)
		}
		if err := worker.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := worker.Close(); err != nil {
				logger.Warn("worker close", zap.Error(err))
			}
		}()
	}

	opts := httpapi.Options{
		Engine: engine,
		Cookie: middleware.CookieConfig{
			Name:   cfg.HTTP.CookieName,
			Domain: cfg.HTTP.CookieDomain,
			Secure: cfg.Production(),
		},
		TrustProxy: cfg.HTTP.TrustProxy,
		Logger:     logger.Named("http"),
		Ready:      rt.Ready,
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = prometheus.NewExporter(rt.Metrics).Handler()
		opts.MetricsPath = cfg.Metrics.Path
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           withCORS(cfg.HTTP.CORSOrigins, httpapi.New(opts)),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// withCORS allows credentialed requests from the listed origins.
func withCORS(origins []string, next http.Handler) http.Handler {
	if len(origins) == 0 {
		return next
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if _, ok := allowed[origin]; ok {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
