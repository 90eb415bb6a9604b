// Command gateway serves the Nysa chat, credit, wallet and profile API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nysa-labs/nysa-gateway/internal/config"
	"github.com/nysa-labs/nysa-gateway/internal/logging"
	"github.com/nysa-labs/nysa-gateway/internal/metrics"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New("gateway", cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("gateway stopped")
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.SkipAuth {
		logger.Warn("SKIP_AUTH is enabled: chat and convert routes accept unauthenticated requests as the dev user")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	d, err := buildDeps(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer d.close(logger)

	a, err := newApp(cfg, logger, m, d)
	if err != nil {
		return err
	}
	a.scheduler.Start()

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Completions can take most of a minute.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]interface{}{
			"port":    cfg.Port,
			"env":     cfg.Env,
			"backend": cfg.StoreBackend,
		}).Info("gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("scheduler shutdown")
	}
	logger.Info("gateway stopped")
	return nil
}
