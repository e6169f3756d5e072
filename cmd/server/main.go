package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/config"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/logger"
)

const serviceName = "bidbeacon"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	kitLogger := logger.New(logger.Config{
		Service: serviceName,
		Version: cfg.General.Version,
		Level:   cfg.Log.Level,
	})

	if err := run(cfg, kitLogger); err != nil {
		level.Error(kitLogger).Log("msg", "server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      app.routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errs := make(chan error, 1)
	go func() {
		level.Info(logger).Log("msg", "starting server", "port", cfg.HTTP.Port, "env", cfg.General.Env, "ledger", cfg.Ledger.Backend, "timezone", cfg.General.PlatformTimezone)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	level.Info(logger).Log("msg", "shutting down", "timeout", cfg.HTTP.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
