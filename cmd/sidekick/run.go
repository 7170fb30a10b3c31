package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/sidekick"
)

// runSupervisor brings up the sidecar and the control API and blocks until
// ctx is cancelled or a signal arrives. The owned sidecar is killed on exit.
func runSupervisor(ctx context.Context, flags RunFlags) error {
	cfg, err := sidekick.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}
	if flags.BasePath != "" {
		cfg.Server.BasePath = flags.BasePath
	}
	if flags.ShutdownTimeout <= 0 {
		flags.ShutdownTimeout = 5 * time.Second
	}

	app, err := sidekick.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()
	logger := cfg.Logger().NewSlogger()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := app.NewHTTPServer()
	app.Start(ctx)
	logger.Info("sidekick started", "port", app.Port(), "api", srv.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), flags.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		if err := app.EnsureServerStarted(gctx); err != nil {
			if gctx.Err() == nil {
				logger.Error("sidecar failed to start", "error", err)
			}
			return nil
		}
		logger.Info("sidecar ready", "port", app.Port())
		return nil
	})

	err = g.Wait()
	if app.KillSidecar() {
		logger.Info("sidecar stopped on exit")
	}
	return err
}
