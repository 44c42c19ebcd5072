package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/willemschots/stockdigest/internal"
	"github.com/willemschots/stockdigest/internal/app"
	"github.com/willemschots/stockdigest/internal/config"
	"github.com/willemschots/stockdigest/internal/ops"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Stderr))
}

func run(ctx context.Context, w io.Writer) int {
	logger := slog.New(slog.NewTextHandler(w, nil))

	err := config.LoadDotenv()
	if err != nil {
		logger.Error("failed to load dotenv file", "error", err)
		return 1
	}

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("failed to get config from environment", "error", err)
		return 1
	}

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("failed to set up app", "error", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close app", "error", err)
		}
	}()

	// We run up to three tasks concurrently:
	// - The schedule engine.
	// - Listen and serving of the ops HTTP server, if configured.
	// - Waiting for a signal to stop the ops server.

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting scheduler",
			"schedule", a.Engine.Trigger().String(),
			"build", internal.BuildInfo,
		)
		// Run returns nil once gCtx is done, a returned error
		// cancels gCtx and stops the ops server.
		return a.Engine.Run(gCtx)
	})

	if cfg.Ops.Addr != "" {
		opsServer := ops.NewServer(gCtx, &ops.ServerDeps{
			Logger: logger,
			Engine: a.Engine,
			Runs:   a.RunLog,
		})

		srv := &http.Server{
			Addr:         cfg.Ops.Addr,
			ReadTimeout:  cfg.Ops.ReadTimeout,
			WriteTimeout: cfg.Ops.WriteTimeout,
			IdleTimeout:  cfg.Ops.IdleTimeout,
			Handler:      opsServer,
		}

		g.Go(func() error {
			logger.Info("starting ops server", "addr", cfg.Ops.Addr)
			err := srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})

		g.Go(func() error {
			<-gCtx.Done()
			logger.Info("stopping ops server")

			shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Ops.ShutdownTimeout)
			defer cancel()

			err := srv.Shutdown(shutCtx)
			// manual runs started in the background finish before the app closes.
			opsServer.Wait()
			return err
		})
	}

	err = g.Wait()
	if err != nil {
		logger.Error("scheduler stopped with error", "error", err)
		return 1
	}

	logger.Info("scheduler stopped successfully")

	return 0
}
