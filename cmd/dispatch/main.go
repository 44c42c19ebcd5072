// Command dispatch sends the digest to all subscribers once and exits.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/willemschots/stockdigest/internal/app"
	"github.com/willemschots/stockdigest/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Stderr))
}

// run exits 0 once a run completed, whatever happened to the individual
// recipients, and 1 when the run could not start.
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

	result, err := a.Engine.TriggerNow(ctx)
	if err != nil && result.CompletedAt.IsZero() {
		logger.Error("dispatch could not start", "error", err)
		return 1
	}

	if err != nil {
		logger.Error("dispatch completed but was not recorded", "error", err)
	}

	logger.Info("dispatch completed",
		"runID", result.ID,
		"total", result.Summary.Total,
		"sent", result.Summary.Sent,
		"failed", result.Summary.Failed(),
		"skipped", result.Summary.Skipped,
		"successRate", result.Summary.SuccessRate(),
	)

	return 0
}
