// Package dispatch sends the digest to every eligible subscriber.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/willemschots/stockdigest/internal/auth"
	"github.com/willemschots/stockdigest/internal/email"
)

var (
	// ErrStoreUnavailable is returned when subscribers could not be listed.
	// No run is recorded in that case.
	ErrStoreUnavailable = errors.New("subscriber store unavailable")
	ErrRenderFailed     = errors.New("render failed")
	ErrSendFailed       = errors.New("send failed")
)

// SubscriberSource lists the users that should receive the digest.
type SubscriberSource interface {
	ListDispatchEligible(ctx context.Context) ([]auth.Subscriber, error)
}

// Renderer builds the digest for a single subscriber.
type Renderer interface {
	RenderDigest(ctx context.Context, sub auth.Subscriber) (email.Message, error)
}

// Sender delivers a rendered digest.
type Sender interface {
	Send(ctx context.Context, recipient email.Address, msg email.Message) error
}

// RunLog records completed runs.
type RunLog interface {
	Append(ctx context.Context, run Run) error
}

// Config configures a Dispatcher.
type Config struct {
	Workers       int
	RenderTimeout time.Duration
	SendTimeout   time.Duration
	ListAttempts  int
	ListBackoff   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:       3,
		RenderTimeout: 2 * time.Minute,
		SendTimeout:   30 * time.Second,
		ListAttempts:  3,
		ListBackoff:   5 * time.Second,
	}
}

// Dispatcher executes dispatch runs. Callers are expected to not run
// multiple runs at the same time, see schedule.Engine.
type Dispatcher struct {
	subs     SubscriberSource
	renderer Renderer
	sender   Sender
	runLog   RunLog
	logger   *slog.Logger
	cfg      Config

	NowFunc func() time.Time
}

func New(subs SubscriberSource, renderer Renderer, sender Sender, runLog RunLog, logger *slog.Logger, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = def.RenderTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.ListAttempts < 1 {
		cfg.ListAttempts = def.ListAttempts
	}

	return &Dispatcher{
		subs:     subs,
		renderer: renderer,
		sender:   sender,
		runLog:   runLog,
		logger:   logger,
		cfg:      cfg,
		NowFunc:  time.Now,
	}
}

// Run sends the digest to all eligible subscribers and appends the run to the run log.
//
// Recipients are handled by a bounded pool of workers, a failure for one recipient
// is recorded in its outcome and does not affect the others. When ctx is cancelled
// no new recipients are started, recipients that already started are finished.
// The remaining recipients are recorded as skipped.
//
// If the run log can't be appended to, the complete run is returned together with the error.
func (d *Dispatcher) Run(ctx context.Context, triggeredAt time.Time, manual bool) (Run, error) {
	run := Run{
		ID:          uuid.New(),
		TriggeredAt: triggeredAt,
		StartedAt:   d.NowFunc(),
		Manual:      manual,
	}

	logger := d.logger.With("runID", run.ID)

	subs, err := d.listSubscribers(ctx, logger)
	if err != nil {
		return Run{}, err
	}

	logger.Info("dispatch run started", "recipients", len(subs), "manual", manual)

	// every worker only writes its own index.
	run.Outcomes = make([]Outcome, len(subs))
	for i, sub := range subs {
		run.Outcomes[i] = Outcome{
			UserID:  sub.UserID,
			Email:   sub.Email,
			Symbols: sub.Symbols,
			Status:  StatusSkipped,
		}
	}

	// started recipients run to completion, their own timeouts still apply.
	workCtx := context.WithoutCancel(ctx)

	g := &errgroup.Group{}
	g.SetLimit(d.cfg.Workers)
	for i, sub := range subs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			d.deliver(workCtx, logger, sub, &run.Outcomes[i])
			return nil
		})
	}

	// workers never return errors.
	_ = g.Wait()

	run.Summary = Summarize(run.Outcomes)
	run.CompletedAt = d.NowFunc()

	logger.Info("dispatch run completed",
		"total", run.Summary.Total,
		"sent", run.Summary.Sent,
		"renderFailed", run.Summary.RenderFailed,
		"sendFailed", run.Summary.SendFailed,
		"skipped", run.Summary.Skipped,
		"duration", run.CompletedAt.Sub(run.StartedAt),
	)

	err = d.runLog.Append(workCtx, run)
	if err != nil {
		return run, fmt.Errorf("failed to append run %s to run log: %w", run.ID, err)
	}

	return run, nil
}

func (d *Dispatcher) listSubscribers(ctx context.Context, logger *slog.Logger) ([]auth.Subscriber, error) {
	var err error
	for attempt := 1; attempt <= d.cfg.ListAttempts; attempt++ {
		var subs []auth.Subscriber
		subs, err = d.subs.ListDispatchEligible(ctx)
		if err == nil {
			return subs, nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("listing subscribers was cancelled: %w", ctx.Err())
		}

		logger.Warn("failed to list subscribers", "attempt", attempt, "error", err)

		if attempt == d.cfg.ListAttempts {
			break
		}

		t := time.NewTimer(time.Duration(attempt) * d.cfg.ListBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("listing subscribers was cancelled: %w", ctx.Err())
		case <-t.C:
		}
	}

	return nil, fmt.Errorf("%w: %d attempts failed: %w", ErrStoreUnavailable, d.cfg.ListAttempts, err)
}

func (d *Dispatcher) deliver(ctx context.Context, logger *slog.Logger, sub auth.Subscriber, out *Outcome) {
	start := d.NowFunc()
	defer func() {
		out.Duration = d.NowFunc().Sub(start)
	}()

	var msg email.Message
	err := guard(func() error {
		rctx, cancel := context.WithTimeout(ctx, d.cfg.RenderTimeout)
		defer cancel()

		var err error
		msg, err = d.renderer.RenderDigest(rctx, sub)
		return err
	})
	if err != nil {
		d.fail(logger, sub, out, StatusRenderFailed, fmt.Errorf("%w: %w", ErrRenderFailed, err))
		return
	}

	err = guard(func() error {
		sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()

		return d.sender.Send(sctx, sub.Email, msg)
	})
	if err != nil {
		d.fail(logger, sub, out, StatusSendFailed, fmt.Errorf("%w: %w", ErrSendFailed, err))
		return
	}

	out.Status = StatusSent
}

func (d *Dispatcher) fail(logger *slog.Logger, sub auth.Subscriber, out *Outcome, status Status, err error) {
	out.Status = status
	out.Detail = err.Error()

	logger.Warn("failed to dispatch digest",
		"userID", sub.UserID,
		"symbols", sub.Symbols.Strings(),
		"status", status,
		"error", err,
	)
}

// guard turns a panic in f into an error, so a single recipient can't take down the run.
func guard(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return f()
}
