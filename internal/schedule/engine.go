// Package schedule runs the dispatch job at a fixed time of day.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/willemschots/stockdigest/internal/dispatch"
)

// MaxSleep is the longest the engine sleeps before looking at the clock again.
// Changes to the wall clock are noticed within this duration.
const MaxSleep = time.Minute

// ErrAlreadyRunning is returned when Run is called on an engine that is running.
var ErrAlreadyRunning = errors.New("engine is already running")

// EngineError is returned by Engine.Run when a run failed in a way that
// makes further runs pointless.
type EngineError struct {
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("schedule engine stopped: %v", e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// State is the state of an Engine.
type State int

const (
	StateStopped State = iota
	StateWaiting
	StateFiring
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateWaiting:
		return "waiting"
	case StateFiring:
		return "firing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Dispatcher executes a single dispatch run.
type Dispatcher interface {
	Run(ctx context.Context, triggeredAt time.Time, manual bool) (dispatch.Run, error)
}

// Engine fires the dispatcher every day at the trigger, and on demand.
// Runs never overlap: scheduled and manual runs share a single run slot.
type Engine struct {
	trigger    Trigger
	clock      Clock
	dispatcher Dispatcher
	logger     *slog.Logger

	slot chan struct{}

	mu      sync.Mutex
	running bool
	firing  bool
	next    time.Time
}

func NewEngine(trigger Trigger, clock Clock, dispatcher Dispatcher, logger *slog.Logger) *Engine {
	return &Engine{
		trigger:    trigger,
		clock:      clock,
		dispatcher: dispatcher,
		logger:     logger,
		slot:       make(chan struct{}, 1),
	}
}

// Trigger returns the trigger of the engine.
func (e *Engine) Trigger() Trigger {
	return e.trigger
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.firing:
		return StateFiring
	case e.running:
		return StateWaiting
	default:
		return StateStopped
	}
}

// Next returns the next scheduled trigger, or the zero time if the engine isn't running.
func (e *Engine) Next() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.next
}

// Run fires the dispatcher at every trigger until ctx is cancelled, in which
// case nil is returned.
//
// Triggers that pass while a run is in progress are skipped, as are triggers
// that passed while the engine was not running. A trigger fires at most once,
// also when the wall clock is set back after it fired.
//
// A clock failure results in ErrClockUnavailable, an unavailable subscriber
// store in an *EngineError. Other dispatch errors are logged.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.next = time.Time{}
		e.mu.Unlock()
	}()

	var lastFired time.Time
	for {
		now, err := e.now()
		if err != nil {
			return err
		}

		from := now
		if from.Before(lastFired) {
			from = lastFired
		}

		next := e.trigger.Next(from)
		e.setNext(next)
		e.logger.Info("waiting for next trigger", "next", next)

		err = e.waitUntil(ctx, next)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}

		err = e.fire(ctx, next)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}

		lastFired = next
	}
}

// TriggerNow runs the dispatcher immediately. If a run is in progress,
// it waits for that run to complete first.
func (e *Engine) TriggerNow(ctx context.Context) (dispatch.Run, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return dispatch.Run{}, err
	}
	defer release()

	now, err := e.now()
	if err != nil {
		return dispatch.Run{}, err
	}

	e.logger.Info("manual trigger")
	return e.dispatcher.Run(ctx, now, true)
}

func (e *Engine) waitUntil(ctx context.Context, next time.Time) error {
	for {
		now, err := e.now()
		if err != nil {
			return err
		}

		if !now.Before(next) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(min(next.Sub(now), MaxSleep)):
		}
	}
}

func (e *Engine) fire(ctx context.Context, scheduledAt time.Time) error {
	release, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	e.logger.Info("trigger fired", "scheduledAt", scheduledAt)

	run, err := e.dispatcher.Run(ctx, scheduledAt, false)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dispatch.ErrStoreUnavailable):
		return &EngineError{Err: err}
	default:
		e.logger.Error("dispatch run failed", "runID", run.ID, "error", err)
		return nil
	}
}

// acquire takes the run slot, the returned func gives it back.
func (e *Engine) acquire(ctx context.Context) (func(), error) {
	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	e.mu.Lock()
	e.firing = true
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		e.firing = false
		e.mu.Unlock()
		<-e.slot
	}, nil
}

func (e *Engine) now() (time.Time, error) {
	now, err := e.clock.Now()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrClockUnavailable, err)
	}
	return now, nil
}

func (e *Engine) setNext(next time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next = next
}
