package schedule_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/willemschots/stockdigest/internal/dispatch"
	"github.com/willemschots/stockdigest/internal/schedule"
	"github.com/willemschots/stockdigest/internal/schedule/clocktest"
)

func Test_Engine(t *testing.T) {
	sydney := mustLoad(t, "Australia/Sydney")
	trigger := schedule.Trigger{Hour: 8, Location: sydney}
	start := time.Date(2024, 3, 4, 7, 59, 0, 0, sydney)

	t.Run("ok, fires at trigger and waits for the next", func(t *testing.T) {
		et := newEngineTest(t, trigger, start)
		et.start()

		et.clock.BlockUntil(1)
		assertState(t, et.engine, schedule.StateWaiting)
		assertNext(t, et.engine, time.Date(2024, 3, 4, 8, 0, 0, 0, sydney))

		et.clock.Advance(time.Minute)

		c := et.dispatcher.nextCall(t)
		if !c.triggeredAt.Equal(time.Date(2024, 3, 4, 8, 0, 0, 0, sydney)) || c.manual {
			t.Errorf("unexpected call %+v", c)
		}

		et.clock.BlockUntil(1)
		assertNext(t, et.engine, time.Date(2024, 3, 5, 8, 0, 0, 0, sydney))

		err := et.stop()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		assertState(t, et.engine, schedule.StateStopped)
		if !et.engine.Next().IsZero() {
			t.Errorf("expected zero next after stop, got %v", et.engine.Next())
		}
	})

	t.Run("ok, sleeps in bounded slices", func(t *testing.T) {
		et := newEngineTest(t, trigger, time.Date(2024, 3, 4, 6, 0, 0, 0, sydney))
		et.start()

		et.clock.BlockUntil(1)
		for _, d := range et.clock.Waiting() {
			if d > schedule.MaxSleep {
				t.Errorf("engine sleeps for %v, more than %v", d, schedule.MaxSleep)
			}
		}

		_ = et.stop()
	})

	t.Run("ok, wall clock jump is noticed", func(t *testing.T) {
		et := newEngineTest(t, trigger, time.Date(2024, 3, 4, 6, 0, 0, 0, sydney))
		et.start()

		et.clock.BlockUntil(1)
		// the clock is corrected to just past the trigger.
		et.clock.Set(time.Date(2024, 3, 4, 8, 0, 30, 0, sydney))

		c := et.dispatcher.nextCall(t)
		if !c.triggeredAt.Equal(time.Date(2024, 3, 4, 8, 0, 0, 0, sydney)) {
			t.Errorf("unexpected call %+v", c)
		}

		_ = et.stop()
	})

	t.Run("ok, clock set back after firing does not fire again", func(t *testing.T) {
		et := newEngineTest(t, trigger, start)
		et.dispatcher.block = make(chan struct{})
		et.start()

		et.clock.BlockUntil(1)
		et.clock.Advance(time.Minute)
		et.dispatcher.nextCall(t)

		// the clock is corrected backwards while the run is in progress.
		et.clock.Set(time.Date(2024, 3, 4, 7, 59, 30, 0, sydney))
		close(et.dispatcher.block)

		et.clock.BlockUntil(1)
		assertNext(t, et.engine, time.Date(2024, 3, 5, 8, 0, 0, 0, sydney))

		// passing the trigger time for the second time today.
		et.clock.Set(time.Date(2024, 3, 4, 8, 0, 30, 0, sydney))
		et.dispatcher.assertNoCall(t)

		_ = et.stop()
	})

	t.Run("ok, manual trigger", func(t *testing.T) {
		et := newEngineTest(t, trigger, start)
		et.start()

		et.clock.BlockUntil(1)
		next := et.engine.Next()

		run, err := et.engine.TriggerNow(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		c := et.dispatcher.nextCall(t)
		if !c.manual || !c.triggeredAt.Equal(start) || run.ID != c.runID {
			t.Errorf("unexpected call %+v", c)
		}

		if !et.engine.Next().Equal(next) {
			t.Errorf("manual trigger changed next from %v to %v", next, et.engine.Next())
		}

		_ = et.stop()
	})

	t.Run("ok, manual trigger without running engine", func(t *testing.T) {
		et := newEngineTest(t, trigger, start)

		_, err := et.engine.TriggerNow(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if c := et.dispatcher.nextCall(t); !c.manual {
			t.Errorf("unexpected call %+v", c)
		}
	})

	t.Run("ok, scheduled run is deferred while manual run is in progress", func(t *testing.T) {
		et := newEngineTest(t, trigger, start)
		et.dispatcher.block = make(chan struct{})
		et.start()

		et.clock.BlockUntil(1)

		manualDone := make(chan error, 1)
		go func() {
			_, err := et.engine.TriggerNow(context.Background())
			manualDone <- err
		}()

		if c := et.dispatcher.nextCall(t); !c.manual {
			t.Fatalf("expected manual call first, got %+v", c)
		}
		assertState(t, et.engine, schedule.StateFiring)

		// the trigger passes while the manual run is still going.
		et.clock.Advance(time.Minute)
		et.dispatcher.assertNoCall(t)

		close(et.dispatcher.block)

		err := <-manualDone
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		c := et.dispatcher.nextCall(t)
		if c.manual || !c.triggeredAt.Equal(time.Date(2024, 3, 4, 8, 0, 0, 0, sydney)) {
			t.Errorf("unexpected deferred call %+v", c)
		}

		if et.dispatcher.maxActive() != 1 {
			t.Errorf("runs overlapped, %d were active at once", et.dispatcher.maxActive())
		}

		_ = et.stop()
	})

	t.Run("ok, triggers missed during a long run are skipped", func(t *testing.T) {
		et := newEngineTest(t, trigger, start)
		et.dispatcher.block = make(chan struct{})
		et.start()

		et.clock.BlockUntil(1)
		et.clock.Advance(time.Minute)
		et.dispatcher.nextCall(t)

		// the run takes three days.
		et.clock.Advance(72 * time.Hour)
		close(et.dispatcher.block)

		et.clock.BlockUntil(1)
		et.dispatcher.assertNoCall(t)
		assertNext(t, et.engine, time.Date(2024, 3, 8, 8, 0, 0, 0, sydney))

		_ = et.stop()
	})

	t.Run("ok, other dispatch errors keep the engine running", func(t *testing.T) {
		et := newEngineTest(t, trigger, start)
		et.dispatcher.err = errors.New("failed to append run to run log")
		et.start()

		et.clock.BlockUntil(1)
		et.clock.Advance(time.Minute)
		et.dispatcher.nextCall(t)

		et.clock.BlockUntil(1)
		assertState(t, et.engine, schedule.StateWaiting)

		err := et.stop()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("fail, already running", func(t *testing.T) {
		et := newEngineTest(t, trigger, start)
		et.start()
		et.clock.BlockUntil(1)

		err := et.engine.Run(context.Background())
		if !errors.Is(err, schedule.ErrAlreadyRunning) {
			t.Fatalf("expected error %v, got %v", schedule.ErrAlreadyRunning, err)
		}

		_ = et.stop()
	})

	t.Run("fail, clock unavailable at start", func(t *testing.T) {
		et := newEngineTest(t, trigger, start)
		et.clock.Fail(errors.New("rtc read failed"))

		err := et.engine.Run(context.Background())
		if !errors.Is(err, schedule.ErrClockUnavailable) {
			t.Fatalf("expected error %v, got %v", schedule.ErrClockUnavailable, err)
		}
	})

	t.Run("fail, clock becomes unavailable while waiting", func(t *testing.T) {
		et := newEngineTest(t, trigger, start)
		et.start()

		et.clock.BlockUntil(1)
		et.clock.Fail(errors.New("rtc read failed"))
		et.clock.Advance(time.Minute)

		err := et.wait()
		if !errors.Is(err, schedule.ErrClockUnavailable) {
			t.Fatalf("expected error %v, got %v", schedule.ErrClockUnavailable, err)
		}

		et.dispatcher.assertNoCall(t)
	})

	t.Run("fail, store unavailable stops the engine", func(t *testing.T) {
		et := newEngineTest(t, trigger, start)
		et.dispatcher.err = fmt.Errorf("%w: database is locked", dispatch.ErrStoreUnavailable)
		et.start()

		et.clock.BlockUntil(1)
		et.clock.Advance(time.Minute)

		err := et.wait()

		var engineErr *schedule.EngineError
		if !errors.As(err, &engineErr) {
			t.Fatalf("expected an engine error, got %v", err)
		}

		if !errors.Is(err, dispatch.ErrStoreUnavailable) {
			t.Errorf("expected error %v, got %v", dispatch.ErrStoreUnavailable, err)
		}
	})
}

func Test_State_String(t *testing.T) {
	tests := map[schedule.State]string{
		schedule.StateStopped: "stopped",
		schedule.StateWaiting: "waiting",
		schedule.StateFiring:  "firing",
	}

	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

type engineTest struct {
	t          *testing.T
	clock      *clocktest.Clock
	dispatcher *fakeDispatcher
	engine     *schedule.Engine

	cancel context.CancelFunc
	done   chan error
}

func newEngineTest(t *testing.T, trigger schedule.Trigger, now time.Time) *engineTest {
	et := &engineTest{
		t:     t,
		clock: clocktest.New(now),
		dispatcher: &fakeDispatcher{
			calls: make(chan call, 10),
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	et.engine = schedule.NewEngine(trigger, et.clock, et.dispatcher, logger)
	return et
}

func (et *engineTest) start() {
	ctx, cancel := context.WithCancel(context.Background())
	et.cancel = cancel
	et.done = make(chan error, 1)

	go func() {
		et.done <- et.engine.Run(ctx)
	}()

	et.t.Cleanup(cancel)
}

func (et *engineTest) stop() error {
	et.cancel()
	return et.wait()
}

func (et *engineTest) wait() error {
	select {
	case err := <-et.done:
		return err
	case <-time.After(5 * time.Second):
		et.t.Fatalf("engine did not stop")
		return nil
	}
}

func assertState(t *testing.T, e *schedule.Engine, want schedule.State) {
	t.Helper()

	if got := e.State(); got != want {
		t.Errorf("got state %s, want %s", got, want)
	}
}

func assertNext(t *testing.T, e *schedule.Engine, want time.Time) {
	t.Helper()

	if got := e.Next(); !got.Equal(want) {
		t.Errorf("got next %v, want %v", got, want)
	}
}

type call struct {
	runID       uuid.UUID
	triggeredAt time.Time
	manual      bool
}

type fakeDispatcher struct {
	calls chan call
	block chan struct{}
	err   error

	mu     sync.Mutex
	active int
	most   int
}

func (f *fakeDispatcher) Run(_ context.Context, triggeredAt time.Time, manual bool) (dispatch.Run, error) {
	f.mu.Lock()
	f.active++
	f.most = max(f.most, f.active)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	run := dispatch.Run{ID: uuid.New(), TriggeredAt: triggeredAt, Manual: manual}
	f.calls <- call{runID: run.ID, triggeredAt: triggeredAt, manual: manual}

	if f.block != nil {
		<-f.block
	}

	return run, f.err
}

func (f *fakeDispatcher) maxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.most
}

func (f *fakeDispatcher) nextCall(t *testing.T) call {
	t.Helper()

	select {
	case c := <-f.calls:
		return c
	case <-time.After(5 * time.Second):
		t.Fatalf("dispatcher was not called")
		return call{}
	}
}

func (f *fakeDispatcher) assertNoCall(t *testing.T) {
	t.Helper()

	select {
	case c := <-f.calls:
		t.Fatalf("unexpected dispatcher call %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}
