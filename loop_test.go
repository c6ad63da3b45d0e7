package rpy_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/feather-lang/rpy"
	"github.com/feather-lang/rpy/rtest"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLoopPolls(t *testing.T) {
	b := rtest.New()
	l := rpy.NewLoop(b, time.Millisecond, nil)
	if err := l.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "events", func() bool { return b.Events() >= 3 })
	l.Stop()

	n := b.Events()
	time.Sleep(10 * time.Millisecond)
	if b.Events() != n {
		t.Errorf("events processed after Stop: %d -> %d", n, b.Events())
	}
	if l.Running() {
		t.Error("expected loop to be stopped")
	}
}

func TestLoopStartTwice(t *testing.T) {
	b := rtest.New()
	var entered atomic.Int32
	release := make(chan struct{})
	b.OnEvents = func() error {
		entered.Add(1)
		<-release
		return nil
	}

	l := rpy.NewLoop(b, time.Millisecond, nil)
	if err := l.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := l.Start(); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	waitFor(t, "first poll", func() bool { return entered.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if n := entered.Load(); n != 1 {
		t.Errorf("expected one worker polling, got %d concurrent polls", n)
	}
	close(release)
	l.Stop()
	if b.Overlaps() != 0 {
		t.Errorf("expected no overlapping calls, got %d", b.Overlaps())
	}
}

func TestLoopStopNeverStarted(t *testing.T) {
	l := rpy.NewLoop(rtest.New(), 0, nil)
	done := make(chan struct{})
	go func() {
		l.Stop()
		l.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a loop that never started")
	}
}

func TestLoopStopWaitsForCycle(t *testing.T) {
	b := rtest.New()
	inPoll := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	b.OnEvents = func() error {
		once.Do(func() {
			close(inPoll)
			<-release
		})
		return nil
	}

	l := rpy.NewLoop(b, time.Millisecond, nil)
	l.Start()
	<-inPoll

	stopped := make(chan struct{})
	go func() {
		l.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a poll was in progress")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the poll completed")
	}
	if l.Running() {
		t.Error("expected loop to be stopped")
	}
}

func TestLoopEventErrorStopsWorker(t *testing.T) {
	b := rtest.New()
	boom := errors.New("device lost")
	var fail atomic.Bool
	fail.Store(true)
	b.OnEvents = func() error {
		if fail.Load() {
			return boom
		}
		return nil
	}

	var logged atomic.Int32
	logger := rpy.LogfFunc(func(string, ...any) { logged.Add(1) })

	l := rpy.NewLoop(b, time.Millisecond, logger)
	l.Start()
	waitFor(t, "worker exit", func() bool { return !l.Running() })

	if !errors.Is(l.Err(), boom) {
		t.Errorf("Err() = %v, want %v", l.Err(), boom)
	}
	if b.Events() != 1 {
		t.Errorf("expected the failing poll not to be retried, got %d polls", b.Events())
	}
	if logged.Load() == 0 {
		t.Error("expected the failure to be logged")
	}

	// A dead worker is not restarted on its own, but Start brings it back.
	fail.Store(false)
	if err := l.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if l.Err() != nil {
		t.Errorf("expected Err to be cleared on restart, got %v", l.Err())
	}
	waitFor(t, "events after restart", func() bool { return b.Events() >= 3 })
	l.Stop()
}

func TestLoopDoSerializes(t *testing.T) {
	b := rtest.New()
	l := rpy.NewLoop(b, time.Millisecond, nil)

	var inside, maxInside atomic.Int32
	work := func(context.Context, rpy.Backend) error {
		n := inside.Add(1)
		for {
			m := maxInside.Load()
			if n <= m || maxInside.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(50 * time.Microsecond)
		inside.Add(-1)
		return nil
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				// Half the goroutines toggle the worker so requests
				// run both inline and on the worker.
				if g%2 == 0 && i%10 == 0 {
					if i%20 == 0 {
						l.Start()
					} else {
						l.Stop()
					}
				}
				if err := l.Do(context.Background(), work); err != nil {
					t.Errorf("Do failed: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	l.Stop()

	if m := maxInside.Load(); m != 1 {
		t.Errorf("expected requests to run one at a time, saw %d at once", m)
	}
	if b.Overlaps() != 0 {
		t.Errorf("expected no overlapping backend calls, got %d", b.Overlaps())
	}
}

func TestLoopDoReentrant(t *testing.T) {
	for _, running := range []bool{false, true} {
		l := rpy.NewLoop(rtest.New(), time.Millisecond, nil)
		if running {
			l.Start()
		}
		done := make(chan error, 1)
		go func() {
			done <- l.Do(context.Background(), func(ctx context.Context, b rpy.Backend) error {
				return l.Do(ctx, func(context.Context, rpy.Backend) error { return nil })
			})
		}()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("nested Do failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("nested Do deadlocked (running=%v)", running)
		}
		l.Stop()
	}
}

func TestLoopDoPanics(t *testing.T) {
	l := rpy.NewLoop(rtest.New(), time.Millisecond, nil)
	l.Start()
	defer l.Stop()

	defer func() {
		if p := recover(); p != "boom" {
			t.Errorf("expected panic %q to reach the caller, got %v", "boom", p)
		}
		if !l.Running() {
			t.Error("expected the worker to survive a panicking request")
		}
	}()
	l.Do(context.Background(), func(context.Context, rpy.Backend) error { panic("boom") })
}

func TestLoopDoCanceled(t *testing.T) {
	l := rpy.NewLoop(rtest.New(), 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := l.Do(ctx, func(context.Context, rpy.Backend) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("expected canceled request not to run")
	}
}

func TestLoopClose(t *testing.T) {
	b := rtest.New()
	l := rpy.NewLoop(b, time.Millisecond, nil)
	l.Start()

	finalRan := false
	if err := l.Close(func(rpy.Backend) error {
		finalRan = true
		return nil
	}); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !finalRan {
		t.Error("expected final function to run")
	}
	if l.Running() {
		t.Error("expected worker to be stopped by Close")
	}
	if err := l.Start(); !errors.Is(err, rpy.ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
	if err := l.Do(context.Background(), func(context.Context, rpy.Backend) error { return nil }); !errors.Is(err, rpy.ErrClosed) {
		t.Errorf("Do after Close = %v, want ErrClosed", err)
	}
	if err := l.Close(nil); !errors.Is(err, rpy.ErrClosed) {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
}

// within fails the test if fn does not return in time.
func within(t *testing.T, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s deadlocked", what)
	}
}

func TestLoopControlInsideInlineRequest(t *testing.T) {
	b := rtest.New()
	l := rpy.NewLoop(b, time.Millisecond, nil)
	defer l.Close(nil)

	var running bool
	var closeErr error
	within(t, "loop control from an inline request", func() {
		l.Do(context.Background(), func(context.Context, rpy.Backend) error {
			running = l.Running()
			l.Stop()
			if err := l.Start(); err != nil {
				t.Errorf("Start failed: %v", err)
			}
			closeErr = l.Close(nil)
			l.Stop()
			return nil
		})
	})
	if running {
		t.Error("expected Running to report a stopped loop")
	}
	if !errors.Is(closeErr, rpy.ErrBusy) {
		t.Errorf("Close from inside = %v, want ErrBusy", closeErr)
	}
	waitFor(t, "worker exit", func() bool { return !l.Running() })
	if b.Overlaps() != 0 {
		t.Errorf("expected no overlapping calls, got %d", b.Overlaps())
	}
}

func TestLoopStopInsideWorkerRequest(t *testing.T) {
	l := rpy.NewLoop(rtest.New(), time.Millisecond, nil)
	if err := l.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer l.Close(nil)

	var running bool
	within(t, "Stop from a worker request", func() {
		l.Do(context.Background(), func(context.Context, rpy.Backend) error {
			running = l.Running()
			l.Stop()
			return nil
		})
	})
	if !running {
		t.Error("expected Running to report the worker inside its own request")
	}
	waitFor(t, "worker exit", func() bool { return !l.Running() })

	// Later requests run inline.
	if err := l.Do(context.Background(), func(context.Context, rpy.Backend) error { return nil }); err != nil {
		t.Errorf("Do after Stop failed: %v", err)
	}
}

func TestLoopDoFromAnotherGoroutineWaits(t *testing.T) {
	l := rpy.NewLoop(rtest.New(), time.Millisecond, nil)
	defer l.Close(nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	go l.Do(context.Background(), func(context.Context, rpy.Backend) error {
		close(entered)
		<-release
		return nil
	})
	<-entered

	ran := make(chan struct{})
	go func() {
		l.Do(context.Background(), func(context.Context, rpy.Backend) error { return nil })
		close(ran)
	}()
	select {
	case <-ran:
		t.Fatal("a second goroutine ran a request while the backend was held")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("second request never ran")
	}
}
