package rpy

import (
	"bytes"
	"context"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the default polling interval of a [Loop].
const DefaultInterval = 200 * time.Millisecond

// Loop owns a Backend and serializes every call made to it.
//
// While running, a single worker goroutine locked to its OS thread calls
// [Backend.ProcessEvents] once per interval and, between polls, executes
// the requests submitted through [Loop.Do]. While stopped, Do runs
// requests on the calling goroutine. Either way no two goroutines ever
// drive the backend at the same time.
//
// Code running inside a request, including console callbacks invoked by
// the backend, may call any Loop method. Do runs such calls inline, Stop
// does not wait for the worker it is running on, and Close returns
// [ErrBusy].
type Loop struct {
	backend  Backend
	interval time.Duration
	logger   Logger

	// sem is held by whichever goroutine drives the backend: the worker
	// during a poll or request, a caller running a request inline, or
	// Close running its final function. holder is that goroutine's id.
	sem    chan struct{}
	holder atomic.Int64

	mu     sync.Mutex // guards the run state; never held while the backend runs
	reqs   chan *loopCall
	quit   chan struct{}
	done   chan struct{}
	closed bool

	errMu sync.Mutex
	err   error
}

type loopCall struct {
	ctx    context.Context
	fn     func(context.Context, Backend) error
	result chan loopResult
}

type loopResult struct {
	err      error
	panicked any
	retry    bool
}

type loopKey struct{}

// NewLoop creates a stopped loop around b. A zero interval selects
// [DefaultInterval]; a nil logger discards messages.
func NewLoop(b Backend, interval time.Duration, logger Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Loop{
		backend:  b,
		interval: interval,
		logger:   logger,
		sem:      make(chan struct{}, 1),
	}
}

// Start launches the worker. It is a no-op when a worker is already
// running.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.aliveLocked() {
		return nil
	}
	l.reqs = make(chan *loopCall)
	l.quit = make(chan struct{})
	l.done = make(chan struct{})
	l.setErr(nil)
	go l.run(l.reqs, l.quit, l.done)
	return nil
}

// Stop asks the worker to exit and waits until it has. A poll or request
// in progress completes first. Stop is a no-op when the loop is not
// running.
//
// Called from inside a request, Stop returns without waiting; the worker
// exits as soon as the current request completes.
func (l *Loop) Stop() {
	l.mu.Lock()
	done := l.signalLocked()
	l.mu.Unlock()
	if done != nil && !l.inside() {
		<-done
	}
}

// signalLocked tells the worker to quit and forgets it. It returns the
// worker's done channel, or nil when no worker runs.
func (l *Loop) signalLocked() chan struct{} {
	if l.done == nil {
		return nil
	}
	close(l.quit)
	done := l.done
	l.reqs, l.quit, l.done = nil, nil, nil
	return done
}

// Running reports whether the worker is alive.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.aliveLocked()
}

// Err returns the error that terminated the last worker, if any.
func (l *Loop) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

func (l *Loop) setErr(err error) {
	l.errMu.Lock()
	l.err = err
	l.errMu.Unlock()
}

// aliveLocked reports whether a worker is running, forgetting a worker
// that exited on its own.
func (l *Loop) aliveLocked() bool {
	if l.done == nil {
		return false
	}
	select {
	case <-l.done:
		l.reqs, l.quit, l.done = nil, nil, nil
		return false
	default:
		return true
	}
}

// Do runs fn with exclusive access to the backend and returns its error.
//
// fn receives a context derived from ctx that identifies this loop. Calls
// to Do made with that context, or made on the goroutine currently
// driving the backend, run inline instead of deadlocking. ctx only
// cancels the wait for the backend: once fn has started it runs to
// completion. A panic in fn is re-raised in the caller.
func (l *Loop) Do(ctx context.Context, fn func(context.Context, Backend) error) error {
	if owner, _ := ctx.Value(loopKey{}).(*Loop); owner == l || l.inside() {
		return fn(context.WithValue(ctx, loopKey{}, l), l.backend)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return ErrClosed
		}
		if !l.aliveLocked() {
			l.mu.Unlock()
			return l.doInline(ctx, fn)
		}
		reqs, done := l.reqs, l.done
		l.mu.Unlock()

		c := &loopCall{ctx: ctx, fn: fn, result: make(chan loopResult, 1)}
		select {
		case reqs <- c:
			r := <-c.result
			if r.retry {
				continue
			}
			if r.panicked != nil {
				panic(r.panicked)
			}
			return r.err
		case <-done:
			// The worker exited before taking the request. Retry.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Loop) doInline(ctx context.Context, fn func(context.Context, Backend) error) error {
	if !l.acquire(ctx.Done(), nil) {
		return ctx.Err()
	}
	defer l.release()
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return fn(context.WithValue(ctx, loopKey{}, l), l.backend)
}

// Close stops the worker, runs final with exclusive access to the
// backend and marks the loop closed. Later calls return ErrClosed.
// Called from inside a request, Close returns [ErrBusy] and does nothing.
func (l *Loop) Close(final func(Backend) error) error {
	if l.inside() {
		return ErrBusy
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	done := l.signalLocked()
	l.mu.Unlock()
	if done != nil {
		<-done
	}

	l.acquire(nil, nil)
	defer l.release()
	if final == nil {
		return nil
	}
	return final(l.backend)
}

// acquire takes the backend, giving up when either channel closes.
func (l *Loop) acquire(cancel, quit <-chan struct{}) bool {
	select {
	case l.sem <- struct{}{}:
		l.holder.Store(goid())
		return true
	case <-cancel:
		return false
	case <-quit:
		return false
	}
}

// tryAcquire takes the backend if nobody else holds it.
func (l *Loop) tryAcquire() bool {
	select {
	case l.sem <- struct{}{}:
		l.holder.Store(goid())
		return true
	default:
		return false
	}
}

func (l *Loop) release() {
	l.holder.Store(0)
	<-l.sem
}

// inside reports whether the calling goroutine is driving the backend.
func (l *Loop) inside() bool {
	h := l.holder.Load()
	return h != 0 && h == goid()
}

func (l *Loop) run(reqs <-chan *loopCall, quit, done chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		default:
		}

		select {
		case <-quit:
			return
		case c := <-reqs:
			if !l.acquire(c.ctx.Done(), quit) {
				if err := c.ctx.Err(); err != nil {
					c.result <- loopResult{err: err}
				} else {
					c.result <- loopResult{retry: true}
				}
				continue
			}
			l.serve(c)
			l.release()
		case <-ticker.C:
			// A request running inline holds the backend; skip this tick.
			if !l.tryAcquire() {
				continue
			}
			err := l.backend.ProcessEvents()
			l.release()
			if err != nil {
				l.logger.Logf("event loop stopped: %v", err)
				l.setErr(err)
				return
			}
		}
	}
}

func (l *Loop) serve(c *loopCall) {
	var r loopResult
	defer func() {
		if p := recover(); p != nil {
			r.panicked = p
		}
		c.result <- r
	}()
	r.err = c.fn(context.WithValue(c.ctx, loopKey{}, l), l.backend)
}

// goid returns the id of the calling goroutine, parsed from the header
// of its stack trace ("goroutine 18 [running]:").
func goid() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseInt(string(b), 10, 64)
	return id
}
