package lde

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// eventQueueSize is the dispatch channel capacity.
	eventQueueSize = 128

	// slowEventThreshold logs events that hold the loop for longer.
	slowEventThreshold = 4 * time.Millisecond
)

// Loop serializes every engine operation on a single goroutine: kernel
// route events, peer messages, inspection queries and the garbage
// collection timer. Handlers run to completion before the next event is
// taken.
type Loop struct {
	engine *Engine
	events chan func()
	done   chan struct{}

	gcInterval time.Duration
	gcTimer    *time.Timer
	gcEnabled  bool

	logger *slog.Logger
}

// NewLoop creates a loop driving engine. A zero gcInterval selects
// DefaultGCInterval. The GC timer starts with Run.
func NewLoop(engine *Engine, gcInterval time.Duration, logger *slog.Logger) *Loop {
	if gcInterval <= 0 {
		gcInterval = DefaultGCInterval
	}
	return &Loop{
		engine:     engine,
		events:     make(chan func(), eventQueueSize),
		done:       make(chan struct{}),
		gcInterval: gcInterval,
		gcEnabled:  true,
		logger:     logger.With(slog.String("component", "lde.loop")),
	}
}

// Run processes events until ctx is cancelled or the engine hits a fatal
// error, which is returned. On exit the engine state is discarded.
func (l *Loop) Run(ctx context.Context) (err error) {
	defer close(l.done)

	l.gcTimer = time.NewTimer(l.gcInterval)
	if !l.gcEnabled {
		l.gcTimer.Stop()
	}
	defer l.gcTimer.Stop()

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		fe, ok := r.(*FatalError)
		if !ok {
			fe = fatalf("panic: %v", r)
		}
		l.logger.Error("label distribution engine failed", slog.String("error", fe.Error()))
		err = fmt.Errorf("run event loop: %w", fe)
	}()

	l.logger.Debug("started event loop", slog.Duration("gc_interval", l.gcInterval))
	for {
		select {
		case <-ctx.Done():
			l.engine.Shutdown()
			l.logger.Info("stopped event loop", slog.String("reason", context.Cause(ctx).Error()))
			return nil
		case fn := <-l.events:
			start := time.Now()
			fn()
			l.engine.reportGauges()
			if elapsed := time.Since(start); elapsed > slowEventThreshold {
				l.logger.Warn("event took a long time",
					slog.Duration("elapsed", elapsed),
					slog.Int("queued", len(l.events)),
				)
			}
		case <-l.gcTimer.C:
			l.engine.GarbageCollect()
			l.engine.reportGauges()
			if l.gcEnabled {
				l.gcTimer.Reset(l.gcInterval)
			}
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) enqueue(ctx context.Context, fn func()) error {
	select {
	case l.events <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopStopped
	}
}

// Submit queues fn without waiting for it to run.
func (l *Loop) Submit(ctx context.Context, fn func(*Engine)) error {
	return l.enqueue(ctx, func() { fn(l.engine) })
}

// Do runs fn on the loop and waits for it to complete.
func (l *Loop) Do(ctx context.Context, fn func(*Engine) error) error {
	ret := make(chan error, 1)
	if err := l.enqueue(ctx, func() { ret <- fn(l.engine) }); err != nil {
		return err
	}
	select {
	case err := <-ret:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopStopped
	}
}

// Query runs fn on the loop and returns its result.
func Query[T any](ctx context.Context, l *Loop, fn func(*Engine) T) (T, error) {
	var out T
	err := l.Do(ctx, func(e *Engine) error {
		out = fn(e)
		return nil
	})
	return out, err
}

// StartGC arms the garbage collection timer. A running timer keeps its
// schedule.
func (l *Loop) StartGC(ctx context.Context) error {
	return l.enqueue(ctx, func() {
		if l.gcEnabled {
			return
		}
		l.gcEnabled = true
		l.gcTimer.Stop()
		l.gcTimer.Reset(l.gcInterval)
	})
}

// StopGC disarms the garbage collection timer.
func (l *Loop) StopGC(ctx context.Context) error {
	return l.enqueue(ctx, func() {
		l.gcEnabled = false
		l.gcTimer.Stop()
	})
}

// RouteSink returns a sink that queues route events on the loop. Events are
// dropped once ctx is done or the loop has stopped.
func (l *Loop) RouteSink(ctx context.Context) RouteSink {
	return loopSink{ctx: ctx, loop: l}
}

type loopSink struct {
	ctx  context.Context
	loop *Loop
}

func (s loopSink) RouteAdded(r Route) {
	s.submit("add", r, func(e *Engine) { e.RouteAdded(r) })
}

func (s loopSink) RouteRemoved(r Route) {
	s.submit("remove", r, func(e *Engine) { e.RouteRemoved(r) })
}

func (s loopSink) submit(op string, r Route, fn func(*Engine)) {
	if err := s.loop.Submit(s.ctx, fn); err != nil {
		s.loop.logger.Debug("dropped route event",
			slog.String("op", op),
			slog.String("fec", r.FEC.String()),
			slog.String("error", err.Error()),
		)
	}
}
