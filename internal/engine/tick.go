// Package engine provides the single-threaded main context, the world
// lifecycle manager and the ingress functions that tie the core together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// TicksPerSecond is the host's tick rate.
const TicksPerSecond = 20

// DefaultInterval is the wall-clock duration of one tick.
const DefaultInterval = time.Second / TicksPerSecond

// ErrStopped is returned by Call once the engine has stopped.
var ErrStopped = errors.New("engine stopped")

// Engine is the main execution context. All shared state is mutated from
// inside posted tasks, scheduled tasks or OnTick, which never run
// concurrently with each other.
type Engine struct {
	Interval time.Duration

	// OnTick runs once per tick, before scheduled tasks.
	OnTick func(tick uint64)

	tick  atomic.Uint64
	tasks chan func()

	// Scheduled tasks; touched from the main context only.
	timers []*timer

	ctx    context.Context
	cancel context.CancelFunc
}

type timer struct {
	due       uint64
	period    uint64
	fn        func()
	cancelled bool
}

// NewEngine creates an engine with the default tick interval.
func NewEngine() *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		Interval: DefaultInterval,
		tasks:    make(chan func(), 1024),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// CurrentTick returns the most recently processed tick. Safe from any
// goroutine.
func (e *Engine) CurrentTick() uint64 {
	return e.tick.Load()
}

// Context is cancelled when the engine stops. Workers started from the main
// context derive from it.
func (e *Engine) Context() context.Context {
	return e.ctx
}

// Run drives the tick loop until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("engine started", "tick", e.CurrentTick(), "interval", e.Interval)

	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Stop()
			slog.Info("engine stopped", "tick", e.CurrentTick())
			return
		case <-e.ctx.Done():
			slog.Info("engine stopped", "tick", e.CurrentTick())
			return
		case fn := <-e.tasks:
			e.run(fn)
		case <-ticker.C:
			e.Step()
		}
	}
}

// Stop halts the loop. Pending tasks are dropped.
func (e *Engine) Stop() {
	e.cancel()
}

// Post queues fn to run on the main context. Safe from any goroutine; a post
// after Stop is dropped.
func (e *Engine) Post(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.ctx.Done():
	}
}

// Call runs fn on the main context and waits for it to finish. When ctx
// ends or the engine stops before fn starts, fn never runs and the error is
// returned.
func (e *Engine) Call(ctx context.Context, fn func()) error {
	// claimed is set by whichever side gets there first: the task when it
	// starts, or the caller when it gives up. fn runs to completion or not
	// at all.
	var claimed atomic.Bool
	done := make(chan struct{})
	task := func() {
		if !claimed.CompareAndSwap(false, true) {
			return
		}
		defer close(done)
		fn()
	}

	select {
	case e.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrStopped
	}

	var err error
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-e.ctx.Done():
		err = ErrStopped
	}
	if claimed.CompareAndSwap(false, true) {
		return err
	}
	// Already running; its effects stand.
	<-done
	return nil
}

// After runs fn on the main context once, ticks from now. Main context only.
func (e *Engine) After(ticks uint64, fn func()) {
	e.timers = append(e.timers, &timer{due: e.CurrentTick() + max(ticks, 1), fn: fn})
}

// Every runs fn on the main context every period ticks until the returned
// cancel func is called. Main context only.
func (e *Engine) Every(period uint64, fn func()) (cancel func()) {
	period = max(period, 1)
	t := &timer{due: e.CurrentTick() + period, period: period, fn: fn}
	e.timers = append(e.timers, t)
	return func() { t.cancelled = true }
}

// Pending returns the number of scheduled tasks still waiting to run.
func (e *Engine) Pending() int {
	n := 0
	for _, t := range e.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// Step drains posted work, advances one tick, runs OnTick and every task
// that is due, then drains again. Run calls it on each tick; tests call it
// directly.
func (e *Engine) Step() {
	e.Drain()

	now := e.tick.Add(1)
	if e.OnTick != nil {
		e.run(func() { e.OnTick(now) })
	}

	pending := e.timers
	e.timers = nil
	for _, t := range pending {
		if t.cancelled {
			continue
		}
		if t.due > now {
			e.timers = append(e.timers, t)
			continue
		}
		e.run(t.fn)
		if t.period > 0 && !t.cancelled {
			t.due = now + t.period
			e.timers = append(e.timers, t)
		}
	}

	e.Drain()
}

// Drain runs every task currently queued by Post or Call.
func (e *Engine) Drain() {
	for {
		select {
		case fn := <-e.tasks:
			e.run(fn)
		default:
			return
		}
	}
}

// run executes one task; a panic is logged instead of killing the loop.
func (e *Engine) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("main context task panicked", "tick", e.CurrentTick(), "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// Uptime renders a tick count as wall-clock time at the nominal rate.
func Uptime(tick uint64) string {
	d := time.Duration(tick) * DefaultInterval
	return d.Truncate(time.Second).String()
}
