// Package serial funnels work onto a single goroutine, for state that
// must never be touched concurrently.
package serial

import (
	"context"
	"time"

	"github.com/nikmy/remotetx/pkg/tools/await"
)

// New returns an executor with a queue of capacity functions. When
// interval > 0 onTick runs on the same goroutine every interval.
func New(capacity int, interval time.Duration, onTick func(ctx context.Context)) *Executor {
	return &Executor{
		todo:     make(chan func(), capacity),
		interval: interval,
		onTick:   onTick,
		done:     make(chan struct{}),
	}
}

type Executor struct {
	todo     chan func()
	interval time.Duration
	onTick   func(ctx context.Context)
	done     chan struct{}
}

// Run starts the loop, it stops when ctx is done.
func (e *Executor) Run(ctx context.Context) {
	go e.loop(ctx)
}

// Done is closed once the loop has exited.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

func (e *Executor) loop(ctx context.Context) {
	defer close(e.done)

	waiters := []await.Awaiter{await.FromChan(e.todo)}
	if e.interval > 0 && e.onTick != nil {
		tick := await.Tick(e.interval)
		defer await.StopTicker(tick)
		waiters = append(waiters, tick)
	}

	next := await.FirstOf(waiters...)
	for next.Await(ctx) {
		v, _ := next.Value()

		fired := v.(await.Fired)
		if fired.Index > 0 {
			e.onTick(ctx)
			continue
		}

		if fn, _ := fired.Value.(func()); fn != nil {
			fn()
		}
	}
}

// Do runs fn on the executor goroutine and waits for it. It returns false
// if ctx is done first or the loop has exited; fn may still run later in
// the former case.
func (e *Executor) Do(ctx context.Context, fn func()) bool {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}

	queued := await.FirstOf(await.ToChan(e.todo, task), await.FromChan(e.done))
	if !queued.Await(ctx) {
		return false
	}
	if v, _ := queued.Value(); v.(await.Fired).Index != 0 {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-finished:
		return true
	case <-e.done:
		// the loop may have run fn right before exiting
		select {
		case <-finished:
			return true
		default:
			return false
		}
	}
}
