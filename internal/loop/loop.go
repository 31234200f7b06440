// Package loop is the single-threaded event loop that owns all channel,
// router, and timer state of a connection. Socket goroutines never touch
// that state; they Post work onto the loop instead.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/danmuck/castctl/internal/clock"
)

var ErrStopped = errors.New("loop: stopped")

// Loop runs posted tasks one at a time in FIFO order.
type Loop struct {
	clock clock.Clock

	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
	started sync.Once

	// loop-only state
	timers map[*Timer]struct{}
}

// New returns a loop driven by clk. Call Start before posting work that
// must run.
func New(clk clock.Clock) *Loop {
	if clk == nil {
		clk = clock.Real()
	}
	return &Loop{
		clock:  clk,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		timers: make(map[*Timer]struct{}),
	}
}

func (l *Loop) Clock() clock.Clock { return l.clock }

// Start launches the loop goroutine. Safe to call more than once.
func (l *Loop) Start() {
	l.started.Do(func() {
		go l.run()
	})
}

// Stop refuses new work; already queued tasks still run. Done closes
// once the queue drains.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.signal()
}

// Done is closed when the loop goroutine exits.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Post queues f. It reports false when the loop is stopped and f was
// dropped.
func (l *Loop) Post(f func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, f)
	l.mu.Unlock()
	l.signal()
	return true
}

// Do runs f on the loop and waits for it. Never call Do from the loop
// goroutine itself.
func (l *Loop) Do(ctx context.Context, f func()) error {
	ran := make(chan struct{})
	if !l.Post(func() {
		f()
		close(ran)
	}) {
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-l.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync waits until every task posted before the call has run.
func (l *Loop) Sync(ctx context.Context) error {
	return l.Do(ctx, func() {})
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.mu.Unlock()
			<-l.wake
			l.mu.Lock()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, f := range batch {
			f()
		}
	}
}

// Timer is a one-shot loop timer. Its callback runs on the loop. All
// methods must be called on the loop.
type Timer struct {
	loop   *Loop
	inner  clock.Timer
	f      func()
	active bool
}

// AfterFunc arms a timer that runs f on the loop once d elapses. Must be
// called on the loop.
func (l *Loop) AfterFunc(d time.Duration, f func()) *Timer {
	t := &Timer{loop: l, f: f, active: true}
	l.timers[t] = struct{}{}
	t.inner = l.clock.AfterFunc(d, func() {
		l.Post(t.fire)
	})
	return t
}

func (t *Timer) fire() {
	if !t.active {
		return
	}
	t.active = false
	delete(t.loop.timers, t)
	t.f()
}

// Stop cancels the timer. Idempotent and safe after the timer fired.
func (t *Timer) Stop() bool {
	if t == nil || !t.active {
		return false
	}
	t.active = false
	delete(t.loop.timers, t)
	t.inner.Stop()
	return true
}

// Active reports whether the timer is still pending.
func (t *Timer) Active() bool {
	return t != nil && t.active
}

// StopTimers cancels every live timer and returns how many were active.
// Must be called on the loop.
func (l *Loop) StopTimers() int {
	n := 0
	for t := range l.timers {
		if t.Stop() {
			n++
		}
	}
	return n
}

// ActiveTimers returns the number of pending timers. Must be called on the loop.
func (l *Loop) ActiveTimers() int {
	return len(l.timers)
}
