// internal/browser/eventloop/loop.go
package eventloop

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned when work is submitted to a loop that is no longer running.
var ErrStopped = errors.New("event loop is stopped")

// task is a unit of work queued on the loop. done is closed once the task and
// every microtask it queued have run.
type task struct {
	fn   func()
	done chan struct{}
}

// Loop is a single threaded, cooperative scheduler. Tasks run one at a time in
// FIFO order and never preempt each other. After each task the microtask queue
// is drained before the next task is picked up, mirroring how a page realm
// delivers mutation records.
type Loop struct {
	logger *zap.Logger

	mu      sync.Mutex
	queue   []task
	timers  map[*Timer]struct{}
	stopped bool

	wakeup chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	// micro is only touched from the loop goroutine.
	micro []func()

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a loop. Call Start before submitting work.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		logger: logger.Named("eventloop"),
		timers: make(map[*Timer]struct{}),
		wakeup: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the loop goroutine. Calling it more than once is a no-op.
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		go l.run()
	})
}

// Stop cancels all timers, discards queued tasks and waits for the loop
// goroutine to exit. Safe to call multiple times.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		for t := range l.timers {
			t.cancel()
		}
		l.timers = make(map[*Timer]struct{})
		l.queue = nil
		l.mu.Unlock()

		close(l.stopCh)
		// If Start was never called there is no goroutine to wait for.
		l.startOnce.Do(func() { close(l.doneCh) })
		<-l.doneCh
	})
}

// RunOnLoop queues fn as a task. It returns false if the loop is stopped.
func (l *Loop) RunOnLoop(fn func()) bool {
	return l.enqueue(task{fn: fn})
}

// Do queues fn and blocks until it and any microtasks it scheduled have run.
// It must not be called from the loop goroutine itself.
func (l *Loop) Do(fn func()) error {
	t := task{fn: fn, done: make(chan struct{})}
	if !l.enqueue(t) {
		return ErrStopped
	}
	select {
	case <-t.done:
		return nil
	case <-l.doneCh:
		select {
		case <-t.done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// QueueMicrotask schedules fn to run after the current task completes and
// before the next task starts. Only valid on the loop goroutine.
func (l *Loop) QueueMicrotask(fn func()) {
	l.micro = append(l.micro, fn)
}

func (l *Loop) enqueue(t task) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, t)
	l.mu.Unlock()

	select {
	case l.wakeup <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) run() {
	defer close(l.doneCh)
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			select {
			case <-l.wakeup:
				continue
			case <-l.stopCh:
				return
			}
		}
		next := l.queue[0]
		l.queue[0] = task{}
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.safely(next.fn)
		l.drainMicrotasks()
		if next.done != nil {
			close(next.done)
		}

		select {
		case <-l.stopCh:
			return
		default:
		}
	}
}

func (l *Loop) drainMicrotasks() {
	for len(l.micro) > 0 {
		fn := l.micro[0]
		l.micro[0] = nil
		l.micro = l.micro[1:]
		l.safely(fn)
	}
	l.micro = nil
}

// safely runs fn and contains any panic so one failing callback cannot take
// the whole realm down.
func (l *Loop) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Recovered panic in loop task", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// -- Timers --

// Timer is a handle for SetTimeout and SetInterval callbacks.
type Timer struct {
	loop     *Loop
	fn       func()
	interval time.Duration
	repeat   bool

	cancelled atomic.Bool
	mu        sync.Mutex
	timer     *time.Timer
}

// SetTimeout runs fn on the loop once d has elapsed.
func (l *Loop) SetTimeout(fn func(), d time.Duration) *Timer {
	return l.schedule(fn, d, false)
}

// SetInterval runs fn on the loop every d until the timer is stopped.
func (l *Loop) SetInterval(fn func(), d time.Duration) *Timer {
	if d <= 0 {
		d = time.Millisecond
	}
	return l.schedule(fn, d, true)
}

func (l *Loop) schedule(fn func(), d time.Duration, repeat bool) *Timer {
	t := &Timer{loop: l, fn: fn, interval: d, repeat: repeat}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		t.cancelled.Store(true)
		return t
	}
	l.timers[t] = struct{}{}
	l.mu.Unlock()

	t.mu.Lock()
	t.timer = time.AfterFunc(d, t.fire)
	t.mu.Unlock()
	return t
}

func (t *Timer) fire() {
	if t.cancelled.Load() {
		return
	}
	t.loop.RunOnLoop(func() {
		// A Stop issued after the tick was queued still suppresses the callback.
		if t.cancelled.Load() {
			return
		}
		if !t.repeat {
			t.loop.forget(t)
		}
		t.fn()
	})
	if t.repeat {
		t.mu.Lock()
		if !t.cancelled.Load() {
			t.timer = time.AfterFunc(t.interval, t.fire)
		}
		t.mu.Unlock()
	}
}

// Stop cancels the timer. It reports whether the timer was still active.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	active := t.cancel()
	t.loop.forget(t)
	return active
}

func (t *Timer) cancel() bool {
	if t.cancelled.Swap(true) {
		return false
	}
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
	return true
}

func (l *Loop) forget(t *Timer) {
	l.mu.Lock()
	delete(l.timers, t)
	l.mu.Unlock()
}
