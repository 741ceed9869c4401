package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"imebridge/internal/engine"
	"imebridge/internal/eventbus"
	"imebridge/internal/watchdog"
	logx "imebridge/pkg/logx"
)

// Dispatcher owns the engine thread and the public scheduling API.
//
// All state is per-instance: the running flag, the busy lock, and the queue
// belong to one Dispatcher and are never process-global.
type Dispatcher struct {
	log logx.Logger
	bus eventbus.Bus
	eng engine.Handle
	wd  *watchdog.Watchdog

	// running is the lifecycle flag: one CAS false→true per Start, one
	// CAS true→false per effective Stop.
	running atomic.Bool

	// busy is held by the worker for the exact duration of each ProcessOnce
	// call. Producers only ever test it (TryLock + immediate Unlock) to decide
	// whether a cross-thread wakeup is needed; they never hold it.
	busy sync.Mutex

	queue *taskQueue

	mu         sync.Mutex
	workerDone chan struct{}
	runCancel  context.CancelFunc

	dispatched atomic.Uint64
	wakeups    atomic.Uint64
	executed   atomic.Uint64
	failed     atomic.Uint64
}

// New creates a dispatcher around the given engine handle. wd may be nil to
// run drain spans unguarded (tests only; the daemon always passes one).
func New(eng engine.Handle, wd *watchdog.Watchdog, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		log:   log,
		bus:   bus,
		eng:   eng,
		wd:    wd,
		queue: newTaskQueue(),
	}
}

// Running reports whether the worker is active.
func (d *Dispatcher) Running() bool { return d.running.Load() }

// Start launches the engine worker. Calling Start while already running has
// no effect; engine Startup happens exactly once per false→true transition,
// on the worker itself. Start returns without waiting for the loop to begin.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.running.CompareAndSwap(false, true) {
		d.log.Debug("start ignored; already running")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.mu.Lock()
	d.workerDone = done
	d.runCancel = cancel
	d.mu.Unlock()

	go d.worker(runCtx, done)
}

// Stop transitions running true→false, unblocks a ProcessOnce in flight,
// waits for the worker to exit (bounded by ctx), and returns every task still
// queued so the caller can fail or reroute them. A redundant Stop returns nil
// and never reaches the engine: Shutdown runs at most once per activation.
func (d *Dispatcher) Stop(ctx context.Context) []Task {
	if !d.running.CompareAndSwap(true, false) {
		return nil
	}
	start := time.Now()

	// The worker may be blocked inside ProcessOnce; a wakeup is harmless if it
	// is not.
	d.eng.ScheduleWakeup()

	d.mu.Lock()
	done := d.workerDone
	cancel := d.runCancel
	d.workerDone = nil
	d.runCancel = nil
	d.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			d.log.Warn("stop timed out waiting for engine worker")
		}
	}
	if cancel != nil {
		cancel()
	}

	leftovers := d.queue.drainAll()
	for _, t := range leftovers {
		d.publish(eventbus.TypeTaskDropped, TaskEvent{ID: t.ID, Name: t.Name})
	}
	d.log.Info("dispatcher stopped",
		logx.Int("undelivered", len(leftovers)),
		logx.Duration("took", time.Since(start)),
	)
	return leftovers
}

// Dispatch appends t to the queue (fire-and-forget). If the worker is
// currently blocked inside ProcessOnce, it schedules exactly one engine
// wakeup so the queue is serviced promptly; otherwise the worker reaches the
// drain phase on its own and no wakeup is made.
func (d *Dispatcher) Dispatch(t Task) error {
	if t.Run == nil {
		return ErrNilRun
	}
	if !d.running.Load() {
		return ErrNotRunning
	}

	d.queue.append(t)
	d.dispatched.Add(1)
	d.publish(eventbus.TypeTaskQueued, TaskEvent{ID: t.ID, Name: t.Name})

	// Busy test: TryLock succeeding proves the worker is NOT inside
	// ProcessOnce, so the pending item is picked up within one loop iteration
	// and a wakeup would be wasted. TryLock failing proves it is, so one
	// wakeup bounds the item's latency.
	if d.busy.TryLock() {
		d.busy.Unlock()
		return nil
	}
	d.wakeups.Add(1)
	d.eng.ScheduleWakeup()
	return nil
}

type callResult struct {
	val any
	err error
}

// Call runs fn on the engine thread and returns its result. The calling
// goroutine blocks until the worker fulfills the one-shot result slot or ctx
// is done; the worker itself never blocks on the slot (buffered). Abandoning
// the wait does not retract the task: it still runs, only the waiter is gone.
func (d *Dispatcher) Call(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	slot := make(chan callResult, 1)
	err := d.Dispatch(Task{
		Name: name,
		Run: func(tctx context.Context) error {
			v, err := fn(tctx)
			slot <- callResult{val: v, err: err}
			return err
		},
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-slot:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) Snapshot() Snapshot {
	return Snapshot{
		Running:    d.running.Load(),
		QueueLen:   d.queue.len(),
		Dispatched: d.dispatched.Load(),
		Wakeups:    d.wakeups.Load(),
		Executed:   d.executed.Load(),
		Failed:     d.failed.Load(),
	}
}

func (d *Dispatcher) publish(typ string, ev TaskEvent) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}
