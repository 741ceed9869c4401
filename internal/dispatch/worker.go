package dispatch

import (
	"context"
	"errors"
	"runtime"
	"time"

	"imebridge/internal/eventbus"
	"imebridge/internal/watchdog"
	logx "imebridge/pkg/logx"
)

// worker is the engine thread: a goroutine pinned to one OS thread for the
// lifetime of the activation. It alternates {ProcessOnce under the busy lock,
// drain under the watchdog} until the running flag clears, then shuts the
// engine down.
func (d *Dispatcher) worker(ctx context.Context, done chan struct{}) {
	defer close(done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := d.eng.Startup(); err != nil {
		d.log.Error("engine startup failed", logx.Err(err))
		d.running.Store(false)
		return
	}
	d.log.Info("engine worker started")
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeEngineStarted, Time: time.Now()})
	}

	for d.running.Load() {
		d.busy.Lock()
		d.eng.ProcessOnce()
		d.busy.Unlock()

		// A stop requested while ProcessOnce was blocked leaves the queue to
		// Stop(): its items are returned to the caller, not executed here.
		if !d.running.Load() {
			break
		}

		d.drainGuarded(ctx)
	}

	if err := d.eng.Shutdown(); err != nil {
		d.log.Error("engine shutdown failed", logx.Err(err))
	}
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeEngineStopped, Time: time.Now()})
	}
	d.log.Info("engine worker stopped")
}

// drainGuarded empties the queue under the watchdog deadline. The worker is
// the only armer, so Install can only fail when the watchdog itself is down;
// draining still has to happen then, or queued work would starve.
func (d *Dispatcher) drainGuarded(ctx context.Context) {
	if d.wd == nil {
		d.drain(ctx)
		return
	}
	err := d.wd.Do(func() error {
		d.drain(ctx)
		return nil
	})
	if err != nil {
		if errors.Is(err, watchdog.ErrNotRunning) {
			d.drain(ctx)
			return
		}
		d.log.Error("watchdog refused drain span", logx.Err(err))
		d.drain(ctx)
	}
}

// drain executes every currently queued task in FIFO order. Task errors are
// recorded and the drain moves on; a panic in a task is deliberately not
// recovered (an unanticipated panic on the engine thread is a caller bug and
// must stay loud).
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		t, ok := d.queue.pollOne()
		if !ok {
			return
		}
		d.exec(ctx, t)
	}
}

func (d *Dispatcher) exec(ctx context.Context, t Task) {
	start := time.Now()
	err := t.Run(ctx)
	dur := time.Since(start)

	d.executed.Add(1)
	ev := TaskEvent{ID: t.ID, Name: t.Name, Started: start, Duration: dur}
	if err != nil {
		d.failed.Add(1)
		ev.Error = err.Error()
		d.log.Warn("task failed", logx.String("task", t.Name), logx.Err(err), logx.Duration("dur", dur))
		d.publish(eventbus.TypeTaskFailed, ev)
		return
	}
	d.log.Debug("task completed", logx.String("task", t.Name), logx.Duration("dur", dur))
	d.publish(eventbus.TypeTaskDone, ev)
}
