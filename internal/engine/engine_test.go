package engine

import (
	"sync/atomic"
	"testing"
	"time"

	logx "imebridge/pkg/logx"
)

func TestLoopProcessesPostedEvents(t *testing.T) {
	t.Parallel()
	var handled atomic.Uint64
	l := NewLoop(func(ev Event) { handled.Add(1) }, logx.Nop(), 8)
	if err := l.Startup(); err != nil {
		t.Fatalf("Startup: %v", err)
	}

	if !l.Post(Event{Code: 30, Text: "a"}) {
		t.Fatal("Post returned false on empty buffer")
	}
	l.ProcessOnce()
	if got := handled.Load(); got != 1 {
		t.Fatalf("handled = %d, want 1", got)
	}
	if l.Processed() != 1 {
		t.Fatalf("Processed = %d, want 1", l.Processed())
	}

	if err := l.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestLoopWakeupUnblocksProcessOnce(t *testing.T) {
	t.Parallel()
	l := NewLoop(nil, logx.Nop(), 8)
	if err := l.Startup(); err != nil {
		t.Fatalf("Startup: %v", err)
	}

	done := make(chan struct{})
	go func() {
		l.ProcessOnce()
		close(done)
	}()

	l.ScheduleWakeup()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessOnce did not return after ScheduleWakeup")
	}
	if l.Wakeups() != 1 {
		t.Fatalf("Wakeups = %d, want 1", l.Wakeups())
	}
}

func TestLoopWakeupIsIdempotentHint(t *testing.T) {
	t.Parallel()
	l := NewLoop(nil, logx.Nop(), 8)
	if err := l.Startup(); err != nil {
		t.Fatalf("Startup: %v", err)
	}

	// Redundant wakeups with no blocked call collapse into one pending hint.
	l.ScheduleWakeup()
	l.ScheduleWakeup()
	l.ScheduleWakeup()
	l.ProcessOnce()
	if l.Wakeups() != 1 {
		t.Fatalf("Wakeups = %d, want 1", l.Wakeups())
	}

	// The next ProcessOnce must block again (no stale hints).
	done := make(chan struct{})
	go func() {
		l.ProcessOnce()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("ProcessOnce returned without event or wakeup")
	case <-time.After(50 * time.Millisecond):
	}
	l.ScheduleWakeup()
	<-done
}

func TestLoopLifecycleErrors(t *testing.T) {
	t.Parallel()
	l := NewLoop(nil, logx.Nop(), 1)
	if err := l.Shutdown(); err != ErrNotStarted {
		t.Fatalf("Shutdown before Startup = %v, want ErrNotStarted", err)
	}
	if err := l.Startup(); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	if err := l.Startup(); err != ErrAlreadyStarted {
		t.Fatalf("second Startup = %v, want ErrAlreadyStarted", err)
	}
}
