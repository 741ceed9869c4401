package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"imebridge/internal/watchdog"
	logx "imebridge/pkg/logx"
)

// fakeEngine gives tests full control over ProcessOnce blocking.
//
// honorWake=true behaves like a real engine: a blocked ProcessOnce returns on
// ScheduleWakeup. honorWake=false only returns when the test feeds a release
// token, so the worker can be held inside the engine call deterministically.
type fakeEngine struct {
	honorWake bool

	startups  atomic.Int32
	shutdowns atomic.Int32
	wakeups   atomic.Int32

	wake    chan struct{}
	release chan struct{}
	entered chan struct{}

	startupErr error
}

func newFakeEngine(honorWake bool) *fakeEngine {
	return &fakeEngine{
		honorWake: honorWake,
		wake:      make(chan struct{}, 1),
		release:   make(chan struct{}, 64),
		entered:   make(chan struct{}, 64),
	}
}

func (f *fakeEngine) Startup() error {
	f.startups.Add(1)
	return f.startupErr
}

func (f *fakeEngine) ProcessOnce() {
	select {
	case f.entered <- struct{}{}:
	default:
	}
	if f.honorWake {
		select {
		case <-f.release:
		case <-f.wake:
		}
		return
	}
	<-f.release
}

func (f *fakeEngine) ScheduleWakeup() {
	f.wakeups.Add(1)
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *fakeEngine) Shutdown() error {
	f.shutdowns.Add(1)
	return nil
}

// waitEntered blocks until the worker enters ProcessOnce.
func (f *fakeEngine) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-f.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never entered ProcessOnce")
	}
}

// stopManual stops a dispatcher driving a honorWake=false engine: the worker
// only leaves ProcessOnce on a release token, which is fed once the running
// flag has flipped so no drain can sneak in before the transition.
func stopManual(t *testing.T, d *Dispatcher, f *fakeEngine) []Task {
	t.Helper()
	go func() {
		for d.Running() {
			time.Sleep(time.Millisecond)
		}
		f.release <- struct{}{}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return d.Stop(ctx)
}

func TestFIFOOrderSingleCaller(t *testing.T) {
	t.Parallel()
	f := newFakeEngine(true)
	d := New(f, nil, logx.Nop(), nil)
	d.Start(context.Background())
	f.waitEntered(t)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 3)
	for _, name := range []string{"A", "B", "C"} {
		name := name
		err := d.Dispatch(Task{Name: name, Run: func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			done <- struct{}{}
			return nil
		}})
		if err != nil {
			t.Fatalf("Dispatch(%s): %v", name, err)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 3 tasks executed", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Fatalf("execution order = %v, want [A B C]", order)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d.Stop(ctx)
}

func TestNoExecutionDuringEngineCall(t *testing.T) {
	t.Parallel()
	f := newFakeEngine(false)
	d := New(f, nil, logx.Nop(), nil)
	d.Start(context.Background())
	f.waitEntered(t)

	var executed atomic.Bool
	ran := make(chan struct{})
	if err := d.Dispatch(Task{Name: "D", Run: func(context.Context) error {
		executed.Store(true)
		close(ran)
		return nil
	}}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	// The worker is pinned inside ProcessOnce; the dispatched item must not
	// run concurrently with the engine call.
	if f.wakeups.Load() == 0 {
		t.Fatal("dispatch during ProcessOnce did not schedule a wakeup")
	}
	select {
	case <-ran:
		t.Fatal("task executed while worker was inside ProcessOnce")
	case <-time.After(100 * time.Millisecond):
	}

	// Let ProcessOnce return; the drain phase runs the item.
	f.release <- struct{}{}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task never executed after ProcessOnce returned")
	}

	stopManual(t, d, f)
}

func TestBusyGatedWakeup(t *testing.T) {
	t.Parallel()
	f := newFakeEngine(false)
	d := New(f, nil, logx.Nop(), nil)
	d.Start(context.Background())
	f.waitEntered(t)

	inTask := make(chan struct{})
	gate := make(chan struct{})
	if err := d.Dispatch(Task{Name: "blocker", Run: func(context.Context) error {
		close(inTask)
		<-gate
		return nil
	}}); err != nil {
		t.Fatalf("Dispatch(blocker): %v", err)
	}
	// Worker was inside ProcessOnce: exactly one wakeup for that dispatch.
	if got := f.wakeups.Load(); got != 1 {
		t.Fatalf("wakeups after busy dispatch = %d, want 1", got)
	}

	// Move the worker into the drain phase (busy lock free).
	f.release <- struct{}{}
	select {
	case <-inTask:
	case <-time.After(2 * time.Second):
		t.Fatal("blocker task never started")
	}

	ran := make(chan struct{})
	if err := d.Dispatch(Task{Name: "D", Run: func(context.Context) error {
		close(ran)
		return nil
	}}); err != nil {
		t.Fatalf("Dispatch(D): %v", err)
	}
	// Worker is not inside ProcessOnce, so no wakeup may be scheduled.
	if got := f.wakeups.Load(); got != 1 {
		t.Fatalf("wakeups after idle dispatch = %d, want still 1", got)
	}

	close(gate)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task dispatched during drain never executed")
	}

	stopManual(t, d, f)
}

func TestStopReturnsUndeliveredTasks(t *testing.T) {
	t.Parallel()
	f := newFakeEngine(false)
	d := New(f, nil, logx.Nop(), nil)
	d.Start(context.Background())
	f.waitEntered(t)

	var executed atomic.Bool
	if err := d.Dispatch(Task{Name: "E", Run: func(context.Context) error {
		executed.Store(true)
		return nil
	}}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	left := stopManual(t, d, f)
	if len(left) != 1 || left[0].Name != "E" {
		t.Fatalf("Stop returned %d tasks, want [E]", len(left))
	}
	if executed.Load() {
		t.Fatal("undelivered task was executed by the dispatcher")
	}
	if got := f.shutdowns.Load(); got != 1 {
		t.Fatalf("shutdowns = %d, want 1", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFakeEngine(true)
	d := New(f, nil, logx.Nop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if left := d.Stop(ctx); left != nil {
		t.Fatalf("Stop before Start = %v, want nil", left)
	}

	d.Start(context.Background())
	f.waitEntered(t)
	d.Stop(ctx)
	if left := d.Stop(ctx); left != nil {
		t.Fatalf("second Stop = %v, want nil", left)
	}
	if got := f.shutdowns.Load(); got != 1 {
		t.Fatalf("shutdowns = %d, want 1", got)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFakeEngine(true)
	d := New(f, nil, logx.Nop(), nil)
	d.Start(context.Background())
	f.waitEntered(t)
	d.Start(context.Background())

	if got := f.startups.Load(); got != 1 {
		t.Fatalf("startups = %d, want 1", got)
	}
	if !d.Running() {
		t.Fatal("Running() = false after Start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d.Stop(ctx)
}

func TestNoLostWork(t *testing.T) {
	t.Parallel()
	f := newFakeEngine(true)
	d := New(f, nil, logx.Nop(), nil)
	d.Start(context.Background())
	f.waitEntered(t)

	const producers = 4
	const perProducer = 50

	var accepted atomic.Int64
	var executed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				err := d.Dispatch(Task{Run: func(context.Context) error {
					executed.Add(1)
					return nil
				}})
				if err == nil {
					accepted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	left := d.Stop(ctx)

	if got := executed.Load() + int64(len(left)); got != accepted.Load() {
		t.Fatalf("executed(%d) + undelivered(%d) = %d, want %d accepted",
			executed.Load(), len(left), got, accepted.Load())
	}
}

func TestCallReturnsResult(t *testing.T) {
	t.Parallel()
	f := newFakeEngine(true)
	d := New(f, nil, logx.Nop(), nil)
	d.Start(context.Background())
	f.waitEntered(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	v, err := d.Call(ctx, "sum", func(context.Context) (any, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got, ok := v.(int); !ok || got != 42 {
		t.Fatalf("Call = %v, want 42", v)
	}

	wantErr := errors.New("engine says no")
	if _, err := d.Call(ctx, "fail", func(context.Context) (any, error) {
		return nil, wantErr
	}); !errors.Is(err, wantErr) {
		t.Fatalf("Call error = %v, want %v", err, wantErr)
	}

	d.Stop(ctx)
}

func TestCallAbandonedWaiterStillRuns(t *testing.T) {
	t.Parallel()
	f := newFakeEngine(false)
	d := New(f, nil, logx.Nop(), nil)
	d.Start(context.Background())
	f.waitEntered(t)

	ran := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// The worker is pinned inside ProcessOnce, so the waiter times out first.
	_, err := d.Call(ctx, "slow", func(context.Context) (any, error) {
		close(ran)
		return "late", nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Call = %v, want DeadlineExceeded", err)
	}

	// Abandoning the wait must not retract the item.
	f.release <- struct{}{}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned call never executed")
	}

	stopManual(t, d, f)
}

func TestSlowDrainTripsWatchdog(t *testing.T) {
	t.Parallel()
	stalled := make(chan time.Duration, 1)
	wd := watchdog.New(watchdog.Config{
		Timeout: 40 * time.Millisecond,
		OnStall: func(elapsed time.Duration) { stalled <- elapsed },
	}, logx.Nop())
	wd.Start()
	defer wd.Stop()

	f := newFakeEngine(true)
	d := New(f, wd, logx.Nop(), nil)
	d.Start(context.Background())
	f.waitEntered(t)

	if err := d.Dispatch(Task{Name: "sleepy", Run: func(context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	select {
	case <-stalled:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not fire for a slow drain")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d.Stop(ctx)
}

func TestDispatchErrors(t *testing.T) {
	t.Parallel()
	f := newFakeEngine(true)
	d := New(f, nil, logx.Nop(), nil)

	if err := d.Dispatch(Task{Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Dispatch before Start = %v, want ErrNotRunning", err)
	}
	if err := d.Dispatch(Task{}); !errors.Is(err, ErrNilRun) {
		t.Fatalf("Dispatch nil Run = %v, want ErrNilRun", err)
	}
}

func TestStartupFailureClearsRunning(t *testing.T) {
	t.Parallel()
	f := newFakeEngine(true)
	f.startupErr = errors.New("core refused to load")
	d := New(f, nil, logx.Nop(), nil)
	d.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for d.Running() {
		if time.Now().After(deadline) {
			t.Fatal("Running still true after startup failure")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := d.Dispatch(Task{Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Dispatch after failed startup = %v, want ErrNotRunning", err)
	}
	if got := f.shutdowns.Load(); got != 0 {
		t.Fatalf("shutdowns = %d, want 0 (startup never succeeded)", got)
	}
}
