package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"imebridge/internal/dispatch"
	logx "imebridge/pkg/logx"
)

type captureSink struct {
	mu    sync.Mutex
	tasks []dispatch.Task
}

func (c *captureSink) Dispatch(t dispatch.Task) error {
	c.mu.Lock()
	c.tasks = append(c.tasks, t)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, t := range c.tasks {
		out = append(out, t.Name)
	}
	return out
}

func TestFireDispatchesInsteadOfExecuting(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	s := New(Config{Enabled: true}, sink, logx.Nop())

	ran := false
	s.RegisterAction("noop", func(ctx context.Context) error {
		ran = true
		return nil
	})

	s.fire(Job{Name: "tick", Action: "noop"}, s.actions["noop"])

	if ran {
		t.Fatal("action executed in trigger goroutine; it must only be enqueued")
	}
	got := sink.names()
	if len(got) != 1 || got[0] != "sched:tick" {
		t.Fatalf("dispatched tasks = %v, want [sched:tick]", got)
	}

	// The dispatched task carries the action.
	if err := sink.tasks[0].Run(context.Background()); err != nil {
		t.Fatalf("task run: %v", err)
	}
	if !ran {
		t.Fatal("action did not run when the task was executed")
	}
}

func TestFireAppliesJobTimeout(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	s := New(Config{Enabled: true}, sink, logx.Nop())

	var deadline bool
	s.RegisterAction("check", func(ctx context.Context) error {
		_, deadline = ctx.Deadline()
		return nil
	})

	s.fire(Job{Name: "bounded", Action: "check", Timeout: time.Second}, s.actions["check"])
	if err := sink.tasks[0].Run(context.Background()); err != nil {
		t.Fatalf("task run: %v", err)
	}
	if !deadline {
		t.Fatal("job timeout not applied to the task context")
	}
}

func TestStartBindsConfiguredJobs(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	cfg := Config{
		Enabled:  true,
		Timezone: "UTC",
		Jobs: []Job{
			{Name: "sync", Schedule: "@hourly", Action: "dict.sync"},
			{Name: "trim", Schedule: "10m", Action: "cache.trim"},
			{Name: "orphan", Schedule: "5m", Action: "missing"},
		},
	}
	s := New(cfg, sink, logx.Nop())
	s.RegisterAction("dict.sync", func(ctx context.Context) error { return nil })
	s.RegisterAction("cache.trim", func(ctx context.Context) error { return nil })

	s.Start(context.Background())
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	if !snap.Enabled {
		t.Error("snapshot not enabled")
	}
	if snap.Timezone != "UTC" {
		t.Errorf("timezone = %q, want UTC", snap.Timezone)
	}
	// The job with an unregistered action is skipped, not fatal.
	if len(snap.Entries) != 2 {
		t.Fatalf("bound %d jobs, want 2: %+v", len(snap.Entries), snap.Entries)
	}

	// cron computes next fire times on its run goroutine; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		all := true
		for _, e := range s.Snapshot().Entries {
			if e.Next.IsZero() {
				all = false
			}
		}
		if all {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("jobs never got a next fire time: %+v", s.Snapshot().Entries)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, &captureSink{}, logx.Nop())
	ctx := context.Background()

	s.Start(ctx)
	s.Start(ctx)
	s.Stop(ctx)
	s.Stop(ctx)
}

func TestApplyRestartsOnTimezoneChange(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	s := New(Config{Enabled: true, Timezone: "UTC", Jobs: []Job{{Name: "sync", Schedule: "@daily", Action: "dict.sync"}}}, sink, logx.Nop())
	s.RegisterAction("dict.sync", func(ctx context.Context) error { return nil })

	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.Apply(Config{Enabled: true, Timezone: "America/New_York", Jobs: []Job{{Name: "sync", Schedule: "@daily", Action: "dict.sync"}}})

	snap := s.Snapshot()
	if snap.Timezone != "America/New_York" {
		t.Errorf("timezone = %q, want America/New_York", snap.Timezone)
	}
	if len(snap.Entries) != 1 {
		t.Fatalf("bound %d jobs after restart, want 1", len(snap.Entries))
	}
}
