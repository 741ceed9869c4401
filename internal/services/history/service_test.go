package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"imebridge/internal/dispatch"
	"imebridge/internal/eventbus"
	"imebridge/internal/storage"
	logx "imebridge/pkg/logx"
)

type memStore struct {
	mu      sync.Mutex
	entries []storage.RunEntry
	fail    error
}

func (m *memStore) AppendRun(ctx context.Context, e storage.RunEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) RecentRuns(ctx context.Context, limit int) ([]storage.RunEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.RunEntry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func publishOutcome(bus eventbus.Bus, typ, name, errText string) {
	bus.Publish(eventbus.Event{
		Type: typ,
		Time: time.Now(),
		Data: dispatch.TaskEvent{Name: name, Duration: 3 * time.Millisecond, Error: errText},
	})
}

func TestRecordsOutcomes(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	store := &memStore{}
	s := New(Config{Size: 16}, bus, store, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	publishOutcome(bus, eventbus.TypeTaskDone, "a", "")
	publishOutcome(bus, eventbus.TypeTaskFailed, "b", "boom")
	publishOutcome(bus, eventbus.TypeTaskDropped, "c", "")
	// queued events are not outcomes and must be ignored
	publishOutcome(bus, eventbus.TypeTaskQueued, "d", "")

	waitFor(t, func() bool { return store.count() == 3 })

	if got := s.Stats(); got.Done != 1 || got.Failed != 1 || got.Dropped != 1 {
		t.Fatalf("stats = %+v", got)
	}
	if top := s.Recent(1); len(top) != 1 || top[0].Task != "c" || top[0].Outcome != "dropped" {
		t.Fatalf("recent(1) = %+v", top)
	}
}

func TestRecentNewestFirstAndRingBound(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	s := New(Config{Size: 3}, bus, nil, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	for _, name := range []string{"a", "b", "c", "d"} {
		publishOutcome(bus, eventbus.TypeTaskDone, name, "")
	}
	waitFor(t, func() bool { return s.Stats().Done == 4 })

	got := s.Recent(0)
	if len(got) != 3 {
		t.Fatalf("ring holds %d entries, want 3", len(got))
	}
	want := []string{"d", "c", "b"}
	for i, w := range want {
		if got[i].Task != w {
			t.Errorf("recent[%d] = %q, want %q", i, got[i].Task, w)
		}
	}
}

func TestStoreFailureDoesNotStopRecording(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	store := &memStore{fail: errors.New("disk full")}
	s := New(Config{}, bus, store, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	for i := 0; i < 10; i++ {
		publishOutcome(bus, eventbus.TypeTaskFailed, "x", "boom")
	}
	waitFor(t, func() bool { return s.Stats().Failed == 10 })

	if len(s.Recent(0)) != 10 {
		t.Fatalf("ring lost entries on store failure: %d", len(s.Recent(0)))
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	s := New(Config{}, bus, nil, logx.Nop())
	ctx := context.Background()

	s.Start(ctx)
	s.Start(ctx)
	s.Stop(ctx)
	s.Stop(ctx)
}
