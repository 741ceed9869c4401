package history

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"imebridge/internal/dispatch"
	"imebridge/internal/eventbus"
	"imebridge/internal/storage"
	logx "imebridge/pkg/logx"
)

const (
	defaultRingSize  = 256
	subscribeBuffer  = 128
	appendTimeout    = 2 * time.Second
	errLogsPerMinute = 6
)

// Entry is one recorded task outcome.
type Entry struct {
	At      time.Time
	TaskID  string
	Task    string
	Outcome string // "done", "failed", "dropped"
	Took    time.Duration
	Error   string
}

// Stats are monotonic counters since Start.
type Stats struct {
	Done    uint64
	Failed  uint64
	Dropped uint64
}

type Config struct {
	Size int // ring capacity; 0 means default
}

// Service folds bus task events into a ring and an optional store.
type Service struct {
	log    logx.Logger
	bus    eventbus.Bus
	store  storage.Store // nil when persistence is disabled
	errLog *rate.Limiter

	mu       sync.Mutex
	ring     []Entry
	size     int
	stats    Stats
	stopCh   chan struct{}
	stopDone chan struct{}
	unsub    func()
}

func New(cfg Config, bus eventbus.Bus, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	size := cfg.Size
	if size <= 0 {
		size = defaultRingSize
	}
	return &Service{
		log:    log,
		bus:    bus,
		store:  store,
		size:   size,
		errLog: rate.NewLimiter(rate.Limit(float64(errLogsPerMinute)/60), errLogsPerMinute),
	}
}

// Start subscribes to the bus. Idempotent.
func (s *Service) Start(ctx context.Context) {
	_ = ctx // consumption is driven by the bus, not by ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	ch, unsub := s.bus.Subscribe(subscribeBuffer)
	s.unsub = unsub
	s.stopCh = make(chan struct{})
	s.stopDone = make(chan struct{})
	go s.loop(ch, s.stopCh, s.stopDone)
	s.log.Info("service started", logx.Int("ring", s.size), logx.Bool("store", s.store != nil))
}

// Stop unsubscribes, drains events already buffered, and waits for the
// consumer goroutine, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh, done, unsub := s.stopCh, s.stopDone, s.unsub
	s.stopCh, s.stopDone, s.unsub = nil, nil, nil
	s.mu.Unlock()

	unsub()
	close(stopCh)
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Service) loop(ch <-chan eventbus.Event, stopCh, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.consume(ev)
		case <-stopCh:
			// drain what the bus already buffered before unsubscribe
			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return
					}
					s.consume(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) consume(ev eventbus.Event) {
	var outcome string
	switch ev.Type {
	case eventbus.TypeTaskDone:
		outcome = "done"
	case eventbus.TypeTaskFailed:
		outcome = "failed"
	case eventbus.TypeTaskDropped:
		outcome = "dropped"
	default:
		return
	}
	te, ok := ev.Data.(dispatch.TaskEvent)
	if !ok {
		return
	}

	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	e := Entry{
		At:      at,
		TaskID:  te.ID,
		Task:    te.Name,
		Outcome: outcome,
		Took:    te.Duration,
		Error:   te.Error,
	}

	s.mu.Lock()
	switch outcome {
	case "done":
		s.stats.Done++
	case "failed":
		s.stats.Failed++
	case "dropped":
		s.stats.Dropped++
	}
	s.ring = append(s.ring, e)
	if len(s.ring) > s.size {
		s.ring = s.ring[len(s.ring)-s.size:]
	}
	store := s.store
	s.mu.Unlock()

	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	if err := store.AppendRun(ctx, storage.RunEntry{
		At:      e.At,
		TaskID:  e.TaskID,
		Task:    e.Task,
		Outcome: e.Outcome,
		TookMS:  e.Took.Milliseconds(),
		Error:   e.Error,
	}); err != nil && s.errLog.Allow() {
		s.log.Warn("run not persisted", logx.String("task", e.Task), logx.Err(err))
	}
}

// Recent returns up to n entries, newest first.
func (s *Service) Recent(n int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.ring) {
		n = len(s.ring)
	}
	out := make([]Entry, 0, n)
	for i := len(s.ring) - 1; i >= len(s.ring)-n; i-- {
		out = append(out, s.ring[i])
	}
	return out
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
