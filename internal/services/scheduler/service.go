package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"imebridge/internal/dispatch"
	logx "imebridge/pkg/logx"
)

// Dispatcher is the subset of dispatch.Dispatcher the scheduler needs.
type Dispatcher interface {
	Dispatch(t dispatch.Task) error
}

type boundJob struct {
	job  Job
	spec ParsedSpec
	id   cron.EntryID
}

// Service triggers configured jobs and hands them to the dispatcher.
// Execution always happens on the engine thread, never in cron's goroutine.
type Service struct {
	log  logx.Logger
	disp Dispatcher

	parser cron.Parser

	mu      sync.Mutex
	cfg     Config
	actions map[string]Action
	c       *cron.Cron
	loc     *time.Location
	bound   []boundJob
}

func New(cfg Config, disp Dispatcher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg,
		disp: disp,
		log:  log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		actions: map[string]Action{},
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// RegisterAction binds name to fn. Registrations made while stopped take
// effect on the next Start; registrations made while running require a
// restart to bind to jobs (actions are resolved at bind time).
func (s *Service) RegisterAction(name string, fn Action) {
	s.mu.Lock()
	s.actions[name] = fn
	s.mu.Unlock()
}

// Apply swaps the config. If the service is running and the timezone or job
// set changed, cron is restarted with the new definitions.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	jobsChanged := !jobsEqual(s.cfg.Jobs, cfg.Jobs)
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if oldTZ != newTZ || jobsChanged {
		s.restartLocked()
	}
}

// Start begins triggering. Idempotent; a second Start is a no-op.
func (s *Service) Start(ctx context.Context) {
	_ = ctx // triggering is async; nothing blocks here

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startLocked()
}

func (s *Service) startLocked() {
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.bound = nil

	for _, j := range s.cfg.Jobs {
		if err := s.bindLocked(j); err != nil {
			s.log.Error("job not bound", logx.String("job", j.Name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("jobs", len(s.bound)))
}

// Stop halts triggering and waits for in-flight trigger callbacks, bounded
// by ctx. Jobs already handed to the dispatcher are unaffected.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.bound = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// best-effort
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) restartLocked() {
	if s.c != nil {
		s.c.Stop()
		s.c = nil
	}
	s.startLocked()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) bindLocked(j Job) error {
	spec, err := ParseSchedule(j.Schedule)
	if err != nil {
		return err
	}
	fn, ok := s.actions[j.Action]
	if !ok {
		return ErrUnknownAction
	}

	trigger := func() { s.fire(j, fn) }

	var id cron.EntryID
	switch spec.Kind {
	case SpecCron:
		id, err = s.c.AddFunc(spec.Cron, trigger)
		if err != nil {
			return err
		}
	case SpecInterval:
		id = s.c.Schedule(cron.Every(spec.Every), cron.FuncJob(trigger))
	}
	s.bound = append(s.bound, boundJob{job: j, spec: spec, id: id})
	return nil
}

// fire runs in cron's goroutine: it only enqueues, the engine thread
// executes.
func (s *Service) fire(j Job, fn Action) {
	task := dispatch.Task{
		Name: "sched:" + j.Name,
		Run: func(ctx context.Context) error {
			if j.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, j.Timeout)
				defer cancel()
			}
			return fn(ctx)
		},
	}
	if err := s.disp.Dispatch(task); err != nil {
		s.log.Warn("job not dispatched", logx.String("job", j.Name), logx.Err(err))
		return
	}
	s.log.Debug("job dispatched", logx.String("job", j.Name), logx.String("action", j.Action))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: strings.TrimSpace(s.cfg.Timezone)}
	if s.c == nil {
		return snap
	}
	for _, b := range s.bound {
		e := s.c.Entry(b.id)
		snap.Entries = append(snap.Entries, EntrySnapshot{
			Name:     b.job.Name,
			Schedule: b.job.Schedule,
			Action:   b.job.Action,
			Next:     e.Next,
		})
	}
	return snap
}

func jobsEqual(a, b []Job) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
