package engine

import (
	"errors"
	"sync/atomic"
	"time"

	logx "imebridge/pkg/logx"
)

var (
	ErrAlreadyStarted = errors.New("engine already started")
	ErrNotStarted     = errors.New("engine not started")
)

// Handle is the narrow contract between the dispatcher and the engine core.
//
// The engine is single-thread-affine: Startup, ProcessOnce, and Shutdown are
// only ever called from the dispatcher's worker goroutine (which is locked to
// one OS thread). ScheduleWakeup is the one exception: it may be called from
// any goroutine at any time, including when no ProcessOnce is blocked, in
// which case it acts as a hint consumed by the next call.
type Handle interface {
	Startup() error
	ProcessOnce()
	ScheduleWakeup()
	Shutdown() error
}

// Event is one unit of input delivered to the engine core.
type Event struct {
	Code uint32
	Text string
	When time.Time
}

// Handler consumes engine events on the engine thread.
type Handler func(Event)

// Loop is a channel-backed engine core.
//
// Host code feeds events with Post() from any goroutine; ProcessOnce blocks
// until an event arrives or a wakeup is scheduled. It exists so the daemon
// and tests have a real Handle to drive; a cgo-backed core would implement
// the same interface.
type Loop struct {
	handler Handler
	log     logx.Logger

	events chan Event
	// wake carries at most one pending wakeup. A buffered send makes redundant
	// ScheduleWakeup calls harmless and lets an idle wakeup be consumed by the
	// next ProcessOnce.
	wake chan struct{}

	started   atomic.Bool
	processed atomic.Uint64
	wakeups   atomic.Uint64
}

func NewLoop(h Handler, log logx.Logger, buffer int) *Loop {
	if buffer <= 0 {
		buffer = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		handler: h,
		log:     log,
		events:  make(chan Event, buffer),
		wake:    make(chan struct{}, 1),
	}
}

// Post feeds one event into the engine. Safe from any goroutine.
// Returns false if the event buffer is full (event dropped).
func (l *Loop) Post(ev Event) bool {
	if ev.When.IsZero() {
		ev.When = time.Now()
	}
	select {
	case l.events <- ev:
		return true
	default:
		l.log.Warn("engine event buffer full; dropping event", logx.Uint64("code", uint64(ev.Code)))
		return false
	}
}

func (l *Loop) Startup() error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	l.log.Debug("engine started")
	return nil
}

// ProcessOnce blocks until one event is handled or a wakeup is consumed.
// Engine-thread only.
func (l *Loop) ProcessOnce() {
	select {
	case ev := <-l.events:
		if l.handler != nil {
			l.handler(ev)
		}
		l.processed.Add(1)
	case <-l.wake:
		l.wakeups.Add(1)
	}
}

// ScheduleWakeup makes a concurrently blocked ProcessOnce return promptly.
// Safe from any goroutine; redundant calls collapse into one pending wakeup.
func (l *Loop) ScheduleWakeup() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) Shutdown() error {
	if !l.started.CompareAndSwap(true, false) {
		return ErrNotStarted
	}
	l.log.Debug("engine stopped", logx.Uint64("processed", l.processed.Load()), logx.Uint64("wakeups", l.wakeups.Load()))
	return nil
}

// Processed reports how many events have been handled so far.
func (l *Loop) Processed() uint64 { return l.processed.Load() }

// Wakeups reports how many wakeups have been consumed so far.
func (l *Loop) Wakeups() uint64 { return l.wakeups.Load() }
