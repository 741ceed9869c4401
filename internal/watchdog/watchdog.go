// Package watchdog provides a single-slot deadline monitor for bounded spans
// of work on the engine thread.
//
// At most one deadline is armed at a time. A span that is not disarmed before
// its deadline is treated as a stuck engine thread: the default stall handler
// logs at error level and terminates the process. Nested or unbalanced
// Install/Teardown calls are programming errors and fail fast.
package watchdog

import (
	"errors"
	"os"
	"sync"
	"time"

	logx "imebridge/pkg/logx"
)

var (
	ErrArmed      = errors.New("watchdog already armed")
	ErrNotArmed   = errors.New("watchdog not armed")
	ErrNotRunning = errors.New("watchdog not running")
)

// DefaultTimeout bounds a queue-drain span on the engine thread.
const DefaultTimeout = 5 * time.Second

type Config struct {
	// Timeout is the fixed deadline per armed span. Zero means DefaultTimeout.
	Timeout time.Duration

	// OnStall runs on the watchdog worker when an armed span misses its
	// deadline. Nil means fatal: log and exit the process. Overridden in tests.
	OnStall func(elapsed time.Duration)
}

type cmdKind int

const (
	cmdArm cmdKind = iota
	cmdDisarm
)

type command struct {
	kind  cmdKind
	reply chan error
}

// Watchdog owns one deadline slot, mutated only by its own worker goroutine.
type Watchdog struct {
	log logx.Logger

	mu       sync.Mutex
	cfg      Config
	cmds     chan command
	stopCh   chan struct{}
	stopDone chan struct{}
	wg       sync.WaitGroup
}

func New(cfg Config, log logx.Logger) *Watchdog {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watchdog{cfg: cfg, log: log}
}

// Apply updates the timeout for spans armed after the call.
func (w *Watchdog) Apply(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	w.mu.Lock()
	w.cfg.Timeout = cfg.Timeout
	if cfg.OnStall != nil {
		w.cfg.OnStall = cfg.OnStall
	}
	w.mu.Unlock()
}

// Start launches the watchdog worker. Idempotent while running.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cmds != nil {
		return
	}
	w.cmds = make(chan command)
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	cmds := w.cmds

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.worker(stopCh, cmds)
	}()
	w.log.Debug("watchdog started", logx.Duration("timeout", w.cfg.Timeout))
}

// Stop terminates the watchdog worker. Any armed span is forgotten.
// Safe to call redundantly.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if w.cmds == nil {
		w.mu.Unlock()
		return
	}
	stopCh := w.stopCh
	w.cmds = nil
	w.stopCh = nil
	w.mu.Unlock()

	close(stopCh)
	w.wg.Wait()
	w.log.Debug("watchdog stopped")
}

// Install arms the deadline slot. ErrArmed if a span is already armed;
// arming an armed watchdog is a caller bug, not a runtime condition.
func (w *Watchdog) Install() error {
	return w.send(cmdArm)
}

// Teardown disarms the deadline slot. ErrNotArmed if nothing is armed.
func (w *Watchdog) Teardown() error {
	return w.send(cmdDisarm)
}

// Do runs fn under an armed deadline, guaranteeing teardown on every exit
// path including an error return from fn.
func (w *Watchdog) Do(fn func() error) error {
	if err := w.Install(); err != nil {
		return err
	}
	defer func() {
		if err := w.Teardown(); err != nil {
			// Only reachable after a non-fatal stall handler already fired.
			w.log.Error("watchdog teardown failed", logx.Err(err))
		}
	}()
	return fn()
}

func (w *Watchdog) send(kind cmdKind) error {
	w.mu.Lock()
	cmds := w.cmds
	stopCh := w.stopCh
	w.mu.Unlock()
	if cmds == nil {
		return ErrNotRunning
	}

	cmd := command{kind: kind, reply: make(chan error, 1)}
	select {
	case cmds <- cmd:
	case <-stopCh:
		return ErrNotRunning
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-stopCh:
		return ErrNotRunning
	}
}

// worker owns the slot state: Idle (timerC == nil) or Armed.
func (w *Watchdog) worker(stopCh <-chan struct{}, cmds <-chan command) {
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		armedAt time.Time
	)
	disarm := func() {
		if timer != nil && !timer.Stop() {
			<-timer.C
		}
		timer = nil
		timerC = nil
	}

	for {
		select {
		case <-stopCh:
			disarm()
			return

		case cmd := <-cmds:
			switch cmd.kind {
			case cmdArm:
				if timerC != nil {
					cmd.reply <- ErrArmed
					continue
				}
				w.mu.Lock()
				timeout := w.cfg.Timeout
				w.mu.Unlock()
				armedAt = time.Now()
				timer = time.NewTimer(timeout)
				timerC = timer.C
				cmd.reply <- nil
			case cmdDisarm:
				if timerC == nil {
					cmd.reply <- ErrNotArmed
					continue
				}
				disarm()
				cmd.reply <- nil
			}

		case <-timerC:
			elapsed := time.Since(armedAt)
			timer = nil
			timerC = nil
			w.fire(elapsed)
		}
	}
}

func (w *Watchdog) fire(elapsed time.Duration) {
	w.mu.Lock()
	onStall := w.cfg.OnStall
	timeout := w.cfg.Timeout
	w.mu.Unlock()

	if onStall != nil {
		onStall(elapsed)
		return
	}
	w.log.Error("engine thread stalled beyond watchdog deadline; terminating",
		logx.Duration("elapsed", elapsed),
		logx.Duration("timeout", timeout),
	)
	os.Exit(2)
}
