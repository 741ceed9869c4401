// Package app wires the daemon together: config, logging, event bus,
// storage, the engine worker, watchdog, scheduler and history.
package app

import (
	"context"
	"fmt"
	"time"

	"imebridge/internal/config"
	"imebridge/internal/dispatch"
	"imebridge/internal/engine"
	"imebridge/internal/eventbus"
	"imebridge/internal/runtime/supervisor"
	"imebridge/internal/services/history"
	"imebridge/internal/services/scheduler"
	"imebridge/internal/storage"
	"imebridge/internal/watchdog"
	logx "imebridge/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	loop  *engine.Loop
	wd    *watchdog.Watchdog
	disp  *dispatch.Dispatcher
	sched *scheduler.Service
	hist  *history.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	engLog := log.With(logx.String("comp", "engine"))
	loop := engine.NewLoop(func(ev engine.Event) {
		engLog.Trace("event handled", logx.Uint64("code", uint64(ev.Code)), logx.String("text", ev.Text))
	}, engLog, cfg.Engine.EventBuffer)

	wdTimeout, err := mapWatchdogTimeout(cfg)
	if err != nil {
		return nil, err
	}
	wd := watchdog.New(watchdog.Config{Timeout: wdTimeout}, log.With(logx.String("comp", "watchdog")))

	disp := dispatch.New(loop, wd, log.With(logx.String("comp", "dispatch")), bus)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, disp, log.With(logx.String("comp", "scheduler")))

	hist := history.New(history.Config{}, bus, store, log.With(logx.String("comp", "history")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		loop:    loop,
		wd:      wd,
		disp:    disp,
		sched:   sched,
		hist:    hist,
	}
	a.registerBuiltinActions()
	return a, nil
}

// Engine exposes the event loop so hosts can feed input events.
func (a *App) Engine() *engine.Loop { return a.loop }

// Dispatcher exposes the engine-thread dispatcher for host tasks.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.disp }

// History exposes recorded task outcomes.
func (a *App) History() *history.Service { return a.hist }

// RegisterAction makes fn available to scheduler jobs under name.
func (a *App) RegisterAction(name string, fn scheduler.Action) {
	a.sched.RegisterAction(name, fn)
}

// Done is closed when the app run context ends (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	a.wd.Start()
	a.disp.Start(a.sup.Context())
	a.hist.Start(a.sup.Context())
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	// Debug visibility into bus traffic; components subscribe themselves for
	// real consumption.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Each step gets an upper bound so one component cannot stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		start := time.Now()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			} else {
				a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Scheduler first so nothing new reaches the queue, then the engine
	// worker. Undelivered tasks surface as task.dropped events, which the
	// history service still consumes before it stops.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("dispatcher", 3*time.Second, func(c context.Context) error {
		if left := a.disp.Stop(c); len(left) > 0 {
			a.log.Warn("tasks undelivered at stop", logx.Int("count", len(left)))
		}
		return nil
	})
	step("history", 2*time.Second, func(c context.Context) error { a.hist.Stop(c); return nil })
	step("watchdog", 1*time.Second, func(c context.Context) error { a.wd.Stop(); return nil })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
