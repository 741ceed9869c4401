package app

import (
	"context"
	"strings"
	"time"

	"imebridge/internal/config"
	"imebridge/internal/watchdog"
	logx "imebridge/pkg/logx"
)

// reloadLoop applies validated config updates to live services. The
// ConfigManager has already rejected invalid configs, so mapping errors here
// are unexpected and keep the previous settings.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}

			a.applyConfig(ctx, newCfg, sections)
			a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
		}
	}
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config, sections []string) {
	for _, s := range sections {
		switch {
		case strings.HasPrefix(s, "storage:"):
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case strings.HasPrefix(s, "engine:"):
			a.log.Warn("engine config changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if timeout, err := mapWatchdogTimeout(cfg); err != nil {
		a.log.Warn("invalid watchdog timeout; keeping previous", logx.Err(err))
	} else {
		a.wd.Apply(watchdog.Config{Timeout: timeout})
	}

	prevEnabled := a.sched.Enabled()
	if schedCfg, err := mapSchedulerConfig(cfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(schedCfg)
		switch {
		case prevEnabled && !schedCfg.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !prevEnabled && schedCfg.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}
}
