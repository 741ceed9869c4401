package app

import (
	"time"

	"imebridge/internal/config"
	"imebridge/internal/services/scheduler"
	"imebridge/internal/storage"
)

func mapWatchdogTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationField("dispatcher.watchdog_timeout", cfg.Dispatcher.WatchdogTimeout)
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	out := scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}
	for _, j := range cfg.Scheduler.Jobs {
		timeout, err := config.ParseDurationField("scheduler.jobs."+j.Name+".timeout", j.Timeout)
		if err != nil {
			return scheduler.Config{}, err
		}
		out.Jobs = append(out.Jobs, scheduler.Job{
			Name:     j.Name,
			Schedule: j.Schedule,
			Action:   j.Action,
			Timeout:  timeout,
		})
	}
	return out, nil
}

// mapStorageConfig returns (cfg, enabled, err). A nil or driverless storage
// section means disabled, which is not an error.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	sc := storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
		MaxEntries:  cfg.Storage.HistorySize,
	}
	return sc, sc.Driver != "" && sc.Driver != "none", nil
}
