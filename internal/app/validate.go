package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"imebridge/internal/config"
	"imebridge/internal/services/scheduler"
)

// validateConfig rejects a config before it is committed or published, so a
// bad hot-reload never reaches running services.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := mapWatchdogTimeout(cfg); err != nil {
		return err
	}
	if cfg.Engine.EventBuffer < 0 {
		return fmt.Errorf("engine.event_buffer must be >= 0")
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	seen := map[string]bool{}
	for _, j := range cfg.Scheduler.Jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			return fmt.Errorf("scheduler.jobs: job name required")
		}
		if seen[name] {
			return fmt.Errorf("scheduler.jobs: duplicate job %q", name)
		}
		seen[name] = true
		if strings.TrimSpace(j.Action) == "" {
			return fmt.Errorf("scheduler.jobs.%s: action required", name)
		}
		if _, err := scheduler.ParseSchedule(j.Schedule); err != nil {
			return fmt.Errorf("scheduler.jobs.%s: %w", name, err)
		}
		if _, err := config.ParseDurationField("scheduler.jobs."+name+".timeout", j.Timeout); err != nil {
			return err
		}
	}

	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if cfg.Storage != nil && cfg.Storage.HistorySize < 0 {
		return fmt.Errorf("storage.history_size must be >= 0")
	}
	return nil
}
