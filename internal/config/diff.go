package config

import (
	"fmt"
	"strings"
)

// SummarizeConfigChange produces a short human-readable list of what changed
// between two configs. Used by the hot-reload path so operators can see why a
// reload mattered without diffing files by hand.
func SummarizeConfigChange(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string

	if oldCfg.Logging != newCfg.Logging {
		out = append(out, fmt.Sprintf("logging: level=%s console=%v file=%v",
			orDefault(newCfg.Logging.Level, "INFO"), newCfg.Logging.Console, newCfg.Logging.File.Enabled))
	}
	if oldCfg.Dispatcher != newCfg.Dispatcher {
		out = append(out, "dispatcher: watchdog_timeout="+orDefault(newCfg.Dispatcher.WatchdogTimeout, "5s"))
	}
	if oldCfg.Engine != newCfg.Engine {
		out = append(out, fmt.Sprintf("engine: event_buffer=%d", newCfg.Engine.EventBuffer))
	}
	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		oldCfg.Scheduler.Timezone != newCfg.Scheduler.Timezone ||
		len(oldCfg.Scheduler.Jobs) != len(newCfg.Scheduler.Jobs) ||
		jobsDiffer(oldCfg.Scheduler.Jobs, newCfg.Scheduler.Jobs) {
		out = append(out, fmt.Sprintf("scheduler: enabled=%v jobs=%d", newCfg.Scheduler.Enabled, len(newCfg.Scheduler.Jobs)))
	}
	if storageLabel(oldCfg.Storage) != storageLabel(newCfg.Storage) {
		out = append(out, "storage: "+storageLabel(newCfg.Storage))
	}
	return out
}

func jobsDiffer(a, b []JobConfig) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}

func storageLabel(s *StorageConfig) string {
	if s == nil {
		return "disabled"
	}
	d := strings.ToLower(strings.TrimSpace(s.Driver))
	if d == "" || d == "none" {
		return "disabled"
	}
	return d + ":" + s.Path
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
