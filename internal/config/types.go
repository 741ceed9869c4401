package config

// Config is the daemon configuration.
//
// Files may be JSON or YAML; YAML is coerced to JSON and decoded strictly
// (unknown fields are rejected). All durations are Go duration strings
// (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Engine     EngineConfig     `json:"engine"`
	Dispatcher DispatcherConfig `json:"dispatcher"`

	// Scheduler declares recurring maintenance jobs that run on the engine
	// thread (dictionary sync, cache trim, ...).
	Scheduler SchedulerConfig `json:"scheduler"`

	// Storage persists the task run log. Omitted means disabled.
	Storage *StorageConfig `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    FileLogConfig `json:"file"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// EngineConfig tunes the bundled channel-backed engine core.
type EngineConfig struct {
	// EventBuffer bounds the pending input-event queue. 0 means default (64).
	EventBuffer int `json:"event_buffer,omitempty"`
}

type DispatcherConfig struct {
	// WatchdogTimeout bounds a single queue-drain span on the engine thread.
	// "0s" or omitted means the default (5s). The watchdog firing is fatal.
	WatchdogTimeout string `json:"watchdog_timeout,omitempty"`
}

// SchedulerConfig declares maintenance jobs.
//
// Job schedules accept cron expressions (5- or 6-field), cron descriptors
// ("@hourly", "@every 55m"), or Go durations ("55m"). Use a "cron:" or
// "interval:" prefix to force interpretation.
type SchedulerConfig struct {
	Enabled  bool        `json:"enabled"`
	Timezone string      `json:"timezone,omitempty"`
	Jobs     []JobConfig `json:"jobs,omitempty"`
}

type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`

	// Action names a maintenance routine registered by the host
	// (e.g. "dict.sync", "cache.trim").
	Action string `json:"action"`

	Timeout string `json:"timeout,omitempty"`
}

// StorageConfig selects the run-log store.
//
// Driver values:
//   - "file": dependency-free jsonl backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	HistorySize int    `json:"history_size,omitempty"`
}
