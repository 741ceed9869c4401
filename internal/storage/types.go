package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free jsonl backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxEntries  int           // prune target; 0 means default (5000)
}

// RunEntry records one task outcome on the engine thread.
// Keep it compact and schema-stable.
type RunEntry struct {
	At      time.Time `json:"at"`
	TaskID  string    `json:"task_id,omitempty"`
	Task    string    `json:"task"`
	Outcome string    `json:"outcome"` // "done", "failed", "dropped"
	TookMS  int64     `json:"took_ms"`
	Error   string    `json:"error,omitempty"`
}
