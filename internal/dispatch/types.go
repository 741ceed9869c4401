package dispatch

import (
	"context"
	"time"
)

// Task is a unit of work executed on the engine thread.
type Task struct {
	ID   string
	Name string
	Run  func(ctx context.Context) error
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running    bool
	QueueLen   int
	Dispatched uint64
	Wakeups    uint64
	Executed   uint64
	Failed     uint64
}
