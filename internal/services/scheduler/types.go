package scheduler

import (
	"context"
	"errors"
	"time"
)

var ErrUnknownAction = errors.New("unknown scheduler action")

// Action is a maintenance routine that runs on the engine thread.
type Action func(ctx context.Context) error

// Job binds a schedule to a registered action.
type Job struct {
	Name     string
	Schedule string
	Action   string
	Timeout  time.Duration
}

type Config struct {
	Enabled  bool
	Timezone string
	Jobs     []Job
}

// EntrySnapshot is a diagnostic view of one scheduled job.
type EntrySnapshot struct {
	Name     string
	Schedule string
	Action   string
	Next     time.Time
}

type Snapshot struct {
	Enabled  bool
	Timezone string
	Entries  []EntrySnapshot
}
