package dispatch

import "errors"

var (
	ErrNotRunning = errors.New("dispatcher not running")
	ErrNilRun     = errors.New("task Run is nil")
)
