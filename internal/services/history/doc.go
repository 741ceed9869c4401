// Package history records task outcomes.
//
// The service subscribes to the event bus and folds task.done, task.failed
// and task.dropped events into a bounded in-memory ring, newest last. When a
// store is configured each outcome is also appended there; store failures
// are logged through a rate limiter so a broken disk cannot flood the log at
// task frequency.
//
// The ring is the cheap diagnostic surface (Recent, Stats); the store is the
// durable one.
package history
