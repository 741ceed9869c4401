package storage

// Package storage persists the dispatcher's task run log.
//
// It currently supports:
//   - Append-only run entries (one per executed or dropped task)
//   - Recent-run queries for diagnostics
