// Package scheduler runs recurring engine maintenance jobs.
//
// # Overview
//
// Jobs are declared in config under a stable human-readable name (e.g.
// "dict-sync") and bound to a registered action ("dict.sync", "cache.trim",
// ...). When a job fires, the scheduler does not execute the action itself:
// it dispatches it onto the engine thread, where all engine-touching work
// must run.
//
// # Schedule formats
//
// The scheduler accepts multiple schedule syntaxes:
//
//   - Cron expressions: 5-field (min hour dom mon dow) or 6-field with
//     optional seconds. Example: "55 * * * *" or "0 */5 * * * *".
//   - Cron descriptors: "@hourly", "@daily", "@every 55m".
//   - Interval durations: Go duration strings like "55m" or "2h30m".
//   - Interval HH:MM: a compact duration format where "00:50" means every 50
//     minutes and "02:30" means every 2 hours 30 minutes.
//
// To force interpretation, callers may prefix the string with "cron:",
// "interval:", or "every:".
//
// # Lifecycle
//
// The Service can be started/stopped at runtime (e.g. via config hot
// reload). Actions registered while stopped are stored and bound on the next
// start.
package scheduler
