// Package dispatch bridges arbitrary goroutines onto the single engine
// thread.
//
// # Overview
//
// The engine core is non-reentrant and thread-affine: every call into it must
// come from one fixed OS thread, and its blocking ProcessOnce call can only be
// interrupted through an explicit wakeup primitive. The Dispatcher owns that
// thread. Its worker strictly alternates between driving ProcessOnce and
// draining a FIFO of deferred tasks, so queued work never runs concurrently
// with an engine call.
//
// # Busy-gated wakeup
//
// Most Dispatch calls arrive while the worker is between engine calls; those
// only append to the queue. Only when the worker is verifiably blocked inside
// ProcessOnce (the busy lock is held) does Dispatch pay for a cross-thread
// ScheduleWakeup, which bounds the latency of queued work without making the
// common case expensive.
//
// # Liveness
//
// Each drain span runs under the watchdog. Draining is expected to be fast; a
// span that outlives the deadline means the engine thread is stuck, which the
// watchdog treats as fatal rather than something to mask.
package dispatch
