package app

import (
	"context"

	"imebridge/internal/engine"
	logx "imebridge/pkg/logx"
)

// Diagnostic event codes understood by the bundled engine core.
const (
	codePing      uint32 = 0x70696E67 // "ping"
	codeCacheTrim uint32 = 0x7472696D // "trim"
)

// registerBuiltinActions installs the daemon's own maintenance actions. Hosts
// add domain actions (dictionary sync etc.) via RegisterAction.
func (a *App) registerBuiltinActions() {
	// engine.ping posts a diagnostic event so operators can verify the round
	// trip from scheduler to engine thread end to end.
	a.sched.RegisterAction("engine.ping", func(ctx context.Context) error {
		a.loop.Post(engine.Event{Code: codePing, Text: "ping"})
		return nil
	})

	// engine.cache.trim asks the core to release caches during idle windows.
	a.sched.RegisterAction("engine.cache.trim", func(ctx context.Context) error {
		a.loop.Post(engine.Event{Code: codeCacheTrim, Text: "trim"})
		return nil
	})

	// queue.stats logs dispatcher counters; cheap enough for frequent jobs.
	a.sched.RegisterAction("queue.stats", func(ctx context.Context) error {
		snap := a.disp.Snapshot()
		a.log.Info("queue stats",
			logx.Int("queued", snap.QueueLen),
			logx.Uint64("dispatched", snap.Dispatched),
			logx.Uint64("executed", snap.Executed),
			logx.Uint64("failed", snap.Failed),
			logx.Uint64("wakeups", snap.Wakeups),
		)
		return nil
	})
}
