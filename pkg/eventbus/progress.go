package eventbus

import (
	"context"
	"time"
)

// PollHealth runs healthFn every interval and publishes its result as
// eventType on topic until ctx is cancelled, mirroring the retention
// service's own background-ticker loop — the same shape, repurposed
// here for liveness polling instead of cleanup sweeps. It runs
// healthFn once immediately before the first tick so a subscriber sees
// a reading right away instead of waiting a full interval.
func (b *Bus) PollHealth(ctx context.Context, topic, eventType string, interval time.Duration, healthFn func() map[string]any) {
	b.Publish(topic, eventType, healthFn())

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.Publish(topic, eventType, healthFn())
			}
		}
	}()
}

// PhaseNotifier returns a func(phase string, detail map[string]any)
// matching the shape of qa.Options.OnProgress, publishing each call as
// eventType on topic. A caller wires this in without pkg/eventbus ever
// importing pkg/qa.
func (b *Bus) PhaseNotifier(topic, eventType string) func(phase string, detail map[string]any) {
	return func(phase string, detail map[string]any) {
		payload := map[string]any{"phase": phase}
		for k, v := range detail {
			payload[k] = v
		}
		b.Publish(topic, eventType, payload)
	}
}
