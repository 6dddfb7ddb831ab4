// Package agent runs the collection loop: snapshot the active config, run
// the enabled collectors, and enqueue the cycle payload for the syncer.
package agent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/luckyPipewrench/nodewarden/internal/audit"
	"github.com/luckyPipewrench/nodewarden/internal/dispatch"
	"github.com/luckyPipewrench/nodewarden/internal/metrics"
	"github.com/luckyPipewrench/nodewarden/internal/remoteconfig"
	"github.com/luckyPipewrench/nodewarden/internal/syncer"
)

// Agent ties the config store, the dispatch registry, and the payload queue
// into the periodic collection loop.
type Agent struct {
	registry *dispatch.Registry
	store    *remoteconfig.Store
	queue    *syncer.Queue
	log      *audit.Logger
	metrics  *metrics.Metrics
}

// New creates an Agent.
func New(registry *dispatch.Registry, store *remoteconfig.Store, queue *syncer.Queue,
	log *audit.Logger, m *metrics.Metrics) *Agent {
	if log == nil {
		log = audit.NewNop()
	}
	return &Agent{
		registry: registry,
		store:    store,
		queue:    queue,
		log:      log,
		metrics:  m,
	}
}

// Run executes collection cycles until ctx is cancelled. The interval is
// re-read from the config store every cycle, so an interval change from the
// API takes effect at the next tick without restarting the loop.
func (a *Agent) Run(ctx context.Context) {
	interval := a.snapshotInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First cycle immediately; the ticker covers the rest.
	a.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cycle(ctx)
			if next := a.snapshotInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// CollectOnce runs a single cycle and returns the result without queueing
// it. Used by the dry-run mode to print what would be shipped.
func (a *Agent) CollectOnce(ctx context.Context) dispatch.Result {
	cfg := a.store.Snapshot()
	cycleCtx, cancel := a.cycleContext(ctx, cfg)
	defer cancel()
	return a.registry.Collect(cycleCtx, cfg)
}

func (a *Agent) cycle(ctx context.Context) {
	cfg := a.store.Snapshot()
	if !cfg.Enabled {
		return
	}

	start := time.Now()
	cycleCtx, cancel := a.cycleContext(ctx, cfg)
	defer cancel()

	res := a.registry.Collect(cycleCtx, cfg)
	if a.metrics != nil {
		a.metrics.RecordCycle(time.Since(start))
	}
	a.queue.Put(syncer.NewPayload(uuid.NewString(), res.Data))
}

// cycleContext bounds a whole cycle to the collection interval, so a wedged
// collector can never overlap the next tick.
func (a *Agent) cycleContext(ctx context.Context, cfg remoteconfig.Validated) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(cfg.Interval)*time.Second)
}

func (a *Agent) snapshotInterval() time.Duration {
	return time.Duration(a.store.Snapshot().Interval) * time.Second
}
