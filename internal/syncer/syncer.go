package syncer

import (
	"context"
	"time"

	"github.com/luckyPipewrench/nodewarden/internal/audit"
	"github.com/luckyPipewrench/nodewarden/internal/credstore"
	"github.com/luckyPipewrench/nodewarden/internal/emit"
	"github.com/luckyPipewrench/nodewarden/internal/metrics"
	"github.com/luckyPipewrench/nodewarden/internal/remoteconfig"
)

// defaultPollInterval is how long Run waits for a payload before re-polling
// the configuration endpoint. When collection is disabled the queue stays
// empty, so this poll is the only way the API can re-enable the agent.
const defaultPollInterval = 25 * time.Second

// Syncer drains the payload queue into the API and applies whatever comes
// back: new collector configuration and token rotations. It is the only
// writer to the config store and the only caller of credential rotation.
type Syncer struct {
	queue        *Queue
	client       *Client
	store        *remoteconfig.Store
	validator    *remoteconfig.Validator
	creds        *credstore.Store
	log          *audit.Logger
	metrics      *metrics.Metrics
	emitter      *emit.Emitter
	pollInterval time.Duration
}

// New wires a Syncer. emitter may be nil.
func New(queue *Queue, client *Client, store *remoteconfig.Store, validator *remoteconfig.Validator,
	creds *credstore.Store, log *audit.Logger, m *metrics.Metrics, emitter *emit.Emitter) *Syncer {
	if log == nil {
		log = audit.NewNop()
	}
	return &Syncer{
		queue:        queue,
		client:       client,
		store:        store,
		validator:    validator,
		creds:        creds,
		log:          log,
		metrics:      m,
		emitter:      emitter,
		pollInterval: defaultPollInterval,
	}
}

// Bootstrap fetches the initial configuration before the first collection
// cycle. On failure the agent keeps its conservative bootstrap config and
// the regular sync loop will pick up configuration later.
func (s *Syncer) Bootstrap(ctx context.Context) error {
	opts := s.store.Snapshot().RequestOptions
	resp, err := s.client.FetchConfig(ctx, opts)
	if err != nil {
		return err
	}
	s.apply(ctx, resp)
	return nil
}

// Run ships queued payloads until ctx is cancelled. Each successful exchange
// may carry new configuration, which takes effect for the following cycle.
// When no payload arrives within the poll interval — the steady state while
// collection is disabled — Run fetches the configuration instead, so a
// disabled agent keeps a channel open for the API to re-enable it.
func (s *Syncer) Run(ctx context.Context) {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, s.pollInterval)
		payload, ok := s.queue.Get(waitCtx)
		cancel()
		if !ok {
			if ctx.Err() != nil {
				return
			}
			opts := s.store.Snapshot().RequestOptions
			if resp, err := s.client.FetchConfig(ctx, opts); err == nil {
				s.apply(ctx, resp)
			}
			continue
		}

		opts := s.store.Snapshot().RequestOptions
		resp, err := s.client.Ship(ctx, payload, opts)
		if err != nil {
			// Client retries are exhausted. Keep the payload and pause
			// before the next drain so a dead API is not hammered.
			s.queue.Requeue(payload)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(opts.RetryInterval) * time.Second):
			}
			continue
		}
		s.apply(ctx, resp)
	}
}

// apply installs the response's configuration and rotates the token when the
// API sent a new one. Validation never fails; a hostile tree just comes out
// with fewer collectors enabled.
func (s *Syncer) apply(ctx context.Context, resp *Response) {
	if resp == nil {
		return
	}

	if resp.Token != "" && s.creds != nil {
		err := s.creds.Rotate(resp.Token)
		if s.metrics != nil {
			s.metrics.RecordTokenRotation()
		}
		if err != nil {
			s.emitter.Emit(ctx, "rotation_persist_failed", map[string]any{"path": s.creds.Path()})
		} else {
			s.emitter.Emit(ctx, "token_rotated", map[string]any{"path": s.creds.Path()})
		}
	}

	validated := s.validator.Validate(resp.Remote)
	s.store.Swap(validated)
	s.log.LogConfigApplied(validated.Interval, validated.EnabledCollectors())
	s.emitter.Emit(ctx, "config_applied", map[string]any{
		"interval":   validated.Interval,
		"collectors": validated.EnabledCollectors(),
	})
}
