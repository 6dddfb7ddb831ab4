// Package syncer owns all traffic between the agent and the collection API:
// the payload queue, the retrying HTTP client, and the loop that applies
// whatever configuration or token the API sends back.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/luckyPipewrench/nodewarden/internal/audit"
	"github.com/luckyPipewrench/nodewarden/internal/emit"
	"github.com/luckyPipewrench/nodewarden/internal/metrics"
)

// Payload is one cycle's worth of metrics waiting to be shipped.
type Payload struct {
	CycleID   string         `json:"cycle_id"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Queue is a bounded FIFO of pending payloads. When full, the oldest payload
// is dropped: during an API outage the agent keeps the most recent window of
// metrics and sheds the stalest, using constant memory.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []Payload
	max     int
	log     *audit.Logger
	metrics *metrics.Metrics
	emitter *emit.Emitter
}

// NewQueue creates a queue holding at most max payloads. emitter may be nil.
func NewQueue(max int, log *audit.Logger, m *metrics.Metrics, emitter *emit.Emitter) *Queue {
	if max <= 0 {
		max = 100
	}
	if log == nil {
		log = audit.NewNop()
	}
	q := &Queue{max: max, log: log, metrics: m, emitter: emitter}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends a payload, dropping the oldest if the queue is full. Never
// blocks.
func (q *Queue) Put(p Payload) {
	q.mu.Lock()
	if len(q.items) >= q.max {
		q.items = q.items[1:]
		q.recordDrop(len(q.items))
	}
	q.items = append(q.items, p)
	if q.metrics != nil {
		q.metrics.SetQueueDepth(len(q.items))
	}
	q.mu.Unlock()
	q.cond.Signal()
}

// Get removes and returns the oldest payload, blocking until one is
// available or ctx is cancelled.
func (q *Queue) Get(ctx context.Context) (Payload, bool) {
	// Wake the cond wait when the context ends. The broadcast must run
	// under q.mu: without the lock it can land between a waiter's Err
	// check and its Wait call and be lost, leaving Get blocked past
	// cancellation until the next Put.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if ctx.Err() != nil {
			return Payload{}, false
		}
		q.cond.Wait()
	}
	p := q.items[0]
	q.items = q.items[1:]
	if q.metrics != nil {
		q.metrics.SetQueueDepth(len(q.items))
	}
	return p, true
}

// Requeue puts a payload back at the front after a failed ship, so order is
// preserved across retries. If the queue filled up in the meantime the
// payload is dropped instead.
func (q *Queue) Requeue(p Payload) {
	q.mu.Lock()
	if len(q.items) >= q.max {
		q.recordDrop(len(q.items))
		q.mu.Unlock()
		return
	}
	q.items = append([]Payload{p}, q.items...)
	if q.metrics != nil {
		q.metrics.SetQueueDepth(len(q.items))
	}
	q.mu.Unlock()
	q.cond.Signal()
}

// recordDrop logs, counts, and emits one shed payload. Called with q.mu held.
func (q *Queue) recordDrop(depth int) {
	q.log.LogQueueDrop(depth)
	if q.metrics != nil {
		q.metrics.RecordQueueDrop()
	}
	q.emitter.Emit(context.Background(), "queue_drop", map[string]any{"depth": depth})
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// NewPayload stamps a payload with the current time.
func NewPayload(cycleID string, data map[string]any) Payload {
	return Payload{
		CycleID:   cycleID,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}
}
