package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/luckyPipewrench/nodewarden/internal/audit"
	"github.com/luckyPipewrench/nodewarden/internal/emit"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(10, audit.NewNop(), nil, nil)
	q.Put(NewPayload("a", nil))
	q.Put(NewPayload("b", nil))

	p, ok := q.Get(context.Background())
	if !ok || p.CycleID != "a" {
		t.Errorf("expected first payload a, got %v %v", p.CycleID, ok)
	}
	p, ok = q.Get(context.Background())
	if !ok || p.CycleID != "b" {
		t.Errorf("expected second payload b, got %v %v", p.CycleID, ok)
	}
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	q := NewQueue(3, audit.NewNop(), nil, nil)
	for i := 0; i < 5; i++ {
		q.Put(NewPayload(fmt.Sprintf("p%d", i), nil))
	}
	if q.Len() != 3 {
		t.Fatalf("expected depth 3, got %d", q.Len())
	}
	p, _ := q.Get(context.Background())
	if p.CycleID != "p2" {
		t.Errorf("expected oldest survivor p2, got %s", p.CycleID)
	}
}

func TestQueueGetBlocksUntilPut(t *testing.T) {
	q := NewQueue(10, audit.NewNop(), nil, nil)
	done := make(chan Payload, 1)
	go func() {
		p, _ := q.Get(context.Background())
		done <- p
	}()

	time.Sleep(50 * time.Millisecond)
	q.Put(NewPayload("late", nil))

	select {
	case p := <-done:
		if p.CycleID != "late" {
			t.Errorf("expected late payload, got %s", p.CycleID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Get did not wake after Put")
	}
}

func TestQueueGetCancellable(t *testing.T) {
	q := NewQueue(10, audit.NewNop(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get(ctx)
		done <- ok
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected Get to report cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Get did not return after context cancellation")
	}
}

func TestRequeuePreservesOrder(t *testing.T) {
	q := NewQueue(10, audit.NewNop(), nil, nil)
	q.Put(NewPayload("a", nil))
	q.Put(NewPayload("b", nil))

	p, _ := q.Get(context.Background())
	q.Requeue(p)

	p, _ = q.Get(context.Background())
	if p.CycleID != "a" {
		t.Errorf("expected requeued payload at the front, got %s", p.CycleID)
	}
}

// captureSink records every event it receives, for tests.
type captureSink struct {
	mu     sync.Mutex
	events []emit.Event
}

func (s *captureSink) Emit(_ context.Context, event emit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) Events() []emit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]emit.Event(nil), s.events...)
}

func TestQueueEmitsDropEvents(t *testing.T) {
	sink := &captureSink{}
	emitter := emit.NewEmitter("test-host", sink)
	q := NewQueue(2, audit.NewNop(), nil, emitter)

	for i := 0; i < 4; i++ {
		q.Put(NewPayload(fmt.Sprintf("p%d", i), nil))
	}

	events := sink.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 drop events, got %d", len(events))
	}
	for _, e := range events {
		if e.Type != "queue_drop" {
			t.Errorf("expected queue_drop event, got %q", e.Type)
		}
		if _, ok := e.Fields["depth"]; !ok {
			t.Errorf("expected depth field in event, got %v", e.Fields)
		}
	}
}

func TestQueueGetCancelUnderContention(t *testing.T) {
	// Repeatedly cancel while a waiter may sit between its cancellation
	// check and its wait, so a missed wakeup shows up as a hang.
	for i := 0; i < 200; i++ {
		q := NewQueue(10, audit.NewNop(), nil, nil)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			q.Get(ctx)
			close(done)
		}()

		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("iteration %d: Get hung after cancellation", i)
		}
	}
}
