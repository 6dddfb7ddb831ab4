package syncer

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/luckyPipewrench/nodewarden/internal/audit"
	"github.com/luckyPipewrench/nodewarden/internal/credstore"
	"github.com/luckyPipewrench/nodewarden/internal/emit"
	"github.com/luckyPipewrench/nodewarden/internal/remoteconfig"
)

func fastOpts() remoteconfig.RequestOptions {
	return remoteconfig.RequestOptions{Timeout: 5, Retry: 2, RetryInterval: 1}
}

func staticToken(tok string) func() string {
	return func() string { return tok }
}

func TestShipSendsGzipJSONWithBearer(t *testing.T) {
	var gotAuth, gotEncoding string
	var gotPayload Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotEncoding = r.Header.Get("Content-Encoding")
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			t.Errorf("body not gzip: %v", err)
			return
		}
		if err := json.NewDecoder(zr).Decode(&gotPayload); err != nil {
			t.Errorf("body not JSON: %v", err)
		}
		_, _ = w.Write([]byte(`{"config":{"enabled":true,"cpu":true}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), staticToken("tok-1"), audit.NewNop(), nil, nil)
	resp, err := c.Ship(context.Background(), NewPayload("cycle-1", map[string]any{"cpu": "data"}), fastOpts())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotAuth != "Bearer tok-1" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
	if gotEncoding != "gzip" {
		t.Errorf("expected gzip encoding, got %q", gotEncoding)
	}
	if gotPayload.CycleID != "cycle-1" {
		t.Errorf("expected payload shipped, got %+v", gotPayload)
	}
	if resp.Remote["enabled"] != true {
		t.Errorf("expected config tree in response, got %v", resp.Remote)
	}
}

func TestShipRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), staticToken("t"), audit.NewNop(), nil, nil)
	if _, err := c.Ship(context.Background(), NewPayload("x", nil), fastOpts()); err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestShipDoesNotRetryAuthFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), staticToken("bad"), audit.NewNop(), nil, nil)
	if _, err := c.Ship(context.Background(), NewPayload("x", nil), fastOpts()); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt for HTTP 401, got %d", calls.Load())
	}
}

func TestTokenCapturedPerAttempt(t *testing.T) {
	var tokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens = append(tokens, r.Header.Get("Authorization"))
		if len(tokens) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	current := atomic.Pointer[string]{}
	first := "one"
	current.Store(&first)

	c := NewClient(srv.URL, srv.Client(), func() string {
		tok := *current.Load()
		second := "two"
		current.Store(&second)
		return tok
	}, audit.NewNop(), nil, nil)

	if _, err := c.Ship(context.Background(), NewPayload("x", nil), fastOpts()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tokens) != 2 || tokens[0] != "Bearer one" || tokens[1] != "Bearer two" {
		t.Errorf("expected fresh token per attempt, got %v", tokens)
	}
}

func TestSyncerAppliesConfigAndRotation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"config":{"enabled":true,"interval":120,"cpu":true},"token":"rotated-tok"}`))
	}))
	defer srv.Close()

	t.Setenv(credstore.EnvVar, "boot-tok")
	tokenPath := filepath.Join(t.TempDir(), "token")
	creds, err := credstore.Load(tokenPath, audit.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	store := remoteconfig.NewStore(remoteconfig.Bootstrap())
	validator := remoteconfig.New(audit.NewNop())
	client := NewClient(srv.URL, srv.Client(), creds.Current, audit.NewNop(), nil, nil)
	s := New(NewQueue(10, audit.NewNop(), nil, nil), client, store, validator, creds, audit.NewNop(), nil, nil)

	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	got := store.Snapshot()
	if !got.Enabled || got.Interval != 120 || !got.Flags.CPU {
		t.Errorf("expected config applied, got %+v", got)
	}
	if creds.Current() != "rotated-tok" {
		t.Errorf("expected token rotated, got %q", creds.Current())
	}
	if data, err := os.ReadFile(tokenPath); err != nil || string(data) != "rotated-tok\n" {
		t.Errorf("expected rotated token persisted, got %q err %v", data, err)
	}
}

func TestSyncerRunShipsQueuedPayloads(t *testing.T) {
	shipped := make(chan Payload, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			t.Errorf("body not gzip: %v", err)
			return
		}
		var p Payload
		_ = json.NewDecoder(zr).Decode(&p)
		shipped <- p
		_, _ = w.Write([]byte(`{"config":{"enabled":true}}`))
	}))
	defer srv.Close()

	store := remoteconfig.NewStore(remoteconfig.Bootstrap())
	validator := remoteconfig.New(audit.NewNop())
	client := NewClient(srv.URL, srv.Client(), staticToken("t"), audit.NewNop(), nil, nil)
	q := NewQueue(10, audit.NewNop(), nil, nil)
	s := New(q, client, store, validator, nil, audit.NewNop(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	q.Put(NewPayload("c1", map[string]any{"cpu": 1}))

	select {
	case p := <-shipped:
		if p.CycleID != "c1" {
			t.Errorf("expected c1 shipped, got %s", p.CycleID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("payload was not shipped")
	}

	// The response config must be visible to the next snapshot.
	deadline := time.Now().Add(5 * time.Second)
	for !store.Snapshot().Enabled {
		if time.Now().After(deadline) {
			t.Fatal("config from ship response never applied")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestShipUnwrapsConfigEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"config":{"enabled":true,"interval":120,"cpu":true},"token":"rotated"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), staticToken("t"), audit.NewNop(), nil, nil)
	resp, err := c.Ship(context.Background(), NewPayload("x", nil), fastOpts())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Remote["enabled"] != true || resp.Remote["cpu"] != true {
		t.Errorf("expected nested config tree unwrapped, got %v", resp.Remote)
	}
	if got, ok := resp.Remote["interval"].(float64); !ok || got != 120 {
		t.Errorf("expected interval 120 in config tree, got %v", resp.Remote["interval"])
	}
	if resp.Token != "rotated" {
		t.Errorf("expected sibling token captured, got %q", resp.Token)
	}
}

func TestShipRetriesMalformedBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`not json`))
			return
		}
		_, _ = w.Write([]byte(`{"config":{}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), staticToken("t"), audit.NewNop(), nil, nil)
	if _, err := c.Ship(context.Background(), NewPayload("x", nil), fastOpts()); err != nil {
		t.Fatalf("expected malformed body to be retried, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestExchangeEmitsSyncError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sink := &captureSink{}
	emitter := emit.NewEmitter("test-host", sink)
	c := NewClient(srv.URL, srv.Client(), staticToken("bad"), audit.NewNop(), nil, emitter)

	if _, err := c.Ship(context.Background(), NewPayload("x", nil), fastOpts()); err == nil {
		t.Fatal("expected error")
	}

	events := sink.Events()
	if len(events) != 1 || events[0].Type != "sync_error" {
		t.Fatalf("expected one sync_error event, got %v", events)
	}
	if events[0].Fields["url"] != srv.URL+"/collect" {
		t.Errorf("expected failing URL in event, got %v", events[0].Fields)
	}
}

func TestSyncerRePollsWhileIdle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"config":{"enabled":true,"cpu":true}}`))
	}))
	defer srv.Close()

	store := remoteconfig.NewStore(remoteconfig.Bootstrap())
	validator := remoteconfig.New(audit.NewNop())
	client := NewClient(srv.URL, srv.Client(), staticToken("t"), audit.NewNop(), nil, nil)
	q := NewQueue(10, audit.NewNop(), nil, nil)
	s := New(q, client, store, validator, nil, audit.NewNop(), nil, nil)
	s.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// Nothing is ever queued; the poll alone must pick up the new config.
	deadline := time.Now().Add(5 * time.Second)
	for !store.Snapshot().Enabled {
		if time.Now().After(deadline) {
			t.Fatal("idle syncer never re-polled configuration")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !store.Snapshot().Flags.CPU {
		t.Errorf("expected polled config applied, got %+v", store.Snapshot())
	}
}
