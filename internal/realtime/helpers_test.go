package realtime_test

import (
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"blogane-live/internal/media"
	"blogane-live/internal/models"
	"blogane-live/internal/observability/metrics"
	"blogane-live/internal/realtime"
	"blogane-live/internal/storage"
	"github.com/gorilla/websocket"
)

const testPassword = "secret-pass"

type testEnv struct {
	hub     *realtime.Hub
	store   *storage.Storage
	uploads *media.Pipeline
	metrics *metrics.Recorder
	wsURL   string
}

func newTestEnv(t *testing.T, configure func(*realtime.HubConfig)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	recorder := metrics.New()
	store, err := storage.NewJSONStorage(filepath.Join(dir, "store.json"), storage.WithMetrics(recorder))
	if err != nil {
		t.Fatalf("NewJSONStorage: %v", err)
	}
	uploads, err := media.NewPipeline(media.Config{Dir: filepath.Join(dir, "uploads"), Metrics: recorder})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	cfg := realtime.HubConfig{
		Store:   store,
		Uploads: uploads,
		Metrics: recorder,
	}
	if configure != nil {
		configure(&cfg)
	}
	hub, err := realtime.NewHub(cfg)
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return &testEnv{
		hub:     hub,
		store:   store,
		uploads: uploads,
		metrics: recorder,
		wsURL:   "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

func mustRegister(t *testing.T, store *storage.Storage, email, name string) models.Identity {
	t.Helper()
	identity, err := store.RegisterIdentity(storage.RegisterParams{Email: email, Name: name, Password: testPassword})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return identity
}

type testClient struct {
	t      *testing.T
	conn   *websocket.Conn
	frames chan realtime.Envelope
}

func (e *testEnv) dial(t *testing.T) *testClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	tc := &testClient{t: t, conn: conn, frames: make(chan realtime.Envelope, 256)}
	go func() {
		defer close(tc.frames)
		for {
			var envelope realtime.Envelope
			if err := conn.ReadJSON(&envelope); err != nil {
				return
			}
			tc.frames <- envelope
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return tc
}

// login dials a channel and authenticates it as email.
func (e *testEnv) login(t *testing.T, email string) *testClient {
	t.Helper()
	tc := e.dial(t)
	tc.send(realtime.EventLogin, map[string]string{"email": email, "password": testPassword})
	tc.expect(realtime.EventAuthSuccess)
	return tc
}

func (tc *testClient) send(event string, data any) {
	tc.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		tc.t.Fatalf("marshal %s: %v", event, err)
	}
	if err := tc.conn.WriteJSON(realtime.Envelope{Event: event, Data: raw}); err != nil {
		tc.t.Fatalf("write %s: %v", event, err)
	}
}

// expect skips frames until event arrives and returns its payload.
func (tc *testClient) expect(event string) json.RawMessage {
	tc.t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case envelope, ok := <-tc.frames:
			if !ok {
				tc.t.Fatalf("connection closed while waiting for %s", event)
			}
			if envelope.Event == event {
				return envelope.Data
			}
		case <-timeout:
			tc.t.Fatalf("timed out waiting for %s", event)
		}
	}
}

func (tc *testClient) expectInto(event string, v any) {
	tc.t.Helper()
	if err := json.Unmarshal(tc.expect(event), v); err != nil {
		tc.t.Fatalf("decode %s: %v", event, err)
	}
}

// expectNone fails if event arrives within the window.
func (tc *testClient) expectNone(event string, within time.Duration) {
	tc.t.Helper()
	timeout := time.After(within)
	for {
		select {
		case envelope, ok := <-tc.frames:
			if !ok {
				return
			}
			if envelope.Event == event {
				tc.t.Fatalf("unexpected %s: %s", event, envelope.Data)
			}
		case <-timeout:
			return
		}
	}
}

func (tc *testClient) expectError(message string) {
	tc.t.Helper()
	var payload struct {
		Message string `json:"message"`
	}
	tc.expectInto(realtime.EventError, &payload)
	if payload.Message != message {
		tc.t.Fatalf("expected error %q, got %q", message, payload.Message)
	}
}

// waitFriend reads update_friends frames until friend shows the wanted status.
func (tc *testClient) waitFriend(friend string, online bool) {
	tc.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		var friends []models.FriendSummary
		tc.expectInto(realtime.EventUpdateFriends, &friends)
		for _, f := range friends {
			if f.Email == friend && f.IsOnline == online {
				return
			}
		}
	}
	tc.t.Fatalf("friend %s never reported online=%v", friend, online)
}

func (tc *testClient) close() {
	_ = tc.conn.Close()
}

func waitUntil(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
