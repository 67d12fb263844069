package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type manualTicker struct {
	c       chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{
		c:       make(chan time.Time),
		stopped: make(chan struct{}),
	}
}

func (m *manualTicker) C() <-chan time.Time {
	return m.c
}

func (m *manualTicker) Stop() {
	select {
	case <-m.stopped:
		return
	default:
		close(m.stopped)
	}
}

// Tick blocks until the runner has received the tick.
func (m *manualTicker) Tick(t *testing.T) {
	t.Helper()
	select {
	case m.c <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("runner did not receive tick")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startRunner(t *testing.T, task periodicTask) (*manualTicker, context.CancelFunc, <-chan error) {
	t.Helper()
	ticker := newManualTicker()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() {
		done <- runPeriodic(ctx, discardLogger(), task, func(time.Duration) periodicTicker { return ticker })
	}()
	return ticker, cancel, done
}

func waitStopped(t *testing.T, ticker *manualTicker, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runner returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
	select {
	case <-ticker.stopped:
	default:
		t.Fatal("expected ticker to be stopped")
	}
}

func TestSelfPingHitsHealthz(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			hits.Add(1)
		}
		_, _ = w.Write([]byte("alive"))
	}))
	defer srv.Close()

	ticker, cancel, done := startRunner(t, selfPingTask(srv.Client(), srv.URL+"/", time.Minute))
	ticker.Tick(t)
	ticker.Tick(t)
	// A tick is only received once the previous run has finished.
	ticker.Tick(t)
	cancel()
	waitStopped(t, ticker, done)

	if got := hits.Load(); got < 2 {
		t.Fatalf("expected at least 2 pings, got %d", got)
	}
}

func TestSelfPingReportsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	task := selfPingTask(srv.Client(), srv.URL, time.Minute)
	if err := task.run(context.Background()); err == nil {
		t.Fatal("expected an error for a 503 response")
	}
}

func TestSelfPingDisabledWithoutPublicURL(t *testing.T) {
	task := selfPingTask(nil, " ", time.Minute)
	err := runPeriodic(context.Background(), discardLogger(), task, func(time.Duration) periodicTicker {
		t.Fatal("a disabled task must not create a ticker")
		return nil
	})
	if err != nil {
		t.Fatalf("disabled task returned error: %v", err)
	}
}

type fakeSaver struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSaver) Save(context.Context) error {
	f.calls.Add(1)
	return f.err
}

func TestSnapshotFlushSurvivesFailures(t *testing.T) {
	saver := &fakeSaver{err: errors.New("disk full")}
	ticker, cancel, done := startRunner(t, snapshotFlushTask(saver, time.Minute))
	ticker.Tick(t)
	ticker.Tick(t)
	ticker.Tick(t)
	cancel()
	waitStopped(t, ticker, done)

	if got := saver.calls.Load(); got < 2 {
		t.Fatalf("expected the flush to keep running after failures, got %d calls", got)
	}
}

func TestPeriodicTaskRecoversFromPanic(t *testing.T) {
	var calls atomic.Int32
	task := periodicTask{
		name:     "flaky",
		interval: time.Minute,
		run: func(context.Context) error {
			if calls.Add(1) == 1 {
				panic("boom")
			}
			return nil
		},
	}
	ticker, cancel, done := startRunner(t, task)
	ticker.Tick(t)
	ticker.Tick(t)
	ticker.Tick(t)
	cancel()
	waitStopped(t, ticker, done)

	if got := calls.Load(); got < 2 {
		t.Fatalf("expected the runner to survive a panic, got %d calls", got)
	}
}
