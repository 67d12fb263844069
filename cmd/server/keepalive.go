package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"blogane-live/internal/observability/logging"
)

type periodicTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) periodicTicker

func newTimeTicker(d time.Duration) periodicTicker {
	return timeTicker{ticker: time.NewTicker(d)}
}

// periodicTask is one background job run on every tick.
type periodicTask struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

// runPeriodic blocks until ctx is done. A task without an interval is
// disabled and returns immediately.
func runPeriodic(ctx context.Context, logger *slog.Logger, task periodicTask, newTicker tickerFactory) error {
	if task.run == nil || task.interval <= 0 {
		return nil
	}
	if newTicker == nil {
		newTicker = newTimeTicker
	}
	logger = logging.WithComponent(logger, task.name)
	ticker := newTicker(task.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			runTick(ctx, logger, task)
		}
	}
}

func runTick(ctx context.Context, logger *slog.Logger, task periodicTask) {
	defer logging.Recover(logger, task.name)
	if err := task.run(ctx); err != nil {
		logger.Warn("periodic task failed", "error", err)
	}
}

// selfPingTask keeps hosts that idle out quiet services awake by requesting
// the public health endpoint.
func selfPingTask(client *http.Client, publicURL string, interval time.Duration) periodicTask {
	publicURL = strings.TrimSuffix(strings.TrimSpace(publicURL), "/")
	if publicURL == "" {
		return periodicTask{name: "keepalive"}
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	target := publicURL + "/healthz"
	return periodicTask{
		name:     "keepalive",
		interval: interval,
		run: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("ping %s: %w", target, err)
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("ping %s: unexpected status %d", target, resp.StatusCode)
			}
			return nil
		},
	}
}

type snapshotSaver interface {
	Save(ctx context.Context) error
}

// snapshotFlushTask rewrites the snapshot so a failed write after a mutation
// is caught up without waiting for the next mutation.
func snapshotFlushTask(store snapshotSaver, interval time.Duration) periodicTask {
	if store == nil {
		return periodicTask{name: "snapshot-flush"}
	}
	return periodicTask{
		name:     "snapshot-flush",
		interval: interval,
		run:      store.Save,
	}
}
