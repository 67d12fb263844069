package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"blogane-live/internal/config"
	"blogane-live/internal/ratelimit"
	"blogane-live/internal/realtime"
	"blogane-live/internal/storage"
	"github.com/alicebob/miniredis/v2"
)

func TestFlagsOverrideConfig(t *testing.T) {
	flags, err := parseFlags([]string{
		"-addr", ":4000",
		"-storage-driver", "postgres",
		"-postgres-dsn", "postgres://example",
		"-rate-login-limit", "3",
		"-keepalive-interval", "5m",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg := config.Default()
	cfg.Log.Level = "warn"
	applyFlags(&cfg, flags)

	if cfg.Addr != ":4000" {
		t.Fatalf("expected flag addr, got %q", cfg.Addr)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.Postgres.DSN != "postgres://example" {
		t.Fatalf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.RateLimit.LoginLimit != 3 || cfg.RateLimit.LoginWindow != time.Minute {
		t.Fatalf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if cfg.KeepAliveInterval != 5*time.Minute {
		t.Fatalf("unexpected keepalive interval %s", cfg.KeepAliveInterval)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("unset flags must keep config values, got %q", cfg.Log.Level)
	}
}

func TestOpenPersister(t *testing.T) {
	cfg := config.Default()
	cfg.DataPath = filepath.Join(t.TempDir(), "store.json")
	persister, err := openPersister(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openPersister: %v", err)
	}
	if _, ok := persister.(*storage.FilePersister); !ok {
		t.Fatalf("expected a file persister, got %T", persister)
	}

	cfg.Storage.Driver = "sqlite"
	if _, err := openPersister(context.Background(), cfg); err == nil {
		t.Fatal("expected an error for an unknown driver")
	}
}

func TestSeedBotsIsIdempotent(t *testing.T) {
	store, err := storage.NewJSONStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	bots := []config.BotConfig{{Name: "Nova", Email: "nova@bots.local"}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for i := 0; i < 2; i++ {
		if err := seedBots(store, bots, logger); err != nil {
			t.Fatalf("seedBots run %d: %v", i, err)
		}
	}
	if got := len(store.ListIdentities()); got != 1 {
		t.Fatalf("expected one identity, got %d", got)
	}
	if !store.IsAutomated("nova@bots.local") {
		t.Fatal("seeded bot should be automated")
	}

	if err := seedBots(store, []config.BotConfig{{Name: "", Email: "broken"}}, logger); err == nil {
		t.Fatal("expected an error for an invalid bot")
	}
}

func TestBuildLimiter(t *testing.T) {
	if limiter, closeFn := buildLimiter(config.RateLimitConfig{}); limiter != nil {
		closeFn()
		t.Fatal("expected no limiter without a limit")
	}

	limiter, closeFn := buildLimiter(config.RateLimitConfig{LoginLimit: 2, LoginWindow: time.Minute})
	defer closeFn()
	if _, ok := limiter.(*ratelimit.Local); !ok {
		t.Fatalf("expected a local limiter, got %T", limiter)
	}

	mr := miniredis.RunT(t)
	shared, closeShared := buildLimiter(config.RateLimitConfig{LoginLimit: 1, LoginWindow: time.Minute, RedisAddr: mr.Addr()})
	defer closeShared()
	if _, ok := shared.(*ratelimit.Redis); !ok {
		t.Fatalf("expected a redis limiter, got %T", shared)
	}
	ctx := context.Background()
	if allowed, _, err := shared.Allow(ctx, "login:10.0.0.1"); err != nil || !allowed {
		t.Fatalf("first attempt should pass: allowed=%v err=%v", allowed, err)
	}
	if allowed, _, _ := shared.Allow(ctx, "login:10.0.0.1"); allowed {
		t.Fatal("second attempt should be throttled")
	}
}

func TestOpenRelay(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	relay, err := openRelay(ctx, config.RelayConfig{Driver: config.RelayNone}, logger)
	if err != nil || relay != nil {
		t.Fatalf("expected no relay, got %v (%v)", relay, err)
	}
	if _, err := openRelay(ctx, config.RelayConfig{Driver: "kafka"}, logger); err == nil {
		t.Fatal("expected an error for an unknown driver")
	}

	mr := miniredis.RunT(t)
	relay, err = openRelay(ctx, config.RelayConfig{Driver: config.RelayRedis, Addr: mr.Addr()}, logger)
	if err != nil {
		t.Fatalf("openRelay redis: %v", err)
	}
	defer relay.Close()
	if _, ok := relay.(*realtime.RedisQueue); !ok {
		t.Fatalf("expected a redis queue, got %T", relay)
	}
	if err := relay.Ping(ctx); err != nil {
		t.Fatalf("ping relay: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.DataPath = filepath.Join(dir, "data", "store.json")
	cfg.UploadDir = filepath.Join(dir, "uploads")
	cfg.KeepAliveInterval = 0
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, logger)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		raw, err := os.ReadFile(cfg.DataPath)
		if err == nil && strings.Contains(string(raw), cfg.Bots[0].Email) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("bot was never persisted")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run did not stop")
	}
}
