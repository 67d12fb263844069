package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":3000" {
		t.Fatalf("expected default addr :3000, got %q", cfg.Addr)
	}
	if cfg.Storage.Driver != StorageJSON || cfg.Relay.Driver != RelayNone {
		t.Fatalf("unexpected drivers: storage=%q relay=%q", cfg.Storage.Driver, cfg.Relay.Driver)
	}
	if cfg.Realtime.HeartbeatInterval != 30*time.Second {
		t.Fatalf("expected 30s heartbeat, got %s", cfg.Realtime.HeartbeatInterval)
	}
	if len(cfg.Bots) == 0 {
		t.Fatal("expected a default bot")
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeFile(t, "blogane.yaml", `
addr: ":8080"
dataPath: /var/lib/blogane/store.json
retention:
  posts: 50
realtime:
  heartbeatInterval: 15s
  allowedOrigins: ["https://blogane.example"]
relay:
  driver: redis
  addr: 127.0.0.1:6379
objectStorage:
  driver: minio
  bucket: media
assistant:
  provider: openai
  model: gpt-test
bots:
  - name: Echo
    email: echo@bots.local
`)
	t.Setenv("BLOGANE_ADDR", ":9090")
	t.Setenv("BLOGANE_RETENTION_REELS", "7")
	t.Setenv("BLOGANE_RELAY_REDIS_STREAM", "relay:test")

	cfg, err := Load(path, WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("env should override yaml addr, got %q", cfg.Addr)
	}
	if cfg.DataPath != "/var/lib/blogane/store.json" {
		t.Fatalf("unexpected data path %q", cfg.DataPath)
	}
	if cfg.Retention.Posts != 50 || cfg.Retention.Reels != 7 {
		t.Fatalf("unexpected retention %+v", cfg.Retention)
	}
	if cfg.Realtime.HeartbeatInterval != 15*time.Second {
		t.Fatalf("expected 15s heartbeat, got %s", cfg.Realtime.HeartbeatInterval)
	}
	if len(cfg.Realtime.AllowedOrigins) != 1 {
		t.Fatalf("unexpected origins %v", cfg.Realtime.AllowedOrigins)
	}
	if cfg.Relay.Driver != RelayRedis || cfg.Relay.Stream != "relay:test" {
		t.Fatalf("unexpected relay %+v", cfg.Relay)
	}
	if cfg.ObjectStore.Driver != "minio" || cfg.ObjectStore.Bucket != "media" {
		t.Fatalf("unexpected object store %+v", cfg.ObjectStore)
	}
	if cfg.Assistant.Provider != "openai" || cfg.Assistant.Model != "gpt-test" {
		t.Fatalf("unexpected assistant %+v", cfg.Assistant)
	}
	if cfg.Assistant.Fallback == "" {
		t.Fatal("expected the default fallback to survive the yaml overlay")
	}
	if len(cfg.Bots) != 1 || cfg.Bots[0].Email != "echo@bots.local" {
		t.Fatalf("unexpected bots %+v", cfg.Bots)
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "BLOGANE_PUBLIC_URL"
	if _, ok := os.LookupEnv(key); ok {
		t.Skipf("%s already set", key)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	envFile := writeFile(t, ".env", key+"=https://blogane.example\n")
	cfg, err := Load("", WithEnvFile(envFile))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PublicURL != "https://blogane.example" {
		t.Fatalf("expected public url from .env, got %q", cfg.PublicURL)
	}
}

func TestLoadMissingEnvFileIgnored(t *testing.T) {
	if _, err := Load("", WithEnvFile(filepath.Join(t.TempDir(), "missing.env"))); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "bad duration",
			env:  map[string]string{"BLOGANE_HEARTBEAT_INTERVAL": "soon"},
			want: "BLOGANE_HEARTBEAT_INTERVAL",
		},
		{
			name: "bad int",
			env:  map[string]string{"BLOGANE_RATE_LOGIN_LIMIT": "many"},
			want: "BLOGANE_RATE_LOGIN_LIMIT",
		},
		{
			name: "postgres without dsn",
			env:  map[string]string{"BLOGANE_STORAGE_DRIVER": "postgres"},
			want: "without DSN",
		},
		{
			name: "unknown relay",
			env:  map[string]string{"BLOGANE_RELAY_DRIVER": "kafka"},
			want: "unsupported relay driver",
		},
		{
			name: "redis relay without address",
			env:  map[string]string{"BLOGANE_RELAY_DRIVER": "redis"},
			want: "requires an address",
		},
		{
			name: "unknown assistant",
			env:  map[string]string{"BLOGANE_ASSISTANT_PROVIDER": "oracle"},
			want: "unsupported assistant provider",
		},
		{
			name: "half tls pair",
			env:  map[string]string{"BLOGANE_TLS_CERT": "cert.pem"},
			want: "both certFile and keyFile",
		},
		{
			name: "malformed bots",
			env:  map[string]string{"BLOGANE_BOTS": "just-a-name"},
			want: "BLOGANE_BOTS",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.env {
				t.Setenv(key, value)
			}
			_, err := Load("", WithEnvFile(""))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadBotsFromEnv(t *testing.T) {
	t.Setenv("BLOGANE_BOTS", "Nova <nova@bots.local>, Echo Bot <echo@bots.local>")
	cfg, err := Load("", WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Bots) != 2 {
		t.Fatalf("expected 2 bots, got %+v", cfg.Bots)
	}
	if cfg.Bots[1].Name != "Echo Bot" || cfg.Bots[1].Email != "echo@bots.local" {
		t.Fatalf("unexpected bot %+v", cfg.Bots[1])
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := SplitAndTrim(" a, ,b ,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected split %v", got)
	}
	if SplitAndTrim("  ") != nil {
		t.Fatal("blank input should yield nil")
	}
	if FirstNonEmpty(" ", "", " x ") != "x" {
		t.Fatal("FirstNonEmpty should skip blanks and trim")
	}
}
