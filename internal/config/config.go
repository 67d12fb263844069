// Package config resolves the server settings from defaults, an optional YAML
// file, a .env file and BLOGANE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"blogane-live/internal/assistant"
	"blogane-live/internal/objectstore"
	"blogane-live/internal/realtime"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "BLOGANE_"

// Storage drivers.
const (
	StorageJSON     = "json"
	StoragePostgres = "postgres"
)

// Relay drivers.
const (
	RelayNone  = "none"
	RelayRedis = "redis"
)

type Config struct {
	Addr      string `yaml:"addr"`
	PublicURL string `yaml:"publicURL"`
	DataPath  string `yaml:"dataPath"`
	UploadDir string `yaml:"uploadDir"`

	Storage     StorageConfig      `yaml:"storage"`
	Retention   RetentionConfig    `yaml:"retention"`
	Realtime    RealtimeConfig     `yaml:"realtime"`
	Relay       RelayConfig        `yaml:"relay"`
	RateLimit   RateLimitConfig    `yaml:"rateLimit"`
	ObjectStore objectstore.Config `yaml:"objectStorage"`
	Assistant   AssistantConfig    `yaml:"assistant"`
	Bots        []BotConfig        `yaml:"bots"`

	KeepAliveInterval time.Duration `yaml:"keepAliveInterval"`
	FlushInterval     time.Duration `yaml:"flushInterval"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`

	Log LogConfig `yaml:"log"`
	TLS TLSConfig `yaml:"tls"`
}

type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	SnapshotName    string        `yaml:"snapshotName"`
	MaxConns        int           `yaml:"maxConns"`
	MinConns        int           `yaml:"minConns"`
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdle     time.Duration `yaml:"maxConnIdle"`
	HealthInterval  time.Duration `yaml:"healthInterval"`
	AcquireTimeout  time.Duration `yaml:"acquireTimeout"`
	AppName         string        `yaml:"appName"`
}

// RetentionConfig caps the history collections; zero keeps everything.
type RetentionConfig struct {
	GlobalMessages int `yaml:"globalMessages"`
	Posts          int `yaml:"posts"`
	Reels          int `yaml:"reels"`
	DirectMessages int `yaml:"directMessages"`
}

type RealtimeConfig struct {
	MaxMessageBytes    int64         `yaml:"maxMessageBytes"`
	HeartbeatInterval  time.Duration `yaml:"heartbeatInterval"`
	AllowedOrigins     []string      `yaml:"allowedOrigins"`
	AutoAcceptDelay    time.Duration `yaml:"autoAcceptDelay"`
	AutoReplyDelay     time.Duration `yaml:"autoReplyDelay"`
	DirectHistoryLimit int           `yaml:"directHistoryLimit"`
	MaxBufferedBytes   int           `yaml:"maxBufferedBytes"`
}

type RelayConfig struct {
	Driver     string                  `yaml:"driver"`
	Addr       string                  `yaml:"addr"`
	Addrs      []string                `yaml:"addrs"`
	Username   string                  `yaml:"username"`
	Password   string                  `yaml:"password"`
	MasterName string                  `yaml:"masterName"`
	Stream     string                  `yaml:"stream"`
	MaxLen     int64                   `yaml:"maxLen"`
	PoolSize   int                     `yaml:"poolSize"`
	TLS        realtime.RedisTLSConfig `yaml:"tls"`
}

// RateLimitConfig throttles login and register attempts per client IP. With a
// RedisAddr the window is shared by every instance.
type RateLimitConfig struct {
	LoginLimit    int           `yaml:"loginLimit"`
	LoginWindow   time.Duration `yaml:"loginWindow"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisPrefix   string        `yaml:"redisPrefix"`
}

type AssistantConfig struct {
	assistant.GeneratorConfig `yaml:",inline"`

	SystemPrompt string        `yaml:"systemPrompt"`
	Fallback     string        `yaml:"fallback"`
	Timeout      time.Duration `yaml:"timeout"`
}

// BotConfig seeds an automated identity at startup.
type BotConfig struct {
	Name   string `yaml:"name"`
	Email  string `yaml:"email"`
	Avatar string `yaml:"avatar"`
	Bio    string `yaml:"bio"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TLSConfig struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

// Enabled reports whether both halves of the key pair are set.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Addr:      ":3000",
		DataPath:  "data/blogane.json",
		UploadDir: "uploads",
		Storage: StorageConfig{
			Driver:   StorageJSON,
			Postgres: PostgresConfig{SnapshotName: "default", AppName: "blogane-live"},
		},
		Retention: RetentionConfig{GlobalMessages: 100},
		Realtime: RealtimeConfig{
			MaxMessageBytes:    realtime.DefaultMaxMessageBytes,
			HeartbeatInterval:  realtime.DefaultHeartbeatInterval,
			AutoAcceptDelay:    3 * time.Second,
			AutoReplyDelay:     realtime.DefaultAutoReplyDelay,
			DirectHistoryLimit: realtime.DefaultDirectHistoryLimit,
			MaxBufferedBytes:   32 << 20,
		},
		Relay: RelayConfig{Driver: RelayNone},
		RateLimit: RateLimitConfig{
			LoginLimit:  10,
			LoginWindow: time.Minute,
		},
		ObjectStore: objectstore.Config{Driver: objectstore.DriverNone},
		Assistant: AssistantConfig{
			GeneratorConfig: assistant.GeneratorConfig{Provider: assistant.ProviderNone},
			Fallback:        assistant.DefaultFallback,
			Timeout:         assistant.DefaultTimeout,
		},
		Bots: []BotConfig{
			{Name: "Nova", Email: "nova@bots.blogane.local", Bio: "Always around to chat"},
		},
		KeepAliveInterval: 10 * time.Minute,
		FlushInterval:     time.Minute,
		ShutdownTimeout:   10 * time.Second,
		Log:               LogConfig{Level: "info", Format: "json"},
	}
}

type options struct {
	envFile string
}

// Option tunes Load.
type Option func(*options)

// WithEnvFile reads name instead of .env. An empty name disables dotenv
// loading.
func WithEnvFile(name string) Option {
	return func(o *options) {
		o.envFile = name
	}
}

// Load resolves the configuration. An empty path skips the YAML layer; a
// missing .env file is ignored.
func Load(path string, opts ...Option) (Config, error) {
	o := options{envFile: ".env"}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", o.envFile, err)
		}
	}

	env := &envReader{lookup: os.LookupEnv}
	env.apply(&cfg)
	if err := errors.Join(env.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers and incomplete backend settings.
func (c *Config) Validate() error {
	var errs []error
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case StorageJSON:
		if strings.TrimSpace(c.DataPath) == "" {
			errs = append(errs, errors.New("dataPath is required for the json storage driver"))
		}
	case StoragePostgres:
		if strings.TrimSpace(c.Storage.Postgres.DSN) == "" {
			errs = append(errs, errors.New("postgres storage selected without DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.Storage.Driver))
	}

	c.Relay.Driver = strings.ToLower(strings.TrimSpace(c.Relay.Driver))
	switch c.Relay.Driver {
	case "", RelayNone:
		c.Relay.Driver = RelayNone
	case RelayRedis:
		if c.Relay.Addr == "" && len(c.Relay.Addrs) == 0 {
			errs = append(errs, errors.New("redis relay requires an address"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported relay driver %q", c.Relay.Driver))
	}

	switch strings.ToLower(strings.TrimSpace(c.ObjectStore.Driver)) {
	case "", objectstore.DriverNone, objectstore.DriverS3, objectstore.DriverMinio:
	default:
		errs = append(errs, fmt.Errorf("unsupported object storage driver %q", c.ObjectStore.Driver))
	}

	switch strings.ToLower(strings.TrimSpace(c.Assistant.Provider)) {
	case "", assistant.ProviderNone, assistant.ProviderGemini, assistant.ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("unsupported assistant provider %q", c.Assistant.Provider))
	}

	if strings.TrimSpace(c.UploadDir) == "" {
		errs = append(errs, errors.New("uploadDir is required"))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls requires both certFile and keyFile"))
	}
	for i, bot := range c.Bots {
		if strings.TrimSpace(bot.Email) == "" || strings.TrimSpace(bot.Name) == "" {
			errs = append(errs, fmt.Errorf("bot %d requires a name and an email", i))
		}
	}
	return errors.Join(errs...)
}

// envReader overlays BLOGANE_* variables, collecting parse failures instead
// of stopping at the first one.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) apply(cfg *Config) {
	e.str("ADDR", &cfg.Addr)
	e.str("PUBLIC_URL", &cfg.PublicURL)
	e.str("DATA", &cfg.DataPath)
	e.str("UPLOAD_DIR", &cfg.UploadDir)

	e.str("STORAGE_DRIVER", &cfg.Storage.Driver)
	pg := &cfg.Storage.Postgres
	e.str("POSTGRES_DSN", &pg.DSN)
	e.str("POSTGRES_SNAPSHOT_NAME", &pg.SnapshotName)
	e.integer("POSTGRES_MAX_CONNS", &pg.MaxConns)
	e.integer("POSTGRES_MIN_CONNS", &pg.MinConns)
	e.duration("POSTGRES_MAX_CONN_LIFETIME", &pg.MaxConnLifetime)
	e.duration("POSTGRES_MAX_CONN_IDLE", &pg.MaxConnIdle)
	e.duration("POSTGRES_HEALTH_INTERVAL", &pg.HealthInterval)
	e.duration("POSTGRES_ACQUIRE_TIMEOUT", &pg.AcquireTimeout)
	e.str("POSTGRES_APP_NAME", &pg.AppName)

	e.integer("RETENTION_GLOBAL_MESSAGES", &cfg.Retention.GlobalMessages)
	e.integer("RETENTION_POSTS", &cfg.Retention.Posts)
	e.integer("RETENTION_REELS", &cfg.Retention.Reels)
	e.integer("RETENTION_DIRECT_MESSAGES", &cfg.Retention.DirectMessages)

	rt := &cfg.Realtime
	e.integer64("MAX_MESSAGE_BYTES", &rt.MaxMessageBytes)
	e.duration("HEARTBEAT_INTERVAL", &rt.HeartbeatInterval)
	e.list("ALLOWED_ORIGINS", &rt.AllowedOrigins)
	e.duration("AUTO_ACCEPT_DELAY", &rt.AutoAcceptDelay)
	e.duration("AUTO_REPLY_DELAY", &rt.AutoReplyDelay)
	e.integer("DIRECT_HISTORY_LIMIT", &rt.DirectHistoryLimit)
	e.integer("UPLOAD_MAX_BUFFERED_BYTES", &rt.MaxBufferedBytes)

	relay := &cfg.Relay
	e.str("RELAY_DRIVER", &relay.Driver)
	e.str("RELAY_REDIS_ADDR", &relay.Addr)
	e.list("RELAY_REDIS_ADDRS", &relay.Addrs)
	e.str("RELAY_REDIS_USERNAME", &relay.Username)
	e.str("RELAY_REDIS_PASSWORD", &relay.Password)
	e.str("RELAY_REDIS_MASTER_NAME", &relay.MasterName)
	e.str("RELAY_REDIS_STREAM", &relay.Stream)
	e.integer64("RELAY_REDIS_MAX_LEN", &relay.MaxLen)
	e.integer("RELAY_REDIS_POOL_SIZE", &relay.PoolSize)
	e.str("RELAY_REDIS_TLS_CA", &relay.TLS.CAFile)
	e.str("RELAY_REDIS_TLS_CERT", &relay.TLS.CertFile)
	e.str("RELAY_REDIS_TLS_KEY", &relay.TLS.KeyFile)
	e.str("RELAY_REDIS_TLS_SERVER_NAME", &relay.TLS.ServerName)
	e.boolean("RELAY_REDIS_TLS_SKIP_VERIFY", &relay.TLS.InsecureSkipVerify)

	e.integer("RATE_LOGIN_LIMIT", &cfg.RateLimit.LoginLimit)
	e.duration("RATE_LOGIN_WINDOW", &cfg.RateLimit.LoginWindow)
	e.str("RATE_REDIS_ADDR", &cfg.RateLimit.RedisAddr)
	e.str("RATE_REDIS_PASSWORD", &cfg.RateLimit.RedisPassword)
	e.str("RATE_REDIS_PREFIX", &cfg.RateLimit.RedisPrefix)

	obj := &cfg.ObjectStore
	e.str("OBJECT_DRIVER", &obj.Driver)
	e.str("OBJECT_ENDPOINT", &obj.Endpoint)
	e.str("OBJECT_REGION", &obj.Region)
	e.str("OBJECT_BUCKET", &obj.Bucket)
	e.str("OBJECT_ACCESS_KEY", &obj.AccessKey)
	e.str("OBJECT_SECRET_KEY", &obj.SecretKey)
	e.boolean("OBJECT_USE_SSL", &obj.UseSSL)
	e.str("OBJECT_PUBLIC_URL", &obj.PublicBaseURL)
	e.str("OBJECT_PREFIX", &obj.Prefix)

	ai := &cfg.Assistant
	e.str("ASSISTANT_PROVIDER", &ai.Provider)
	e.str("ASSISTANT_API_KEY", &ai.APIKey)
	e.str("ASSISTANT_MODEL", &ai.Model)
	e.str("ASSISTANT_BASE_URL", &ai.BaseURL)
	e.str("ASSISTANT_SYSTEM_PROMPT", &ai.SystemPrompt)
	e.str("ASSISTANT_FALLBACK", &ai.Fallback)
	e.duration("ASSISTANT_TIMEOUT", &ai.Timeout)
	e.bots("BOTS", &cfg.Bots)

	e.duration("KEEPALIVE_INTERVAL", &cfg.KeepAliveInterval)
	e.duration("FLUSH_INTERVAL", &cfg.FlushInterval)
	e.duration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	e.str("LOG_LEVEL", &cfg.Log.Level)
	e.str("LOG_FORMAT", &cfg.Log.Format)
	e.str("TLS_CERT", &cfg.TLS.CertFile)
	e.str("TLS_KEY", &cfg.TLS.KeyFile)
}

func (e *envReader) get(key string) (string, bool) {
	value, ok := e.lookup(envPrefix + key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (e *envReader) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("invalid %s%s %q: %w", envPrefix, key, value, err))
}

func (e *envReader) str(key string, dst *string) {
	if value, ok := e.get(key); ok {
		*dst = value
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if value, ok := e.get(key); ok {
		*dst = SplitAndTrim(value)
	}
}

func (e *envReader) integer(key string, dst *int) {
	value, ok := e.get(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		e.fail(key, value, err)
		return
	}
	*dst = parsed
}

func (e *envReader) integer64(key string, dst *int64) {
	value, ok := e.get(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		e.fail(key, value, err)
		return
	}
	*dst = parsed
}

func (e *envReader) boolean(key string, dst *bool) {
	value, ok := e.get(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		e.fail(key, value, err)
		return
	}
	*dst = parsed
}

func (e *envReader) duration(key string, dst *time.Duration) {
	value, ok := e.get(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		e.fail(key, value, err)
		return
	}
	*dst = parsed
}

// bots parses "Name <email>" entries separated by commas.
func (e *envReader) bots(key string, dst *[]BotConfig) {
	value, ok := e.get(key)
	if !ok {
		return
	}
	var bots []BotConfig
	for _, entry := range SplitAndTrim(value) {
		bot, err := parseBot(entry)
		if err != nil {
			e.fail(key, entry, err)
			return
		}
		bots = append(bots, bot)
	}
	*dst = bots
}

func parseBot(entry string) (BotConfig, error) {
	open := strings.LastIndex(entry, "<")
	if open <= 0 || !strings.HasSuffix(entry, ">") {
		return BotConfig{}, errors.New(`expected "Name <email>"`)
	}
	name := strings.TrimSpace(entry[:open])
	email := strings.TrimSpace(entry[open+1 : len(entry)-1])
	if name == "" || !strings.Contains(email, "@") {
		return BotConfig{}, errors.New(`expected "Name <email>"`)
	}
	return BotConfig{Name: name, Email: email}, nil
}

// FirstNonEmpty returns the first value that is not blank, trimmed.
func FirstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// SplitAndTrim splits a comma separated list, dropping blank entries.
func SplitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ResolveInt prefers a positive flag value over current.
func ResolveInt(flagValue, current int) int {
	if flagValue > 0 {
		return flagValue
	}
	return current
}

// ResolveDuration prefers a positive flag value over current.
func ResolveDuration(flagValue, current time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	return current
}
