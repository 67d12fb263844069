// Command server runs the Blogane Live realtime backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blogane-live/internal/assistant"
	"blogane-live/internal/config"
	"blogane-live/internal/media"
	"blogane-live/internal/models"
	"blogane-live/internal/objectstore"
	"blogane-live/internal/observability/logging"
	"blogane-live/internal/observability/metrics"
	"blogane-live/internal/ratelimit"
	"blogane-live/internal/realtime"
	"blogane-live/internal/server"
	"blogane-live/internal/session"
	"blogane-live/internal/storage"
	"blogane-live/web"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type cliFlags struct {
	configPath        string
	addr              string
	publicURL         string
	dataPath          string
	uploadDir         string
	storageDriver     string
	postgresDSN       string
	relayDriver       string
	relayRedisAddr    string
	rateLoginLimit    int
	rateLoginWindow   time.Duration
	rateRedisAddr     string
	keepAliveInterval time.Duration
	logLevel          string
	logFormat         string
	tlsCert           string
	tlsKey            string
}

func parseFlags(args []string) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&f.addr, "addr", "", "HTTP listen address")
	fs.StringVar(&f.publicURL, "public-url", "", "public base URL used by the keepalive ping")
	fs.StringVar(&f.dataPath, "data", "", "path to the JSON snapshot file")
	fs.StringVar(&f.uploadDir, "upload-dir", "", "directory receiving uploaded media")
	fs.StringVar(&f.storageDriver, "storage-driver", "", "snapshot persister (json or postgres)")
	fs.StringVar(&f.postgresDSN, "postgres-dsn", "", "Postgres connection string")
	fs.StringVar(&f.relayDriver, "relay-driver", "", "cross-instance relay (none or redis)")
	fs.StringVar(&f.relayRedisAddr, "relay-redis-addr", "", "Redis address for the relay")
	fs.IntVar(&f.rateLoginLimit, "rate-login-limit", 0, "maximum login attempts per window for a single IP")
	fs.DurationVar(&f.rateLoginWindow, "rate-login-window", 0, "window for counting login attempts")
	fs.StringVar(&f.rateRedisAddr, "rate-redis-addr", "", "Redis address for shared login throttling")
	fs.DurationVar(&f.keepAliveInterval, "keepalive-interval", 0, "interval between self-pings of the public URL")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", "", "log format (json or text)")
	fs.StringVar(&f.tlsCert, "tls-cert", "", "path to TLS certificate file")
	fs.StringVar(&f.tlsKey, "tls-key", "", "path to TLS private key file")
	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	f.configPath = config.FirstNonEmpty(f.configPath, os.Getenv("BLOGANE_CONFIG"))
	return f, nil
}

// applyFlags lets explicit flags win over every other configuration layer.
func applyFlags(cfg *config.Config, f cliFlags) {
	cfg.Addr = config.FirstNonEmpty(f.addr, cfg.Addr)
	cfg.PublicURL = config.FirstNonEmpty(f.publicURL, cfg.PublicURL)
	cfg.DataPath = config.FirstNonEmpty(f.dataPath, cfg.DataPath)
	cfg.UploadDir = config.FirstNonEmpty(f.uploadDir, cfg.UploadDir)
	cfg.Storage.Driver = config.FirstNonEmpty(f.storageDriver, cfg.Storage.Driver)
	cfg.Storage.Postgres.DSN = config.FirstNonEmpty(f.postgresDSN, cfg.Storage.Postgres.DSN)
	cfg.Relay.Driver = config.FirstNonEmpty(f.relayDriver, cfg.Relay.Driver)
	cfg.Relay.Addr = config.FirstNonEmpty(f.relayRedisAddr, cfg.Relay.Addr)
	cfg.RateLimit.LoginLimit = config.ResolveInt(f.rateLoginLimit, cfg.RateLimit.LoginLimit)
	cfg.RateLimit.LoginWindow = config.ResolveDuration(f.rateLoginWindow, cfg.RateLimit.LoginWindow)
	cfg.RateLimit.RedisAddr = config.FirstNonEmpty(f.rateRedisAddr, cfg.RateLimit.RedisAddr)
	cfg.KeepAliveInterval = config.ResolveDuration(f.keepAliveInterval, cfg.KeepAliveInterval)
	cfg.Log.Level = config.FirstNonEmpty(f.logLevel, cfg.Log.Level)
	cfg.Log.Format = config.FirstNonEmpty(f.logFormat, cfg.Log.Format)
	cfg.TLS.CertFile = config.FirstNonEmpty(f.tlsCert, cfg.TLS.CertFile)
	cfg.TLS.KeyFile = config.FirstNonEmpty(f.tlsKey, cfg.TLS.KeyFile)
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	} else if err != nil {
		os.Exit(2)
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(&cfg, flags)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	recorder := metrics.Default()

	persister, err := openPersister(ctx, cfg)
	if err != nil {
		return err
	}
	store, err := storage.NewStorage(persister,
		storage.WithRetention(storage.Retention{
			GlobalMessages: cfg.Retention.GlobalMessages,
			Posts:          cfg.Retention.Posts,
			Reels:          cfg.Retention.Reels,
			DirectMessages: cfg.Retention.DirectMessages,
		}),
		storage.WithLogger(logging.WithComponent(logger, "storage")),
		storage.WithMetrics(recorder),
	)
	if err != nil {
		_ = persister.Close()
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close snapshot store", "error", err)
		}
	}()

	if err := seedBots(store, cfg.Bots, logger); err != nil {
		return err
	}

	uploads, err := media.NewPipeline(media.Config{
		Dir:              cfg.UploadDir,
		MaxBufferedBytes: cfg.Realtime.MaxBufferedBytes,
		Logger:           logging.WithComponent(logger, "media"),
		Metrics:          recorder,
	})
	if err != nil {
		return err
	}

	objects, err := objectstore.New(ctx, cfg.ObjectStore)
	if err != nil {
		return fmt.Errorf("configure object storage: %w", err)
	}
	mirror := media.NewMirror(media.MirrorConfig{
		Store:   objects,
		Records: store,
		Prefix:  cfg.ObjectStore.Prefix,
		Logger:  logger,
		Metrics: recorder,
	})

	generator, err := assistant.NewGenerator(ctx, cfg.Assistant.GeneratorConfig)
	if err != nil {
		return fmt.Errorf("configure assistant: %w", err)
	}
	if closer, ok := generator.(io.Closer); ok {
		defer closer.Close()
	}
	responder := assistant.NewResponder(assistant.ResponderConfig{
		Generator:    generator,
		SystemPrompt: cfg.Assistant.SystemPrompt,
		Fallback:     cfg.Assistant.Fallback,
		Timeout:      cfg.Assistant.Timeout,
		Logger:       logger,
		Metrics:      recorder,
	})

	relay, err := openRelay(ctx, cfg.Relay, logger)
	if err != nil {
		return fmt.Errorf("configure relay: %w", err)
	}
	if relay != nil {
		defer relay.Close()
	}

	limiter, closeLimiter := buildLimiter(cfg.RateLimit)
	defer closeLimiter()

	hub, err := realtime.NewHub(realtime.HubConfig{
		Store:              store,
		Registry:           session.NewRegistry(),
		Uploads:            uploads,
		Mirror:             mirror,
		Assistant:          responder,
		Limiter:            limiter,
		Relay:              relay,
		Origin:             uuid.NewString(),
		Logger:             logger,
		Metrics:            recorder,
		MaxMessageBytes:    cfg.Realtime.MaxMessageBytes,
		HeartbeatInterval:  cfg.Realtime.HeartbeatInterval,
		AutoAcceptDelay:    cfg.Realtime.AutoAcceptDelay,
		AutoReplyDelay:     cfg.Realtime.AutoReplyDelay,
		DirectHistoryLimit: cfg.Realtime.DirectHistoryLimit,
		AllowedOrigins:     cfg.Realtime.AllowedOrigins,
	})
	if err != nil {
		return err
	}
	defer hub.Close()

	static, err := web.Static()
	if err != nil {
		return fmt.Errorf("load web assets: %w", err)
	}

	checks := []server.ReadinessCheck{{Name: "snapshot", Check: store.Ping}}
	if relay != nil {
		checks = append(checks, server.ReadinessCheck{Name: "relay", Check: relay.Ping})
	}
	srv, err := server.New(server.Config{
		Addr:      cfg.Addr,
		TLS:       server.TLSConfig{CertFile: cfg.TLS.CertFile, KeyFile: cfg.TLS.KeyFile},
		Logger:    logger,
		Metrics:   recorder,
		Realtime:  hub,
		UploadDir: cfg.UploadDir,
		Static:    static,
		Checks:    checks,
		Status: func() map[string]any {
			return map[string]any{
				"identitiesOnline": hub.Registry().Count(),
				"connections":      hub.Dispatcher().Sessions(),
				"uploadsActive":    uploads.Active(),
				"collections":      store.Counts(),
			}
		},
		Security:        server.SecurityConfig{MediaOrigins: []string{cfg.ObjectStore.PublicBaseURL, cfg.ObjectStore.Endpoint}},
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	if err != nil {
		return err
	}

	logger.Info("starting blogane live",
		"addr", cfg.Addr,
		"storage", cfg.Storage.Driver,
		"relay", cfg.Relay.Driver,
		"object_storage", cfg.ObjectStore.Driver,
		"assistant", cfg.Assistant.Provider,
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return srv.Run(groupCtx) })
	group.Go(func() error { return hub.Run(groupCtx) })
	group.Go(func() error { return mirror.Run(groupCtx) })
	group.Go(func() error {
		return runPeriodic(groupCtx, logger, selfPingTask(nil, cfg.PublicURL, cfg.KeepAliveInterval), nil)
	})
	group.Go(func() error {
		return runPeriodic(groupCtx, logger, snapshotFlushTask(store, cfg.FlushInterval), nil)
	})
	runErr := group.Wait()

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Save(saveCtx); err != nil {
		logger.Warn("final snapshot save failed", "error", err)
	}
	return runErr
}

func openPersister(ctx context.Context, cfg config.Config) (storage.Persister, error) {
	switch cfg.Storage.Driver {
	case config.StorageJSON:
		return storage.NewFilePersister(cfg.DataPath), nil
	case config.StoragePostgres:
		pg := cfg.Storage.Postgres
		persister, err := storage.NewPostgresPersister(ctx, storage.PostgresConfig{
			DSN:                 pg.DSN,
			Name:                pg.SnapshotName,
			MaxConnections:      int32(pg.MaxConns),
			MinConnections:      int32(pg.MinConns),
			MaxConnLifetime:     pg.MaxConnLifetime,
			MaxConnIdleTime:     pg.MaxConnIdle,
			HealthCheckInterval: pg.HealthInterval,
			AcquireTimeout:      pg.AcquireTimeout,
			ApplicationName:     pg.AppName,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres persister: %w", err)
		}
		return persister, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

// openRelay returns nil when cross-instance delivery is disabled.
func openRelay(ctx context.Context, cfg config.RelayConfig, logger *slog.Logger) (realtime.Queue, error) {
	switch cfg.Driver {
	case "", config.RelayNone:
		return nil, nil
	case config.RelayRedis:
		queue, err := realtime.NewRedisQueue(ctx, realtime.RedisQueueConfig{
			Addr:       cfg.Addr,
			Addrs:      cfg.Addrs,
			Username:   cfg.Username,
			Password:   cfg.Password,
			MasterName: cfg.MasterName,
			Stream:     cfg.Stream,
			MaxLen:     cfg.MaxLen,
			PoolSize:   cfg.PoolSize,
			TLS:        cfg.TLS,
			Logger:     logging.WithComponent(logger, "relay"),
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	default:
		return nil, fmt.Errorf("unsupported relay driver %q", cfg.Driver)
	}
}

// buildLimiter shares the login window through Redis when an address is
// configured and keeps it in process otherwise.
func buildLimiter(cfg config.RateLimitConfig) (ratelimit.Limiter, func()) {
	if cfg.LoginLimit <= 0 || cfg.LoginWindow <= 0 {
		return nil, func() {}
	}
	if cfg.RedisAddr == "" {
		return ratelimit.NewLocal(cfg.LoginLimit, cfg.LoginWindow), func() {}
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
	})
	return ratelimit.NewRedis(client, cfg.LoginLimit, cfg.LoginWindow, cfg.RedisPrefix), func() { _ = client.Close() }
}

type identitySeeder interface {
	EnsureIdentity(params storage.RegisterParams) (models.Identity, bool, error)
}

// seedBots makes sure every configured automated identity exists.
func seedBots(store identitySeeder, bots []config.BotConfig, logger *slog.Logger) error {
	var errs []error
	for _, bot := range bots {
		identity, created, err := store.EnsureIdentity(storage.RegisterParams{
			Email:     bot.Email,
			Name:      bot.Name,
			Avatar:    bot.Avatar,
			Bio:       bot.Bio,
			Automated: true,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("seed bot %s: %w", bot.Email, err))
			continue
		}
		if created {
			logger.Info("seeded automated identity", "identity", identity.Email)
		}
	}
	return errors.Join(errs...)
}
