package realtime

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"blogane-live/internal/observability/logging"
	"github.com/redis/go-redis/v9"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string `yaml:"caFile"`
	CertFile           string `yaml:"certFile"`
	KeyFile            string `yaml:"keyFile"`
	ServerName         string `yaml:"serverName"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

// RedisQueueConfig configures the Redis Streams relay.
type RedisQueueConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	MasterName   string
	Stream       string
	MaxLen       int64
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BlockTimeout time.Duration
	Buffer       int
	PoolSize     int
	TLS          RedisTLSConfig
	Logger       *slog.Logger
}

// RedisQueue relays messages through a capped Redis stream. Every subscriber
// reads the stream independently with XREAD, so each instance sees every
// message published after it subscribed.
type RedisQueue struct {
	client       redis.UniversalClient
	stream       string
	maxLen       int64
	blockTimeout time.Duration
	buffer       int
	logger       *slog.Logger
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	readTimeout := cfg.ReadTimeout
	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = 2 * time.Second
	}
	if readTimeout > 0 && readTimeout <= blockTimeout {
		readTimeout = blockTimeout + time.Second
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisQueue(client, cfg), nil
}

// NewRedisQueueWithClient builds a relay on an existing client. The queue
// takes ownership and closes the client on Close.
func NewRedisQueueWithClient(client redis.UniversalClient, cfg RedisQueueConfig) *RedisQueue {
	return newRedisQueue(client, cfg)
}

func newRedisQueue(client redis.UniversalClient, cfg RedisQueueConfig) *RedisQueue {
	q := &RedisQueue{
		client:       client,
		stream:       strings.TrimSpace(cfg.Stream),
		maxLen:       cfg.MaxLen,
		blockTimeout: cfg.BlockTimeout,
		buffer:       cfg.Buffer,
		logger:       logging.WithComponent(cfg.Logger, "relay"),
	}
	if q.stream == "" {
		q.stream = "blogane:relay"
	}
	if q.maxLen <= 0 {
		q.maxLen = 10000
	}
	if q.blockTimeout <= 0 {
		q.blockTimeout = 2 * time.Second
	}
	if q.buffer <= 0 {
		q.buffer = 128
	}
	return q
}

// Client exposes the underlying connection so other components can share it.
func (q *RedisQueue) Client() redis.UniversalClient {
	return q.client
}

func (q *RedisQueue) Publish(ctx context.Context, msg RelayMessage) error {
	if err := msg.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"payload": string(payload)},
	}).Err()
}

func (q *RedisQueue) Subscribe() Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		queue:  q,
		cancel: cancel,
		ch:     make(chan RelayMessage, q.buffer),
		lastID: q.latestID(ctx),
	}
	go sub.run(ctx)
	return sub
}

// latestID returns the id of the newest entry so a new subscriber only sees
// messages published after it joined.
func (q *RedisQueue) latestID(ctx context.Context) string {
	entries, err := q.client.XRevRangeN(ctx, q.stream, "+", "-", 1).Result()
	if err != nil || len(entries) == 0 {
		if err != nil && !errors.Is(err, redis.Nil) {
			q.logger.Warn("failed to read relay stream head", "error", err)
		}
		return "0-0"
	}
	return entries[0].ID
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

type redisSubscription struct {
	queue  *RedisQueue
	cancel context.CancelFunc
	ch     chan RelayMessage
	lastID string
	once   sync.Once
}

func (s *redisSubscription) Messages() <-chan RelayMessage {
	return s.ch
}

func (s *redisSubscription) Close() {
	s.once.Do(s.cancel)
}

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.ch)
	for ctx.Err() == nil {
		streams, err := s.queue.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.queue.stream, s.lastID},
			Count:   32,
			Block:   s.queue.blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.queue.logger.Warn("relay read failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		for _, stream := range streams {
			for _, entry := range stream.Messages {
				s.lastID = entry.ID
				msg, ok := s.decode(entry)
				if !ok {
					continue
				}
				select {
				case s.ch <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (s *redisSubscription) decode(entry redis.XMessage) (RelayMessage, bool) {
	raw, _ := entry.Values["payload"].(string)
	if raw == "" {
		return RelayMessage{}, false
	}
	var msg RelayMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		s.queue.logger.Error("relay decode failed", "id", entry.ID, "error", err)
		return RelayMessage{}, false
	}
	return msg, true
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		pemData, err := os.ReadFile(filepath.Clean(cfg.CAFile))
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(cfg.CertFile), filepath.Clean(cfg.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
