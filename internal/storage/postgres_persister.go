package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSnapshotName keys the row holding the live snapshot document.
const DefaultSnapshotName = "default"

// PostgresConfig describes how the persister initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN string
	// Name selects the snapshot row; several deployments can share a table.
	Name                string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
}

const snapshotTableDDL = `CREATE TABLE IF NOT EXISTS snapshot_documents (
	name TEXT PRIMARY KEY,
	document JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresPersister stores the snapshot as a jsonb row in snapshot_documents.
type PostgresPersister struct {
	pool           *pgxpool.Pool
	name           string
	acquireTimeout time.Duration
	now            func() time.Time
}

func buildPoolConfig(cfg PostgresConfig) (*pgxpool.Config, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	return poolCfg, nil
}

// NewPostgresPersister opens the pool and creates the snapshot table when it
// does not exist yet.
func NewPostgresPersister(ctx context.Context, cfg PostgresConfig) (*PostgresPersister, error) {
	poolCfg, err := buildPoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = DefaultSnapshotName
	}
	p := &PostgresPersister{
		pool:           pool,
		name:           name,
		acquireTimeout: cfg.AcquireTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
	if err := p.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, snapshotTableDDL)
		return err
	}); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create snapshot table: %w", err)
	}
	return p, nil
}

func (p *PostgresPersister) withConn(ctx context.Context, fn func(context.Context, *pgxpool.Conn) error) error {
	acquireCtx := ctx
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}
	conn, err := p.pool.Acquire(acquireCtx)
	if err != nil {
		return fmt.Errorf("acquire postgres connection: %w", err)
	}
	defer conn.Release()
	return fn(ctx, conn)
}

func (p *PostgresPersister) Load(ctx context.Context) ([]byte, error) {
	var document []byte
	err := p.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx,
			`SELECT document::text FROM snapshot_documents WHERE name = $1`, p.name,
		).Scan(&document)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot row: %w", err)
	}
	return document, nil
}

func (p *PostgresPersister) Store(ctx context.Context, document []byte) error {
	err := p.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
INSERT INTO snapshot_documents (name, document, updated_at)
VALUES ($1, $2::jsonb, $3)
ON CONFLICT (name) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
			p.name, string(document), p.now())
		return err
	})
	if err != nil {
		return fmt.Errorf("store snapshot row: %w", err)
	}
	return nil
}

// Quarantine renames the current row so the next Store starts fresh. A jsonb
// column never holds malformed JSON, so this only triggers when the document
// does not match the expected shape.
func (p *PostgresPersister) Quarantine(ctx context.Context) error {
	target := fmt.Sprintf("%s.corrupt-%d", p.name, p.now().Unix())
	err := p.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `UPDATE snapshot_documents SET name = $2 WHERE name = $1`, p.name, target)
		return err
	})
	if err != nil {
		return fmt.Errorf("quarantine snapshot row: %w", err)
	}
	return nil
}

func (p *PostgresPersister) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresPersister) Close() error {
	p.pool.Close()
	return nil
}
