// Command migrate-snapshot copies a JSON snapshot file into the Postgres
// snapshot table and verifies the copy.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"blogane-live/internal/storage"
)

func main() {
	jsonPath := flag.String("json", "data/blogane.json", "path to the JSON snapshot to migrate")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	name := flag.String("name", storage.DefaultSnapshotName, "snapshot row name")
	timeout := flag.Duration("timeout", time.Minute, "overall migration timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	dsn := strings.TrimSpace(*postgresDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("BLOGANE_POSTGRES_DSN"))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, BLOGANE_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	target, err := storage.NewPostgresPersister(ctx, storage.PostgresConfig{DSN: dsn, Name: *name})
	if err != nil {
		logger.Error("failed to open postgres persister", "error", err)
		os.Exit(1)
	}
	defer target.Close()

	counts, err := migrate(ctx, storage.NewFilePersister(*jsonPath), target)
	if err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migration completed",
		"identities", counts.Identities,
		"posts", counts.Posts,
		"reels", counts.Reels,
		"friendships", counts.Friendships,
		"direct_messages", counts.DirectMessages,
	)
}

// migrate copies the document held by source into target and checks that the
// stored copy decodes to the same collection sizes.
func migrate(ctx context.Context, source, target storage.Persister) (storage.SnapshotCounts, error) {
	document, err := source.Load(ctx)
	if err != nil {
		return storage.SnapshotCounts{}, fmt.Errorf("load source snapshot: %w", err)
	}
	counts, err := storage.DecodeSnapshot(document)
	if err != nil {
		return storage.SnapshotCounts{}, err
	}
	if err := target.Store(ctx, document); err != nil {
		return storage.SnapshotCounts{}, fmt.Errorf("store snapshot: %w", err)
	}

	stored, err := target.Load(ctx)
	if err != nil {
		return storage.SnapshotCounts{}, fmt.Errorf("reload snapshot: %w", err)
	}
	verified, err := storage.DecodeSnapshot(stored)
	if err != nil {
		return storage.SnapshotCounts{}, fmt.Errorf("verify snapshot: %w", err)
	}
	if verified != counts {
		return storage.SnapshotCounts{}, fmt.Errorf("verification mismatch: source %+v, stored %+v", counts, verified)
	}
	return counts, nil
}
