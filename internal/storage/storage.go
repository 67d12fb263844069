package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"blogane-live/internal/models"
	"blogane-live/internal/observability/metrics"
)

// DefaultGlobalMessageLimit caps the global chat log when no retention is
// configured.
const DefaultGlobalMessageLimit = 100

type dataset struct {
	Identities     []models.Identity      `json:"identities"`
	Posts          []models.MediaRecord   `json:"posts"`
	Reels          []models.MediaRecord   `json:"reels"`
	FriendRequests []models.FriendRequest `json:"friendRequests"`
	Friendships    []models.Friendship    `json:"friendships"`
	GlobalMessages []models.ChatMessage   `json:"globalMessages"`
	DirectMessages []models.DirectMessage `json:"directMessages"`
	Groups         []models.Group         `json:"groups"`
	Pages          []models.Page          `json:"pages"`
}

func newDataset(now time.Time) dataset {
	data := dataset{
		Groups: []models.Group{{
			ID:          "g1",
			Name:        "Developers Community",
			Description: "Programming discussions",
			Members:     []string{},
			Owner:       "system",
			CreatedAt:   now,
		}},
		Pages: []models.Page{{
			ID:        "p1",
			Name:      "Tech News",
			Followers: []string{},
			Owner:     "system",
			CreatedAt: now,
		}},
	}
	data.ensureInitialized()
	return data
}

// ensureInitialized replaces null collections so the document always encodes
// arrays and appends never see nil surprises after a decode.
func (d *dataset) ensureInitialized() {
	if d.Identities == nil {
		d.Identities = []models.Identity{}
	}
	if d.Posts == nil {
		d.Posts = []models.MediaRecord{}
	}
	if d.Reels == nil {
		d.Reels = []models.MediaRecord{}
	}
	if d.FriendRequests == nil {
		d.FriendRequests = []models.FriendRequest{}
	}
	if d.Friendships == nil {
		d.Friendships = []models.Friendship{}
	}
	if d.GlobalMessages == nil {
		d.GlobalMessages = []models.ChatMessage{}
	}
	if d.DirectMessages == nil {
		d.DirectMessages = []models.DirectMessage{}
	}
	if d.Groups == nil {
		d.Groups = []models.Group{}
	}
	if d.Pages == nil {
		d.Pages = []models.Page{}
	}
}

// Retention bounds the history collections. Zero leaves a collection
// unbounded, except GlobalMessages which falls back to
// DefaultGlobalMessageLimit.
type Retention struct {
	GlobalMessages int
	Posts          int
	Reels          int
	DirectMessages int
}

// Storage owns every durable collection. All mutations are followed by a full
// snapshot Save through the configured Persister.
type Storage struct {
	mu        sync.RWMutex
	data      dataset
	persister Persister
	retention Retention
	logger    *slog.Logger
	metrics   *metrics.Recorder
	now       func() time.Time

	// saveMu orders snapshot writes so an older document never replaces a newer one.
	saveMu sync.Mutex
	// persistOverride allows tests to intercept persist operations.
	persistOverride func([]byte) error
}

// Option mutates storage configuration.
type Option func(*Storage)

func WithRetention(retention Retention) Option {
	return func(s *Storage) {
		s.retention = retention
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(recorder *metrics.Recorder) Option {
	return func(s *Storage) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStorage builds a store on top of persister and loads the current snapshot.
func NewStorage(persister Persister, opts ...Option) (*Storage, error) {
	if persister == nil {
		return nil, errors.New("persister is required")
	}
	store := &Storage{
		persister: persister,
		logger:    slog.Default(),
		metrics:   metrics.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(store)
	}
	if store.retention.GlobalMessages <= 0 {
		store.retention.GlobalMessages = DefaultGlobalMessageLimit
	}
	if err := store.Load(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

// NewJSONStorage is a shorthand for a store persisted to a single JSON file.
func NewJSONStorage(path string, opts ...Option) (*Storage, error) {
	return NewStorage(NewFilePersister(path), opts...)
}

// Load replaces the in-memory state with the persisted snapshot. A missing
// snapshot initialises and writes the default schema; an unreadable one is
// quarantined and replaced by the default schema.
func (s *Storage) Load(ctx context.Context) error {
	document, err := s.persister.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		s.reset()
		s.logger.Info("initialised empty snapshot")
		_ = s.Save(ctx)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	var data dataset
	if err := json.Unmarshal(document, &data); err != nil {
		s.logger.Error("snapshot is unreadable, starting from empty schema", "error", err)
		if qErr := s.persister.Quarantine(ctx); qErr != nil {
			s.logger.Error("failed to quarantine snapshot", "error", qErr)
		}
		s.reset()
		_ = s.Save(ctx)
		return nil
	}
	data.ensureInitialized()

	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

func (s *Storage) reset() {
	s.mu.Lock()
	s.data = newDataset(s.now())
	s.mu.Unlock()
}

// Save evicts over-limit history and writes the complete snapshot. Failures are
// logged and returned; in-memory state is kept so a later save catches up.
func (s *Storage) Save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	s.evictLocked()
	document, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.Unlock()
	if err != nil {
		s.metrics.ObserveSnapshotSave(false)
		s.logger.Error("failed to encode snapshot", "error", err)
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := s.persist(ctx, document); err != nil {
		s.metrics.ObserveSnapshotSave(false)
		s.logger.Error("failed to persist snapshot", "error", err, "bytes", len(document))
		return err
	}
	s.metrics.ObserveSnapshotSave(true)
	return nil
}

func (s *Storage) persist(ctx context.Context, document []byte) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(document); err != nil {
			return err
		}
	}
	return s.persister.Store(ctx, document)
}

// commit is called after every mutation; errors are already logged by Save.
func (s *Storage) commit() {
	_ = s.Save(context.Background())
}

func (s *Storage) evictLocked() {
	s.data.GlobalMessages = keepLastAppended(s.data.GlobalMessages, s.retention.GlobalMessages)
	s.data.DirectMessages = keepLastAppended(s.data.DirectMessages, s.retention.DirectMessages)
	s.data.Posts = keepFirstPrepended(s.data.Posts, s.retention.Posts)
	s.data.Reels = keepFirstPrepended(s.data.Reels, s.retention.Reels)
}

// keepLastAppended trims an oldest-first collection down to its newest limit
// entries.
func keepLastAppended[T any](items []T, limit int) []T {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	kept := make([]T, limit)
	copy(kept, items[len(items)-limit:])
	return kept
}

// keepFirstPrepended trims a newest-first collection down to its newest limit
// entries.
func keepFirstPrepended[T any](items []T, limit int) []T {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	kept := make([]T, limit)
	copy(kept, items[:limit])
	return kept
}

// Ping checks the persistence backend.
func (s *Storage) Ping(ctx context.Context) error {
	return s.persister.Ping(ctx)
}

// Close releases the persistence backend.
func (s *Storage) Close() error {
	return s.persister.Close()
}
