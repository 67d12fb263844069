package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"blogane-live/internal/models"
	"blogane-live/internal/objectstore"
	"blogane-live/internal/observability/logging"
	"blogane-live/internal/observability/metrics"
)

// RemoteURLSetter records where a media record's file was mirrored.
type RemoteURLSetter interface {
	SetMediaRemoteURL(kind models.MediaKind, id, remoteURL string) error
}

// MirrorJob identifies a finished upload and the record that references it.
type MirrorJob struct {
	Kind     models.MediaKind
	RecordID string
	FilePath string
}

type MirrorConfig struct {
	Store     objectstore.Store
	Records   RemoteURLSetter
	Prefix    string
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

// Mirror copies finished uploads to object storage on a bounded worker pool.
type Mirror struct {
	store   objectstore.Store
	records RemoteURLSetter
	prefix  string
	workers int
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc

	queue chan MirrorJob
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

const (
	defaultMirrorWorkers   = 2
	defaultMirrorQueueSize = 64
	defaultMirrorTimeout   = 10 * time.Minute
)

// NewMirror returns nil when no object store is configured; a nil Mirror
// accepts and ignores every call.
func NewMirror(cfg MirrorConfig) *Mirror {
	if cfg.Store == nil {
		return nil
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultMirrorWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultMirrorQueueSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMirrorTimeout
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Mirror{
		store:    cfg.Store,
		records:  cfg.Records,
		prefix:   cfg.Prefix,
		workers:  workers,
		timeout:  timeout,
		logger:   logging.WithComponent(cfg.Logger, "media-mirror"),
		metrics:  recorder,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan MirrorJob, queueSize),
		inFlight: make(map[string]struct{}),
	}
}

func (m *Mirror) Start() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
}

// Run starts the pool and blocks until ctx is done, then drains workers.
func (m *Mirror) Run(ctx context.Context) error {
	if m == nil {
		<-ctx.Done()
		return nil
	}
	m.Start()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.Shutdown(shutdownCtx)
}

func (m *Mirror) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue schedules job without blocking; when the queue is full the job is
// dropped and logged, the local file keeps serving the record.
func (m *Mirror) Enqueue(job MirrorJob) bool {
	if m == nil || strings.TrimSpace(job.FilePath) == "" {
		return false
	}
	select {
	case <-m.ctx.Done():
		return false
	default:
	}
	select {
	case m.queue <- job:
		return true
	default:
		m.logger.Warn("mirror queue full, skipping", "record_id", job.RecordID, "file", job.FilePath)
		return false
	}
}

func (m *Mirror) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case job := <-m.queue:
			if !m.beginWork(job.FilePath) {
				continue
			}
			m.process(job)
			m.finishWork(job.FilePath)
		}
	}
}

func (m *Mirror) beginWork(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.inFlight[path]; exists {
		return false
	}
	m.inFlight[path] = struct{}{}
	return true
}

func (m *Mirror) finishWork(path string) {
	m.mu.Lock()
	delete(m.inFlight, path)
	m.mu.Unlock()
}

func (m *Mirror) process(job MirrorJob) {
	defer logging.Recover(m.logger, "mirror upload")

	ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
	defer cancel()
	location, err := m.upload(ctx, job)
	if err != nil {
		if errors.Is(err, context.Canceled) && m.ctx.Err() != nil {
			return
		}
		m.metrics.ObserveMirror(false)
		m.logger.Error("failed to mirror upload", "record_id", job.RecordID, "file", job.FilePath, "error", err)
		return
	}
	m.metrics.ObserveMirror(true)

	if m.records != nil && job.RecordID != "" {
		if err := m.records.SetMediaRemoteURL(job.Kind, job.RecordID, location); err != nil {
			m.logger.Warn("mirrored record no longer exists", "record_id", job.RecordID, "error", err)
			return
		}
	}
	m.logger.Info("upload mirrored", "record_id", job.RecordID, "location", location)
}

func (m *Mirror) upload(ctx context.Context, job MirrorJob) (string, error) {
	file, err := os.Open(job.FilePath)
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat upload: %w", err)
	}
	name := filepath.Base(job.FilePath)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return m.store.Put(ctx, objectstore.ObjectKey(m.prefix, name), file, info.Size(), contentType)
}
