// Package media reassembles chunked uploads into files under the upload
// directory and mirrors finished files to object storage.
package media

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"blogane-live/internal/observability/logging"
	"blogane-live/internal/observability/metrics"
	"github.com/google/uuid"
)

// DefaultMaxBufferedBytes caps out-of-order chunk data held per upload.
const DefaultMaxBufferedBytes = 32 << 20

// URLPrefix is where finished uploads are served from.
const URLPrefix = "/uploads/"

const maxExtensionLength = 10

var (
	// ErrUnknownUpload is returned for tokens that were never started or have
	// already ended or been released.
	ErrUnknownUpload = errors.New("unknown upload token")
	// ErrBufferFull is returned when an out-of-order chunk would exceed the
	// per-upload reorder buffer.
	ErrBufferFull = errors.New("upload reorder buffer full")
	// ErrIncomplete is returned by End when chunks are missing.
	ErrIncomplete = errors.New("upload incomplete")
)

type Config struct {
	Dir              string
	MaxBufferedBytes int
	Logger           *slog.Logger
	Metrics          *metrics.Recorder
	Now              func() time.Time
}

// Pipeline tracks in-progress uploads. Each upload has its own lock so one
// session's chunks never wait on another's.
type Pipeline struct {
	dir         string
	maxBuffered int
	logger      *slog.Logger
	metrics     *metrics.Recorder
	now         func() time.Time

	mu      sync.Mutex
	uploads map[string]*upload
}

type upload struct {
	mu           sync.Mutex
	token        string
	owner        string
	path         string
	file         *os.File
	next         int64
	pending      map[int64][]byte
	buffered     int
	written      int64
	failedWrites int
}

// EndParams carries the optional completion metadata sent by the client.
type EndParams struct {
	// TotalChunks, when positive, must match the number of chunks applied.
	TotalChunks int64
}

// Result describes a finished upload.
type Result struct {
	Token        string
	Owner        string
	Path         string
	FilePath     string
	Size         int64
	Chunks       int64
	FailedWrites int
}

func NewPipeline(cfg Config) (*Pipeline, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	p := &Pipeline{
		dir:         dir,
		maxBuffered: cfg.MaxBufferedBytes,
		logger:      logging.WithComponent(cfg.Logger, "media"),
		metrics:     cfg.Metrics,
		now:         cfg.Now,
		uploads:     make(map[string]*upload),
	}
	if p.maxBuffered <= 0 {
		p.maxBuffered = DefaultMaxBufferedBytes
	}
	if p.metrics == nil {
		p.metrics = metrics.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Dir returns the directory finished uploads live in.
func (p *Pipeline) Dir() string {
	return p.dir
}

// Start creates an empty file with a collision free name and registers the
// upload under that name, which doubles as its token.
func (p *Pipeline) Start(owner, originalName string) (string, error) {
	token := p.filename(originalName)
	path := filepath.Join(p.dir, token)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		p.metrics.ObserveUpload("start_error")
		return "", fmt.Errorf("create upload file: %w", err)
	}

	p.mu.Lock()
	p.uploads[token] = &upload{
		token:   token,
		owner:   normalizeOwner(owner),
		path:    path,
		file:    file,
		pending: make(map[int64][]byte),
	}
	p.mu.Unlock()

	p.metrics.ObserveUpload("start")
	p.logger.Debug("upload started", "token", token, "owner", owner)
	return token, nil
}

func (p *Pipeline) filename(originalName string) string {
	return fmt.Sprintf("%d-%s%s", p.now().UnixMilli(), uuid.NewString()[:8], sanitizeExtension(originalName))
}

// sanitizeExtension keeps a short lower-case [a-z0-9] extension of name.
func sanitizeExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
	var b strings.Builder
	for _, r := range strings.TrimPrefix(ext, ".") {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" {
		return ""
	}
	clean = "." + clean
	if len(clean) > maxExtensionLength {
		clean = clean[:maxExtensionLength]
	}
	return clean
}

// lookup returns the upload only to the owner that started it.
func (p *Pipeline) lookup(owner, token string) (*upload, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.uploads[token]
	if !ok || u.owner != normalizeOwner(owner) {
		return nil, false
	}
	return u, true
}

func normalizeOwner(owner string) string {
	return strings.ToLower(strings.TrimSpace(owner))
}

// Chunk applies data to the upload. Without seq chunks are appended in arrival
// order. With seq they are applied in sequence order from 0; early chunks wait
// in a bounded buffer and already applied sequence numbers are ignored.
// Failed writes are logged and counted on the upload without aborting it.
func (p *Pipeline) Chunk(owner, token string, seq *int64, data []byte) error {
	u, ok := p.lookup(owner, token)
	if !ok {
		return ErrUnknownUpload
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.file == nil {
		return ErrUnknownUpload
	}

	if seq == nil {
		p.apply(u, data)
		return nil
	}
	switch {
	case *seq < u.next:
		return nil
	case *seq > u.next:
		if _, dup := u.pending[*seq]; dup {
			return nil
		}
		if u.buffered+len(data) > p.maxBuffered {
			return ErrBufferFull
		}
		u.pending[*seq] = append([]byte(nil), data...)
		u.buffered += len(data)
		return nil
	}

	p.apply(u, data)
	for {
		buffered, ok := u.pending[u.next]
		if !ok {
			break
		}
		delete(u.pending, u.next)
		u.buffered -= len(buffered)
		p.apply(u, buffered)
	}
	return nil
}

func (p *Pipeline) apply(u *upload, data []byte) {
	u.next++
	n, err := u.file.Write(data)
	u.written += int64(n)
	p.metrics.AddUploadBytes(n)
	if err != nil {
		u.failedWrites++
		p.metrics.ObserveUpload("write_error")
		p.logger.Error("failed to append upload chunk", "token", u.token, "chunk", u.next-1, "error", err)
	}
}

// End closes the upload's file and forgets its state. Missing chunks or a
// TotalChunks mismatch yield ErrIncomplete; the file is kept on disk either way.
// Only the owner that started the upload can end it.
func (p *Pipeline) End(owner, token string, params EndParams) (Result, error) {
	p.mu.Lock()
	u, ok := p.uploads[token]
	if !ok || u.owner != normalizeOwner(owner) {
		p.mu.Unlock()
		return Result{}, ErrUnknownUpload
	}
	delete(p.uploads, token)
	p.mu.Unlock()

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.file == nil {
		return Result{}, ErrUnknownUpload
	}
	closeErr := u.file.Close()
	u.file = nil

	result := Result{
		Token:        u.token,
		Owner:        u.owner,
		Path:         URLPrefix + u.token,
		FilePath:     u.path,
		Size:         u.written,
		Chunks:       u.next,
		FailedWrites: u.failedWrites,
	}
	if info, err := os.Stat(u.path); err == nil {
		result.Size = info.Size()
	}

	switch {
	case closeErr != nil:
		p.metrics.ObserveUpload("failed")
		return result, fmt.Errorf("close upload file: %w", closeErr)
	case len(u.pending) > 0:
		p.metrics.ObserveUpload("failed")
		return result, fmt.Errorf("%w: %d chunk(s) waiting on sequence %d", ErrIncomplete, len(u.pending), u.next)
	case params.TotalChunks > 0 && params.TotalChunks != u.next:
		p.metrics.ObserveUpload("failed")
		return result, fmt.Errorf("%w: received %d of %d chunks", ErrIncomplete, u.next, params.TotalChunks)
	}
	p.metrics.ObserveUpload("complete")
	return result, nil
}

// ReleaseOwner drops every upload started by owner. Partial files stay on disk.
func (p *Pipeline) ReleaseOwner(owner string) int {
	owner = normalizeOwner(owner)
	p.mu.Lock()
	var released []*upload
	for token, u := range p.uploads {
		if u.owner == owner {
			released = append(released, u)
			delete(p.uploads, token)
		}
	}
	p.mu.Unlock()

	for _, u := range released {
		u.mu.Lock()
		if u.file != nil {
			_ = u.file.Close()
			u.file = nil
		}
		u.mu.Unlock()
		p.metrics.ObserveUpload("released")
	}
	return len(released)
}

// Active reports the number of uploads in progress.
func (p *Pipeline) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.uploads)
}
