package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Persister is the durable backend the Storage snapshot is written to. The
// store always hands over a complete document; implementations decide how to
// keep it.
type Persister interface {
	// Load returns the last stored document or ErrNoSnapshot.
	Load(ctx context.Context) ([]byte, error)
	Store(ctx context.Context, document []byte) error
	// Quarantine moves an unreadable document aside so it is not overwritten.
	Quarantine(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// FilePersister keeps the snapshot as a single JSON file replaced atomically
// on every write.
type FilePersister struct {
	path string
	now  func() time.Time
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path, now: time.Now}
}

// Path returns the location of the snapshot file.
func (p *FilePersister) Path() string {
	return p.path
}

func (p *FilePersister) Load(_ context.Context) ([]byte, error) {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	document, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	} else if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}
	if len(bytes.TrimSpace(document)) == 0 {
		return nil, ErrNoSnapshot
	}
	return document, nil
}

func (p *FilePersister) Store(_ context.Context, document []byte) error {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(document); err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func (p *FilePersister) Quarantine(_ context.Context) error {
	target := fmt.Sprintf("%s.corrupt-%d", p.path, p.now().Unix())
	if err := os.Rename(p.path, target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("quarantine store file: %w", err)
	}
	return nil
}

func (p *FilePersister) Ping(_ context.Context) error {
	info, err := os.Stat(filepath.Dir(p.path))
	if err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data path %s is not a directory", filepath.Dir(p.path))
	}
	return nil
}

func (p *FilePersister) Close() error {
	return nil
}
