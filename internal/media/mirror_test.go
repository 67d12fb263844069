package media

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"blogane-live/internal/models"
	"blogane-live/internal/observability/metrics"
)

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (s *fakeObjectStore) Put(_ context.Context, key string, r io.ReadSeeker, _ int64, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.types[key] = contentType
	return "https://cdn.example.com/" + key, nil
}

type remoteURLs struct {
	mu   sync.Mutex
	urls map[string]string
	done chan struct{}
}

func (r *remoteURLs) SetMediaRemoteURL(_ models.MediaKind, id, remoteURL string) error {
	r.mu.Lock()
	r.urls[id] = remoteURL
	r.mu.Unlock()
	close(r.done)
	return nil
}

func TestNewMirrorDisabledWithoutStore(t *testing.T) {
	mirror := NewMirror(MirrorConfig{})
	if mirror != nil {
		t.Fatalf("expected nil mirror without object store")
	}
	if mirror.Enqueue(MirrorJob{FilePath: "x"}) {
		t.Fatalf("expected nil mirror to ignore jobs")
	}
	if err := mirror.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestMirrorUploadsAndRecordsLocation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1718000000000-ab12cd34.png")
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	store := &fakeObjectStore{objects: map[string][]byte{}, types: map[string]string{}}
	records := &remoteURLs{urls: map[string]string{}, done: make(chan struct{})}
	recorder := metrics.New()
	mirror := NewMirror(MirrorConfig{Store: store, Records: records, Prefix: "reels", Metrics: recorder})
	mirror.Start()
	t.Cleanup(func() { _ = mirror.Shutdown(context.Background()) })

	if !mirror.Enqueue(MirrorJob{Kind: models.MediaKindReel, RecordID: "r1", FilePath: path}) {
		t.Fatalf("expected job to be queued")
	}

	select {
	case <-records.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for mirror")
	}

	records.mu.Lock()
	location := records.urls["r1"]
	records.mu.Unlock()
	if location != "https://cdn.example.com/reels/1718000000000-ab12cd34.png" {
		t.Fatalf("unexpected location %q", location)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if string(store.objects["reels/1718000000000-ab12cd34.png"]) != "video" {
		t.Fatalf("expected file content to be uploaded")
	}
	if store.types["reels/1718000000000-ab12cd34.png"] != "image/png" {
		t.Fatalf("unexpected content type %q", store.types["reels/1718000000000-ab12cd34.png"])
	}
	if recorder.Counter("mirror", "ok") != 1 {
		t.Fatalf("expected mirror success to be counted")
	}
}
