package objectstore

import (
	"context"
	"testing"
)

func TestObjectKey(t *testing.T) {
	cases := []struct {
		prefix, name, want string
	}{
		{"", "a.mp4", "a.mp4"},
		{"media", "/a.mp4", "media/a.mp4"},
		{"/media/reels/", "a.mp4", "media/reels/a.mp4"},
	}
	for _, tc := range cases {
		if got := ObjectKey(tc.prefix, tc.name); got != tc.want {
			t.Fatalf("ObjectKey(%q, %q) = %q, want %q", tc.prefix, tc.name, got, tc.want)
		}
	}
}

func TestPublicLocation(t *testing.T) {
	if got := publicLocation("https://cdn.example.com/", "media/a.mp4"); got != "https://cdn.example.com/media/a.mp4" {
		t.Fatalf("unexpected location %q", got)
	}
	if got := publicLocation("", "media/a.mp4"); got != "media/a.mp4" {
		t.Fatalf("expected bare key without base url, got %q", got)
	}
}

func TestNewSelectsDriver(t *testing.T) {
	store, err := New(context.Background(), Config{Driver: "none"})
	if err != nil || store != nil {
		t.Fatalf("expected disabled store, got %v err=%v", store, err)
	}
	if _, err := New(context.Background(), Config{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
	if _, err := New(context.Background(), Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected s3 without bucket to fail")
	}
	if _, err := New(context.Background(), Config{Driver: DriverMinio, Bucket: "media"}); err == nil {
		t.Fatalf("expected minio without endpoint to fail")
	}
}

func TestNewS3StoreWithEndpoint(t *testing.T) {
	store, err := NewS3Store(context.Background(), Config{
		Bucket:        "media",
		Endpoint:      "http://127.0.0.1:9000",
		AccessKey:     "key",
		SecretKey:     "secret",
		PublicBaseURL: "https://cdn.example.com",
	})
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	if store.bucket != "media" || store.uploader.PartSize != s3PartSize {
		t.Fatalf("unexpected store configuration")
	}
}
