// Package objectstore uploads finished media to S3 compatible storage.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Store puts an object and returns the location clients should use to fetch it.
type Store interface {
	Put(ctx context.Context, key string, r io.ReadSeeker, size int64, contentType string) (string, error)
}

// Drivers accepted by New.
const (
	DriverNone  = "none"
	DriverS3    = "s3"
	DriverMinio = "minio"
)

type Config struct {
	Driver    string `yaml:"driver"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	// PublicBaseURL prefixes object keys in returned locations. Without it the
	// bare key is returned.
	PublicBaseURL string `yaml:"publicBaseURL"`
	Prefix        string `yaml:"prefix"`
}

// New builds the Store selected by cfg.Driver. The none driver returns a nil
// Store and no error.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverNone:
		return nil, nil
	case DriverS3:
		return NewS3Store(ctx, cfg)
	case DriverMinio:
		return NewMinioStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported object storage driver %q", cfg.Driver)
	}
}

// ObjectKey joins prefix and name into a bucket key.
func ObjectKey(prefix, name string) string {
	name = strings.TrimLeft(name, "/")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func publicLocation(baseURL, key string) string {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return key
	}
	return baseURL + "/" + key
}
