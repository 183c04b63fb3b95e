// Package archive keeps the uploaded answer images next to their grades.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for an unknown key.
var ErrNotFound = errors.New("archived image not found")

// Store saves and loads answer images by key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Config selects and configures a Store.
type Config struct {
	Kind string // fs, minio or none
	Dir  string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioSecure    bool
}

// New builds the Store named by cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Kind {
	case "", "none":
		return Discard{}, nil
	case "fs":
		return NewFS(cfg.Dir)
	case "minio":
		return NewMinio(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown archive kind %q", cfg.Kind)
	}
}

// NewKey returns a unique key for an image uploaded to a session, keeping the
// file extension.
func NewKey(sessionID int64, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if len(ext) > 8 {
		ext = ""
	}
	return path.Join("sessions", fmt.Sprint(sessionID), uuid.NewString()+ext)
}

// Discard drops images. Used when archiving is disabled.
type Discard struct{}

func (Discard) Put(_ context.Context, _ string, r io.Reader, _ int64, _ string) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	return "", nil
}

func (Discard) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, ErrNotFound
}
