// Package storage publishes rendered outputs and returns their URLs.
package storage

import (
	"context"
	"io"
)

// Storage is a byte sink that returns a URL for what it stored.
type Storage interface {
	Upload(ctx context.Context, r io.Reader, key, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}
