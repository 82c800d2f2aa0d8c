// Package archive persists run artifacts (trade logs, equity curves,
// performance summaries) to a pluggable backend.
package archive

import "context"

// Storage is the artifact backend. Keys are slash-separated relative paths.
type Storage interface {
	// Write stores data at the given key, overwriting any previous value.
	Write(ctx context.Context, key string, data []byte) error

	// Read retrieves the data stored at the given key.
	Read(ctx context.Context, key string) ([]byte, error)

	// List returns all keys under the prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the data at the given key.
	Delete(ctx context.Context, key string) error

	// Exists reports whether data exists at the given key.
	Exists(ctx context.Context, key string) (bool, error)
}
