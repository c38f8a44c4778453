// Package blobstore abstracts where published dictionary artifacts live.
// The trainer publishes each new dictionary and manifest through a Store so
// replicas and offline tooling can fetch them without touching the primary's
// filesystem.
package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// errors.Is(err, ErrNotFound). The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// Store is a flat namespace of small immutable blobs. Artifacts are
// dictionary bytes and manifest texts, at most a few MiB each, so blobs are
// handled as whole byte slices.
type Store interface {
	// Put writes a blob atomically; an existing blob of the same name is
	// replaced.
	Put(ctx context.Context, name string, data []byte) error
	// Open reads a blob in full.
	Open(ctx context.Context, name string) ([]byte, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the names of blobs with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
