// Package objstore defines the ObjectStore capability the core consumes
// (spec.md §1: "Object store choice... is deliberately out of scope. The
// core consumes an ObjectStore capability") and ships three
// implementations: an in-memory one for tests, a local-filesystem one, and
// an S3 one adapted from the teacher's cloud/aws package.
package objstore

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned by Get/Stat when the key doesn't exist.
var ErrNotFound = errors.New("objstore: object not found")

// ObjectStore is the storage capability SST objects (and manifest
// snapshots, when the manifest backend delegates to one) are written
// through. Keys are slash-separated paths, e.g.
// "sst/<space>/<table>/<file_id>" per spec.md §6.3.
type ObjectStore interface {
	// Put writes the full contents of r under key, replacing any existing
	// object (SST objects are content-addressed by file_id and are never
	// rewritten in practice, but Put itself does not enforce that).
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	// Get opens key for reading. Callers must Close the returned
	// io.ReadCloser.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes key. Deleting a missing key is not an error, matching
	// the purger's "best effort, idempotent" contract (spec.md §4.2).
	Delete(ctx context.Context, key string) error
	// List returns every key with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Stat returns the size in bytes of the object at key.
	Stat(ctx context.Context, key string) (int64, error)
}
