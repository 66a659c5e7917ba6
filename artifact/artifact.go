// ABOUTME: Artifact storage boundary for generated images, videos, and reports.
// ABOUTME: A Store persists bytes under a key and returns a stable reference for state and reports.
package artifact

import "context"

// Store persists pipeline artifacts. Put returns a reference usable in state
// and reports: a file path for the FS store, a URL for object storage.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (ref string, err error)
	// Get retrieves an artifact's bytes by the key it was stored under.
	Get(ctx context.Context, key string) ([]byte, error)
}
