package source

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a failed source listing or download. The syncer treats
// it as a sync-wide abort: the stored knowledge base stays untouched.
var ErrUnavailable = errors.New("source unavailable")

// FileMeta is one file as reported by the external store. It is rebuilt fresh
// on every sync pass and is never persisted beyond the reconciliation diff.
type FileMeta struct {
	ResourceID string
	Path       string
	Type       string
	Modified   time.Time
	MD5        string
	Size       int64
}

// Connector is the boundary to the external file store.
type Connector interface {
	// List walks the rooted namespace recursively and returns every file.
	List(ctx context.Context, path string) ([]FileMeta, error)

	// Download fetches the raw bytes of one file by its listed path.
	Download(ctx context.Context, path string) ([]byte, error)
}
