package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver snapshots settled markets to long-term storage.
type Archiver interface {
	// ArchiveResolved archives every market resolved strictly before the
	// cutoff, together with its bets, and returns the number of markets
	// archived.
	ArchiveResolved(ctx context.Context, before time.Time) (int64, error)
}
