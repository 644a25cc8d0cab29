package port

import "context"

// CacheRepository is a thin read-through cache in front of the authoritative
// store. It is never the system of record for quantities.
type CacheRepository interface {
	// GetAvailable returns the cached available quantity; ok is false on a miss.
	GetAvailable(ctx context.Context, itemID string) (available int, ok bool, err error)

	// SetAvailable refreshes the cached available quantity after a commit.
	SetAvailable(ctx context.Context, itemID string, available int) error

	// InvalidateAvailable drops the cached entry.
	InvalidateAvailable(ctx context.Context, itemID string) error

	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a key claimed by a request that committed nothing.
	ReleaseIdempotency(ctx context.Context, key string) error
}
