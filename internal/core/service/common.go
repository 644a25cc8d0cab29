package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/site-ledger/internal/core/domain"
	"github.com/rl1809/site-ledger/internal/port"
	"github.com/rl1809/site-ledger/pkg/logger"
)

const (
	maxRetries   = 3
	retryBackoff = 25 * time.Millisecond
)

// withRetry re-runs a read-validate-write cycle while it loses
// optimistic-lock races. Any other error is returned as-is. Exhausted
// retries surface as storage unavailability, the one retryable kind.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
		err = fn()
		if !errors.Is(err, port.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("conflict retries exhausted: %w", domain.ErrStorageUnavailable)
}

func newEvent(actor string, kind domain.EventKind, itemID, assignmentID string, delta int, description string) domain.LedgerEvent {
	return domain.LedgerEvent{
		ID:            uuid.NewString(),
		ItemID:        itemID,
		AssignmentID:  assignmentID,
		Kind:          kind,
		QuantityDelta: delta,
		Actor:         actor,
		Description:   description,
		CreatedAt:     time.Now(),
	}
}

// refreshAvailable pushes the committed available quantity into the cache.
// The cache is not the system of record, so a failed refresh is logged and
// the stale entry dropped rather than failing the mutation.
func refreshAvailable(ctx context.Context, cache port.CacheRepository, log *logger.Logger, itemID string, available int) {
	if err := cache.SetAvailable(ctx, itemID, available); err != nil {
		log.Warn("failed to refresh availability cache", "item_id", itemID, "error", err)
		if err := cache.InvalidateAvailable(ctx, itemID); err != nil {
			log.Warn("failed to invalidate availability cache", "item_id", itemID, "error", err)
		}
	}
}
