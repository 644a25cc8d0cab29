package port

import (
	"context"
	"errors"

	"github.com/rl1809/site-ledger/internal/core/domain"
)

// ErrConflict signals a lost optimistic-lock race; the caller re-reads and
// retries the whole read-validate-write cycle.
var ErrConflict = errors.New("optimistic lock conflict")

// LedgerRepository is the authoritative store for items and assignments.
// Every mutating method runs as a single transaction: the version-checked
// row updates and the ledger events either all commit or none do, so a
// failed mutation never leaves a partial write or a stray event.
type LedgerRepository interface {
	// CreateItem persists a new item together with its creation events.
	CreateItem(ctx context.Context, item domain.InventoryItem, events []domain.LedgerEvent) error

	// GetItem retrieves an item by id, or domain.ErrNotFound.
	GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error)

	// UpdateItemQuantities applies new quantity counters with a version
	// check, appending the given events in the same transaction.
	UpdateItemQuantities(ctx context.Context, item domain.InventoryItem, events []domain.LedgerEvent) error

	// UpdateItemLocation rewrites the item's resident location. Pure
	// metadata; quantity fields and version are untouched.
	UpdateItemLocation(ctx context.Context, itemID, locationID string) error

	// OpenAllocationTotal sums allocated−damaged−lost−returned over the
	// item's open assignments.
	OpenAllocationTotal(ctx context.Context, itemID string) (int, error)

	// GetAssignment retrieves an assignment by id, or domain.ErrNotFound.
	GetAssignment(ctx context.Context, assignmentID string) (*domain.ProjectItemAssignment, error)

	// CreateAssignments inserts a batch of assignments and applies the
	// item's availability decrement in one all-or-nothing transaction.
	CreateAssignments(ctx context.Context, item domain.InventoryItem, assignments []domain.ProjectItemAssignment, events []domain.LedgerEvent) error

	// UpdateAssignment applies new assignment counters and the matching
	// item quantity credit in one transaction, both version-checked.
	UpdateAssignment(ctx context.Context, assignment domain.ProjectItemAssignment, item domain.InventoryItem, events []domain.LedgerEvent) error
}

// EventRepository reads the append-only ledger event log, oldest first.
type EventRepository interface {
	// Append records a single event outside of any item transaction. Used
	// by mutations that do not touch quantity rows (location moves).
	Append(ctx context.Context, event domain.LedgerEvent) error

	ListByItem(ctx context.Context, itemID string) ([]domain.LedgerEvent, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]domain.LedgerEvent, error)
}
