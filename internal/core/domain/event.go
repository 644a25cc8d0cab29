package domain

import "time"

type EventKind string

const (
	EventDeliveredUpdate EventKind = "delivered_update"
	EventAllocate        EventKind = "allocate"
	EventPartialReturn   EventKind = "partial_return"
	EventDamage          EventKind = "damage"
	EventLoss            EventKind = "loss"
	EventLocationMove    EventKind = "location_move"
)

// LedgerEvent is the append-only audit record of a single successful
// ledger-affecting operation. Events are never mutated or deleted.
type LedgerEvent struct {
	ID            string
	ItemID        string // empty for events not tied to an item
	AssignmentID  string // empty for item-level events
	Kind          EventKind
	QuantityDelta int
	Actor         string
	Description   string
	CreatedAt     time.Time
}
