package service

import (
	"context"
	"fmt"

	"github.com/rl1809/site-ledger/internal/core/domain"
	"github.com/rl1809/site-ledger/internal/port"
	"github.com/rl1809/site-ledger/pkg/logger"
)

// TransferService moves an item's resident location. Pure metadata: the
// quantity ledger is never touched, and the move is logged independently
// of any item transaction.
type TransferService struct {
	repo      port.LedgerRepository
	events    port.EventRepository
	locations port.LocationDirectory
	identity  port.Identity
	fanout    *EventFanout
	log       *logger.Logger
}

func NewTransferService(repo port.LedgerRepository, events port.EventRepository, locations port.LocationDirectory, identity port.Identity, fanout *EventFanout, log *logger.Logger) *TransferService {
	return &TransferService{
		repo:      repo,
		events:    events,
		locations: locations,
		identity:  identity,
		fanout:    fanout,
		log:       log,
	}
}

// MoveLocation reassigns the item to a location resolved through the
// external directory. No quantity check is performed.
func (s *TransferService) MoveLocation(ctx context.Context, itemID, newLocationID string) error {
	location, err := s.locations.ResolveLocation(ctx, newLocationID)
	if err != nil {
		return fmt.Errorf("resolve location %s: %w", newLocationID, err)
	}

	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return err
	}

	if err := s.repo.UpdateItemLocation(ctx, item.ID, location.ID); err != nil {
		return fmt.Errorf("move item %s: %w", itemID, err)
	}

	event := newEvent(s.identity.CurrentActor(ctx), domain.EventLocationMove,
		item.ID, "", 0, fmt.Sprintf("moved to %s", location.Name))
	if err := s.events.Append(ctx, event); err != nil {
		s.log.Error("location move committed but event append failed",
			"item_id", itemID, "location_id", location.ID, "error", err)
		return fmt.Errorf("record location move: %w", err)
	}

	s.fanout.Publish(event)
	return nil
}
