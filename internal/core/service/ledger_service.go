package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/site-ledger/internal/core/domain"
	"github.com/rl1809/site-ledger/internal/port"
	"github.com/rl1809/site-ledger/pkg/logger"
)

// Issue kinds accepted by ReportIssue.
const (
	IssueDamage = "damage"
	IssueLoss   = "loss"
)

// LedgerService owns the item quantity fields. Every mutation recomputes
// the available quantity through this single path; callers never write it.
type LedgerService struct {
	repo      port.LedgerRepository
	cache     port.CacheRepository
	identity  port.Identity
	fanout    *EventFanout
	log       *logger.Logger
	threshold int
}

func NewLedgerService(repo port.LedgerRepository, cache port.CacheRepository, identity port.Identity, fanout *EventFanout, log *logger.Logger, lowStockThreshold int) *LedgerService {
	if lowStockThreshold <= 0 {
		lowStockThreshold = domain.DefaultLowStockThreshold
	}
	return &LedgerService{
		repo:      repo,
		cache:     cache,
		identity:  identity,
		fanout:    fanout,
		log:       log,
		threshold: lowStockThreshold,
	}
}

// ItemState is the read model served to the UI layer.
type ItemState struct {
	ItemID     string             `json:"item_id"`
	Kind       domain.ItemKind    `json:"kind"`
	Delivered  int                `json:"delivered"`
	Available  int                `json:"available"`
	Damaged    int                `json:"damaged"`
	Lost       int                `json:"lost"`
	LocationID string             `json:"location_id,omitempty"`
	Status     domain.StockStatus `json:"status"`
}

// CreateItem registers a new item, optionally with an initial delivered
// count. The initial delivery is recorded as a delivered_update event.
func (s *LedgerService) CreateItem(ctx context.Context, kind domain.ItemKind, initialDelivered int, locationID string) (*domain.InventoryItem, error) {
	if initialDelivered < 0 {
		return nil, fmt.Errorf("initial delivered %d: %w", initialDelivered, domain.ErrInvalidQuantity)
	}
	if kind != domain.ItemKindProduct && kind != domain.ItemKindMaterial {
		return nil, fmt.Errorf("item kind %q: %w", kind, domain.ErrInvalidQuantity)
	}

	now := time.Now()
	item := domain.InventoryItem{
		ID:                uuid.NewString(),
		Kind:              kind,
		DeliveredQuantity: initialDelivered,
		AvailableQuantity: initialDelivered,
		LocationID:        locationID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	var events []domain.LedgerEvent
	if initialDelivered > 0 {
		events = append(events, newEvent(s.identity.CurrentActor(ctx), domain.EventDeliveredUpdate,
			item.ID, "", initialDelivered, fmt.Sprintf("item created with %d delivered", initialDelivered)))
	}

	if err := s.repo.CreateItem(ctx, item, events); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}

	refreshAvailable(ctx, s.cache, s.log, item.ID, item.AvailableQuantity)
	s.fanout.Publish(events...)
	return &item, nil
}

// UpdateDelivered sets a new delivered total and recomputes availability
// as delivered − damaged − lost − open allocations. It fails without
// mutation if the recomputed availability would go negative.
func (s *LedgerService) UpdateDelivered(ctx context.Context, itemID string, newDelivered int) (*domain.InventoryItem, error) {
	if newDelivered < 0 {
		return nil, fmt.Errorf("delivered quantity %d: %w", newDelivered, domain.ErrInvalidQuantity)
	}

	var updated *domain.InventoryItem
	err := withRetry(ctx, func() error {
		item, err := s.repo.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		open, err := s.repo.OpenAllocationTotal(ctx, itemID)
		if err != nil {
			return err
		}

		available := newDelivered - item.DamagedQuantity - item.LostQuantity - open
		if available < 0 {
			return fmt.Errorf("delivered %d cannot cover %d damaged, %d lost, %d allocated: %w",
				newDelivered, item.DamagedQuantity, item.LostQuantity, open, domain.ErrInvalidQuantity)
		}

		delta := newDelivered - item.DeliveredQuantity
		item.DeliveredQuantity = newDelivered
		item.AvailableQuantity = available
		item.UpdatedAt = time.Now()

		event := newEvent(s.identity.CurrentActor(ctx), domain.EventDeliveredUpdate,
			item.ID, "", delta, fmt.Sprintf("delivered quantity set to %d", newDelivered))

		if err := s.repo.UpdateItemQuantities(ctx, *item, []domain.LedgerEvent{event}); err != nil {
			return err
		}

		updated = item
		refreshAvailable(ctx, s.cache, s.log, item.ID, available)
		s.fanout.Publish(event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ReportIssue records item-level damage or loss against units that are in
// stock, i.e. not out on an assignment.
func (s *LedgerService) ReportIssue(ctx context.Context, itemID, issueKind string, quantity int, description string) (*domain.InventoryItem, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("issue quantity %d: %w", quantity, domain.ErrInvalidQuantity)
	}

	var eventKind domain.EventKind
	switch issueKind {
	case IssueDamage:
		eventKind = domain.EventDamage
	case IssueLoss:
		eventKind = domain.EventLoss
	default:
		return nil, fmt.Errorf("issue kind %q: %w", issueKind, domain.ErrInvalidQuantity)
	}

	var updated *domain.InventoryItem
	err := withRetry(ctx, func() error {
		item, err := s.repo.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if quantity > item.AvailableQuantity {
			return fmt.Errorf("%s of %d exceeds %d available: %w",
				issueKind, quantity, item.AvailableQuantity, domain.ErrInsufficientAvailable)
		}

		if eventKind == domain.EventDamage {
			item.DamagedQuantity += quantity
		} else {
			item.LostQuantity += quantity
		}
		item.AvailableQuantity -= quantity
		item.UpdatedAt = time.Now()

		if description == "" {
			description = fmt.Sprintf("%d units reported as %s", quantity, issueKind)
		}
		event := newEvent(s.identity.CurrentActor(ctx), eventKind, item.ID, "", -quantity, description)

		if err := s.repo.UpdateItemQuantities(ctx, *item, []domain.LedgerEvent{event}); err != nil {
			return err
		}

		updated = item
		refreshAvailable(ctx, s.cache, s.log, item.ID, item.AvailableQuantity)
		s.fanout.Publish(event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// State serves the item read model. Availability is answered from the
// read-through cache when warm; the authoritative value backfills a miss.
func (s *LedgerService) State(ctx context.Context, itemID string) (*ItemState, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	available := item.AvailableQuantity
	cached, ok, err := s.cache.GetAvailable(ctx, itemID)
	switch {
	case err != nil:
		s.log.Warn("availability cache read failed", "item_id", itemID, "error", err)
	case ok:
		available = cached
	default:
		refreshAvailable(ctx, s.cache, s.log, itemID, available)
	}

	view := *item
	view.AvailableQuantity = available
	return &ItemState{
		ItemID:     item.ID,
		Kind:       item.Kind,
		Delivered:  item.DeliveredQuantity,
		Available:  available,
		Damaged:    item.DamagedQuantity,
		Lost:       item.LostQuantity,
		LocationID: item.LocationID,
		Status:     view.Status(s.threshold),
	}, nil
}
