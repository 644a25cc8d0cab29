package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/rl1809/site-ledger/internal/core/domain"
	"github.com/rl1809/site-ledger/internal/port"
)

// MemoryAdapter is an in-memory LedgerRepository and EventRepository with
// the same optimistic-locking semantics as the MySQL adapter. Used by unit
// tests and as a standalone backend for local development.
type MemoryAdapter struct {
	mu          sync.RWMutex
	items       map[string]domain.InventoryItem
	assignments map[string]domain.ProjectItemAssignment
	events      []domain.LedgerEvent
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		items:       make(map[string]domain.InventoryItem),
		assignments: make(map[string]domain.ProjectItemAssignment),
	}
}

func (m *MemoryAdapter) CreateItem(ctx context.Context, item domain.InventoryItem, events []domain.LedgerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[item.ID]; exists {
		return fmt.Errorf("item %s already exists", item.ID)
	}
	m.items[item.ID] = item
	m.events = append(m.events, events...)
	return nil
}

func (m *MemoryAdapter) GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[itemID]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
	}
	return &item, nil
}

func (m *MemoryAdapter) UpdateItemQuantities(ctx context.Context, item domain.InventoryItem, events []domain.LedgerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.storeItem(item); err != nil {
		return err
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *MemoryAdapter) UpdateItemLocation(ctx context.Context, itemID, locationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[itemID]
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
	}
	item.LocationID = locationID
	m.items[itemID] = item
	return nil
}

func (m *MemoryAdapter) OpenAllocationTotal(ctx context.Context, itemID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, a := range m.assignments {
		if a.ItemID == itemID && a.Open() {
			total += a.Remaining()
		}
	}
	return total, nil
}

func (m *MemoryAdapter) GetAssignment(ctx context.Context, assignmentID string) (*domain.ProjectItemAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	assignment, ok := m.assignments[assignmentID]
	if !ok {
		return nil, fmt.Errorf("assignment %s: %w", assignmentID, domain.ErrNotFound)
	}
	return &assignment, nil
}

func (m *MemoryAdapter) CreateAssignments(ctx context.Context, item domain.InventoryItem, assignments []domain.ProjectItemAssignment, events []domain.LedgerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.storeItem(item); err != nil {
		return err
	}
	for _, a := range assignments {
		m.assignments[a.ID] = a
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *MemoryAdapter) UpdateAssignment(ctx context.Context, assignment domain.ProjectItemAssignment, item domain.InventoryItem, events []domain.LedgerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.assignments[assignment.ID]
	if !ok {
		return fmt.Errorf("assignment %s: %w", assignment.ID, domain.ErrNotFound)
	}
	if stored.Version != assignment.Version {
		return port.ErrConflict
	}
	if err := m.storeItem(item); err != nil {
		return err
	}
	assignment.Version++
	m.assignments[assignment.ID] = assignment
	m.events = append(m.events, events...)
	return nil
}

func (m *MemoryAdapter) Append(ctx context.Context, event domain.LedgerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, event)
	return nil
}

func (m *MemoryAdapter) ListByItem(ctx context.Context, itemID string) ([]domain.LedgerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []domain.LedgerEvent
	for _, e := range m.events {
		if e.ItemID == itemID {
			events = append(events, e)
		}
	}
	return events, nil
}

func (m *MemoryAdapter) ListByAssignment(ctx context.Context, assignmentID string) ([]domain.LedgerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []domain.LedgerEvent
	for _, e := range m.events {
		if e.AssignmentID == assignmentID {
			events = append(events, e)
		}
	}
	return events, nil
}

// storeItem applies a version-checked quantity write. Only the quantity
// counters are written back, so a location move committed between the
// caller's read and this write survives. Callers hold the lock.
func (m *MemoryAdapter) storeItem(item domain.InventoryItem) error {
	stored, ok := m.items[item.ID]
	if !ok {
		return fmt.Errorf("item %s: %w", item.ID, domain.ErrNotFound)
	}
	if stored.Version != item.Version {
		return port.ErrConflict
	}
	stored.DeliveredQuantity = item.DeliveredQuantity
	stored.DamagedQuantity = item.DamagedQuantity
	stored.LostQuantity = item.LostQuantity
	stored.AvailableQuantity = item.AvailableQuantity
	stored.UpdatedAt = item.UpdatedAt
	stored.Version++
	m.items[item.ID] = stored
	return nil
}
