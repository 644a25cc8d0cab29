package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rl1809/site-ledger/internal/core/domain"
	"github.com/rl1809/site-ledger/internal/port"
)

func seedItem(t *testing.T, m *MemoryAdapter, id string, delivered int) domain.InventoryItem {
	t.Helper()
	now := time.Now()
	item := domain.InventoryItem{
		ID:                id,
		Kind:              domain.ItemKindProduct,
		DeliveredQuantity: delivered,
		AvailableQuantity: delivered,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := m.CreateItem(context.Background(), item, nil); err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}
	return item
}

func TestMemoryAdapter_VersionConflict(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	seedItem(t, m, "item-1", 10)

	first, _ := m.GetItem(ctx, "item-1")
	second, _ := m.GetItem(ctx, "item-1")

	first.AvailableQuantity = 8
	if err := m.UpdateItemQuantities(ctx, *first, nil); err != nil {
		t.Fatalf("first write failed: %v", err)
	}

	// The second reader still holds the old version.
	second.AvailableQuantity = 5
	if err := m.UpdateItemQuantities(ctx, *second, nil); !errors.Is(err, port.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale version, got: %v", err)
	}

	current, _ := m.GetItem(ctx, "item-1")
	if current.AvailableQuantity != 8 {
		t.Errorf("stale write must not apply, available=%d", current.AvailableQuantity)
	}
	if current.Version != 1 {
		t.Errorf("expected version 1 after one write, got %d", current.Version)
	}
}

func TestMemoryAdapter_LocationSurvivesQuantityWrite(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	seedItem(t, m, "item-1", 10)

	// Quantity write staged from a read taken before the move.
	snapshot, _ := m.GetItem(ctx, "item-1")

	if err := m.UpdateItemLocation(ctx, "item-1", "loc-new"); err != nil {
		t.Fatalf("UpdateItemLocation failed: %v", err)
	}

	snapshot.AvailableQuantity = 6
	if err := m.UpdateItemQuantities(ctx, *snapshot, nil); err != nil {
		t.Fatalf("UpdateItemQuantities failed: %v", err)
	}

	current, _ := m.GetItem(ctx, "item-1")
	if current.LocationID != "loc-new" {
		t.Errorf("quantity write must not revert a committed location move, got %q", current.LocationID)
	}
	if current.AvailableQuantity != 6 {
		t.Errorf("expected available 6, got %d", current.AvailableQuantity)
	}
}

func TestMemoryAdapter_GetItemNotFound(t *testing.T) {
	m := NewMemoryAdapter()
	if _, err := m.GetItem(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
	if _, err := m.GetAssignment(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestMemoryAdapter_OpenAllocationTotal(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	item := seedItem(t, m, "item-1", 30)

	now := time.Now()
	assignments := []domain.ProjectItemAssignment{
		{ID: "a-1", ItemID: item.ID, ProjectDayID: "day-1", AllocatedQuantity: 10,
			Status: domain.AssignmentStatusAllocated, CreatedAt: now, UpdatedAt: now},
		{ID: "a-2", ItemID: item.ID, ProjectDayID: "day-2", AllocatedQuantity: 5,
			Status: domain.AssignmentStatusAllocated, CreatedAt: now, UpdatedAt: now},
	}
	stored, _ := m.GetItem(ctx, item.ID)
	stored.AvailableQuantity = 15
	if err := m.CreateAssignments(ctx, *stored, assignments, nil); err != nil {
		t.Fatalf("CreateAssignments failed: %v", err)
	}

	open, _ := m.OpenAllocationTotal(ctx, item.ID)
	if open != 15 {
		t.Errorf("expected 15 open, got %d", open)
	}

	// Partially account one assignment, close the other.
	a1, _ := m.GetAssignment(ctx, "a-1")
	a1.ReturnedQuantity = 4
	a2, _ := m.GetAssignment(ctx, "a-2")
	a2.ReturnedQuantity = 5
	a2.Status = domain.AssignmentStatusReturned

	stored, _ = m.GetItem(ctx, item.ID)
	if err := m.UpdateAssignment(ctx, *a1, *stored, nil); err != nil {
		t.Fatalf("UpdateAssignment failed: %v", err)
	}
	stored, _ = m.GetItem(ctx, item.ID)
	if err := m.UpdateAssignment(ctx, *a2, *stored, nil); err != nil {
		t.Fatalf("UpdateAssignment failed: %v", err)
	}

	open, _ = m.OpenAllocationTotal(ctx, item.ID)
	if open != 6 { // 10 − 4 remaining on a-1, a-2 closed
		t.Errorf("expected 6 open, got %d", open)
	}
}

func TestMemoryAdapter_UpdateAssignmentConflict(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	item := seedItem(t, m, "item-1", 10)

	now := time.Now()
	assignment := domain.ProjectItemAssignment{
		ID: "a-1", ItemID: item.ID, ProjectDayID: "day-1", AllocatedQuantity: 3,
		Status: domain.AssignmentStatusAllocated, CreatedAt: now, UpdatedAt: now,
	}
	stored, _ := m.GetItem(ctx, item.ID)
	if err := m.CreateAssignments(ctx, *stored, []domain.ProjectItemAssignment{assignment}, nil); err != nil {
		t.Fatalf("CreateAssignments failed: %v", err)
	}

	first, _ := m.GetAssignment(ctx, "a-1")
	stale, _ := m.GetAssignment(ctx, "a-1")

	first.ReturnedQuantity = 1
	current, _ := m.GetItem(ctx, item.ID)
	if err := m.UpdateAssignment(ctx, *first, *current, nil); err != nil {
		t.Fatalf("UpdateAssignment failed: %v", err)
	}

	stale.ReturnedQuantity = 2
	current, _ = m.GetItem(ctx, item.ID)
	if err := m.UpdateAssignment(ctx, *stale, *current, nil); !errors.Is(err, port.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale assignment, got: %v", err)
	}
}

func TestMemoryAdapter_EventFiltering(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	now := time.Now()

	events := []domain.LedgerEvent{
		{ID: "e-1", ItemID: "item-1", Kind: domain.EventDeliveredUpdate, QuantityDelta: 10, Actor: "a", CreatedAt: now},
		{ID: "e-2", ItemID: "item-1", AssignmentID: "a-1", Kind: domain.EventAllocate, QuantityDelta: -3, Actor: "a", CreatedAt: now},
		{ID: "e-3", ItemID: "item-2", Kind: domain.EventLoss, QuantityDelta: -1, Actor: "b", CreatedAt: now},
	}
	for _, e := range events {
		if err := m.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	byItem, _ := m.ListByItem(ctx, "item-1")
	if len(byItem) != 2 {
		t.Fatalf("expected 2 events for item-1, got %d", len(byItem))
	}
	if byItem[0].ID != "e-1" || byItem[1].ID != "e-2" {
		t.Error("events must come back in append order")
	}

	byAssignment, _ := m.ListByAssignment(ctx, "a-1")
	if len(byAssignment) != 1 || byAssignment[0].ID != "e-2" {
		t.Fatalf("expected only e-2 for assignment a-1, got %d events", len(byAssignment))
	}

	empty, _ := m.ListByItem(ctx, "item-3")
	if len(empty) != 0 {
		t.Errorf("expected no events for unknown item, got %d", len(empty))
	}
}
