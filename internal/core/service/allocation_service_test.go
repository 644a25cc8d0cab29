package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rl1809/site-ledger/internal/adapter/storage"
	"github.com/rl1809/site-ledger/internal/core/domain"
)

type mockProjects struct {
	days map[string][]string
}

func (m *mockProjects) ListDaysForProject(ctx context.Context, projectID string) ([]string, error) {
	return m.days[projectID], nil
}

func newAllocationService(repo *storage.MemoryAdapter, projects *mockProjects) (*AllocationService, *LedgerService, *EventFanout) {
	if projects == nil {
		projects = &mockProjects{days: map[string][]string{}}
	}
	cache := newMockCache()
	fanout := NewEventFanout(100, testLogger())
	alloc := NewAllocationService(repo, cache, projects, testIdentity{}, fanout, testLogger())
	ledger := NewLedgerService(repo, cache, testIdentity{}, fanout, testLogger(), domain.DefaultLowStockThreshold)
	return alloc, ledger, fanout
}

func TestAllocate_TwoDaysThenPartialReturn(t *testing.T) {
	repo := storage.NewMemoryAdapter()
	alloc, ledger, fanout := newAllocationService(repo, nil)
	defer fanout.Close()
	ctx := context.Background()

	item, err := ledger.CreateItem(ctx, domain.ItemKindProduct, 100, "")
	if err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}

	assignments, err := alloc.Allocate(ctx, AllocateRequest{
		ItemID:         item.ID,
		ProjectDayIDs:  []string{"day-1", "day-2"},
		QuantityPerDay: 20,
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if len(assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(assignments))
	}

	current, _ := repo.GetItem(ctx, item.ID)
	if current.AvailableQuantity != 60 {
		t.Errorf("expected available 60 after allocating 2x20, got %d", current.AvailableQuantity)
	}

	// Return 15 and report 5 damaged on the first day's assignment.
	updated, err := alloc.RecordPartialReturn(ctx, assignments[0].ID, 15, 5, 0)
	if err != nil {
		t.Fatalf("RecordPartialReturn failed: %v", err)
	}
	if updated.Status != domain.AssignmentStatusReturned {
		t.Errorf("fully accounted assignment must close, got status %s", updated.Status)
	}
	if updated.Remaining() != 0 {
		t.Errorf("expected remaining 0, got %d", updated.Remaining())
	}

	current, _ = repo.GetItem(ctx, item.ID)
	if current.AvailableQuantity != 75 {
		t.Errorf("expected available 75 (60 + 15 returned), got %d", current.AvailableQuantity)
	}
	if current.DamagedQuantity != 5 {
		t.Errorf("expected damaged 5, got %d", current.DamagedQuantity)
	}

	open, _ := repo.OpenAllocationTotal(ctx, item.ID)
	if !current.CheckInvariant(open) {
		t.Errorf("ledger invariant violated: delivered=%d available=%d damaged=%d lost=%d open=%d",
			current.DeliveredQuantity, current.AvailableQuantity,
			current.DamagedQuantity, current.LostQuantity, open)
	}
}

func TestAllocate_BatchAllOrNothing(t *testing.T) {
	repo := storage.NewMemoryAdapter()
	alloc, ledger, fanout := newAllocationService(repo, nil)
	defer fanout.Close()
	ctx := context.Background()

	item, _ := ledger.CreateItem(ctx, domain.ItemKindMaterial, 5, "")

	// 3 days x 2 units needs 6, only 5 available.
	_, err := alloc.Allocate(ctx, AllocateRequest{
		ItemID:         item.ID,
		ProjectDayIDs:  []string{"day-1", "day-2", "day-3"},
		QuantityPerDay: 2,
	})
	if !errors.Is(err, domain.ErrInsufficientAvailable) {
		t.Fatalf("expected ErrInsufficientAvailable, got: %v", err)
	}

	current, _ := repo.GetItem(ctx, item.ID)
	if current.AvailableQuantity != 5 {
		t.Errorf("failed batch must not reserve anything, available=%d", current.AvailableQuantity)
	}
	open, _ := repo.OpenAllocationTotal(ctx, item.ID)
	if open != 0 {
		t.Errorf("failed batch must create no assignments, open=%d", open)
	}
	events, _ := repo.ListByItem(ctx, item.ID)
	if len(events) != 1 { // only the creation event
		t.Errorf("failed batch must append no events, got %d", len(events))
	}
}

func TestAllocate_ApplyToAllDays(t *testing.T) {
	repo := storage.NewMemoryAdapter()
	projects := &mockProjects{days: map[string][]string{
		"proj-1": {"day-1", "day-2", "day-3"},
	}}
	alloc, ledger, fanout := newAllocationService(repo, projects)
	defer fanout.Close()
	ctx := context.Background()

	item, _ := ledger.CreateItem(ctx, domain.ItemKindProduct, 30, "")

	assignments, err := alloc.Allocate(ctx, AllocateRequest{
		ItemID:         item.ID,
		ProjectID:      "proj-1",
		QuantityPerDay: 10,
		ApplyToAllDays: true,
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if len(assignments) != 3 {
		t.Fatalf("expected 3 assignments from day expansion, got %d", len(assignments))
	}

	current, _ := repo.GetItem(ctx, item.ID)
	if current.AvailableQuantity != 0 {
		t.Errorf("expected available 0, got %d", current.AvailableQuantity)
	}

	// Unknown project expands to nothing.
	_, err = alloc.Allocate(ctx, AllocateRequest{
		ItemID:         item.ID,
		ProjectID:      "proj-missing",
		QuantityPerDay: 1,
		ApplyToAllDays: true,
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for project without days, got: %v", err)
	}
}

func TestAllocate_EmptyDays(t *testing.T) {
	repo := storage.NewMemoryAdapter()
	alloc, _, fanout := newAllocationService(repo, nil)
	defer fanout.Close()

	_, err := alloc.Allocate(context.Background(), AllocateRequest{
		ItemID:         "item-1",
		QuantityPerDay: 1,
	})
	if !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity for empty day set, got: %v", err)
	}
}

func TestAllocate_DuplicateRequestID(t *testing.T) {
	repo := storage.NewMemoryAdapter()
	alloc, ledger, fanout := newAllocationService(repo, nil)
	defer fanout.Close()
	ctx := context.Background()

	item, _ := ledger.CreateItem(ctx, domain.ItemKindProduct, 10, "")

	req := AllocateRequest{
		RequestID:      "req-42",
		ItemID:         item.ID,
		ProjectDayIDs:  []string{"day-1"},
		QuantityPerDay: 3,
	}
	if _, err := alloc.Allocate(ctx, req); err != nil {
		t.Fatalf("first Allocate failed: %v", err)
	}
	if _, err := alloc.Allocate(ctx, req); !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest on replay, got: %v", err)
	}

	current, _ := repo.GetItem(ctx, item.ID)
	if current.AvailableQuantity != 7 {
		t.Errorf("replay must not reserve again, available=%d", current.AvailableQuantity)
	}
}

func TestAllocate_RequestIDReusableAfterFailedBatch(t *testing.T) {
	repo := storage.NewMemoryAdapter()
	alloc, ledger, fanout := newAllocationService(repo, nil)
	defer fanout.Close()
	ctx := context.Background()

	item, _ := ledger.CreateItem(ctx, domain.ItemKindMaterial, 5, "")

	// The oversized batch commits nothing, so the request id stays usable.
	_, err := alloc.Allocate(ctx, AllocateRequest{
		RequestID:      "req-9",
		ItemID:         item.ID,
		ProjectDayIDs:  []string{"day-1", "day-2", "day-3"},
		QuantityPerDay: 2,
	})
	if !errors.Is(err, domain.ErrInsufficientAvailable) {
		t.Fatalf("expected ErrInsufficientAvailable, got: %v", err)
	}

	assignments, err := alloc.Allocate(ctx, AllocateRequest{
		RequestID:      "req-9",
		ItemID:         item.ID,
		ProjectDayIDs:  []string{"day-1", "day-2"},
		QuantityPerDay: 2,
	})
	if err != nil {
		t.Fatalf("resubmitting after a failed batch must not be a duplicate: %v", err)
	}
	if len(assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(assignments))
	}

	// Once a batch commits, the id is spent.
	if _, err := alloc.Allocate(ctx, AllocateRequest{
		RequestID:      "req-9",
		ItemID:         item.ID,
		ProjectDayIDs:  []string{"day-1"},
		QuantityPerDay: 1,
	}); !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest after a committed batch, got: %v", err)
	}
}

func TestRecordPartialReturn_OverAllocation(t *testing.T) {
	repo := storage.NewMemoryAdapter()
	alloc, ledger, fanout := newAllocationService(repo, nil)
	defer fanout.Close()
	ctx := context.Background()

	item, _ := ledger.CreateItem(ctx, domain.ItemKindProduct, 20, "")
	assignments, _ := alloc.Allocate(ctx, AllocateRequest{
		ItemID:         item.ID,
		ProjectDayIDs:  []string{"day-1"},
		QuantityPerDay: 10,
	})

	if _, err := alloc.RecordPartialReturn(ctx, assignments[0].ID, 8, 0, 0); err != nil {
		t.Fatalf("RecordPartialReturn failed: %v", err)
	}
	// 8 already accounted, 3 more would exceed the 10 allocated.
	if _, err := alloc.RecordPartialReturn(ctx, assignments[0].ID, 3, 0, 0); !errors.Is(err, domain.ErrOverAllocation) {
		t.Fatalf("expected ErrOverAllocation, got: %v", err)
	}

	current, _ := repo.GetItem(ctx, item.ID)
	if current.AvailableQuantity != 18 {
		t.Errorf("rejected deltas must not credit the item, available=%d", current.AvailableQuantity)
	}
}

func TestRecordPartialReturn_InvalidDeltas(t *testing.T) {
	repo := storage.NewMemoryAdapter()
	alloc, _, fanout := newAllocationService(repo, nil)
	defer fanout.Close()
	ctx := context.Background()

	if _, err := alloc.RecordPartialReturn(ctx, "a-1", -1, 0, 0); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity for negative delta, got: %v", err)
	}
	if _, err := alloc.RecordPartialReturn(ctx, "a-1", 0, 0, 0); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity for all-zero deltas, got: %v", err)
	}
}

func TestClose_ReturnsRemainderOnce(t *testing.T) {
	repo := storage.NewMemoryAdapter()
	alloc, ledger, fanout := newAllocationService(repo, nil)
	defer fanout.Close()
	ctx := context.Background()

	item, _ := ledger.CreateItem(ctx, domain.ItemKindProduct, 20, "")
	assignments, _ := alloc.Allocate(ctx, AllocateRequest{
		ItemID:         item.ID,
		ProjectDayIDs:  []string{"day-1"},
		QuantityPerDay: 10,
	})

	if _, err := alloc.RecordPartialReturn(ctx, assignments[0].ID, 0, 2, 1); err != nil {
		t.Fatalf("RecordPartialReturn failed: %v", err)
	}

	closed, err := alloc.Close(ctx, assignments[0].ID)
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if closed.ReturnedQuantity != 7 || closed.Status != domain.AssignmentStatusReturned {
		t.Errorf("expected returned=7 closed, got returned=%d status=%s", closed.ReturnedQuantity, closed.Status)
	}

	// A second close must not credit the item again.
	if _, err := alloc.Close(ctx, assignments[0].ID); !errors.Is(err, domain.ErrInvalidAssignmentState) {
		t.Fatalf("expected ErrInvalidAssignmentState on double close, got: %v", err)
	}

	current, _ := repo.GetItem(ctx, item.ID)
	if current.AvailableQuantity != 17 {
		t.Errorf("expected available 17 (10 kept + 7 returned), got %d", current.AvailableQuantity)
	}
	if current.DamagedQuantity != 2 || current.LostQuantity != 1 {
		t.Errorf("expected damaged=2 lost=1, got %d/%d", current.DamagedQuantity, current.LostQuantity)
	}
}

// returnRaceRepo fires a hook just before the first assignment write goes
// through, simulating a rival mutation landing between read and write.
type returnRaceRepo struct {
	*storage.MemoryAdapter
	once sync.Once
	hook func()
}

func (r *returnRaceRepo) UpdateAssignment(ctx context.Context, assignment domain.ProjectItemAssignment, item domain.InventoryItem, events []domain.LedgerEvent) error {
	r.once.Do(r.hook)
	return r.MemoryAdapter.UpdateAssignment(ctx, assignment, item, events)
}

func TestClose_RacesPartialReturnToShrunkenRemainder(t *testing.T) {
	inner := storage.NewMemoryAdapter()
	repo := &returnRaceRepo{MemoryAdapter: inner, hook: func() {}}
	cache := newMockCache()
	fanout := NewEventFanout(100, testLogger())
	defer fanout.Close()

	alloc := NewAllocationService(repo, cache, &mockProjects{}, testIdentity{}, fanout, testLogger())
	rival := NewAllocationService(inner, cache, &mockProjects{}, testIdentity{}, fanout, testLogger())
	ledger := NewLedgerService(repo, cache, testIdentity{}, fanout, testLogger(), domain.DefaultLowStockThreshold)
	ctx := context.Background()

	item, _ := ledger.CreateItem(ctx, domain.ItemKindProduct, 20, "")
	assignments, err := alloc.Allocate(ctx, AllocateRequest{
		ItemID:         item.ID,
		ProjectDayIDs:  []string{"day-1"},
		QuantityPerDay: 10,
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	assignmentID := assignments[0].ID

	// A partial return of 4 lands while the close is in flight.
	repo.hook = func() {
		if _, err := rival.RecordPartialReturn(ctx, assignmentID, 4, 0, 0); err != nil {
			t.Errorf("rival partial return failed: %v", err)
		}
	}

	closed, err := alloc.Close(ctx, assignmentID)
	if err != nil {
		t.Fatalf("Close must retry to the shrunken remainder, got: %v", err)
	}
	if closed.ReturnedQuantity != 10 || closed.Status != domain.AssignmentStatusReturned {
		t.Errorf("expected returned=10 closed, got returned=%d status=%s",
			closed.ReturnedQuantity, closed.Status)
	}

	current, _ := inner.GetItem(ctx, item.ID)
	if current.AvailableQuantity != 20 {
		t.Errorf("expected all 20 back in stock, got %d", current.AvailableQuantity)
	}
	open, _ := inner.OpenAllocationTotal(ctx, item.ID)
	if !current.CheckInvariant(open) {
		t.Error("ledger invariant violated after racing close")
	}
}

func TestAllocate_ConcurrentDrain(t *testing.T) {
	repo := storage.NewMemoryAdapter()
	alloc, ledger, fanout := newAllocationService(repo, nil)
	defer fanout.Close()
	ctx := context.Background()

	item, err := ledger.CreateItem(ctx, domain.ItemKindProduct, 20, "")
	if err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	success, insufficient := 0, 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for {
				_, err := alloc.Allocate(ctx, AllocateRequest{
					ItemID:         item.ID,
					ProjectDayIDs:  []string{"day-1"},
					QuantityPerDay: 1,
				})
				if errors.Is(err, domain.ErrStorageUnavailable) {
					continue // lost the optimistic race, try again
				}
				mu.Lock()
				if err == nil {
					success++
				} else if errors.Is(err, domain.ErrInsufficientAvailable) {
					insufficient++
				} else {
					t.Errorf("worker %d: unexpected error: %v", n, err)
				}
				mu.Unlock()
				return
			}
		}(i)
	}
	wg.Wait()

	if success != 20 || insufficient != 30 {
		t.Errorf("expected 20 successes and 30 rejections, got %d/%d", success, insufficient)
	}

	current, _ := repo.GetItem(ctx, item.ID)
	if current.AvailableQuantity != 0 {
		t.Errorf("expected available 0, got %d", current.AvailableQuantity)
	}
	open, _ := repo.OpenAllocationTotal(ctx, item.ID)
	if open != 20 {
		t.Errorf("expected 20 units open, got %d", open)
	}
	if !current.CheckInvariant(open) {
		t.Error("ledger invariant violated after concurrent drain")
	}
}
