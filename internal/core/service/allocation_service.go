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

// AllocationService owns project-item assignments and enforces conservation
// across allocate, return, damage and loss transitions.
type AllocationService struct {
	repo     port.LedgerRepository
	cache    port.CacheRepository
	projects port.ProjectDirectory
	identity port.Identity
	fanout   *EventFanout
	log      *logger.Logger
}

func NewAllocationService(repo port.LedgerRepository, cache port.CacheRepository, projects port.ProjectDirectory, identity port.Identity, fanout *EventFanout, log *logger.Logger) *AllocationService {
	return &AllocationService{
		repo:     repo,
		cache:    cache,
		projects: projects,
		identity: identity,
		fanout:   fanout,
		log:      log,
	}
}

// AllocateRequest is one allocation batch. ApplyToAllDays expands to the
// project's full day set before the engine primitive runs.
type AllocateRequest struct {
	RequestID      string
	ItemID         string
	ProjectID      string
	ProjectDayIDs  []string
	QuantityPerDay int
	ApplyToAllDays bool
}

// Allocate reserves QuantityPerDay units of the item against each target
// day, all-or-nothing. A non-empty RequestID guards the batch against
// duplicate submission.
func (s *AllocationService) Allocate(ctx context.Context, req AllocateRequest) ([]domain.ProjectItemAssignment, error) {
	if req.QuantityPerDay <= 0 {
		return nil, fmt.Errorf("quantity per day %d: %w", req.QuantityPerDay, domain.ErrInvalidQuantity)
	}

	days := req.ProjectDayIDs
	if req.ApplyToAllDays {
		expanded, err := s.projects.ListDaysForProject(ctx, req.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("list days for project %s: %w", req.ProjectID, err)
		}
		if len(expanded) == 0 {
			return nil, fmt.Errorf("project %s has no days: %w", req.ProjectID, domain.ErrNotFound)
		}
		days = expanded
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("no project days given: %w", domain.ErrInvalidQuantity)
	}

	idempotencyKey := ""
	if req.RequestID != "" {
		idempotencyKey = "allocate:" + req.RequestID
		ok, err := s.cache.SetIdempotency(ctx, idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, domain.ErrDuplicateRequest
		}
	}

	assignments, err := s.allocateDays(ctx, req.ItemID, days, req.QuantityPerDay)
	if err != nil && idempotencyKey != "" {
		// Nothing committed, so the request id must stay usable: callers
		// resubmit on StorageUnavailable and may retry after freeing stock.
		if releaseErr := s.cache.ReleaseIdempotency(ctx, idempotencyKey); releaseErr != nil {
			s.log.Warn("failed to release idempotency key",
				"key", idempotencyKey, "error", releaseErr)
		}
	}
	return assignments, err
}

// allocateDays is the engine's only primitive: allocate to an explicit day
// set. Days are processed in caller order, reserving quantity incrementally;
// a later day can fail even when earlier ones fit, and then nothing commits.
func (s *AllocationService) allocateDays(ctx context.Context, itemID string, dayIDs []string, qtyPerDay int) ([]domain.ProjectItemAssignment, error) {
	var created []domain.ProjectItemAssignment
	err := withRetry(ctx, func() error {
		item, err := s.repo.GetItem(ctx, itemID)
		if err != nil {
			return err
		}

		actor := s.identity.CurrentActor(ctx)
		now := time.Now()
		available := item.AvailableQuantity
		assignments := make([]domain.ProjectItemAssignment, 0, len(dayIDs))
		events := make([]domain.LedgerEvent, 0, len(dayIDs))

		for _, dayID := range dayIDs {
			if qtyPerDay > available {
				return fmt.Errorf("project day %s needs %d, %d available: %w",
					dayID, qtyPerDay, available, domain.ErrInsufficientAvailable)
			}
			available -= qtyPerDay

			assignment := domain.ProjectItemAssignment{
				ID:                uuid.NewString(),
				ItemID:            itemID,
				ProjectDayID:      dayID,
				AllocatedQuantity: qtyPerDay,
				Status:            domain.AssignmentStatusAllocated,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			assignments = append(assignments, assignment)
			events = append(events, newEvent(actor, domain.EventAllocate, itemID, assignment.ID,
				-qtyPerDay, fmt.Sprintf("allocated %d to project day %s", qtyPerDay, dayID)))
		}

		item.AvailableQuantity = available
		item.UpdatedAt = now

		if err := s.repo.CreateAssignments(ctx, *item, assignments, events); err != nil {
			return err
		}

		created = assignments
		refreshAvailable(ctx, s.cache, s.log, itemID, available)
		s.fanout.Publish(events...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RecordPartialReturn applies return/damage/loss deltas to an open
// assignment and credits the item in the same transaction. The assignment
// closes once nothing remains out.
func (s *AllocationService) RecordPartialReturn(ctx context.Context, assignmentID string, returnedDelta, damagedDelta, lostDelta int) (*domain.ProjectItemAssignment, error) {
	if returnedDelta < 0 || damagedDelta < 0 || lostDelta < 0 {
		return nil, fmt.Errorf("negative delta: %w", domain.ErrInvalidQuantity)
	}
	if returnedDelta+damagedDelta+lostDelta == 0 {
		return nil, fmt.Errorf("all deltas zero: %w", domain.ErrInvalidQuantity)
	}
	return s.applyDeltas(ctx, assignmentID, func(a *domain.ProjectItemAssignment) (int, int, int) {
		return returnedDelta, damagedDelta, lostDelta
	})
}

// Close returns whatever quantity remains open on the assignment. Closing
// an already-returned assignment fails and credits nothing.
func (s *AllocationService) Close(ctx context.Context, assignmentID string) (*domain.ProjectItemAssignment, error) {
	return s.applyDeltas(ctx, assignmentID, func(a *domain.ProjectItemAssignment) (int, int, int) {
		return a.Remaining(), 0, 0
	})
}

// applyDeltas is the single retried read-validate-write cycle behind
// RecordPartialReturn and Close. The deltas are computed from the freshly
// read assignment on every attempt, so a close races a concurrent partial
// return to the shrunken remainder rather than the stale one.
func (s *AllocationService) applyDeltas(ctx context.Context, assignmentID string, deltas func(*domain.ProjectItemAssignment) (returned, damaged, lost int)) (*domain.ProjectItemAssignment, error) {
	var updated *domain.ProjectItemAssignment
	err := withRetry(ctx, func() error {
		assignment, err := s.repo.GetAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		if !assignment.Open() {
			return fmt.Errorf("assignment %s already returned: %w", assignmentID, domain.ErrInvalidAssignmentState)
		}

		returnedDelta, damagedDelta, lostDelta := deltas(assignment)
		accounted := assignment.DamagedQuantity + assignment.LostQuantity + assignment.ReturnedQuantity
		if accounted+returnedDelta+damagedDelta+lostDelta > assignment.AllocatedQuantity {
			return fmt.Errorf("deltas exceed %d allocated: %w", assignment.AllocatedQuantity, domain.ErrOverAllocation)
		}

		now := time.Now()
		assignment.ReturnedQuantity += returnedDelta
		assignment.DamagedQuantity += damagedDelta
		assignment.LostQuantity += lostDelta
		assignment.UpdatedAt = now
		if assignment.Remaining() == 0 {
			assignment.Status = domain.AssignmentStatusReturned
		}

		item, err := s.repo.GetItem(ctx, assignment.ItemID)
		if err != nil {
			return err
		}
		item.AvailableQuantity += returnedDelta
		item.DamagedQuantity += damagedDelta
		item.LostQuantity += lostDelta
		item.UpdatedAt = now

		event := newEvent(s.identity.CurrentActor(ctx), domain.EventPartialReturn,
			item.ID, assignment.ID, returnedDelta,
			fmt.Sprintf("returned %d, damaged %d, lost %d", returnedDelta, damagedDelta, lostDelta))

		if err := s.repo.UpdateAssignment(ctx, *assignment, *item, []domain.LedgerEvent{event}); err != nil {
			return err
		}

		updated = assignment
		refreshAvailable(ctx, s.cache, s.log, item.ID, item.AvailableQuantity)
		s.fanout.Publish(event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
