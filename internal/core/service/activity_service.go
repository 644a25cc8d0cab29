package service

import (
	"context"

	"github.com/rl1809/site-ledger/internal/core/domain"
	"github.com/rl1809/site-ledger/internal/port"
)

// ActivityService reads the append-only event log for the audit and
// recent-activity views. Storage order is oldest first; the newest-first
// recent view is a read-side reversal done by the caller.
type ActivityService struct {
	events port.EventRepository
}

func NewActivityService(events port.EventRepository) *ActivityService {
	return &ActivityService{events: events}
}

func (s *ActivityService) ItemHistory(ctx context.Context, itemID string) ([]domain.LedgerEvent, error) {
	return s.events.ListByItem(ctx, itemID)
}

func (s *ActivityService) AssignmentHistory(ctx context.Context, assignmentID string) ([]domain.LedgerEvent, error) {
	return s.events.ListByAssignment(ctx, assignmentID)
}
