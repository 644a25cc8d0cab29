package service

import (
	"github.com/rl1809/site-ledger/internal/core/domain"
	"github.com/rl1809/site-ledger/pkg/logger"
)

// EventFanout carries committed ledger events to the background publishers.
// The authoritative event log is written inside the mutating transaction;
// the fanout is a best-effort audit stream, so a full queue drops rather
// than blocking a mutation.
type EventFanout struct {
	queue chan domain.LedgerEvent
	log   *logger.Logger
}

func NewEventFanout(queueSize int, log *logger.Logger) *EventFanout {
	return &EventFanout{
		queue: make(chan domain.LedgerEvent, queueSize),
		log:   log,
	}
}

func (f *EventFanout) Publish(events ...domain.LedgerEvent) {
	for _, event := range events {
		select {
		case f.queue <- event:
		default:
			f.log.Warn("event fanout queue full, dropping event",
				"event_id", event.ID, "kind", string(event.Kind))
		}
	}
}

func (f *EventFanout) Queue() <-chan domain.LedgerEvent {
	return f.queue
}

func (f *EventFanout) Close() {
	close(f.queue)
}
