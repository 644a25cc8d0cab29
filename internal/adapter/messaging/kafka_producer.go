package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rl1809/site-ledger/internal/core/domain"
)

// KafkaProducer publishes committed ledger events to the audit topic
// consumed by the reporting and notification collaborators.
type KafkaProducer interface {
	PublishLedgerEvent(ctx context.Context, event domain.LedgerEvent) error
	Close() error
}

type kafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) KafkaProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
	}

	return &kafkaProducer{
		writer: writer,
	}
}

type ledgerEventMessage struct {
	ID            string    `json:"id"`
	ItemID        string    `json:"item_id,omitempty"`
	AssignmentID  string    `json:"assignment_id,omitempty"`
	Kind          string    `json:"kind"`
	QuantityDelta int       `json:"quantity_delta"`
	Actor         string    `json:"actor"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

func (p *kafkaProducer) PublishLedgerEvent(ctx context.Context, event domain.LedgerEvent) error {
	payload, err := json.Marshal(ledgerEventMessage{
		ID:            event.ID,
		ItemID:        event.ItemID,
		AssignmentID:  event.AssignmentID,
		Kind:          string(event.Kind),
		QuantityDelta: event.QuantityDelta,
		Actor:         event.Actor,
		Description:   event.Description,
		CreatedAt:     event.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal ledger event: %w", err)
	}

	// Key by item so one item's history stays ordered within a partition.
	key := event.ItemID
	if key == "" {
		key = event.ID
	}

	message := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event-kind", Value: []byte(event.Kind)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write ledger event to kafka: %w", err)
	}

	return nil
}

func (p *kafkaProducer) Close() error {
	return p.writer.Close()
}
