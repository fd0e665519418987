package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eventrelay/internal/apperr"
	"eventrelay/internal/domain/event"

	"github.com/google/uuid"
)

// EventAppender appends a keyed message to the event log.
type EventAppender interface {
	SendMessage(ctx context.Context, key, value []byte) error
}

type IngestEvent struct {
	log EventAppender
}

func NewIngestEvent(log EventAppender) *IngestEvent {
	return &IngestEvent{log: log}
}

type IngestEventParams struct {
	ProducerID string          `json:"producer_id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Execute validates the event, stamps it when the producer did not, and
// appends it to the log keyed by producer id so per-producer order holds.
// Returns the assigned event id.
func (uc *IngestEvent) Execute(ctx context.Context, params IngestEventParams) (string, error) {
	if params.ProducerID == "" {
		return "", apperr.Errorf(apperr.Validation, "producer_id must not be empty")
	}
	if params.Type == "" {
		return "", apperr.Errorf(apperr.Validation, "type must not be empty")
	}

	occurredAt := params.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	payload := params.Payload
	if payload == nil {
		payload = json.RawMessage(`null`)
	}

	msg := event.Message{
		ID:         uuid.NewString(),
		ProducerID: params.ProducerID,
		Type:       params.Type,
		OccurredAt: occurredAt,
		Payload:    payload,
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return "", apperr.E(apperr.Validation, fmt.Errorf("marshal event: %w", err))
	}

	if err := uc.log.SendMessage(ctx, []byte(msg.ProducerID), value); err != nil {
		return "", apperr.E(apperr.Transient, fmt.Errorf("append event: %w", err))
	}

	return msg.ID, nil
}
