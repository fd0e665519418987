package feed

import (
	"context"
	"encoding/json"
	"time"
)

// Record statuses. Payload and OccurredAt are immutable once written;
// Status is delivery bookkeeping only and backs the change feed the
// publisher polls.
const (
	StatusNew        = "new"
	StatusClaimed    = "claimed"
	StatusDispatched = "dispatched"
)

// Record is the per-subscriber projection of one event, keyed by
// (SubscriberID, OccurredAt). The aggregator writes one record per
// (event, subscriber) pair at fan-out time; duplicates under redelivery
// land on the same key with identical content.
type Record struct {
	SubscriberID string          `json:"subscriber_id"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Payload      json.RawMessage `json:"payload"`
	Status       string          `json:"status,omitempty"`
	CreatedAt    time.Time       `json:"created_at,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at,omitempty"`
}

// DispatchBatch is the ephemeral ordered group of records delivered to an
// inbox in one enqueue. Events are ordered newest-first; each carries its
// own OccurredAt so consumers can rebuild ascending order when they need it.
type DispatchBatch struct {
	SubscriberID string    `json:"subscriber_id"`
	Events       []*Record `json:"events"`
	Timestamp    time.Time `json:"timestamp"`
}

type Repository interface {
	// UpsertBatch writes records idempotently on (subscriber_id, occurred_at).
	UpsertBatch(ctx context.Context, records []*Record) error

	// ClaimNew moves up to limit records from new to claimed and returns
	// them, skipping rows claimed by concurrent pollers.
	ClaimNew(ctx context.Context, limit int) ([]*Record, error)

	// RecentHistory returns the n most recent records for a subscriber,
	// descending by occurred_at, regardless of status.
	RecentHistory(ctx context.Context, subscriberID string, n int) ([]*Record, error)

	// History returns records in [from, to] ascending by occurred_at.
	// Zero bounds are open; limit <= 0 means no limit.
	History(ctx context.Context, subscriberID string, from, to time.Time, limit int) ([]*Record, error)

	// MarkDispatched finishes claimed records after a successful enqueue.
	MarkDispatched(ctx context.Context, subscriberID string, occurredAt []time.Time) error

	// Release returns claimed records to new so a later cycle retries them.
	Release(ctx context.Context, subscriberID string, occurredAt []time.Time) error
}
