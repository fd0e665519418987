package subscription

import (
	"context"
	"time"
)

// Subscription records a subscriber's interest in a producer's events.
// At most one record exists per (producer, subscriber) pair.
type Subscription struct {
	ProducerID   string    `json:"producer_id"`
	SubscriberID string    `json:"subscriber_id"`
	CreatedAt    time.Time `json:"created_at"`
}

type Repository interface {
	// Save is idempotent: re-subscribing an existing pair is a no-op success.
	Save(ctx context.Context, producerID, subscriberID string) error

	// ListSubscribers returns the current subscriber ids for a producer,
	// without duplicates. An unknown producer yields an empty slice.
	ListSubscribers(ctx context.Context, producerID string) ([]string, error)
}
