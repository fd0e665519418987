package postgres

import (
	"context"
	"fmt"

	"eventrelay/internal/apperr"

	"github.com/jackc/pgx/v5/pgxpool"
)

type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

// Save records interest of subscriber in producer. Writing the same pair
// twice is a no-op success.
func (r *SubscriptionRepository) Save(ctx context.Context, producerID, subscriberID string) error {
	const sql = `
		INSERT INTO subscriptions (producer_id, subscriber_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (producer_id, subscriber_id) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, sql, producerID, subscriberID); err != nil {
		return apperr.E(apperr.Transient, fmt.Errorf("insert subscription: %w", err))
	}

	return nil
}

func (r *SubscriptionRepository) ListSubscribers(ctx context.Context, producerID string) ([]string, error) {
	const sql = `
		SELECT subscriber_id
		FROM subscriptions
		WHERE producer_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, sql, producerID)
	if err != nil {
		return nil, apperr.E(apperr.Transient, fmt.Errorf("query subscribers: %w", err))
	}
	defer rows.Close()

	var subscribers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.E(apperr.Transient, fmt.Errorf("scan subscriber: %w", err))
		}
		subscribers = append(subscribers, id)
	}

	return subscribers, rows.Err()
}
