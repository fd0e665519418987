package postgres

import (
	"context"
	"fmt"
	"time"

	"eventrelay/internal/apperr"
	"eventrelay/internal/domain/feed"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FeedRepository persists per-subscriber event records. The primary key is
// (subscriber_id, occurred_at); payload and occurred_at never change after
// the first write, the status column only tracks delivery.
type FeedRepository struct {
	pool *pgxpool.Pool
	tm   *TxManager
}

func NewFeedRepository(pool *pgxpool.Pool) *FeedRepository {
	return &FeedRepository{pool: pool, tm: NewTxManager(pool)}
}

// UpsertBatch writes all records in one transaction, so a redelivered log
// batch either fully lands or leaves nothing behind. Redelivered events
// land on the same key with identical content; the overwrite is harmless
// and the delivery status of an already-dispatched record is preserved.
func (r *FeedRepository) UpsertBatch(ctx context.Context, records []*feed.Record) error {
	if len(records) == 0 {
		return nil
	}

	const sql = `
		INSERT INTO feed_records (subscriber_id, occurred_at, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (subscriber_id, occurred_at)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()
	`

	err := r.tm.WithinTransaction(ctx, func(ctx context.Context) error {
		tx := GetTx(ctx)

		batch := &pgx.Batch{}
		for _, rec := range records {
			batch.Queue(sql, rec.SubscriberID, rec.OccurredAt, rec.Payload, feed.StatusNew)
		}

		br := tx.SendBatch(ctx, batch)
		defer br.Close()

		for range records {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("upsert feed record: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return apperr.E(apperr.Transient, err)
	}

	return nil
}

// ClaimNew moves up to limit new records to claimed and returns them,
// oldest first. Rows claimed by a concurrent poller are skipped.
func (r *FeedRepository) ClaimNew(ctx context.Context, limit int) ([]*feed.Record, error) {
	const sql = `
		WITH claimed AS (
			SELECT subscriber_id, occurred_at
			FROM feed_records
			WHERE status = 'new'
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE feed_records fr
		SET status = 'claimed', updated_at = NOW()
		FROM claimed c
		WHERE fr.subscriber_id = c.subscriber_id AND fr.occurred_at = c.occurred_at
		RETURNING fr.subscriber_id, fr.occurred_at, fr.payload, fr.status, fr.created_at, fr.updated_at
	`

	rows, err := r.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, apperr.E(apperr.Transient, fmt.Errorf("claim feed records: %w", err))
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *FeedRepository) RecentHistory(ctx context.Context, subscriberID string, n int) ([]*feed.Record, error) {
	const sql = `
		SELECT subscriber_id, occurred_at, payload, status, created_at, updated_at
		FROM feed_records
		WHERE subscriber_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, sql, subscriberID, n)
	if err != nil {
		return nil, apperr.E(apperr.Transient, fmt.Errorf("query recent history: %w", err))
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *FeedRepository) History(ctx context.Context, subscriberID string, from, to time.Time, limit int) ([]*feed.Record, error) {
	sql := `
		SELECT subscriber_id, occurred_at, payload, status, created_at, updated_at
		FROM feed_records
		WHERE subscriber_id = $1
	`
	args := []any{subscriberID}

	if !from.IsZero() {
		args = append(args, from)
		sql += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		sql += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
	}
	sql += " ORDER BY occurred_at ASC"
	if limit > 0 {
		args = append(args, limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.E(apperr.Transient, fmt.Errorf("query history: %w", err))
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *FeedRepository) MarkDispatched(ctx context.Context, subscriberID string, occurredAt []time.Time) error {
	return r.setStatus(ctx, subscriberID, occurredAt, feed.StatusDispatched)
}

func (r *FeedRepository) Release(ctx context.Context, subscriberID string, occurredAt []time.Time) error {
	return r.setStatus(ctx, subscriberID, occurredAt, feed.StatusNew)
}

func (r *FeedRepository) setStatus(ctx context.Context, subscriberID string, occurredAt []time.Time, status string) error {
	if len(occurredAt) == 0 {
		return nil
	}

	const sql = `
		UPDATE feed_records
		SET status = $3, updated_at = NOW()
		WHERE subscriber_id = $1 AND occurred_at = ANY($2)
	`

	if _, err := r.pool.Exec(ctx, sql, subscriberID, occurredAt, status); err != nil {
		return apperr.E(apperr.Transient, fmt.Errorf("set feed status %s: %w", status, err))
	}

	return nil
}

func scanRecords(rows pgx.Rows) ([]*feed.Record, error) {
	var records []*feed.Record
	for rows.Next() {
		rec := &feed.Record{}
		if err := rows.Scan(&rec.SubscriberID, &rec.OccurredAt, &rec.Payload, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, apperr.E(apperr.Transient, fmt.Errorf("scan feed record: %w", err))
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
