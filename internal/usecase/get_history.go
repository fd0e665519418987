package usecase

import (
	"context"
	"time"

	"eventrelay/internal/apperr"
	"eventrelay/internal/domain/feed"
)

// HistoryReader reads a subscriber's event history ascending by timestamp.
type HistoryReader interface {
	History(ctx context.Context, subscriberID string, from, to time.Time, limit int) ([]*feed.Record, error)
}

type GetHistory struct {
	records HistoryReader
}

func NewGetHistory(records HistoryReader) *GetHistory {
	return &GetHistory{records: records}
}

type GetHistoryParams struct {
	SubscriberID string
	From         time.Time
	To           time.Time
	Limit        int
}

func (uc *GetHistory) Execute(ctx context.Context, params GetHistoryParams) ([]*feed.Record, error) {
	if params.SubscriberID == "" {
		return nil, apperr.Errorf(apperr.Validation, "subscriber_id must not be empty")
	}

	records, err := uc.records.History(ctx, params.SubscriberID, params.From, params.To, params.Limit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*feed.Record{}
	}

	return records, nil
}
