package usecase

import (
	"context"

	"eventrelay/internal/apperr"
	"eventrelay/internal/domain/subscription"
)

type Subscribe struct {
	subscriptions subscription.Repository
}

func NewSubscribe(subscriptions subscription.Repository) *Subscribe {
	return &Subscribe{subscriptions: subscriptions}
}

type SubscribeParams struct {
	ProducerID   string `json:"producer_id"`
	SubscriberID string `json:"subscriber_id"`
}

// Execute records the subscription. Subscribing twice is a no-op success;
// the index holds at most one record per pair.
func (uc *Subscribe) Execute(ctx context.Context, params SubscribeParams) error {
	if params.ProducerID == "" {
		return apperr.Errorf(apperr.Validation, "producer_id must not be empty")
	}
	if params.SubscriberID == "" {
		return apperr.Errorf(apperr.Validation, "subscriber_id must not be empty")
	}

	return uc.subscriptions.Save(ctx, params.ProducerID, params.SubscriberID)
}
