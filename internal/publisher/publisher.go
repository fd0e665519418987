package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"eventrelay/internal/apperr"
	"eventrelay/internal/domain/agent"
	"eventrelay/internal/domain/feed"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "publisher_dispatch_batches_published_total",
		Help: "The total number of dispatch batches enqueued to inboxes",
	})
	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "publisher_publish_errors_total",
		Help: "The total number of failed publish cycles",
	})
	recordsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "publisher_records_delivered_total",
		Help: "The total number of feed records delivered in dispatch batches",
	})
	missingInbox = promauto.NewCounter(prometheus.CounterOpts{
		Name: "publisher_missing_inbox_total",
		Help: "The total number of claims released because the subscriber has no inbox",
	})
)

type FeedSource interface {
	ClaimNew(ctx context.Context, limit int) ([]*feed.Record, error)
	RecentHistory(ctx context.Context, subscriberID string, n int) ([]*feed.Record, error)
	MarkDispatched(ctx context.Context, subscriberID string, occurredAt []time.Time) error
	Release(ctx context.Context, subscriberID string, occurredAt []time.Time) error
}

type AgentResolver interface {
	GetByID(ctx context.Context, id string) (*agent.Agent, error)
}

type InboxQueue interface {
	Enqueue(ctx context.Context, groupKey, dedupKey string, payload []byte) error
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

// Publisher polls the feed store for newly-written records and delivers
// them to subscriber inboxes as ordered dispatch batches. The claim column
// is the change feed: records move new -> claimed -> dispatched, and any
// failure releases the claim so a later cycle retries.
type Publisher struct {
	source FeedSource
	agents AgentResolver
	inbox  InboxQueue
	cfg    Config
}

func New(source FeedSource, agents AgentResolver, inbox InboxQueue, cfg Config) *Publisher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Publisher{source: source, agents: agents, inbox: inbox, cfg: cfg}
}

func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	slog.Info("Publisher started", "poll_interval", p.cfg.PollInterval, "batch_size", p.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.ProcessCycle(ctx); err != nil {
				publishErrors.Inc()
				slog.Error("failed to process publish cycle", "error", err)
			}
		}
	}
}

// ProcessCycle claims pending records, groups them per subscriber and
// delivers one dispatch batch per subscriber. On any store or enqueue
// failure the remaining claims are released and the cycle aborts; the next
// tick retries the whole set.
func (p *Publisher) ProcessCycle(ctx context.Context) error {
	claimed, err := p.source.ClaimNew(ctx, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	// Per subscriber: how many new records arrived, and which keys we hold.
	counts := make(map[string]int)
	keys := make(map[string][]time.Time)
	var order []string
	for _, rec := range claimed {
		if _, seen := counts[rec.SubscriberID]; !seen {
			order = append(order, rec.SubscriberID)
		}
		counts[rec.SubscriberID]++
		keys[rec.SubscriberID] = append(keys[rec.SubscriberID], rec.OccurredAt)
	}

	for idx, subscriberID := range order {
		if err := p.dispatch(ctx, subscriberID, counts[subscriberID]); err != nil {
			if apperr.IsKind(err, apperr.NotFound) {
				// No inbox on record yet. The records stay durably stored;
				// release the claim and try again on a later cycle.
				missingInbox.Inc()
				slog.Warn("subscriber has no registered inbox, skipping", "subscriber_id", subscriberID)
				if relErr := p.source.Release(ctx, subscriberID, keys[subscriberID]); relErr != nil {
					slog.Error("failed to release claim", "subscriber_id", subscriberID, "error", relErr)
				}
				continue
			}

			p.releaseAll(ctx, order[idx:], keys)
			return fmt.Errorf("dispatch to %s: %w", subscriberID, err)
		}

		if err := p.source.MarkDispatched(ctx, subscriberID, keys[subscriberID]); err != nil {
			// Enqueue succeeded but bookkeeping failed; the claim will be
			// retried and the inbox dedup key absorbs the duplicate.
			slog.Error("failed to mark records dispatched", "subscriber_id", subscriberID, "error", err)
		}
	}

	return nil
}

func (p *Publisher) dispatch(ctx context.Context, subscriberID string, n int) error {
	// Re-read the authoritative history rather than trusting the claim
	// payload; redelivered or reordered claims then still yield a
	// self-consistent, ordered slice.
	history, err := p.source.RecentHistory(ctx, subscriberID, n)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		// Defensive; a claim without history should not happen.
		return nil
	}

	ag, err := p.agents.GetByID(ctx, subscriberID)
	if err != nil {
		return err
	}

	// Events ride newest-first; consumers reorder by the embedded
	// occurred_at when they need ascending order.
	batch := feed.DispatchBatch{
		SubscriberID: subscriberID,
		Events:       history,
		Timestamp:    time.Now().UTC(),
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return apperr.E(apperr.Fatal, fmt.Errorf("marshal dispatch batch: %w", err))
	}

	if err := p.inbox.Enqueue(ctx, ag.ID, DedupKey(subscriberID, history), payload); err != nil {
		return err
	}

	batchesPublished.Inc()
	recordsDelivered.Add(float64(len(history)))
	slog.Info("dispatch batch published", "subscriber_id", subscriberID, "events", len(history))
	return nil
}

func (p *Publisher) releaseAll(ctx context.Context, subscribers []string, keys map[string][]time.Time) {
	for _, subscriberID := range subscribers {
		if err := p.source.Release(ctx, subscriberID, keys[subscriberID]); err != nil {
			slog.Error("failed to release claim", "subscriber_id", subscriberID, "error", err)
		}
	}
}
