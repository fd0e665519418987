package aggregator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"eventrelay/internal/apperr"
	"eventrelay/internal/domain/event"
	"eventrelay/internal/domain/feed"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

var (
	eventsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_events_consumed_total",
		Help: "The total number of events consumed from the log",
	})
	recordsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_feed_records_written_total",
		Help: "The total number of feed records written at fan-out",
	})
	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_events_dropped_total",
		Help: "The total number of events dropped for lack of subscribers",
	})
	deadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_events_dead_lettered_total",
		Help: "The total number of events sent to the dead-letter topic",
	})
	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aggregator_batch_duration_seconds",
		Help:    "Time taken to fan out one batch",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
)

type MessageSource interface {
	FetchBatch(ctx context.Context, max int, wait time.Duration) ([]kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type SubscriberLister interface {
	ListSubscribers(ctx context.Context, producerID string) ([]string, error)
}

type RecordWriter interface {
	UpsertBatch(ctx context.Context, records []*feed.Record) error
}

// DeadLetterSink publishes messages that cannot be processed productively.
type DeadLetterSink interface {
	SendMessage(ctx context.Context, key, value []byte) error
}

type Config struct {
	BatchSize  int
	BatchWait  time.Duration
	MaxRetries int
}

// Aggregator consumes the event log and fans each event out into one feed
// record per current subscriber of its producer. All writes are idempotent
// on (subscriber, occurred_at), so a redelivered batch is safe to reprocess.
type Aggregator struct {
	source  MessageSource
	subs    SubscriberLister
	records RecordWriter
	dlq     DeadLetterSink
	cfg     Config
}

func New(source MessageSource, subs SubscriberLister, records RecordWriter, dlq DeadLetterSink, cfg Config) *Aggregator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchWait <= 0 {
		cfg.BatchWait = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Aggregator{source: source, subs: subs, records: records, dlq: dlq, cfg: cfg}
}

func (a *Aggregator) Run(ctx context.Context) error {
	slog.Info("Aggregator started", "batch_size", a.cfg.BatchSize)

	for {
		msgs, err := a.source.FetchBatch(ctx, a.cfg.BatchSize, a.cfg.BatchWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("failed to fetch batch", "error", err)
			time.Sleep(1 * time.Second)
			continue
		}

		if err := a.handleWithRetry(ctx, msgs); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Retries exhausted: dead-letter the whole batch rather than
			// blocking the partition forever.
			a.deadLetterAll(ctx, msgs, err.Error())
		}

		if err := a.source.CommitMessages(ctx, msgs...); err != nil {
			slog.Error("failed to commit batch", "error", err)
		}
	}
}

func (a *Aggregator) handleWithRetry(ctx context.Context, msgs []kafka.Message) error {
	var err error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * time.Second
			slog.Info("Retrying batch", "attempt", attempt, "max", a.cfg.MaxRetries, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err = a.ProcessBatch(ctx, msgs); err == nil {
			return nil
		}
		slog.Error("batch processing failed", "error", err)
	}
	return err
}

// ProcessBatch fans one fetched batch out to feed records. Unparseable
// envelopes go straight to the dead-letter topic; any store error aborts the
// whole invocation so the caller retries it as a unit.
func (a *Aggregator) ProcessBatch(ctx context.Context, msgs []kafka.Message) error {
	started := time.Now()

	// Group by producer, preserving arrival order within each group.
	groups := make(map[string][]*event.Message)
	var order []string
	for _, msg := range msgs {
		var ev event.Message
		if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.ProducerID == "" {
			a.deadLetter(ctx, msg.Value, "unparseable event envelope")
			continue
		}
		eventsConsumed.Inc()
		if _, seen := groups[ev.ProducerID]; !seen {
			order = append(order, ev.ProducerID)
		}
		groups[ev.ProducerID] = append(groups[ev.ProducerID], &ev)
	}

	var records []*feed.Record
	for _, producerID := range order {
		events := groups[producerID]

		// One index lookup per distinct producer, not per event.
		subscribers, err := a.subs.ListSubscribers(ctx, producerID)
		if err != nil {
			return apperr.E(apperr.Transient, err)
		}

		if len(subscribers) == 0 {
			// No one is interested; dropping is by contract, not an error.
			eventsDropped.Add(float64(len(events)))
			continue
		}

		for _, subscriberID := range subscribers {
			for _, ev := range events {
				records = append(records, &feed.Record{
					SubscriberID: subscriberID,
					OccurredAt:   ev.OccurredAt,
					Payload:      ev.Payload,
				})
			}
		}
	}

	if err := a.records.UpsertBatch(ctx, records); err != nil {
		return err
	}

	recordsWritten.Add(float64(len(records)))
	batchDuration.Observe(time.Since(started).Seconds())
	return nil
}

func (a *Aggregator) deadLetterAll(ctx context.Context, msgs []kafka.Message, reason string) {
	for _, msg := range msgs {
		a.deadLetter(ctx, msg.Value, reason)
	}
}

func (a *Aggregator) deadLetter(ctx context.Context, raw []byte, reason string) {
	dl := event.DeadLetter{
		Raw:      raw,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	}

	value, err := json.Marshal(dl)
	if err != nil {
		slog.Error("failed to marshal dead letter", "error", err)
		return
	}

	if err := a.dlq.SendMessage(ctx, nil, value); err != nil {
		slog.Error("failed to publish dead letter", "error", err, "reason", reason)
		return
	}

	deadLettered.Inc()
}
