package publisher_test

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"eventrelay/internal/aggregator"
	"eventrelay/internal/apperr"
	"eventrelay/internal/domain/agent"
	"eventrelay/internal/domain/event"
	"eventrelay/internal/domain/feed"
	"eventrelay/internal/publisher"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFeedStore backs both the aggregator's writes and the publisher's
// change feed, mimicking the keyed store's upsert and claim semantics.
type memFeedStore struct {
	mu      sync.Mutex
	records map[string]map[time.Time]*feed.Record // subscriber -> occurred_at -> record
}

func newMemFeedStore() *memFeedStore {
	return &memFeedStore{records: map[string]map[time.Time]*feed.Record{}}
}

func (s *memFeedStore) UpsertBatch(_ context.Context, records []*feed.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if s.records[rec.SubscriberID] == nil {
			s.records[rec.SubscriberID] = map[time.Time]*feed.Record{}
		}
		if existing, ok := s.records[rec.SubscriberID][rec.OccurredAt]; ok {
			existing.Payload = rec.Payload
			continue
		}
		s.records[rec.SubscriberID][rec.OccurredAt] = &feed.Record{
			SubscriberID: rec.SubscriberID,
			OccurredAt:   rec.OccurredAt,
			Payload:      rec.Payload,
			Status:       feed.StatusNew,
		}
	}
	return nil
}

func (s *memFeedStore) ClaimNew(_ context.Context, limit int) ([]*feed.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []*feed.Record
	for _, bySub := range s.records {
		for _, rec := range bySub {
			if rec.Status == feed.StatusNew && len(claimed) < limit {
				rec.Status = feed.StatusClaimed
				claimed = append(claimed, rec)
			}
		}
	}
	return claimed, nil
}

func (s *memFeedStore) RecentHistory(_ context.Context, subscriberID string, n int) ([]*feed.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*feed.Record
	for _, rec := range s.records[subscriberID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *memFeedStore) setStatus(subscriberID string, occurredAt []time.Time, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, at := range occurredAt {
		if rec, ok := s.records[subscriberID][at]; ok {
			rec.Status = status
		}
	}
}

func (s *memFeedStore) MarkDispatched(_ context.Context, subscriberID string, occurredAt []time.Time) error {
	s.setStatus(subscriberID, occurredAt, feed.StatusDispatched)
	return nil
}

func (s *memFeedStore) Release(_ context.Context, subscriberID string, occurredAt []time.Time) error {
	s.setStatus(subscriberID, occurredAt, feed.StatusNew)
	return nil
}

type memAgentDir struct {
	agents map[string]*agent.Agent
}

func (m *memAgentDir) GetByID(_ context.Context, id string) (*agent.Agent, error) {
	if a, ok := m.agents[id]; ok {
		return a, nil
	}
	return nil, apperr.Errorf(apperr.NotFound, "agent %s not found", id)
}

type memInbox struct {
	mu     sync.Mutex
	dedup  map[string]bool
	queues map[string][][]byte
}

func newMemInbox() *memInbox {
	return &memInbox{dedup: map[string]bool{}, queues: map[string][][]byte{}}
}

func (m *memInbox) Enqueue(_ context.Context, groupKey, dedupKey string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	guard := groupKey + "/" + dedupKey
	if m.dedup[guard] {
		return nil
	}
	m.dedup[guard] = true
	m.queues[groupKey] = append(m.queues[groupKey], payload)
	return nil
}

type nullSink struct{}

func (nullSink) SendMessage(context.Context, []byte, []byte) error { return nil }

type staticSubs map[string][]string

func (s staticSubs) ListSubscribers(_ context.Context, producerID string) ([]string, error) {
	return s[producerID], nil
}

// Register producer P and listener L, subscribe L to P, emit one event for
// P, run the fan-out and a publish cycle: L's inbox must hold exactly one
// dispatch batch with the event's payload.
func TestEndToEndDelivery(t *testing.T) {
	ctx := context.Background()

	producerID := "11111111-1111-1111-1111-111111111111"
	listenerID := "22222222-2222-2222-2222-222222222222"

	store := newMemFeedStore()
	inbox := newMemInbox()
	agents := &memAgentDir{agents: map[string]*agent.Agent{
		listenerID: {ID: listenerID, Identity: "arn:test:listener", InboxRef: "inbox:" + listenerID},
	}}
	subs := staticSubs{producerID: {listenerID}}

	agg := aggregator.New(nil, subs, store, nullSink{}, aggregator.Config{})
	pub := publisher.New(store, agents, inbox, publisher.Config{})

	at := time.Date(2026, 3, 1, 12, 0, 0, 42e6, time.UTC)
	value, err := json.Marshal(event.Message{
		ID:         "ev-1",
		ProducerID: producerID,
		Type:       "x",
		OccurredAt: at,
		Payload:    json.RawMessage(`{"msg":"hi"}`),
	})
	require.NoError(t, err)

	require.NoError(t, agg.ProcessBatch(ctx, []kafka.Message{{Key: []byte(producerID), Value: value}}))
	require.NoError(t, pub.ProcessCycle(ctx))

	queue := inbox.queues[listenerID]
	require.Len(t, queue, 1)

	var batch feed.DispatchBatch
	require.NoError(t, json.Unmarshal(queue[0], &batch))
	assert.Equal(t, listenerID, batch.SubscriberID)
	require.Len(t, batch.Events, 1)

	var payload struct {
		Msg string `json:"msg"`
	}
	require.NoError(t, json.Unmarshal(batch.Events[0].Payload, &payload))
	assert.Equal(t, "hi", payload.Msg)

	// Nothing left to publish on the next cycle.
	require.NoError(t, pub.ProcessCycle(ctx))
	assert.Len(t, inbox.queues[listenerID], 1)
}

// A redelivered log batch reaches the publisher twice; the second dispatch
// carries the same record set and the inbox dedup key suppresses it.
func TestRedeliveryDoesNotDuplicateDispatch(t *testing.T) {
	ctx := context.Background()

	store := newMemFeedStore()
	inbox := newMemInbox()
	agents := &memAgentDir{agents: map[string]*agent.Agent{
		"s1": {ID: "s1", Identity: "arn:test:listener", InboxRef: "inbox:s1"},
	}}
	subs := staticSubs{"p1": {"s1"}}

	agg := aggregator.New(nil, subs, store, nullSink{}, aggregator.Config{})
	pub := publisher.New(store, agents, inbox, publisher.Config{})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	value, err := json.Marshal(event.Message{
		ID: "ev-1", ProducerID: "p1", Type: "x", OccurredAt: at,
		Payload: json.RawMessage(`{"n":1}`),
	})
	require.NoError(t, err)
	msg := kafka.Message{Key: []byte("p1"), Value: value}

	require.NoError(t, agg.ProcessBatch(ctx, []kafka.Message{msg}))
	require.NoError(t, pub.ProcessCycle(ctx))

	// At-least-once: the log redelivers the same message. The upsert lands
	// on the same key and the already-dispatched status survives.
	require.NoError(t, agg.ProcessBatch(ctx, []kafka.Message{msg}))
	require.NoError(t, pub.ProcessCycle(ctx))
	assert.Len(t, inbox.queues["s1"], 1)

	// Enqueue succeeded but the dispatched bookkeeping was lost: the claim
	// comes back and the identical batch is suppressed by its dedup key.
	require.NoError(t, store.Release(ctx, "s1", []time.Time{at}))
	require.NoError(t, pub.ProcessCycle(ctx))
	assert.Len(t, inbox.queues["s1"], 1)

	// The upsert did not fork a second record either.
	history, err := store.RecentHistory(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
