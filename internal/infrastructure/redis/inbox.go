package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"eventrelay/internal/apperr"

	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

// Inbox is the per-agent ordered mailbox, one Redis stream per agent.
// Streams are FIFO, so enqueue order is delivery order for a given agent.
// Duplicate dispatch batches are suppressed by a SetNX guard on the dedup
// key, bounded by the dedup window.
type Inbox struct {
	client      *redis.Client
	dedupWindow time.Duration
}

func NewInbox(client *redis.Client, dedupWindow time.Duration) *Inbox {
	return &Inbox{client: client, dedupWindow: dedupWindow}
}

// StreamName derives the inbox stream for an agent. The returned name is
// what registration records as the agent's inbox ref.
func StreamName(agentID string) string {
	return "inbox:" + agentID
}

func dedupGuard(groupKey, dedupKey string) string {
	return fmt.Sprintf("inboxdedup:%s:%s", groupKey, dedupKey)
}

// Provision creates the stream for a new agent and returns its ref.
// Creating an already-existing group is treated as success, so retried
// registrations do not fail here.
func (i *Inbox) Provision(ctx context.Context, agentID string) (string, error) {
	stream := StreamName(agentID)

	err := i.client.XGroupCreateMkStream(ctx, stream, "consumers", "0").Err()
	if err != nil && !isBusyGroup(err) {
		return "", apperr.E(apperr.Provisioning, fmt.Errorf("create inbox stream %s: %w", stream, err))
	}

	return stream, nil
}

// Enqueue appends payload to the group's stream unless the same dedup key
// was seen within the dedup window, in which case the call is a silent no-op.
func (i *Inbox) Enqueue(ctx context.Context, groupKey, dedupKey string, payload []byte) error {
	fresh, err := i.client.SetNX(ctx, dedupGuard(groupKey, dedupKey), "1", i.dedupWindow).Result()
	if err != nil {
		return apperr.E(apperr.Transient, fmt.Errorf("dedup guard: %w", err))
	}
	if !fresh {
		// Redelivered batch, already enqueued.
		return nil
	}

	err = i.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName(groupKey),
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return apperr.E(apperr.Transient, fmt.Errorf("enqueue to %s: %w", StreamName(groupKey), err))
	}

	return nil
}

// Entry is one delivered inbox message. ID is the stream entry id used to
// acknowledge it.
type Entry struct {
	ID      string
	Payload []byte
}

// Receive returns up to max pending entries for an agent in FIFO order.
func (i *Inbox) Receive(ctx context.Context, agentID string, max int) ([]Entry, error) {
	msgs, err := i.client.XRangeN(ctx, StreamName(agentID), "-", "+", int64(max)).Result()
	if err != nil {
		return nil, apperr.E(apperr.Transient, fmt.Errorf("read inbox %s: %w", StreamName(agentID), err))
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		payload, ok := msg.Values[payloadField].(string)
		if !ok {
			continue
		}
		entries = append(entries, Entry{ID: msg.ID, Payload: []byte(payload)})
	}

	return entries, nil
}

// Ack deletes processed entries from the agent's inbox.
func (i *Inbox) Ack(ctx context.Context, agentID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	if err := i.client.XDel(ctx, StreamName(agentID), ids...).Err(); err != nil {
		return apperr.E(apperr.Transient, fmt.Errorf("ack inbox %s: %w", StreamName(agentID), err))
	}

	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
