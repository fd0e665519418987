package event

import (
	"encoding/json"
	"time"
)

// Message is the envelope appended to the event log. Payload is kept as raw
// JSON produced by the emitting agent; the pipeline never interprets it.
// The log is keyed by ProducerID, so ordering holds per producer only.
type Message struct {
	ID         string          `json:"id"`
	ProducerID string          `json:"producer_id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// DeadLetter wraps a message that cannot be processed productively
// (unparseable envelope, retries exhausted) for the dead-letter topic.
// Raw is the original message bytes verbatim; it may not be valid JSON,
// which is why it is carried as bytes rather than embedded.
type DeadLetter struct {
	Raw      []byte    `json:"raw"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}
