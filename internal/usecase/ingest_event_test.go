package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"eventrelay/internal/apperr"
	"eventrelay/internal/domain/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingLog struct {
	keys   [][]byte
	values [][]byte
}

func (c *capturingLog) SendMessage(_ context.Context, key, value []byte) error {
	c.keys = append(c.keys, key)
	c.values = append(c.values, value)
	return nil
}

func TestIngestKeysByProducer(t *testing.T) {
	log := &capturingLog{}
	uc := NewIngestEvent(log)

	at := time.Date(2026, 3, 1, 8, 30, 0, 500e6, time.UTC)
	id, err := uc.Execute(context.Background(), IngestEventParams{
		ProducerID: "p1",
		Type:       "x",
		OccurredAt: at,
		Payload:    json.RawMessage(`{"msg":"hi"}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Len(t, log.keys, 1)
	assert.Equal(t, []byte("p1"), log.keys[0])

	var msg event.Message
	require.NoError(t, json.Unmarshal(log.values[0], &msg))
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, "p1", msg.ProducerID)
	assert.Equal(t, "x", msg.Type)
	assert.True(t, at.Equal(msg.OccurredAt))
	assert.JSONEq(t, `{"msg":"hi"}`, string(msg.Payload))
}

func TestIngestAssignsTimestampWhenAbsent(t *testing.T) {
	log := &capturingLog{}
	uc := NewIngestEvent(log)

	before := time.Now().UTC()
	_, err := uc.Execute(context.Background(), IngestEventParams{ProducerID: "p1", Type: "x"})
	require.NoError(t, err)

	var msg event.Message
	require.NoError(t, json.Unmarshal(log.values[0], &msg))
	assert.False(t, msg.OccurredAt.IsZero())
	assert.False(t, msg.OccurredAt.Before(before.Truncate(time.Millisecond)))
	// Stamped with millisecond precision.
	assert.Zero(t, msg.OccurredAt.Nanosecond()%int(time.Millisecond))
}

func TestIngestValidation(t *testing.T) {
	uc := NewIngestEvent(&capturingLog{})

	_, err := uc.Execute(context.Background(), IngestEventParams{Type: "x"})
	assert.True(t, apperr.IsKind(err, apperr.Validation))

	_, err = uc.Execute(context.Background(), IngestEventParams{ProducerID: "p1"})
	assert.True(t, apperr.IsKind(err, apperr.Validation))
}
