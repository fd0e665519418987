package kafka

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, topic string, groupID string) *Consumer {
	startOffset := kafka.FirstOffset
	// When a consumer group has no committed offset yet, kafka-go uses StartOffset.
	// Supported: "earliest" (default), "latest".
	if v := strings.TrimSpace(os.Getenv("KAFKA_START_OFFSET")); v != "" {
		switch strings.ToLower(v) {
		case "latest":
			startOffset = kafka.LastOffset
		case "earliest":
			startOffset = kafka.FirstOffset
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: false, // Force IPv4
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,    // Process immediately
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
		Dialer:      dialer,
		StartOffset: startOffset,
	})
	return &Consumer{reader: r}
}

func (c *Consumer) FetchMessage(ctx context.Context) (kafka.Message, error) {
	return c.reader.FetchMessage(ctx)
}

// FetchBatch blocks for the first message, then drains whatever else arrives
// within wait, up to max messages. Partition order is preserved as delivered
// by the reader.
func (c *Consumer) FetchBatch(ctx context.Context, max int, wait time.Duration) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	msgs := []kafka.Message{first}

	drainCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	for len(msgs) < max {
		msg, err := c.reader.FetchMessage(drainCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return msgs, nil
		}
		msgs = append(msgs, msg)
	}

	return msgs, nil
}

func (c *Consumer) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	return c.reader.CommitMessages(ctx, msgs...)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
