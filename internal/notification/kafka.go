package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/congo-pay/rent_wallet/internal/ledger"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes event envelopes to a Kafka topic keyed by ledger id,
// so that one ledger's events stay on one partition in commit order.
type KafkaSink struct {
	writer messageWriter
	logger *slog.Logger
}

// NewKafkaSink wraps w. The writer's topic is used.
func NewKafkaSink(w *kafka.Writer, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{writer: w, logger: logger}
}

func (s *KafkaSink) Publish(ctx context.Context, ev ledger.Event) error {
	value, err := Encode(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(ev.LedgerID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Name())},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", ev.Name(), err)
	}
	if s.logger != nil {
		s.logger.Debug("kafka event published",
			slog.String("event_id", ev.ID),
			slog.String("event", ev.Name()),
			slog.String("ledger", ev.LedgerID),
		)
	}
	return nil
}
