package notification

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/rent_wallet/internal/ledger"
)

// StreamSink appends event envelopes to a Redis stream.
type StreamSink struct {
	cache  *redis.Client
	stream string
	maxLen int64
}

// NewStreamSink returns a sink writing to stream. maxLen caps the stream
// approximately; zero keeps every entry.
func NewStreamSink(cache *redis.Client, stream string, maxLen int64) *StreamSink {
	return &StreamSink{cache: cache, stream: stream, maxLen: maxLen}
}

func (s *StreamSink) Publish(ctx context.Context, ev ledger.Event) error {
	value, err := Encode(ev)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"event_id":   ev.ID,
			"event_type": ev.Name(),
			"ledger_id":  ev.LedgerID,
			"envelope":   string(value),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.cache.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("stream publish %s: %w", ev.Name(), err)
	}
	return nil
}
