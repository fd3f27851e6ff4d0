package notification

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log/slog"
    "sync"
    "time"

    "github.com/congo-pay/rent_wallet/internal/ledger"
)

// Envelope is the wire form of a ledger event shared by every sink.
type Envelope struct {
    EventID    string          `json:"event_id"`
    EventType  string          `json:"event_type"`
    LedgerID   string          `json:"ledger_id"`
    Topics     []string        `json:"topics"`
    OccurredAt time.Time       `json:"occurred_at"`
    Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope encodes ev.
func NewEnvelope(ev ledger.Event) (Envelope, error) {
    env := Envelope{
        EventID:    ev.ID,
        EventType:  ev.Name(),
        LedgerID:   ev.LedgerID,
        Topics:     ev.Topics,
        OccurredAt: ev.OccurredAt.UTC(),
    }
    if ev.Payload != nil {
        raw, err := json.Marshal(ev.Payload)
        if err != nil {
            return Envelope{}, fmt.Errorf("encode %s payload: %w", ev.Name(), err)
        }
        env.Payload = raw
    }
    return env, nil
}

// Encode returns the envelope of ev as JSON.
func Encode(ev ledger.Event) ([]byte, error) {
    env, err := NewEnvelope(ev)
    if err != nil {
        return nil, err
    }
    return json.Marshal(env)
}

// LoggerNotifier writes events to the structured logger.
type LoggerNotifier struct {
    logger *slog.Logger
}

// NewLoggerNotifier constructs a logging sink.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
    return &LoggerNotifier{logger: logger}
}

// Publish writes the event to the structured logger.
func (n *LoggerNotifier) Publish(_ context.Context, ev ledger.Event) error {
    if n == nil || n.logger == nil {
        return nil
    }
    env, err := NewEnvelope(ev)
    if err != nil {
        return err
    }
    n.logger.Info("ledger event",
        slog.String("event_id", env.EventID),
        slog.String("event", env.EventType),
        slog.String("ledger", env.LedgerID),
        slog.Any("topics", env.Topics),
        slog.String("payload", string(env.Payload)),
    )
    return nil
}

// Fanout publishes every event to all sinks and joins their errors.
type Fanout []ledger.EventSink

func (f Fanout) Publish(ctx context.Context, ev ledger.Event) error {
    var errs []error
    for _, sink := range f {
        if sink == nil {
            continue
        }
        if err := sink.Publish(ctx, ev); err != nil {
            errs = append(errs, err)
        }
    }
    return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
    mu     sync.Mutex
    events []ledger.Event
}

func (r *Recorder) Publish(_ context.Context, ev ledger.Event) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.events = append(r.events, ev)
    return nil
}

// Events returns a copy of what has been published so far.
func (r *Recorder) Events() []ledger.Event {
    r.mu.Lock()
    defer r.mu.Unlock()
    out := make([]ledger.Event, len(r.events))
    copy(out, r.events)
    return out
}
