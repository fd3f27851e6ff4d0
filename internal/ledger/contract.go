package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/congo-pay/rent_wallet/internal/ledger"

// Contract is the admin-controlled balance ledger. All calls against one
// Contract are serialized; each call is a single store transaction that
// either commits fully or leaves no trace.
type Contract struct {
	mu     sync.RWMutex
	store  Store
	auth   Authenticator
	sink   EventSink
	pub    *publisher
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Contract.
type Option func(*Contract)

// WithEventSink sets where committed events are published.
func WithEventSink(sink EventSink) Option {
	return func(c *Contract) {
		c.sink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Contract) {
		c.logger = logger
	}
}

// WithClock overrides the clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(c *Contract) {
		c.now = now
	}
}

// New builds a contract over store, delegating identity proof to auth.
func New(store Store, auth Authenticator, opts ...Option) *Contract {
	c := &Contract{
		store:  store,
		auth:   auth,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sink != nil {
		c.pub = newPublisher(c.sink, c.logger)
	}
	return c
}

// Flush blocks until every event committed so far has been handed to the
// sink.
func (c *Contract) Flush() {
	if c.pub != nil {
		c.pub.flush()
	}
}

// Close delivers pending events and stops the publisher. Calls made after
// Close still commit but their events are dropped.
func (c *Contract) Close(ctx context.Context) error {
	if c.pub == nil {
		return nil
	}
	return c.pub.close(ctx)
}

// LedgerID identifies the contract instance.
func (c *Contract) LedgerID() string {
	return c.store.LedgerID()
}

// Init stores the admin identity. It succeeds once per instance.
func (c *Contract) Init(ctx context.Context, admin Address) error {
	return c.update(ctx, "init", func(ctx context.Context, tx Tx, emit emitFunc) error {
		_, exists, err := tx.Admin(ctx)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyInitialized
		}
		if err := tx.PutAdmin(ctx, admin); err != nil {
			return err
		}
		emit(EventInit, nil, InitPayload{Admin: admin})
		return nil
	}, slog.String("admin", admin.String()))
}

// Credit adds amount to user's balance and returns the new balance.
func (c *Contract) Credit(ctx context.Context, user Address, amount Amount) (Amount, error) {
	var newBalance Amount
	err := c.update(ctx, "credit", func(ctx context.Context, tx Tx, emit emitFunc) error {
		if err := c.requireMutable(ctx, tx, amount); err != nil {
			return err
		}
		current, err := balanceOrZero(ctx, tx, user)
		if err != nil {
			return err
		}
		next, err := current.Add(amount)
		if err != nil {
			return err
		}
		if err := tx.PutBalance(ctx, user, next); err != nil {
			return err
		}
		newBalance = next
		emit(EventCredit, []string{user.String()}, BalancePayload{Amount: amount, NewBalance: next})
		return nil
	}, slog.String("user", user.String()), slog.String("amount", amount.String()))
	if err != nil {
		return Amount{}, err
	}
	return newBalance, nil
}

// Debit removes amount from user's balance and returns the new balance.
// Debiting the full balance leaves a stored zero.
func (c *Contract) Debit(ctx context.Context, user Address, amount Amount) (Amount, error) {
	var newBalance Amount
	err := c.update(ctx, "debit", func(ctx context.Context, tx Tx, emit emitFunc) error {
		if err := c.requireMutable(ctx, tx, amount); err != nil {
			return err
		}
		current, err := balanceOrZero(ctx, tx, user)
		if err != nil {
			return err
		}
		if current.Cmp(amount) < 0 {
			return ErrInsufficientBalance
		}
		next, err := current.Sub(amount)
		if err != nil {
			return err
		}
		if err := tx.PutBalance(ctx, user, next); err != nil {
			return err
		}
		newBalance = next
		emit(EventDebit, []string{user.String()}, BalancePayload{Amount: amount, NewBalance: next})
		return nil
	}, slog.String("user", user.String()), slog.String("amount", amount.String()))
	if err != nil {
		return Amount{}, err
	}
	return newBalance, nil
}

// Balance returns user's balance, 0 when the account was never credited.
// It needs no authorization and works while paused or before Init.
func (c *Contract) Balance(ctx context.Context, user Address) (Amount, error) {
	var balance Amount
	err := c.view(ctx, "balance", func(ctx context.Context, tx Tx) error {
		b, err := balanceOrZero(ctx, tx, user)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	return balance, err
}

// SetAdmin replaces the admin identity in a single step. The previous admin
// loses authority as soon as the call commits. Pause does not apply.
func (c *Contract) SetAdmin(ctx context.Context, newAdmin Address) error {
	return c.update(ctx, "set_admin", func(ctx context.Context, tx Tx, emit emitFunc) error {
		if _, err := c.requireAdmin(ctx, tx); err != nil {
			return err
		}
		if err := tx.PutAdmin(ctx, newAdmin); err != nil {
			return err
		}
		emit(EventSetAdmin, nil, AdminPayload{Admin: newAdmin})
		return nil
	}, slog.String("new_admin", newAdmin.String()))
}

// Pause suspends credit and debit. Pausing a paused contract succeeds.
func (c *Contract) Pause(ctx context.Context) error {
	return c.setPaused(ctx, true)
}

// Unpause resumes credit and debit. Unpausing an active contract succeeds.
func (c *Contract) Unpause(ctx context.Context) error {
	return c.setPaused(ctx, false)
}

func (c *Contract) setPaused(ctx context.Context, paused bool) error {
	op := EventUnpause
	if paused {
		op = EventPause
	}
	return c.update(ctx, op, func(ctx context.Context, tx Tx, emit emitFunc) error {
		if _, err := c.requireAdmin(ctx, tx); err != nil {
			return err
		}
		if err := tx.PutPaused(ctx, paused); err != nil {
			return err
		}
		emit(op, nil, nil)
		return nil
	})
}

// IsPaused reports the pause flag, false when it was never set.
func (c *Contract) IsPaused(ctx context.Context) (bool, error) {
	var paused bool
	err := c.view(ctx, "is_paused", func(ctx context.Context, tx Tx) error {
		p, err := pausedOrDefault(ctx, tx)
		if err != nil {
			return err
		}
		paused = p
		return nil
	})
	return paused, err
}

// Admin returns the current admin identity.
func (c *Contract) Admin(ctx context.Context) (Address, error) {
	var admin Address
	err := c.view(ctx, "admin", func(ctx context.Context, tx Tx) error {
		a, ok, err := tx.Admin(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotInitialized
		}
		admin = a
		return nil
	})
	return admin, err
}

// CheckMovement runs the admin and pause checks that guard Credit and Debit
// without writing anything. Callers that reject an amount before calling the
// contract use it so those failures keep their precedence.
func (c *Contract) CheckMovement(ctx context.Context) error {
	return c.view(ctx, "check_movement", func(ctx context.Context, tx Tx) error {
		if _, err := c.requireAdmin(ctx, tx); err != nil {
			return err
		}
		return c.requireNotPaused(ctx, tx)
	})
}

// requireAdmin must run first in every admin-gated call.
func (c *Contract) requireAdmin(ctx context.Context, tx Tx) (Address, error) {
	admin, ok, err := tx.Admin(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotInitialized
	}
	if err := c.auth.RequireAuth(ctx, admin); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return admin, nil
}

func (c *Contract) requireNotPaused(ctx context.Context, tx Tx) error {
	paused, err := pausedOrDefault(ctx, tx)
	if err != nil {
		return err
	}
	if paused {
		return ErrContractPaused
	}
	return nil
}

// requireMutable applies the credit/debit preconditions in order: admin,
// pause, positive amount.
func (c *Contract) requireMutable(ctx context.Context, tx Tx, amount Amount) error {
	if _, err := c.requireAdmin(ctx, tx); err != nil {
		return err
	}
	if err := c.requireNotPaused(ctx, tx); err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func pausedOrDefault(ctx context.Context, tx Tx) (bool, error) {
	paused, ok, err := tx.Paused(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return paused, nil
}

func balanceOrZero(ctx context.Context, tx Tx, user Address) (Amount, error) {
	balance, ok, err := tx.Balance(ctx, user)
	if err != nil {
		return Amount{}, err
	}
	if !ok {
		return Amount{}, nil
	}
	return balance, nil
}

type emitFunc func(name string, topics []string, payload any)

// update runs fn in a write transaction. Events emitted by fn are queued
// for publication after the commit, while the call still holds the contract
// lock, so observers see them in commit order. Delivery happens off the lock.
func (c *Contract) update(ctx context.Context, op string, fn func(context.Context, Tx, emitFunc) error, attrs ...slog.Attr) error {
	ctx, span := c.startSpan(ctx, op)
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	var pending []Event
	err := c.store.Update(ctx, func(tx Tx) error {
		pending = pending[:0]
		return fn(ctx, tx, func(name string, topics []string, payload any) {
			pending = append(pending, Event{
				ID:         uuid.NewString(),
				LedgerID:   c.store.LedgerID(),
				Topics:     append([]string{name}, topics...),
				Payload:    payload,
				OccurredAt: c.now().UTC(),
			})
		})
	})

	args := []any{slog.String("ledger", c.store.LedgerID()), slog.String("op", op)}
	for _, a := range attrs {
		args = append(args, a)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("ledger call rejected", append(args, slog.Any("error", err))...)
		return err
	}
	c.logger.Info("ledger call committed", args...)

	if c.pub != nil {
		c.pub.enqueue(pending)
	}
	return nil
}

func (c *Contract) view(ctx context.Context, op string, fn func(context.Context, Tx) error) error {
	ctx, span := c.startSpan(ctx, op)
	defer span.End()

	c.mu.RLock()
	defer c.mu.RUnlock()

	err := c.store.View(ctx, func(tx Tx) error {
		return fn(ctx, tx)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Contract) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(
		attribute.String("ledger.id", c.store.LedgerID()),
		attribute.String("ledger.op", op),
	))
}
