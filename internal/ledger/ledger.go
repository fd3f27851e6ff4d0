package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyInitialized is returned by Init once an admin has been stored.
	ErrAlreadyInitialized = errors.New("already initialized")

	// ErrNotInitialized is returned by admin-gated calls made before Init.
	ErrNotInitialized = errors.New("not initialized")

	// ErrUnauthorized indicates the caller could not prove control of the
	// current admin identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrContractPaused rejects credit and debit while the pause flag is set.
	ErrContractPaused = errors.New("contract is paused")

	// ErrInvalidAmount rejects zero and negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientBalance rejects a debit larger than the current balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOverflow indicates a result outside the representable balance range.
	ErrOverflow = errors.New("balance overflow")

	errReadOnly = errors.New("write in read-only transaction")
)

// Event names, also used as the first topic of every emitted event.
const (
	EventInit     = "init"
	EventCredit   = "credit"
	EventDebit    = "debit"
	EventSetAdmin = "set_admin"
	EventPause    = "pause"
	EventUnpause  = "unpause"
)

// Address is an opaque account identifier. The ledger never interprets it;
// identity proof is delegated to an Authenticator.
type Address string

func (a Address) String() string { return string(a) }

// Event is a notification emitted after a state change commits.
type Event struct {
	ID         string
	LedgerID   string
	Topics     []string
	Payload    any
	OccurredAt time.Time
}

// Name is the first topic of the event.
func (e Event) Name() string {
	if len(e.Topics) == 0 {
		return ""
	}
	return e.Topics[0]
}

// InitPayload accompanies EventInit.
type InitPayload struct {
	Admin Address `json:"admin"`
}

// BalancePayload accompanies EventCredit and EventDebit.
type BalancePayload struct {
	Amount     Amount `json:"amount"`
	NewBalance Amount `json:"new_balance"`
}

// AdminPayload accompanies EventSetAdmin.
type AdminPayload struct {
	Admin Address `json:"admin"`
}

// Tx is a view of one ledger instance's persisted keys inside a single
// transaction. Getters report whether the key is present; defaults are
// applied by the contract, not by the store.
type Tx interface {
	Admin(ctx context.Context) (Address, bool, error)
	PutAdmin(ctx context.Context, admin Address) error
	Paused(ctx context.Context) (bool, bool, error)
	PutPaused(ctx context.Context, paused bool) error
	Balance(ctx context.Context, user Address) (Amount, bool, error)
	PutBalance(ctx context.Context, user Address, amount Amount) error
}

// Store persists the state of a single ledger instance. Update commits the
// writes made through tx only when fn returns nil. View runs fn against a
// read-only transaction.
type Store interface {
	LedgerID() string
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Authenticator verifies that the current call is authorized by identity.
type Authenticator interface {
	RequireAuth(ctx context.Context, identity Address) error
}

// EventSink receives events after the emitting call has committed.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}
