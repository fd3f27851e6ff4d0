package wallet

import (
    "context"
    "errors"
    "time"

    "github.com/shopspring/decimal"

    "github.com/congo-pay/rent_wallet/internal/ledger"
)

// Ledger is the contract surface the wallet API drives.
type Ledger interface {
    LedgerID() string
    Init(ctx context.Context, admin ledger.Address) error
    Credit(ctx context.Context, user ledger.Address, amount ledger.Amount) (ledger.Amount, error)
    Debit(ctx context.Context, user ledger.Address, amount ledger.Amount) (ledger.Amount, error)
    Balance(ctx context.Context, user ledger.Address) (ledger.Amount, error)
    SetAdmin(ctx context.Context, newAdmin ledger.Address) error
    Pause(ctx context.Context) error
    Unpause(ctx context.Context) error
    IsPaused(ctx context.Context) (bool, error)
    Admin(ctx context.Context) (ledger.Address, error)
    CheckMovement(ctx context.Context) error
}

// Service renders ledger results for the HTTP API.
type Service struct {
    ledger Ledger
    scale  int32
    now    func() time.Time
}

// NewService builds a wallet service. Balances are displayed with scale
// fractional digits.
func NewService(l Ledger, scale int32) *Service {
    return &Service{ledger: l, scale: scale, now: time.Now}
}

// Display formats amount in whole units.
func (s *Service) Display(amount ledger.Amount) string {
    return decimal.NewFromBigInt(amount.BigInt(), -s.scale).StringFixed(s.scale)
}

// Init stores the first admin.
func (s *Service) Init(ctx context.Context, admin ledger.Address) error {
    return s.ledger.Init(ctx, admin)
}

// Credit adds amount to user's balance.
func (s *Service) Credit(ctx context.Context, user ledger.Address, amount ledger.Amount) (Movement, error) {
    balance, err := s.ledger.Credit(ctx, user, amount)
    if err != nil {
        return Movement{}, err
    }
    return s.movement(user, amount, balance), nil
}

// CheckMovement reports the admin or pause failure a credit or debit would
// hit, nil when neither applies.
func (s *Service) CheckMovement(ctx context.Context) error {
    return s.ledger.CheckMovement(ctx)
}

// Debit removes amount from user's balance.
func (s *Service) Debit(ctx context.Context, user ledger.Address, amount ledger.Amount) (Movement, error) {
    balance, err := s.ledger.Debit(ctx, user, amount)
    if err != nil {
        return Movement{}, err
    }
    return s.movement(user, amount, balance), nil
}

// Balance returns the ledger balance for user.
func (s *Service) Balance(ctx context.Context, user ledger.Address) (Balance, error) {
    amount, err := s.ledger.Balance(ctx, user)
    if err != nil {
        return Balance{}, err
    }
    return Balance{
        User:    user.String(),
        Balance: amount.String(),
        Display: s.Display(amount),
        AsOf:    s.now().UTC(),
    }, nil
}

// SetAdmin hands admin authority to newAdmin.
func (s *Service) SetAdmin(ctx context.Context, newAdmin ledger.Address) error {
    return s.ledger.SetAdmin(ctx, newAdmin)
}

// SetPaused pauses or unpauses the ledger.
func (s *Service) SetPaused(ctx context.Context, paused bool) error {
    if paused {
        return s.ledger.Pause(ctx)
    }
    return s.ledger.Unpause(ctx)
}

// IsPaused reports the pause flag.
func (s *Service) IsPaused(ctx context.Context) (bool, error) {
    return s.ledger.IsPaused(ctx)
}

// Status reports whether the ledger is initialized, who administers it and
// whether it is paused.
func (s *Service) Status(ctx context.Context) (Status, error) {
    st := Status{LedgerID: s.ledger.LedgerID()}
    admin, err := s.ledger.Admin(ctx)
    switch {
    case err == nil:
        st.Initialized = true
        st.Admin = admin.String()
    case !errors.Is(err, ledger.ErrNotInitialized):
        return Status{}, err
    }
    paused, err := s.ledger.IsPaused(ctx)
    if err != nil {
        return Status{}, err
    }
    st.Paused = paused
    return st, nil
}

func (s *Service) movement(user ledger.Address, amount, balance ledger.Amount) Movement {
    return Movement{
        User:    user.String(),
        Amount:  amount.String(),
        Balance: balance.String(),
        Display: s.Display(balance),
    }
}
