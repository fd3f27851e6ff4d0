package ledger

import (
	"context"
	"sync"
)

type inMemoryStore struct {
	mu       sync.RWMutex
	ledgerID string
	admin    *Address
	paused   *bool
	balances map[Address]Amount
}

// NewInMemory creates a concurrency-safe in-memory store useful for tests
// and development.
func NewInMemory(ledgerID string) Store {
	return &inMemoryStore{
		ledgerID: ledgerID,
		balances: make(map[Address]Amount),
	}
}

func (s *inMemoryStore) LedgerID() string {
	return s.ledgerID
}

func (s *inMemoryStore) Update(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &inMemoryTx{store: s, balances: make(map[Address]Amount)}
	if err := fn(tx); err != nil {
		return err
	}

	// commit staged writes
	if tx.admin != nil {
		admin := *tx.admin
		s.admin = &admin
	}
	if tx.paused != nil {
		paused := *tx.paused
		s.paused = &paused
	}
	for user, amount := range tx.balances {
		s.balances[user] = amount
	}
	return nil
}

func (s *inMemoryStore) View(_ context.Context, fn func(tx Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&inMemoryTx{store: s, readOnly: true})
}

// inMemoryTx reads through its staged writes to the committed state.
type inMemoryTx struct {
	store    *inMemoryStore
	readOnly bool
	admin    *Address
	paused   *bool
	balances map[Address]Amount
}

func (t *inMemoryTx) Admin(_ context.Context) (Address, bool, error) {
	if t.admin != nil {
		return *t.admin, true, nil
	}
	if t.store.admin != nil {
		return *t.store.admin, true, nil
	}
	return "", false, nil
}

func (t *inMemoryTx) PutAdmin(_ context.Context, admin Address) error {
	if t.readOnly {
		return errReadOnly
	}
	t.admin = &admin
	return nil
}

func (t *inMemoryTx) Paused(_ context.Context) (bool, bool, error) {
	if t.paused != nil {
		return *t.paused, true, nil
	}
	if t.store.paused != nil {
		return *t.store.paused, true, nil
	}
	return false, false, nil
}

func (t *inMemoryTx) PutPaused(_ context.Context, paused bool) error {
	if t.readOnly {
		return errReadOnly
	}
	t.paused = &paused
	return nil
}

func (t *inMemoryTx) Balance(_ context.Context, user Address) (Amount, bool, error) {
	if amount, ok := t.balances[user]; ok {
		return amount, true, nil
	}
	amount, ok := t.store.balances[user]
	return amount, ok, nil
}

func (t *inMemoryTx) PutBalance(_ context.Context, user Address, amount Amount) error {
	if t.readOnly {
		return errReadOnly
	}
	t.balances[user] = amount
	return nil
}
