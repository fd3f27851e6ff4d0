package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// openTestPostgres returns a store on a fresh ledger id in the database named
// by DATABASE_URL, skipping the test when it is unset.
func openTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	store := NewPostgresStore(pool, "test-"+uuid.NewString())
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		if _, err := pool.Exec(ctx, `DELETE FROM ledger_balances WHERE ledger_id = $1`, store.LedgerID()); err != nil {
			t.Errorf("cleanup balances: %v", err)
		}
		if _, err := pool.Exec(ctx, `DELETE FROM ledger_instances WHERE id = $1`, store.LedgerID()); err != nil {
			t.Errorf("cleanup instance: %v", err)
		}
	})
	return store
}

func newPostgresContract(store Store) *Contract {
	return New(store, testAuth{}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestPostgresStore_NumericRoundTrip(t *testing.T) {
	store := openTestPostgres(t)
	c := newPostgresContract(store)
	ctx := as(context.Background(), admin)

	if err := c.Init(ctx, admin); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := c.Credit(ctx, user, MaxAmount()); err != nil {
		t.Fatalf("credit max: %v", err)
	}
	got, err := c.Balance(ctx, user)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got.Cmp(MaxAmount()) != 0 {
		t.Fatalf("expected %s, got %s", MaxAmount(), got)
	}
	if _, err := c.Credit(ctx, user, NewAmount(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}

	got, err = c.Debit(ctx, user, MaxAmount())
	if err != nil {
		t.Fatalf("debit all: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("expected zero, got %s", got)
	}
	got, err = c.Balance(ctx, user)
	if err != nil || !got.IsZero() {
		t.Fatalf("balance after debit: %s %v", got, err)
	}
}

func TestPostgresStore_StatePersistsAcrossContracts(t *testing.T) {
	store := openTestPostgres(t)
	ctx := as(context.Background(), admin)

	if err := newPostgresContract(store).Init(ctx, admin); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := newPostgresContract(store).Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}

	c := newPostgresContract(store)
	if err := c.Init(ctx, other); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}
	paused, err := c.IsPaused(ctx)
	if err != nil || !paused {
		t.Fatalf("expected paused, got %v %v", paused, err)
	}
	if _, err := c.Credit(ctx, user, NewAmount(1)); !errors.Is(err, ErrContractPaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
}

// Separate contracts share no in-process lock, so only the instance row lock
// keeps concurrent writers from losing updates.
func TestPostgresStore_SerializesWritersAcrossContracts(t *testing.T) {
	store := openTestPostgres(t)
	ctx := as(context.Background(), admin)
	contracts := []*Contract{newPostgresContract(store), newPostgresContract(store)}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		inits int
	)
	for _, c := range contracts {
		wg.Add(1)
		go func(c *Contract) {
			defer wg.Done()
			err := c.Init(ctx, admin)
			if err == nil {
				mu.Lock()
				inits++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrAlreadyInitialized) {
				t.Errorf("init: %v", err)
			}
		}(c)
	}
	wg.Wait()
	if inits != 1 {
		t.Fatalf("expected exactly one successful init, got %d", inits)
	}

	const perContract = 25
	for _, c := range contracts {
		for i := 0; i < perContract; i++ {
			wg.Add(1)
			go func(c *Contract) {
				defer wg.Done()
				if _, err := c.Credit(ctx, user, NewAmount(2)); err != nil {
					t.Errorf("credit: %v", err)
				}
			}(c)
		}
	}
	wg.Wait()

	got, err := contracts[0].Balance(ctx, user)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if want := NewAmount(2 * perContract * int64(len(contracts))); got.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
