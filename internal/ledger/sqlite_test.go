package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func openTestSQLite(t *testing.T, ledgerID string) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := OpenSQLite(path, ledgerID)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close sqlite: %v", err)
		}
	})
	return store
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	if _, err := OpenSQLite("  ", "test"); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestSQLiteStore_ContractRoundTrip(t *testing.T) {
	store := openTestSQLite(t, "rent")
	c := New(store, testAuth{}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ctx := as(context.Background(), admin)

	if err := c.Init(ctx, admin); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := c.Init(ctx, other); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}

	large, err := ParseAmount("100000000000000000000000000000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := c.Credit(ctx, user, large); err != nil {
		t.Fatalf("credit: %v", err)
	}
	got, err := c.Debit(ctx, user, NewAmount(1))
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if got.String() != "99999999999999999999999999999" {
		t.Fatalf("unexpected balance after debit: %s", got)
	}

	if err := c.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := c.Credit(ctx, user, NewAmount(1)); !errors.Is(err, ErrContractPaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	paused, err := c.IsPaused(context.Background())
	if err != nil || !paused {
		t.Fatalf("expected paused, got %v %v", paused, err)
	}

	if err := c.SetAdmin(ctx, other); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	current, err := c.Admin(context.Background())
	if err != nil || current != other {
		t.Fatalf("expected admin %s, got %s %v", other, current, err)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := OpenSQLite(path, "rent")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	c := New(store, testAuth{}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ctx := as(context.Background(), admin)
	if err := c.Init(ctx, admin); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := c.Credit(ctx, user, NewAmount(70)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	again, err := OpenSQLite(path, "rent")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	c = New(again, testAuth{}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	mustBalance(t, c, user, 70)
	if err := c.Init(ctx, admin); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized after reopen, got %v", err)
	}
}

func TestSQLiteStore_InstancesAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	first, err := OpenSQLite(path, "one")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer first.Close()

	ctx := context.Background()
	err = first.Update(ctx, func(tx Tx) error {
		return tx.PutBalance(ctx, user, NewAmount(5))
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	second := &SQLiteStore{sqlDB: first.sqlDB, ledgerID: "two", now: first.now}
	err = second.View(ctx, func(tx Tx) error {
		if _, ok, err := tx.Balance(ctx, user); err != nil || ok {
			t.Fatalf("expected no balance in other instance, got present=%v err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
