package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists one ledger instance in PostgreSQL. Concurrent
// writers, including other processes, are serialized on the instance row.
type PostgresStore struct {
	db       *pgxpool.Pool
	ledgerID string
}

// NewPostgresStore constructs a Postgres-backed store for ledgerID.
func NewPostgresStore(db *pgxpool.Pool, ledgerID string) *PostgresStore {
	return &PostgresStore{db: db, ledgerID: ledgerID}
}

// LedgerID identifies the instance this store is scoped to.
func (s *PostgresStore) LedgerID() string {
	return s.ledgerID
}

// Migrate applies the embedded schema. Scripts are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	scripts, err := migrationScripts("postgres")
	if err != nil {
		return err
	}
	for _, script := range scripts {
		if _, err := s.db.Exec(ctx, script); err != nil {
			return fmt.Errorf("apply postgres migration: %w", err)
		}
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Update runs fn in a transaction holding the instance row lock.
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `INSERT INTO ledger_instances (id) VALUES ($1)
        ON CONFLICT (id) DO NOTHING`, s.ledgerID); err != nil {
		return fmt.Errorf("ensure ledger instance: %w", err)
	}
	var locked string
	if err := tx.QueryRow(ctx, `SELECT id FROM ledger_instances WHERE id = $1 FOR UPDATE`, s.ledgerID).Scan(&locked); err != nil {
		return fmt.Errorf("lock ledger instance: %w", err)
	}

	if err := fn(&postgresTx{tx: tx, ledgerID: s.ledgerID}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// View runs fn in a read-only transaction.
func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&postgresTx{tx: tx, ledgerID: s.ledgerID, readOnly: true}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type postgresTx struct {
	tx       pgx.Tx
	ledgerID string
	readOnly bool
}

func (t *postgresTx) Admin(ctx context.Context) (Address, bool, error) {
	var admin *string
	err := t.tx.QueryRow(ctx, `SELECT admin FROM ledger_instances WHERE id = $1`, t.ledgerID).Scan(&admin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read admin: %w", err)
	}
	if admin == nil {
		return "", false, nil
	}
	return Address(*admin), true, nil
}

func (t *postgresTx) PutAdmin(ctx context.Context, admin Address) error {
	if t.readOnly {
		return errReadOnly
	}
	if _, err := t.tx.Exec(ctx, `UPDATE ledger_instances SET admin = $2, updated_at = now() WHERE id = $1`, t.ledgerID, string(admin)); err != nil {
		return fmt.Errorf("write admin: %w", err)
	}
	return nil
}

func (t *postgresTx) Paused(ctx context.Context) (bool, bool, error) {
	var paused *bool
	err := t.tx.QueryRow(ctx, `SELECT paused FROM ledger_instances WHERE id = $1`, t.ledgerID).Scan(&paused)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("read paused: %w", err)
	}
	if paused == nil {
		return false, false, nil
	}
	return *paused, true, nil
}

func (t *postgresTx) PutPaused(ctx context.Context, paused bool) error {
	if t.readOnly {
		return errReadOnly
	}
	if _, err := t.tx.Exec(ctx, `UPDATE ledger_instances SET paused = $2, updated_at = now() WHERE id = $1`, t.ledgerID, paused); err != nil {
		return fmt.Errorf("write paused: %w", err)
	}
	return nil
}

func (t *postgresTx) Balance(ctx context.Context, user Address) (Amount, bool, error) {
	const query = `SELECT balance::text FROM ledger_balances WHERE ledger_id = $1 AND account = $2`
	var raw string
	if err := t.tx.QueryRow(ctx, query, t.ledgerID, string(user)).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Amount{}, false, nil
		}
		return Amount{}, false, fmt.Errorf("read balance: %w", err)
	}
	amount, err := ParseAmount(raw)
	if err != nil {
		return Amount{}, false, fmt.Errorf("decode balance for %s: %w", user, err)
	}
	return amount, true, nil
}

func (t *postgresTx) PutBalance(ctx context.Context, user Address, amount Amount) error {
	if t.readOnly {
		return errReadOnly
	}
	const stmt = `INSERT INTO ledger_balances (ledger_id, account, balance, updated_at)
        VALUES ($1, $2, CAST($3::text AS NUMERIC), now())
        ON CONFLICT (ledger_id, account) DO UPDATE
        SET balance = EXCLUDED.balance, updated_at = EXCLUDED.updated_at`
	if _, err := t.tx.Exec(ctx, stmt, t.ledgerID, string(user), amount.String()); err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	return nil
}
