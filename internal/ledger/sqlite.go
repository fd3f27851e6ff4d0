package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists one ledger instance in a SQLite file. Writers take
// the database lock when the transaction begins.
type SQLiteStore struct {
	sqlDB    *sql.DB
	ledgerID string
	now      func() time.Time
}

// OpenSQLite opens the database at path and applies embedded migrations.
func OpenSQLite(path, ledgerID string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	scripts, err := migrationScripts("sqlite")
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	for _, script := range scripts {
		if _, err := sqlDB.Exec(script); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return &SQLiteStore{sqlDB: sqlDB, ledgerID: ledgerID, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// LedgerID identifies the instance this store is scoped to.
func (s *SQLiteStore) LedgerID() string {
	return s.ledgerID
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Update runs fn in an immediate transaction.
func (s *SQLiteStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	now := toMillis(s.now())
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO ledger_instances (id, created_at, updated_at) VALUES (?, ?, ?)`, s.ledgerID, now, now); err != nil {
		return fmt.Errorf("ensure ledger instance: %w", err)
	}

	if err := fn(&sqliteTx{tx: tx, ledgerID: s.ledgerID, now: s.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// View runs fn without writes. Writes through tx are rejected before they
// reach the driver.
func (s *SQLiteStore) View(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	return fn(&sqliteTx{tx: tx, ledgerID: s.ledgerID, now: s.now, readOnly: true})
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

type sqliteTx struct {
	tx       *sql.Tx
	ledgerID string
	now      func() time.Time
	readOnly bool
}

func (t *sqliteTx) Admin(ctx context.Context) (Address, bool, error) {
	var admin sql.NullString
	err := t.tx.QueryRowContext(ctx, `SELECT admin FROM ledger_instances WHERE id = ?`, t.ledgerID).Scan(&admin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read admin: %w", err)
	}
	if !admin.Valid {
		return "", false, nil
	}
	return Address(admin.String), true, nil
}

func (t *sqliteTx) PutAdmin(ctx context.Context, admin Address) error {
	if t.readOnly {
		return errReadOnly
	}
	if _, err := t.tx.ExecContext(ctx, `UPDATE ledger_instances SET admin = ?, updated_at = ? WHERE id = ?`,
		string(admin), toMillis(t.now()), t.ledgerID); err != nil {
		return fmt.Errorf("write admin: %w", err)
	}
	return nil
}

func (t *sqliteTx) Paused(ctx context.Context) (bool, bool, error) {
	var paused sql.NullBool
	err := t.tx.QueryRowContext(ctx, `SELECT paused FROM ledger_instances WHERE id = ?`, t.ledgerID).Scan(&paused)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("read paused: %w", err)
	}
	if !paused.Valid {
		return false, false, nil
	}
	return paused.Bool, true, nil
}

func (t *sqliteTx) PutPaused(ctx context.Context, paused bool) error {
	if t.readOnly {
		return errReadOnly
	}
	if _, err := t.tx.ExecContext(ctx, `UPDATE ledger_instances SET paused = ?, updated_at = ? WHERE id = ?`,
		paused, toMillis(t.now()), t.ledgerID); err != nil {
		return fmt.Errorf("write paused: %w", err)
	}
	return nil
}

func (t *sqliteTx) Balance(ctx context.Context, user Address) (Amount, bool, error) {
	var raw string
	err := t.tx.QueryRowContext(ctx, `SELECT balance FROM ledger_balances WHERE ledger_id = ? AND account = ?`,
		t.ledgerID, string(user)).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

func (t *sqliteTx) PutBalance(ctx context.Context, user Address, amount Amount) error {
	if t.readOnly {
		return errReadOnly
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("write balance for %s: negative balance %s", user, amount)
	}
	const stmt = `INSERT INTO ledger_balances (ledger_id, account, balance, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT (ledger_id, account) DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at`
	if _, err := t.tx.ExecContext(ctx, stmt, t.ledgerID, string(user), amount.String(), toMillis(t.now())); err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	return nil
}
