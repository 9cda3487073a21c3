// Package sqlitestore is a single-file store backend for local play and
// tests. SQLite admits one writer at a time, so unlike the Postgres and
// memory backends, updates on different keys do queue behind each other.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"tycoon/internal/domain"
	"tycoon/internal/store"
	"tycoon/internal/store/sqlitestore/migrations"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

type Store struct {
	sqlDB *sql.DB
}

var (
	_ store.Store    = (*Store)(nil)
	_ domain.Ledger  = (*Store)(nil)
	_ domain.Wallets = (*Store)(nil)
)

func toMillis(v time.Time) int64 {
	return v.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens the database at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const investmentColumns = `owner_id, type_id, condition, accrued_balance, is_open, purchased_at, last_settled_at, version`

type scanner interface {
	Scan(dest ...any) error
}

func scanInvestment(row scanner) (domain.Investment, error) {
	var (
		inv               domain.Investment
		open              int64
		purchased, settle int64
	)
	err := row.Scan(&inv.OwnerID, &inv.TypeID, &inv.Condition, &inv.AccruedBalance, &open, &purchased, &settle, &inv.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return inv, domain.ErrNotFound
	}
	if err != nil {
		return inv, classify(err)
	}
	inv.IsOpen = open != 0
	inv.PurchasedAt = fromMillis(purchased)
	inv.LastSettledAt = fromMillis(settle)
	return inv, nil
}

func (s *Store) Get(ctx context.Context, key domain.Key) (domain.Investment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Investment{}, err
	}
	return scanInvestment(s.sqlDB.QueryRowContext(ctx, `
		SELECT `+investmentColumns+`
		FROM investments
		WHERE owner_id = ? AND type_id = ?
	`, key.OwnerID, key.TypeID))
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]domain.Investment, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT `+investmentColumns+`
		FROM investments
		WHERE owner_id = ?
		ORDER BY type_id
	`, ownerID)
	if err != nil {
		return nil, classify(err)
	}
	return collect(rows)
}

func (s *Store) ListOpen(ctx context.Context, page store.Page) ([]domain.Investment, error) {
	page = page.Normalized()
	due := int64(1<<63 - 1)
	if !page.DueBefore.IsZero() {
		due = toMillis(page.DueBefore)
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT `+investmentColumns+`
		FROM investments
		WHERE is_open = 1
		  AND (owner_id > ? OR (owner_id = ? AND type_id > ?))
		  AND last_settled_at <= ?
		ORDER BY owner_id, type_id
		LIMIT ?
	`, page.After.OwnerID, page.After.OwnerID, page.After.TypeID, due, page.Limit)
	if err != nil {
		return nil, classify(err)
	}
	return collect(rows)
}

func collect(rows *sql.Rows) ([]domain.Investment, error) {
	defer rows.Close()
	out := make([]domain.Investment, 0)
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *Store) Events(ctx context.Context, key domain.Key, limit int) ([]domain.Event, error) {
	if limit <= 0 || limit > store.MaxPageSize {
		limit = store.MaxPageSize
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT id, owner_id, type_id, kind, narrative_id, narrative, balance_impact, occurred_at
		FROM investment_events
		WHERE owner_id = ? AND type_id = ?
		ORDER BY occurred_at DESC, seq DESC
		LIMIT ?
	`, key.OwnerID, key.TypeID, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]domain.Event, 0)
	for rows.Next() {
		var (
			ev   domain.Event
			kind string
			at   int64
		)
		if err := rows.Scan(&ev.ID, &ev.OwnerID, &ev.TypeID, &kind, &ev.NarrativeID, &ev.Narrative, &ev.BalanceImpact, &at); err != nil {
			return nil, classify(err)
		}
		ev.Kind = domain.EventKind(kind)
		ev.OccurredAt = fromMillis(at)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, key domain.Key, fn func(tx store.Tx) error) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	if err := fn(&txn{tx: tx, key: key}); err != nil {
		return err
	}
	return classify(tx.Commit())
}

type txn struct {
	tx  *sql.Tx
	key domain.Key
}

var _ store.LedgerTx = (*txn)(nil)

func (t *txn) Get(ctx context.Context) (domain.Investment, error) {
	return scanInvestment(t.tx.QueryRowContext(ctx, `
		SELECT `+investmentColumns+`
		FROM investments
		WHERE owner_id = ? AND type_id = ?
	`, t.key.OwnerID, t.key.TypeID))
}

func (t *txn) Upsert(ctx context.Context, inv domain.Investment) (int64, error) {
	if inv.Key() != t.key {
		return 0, fmt.Errorf("upsert %s inside update of %s", inv.Key(), t.key)
	}
	open := 0
	if inv.IsOpen {
		open = 1
	}
	next := inv.Version + 1
	var (
		res sql.Result
		err error
	)
	if inv.Version == 0 {
		res, err = t.tx.ExecContext(ctx, `
			INSERT INTO investments (owner_id, type_id, condition, accrued_balance, is_open, purchased_at, last_settled_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (owner_id, type_id) DO NOTHING
		`, inv.OwnerID, inv.TypeID, inv.Condition, inv.AccruedBalance, open, toMillis(inv.PurchasedAt), toMillis(inv.LastSettledAt), next)
	} else {
		res, err = t.tx.ExecContext(ctx, `
			UPDATE investments
			SET condition = ?, accrued_balance = ?, is_open = ?, purchased_at = ?, last_settled_at = ?, version = ?
			WHERE owner_id = ? AND type_id = ? AND version = ?
		`, inv.Condition, inv.AccruedBalance, open, toMillis(inv.PurchasedAt), toMillis(inv.LastSettledAt), next, inv.OwnerID, inv.TypeID, inv.Version)
	}
	if err != nil {
		return 0, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %s at version %d", domain.ErrConflict, t.key, inv.Version)
	}
	return next, nil
}

func (t *txn) AppendEvent(ctx context.Context, ev domain.Event) error {
	if ev.Key() != t.key {
		return fmt.Errorf("event for %s inside update of %s", ev.Key(), t.key)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO investment_events (id, owner_id, type_id, kind, narrative_id, narrative, balance_impact, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.OwnerID, ev.TypeID, string(ev.Kind), ev.NarrativeID, ev.Narrative, ev.BalanceImpact, toMillis(ev.OccurredAt))
	return classify(err)
}

func (t *txn) ClaimOp(ctx context.Context, opKey, op string) error {
	opKey = strings.TrimSpace(opKey)
	if opKey == "" {
		return fmt.Errorf("idempotency key is required")
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO op_claims (owner_id, op_key, op, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id, op_key) DO NOTHING
	`, t.key.OwnerID, opKey, op, toMillis(time.Now()))
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateOp, opKey)
	}
	return nil
}

func (t *txn) Debit(ctx context.Context, ownerID string, amount int64, idemKey string) error {
	return applyWallet(ctx, t.tx, ownerID, -amount, idemKey)
}

func (t *txn) Credit(ctx context.Context, ownerID string, amount int64, idemKey string) error {
	return applyWallet(ctx, t.tx, ownerID, amount, idemKey)
}

func (s *Store) Debit(ctx context.Context, ownerID string, amount int64, idemKey string) error {
	return s.walletTx(ctx, ownerID, -amount, idemKey)
}

func (s *Store) Credit(ctx context.Context, ownerID string, amount int64, idemKey string) error {
	return s.walletTx(ctx, ownerID, amount, idemKey)
}

func (s *Store) walletTx(ctx context.Context, ownerID string, delta int64, idemKey string) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()
	if err := applyWallet(ctx, tx, ownerID, delta, idemKey); err != nil {
		return err
	}
	return classify(tx.Commit())
}

func (s *Store) EnsureWallet(ctx context.Context, ownerID string, starter int64) error {
	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO wallets (owner_id, balance, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (owner_id) DO NOTHING
	`, ownerID, starter, toMillis(time.Now()))
	return classify(err)
}

func (s *Store) Balance(ctx context.Context, ownerID string) (int64, error) {
	var balance int64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE owner_id = ?`, ownerID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, classify(err)
}

func applyWallet(ctx context.Context, tx *sql.Tx, ownerID string, delta int64, idemKey string) error {
	idemKey = strings.TrimSpace(idemKey)
	if idemKey == "" {
		return fmt.Errorf("idempotency key is required")
	}
	if delta == 0 {
		return fmt.Errorf("amount must be > 0")
	}
	now := toMillis(time.Now())
	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (owner_id, idem_key, delta, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id, idem_key) DO NOTHING
	`, ownerID, idemKey, delta, now)
	if err != nil {
		return classify(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return classify(err)
	} else if n == 0 {
		return nil
	}

	var balance int64
	err = tx.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE owner_id = ?`, ownerID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		if delta < 0 {
			return fmt.Errorf("%w: no wallet for %s", domain.ErrInsufficientFunds, ownerID)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO wallets (owner_id, balance, updated_at) VALUES (?, ?, ?)`, ownerID, delta, now)
		return classify(err)
	}
	if err != nil {
		return classify(err)
	}
	if balance+delta < 0 {
		return fmt.Errorf("%w: balance %d, need %d", domain.ErrInsufficientFunds, balance, -delta)
	}
	_, err = tx.ExecContext(ctx, `UPDATE wallets SET balance = ?, updated_at = ? WHERE owner_id = ?`, balance+delta, now, ownerID)
	return classify(err)
}

// classify marks lock contention and unique violations as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", domain.ErrTransient, err)
		}
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %v", domain.ErrTransient, err)
		}
	}
	return err
}
