// Package pgstore is the Postgres store backend. Each Update runs in one
// READ COMMITTED transaction that locks the investment row, so writers on
// different keys never wait on each other.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tycoon/internal/domain"
	"tycoon/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

var (
	_ store.Store    = (*Store)(nil)
	_ domain.Ledger  = (*Store)(nil)
	_ domain.Wallets = (*Store)(nil)
)

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Close is a no-op; the pool belongs to the caller.
func (s *Store) Close() error { return nil }

const investmentColumns = `owner_id, type_id, condition, accrued_balance, is_open, purchased_at, last_settled_at, version`

func scanInvestment(row pgx.Row) (domain.Investment, error) {
	var inv domain.Investment
	err := row.Scan(&inv.OwnerID, &inv.TypeID, &inv.Condition, &inv.AccruedBalance, &inv.IsOpen, &inv.PurchasedAt, &inv.LastSettledAt, &inv.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return inv, domain.ErrNotFound
	}
	if err != nil {
		return inv, classify(err)
	}
	inv.PurchasedAt = inv.PurchasedAt.UTC()
	inv.LastSettledAt = inv.LastSettledAt.UTC()
	return inv, nil
}

func (s *Store) Get(ctx context.Context, key domain.Key) (domain.Investment, error) {
	return scanInvestment(s.db.QueryRow(ctx, `
		SELECT `+investmentColumns+`
		FROM tycoon.investments
		WHERE owner_id = $1 AND type_id = $2
	`, key.OwnerID, key.TypeID))
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]domain.Investment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+investmentColumns+`
		FROM tycoon.investments
		WHERE owner_id = $1
		ORDER BY type_id
	`, ownerID)
	if err != nil {
		return nil, classify(err)
	}
	return collect(rows)
}

func (s *Store) ListOpen(ctx context.Context, page store.Page) ([]domain.Investment, error) {
	page = page.Normalized()
	args := []any{page.After.OwnerID, page.After.TypeID, page.Limit}
	due := ""
	if !page.DueBefore.IsZero() {
		due = "AND last_settled_at <= $4"
		args = append(args, page.DueBefore)
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+investmentColumns+`
		FROM tycoon.investments
		WHERE is_open AND (owner_id, type_id) > ($1, $2) `+due+`
		ORDER BY owner_id, type_id
		LIMIT $3
	`, args...)
	if err != nil {
		return nil, classify(err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]domain.Investment, error) {
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
	rows, err := s.db.Query(ctx, `
		SELECT id, owner_id, type_id, kind, narrative_id, narrative, balance_impact, occurred_at
		FROM tycoon.investment_events
		WHERE owner_id = $1 AND type_id = $2
		ORDER BY occurred_at DESC, seq DESC
		LIMIT $3
	`, key.OwnerID, key.TypeID, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]domain.Event, 0)
	for rows.Next() {
		var ev domain.Event
		var kind string
		if err := rows.Scan(&ev.ID, &ev.OwnerID, &ev.TypeID, &kind, &ev.NarrativeID, &ev.Narrative, &ev.BalanceImpact, &ev.OccurredAt); err != nil {
			return nil, classify(err)
		}
		ev.Kind = domain.EventKind(kind)
		ev.OccurredAt = ev.OccurredAt.UTC()
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
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txn{tx: tx, key: key}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

type txn struct {
	tx  pgx.Tx
	key domain.Key
}

var _ store.LedgerTx = (*txn)(nil)

func (t *txn) Get(ctx context.Context) (domain.Investment, error) {
	return scanInvestment(t.tx.QueryRow(ctx, `
		SELECT `+investmentColumns+`
		FROM tycoon.investments
		WHERE owner_id = $1 AND type_id = $2
		FOR UPDATE
	`, t.key.OwnerID, t.key.TypeID))
}

func (t *txn) Upsert(ctx context.Context, inv domain.Investment) (int64, error) {
	if inv.Key() != t.key {
		return 0, fmt.Errorf("upsert %s inside update of %s", inv.Key(), t.key)
	}
	next := inv.Version + 1
	var (
		tag pgconn.CommandTag
		err error
	)
	if inv.Version == 0 {
		tag, err = t.tx.Exec(ctx, `
			INSERT INTO tycoon.investments (owner_id, type_id, condition, accrued_balance, is_open, purchased_at, last_settled_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (owner_id, type_id) DO NOTHING
		`, inv.OwnerID, inv.TypeID, inv.Condition, inv.AccruedBalance, inv.IsOpen, inv.PurchasedAt, inv.LastSettledAt, next)
	} else {
		tag, err = t.tx.Exec(ctx, `
			UPDATE tycoon.investments
			SET condition = $3, accrued_balance = $4, is_open = $5, purchased_at = $6,
			    last_settled_at = $7, version = $8, updated_at = now()
			WHERE owner_id = $1 AND type_id = $2 AND version = $9
		`, inv.OwnerID, inv.TypeID, inv.Condition, inv.AccruedBalance, inv.IsOpen, inv.PurchasedAt, inv.LastSettledAt, next, inv.Version)
	}
	if err != nil {
		return 0, classify(err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("%w: %s at version %d", domain.ErrConflict, t.key, inv.Version)
	}
	return next, nil
}

func (t *txn) AppendEvent(ctx context.Context, ev domain.Event) error {
	if ev.Key() != t.key {
		return fmt.Errorf("event for %s inside update of %s", ev.Key(), t.key)
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO tycoon.investment_events (id, owner_id, type_id, kind, narrative_id, narrative, balance_impact, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.ID, ev.OwnerID, ev.TypeID, string(ev.Kind), ev.NarrativeID, ev.Narrative, ev.BalanceImpact, ev.OccurredAt)
	return classify(err)
}

func (t *txn) ClaimOp(ctx context.Context, opKey, op string) error {
	opKey = strings.TrimSpace(opKey)
	if opKey == "" {
		return fmt.Errorf("idempotency key is required")
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO tycoon.op_claims (owner_id, op_key, op, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (owner_id, op_key) DO NOTHING
	`, t.key.OwnerID, opKey, op)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
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
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)
	if err := applyWallet(ctx, tx, ownerID, delta, idemKey); err != nil {
		return err
	}
	return classify(tx.Commit(ctx))
}

func (s *Store) EnsureWallet(ctx context.Context, ownerID string, starter int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO tycoon.wallets (owner_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (owner_id) DO NOTHING
	`, ownerID, starter)
	return classify(err)
}

func (s *Store) Balance(ctx context.Context, ownerID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(ctx, `SELECT balance FROM tycoon.wallets WHERE owner_id = $1`, ownerID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, classify(err)
}

// applyWallet records idemKey and moves the balance in the caller's
// transaction. A key already recorded makes the call a no-op.
func applyWallet(ctx context.Context, tx pgx.Tx, ownerID string, delta int64, idemKey string) error {
	idemKey = strings.TrimSpace(idemKey)
	if idemKey == "" {
		return fmt.Errorf("idempotency key is required")
	}
	if delta == 0 {
		return fmt.Errorf("amount must be > 0")
	}
	cmd, err := tx.Exec(ctx, `
		INSERT INTO tycoon.ledger_entries (owner_id, idem_key, delta, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (owner_id, idem_key) DO NOTHING
	`, ownerID, idemKey, delta)
	if err != nil {
		return classify(err)
	}
	if cmd.RowsAffected() == 0 {
		return nil
	}

	var balance int64
	if err := tx.QueryRow(ctx, `
		SELECT balance FROM tycoon.wallets WHERE owner_id = $1 FOR UPDATE
	`, ownerID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if delta < 0 {
				return fmt.Errorf("%w: no wallet for %s", domain.ErrInsufficientFunds, ownerID)
			}
			_, err = tx.Exec(ctx, `INSERT INTO tycoon.wallets (owner_id, balance) VALUES ($1, $2)`, ownerID, delta)
			return classify(err)
		}
		return classify(err)
	}
	if balance+delta < 0 {
		return fmt.Errorf("%w: balance %d, need %d", domain.ErrInsufficientFunds, balance, -delta)
	}
	_, err = tx.Exec(ctx, `
		UPDATE tycoon.wallets
		SET balance = $1, updated_at = now()
		WHERE owner_id = $2
	`, balance+delta, ownerID)
	return classify(err)
}

// classify marks serialization, deadlock and unique violations as
// transient so the lifecycle layer retries them.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %v", domain.ErrTransient, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	return err
}
