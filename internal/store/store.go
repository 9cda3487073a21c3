// Package store defines durable access to investments and their event log.
//
// All mutation goes through Update, which serializes writers on a single
// (owner, type) key. Backends live in subpackages.
package store

import (
	"context"
	"time"

	"tycoon/internal/domain"
)

const (
	DefaultPageSize = 200
	MaxPageSize     = 1000
)

// Page selects one bounded slice of open investments for settlement.
// Rows are ordered by key and start strictly after After.
type Page struct {
	After     domain.Key
	DueBefore time.Time
	Limit     int
}

func (p Page) Normalized() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

type Store interface {
	Get(ctx context.Context, key domain.Key) (domain.Investment, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Investment, error)
	// ListOpen returns open investments last settled at or before
	// page.DueBefore.
	ListOpen(ctx context.Context, page Page) ([]domain.Investment, error)
	Events(ctx context.Context, key domain.Key, limit int) ([]domain.Event, error)
	// Update runs fn with exclusive access to key. If fn returns an error
	// nothing it wrote is kept. Update never retries fn.
	Update(ctx context.Context, key domain.Key, fn func(tx Tx) error) error
	Close() error
}

type Tx interface {
	// Get returns domain.ErrNotFound when the row does not exist.
	Get(ctx context.Context) (domain.Investment, error)
	// Upsert writes inv if its Version still matches the stored row and
	// returns the new version. A mismatch yields domain.ErrConflict.
	Upsert(ctx context.Context, inv domain.Investment) (int64, error)
	AppendEvent(ctx context.Context, ev domain.Event) error
	// ClaimOp records opKey for the key's owner. The claim commits with
	// the update; a key already committed yields domain.ErrDuplicateOp.
	ClaimOp(ctx context.Context, opKey, op string) error
}

// LedgerTx is implemented by transactions whose backend also stores owner
// wallets, so debits commit or roll back with the investment row.
type LedgerTx interface {
	Tx
	Debit(ctx context.Context, ownerID string, amount int64, idemKey string) error
	Credit(ctx context.Context, ownerID string, amount int64, idemKey string) error
}
