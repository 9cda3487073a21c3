// Package memstore is an in-process store backend for development and tests.
// Writers on the same key share a mutex; different keys never contend beyond
// the brief map commit.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"tycoon/internal/domain"
	"tycoon/internal/store"
)

type Store struct {
	mu     sync.RWMutex
	rows   map[domain.Key]domain.Investment
	events map[domain.Key][]domain.Event
	claims map[opClaim]string
	locks  sync.Map

	// BeforeCommit runs after fn succeeds and before staged writes are
	// applied. A non-nil error aborts the update.
	BeforeCommit func(key domain.Key) error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		rows:   map[domain.Key]domain.Investment{},
		events: map[domain.Key][]domain.Event{},
		claims: map[opClaim]string{},
	}
}

// opClaim scopes an idempotency key to its owner.
type opClaim struct {
	ownerID string
	opKey   string
}

func (s *Store) Close() error { return nil }

func (s *Store) Get(ctx context.Context, key domain.Key) (domain.Investment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Investment{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.rows[key]
	if !ok {
		return domain.Investment{}, domain.ErrNotFound
	}
	return inv, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]domain.Investment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Investment, 0)
	for k, inv := range s.rows {
		if k.OwnerID == ownerID {
			out = append(out, inv)
		}
	}
	s.mu.RUnlock()
	sortByKey(out)
	return out, nil
}

func (s *Store) ListOpen(ctx context.Context, page store.Page) ([]domain.Investment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page = page.Normalized()
	s.mu.RLock()
	out := make([]domain.Investment, 0)
	for k, inv := range s.rows {
		if !inv.IsOpen || !page.After.Less(k) {
			continue
		}
		if !page.DueBefore.IsZero() && inv.LastSettledAt.After(page.DueBefore) {
			continue
		}
		out = append(out, inv)
	}
	s.mu.RUnlock()
	sortByKey(out)
	if len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

func (s *Store) Events(ctx context.Context, key domain.Key, limit int) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.events[key]
	out := make([]domain.Event, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, key domain.Key, fn func(tx store.Tx) error) error {
	if err := key.Validate(); err != nil {
		return err
	}
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{s: s, key: key}
	if err := fn(t); err != nil {
		return err
	}
	if s.BeforeCommit != nil {
		if err := s.BeforeCommit(key); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another key of the same owner may have committed the claim since
	// ClaimOp looked.
	for c := range t.claims {
		if _, ok := s.claims[c]; ok {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateOp, c.opKey)
		}
	}
	for c, op := range t.claims {
		s.claims[c] = op
	}
	if t.staged != nil {
		s.rows[key] = *t.staged
	}
	if len(t.events) > 0 {
		s.events[key] = append(s.events[key], t.events...)
	}
	return nil
}

func (s *Store) keyLock(key domain.Key) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

type tx struct {
	s      *Store
	key    domain.Key
	staged *domain.Investment
	events []domain.Event
	claims map[opClaim]string
}

func (t *tx) Get(ctx context.Context) (domain.Investment, error) {
	if t.staged != nil {
		return *t.staged, nil
	}
	return t.s.Get(ctx, t.key)
}

func (t *tx) Upsert(ctx context.Context, inv domain.Investment) (int64, error) {
	if inv.Key() != t.key {
		return 0, fmt.Errorf("upsert %s inside update of %s", inv.Key(), t.key)
	}
	current, err := t.Get(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		current.Version = 0
	case err != nil:
		return 0, err
	}
	if current.Version != inv.Version {
		return 0, fmt.Errorf("%w: %s at version %d, have %d", domain.ErrConflict, t.key, current.Version, inv.Version)
	}
	inv.Version++
	t.staged = &inv
	return inv.Version, nil
}

func (t *tx) AppendEvent(_ context.Context, ev domain.Event) error {
	if ev.Key() != t.key {
		return fmt.Errorf("event for %s inside update of %s", ev.Key(), t.key)
	}
	t.events = append(t.events, ev)
	return nil
}

func (t *tx) ClaimOp(ctx context.Context, opKey, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if opKey == "" {
		return fmt.Errorf("idempotency key is required")
	}
	c := opClaim{ownerID: t.key.OwnerID, opKey: opKey}
	t.s.mu.RLock()
	_, done := t.s.claims[c]
	t.s.mu.RUnlock()
	if _, staged := t.claims[c]; done || staged {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateOp, opKey)
	}
	if t.claims == nil {
		t.claims = map[opClaim]string{}
	}
	t.claims[c] = op
	return nil
}

func sortByKey(invs []domain.Investment) {
	sort.Slice(invs, func(i, j int) bool {
		return invs[i].Key().Less(invs[j].Key())
	})
}
