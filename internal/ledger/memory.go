// Package ledger provides an in-process wallet store implementing
// domain.Ledger for the memory backend and tests.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tycoon/internal/domain"
)

type Memory struct {
	mu       sync.Mutex
	balances map[string]int64
	// applied maps owner and idempotency key to the recorded delta.
	applied map[string]int64

	// FailNext, when set, is consulted before every call and may return an
	// error to simulate an unreachable ledger.
	FailNext func(op, ownerID, idemKey string) error
}

var (
	_ domain.Ledger  = (*Memory)(nil)
	_ domain.Wallets = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		balances: map[string]int64{},
		applied:  map[string]int64{},
	}
}

func (m *Memory) EnsureWallet(ctx context.Context, ownerID string, starter int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[ownerID]; !ok {
		m.balances[ownerID] = starter
	}
	return nil
}

func (m *Memory) Balance(ctx context.Context, ownerID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[ownerID], nil
}

// Set overwrites an owner's balance.
func (m *Memory) Set(ownerID string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[ownerID] = balance
}

func (m *Memory) Debit(ctx context.Context, ownerID string, amount int64, idemKey string) error {
	return m.apply(ctx, "debit", ownerID, -amount, idemKey)
}

func (m *Memory) Credit(ctx context.Context, ownerID string, amount int64, idemKey string) error {
	return m.apply(ctx, "credit", ownerID, amount, idemKey)
}

// Applied returns the signed delta recorded under idemKey for ownerID.
func (m *Memory) Applied(ownerID, idemKey string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delta, ok := m.applied[ownerID+"\x00"+idemKey]
	return delta, ok
}

func (m *Memory) apply(ctx context.Context, op, ownerID string, delta int64, idemKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(ownerID) == "" {
		return fmt.Errorf("owner id is required")
	}
	if strings.TrimSpace(idemKey) == "" {
		return fmt.Errorf("idempotency key is required")
	}
	if delta == 0 {
		return fmt.Errorf("%s amount must be > 0", op)
	}
	if m.FailNext != nil {
		if err := m.FailNext(op, ownerID, idemKey); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id := ownerID + "\x00" + idemKey
	if _, ok := m.applied[id]; ok {
		return nil
	}
	next := m.balances[ownerID] + delta
	if next < 0 {
		return fmt.Errorf("%w: balance %d, need %d", domain.ErrInsufficientFunds, m.balances[ownerID], -delta)
	}
	m.balances[ownerID] = next
	m.applied[id] = delta
	return nil
}
