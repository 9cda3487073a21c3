package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"tycoon/internal/db"
	"tycoon/internal/domain"
	"tycoon/internal/store"
	"tycoon/internal/store/storetest"

	"github.com/jackc/pgx/v5/pgconn"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	url := os.Getenv("TYCOON_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TYCOON_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE tycoon.investments, tycoon.investment_events, tycoon.wallets, tycoon.ledger_entries`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return New(pool)
}

func TestStore(t *testing.T) {
	storetest.Run(t, openTestStore)
}

func TestWalletIdempotence(t *testing.T) {
	s := openTestStore(t).(*Store)
	ctx := context.Background()
	if err := s.EnsureWallet(ctx, "u1", 1000); err != nil {
		t.Fatalf("EnsureWallet() error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Debit(ctx, "u1", 400, "buy-1"); err != nil {
			t.Fatalf("Debit() error: %v", err)
		}
	}
	if err := s.Debit(ctx, "u1", 700, "buy-2"); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("Debit() err = %v, want ErrInsufficientFunds", err)
	}
	got, err := s.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("Balance() error: %v", err)
	}
	if got != 600 {
		t.Fatalf("Balance() = %d, want 600", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code      string
		transient bool
	}{
		{"40001", true},
		{"40P01", true},
		{"23505", true},
		{"23514", false},
	}
	for _, tt := range tests {
		err := classify(fmt.Errorf("exec: %w", &pgconn.PgError{Code: tt.code}))
		if got := domain.IsTransient(err); got != tt.transient {
			t.Errorf("classify(%s) transient = %v, want %v", tt.code, got, tt.transient)
		}
	}
	if classify(nil) != nil {
		t.Fatalf("classify(nil) should be nil")
	}
}
