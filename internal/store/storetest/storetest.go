// Package storetest holds behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tycoon/internal/domain"
	"tycoon/internal/store"

	"github.com/google/go-cmp/cmp"
)

// Run exercises a fresh store returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"GetMissing", testGetMissing},
		{"UpsertAndGet", testUpsertAndGet},
		{"VersionConflict", testVersionConflict},
		{"RollbackOnError", testRollbackOnError},
		{"ListOpenPaging", testListOpenPaging},
		{"EventsNewestFirst", testEventsNewestFirst},
		{"SerializesSameKey", testSerializesSameKey},
		{"ClaimOp", testClaimOp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(owner, typeID string) domain.Investment {
	return domain.Investment{
		OwnerID:        owner,
		TypeID:         typeID,
		Condition:      100,
		AccruedBalance: 0,
		IsOpen:         true,
		PurchasedAt:    base,
		LastSettledAt:  base,
	}
}

func put(t *testing.T, s store.Store, inv domain.Investment) domain.Investment {
	t.Helper()
	err := s.Update(context.Background(), inv.Key(), func(tx store.Tx) error {
		cur, err := tx.Get(context.Background())
		switch {
		case errors.Is(err, domain.ErrNotFound):
			inv.Version = 0
		case err != nil:
			return err
		default:
			inv.Version = cur.Version
		}
		v, err := tx.Upsert(context.Background(), inv)
		inv.Version = v
		return err
	})
	if err != nil {
		t.Fatalf("put %s: %v", inv.Key(), err)
	}
	return inv
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), domain.Key{OwnerID: "u1", TypeID: "restaurant"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() err = %v, want ErrNotFound", err)
	}
}

func testUpsertAndGet(t *testing.T, s store.Store) {
	want := sample("u1", "restaurant")
	want.Condition = 42.5
	want.AccruedBalance = 120
	want = put(t, s, want)
	if want.Version != 1 {
		t.Fatalf("first version = %d, want 1", want.Version)
	}

	got, err := s.Get(context.Background(), want.Key())
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Get() mismatch (-want +got):\n%s", diff)
	}

	owned, err := s.ListByOwner(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListByOwner() error: %v", err)
	}
	if len(owned) != 1 || owned[0].TypeID != "restaurant" {
		t.Fatalf("ListByOwner() = %+v", owned)
	}
}

func testVersionConflict(t *testing.T, s store.Store) {
	inv := put(t, s, sample("u1", "retail_shop"))
	stale := inv
	stale.Version = 0
	err := s.Update(context.Background(), inv.Key(), func(tx store.Tx) error {
		_, err := tx.Upsert(context.Background(), stale)
		return err
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale upsert err = %v, want ErrConflict", err)
	}
}

func testRollbackOnError(t *testing.T, s store.Store) {
	inv := put(t, s, sample("u1", "grocery_store"))
	boom := errors.New("boom")
	err := s.Update(context.Background(), inv.Key(), func(tx store.Tx) error {
		next := inv
		next.Condition = 10
		if _, err := tx.Upsert(context.Background(), next); err != nil {
			return err
		}
		if err := tx.AppendEvent(context.Background(), domain.Event{
			ID: "ev-rollback", OwnerID: "u1", TypeID: "grocery_store",
			Kind: domain.EventMinor, OccurredAt: base,
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() err = %v, want boom", err)
	}
	got, err := s.Get(context.Background(), inv.Key())
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Condition != 100 || got.Version != inv.Version {
		t.Fatalf("rolled back update leaked: %+v", got)
	}
	evs, err := s.Events(context.Background(), inv.Key(), 10)
	if err != nil {
		t.Fatalf("Events() error: %v", err)
	}
	if len(evs) != 0 {
		t.Fatalf("rolled back event leaked: %+v", evs)
	}
}

func testListOpenPaging(t *testing.T, s store.Store) {
	for i := 0; i < 5; i++ {
		put(t, s, sample(fmt.Sprintf("u%d", i), "restaurant"))
	}
	closed := sample("u9", "restaurant")
	closed.IsOpen = false
	put(t, s, closed)
	fresh := sample("u8", "restaurant")
	fresh.LastSettledAt = base.Add(2 * time.Hour)
	put(t, s, fresh)

	due := base.Add(time.Hour)
	var seen []string
	page := store.Page{DueBefore: due, Limit: 2}
	for {
		rows, err := s.ListOpen(context.Background(), page)
		if err != nil {
			t.Fatalf("ListOpen() error: %v", err)
		}
		if len(rows) == 0 {
			break
		}
		if len(rows) > 2 {
			t.Fatalf("page size %d exceeds limit", len(rows))
		}
		for _, r := range rows {
			seen = append(seen, r.OwnerID)
		}
		page.After = rows[len(rows)-1].Key()
	}
	want := []string{"u0", "u1", "u2", "u3", "u4"}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("ListOpen() owners mismatch (-want +got):\n%s", diff)
	}
}

func testEventsNewestFirst(t *testing.T, s store.Store) {
	inv := put(t, s, sample("u1", "real_estate"))
	kinds := []domain.EventKind{domain.EventPurchase, domain.EventMinor, domain.EventShutdown}
	for i, k := range kinds {
		ev := domain.Event{
			ID:            fmt.Sprintf("ev-%d", i),
			OwnerID:       "u1",
			TypeID:        "real_estate",
			Kind:          k,
			BalanceImpact: int64(-i),
			OccurredAt:    base.Add(time.Duration(i) * time.Minute),
		}
		err := s.Update(context.Background(), inv.Key(), func(tx store.Tx) error {
			return tx.AppendEvent(context.Background(), ev)
		})
		if err != nil {
			t.Fatalf("AppendEvent() error: %v", err)
		}
	}
	evs, err := s.Events(context.Background(), inv.Key(), 2)
	if err != nil {
		t.Fatalf("Events() error: %v", err)
	}
	if len(evs) != 2 || evs[0].Kind != domain.EventShutdown || evs[1].Kind != domain.EventMinor {
		t.Fatalf("Events() = %+v", evs)
	}
}

func testSerializesSameKey(t *testing.T, s store.Store) {
	inv := put(t, s, sample("u1", "private_company"))
	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for attempt := 0; attempt < 50; attempt++ {
				err := s.Update(context.Background(), inv.Key(), func(tx store.Tx) error {
					cur, err := tx.Get(context.Background())
					if err != nil {
						return err
					}
					cur.AccruedBalance++
					_, err = tx.Upsert(context.Background(), cur)
					return err
				})
				if err == nil {
					return
				}
				if !domain.IsTransient(err) {
					errs <- err
					return
				}
				time.Sleep(time.Millisecond)
			}
			errs <- fmt.Errorf("increment did not commit")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent update: %v", err)
	}
	got, err := s.Get(context.Background(), inv.Key())
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.AccruedBalance != workers {
		t.Fatalf("AccruedBalance = %d, want %d", got.AccruedBalance, workers)
	}
}

func claim(s store.Store, key domain.Key, opKey string, fail error) error {
	return s.Update(context.Background(), key, func(tx store.Tx) error {
		if err := tx.ClaimOp(context.Background(), opKey, "test"); err != nil {
			return err
		}
		return fail
	})
}

func testClaimOp(t *testing.T, s store.Store) {
	shop := domain.Key{OwnerID: "u1", TypeID: "retail_shop"}
	grocery := domain.Key{OwnerID: "u1", TypeID: "grocery_store"}

	if err := claim(s, shop, "k1", nil); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := claim(s, grocery, "k1", nil); !errors.Is(err, domain.ErrDuplicateOp) {
		t.Fatalf("claim on another key of the same owner err = %v, want ErrDuplicateOp", err)
	}
	if err := claim(s, domain.Key{OwnerID: "u2", TypeID: "retail_shop"}, "k1", nil); err != nil {
		t.Fatalf("claim by another owner: %v", err)
	}

	boom := errors.New("boom")
	if err := claim(s, shop, "k2", boom); !errors.Is(err, boom) {
		t.Fatalf("claim err = %v, want boom", err)
	}
	if err := claim(s, shop, "k2", nil); err != nil {
		t.Fatalf("claim after rollback: %v", err)
	}
}
