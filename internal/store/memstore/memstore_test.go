package memstore

import (
	"context"
	"errors"
	"testing"

	"tycoon/internal/domain"
	"tycoon/internal/store"
	"tycoon/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestBeforeCommitAbortsUpdate(t *testing.T) {
	s := New()
	key := domain.Key{OwnerID: "u1", TypeID: "restaurant"}
	fail := errors.New("disk full")
	s.BeforeCommit = func(domain.Key) error { return fail }

	err := s.Update(context.Background(), key, func(tx store.Tx) error {
		_, err := tx.Upsert(context.Background(), domain.Investment{OwnerID: "u1", TypeID: "restaurant", Condition: 100, IsOpen: true})
		return err
	})
	if !errors.Is(err, fail) {
		t.Fatalf("Update() err = %v, want %v", err, fail)
	}
	if _, err := s.Get(context.Background(), key); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("row written despite aborted commit: %v", err)
	}
}

func TestUpdateRejectsForeignKey(t *testing.T) {
	s := New()
	key := domain.Key{OwnerID: "u1", TypeID: "restaurant"}
	err := s.Update(context.Background(), key, func(tx store.Tx) error {
		_, err := tx.Upsert(context.Background(), domain.Investment{OwnerID: "u2", TypeID: "restaurant"})
		return err
	})
	if err == nil {
		t.Fatalf("expected error upserting a different key")
	}
}
