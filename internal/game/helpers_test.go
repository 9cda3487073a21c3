package game

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tycoon/internal/catalog"
	"tycoon/internal/domain"
	"tycoon/internal/emergency"
	"tycoon/internal/ledger"
	"tycoon/internal/store"
	"tycoon/internal/store/memstore"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// fixedRoller returns the same draw every time. Zero fires every eligible
// event; values near one fire none.
type fixedRoller float64

func (r fixedRoller) Float64() float64 { return float64(r) }
func (r fixedRoller) Intn(int) int     { return 0 }

const (
	always = fixedRoller(0)
	never  = fixedRoller(0.999999)
)

// seqRoller returns draws in order and repeats the last one.
type seqRoller struct {
	mu    sync.Mutex
	draws []float64
}

func (r *seqRoller) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.draws[0]
	if len(r.draws) > 1 {
		r.draws = r.draws[1:]
	}
	return v
}

func (r *seqRoller) Intn(int) int { return 0 }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type sentMessage struct {
	ownerID string
	msg     domain.Message
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, ownerID string, msg domain.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{ownerID: ownerID, msg: msg})
	return n.err
}

func (n *recordingNotifier) kinds() []domain.MessageKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.MessageKind, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.msg.Kind)
	}
	return out
}

var testEntry = domain.CatalogEntry{
	TypeID:                 "test_shop",
	DisplayName:            "Test Shop",
	PurchaseCost:           1200,
	HourlyIncome:           10,
	Capacity:               400,
	DecayPerHour:           2,
	RiskTier:               domain.RiskMedium,
	MinorNarratives:        []string{"The shop flooded."},
	CatastrophicNarratives: []string{"The shop burned down."},
}

type harness struct {
	store    *memstore.Store
	ledger   *ledger.Memory
	board    *emergency.Board
	notifier *recordingNotifier
	clock    *clock
	deps     Deps
	svc      *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat, err := catalog.New([]domain.CatalogEntry{testEntry})
	if err != nil {
		t.Fatalf("catalog.New() error: %v", err)
	}
	clk := &clock{now: t0}
	var ids atomic.Int64
	h := &harness{
		store:    memstore.New(),
		ledger:   ledger.NewMemory(),
		notifier: &recordingNotifier{},
		clock:    clk,
	}
	h.board = emergency.NewBoard(emergency.WithClock(clk.Now))
	h.deps = Deps{
		Store:          h.store,
		Catalog:        cat,
		Board:          h.board,
		Ledger:         h.ledger,
		Notifier:       h.notifier,
		StarterBalance: 5000,
		Now:            clk.Now,
		NewID:          func() string { return fmt.Sprintf("id-%d", ids.Add(1)) },
		RetryBase:      time.Millisecond,
	}
	h.svc = NewService(h.deps, nil)
	return h
}

func (h *harness) settler(r Roller) *Settler {
	return NewSettler(h.deps, NewRiskGenerator(r), SettlerConfig{PageSize: 2, Parallel: 4, PassTimeout: 5 * time.Second}, nil)
}

// seed writes inv directly, bypassing the ledger.
func (h *harness) seed(t *testing.T, inv domain.Investment) {
	t.Helper()
	err := h.store.Update(context.Background(), inv.Key(), func(tx store.Tx) error {
		cur, err := tx.Get(context.Background())
		if err == nil {
			inv.Version = cur.Version
		}
		_, err = tx.Upsert(context.Background(), inv)
		return err
	})
	if err != nil {
		t.Fatalf("seed %s: %v", inv.Key(), err)
	}
}

func (h *harness) get(t *testing.T, owner string) domain.Investment {
	t.Helper()
	inv, err := h.store.Get(context.Background(), domain.Key{OwnerID: owner, TypeID: testEntry.TypeID})
	if err != nil {
		t.Fatalf("get %s: %v", owner, err)
	}
	return inv
}

func (h *harness) balance(owner string) int64 {
	b, _ := h.ledger.Balance(context.Background(), owner)
	return b
}

func openInvestment(owner string, condition float64, balance int64, settled time.Time) domain.Investment {
	return domain.Investment{
		OwnerID:        owner,
		TypeID:         testEntry.TypeID,
		Condition:      condition,
		AccruedBalance: balance,
		IsOpen:         true,
		PurchasedAt:    settled,
		LastSettledAt:  settled,
	}
}
