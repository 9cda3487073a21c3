package game

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tycoon/internal/domain"
	"tycoon/internal/emergency"
	"tycoon/internal/store/memstore"
	"tycoon/internal/store/sqlitestore"
)

func mustWallet(t *testing.T, h *harness, owner string) {
	t.Helper()
	if err := h.svc.EnsureWallet(context.Background(), owner); err != nil {
		t.Fatalf("EnsureWallet() error: %v", err)
	}
}

func TestPurchaseFresh(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")

	res, err := h.svc.Purchase(context.Background(), "u1", "Test_Shop", "op-1")
	if err != nil {
		t.Fatalf("Purchase() error: %v", err)
	}
	if res.Charged != 1200 || res.Reopened {
		t.Fatalf("Purchase() = %+v", res)
	}
	inv := res.Investment
	if inv.Condition != 100 || inv.AccruedBalance != 0 || !inv.IsOpen || !inv.PurchasedAt.Equal(t0) || inv.Version != 1 {
		t.Fatalf("investment = %+v", inv)
	}
	if got := h.balance("u1"); got != 3800 {
		t.Fatalf("wallet = %d, want 3800", got)
	}
	evs, _ := h.svc.Events(context.Background(), "u1", "test_shop", 10)
	if len(evs) != 1 || evs[0].Kind != domain.EventPurchase || evs[0].BalanceImpact != -1200 {
		t.Fatalf("events = %+v", evs)
	}
}

func TestPurchaseUnknownType(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.Purchase(context.Background(), "u1", "casino", ""); !errors.Is(err, domain.ErrUnknownType) {
		t.Fatalf("Purchase() err = %v, want ErrUnknownType", err)
	}
}

func TestPurchaseRejectsOpenDuplicate(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")
	if _, err := h.svc.Purchase(context.Background(), "u1", "test_shop", ""); err != nil {
		t.Fatalf("Purchase() error: %v", err)
	}
	if _, err := h.svc.Purchase(context.Background(), "u1", "test_shop", ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second Purchase() err = %v, want ErrInvalidState", err)
	}
	if got := h.balance("u1"); got != 3800 {
		t.Fatalf("wallet = %d, want 3800", got)
	}
}

func TestReopenChargesHalfPrice(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")
	closed := openInvestment("u1", 0, 40, t0.Add(-48*time.Hour))
	closed.IsOpen = false
	h.seed(t, closed)
	h.board.Offer(closed.Key(), "ev-old", "", testEntry.HourlyIncome)

	res, err := h.svc.Purchase(context.Background(), "u1", "test_shop", "")
	if err != nil {
		t.Fatalf("Purchase() error: %v", err)
	}
	if !res.Reopened || res.Charged != 600 {
		t.Fatalf("Purchase() = %+v, want reopen at 600", res)
	}
	inv := res.Investment
	if inv.Condition != 100 || inv.AccruedBalance != 0 || !inv.IsOpen {
		t.Fatalf("reopened investment = %+v", inv)
	}
	if !inv.PurchasedAt.Equal(closed.PurchasedAt) || !inv.LastSettledAt.Equal(t0) {
		t.Fatalf("reopen timestamps = %v / %v", inv.PurchasedAt, inv.LastSettledAt)
	}
	if got := h.balance("u1"); got != 4400 {
		t.Fatalf("wallet = %d, want 4400", got)
	}
	if _, ok := h.board.Get(inv.Key()); ok {
		t.Fatalf("reopen should clear the pending decision")
	}
}

func TestPurchaseInsufficientFundsLeavesNoRecord(t *testing.T) {
	h := newHarness(t)
	h.ledger.Set("u1", 100)

	_, err := h.svc.Purchase(context.Background(), "u1", "test_shop", "op-1")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("Purchase() err = %v, want ErrInsufficientFunds", err)
	}
	if _, err := h.store.Get(context.Background(), domain.Key{OwnerID: "u1", TypeID: "test_shop"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("record created after refused debit: %v", err)
	}

	h.ledger.Set("u1", 2000)
	res, err := h.svc.Purchase(context.Background(), "u1", "test_shop", "op-1")
	if err != nil {
		t.Fatalf("retry Purchase() error: %v", err)
	}
	if res.Reopened || res.Charged != 1200 || res.Investment.Version != 1 {
		t.Fatalf("retry Purchase() = %+v, want a fresh purchase", res)
	}
	if got := h.balance("u1"); got != 800 {
		t.Fatalf("wallet = %d, want 800", got)
	}
}

func TestPurchaseRefundsWhenCommitFails(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")
	diskFull := errors.New("disk full")
	h.store.BeforeCommit = func(domain.Key) error { return diskFull }

	_, err := h.svc.Purchase(context.Background(), "u1", "test_shop", "op-1")
	if !errors.Is(err, diskFull) {
		t.Fatalf("Purchase() err = %v, want disk full", err)
	}
	if got := h.balance("u1"); got != 5000 {
		t.Fatalf("wallet = %d after refund, want 5000", got)
	}
	if _, err := h.store.Get(context.Background(), domain.Key{OwnerID: "u1", TypeID: "test_shop"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("record created despite failed commit: %v", err)
	}

	h.store.BeforeCommit = nil
	if _, err := h.svc.Purchase(context.Background(), "u1", "test_shop", "op-1"); err != nil {
		t.Fatalf("Purchase() after rollback with the same key: %v", err)
	}
	if got := h.balance("u1"); got != 3800 {
		t.Fatalf("wallet = %d, want 3800", got)
	}
}

func TestPurchaseRetriesTransientCommit(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")
	var mu sync.Mutex
	failures := 2
	h.store.BeforeCommit = func(domain.Key) error {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return domain.ErrTransient
		}
		return nil
	}

	res, err := h.svc.Purchase(context.Background(), "u1", "test_shop", "op-1")
	if err != nil {
		t.Fatalf("Purchase() error: %v", err)
	}
	if res.Charged != 1200 {
		t.Fatalf("Charged = %d", res.Charged)
	}
	if got := h.balance("u1"); got != 3800 {
		t.Fatalf("wallet = %d, want a single charge", got)
	}
}

func TestPurchaseUnavailableAfterRetries(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")
	h.store.BeforeCommit = func(domain.Key) error { return domain.ErrConflict }

	_, err := h.svc.Purchase(context.Background(), "u1", "test_shop", "")
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("Purchase() err = %v, want ErrUnavailable", err)
	}
	if got := h.balance("u1"); got != 5000 {
		t.Fatalf("wallet = %d, want 5000", got)
	}
}

func TestFailedRefundSurfacesUnavailable(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")
	h.store.BeforeCommit = func(domain.Key) error { return errors.New("disk full") }
	h.ledger.FailNext = func(op, _, _ string) error {
		if op == "credit" {
			return errors.New("ledger down")
		}
		return nil
	}

	_, err := h.svc.Purchase(context.Background(), "u1", "test_shop", "")
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("Purchase() err = %v, want ErrUnavailable", err)
	}
}

func TestCollect(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")
	h.seed(t, openInvestment("u1", 70, 150, t0))

	res, err := h.svc.Collect(context.Background(), "u1", "test_shop", "")
	if err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	if res.Collected != 150 || res.Investment.AccruedBalance != 0 || res.Investment.Condition != 70 {
		t.Fatalf("Collect() = %+v", res)
	}
	if got := h.balance("u1"); got != 5150 {
		t.Fatalf("wallet = %d, want 5150", got)
	}
	if _, err := h.svc.Collect(context.Background(), "u1", "test_shop", ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("empty Collect() err = %v, want ErrInvalidState", err)
	}
	if _, err := h.svc.Collect(context.Background(), "u2", "test_shop", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing Collect() err = %v, want ErrNotFound", err)
	}

	closed := openInvestment("u3", 0, 90, t0)
	closed.IsOpen = false
	h.seed(t, closed)
	if _, err := h.svc.Collect(context.Background(), "u3", "test_shop", ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("closed Collect() err = %v, want ErrInvalidState", err)
	}
}

func TestCollectReversesCreditWhenCommitFails(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")
	h.seed(t, openInvestment("u1", 70, 150, t0))
	h.store.BeforeCommit = func(domain.Key) error { return errors.New("disk full") }

	if _, err := h.svc.Collect(context.Background(), "u1", "test_shop", ""); err == nil {
		t.Fatalf("Collect() should fail")
	}
	if got := h.balance("u1"); got != 5000 {
		t.Fatalf("wallet = %d, want 5000", got)
	}
	h.store.BeforeCommit = nil
	if got := h.get(t, "u1"); got.AccruedBalance != 150 {
		t.Fatalf("AccruedBalance = %d, want 150", got.AccruedBalance)
	}
}

func TestRepairGating(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")
	mustWallet(t, h, "u2")
	h.seed(t, openInvestment("u1", 60, 0, t0))
	h.seed(t, openInvestment("u2", 40, 0, t0))

	if _, err := h.svc.RepairQuote(context.Background(), "u1", "test_shop"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("RepairQuote(60) err = %v, want ErrInvalidState", err)
	}
	if _, err := h.svc.Repair(context.Background(), "u1", "test_shop", 0, ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("Repair(60) err = %v, want ErrInvalidState", err)
	}

	q, err := h.svc.RepairQuote(context.Background(), "u2", "test_shop")
	if err != nil {
		t.Fatalf("RepairQuote(40) error: %v", err)
	}
	if q.Cost != 240 {
		t.Fatalf("quote = %d, want 240", q.Cost)
	}
	if _, err := h.svc.Repair(context.Background(), "u2", "test_shop", 200, ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("Repair over confirmed price err = %v, want ErrInvalidState", err)
	}
	res, err := h.svc.Repair(context.Background(), "u2", "test_shop", q.Cost, "")
	if err != nil {
		t.Fatalf("Repair() error: %v", err)
	}
	if res.Charged != 240 || res.Investment.Condition != 100 {
		t.Fatalf("Repair() = %+v", res)
	}
	if got := h.balance("u2"); got != 4760 {
		t.Fatalf("wallet = %d, want 4760", got)
	}
}

func TestRespondToEmergencyPaidTier(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")
	inv := openInvestment("u1", 20, 30, t0)
	h.seed(t, inv)
	h.board.Offer(inv.Key(), "ev-1", "The shop flooded.", testEntry.HourlyIncome)

	res, err := h.svc.RespondToEmergency(context.Background(), "u1", "test_shop", "standard", "")
	if err != nil {
		t.Fatalf("RespondToEmergency() error: %v", err)
	}
	if res.Charged != 50 || res.Tier != emergency.TierStandard {
		t.Fatalf("RespondToEmergency() = %+v", res)
	}
	if !res.Investment.IsOpen || res.Investment.Condition != 20 {
		t.Fatalf("investment = %+v, condition must not change", res.Investment)
	}
	if got := h.balance("u1"); got != 4950 {
		t.Fatalf("wallet = %d, want 4950", got)
	}
	_, err = h.svc.RespondToEmergency(context.Background(), "u1", "test_shop", "quick", "")
	if !errors.Is(err, domain.ErrNoDecision) || !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second response err = %v, want ErrNoDecision", err)
	}
}

func TestRespondToEmergencyIgnore(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")
	inv := openInvestment("u1", 20, 30, t0)
	h.seed(t, inv)
	h.board.Offer(inv.Key(), "ev-1", "", testEntry.HourlyIncome)

	res, err := h.svc.RespondToEmergency(context.Background(), "u1", "test_shop", "ignore", "")
	if err != nil {
		t.Fatalf("RespondToEmergency() error: %v", err)
	}
	if res.Charged != 0 || res.Investment.Version != 1 {
		t.Fatalf("ignore changed state: %+v", res)
	}
	if _, ok := h.board.Get(inv.Key()); ok {
		t.Fatalf("ignore should discard the decision")
	}
	if got := h.balance("u1"); got != 5000 {
		t.Fatalf("wallet = %d, want 5000", got)
	}
}

func TestRespondToEmergencyRefusals(t *testing.T) {
	h := newHarness(t)
	h.ledger.Set("u1", 10)
	low := openInvestment("u1", 20, 0, t0)
	h.seed(t, low)

	h.board.Offer(low.Key(), "ev-1", "", testEntry.HourlyIncome)
	if _, err := h.svc.RespondToEmergency(context.Background(), "u1", "test_shop", "quick", ""); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if _, ok := h.board.Get(low.Key()); !ok {
		t.Fatalf("decision should survive a refused debit")
	}

	if _, err := h.svc.RespondToEmergency(context.Background(), "u1", "test_shop", "premium", ""); !errors.Is(err, domain.ErrInvalidTier) {
		t.Fatalf("err = %v, want ErrInvalidTier", err)
	}

	dead := openInvestment("u2", 0, 0, t0)
	dead.IsOpen = false
	h.seed(t, dead)
	h.ledger.Set("u2", 1000)
	h.board.Offer(dead.Key(), "ev-2", "", testEntry.HourlyIncome)
	if _, err := h.svc.RespondToEmergency(context.Background(), "u2", "test_shop", "basic", ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState at zero condition", err)
	}
	if got := h.get(t, "u2"); got.IsOpen {
		t.Fatalf("response reopened a destroyed investment")
	}

	healthy := openInvestment("u3", 80, 0, t0)
	h.seed(t, healthy)
	h.ledger.Set("u3", 1000)
	h.board.Offer(healthy.Key(), "ev-3", "", testEntry.HourlyIncome)
	if _, err := h.svc.RespondToEmergency(context.Background(), "u3", "test_shop", "basic", ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState above 50%%", err)
	}

	if _, err := h.svc.RespondToEmergency(context.Background(), "nobody", "test_shop", "basic", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentPurchaseChargesOnce(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Purchase(context.Background(), "u1", "test_shop", "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInvalidState):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d purchases succeeded, want 1", ok)
	}
	if got := h.balance("u1"); got != 3800 {
		t.Fatalf("wallet = %d, want 3800", got)
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")
	healthy := openInvestment("u1", 80, 100, t0.Add(-30*time.Minute))
	h.seed(t, healthy)
	h.board.Offer(healthy.Key(), "ev-1", "", testEntry.HourlyIncome)

	view, err := h.svc.Status(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if view.Balance == nil || *view.Balance != 5000 {
		t.Fatalf("Balance = %v, want 5000", view.Balance)
	}
	if len(view.Investments) != 1 {
		t.Fatalf("Investments = %+v", view.Investments)
	}
	iv := view.Investments[0]
	if iv.Status != domain.StatusOperating || iv.EarningPerHour != 10 || view.TotalPerHour != 10 || view.TotalUncollected != 100 {
		t.Fatalf("view = %+v", iv)
	}
	if iv.HoursUntilIncomeStops != 27.5 || iv.HoursUntilShutdown != 40 || iv.HoursUntilRepairable != 15 {
		t.Fatalf("estimates = %v / %v / %v", iv.HoursUntilIncomeStops, iv.HoursUntilShutdown, iv.HoursUntilRepairable)
	}
	if iv.HoursUntilFull == nil || *iv.HoursUntilFull != 30 {
		t.Fatalf("HoursUntilFull = %v, want 30", iv.HoursUntilFull)
	}
	if !iv.NextSettlement.Equal(t0.Add(30*time.Minute)) || iv.ReopenCost != 600 || iv.RepairCost != 80 {
		t.Fatalf("view = %+v", iv)
	}
	if iv.Emergency == nil || iv.Emergency.EventID != "ev-1" {
		t.Fatalf("Emergency = %+v", iv.Emergency)
	}
}

func TestDescribeDegradedAndShutdown(t *testing.T) {
	degraded := Describe(testEntry, openInvestment("u1", 10, 0, t0))
	if degraded.Status != domain.StatusDegraded || degraded.EarningPerHour != 0 || degraded.HoursUntilFull != nil {
		t.Fatalf("degraded view = %+v", degraded)
	}
	closed := openInvestment("u1", 0, 0, t0)
	closed.IsOpen = false
	view := Describe(testEntry, closed)
	if view.Status != domain.StatusShutdown || !view.NextSettlement.IsZero() || view.ReopenCost != 600 {
		t.Fatalf("shutdown view = %+v", view)
	}
}

func TestLifecycleOnSharedTransaction(t *testing.T) {
	st, err := sqlitestore.Open(filepath.Join(t.TempDir(), "tycoon.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer st.Close()
	h := newHarness(t)
	h.deps.Store = st
	h.deps.Ledger = st
	svc := NewService(h.deps, nil)
	ctx := context.Background()

	if err := svc.EnsureWallet(ctx, "u1"); err != nil {
		t.Fatalf("EnsureWallet() error: %v", err)
	}
	if _, err := svc.Purchase(ctx, "u1", "test_shop", "op-1"); err != nil {
		t.Fatalf("Purchase() error: %v", err)
	}
	if _, err := svc.Purchase(ctx, "u1", "test_shop", "op-2"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second Purchase() err = %v, want ErrInvalidState", err)
	}
	if bal, _ := st.Balance(ctx, "u1"); bal != 3800 {
		t.Fatalf("wallet = %d, want 3800", bal)
	}

	if err := svc.EnsureWallet(ctx, "poor"); err != nil {
		t.Fatalf("EnsureWallet() error: %v", err)
	}
	if err := st.Debit(ctx, "poor", 4000, "drain"); err != nil {
		t.Fatalf("Debit() error: %v", err)
	}
	if _, err := svc.Purchase(ctx, "poor", "test_shop", ""); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("Purchase() err = %v, want ErrInsufficientFunds", err)
	}
	if _, err := st.Get(ctx, domain.Key{OwnerID: "poor", TypeID: "test_shop"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("record created after refused debit: %v", err)
	}
}

func TestRepairReplayWithSameKeyChargesOnce(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")
	h.seed(t, openInvestment("u1", 40, 0, t0))

	res, err := h.svc.Repair(context.Background(), "u1", "test_shop", 0, "repair-1")
	if err != nil {
		t.Fatalf("Repair() error: %v", err)
	}
	if res.Charged != 240 {
		t.Fatalf("Charged = %d, want 240", res.Charged)
	}

	// The row decays back into repair range before the replay arrives.
	h.seed(t, openInvestment("u1", 40, 0, t0))
	if _, err := h.svc.Repair(context.Background(), "u1", "test_shop", 0, "repair-1"); !errors.Is(err, domain.ErrDuplicateOp) {
		t.Fatalf("replayed Repair() err = %v, want ErrDuplicateOp", err)
	}
	if got := h.balance("u1"); got != 4760 {
		t.Fatalf("wallet = %d, want a single charge of 240", got)
	}
	if got := h.get(t, "u1"); got.Condition != 40 {
		t.Fatalf("Condition = %v, replay must not repair", got.Condition)
	}

	if _, err := h.svc.Repair(context.Background(), "u1", "test_shop", 0, "repair-2"); err != nil {
		t.Fatalf("Repair() with a fresh key: %v", err)
	}
	if got := h.balance("u1"); got != 4520 {
		t.Fatalf("wallet = %d, want 4520", got)
	}
}

func TestCollectReplayWithSameKeyCreditsOnce(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")
	h.seed(t, openInvestment("u1", 70, 150, t0))

	if _, err := h.svc.Collect(context.Background(), "u1", "test_shop", "collect-1"); err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	h.seed(t, openInvestment("u1", 70, 70, t0))
	if _, err := h.svc.Collect(context.Background(), "u1", "test_shop", "collect-1"); !errors.Is(err, domain.ErrDuplicateOp) {
		t.Fatalf("replayed Collect() err = %v, want ErrDuplicateOp", err)
	}
	if got := h.balance("u1"); got != 5150 {
		t.Fatalf("wallet = %d, want 5150", got)
	}
	if got := h.get(t, "u1"); got.AccruedBalance != 70 {
		t.Fatalf("AccruedBalance = %d, want 70", got.AccruedBalance)
	}
}

func TestEmergencyReplayWithSameKeyKeepsDecision(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")
	inv := openInvestment("u1", 20, 0, t0)
	h.seed(t, inv)
	h.board.Offer(inv.Key(), "ev-1", "The shop flooded.", testEntry.HourlyIncome)

	if _, err := h.svc.RespondToEmergency(context.Background(), "u1", "test_shop", "quick", "em-1"); err != nil {
		t.Fatalf("RespondToEmergency() error: %v", err)
	}
	h.board.Offer(inv.Key(), "ev-2", "The shop flooded again.", testEntry.HourlyIncome)
	if _, err := h.svc.RespondToEmergency(context.Background(), "u1", "test_shop", "quick", "em-1"); !errors.Is(err, domain.ErrDuplicateOp) {
		t.Fatalf("replayed RespondToEmergency() err = %v, want ErrDuplicateOp", err)
	}
	if got := h.balance("u1"); got != 4920 {
		t.Fatalf("wallet = %d, want 4920", got)
	}
	if d, ok := h.board.Get(inv.Key()); !ok || d.EventID != "ev-2" {
		t.Fatalf("pending decision = %+v, %v, want ev-2 still offered", d, ok)
	}
}

func TestOpKeysAreScopedPerOwner(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")
	mustWallet(t, h, "u2")
	for _, owner := range []string{"u1", "u2"} {
		if _, err := h.svc.Purchase(context.Background(), owner, "test_shop", "shared-key"); err != nil {
			t.Fatalf("Purchase(%s) error: %v", owner, err)
		}
	}
}

// flakyStore fails the first reads with a transient error.
type flakyStore struct {
	*memstore.Store
	mu         sync.Mutex
	getFails   int
	eventFails int
}

func (f *flakyStore) Get(ctx context.Context, key domain.Key) (domain.Investment, error) {
	f.mu.Lock()
	if f.getFails > 0 {
		f.getFails--
		f.mu.Unlock()
		return domain.Investment{}, fmt.Errorf("%w: connection reset", domain.ErrTransient)
	}
	f.mu.Unlock()
	return f.Store.Get(ctx, key)
}

func (f *flakyStore) Events(ctx context.Context, key domain.Key, limit int) ([]domain.Event, error) {
	f.mu.Lock()
	if f.eventFails > 0 {
		f.eventFails--
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: connection reset", domain.ErrTransient)
	}
	f.mu.Unlock()
	return f.Store.Events(ctx, key, limit)
}

func TestReadsRetryTransientErrors(t *testing.T) {
	h := newHarness(t)
	mustWallet(t, h, "u1")
	inv := openInvestment("u1", 20, 0, t0)
	h.seed(t, inv)
	h.board.Offer(inv.Key(), "ev-1", "The shop flooded.", testEntry.HourlyIncome)

	flaky := &flakyStore{Store: h.store, getFails: 2, eventFails: 2}
	deps := h.deps
	deps.Store = flaky
	svc := NewService(deps, nil)

	res, err := svc.RespondToEmergency(context.Background(), "u1", "test_shop", "basic", "")
	if err != nil {
		t.Fatalf("RespondToEmergency() error: %v", err)
	}
	if res.Charged != 30 {
		t.Fatalf("Charged = %d, want 30", res.Charged)
	}
	evs, err := svc.Events(context.Background(), "u1", "test_shop", 5)
	if err != nil {
		t.Fatalf("Events() error: %v", err)
	}
	if len(evs) != 1 || evs[0].Kind != domain.EventEmergency {
		t.Fatalf("events = %+v", evs)
	}

	flaky.mu.Lock()
	flaky.eventFails = maxAttempts
	flaky.mu.Unlock()
	if _, err := svc.Events(context.Background(), "u1", "test_shop", 5); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("Events() err = %v, want ErrUnavailable", err)
	}
}
