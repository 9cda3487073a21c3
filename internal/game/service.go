package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"tycoon/internal/catalog"
	"tycoon/internal/domain"
	"tycoon/internal/emergency"
	"tycoon/internal/metrics"
	"tycoon/internal/store"

	"github.com/google/uuid"
)

const (
	maxAttempts      = 8
	defaultRetryBase = 75 * time.Millisecond
	ledgerAttempts   = 3
)

// Deps are the collaborators shared by Service and Settler.
type Deps struct {
	Store   store.Store
	Catalog *catalog.Catalog
	Board   *emergency.Board

	// Ledger moves owner funds when the store transaction cannot. It may be
	// nil if every store transaction implements store.LedgerTx.
	Ledger   domain.Ledger
	Notifier domain.Notifier

	StarterBalance int64

	Now   func() time.Time
	NewID func() string
	// RetryBase is the first backoff after a transient store error. Later
	// delays double up to sixteen times this value.
	RetryBase time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Catalog == nil {
		d.Catalog = catalog.Default()
	}
	if d.Board == nil {
		d.Board = emergency.NewBoard()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.RetryBase <= 0 {
		d.RetryBase = defaultRetryBase
	}
	return d
}

type Service struct {
	deps Deps
	log  *slog.Logger
}

func NewService(deps Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{deps: deps.withDefaults(), log: logger}
}

func (s *Service) now() time.Time {
	return s.deps.Now().UTC()
}

func (s *Service) Catalog() []domain.CatalogEntry {
	return s.deps.Catalog.List()
}

// EnsureWallet provisions a starter wallet the first time an owner is seen.
func (s *Service) EnsureWallet(ctx context.Context, ownerID string) error {
	w, ok := s.deps.Ledger.(domain.Wallets)
	if !ok {
		return nil
	}
	return w.EnsureWallet(ctx, ownerID, s.deps.StarterBalance)
}

// Purchase buys typeID for ownerID, or reopens a shut down record at the
// discounted price.
func (s *Service) Purchase(ctx context.Context, ownerID, typeID, opKey string) (PurchaseResult, error) {
	var out PurchaseResult
	entry, key, err := s.resolve(ownerID, typeID)
	if err != nil {
		return out, err
	}
	now := s.now()

	inv, ch, err := s.apply(ctx, "purchase", key, opKey, func(cur domain.Investment, found bool) (change, error) {
		if found && cur.IsOpen {
			return change{}, fmt.Errorf("%w: %s is already open", domain.ErrInvalidState, key.TypeID)
		}
		next := cur
		next.Condition = domain.MaxCondition
		next.AccruedBalance = 0
		next.IsOpen = true
		next.LastSettledAt = now

		cost, kind := entry.PurchaseCost, domain.EventPurchase
		if found {
			cost, kind = entry.ReopenCost(), domain.EventReopen
		} else {
			next.PurchasedAt = now
		}
		return change{
			next:  next,
			debit: cost,
			event: s.activity(key, kind, -cost, "", now),
		}, nil
	})
	if err != nil {
		return out, err
	}
	out.Investment = inv
	out.Charged = ch.debit
	out.Reopened = ch.event.Kind == domain.EventReopen
	if out.Reopened {
		s.deps.Board.Discard(key)
	}
	s.log.Info("investment purchased", "owner_id", ownerID, "type_id", key.TypeID, "charged", out.Charged, "reopened", out.Reopened)
	return out, nil
}

// Collect moves the accrued balance into the owner's wallet.
func (s *Service) Collect(ctx context.Context, ownerID, typeID, opKey string) (CollectResult, error) {
	var out CollectResult
	_, key, err := s.resolve(ownerID, typeID)
	if err != nil {
		return out, err
	}
	now := s.now()

	inv, ch, err := s.apply(ctx, "collect", key, opKey, func(cur domain.Investment, found bool) (change, error) {
		if !found {
			return change{}, notFound(key)
		}
		if !cur.IsOpen {
			return change{}, fmt.Errorf("%w: %s is shut down", domain.ErrInvalidState, key.TypeID)
		}
		if cur.AccruedBalance <= 0 {
			return change{}, fmt.Errorf("%w: nothing to collect from %s", domain.ErrInvalidState, key.TypeID)
		}
		next := cur
		next.AccruedBalance = 0
		return change{
			next:   next,
			credit: cur.AccruedBalance,
			event:  s.activity(key, domain.EventCollect, cur.AccruedBalance, "", now),
		}, nil
	})
	if err != nil {
		return out, err
	}
	out.Investment = inv
	out.Collected = ch.credit
	return out, nil
}

// RepairQuote prices a repair without changing anything.
func (s *Service) RepairQuote(ctx context.Context, ownerID, typeID string) (RepairQuote, error) {
	entry, key, err := s.resolve(ownerID, typeID)
	if err != nil {
		return RepairQuote{}, err
	}
	var inv domain.Investment
	err = s.withRetry(ctx, "repair_quote", func(int) error {
		var err error
		inv, err = s.deps.Store.Get(ctx, key)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return RepairQuote{}, notFound(key)
	}
	if err != nil {
		return RepairQuote{}, err
	}
	if err := repairable(inv); err != nil {
		return RepairQuote{}, err
	}
	return RepairQuote{
		TypeID:    key.TypeID,
		Condition: inv.Condition,
		Cost:      RepairCost(inv.Condition, entry.Capacity),
	}, nil
}

// Repair restores condition to 100. A positive maxCost is the quote the
// owner confirmed; a higher current price is refused.
func (s *Service) Repair(ctx context.Context, ownerID, typeID string, maxCost int64, opKey string) (RepairResult, error) {
	var out RepairResult
	entry, key, err := s.resolve(ownerID, typeID)
	if err != nil {
		return out, err
	}
	now := s.now()

	inv, ch, err := s.apply(ctx, "repair", key, opKey, func(cur domain.Investment, found bool) (change, error) {
		if !found {
			return change{}, notFound(key)
		}
		if err := repairable(cur); err != nil {
			return change{}, err
		}
		cost := RepairCost(cur.Condition, entry.Capacity)
		if maxCost > 0 && cost > maxCost {
			return change{}, fmt.Errorf("%w: repair now costs %d, confirmed %d", domain.ErrInvalidState, cost, maxCost)
		}
		next := cur
		next.Condition = domain.MaxCondition
		return change{
			next:  next,
			debit: cost,
			event: s.activity(key, domain.EventRepair, -cost, "", now),
		}, nil
	})
	if err != nil {
		return out, err
	}
	out.Investment = inv
	out.Charged = ch.debit
	return out, nil
}

func repairable(inv domain.Investment) error {
	if !inv.IsOpen {
		return fmt.Errorf("%w: %s is shut down, reopen it instead", domain.ErrInvalidState, inv.TypeID)
	}
	if inv.Condition > domain.RepairCeiling {
		return fmt.Errorf("%w: repairs open at %.0f%% condition, %s is at %.1f%%", domain.ErrInvalidState, domain.RepairCeiling, inv.TypeID, inv.Condition)
	}
	return nil
}

// RespondToEmergency answers the pending decision for an investment. A paid
// tier charges the owner and marks the investment open; condition is left
// as it is. Ignore only discards the decision.
func (s *Service) RespondToEmergency(ctx context.Context, ownerID, typeID, tierName, opKey string) (EmergencyResult, error) {
	var out EmergencyResult
	tier, err := emergency.ParseTier(tierName)
	if err != nil {
		return out, err
	}
	_, key, err := s.resolve(ownerID, typeID)
	if err != nil {
		return out, err
	}
	out.Tier = tier

	var cur domain.Investment
	err = s.withRetry(ctx, "emergency", func(int) error {
		var err error
		cur, err = s.deps.Store.Get(ctx, key)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return out, notFound(key)
	}
	if err != nil {
		return out, err
	}
	decision, ok := s.deps.Board.Take(key)
	if !ok {
		return out, fmt.Errorf("%w: %w for %s", domain.ErrInvalidState, domain.ErrNoDecision, key.TypeID)
	}
	if tier == emergency.TierIgnore {
		metrics.LifecycleOps.WithLabelValues("emergency", "ok").Inc()
		s.log.Info("emergency ignored", "owner_id", ownerID, "type_id", key.TypeID, "event_id", decision.EventID)
		out.Investment = cur
		return out, nil
	}
	cost, _ := decision.Cost(tier)
	now := s.now()

	inv, ch, err := s.apply(ctx, "emergency", key, opKey, func(cur domain.Investment, found bool) (change, error) {
		if !found {
			return change{}, notFound(key)
		}
		if cur.Condition <= 0 {
			return change{}, fmt.Errorf("%w: %s was destroyed, reopen it instead", domain.ErrInvalidState, key.TypeID)
		}
		if cur.Condition > domain.RepairCeiling {
			return change{}, fmt.Errorf("%w: %s is above %.0f%% condition", domain.ErrInvalidState, key.TypeID, domain.RepairCeiling)
		}
		next := cur
		next.IsOpen = true
		return change{
			next:  next,
			debit: cost,
			event: s.activity(key, domain.EventEmergency, -cost, string(tier), now),
		}, nil
	})
	if err != nil {
		s.deps.Board.Restore(decision)
		return out, err
	}
	out.Investment = inv
	out.Charged = ch.debit
	return out, nil
}

func (s *Service) Events(ctx context.Context, ownerID, typeID string, limit int) ([]domain.Event, error) {
	_, key, err := s.resolve(ownerID, typeID)
	if err != nil {
		return nil, err
	}
	var evs []domain.Event
	err = s.withRetry(ctx, "events", func(int) error {
		var err error
		evs, err = s.deps.Store.Events(ctx, key, limit)
		return err
	})
	return evs, err
}

func (s *Service) PendingEmergencies(ownerID string) []emergency.Decision {
	return s.deps.Board.ListOwner(ownerID)
}

func (s *Service) resolve(ownerID, typeID string) (domain.CatalogEntry, domain.Key, error) {
	entry, err := s.deps.Catalog.Lookup(typeID)
	if err != nil {
		return entry, domain.Key{}, err
	}
	key := domain.Key{OwnerID: strings.TrimSpace(ownerID), TypeID: entry.TypeID}
	if err := key.Validate(); err != nil {
		return entry, key, err
	}
	return entry, key, nil
}

func (s *Service) activity(key domain.Key, kind domain.EventKind, impact int64, narrative string, at time.Time) domain.Event {
	return domain.Event{
		ID:            s.deps.NewID(),
		OwnerID:       key.OwnerID,
		TypeID:        key.TypeID,
		Kind:          kind,
		Narrative:     narrative,
		BalanceImpact: impact,
		OccurredAt:    at,
	}
}

func notFound(key domain.Key) error {
	return fmt.Errorf("%w: %s", domain.ErrNotFound, key)
}

// change is what one operation does to a freshly read investment.
type change struct {
	next   domain.Investment
	debit  int64
	credit int64
	event  domain.Event
}

// apply runs plan against the current row inside a store update and moves
// funds with it. When the transaction carries the ledger the whole unit
// commits or rolls back together; otherwise the external ledger is called
// inside the row lock and reversed if the update does not commit. A
// non-empty opKey is claimed in the same update, so a replay of a committed
// operation fails with domain.ErrDuplicateOp instead of moving funds again.
func (s *Service) apply(ctx context.Context, op string, key domain.Key, opKey string, plan func(cur domain.Investment, found bool) (change, error)) (domain.Investment, change, error) {
	var (
		out     domain.Investment
		applied change
	)
	callID := s.deps.NewID()
	opKey = strings.TrimSpace(opKey)
	prefix := opKey
	if prefix == "" {
		prefix = op
	}

	err := s.withRetry(ctx, op, func(attempt int) error {
		ref := prefix + ":" + callID + ":" + strconv.Itoa(attempt)
		var ext moves
		err := s.deps.Store.Update(ctx, key, func(tx store.Tx) error {
			cur, err := tx.Get(ctx)
			found := true
			switch {
			case errors.Is(err, domain.ErrNotFound):
				found = false
				cur = domain.Investment{OwnerID: key.OwnerID, TypeID: key.TypeID}
			case err != nil:
				return err
			}

			ch, err := plan(cur, found)
			if err != nil {
				return err
			}
			// A refused plan leaves the key free for a later attempt.
			if opKey != "" {
				if err := tx.ClaimOp(ctx, opKey, op); err != nil {
					return err
				}
			}
			ledgerTx, inTx := tx.(store.LedgerTx)
			if !inTx && s.deps.Ledger == nil && (ch.debit > 0 || ch.credit > 0) {
				return fmt.Errorf("no ledger configured for %s", op)
			}

			if ch.debit > 0 {
				if inTx {
					err = ledgerTx.Debit(ctx, key.OwnerID, ch.debit, ref+":debit")
				} else {
					err = s.ledgerCall(ctx, func(ctx context.Context) error {
						return s.deps.Ledger.Debit(ctx, key.OwnerID, ch.debit, ref+":debit")
					})
					if err == nil {
						ext.debited = ch.debit
					}
				}
				if err != nil {
					return err
				}
			}

			ch.next.Version = cur.Version
			version, err := tx.Upsert(ctx, ch.next)
			if err != nil {
				return err
			}
			ch.next.Version = version
			if ch.event.Kind != "" {
				if err := tx.AppendEvent(ctx, ch.event); err != nil {
					return err
				}
			}

			if ch.credit > 0 {
				if inTx {
					err = ledgerTx.Credit(ctx, key.OwnerID, ch.credit, ref+":credit")
				} else {
					err = s.ledgerCall(ctx, func(ctx context.Context) error {
						return s.deps.Ledger.Credit(ctx, key.OwnerID, ch.credit, ref+":credit")
					})
					if err == nil {
						ext.credited = ch.credit
					}
				}
				if err != nil {
					return err
				}
			}
			out, applied = ch.next, ch
			return nil
		})
		if err != nil && !ext.empty() {
			if cerr := s.compensate(ctx, key, ref, ext); cerr != nil {
				return fmt.Errorf("%w: %s rolled back but refund failed: %v (cause: %v)", domain.ErrUnavailable, op, cerr, err)
			}
		}
		return err
	})
	metrics.LifecycleOps.WithLabelValues(op, resultLabel(err)).Inc()
	if err != nil {
		return out, applied, err
	}
	return out, applied, nil
}

type moves struct {
	debited  int64
	credited int64
}

func (m moves) empty() bool { return m.debited == 0 && m.credited == 0 }

// compensate reverses external ledger moves from an attempt whose store
// update did not commit.
func (s *Service) compensate(ctx context.Context, key domain.Key, ref string, m moves) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var errs []error
	if m.debited > 0 {
		if err := s.ledgerCall(ctx, func(ctx context.Context) error {
			return s.deps.Ledger.Credit(ctx, key.OwnerID, m.debited, ref+":refund")
		}); err != nil {
			errs = append(errs, err)
		}
	}
	if m.credited > 0 {
		if err := s.ledgerCall(ctx, func(ctx context.Context) error {
			return s.deps.Ledger.Debit(ctx, key.OwnerID, m.credited, ref+":reverse")
		}); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		metrics.Compensations.WithLabelValues("failed").Inc()
		s.log.Error("ledger compensation failed", "owner_id", key.OwnerID, "type_id", key.TypeID, "ref", ref, "debited", m.debited, "credited", m.credited, "err", err)
		return err
	}
	metrics.Compensations.WithLabelValues("ok").Inc()
	s.log.Warn("ledger move compensated", "owner_id", key.OwnerID, "type_id", key.TypeID, "ref", ref, "debited", m.debited, "credited", m.credited)
	return nil
}

// ledgerCall retries an idempotent external ledger call. Refusals for
// insufficient funds are final; other failures surface as unavailable.
func (s *Service) ledgerCall(ctx context.Context, fn func(ctx context.Context) error) error {
	delay := s.deps.RetryBase
	var err error
	for attempt := 0; attempt < ledgerAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || errors.Is(err, domain.ErrInsufficientFunds) {
			return err
		}
		if attempt < ledgerAttempts-1 {
			if serr := sleepWithContext(ctx, delay); serr != nil {
				break
			}
			delay *= 2
		}
	}
	return fmt.Errorf("%w: ledger: %v", domain.ErrUnavailable, err)
}

// withRetry reruns fn on transient store errors with doubling backoff and
// reports exhaustion as domain.ErrUnavailable.
func (s *Service) withRetry(ctx context.Context, op string, fn func(attempt int) error) error {
	retryDelay := s.deps.RetryBase
	maxDelay := 16 * s.deps.RetryBase
	var last error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil || !domain.IsTransient(err) {
			return err
		}
		last = err
		s.log.Debug("transient store error, retrying", "op", op, "attempt", attempt+1, "err", err)
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < maxDelay {
			retryDelay *= 2
		}
	}
	return s.unavailable(op, last)
}

func (s *Service) unavailable(op string, err error) error {
	s.log.Error("store unavailable", "op", op, "err", err)
	return fmt.Errorf("%w: %s: %v", domain.ErrUnavailable, op, err)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrDuplicateOp):
		return "duplicate"
	case errors.Is(err, domain.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
