package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tycoon/internal/domain"
	"tycoon/internal/metrics"
	"tycoon/internal/store"

	"golang.org/x/sync/errgroup"
)

var ErrPassInProgress = errors.New("settlement pass already running")

type SettlerConfig struct {
	PageSize    int
	Parallel    int
	PassTimeout time.Duration
}

// Settler advances accrual, decay and risk for every open investment that
// is at least one hour behind. It does not schedule itself.
type Settler struct {
	deps Deps
	risk *RiskGenerator
	cfg  SettlerConfig
	log  *slog.Logger

	running sync.Mutex
}

func NewSettler(deps Deps, risk *RiskGenerator, cfg SettlerConfig, logger *slog.Logger) *Settler {
	if logger == nil {
		logger = slog.Default()
	}
	if risk == nil {
		risk = NewRiskGenerator(nil)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = store.DefaultPageSize
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 8
	}
	return &Settler{deps: deps.withDefaults(), risk: risk, cfg: cfg, log: logger}
}

// Settlement is the computed next state of one investment.
type Settlement struct {
	Next      domain.Investment
	Hours     int64
	Old       float64
	Threshold Threshold
	Risk      RiskOutcome
	Shutdown  bool
}

func (st Settlement) Changed() bool { return st.Hours > 0 }

// Settle computes one investment's settlement at now. Closed investments
// and those settled within the last hour are returned unchanged.
func Settle(e domain.CatalogEntry, inv domain.Investment, now time.Time, risk *RiskGenerator) Settlement {
	st := Settlement{Next: inv, Old: inv.Condition}
	if !inv.IsOpen {
		return st
	}
	st.Hours = ElapsedHours(inv.LastSettledAt, now)
	if st.Hours == 0 {
		return st
	}

	condition := Decay(inv.Condition, e.DecayPerHour, st.Hours)
	balance := Accrue(inv.AccruedBalance, inv.Condition, e, st.Hours)
	st.Threshold = Crossed(inv.Condition, condition)

	st.Risk = risk.Apply(e, balance, condition)
	condition, balance = st.Risk.Condition, st.Risk.Balance

	if condition <= 0 {
		condition = 0
		st.Shutdown = true
		st.Next.IsOpen = false
	}
	st.Next.Condition = condition
	st.Next.AccruedBalance = balance
	st.Next.LastSettledAt = now
	return st
}

// RunPass settles every due investment once. Failures on one investment
// are counted and skipped; it is picked up again by the next pass.
func (s *Settler) RunPass(ctx context.Context, now time.Time) (PassReport, error) {
	report := PassReport{StartedAt: now.UTC()}
	if !s.running.TryLock() {
		return report, ErrPassInProgress
	}
	defer s.running.Unlock()

	started := time.Now()
	if s.cfg.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PassTimeout)
		defer cancel()
	}

	var mu sync.Mutex
	page := store.Page{DueBefore: now.Add(-SettleEvery), Limit: s.cfg.PageSize}
	for {
		rows, err := s.deps.Store.ListOpen(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				report.TimedOut = true
				break
			}
			s.finish(&report, started)
			return report, fmt.Errorf("list open investments: %w", err)
		}
		if len(rows) == 0 {
			break
		}
		report.Scanned += len(rows)

		var g errgroup.Group
		g.SetLimit(s.cfg.Parallel)
		for _, inv := range rows {
			key := inv.Key()
			g.Go(func() error {
				st, notices, err := s.settleOne(ctx, key, now)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					report.Failed++
					report.FailedKeys = append(report.FailedKeys, key)
					metrics.SettlementFailures.Inc()
					s.log.Error("settlement failed", "owner_id", key.OwnerID, "type_id", key.TypeID, "err", err)
				case !st.Changed():
					report.Skipped++
				default:
					report.Settled++
					report.Notices += notices
					switch st.Risk.Kind {
					case domain.EventMinor:
						report.Minor++
					case domain.EventCatastrophic:
						report.Catastrophic++
					}
					if st.Shutdown {
						report.Shutdowns++
					}
				}
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			report.TimedOut = true
			break
		}
		if len(rows) < page.Limit {
			break
		}
		page.After = rows[len(rows)-1].Key()
	}

	s.finish(&report, started)
	s.log.Info("settlement pass complete",
		"scanned", report.Scanned,
		"settled", report.Settled,
		"failed", report.Failed,
		"minor", report.Minor,
		"catastrophic", report.Catastrophic,
		"shutdowns", report.Shutdowns,
		"timed_out", report.TimedOut,
		"duration", report.Duration.String(),
	)
	return report, nil
}

func (s *Settler) finish(report *PassReport, started time.Time) {
	report.Duration = time.Since(started)
	metrics.SettlementDuration.Observe(report.Duration.Seconds())
	outcome := "ok"
	switch {
	case report.TimedOut:
		outcome = "timeout"
	case report.Failed > 0:
		outcome = "partial"
	}
	metrics.SettlementPasses.WithLabelValues(outcome).Inc()
}

// settleOne re-reads and settles a single investment in its own update, then
// sends notices once the update has committed.
func (s *Settler) settleOne(ctx context.Context, key domain.Key, now time.Time) (Settlement, int, error) {
	var st Settlement
	entry, err := s.deps.Catalog.Lookup(key.TypeID)
	if err != nil {
		return st, 0, err
	}

	var riskEvent domain.Event
	err = s.deps.Store.Update(ctx, key, func(tx store.Tx) error {
		cur, err := tx.Get(ctx)
		if err != nil {
			return err
		}
		st = Settle(entry, cur, now, s.risk)
		if !st.Changed() {
			return nil
		}
		version, err := tx.Upsert(ctx, st.Next)
		if err != nil {
			return err
		}
		st.Next.Version = version

		if st.Risk.Fired() {
			riskEvent = domain.Event{
				ID:            s.deps.NewID(),
				OwnerID:       key.OwnerID,
				TypeID:        key.TypeID,
				Kind:          st.Risk.Kind,
				NarrativeID:   st.Risk.NarrativeID,
				Narrative:     st.Risk.Narrative,
				BalanceImpact: st.Risk.BalanceImpact,
				OccurredAt:    now,
			}
			if err := tx.AppendEvent(ctx, riskEvent); err != nil {
				return err
			}
		}
		if st.Shutdown {
			return tx.AppendEvent(ctx, domain.Event{
				ID:         s.deps.NewID(),
				OwnerID:    key.OwnerID,
				TypeID:     key.TypeID,
				Kind:       domain.EventShutdown,
				OccurredAt: now,
			})
		}
		return nil
	})
	if err != nil {
		return Settlement{}, 0, err
	}
	if !st.Changed() {
		return st, 0, nil
	}

	metrics.SettlementSettled.Inc()
	if st.Risk.Fired() {
		metrics.RiskEvents.WithLabelValues(string(st.Risk.Kind)).Inc()
	}
	if st.Shutdown {
		metrics.Shutdowns.Inc()
	}

	msg, ok := s.notice(entry, st, riskEvent)
	if !ok {
		return st, 0, nil
	}
	s.notify(ctx, key.OwnerID, msg)
	return st, 1, nil
}

// notice picks the single most severe message for a settlement and offers
// the emergency decision when a minor event left the investment open.
func (s *Settler) notice(entry domain.CatalogEntry, st Settlement, ev domain.Event) (domain.Message, bool) {
	switch {
	case st.Risk.Kind == domain.EventCatastrophic:
		return catastrophicMessage(entry, ev), true
	case st.Shutdown:
		return shutdownMessage(entry, ev.Narrative), true
	case st.Risk.Kind == domain.EventMinor:
		d := s.deps.Board.Offer(ev.Key(), ev.ID, ev.Narrative, entry.HourlyIncome)
		return minorMessage(entry, ev, d), true
	case st.Threshold != ThresholdNone:
		return thresholdMessage(entry, st.Threshold, st.Next.Condition), true
	}
	return domain.Message{}, false
}

func (s *Settler) notify(ctx context.Context, ownerID string, msg domain.Message) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.Notify(ctx, ownerID, msg); err != nil {
		s.log.Warn("owner notification failed", "owner_id", ownerID, "kind", string(msg.Kind), "err", err)
	}
}
