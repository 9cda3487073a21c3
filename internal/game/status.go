package game

import (
	"context"

	"tycoon/internal/domain"
)

// Status lists the owner's investments with their derived status and
// time-to-threshold estimates at the current clock.
func (s *Service) Status(ctx context.Context, ownerID string) (StatusView, error) {
	view := StatusView{OwnerID: ownerID, Investments: make([]InvestmentView, 0)}
	var invs []domain.Investment
	err := s.withRetry(ctx, "status", func(int) error {
		var err error
		invs, err = s.deps.Store.ListByOwner(ctx, ownerID)
		return err
	})
	if err != nil {
		return view, err
	}

	if w, ok := s.deps.Ledger.(domain.Wallets); ok {
		if bal, err := w.Balance(ctx, ownerID); err != nil {
			s.log.Warn("wallet balance unavailable", "owner_id", ownerID, "err", err)
		} else {
			view.Balance = &bal
		}
	}

	for _, inv := range invs {
		entry, err := s.deps.Catalog.Lookup(inv.TypeID)
		if err != nil {
			return view, err
		}
		iv := Describe(entry, inv)
		if d, ok := s.deps.Board.Get(inv.Key()); ok {
			iv.Emergency = &d
		}
		view.TotalPerHour += iv.EarningPerHour
		view.TotalUncollected += inv.AccruedBalance
		view.Investments = append(view.Investments, iv)
	}
	return view, nil
}

// Describe derives the owner-facing view of one investment.
func Describe(entry domain.CatalogEntry, inv domain.Investment) InvestmentView {
	iv := InvestmentView{
		Investment:   inv,
		DisplayName:  entry.DisplayName,
		Status:       inv.Status(),
		Capacity:     entry.Capacity,
		HourlyIncome: entry.HourlyIncome,
		ReopenCost:   entry.ReopenCost(),
	}
	if !inv.IsOpen {
		return iv
	}
	iv.NextSettlement = inv.LastSettledAt.Add(SettleEvery)
	iv.RepairCost = RepairCost(inv.Condition, entry.Capacity)
	iv.HoursUntilShutdown = hoursUntil(inv.Condition, 0, entry.DecayPerHour)
	iv.HoursUntilRepairable = hoursUntil(inv.Condition, domain.RepairCeiling, entry.DecayPerHour)
	if inv.Condition >= domain.IncomeFloor {
		iv.EarningPerHour = entry.HourlyIncome
		iv.HoursUntilIncomeStops = hoursUntil(inv.Condition, domain.IncomeFloor, entry.DecayPerHour)
		h := float64(entry.Capacity-inv.AccruedBalance) / float64(entry.HourlyIncome)
		iv.HoursUntilFull = &h
	}
	return iv
}
