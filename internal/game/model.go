package game

import (
	"math"
	"time"

	"tycoon/internal/domain"
)

// SettleEvery is the accrual granularity.
const SettleEvery = time.Hour

// ElapsedHours counts whole hours between last and now. A clock that moved
// backwards yields zero.
func ElapsedHours(last, now time.Time) int64 {
	d := now.Sub(last)
	if d < SettleEvery {
		return 0
	}
	return int64(d / SettleEvery)
}

// Decay returns the condition after hours of wear, floored at zero.
func Decay(condition, perHour float64, hours int64) float64 {
	return clampCondition(condition - perHour*float64(hours))
}

// Accrue adds hours of income when the pre-settlement condition was at or
// above the income floor, capped at capacity.
func Accrue(balance int64, oldCondition float64, e domain.CatalogEntry, hours int64) int64 {
	if oldCondition < domain.IncomeFloor {
		return clampBalance(balance, e.Capacity)
	}
	return clampBalance(balance+e.HourlyIncome*hours, e.Capacity)
}

// RepairCost is the price to restore condition to 100.
func RepairCost(condition float64, capacity int64) int64 {
	return int64(math.Round((domain.MaxCondition - condition) / domain.MaxCondition * float64(capacity)))
}

// Threshold is a maintenance notice level crossed by a settlement.
type Threshold int

const (
	ThresholdNone Threshold = iota
	ThresholdWarning
	ThresholdCritical
)

// Crossed reports the most severe threshold condition fell through.
func Crossed(oldCondition, newCondition float64) Threshold {
	switch {
	case oldCondition >= domain.IncomeFloor && newCondition < domain.IncomeFloor:
		return ThresholdCritical
	case oldCondition > domain.RepairCeiling && newCondition <= domain.RepairCeiling:
		return ThresholdWarning
	default:
		return ThresholdNone
	}
}

func clampCondition(c float64) float64 {
	if c < 0 || math.IsNaN(c) {
		return 0
	}
	if c > domain.MaxCondition {
		return domain.MaxCondition
	}
	return c
}

func clampBalance(b, capacity int64) int64 {
	if b < 0 {
		return 0
	}
	if b > capacity {
		return capacity
	}
	return b
}

// hoursUntil is the time for condition to fall to floor at perHour, or
// zero when it is already there.
func hoursUntil(condition, floor, perHour float64) float64 {
	if perHour <= 0 || condition <= floor {
		return 0
	}
	return (condition - floor) / perHour
}
