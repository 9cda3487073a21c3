package game

import (
	"time"

	"tycoon/internal/domain"
	"tycoon/internal/emergency"
)

type PurchaseResult struct {
	Investment domain.Investment `json:"investment"`
	Charged    int64             `json:"charged"`
	Reopened   bool              `json:"reopened"`
}

type CollectResult struct {
	Investment domain.Investment `json:"investment"`
	Collected  int64             `json:"collected"`
}

type RepairQuote struct {
	TypeID    string  `json:"type_id"`
	Condition float64 `json:"condition"`
	Cost      int64   `json:"cost"`
}

type RepairResult struct {
	Investment domain.Investment `json:"investment"`
	Charged    int64             `json:"charged"`
}

type EmergencyResult struct {
	Investment domain.Investment `json:"investment"`
	Tier       emergency.Tier    `json:"tier"`
	Charged    int64             `json:"charged"`
}

type InvestmentView struct {
	domain.Investment
	DisplayName  string        `json:"display_name"`
	Status       domain.Status `json:"status"`
	Capacity     int64         `json:"capacity"`
	HourlyIncome int64         `json:"hourly_income"`
	// EarningPerHour is zero unless the next settlement will accrue income.
	EarningPerHour int64 `json:"earning_per_hour"`

	HoursUntilIncomeStops float64 `json:"hours_until_income_stops"`
	HoursUntilShutdown    float64 `json:"hours_until_shutdown"`
	HoursUntilRepairable  float64 `json:"hours_until_repairable"`
	// HoursUntilFull is nil when the balance is not growing.
	HoursUntilFull *float64 `json:"hours_until_full,omitempty"`

	RepairCost     int64               `json:"repair_cost"`
	ReopenCost     int64               `json:"reopen_cost"`
	NextSettlement time.Time           `json:"next_settlement"`
	Emergency      *emergency.Decision `json:"emergency,omitempty"`
}

type StatusView struct {
	OwnerID string `json:"owner_id"`
	// Balance is the wallet balance, or nil when the ledger cannot report it.
	Balance          *int64           `json:"balance,omitempty"`
	Investments      []InvestmentView `json:"investments"`
	TotalPerHour     int64            `json:"total_per_hour"`
	TotalUncollected int64            `json:"total_uncollected"`
}

type PassReport struct {
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Scanned      int           `json:"scanned"`
	Settled      int           `json:"settled"`
	Skipped      int           `json:"skipped"`
	Failed       int           `json:"failed"`
	Minor        int           `json:"minor"`
	Catastrophic int           `json:"catastrophic"`
	Shutdowns    int           `json:"shutdowns"`
	Notices      int           `json:"notices"`
	TimedOut     bool          `json:"timed_out"`
	FailedKeys   []domain.Key  `json:"failed_keys,omitempty"`
}
