package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	MaxCondition = 100.0

	// IncomeFloor is the pre-settlement condition below which an
	// investment stops producing income.
	IncomeFloor = 25.0
	// RepairCeiling is the highest condition at which a repair is allowed.
	RepairCeiling = 50.0
)

// Key identifies an investment. There is at most one per owner and type.
type Key struct {
	OwnerID string `json:"owner_id"`
	TypeID  string `json:"type_id"`
}

func (k Key) String() string {
	return k.OwnerID + "/" + k.TypeID
}

// Less orders keys for keyset pagination.
func (k Key) Less(o Key) bool {
	if k.OwnerID != o.OwnerID {
		return k.OwnerID < o.OwnerID
	}
	return k.TypeID < o.TypeID
}

func (k Key) Validate() error {
	if strings.TrimSpace(k.OwnerID) == "" {
		return fmt.Errorf("owner id is required")
	}
	if strings.TrimSpace(k.TypeID) == "" {
		return fmt.Errorf("type id is required")
	}
	return nil
}

// Investment is the persisted record of one owned business.
//
// Version is a compare-and-swap counter maintained by the store; zero means
// the row has never been written.
type Investment struct {
	OwnerID        string    `json:"owner_id"`
	TypeID         string    `json:"type_id"`
	Condition      float64   `json:"condition"`
	AccruedBalance int64     `json:"accrued_balance"`
	IsOpen         bool      `json:"is_open"`
	PurchasedAt    time.Time `json:"purchased_at"`
	LastSettledAt  time.Time `json:"last_settled_at"`
	Version        int64     `json:"version"`
}

func (inv Investment) Key() Key {
	return Key{OwnerID: inv.OwnerID, TypeID: inv.TypeID}
}

// Status is derived from IsOpen and Condition and never stored.
func (inv Investment) Status() Status {
	switch {
	case !inv.IsOpen:
		return StatusShutdown
	case inv.Condition >= IncomeFloor:
		return StatusOperating
	default:
		return StatusDegraded
	}
}

type Status string

const (
	StatusOperating Status = "operating"
	StatusDegraded  Status = "degraded"
	StatusShutdown  Status = "shutdown"
)

type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

func ParseRiskTier(s string) (RiskTier, error) {
	switch RiskTier(strings.ToLower(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow, nil
	case RiskMedium:
		return RiskMedium, nil
	case RiskHigh:
		return RiskHigh, nil
	default:
		return "", fmt.Errorf("risk tier must be low, medium, or high: %q", s)
	}
}

// CatalogEntry describes the economics of one purchasable business type.
type CatalogEntry struct {
	TypeID                 string   `json:"type_id" toml:"type_id" yaml:"type_id"`
	DisplayName            string   `json:"display_name" toml:"display_name" yaml:"display_name"`
	Description            string   `json:"description" toml:"description" yaml:"description"`
	PurchaseCost           int64    `json:"purchase_cost" toml:"purchase_cost" yaml:"purchase_cost"`
	HourlyIncome           int64    `json:"hourly_income" toml:"hourly_income" yaml:"hourly_income"`
	Capacity               int64    `json:"capacity" toml:"capacity" yaml:"capacity"`
	DecayPerHour           float64  `json:"decay_rate_per_hour" toml:"decay_rate_per_hour" yaml:"decay_rate_per_hour"`
	RiskTier               RiskTier `json:"risk_tier" toml:"risk_tier" yaml:"risk_tier"`
	MinorNarratives        []string `json:"-" toml:"minor_narratives" yaml:"minor_narratives"`
	CatastrophicNarratives []string `json:"-" toml:"catastrophic_narratives" yaml:"catastrophic_narratives"`
}

// ReopenCost is the discounted price for reopening a shut down investment.
func (e CatalogEntry) ReopenCost() int64 {
	return e.PurchaseCost / 2
}

type EventKind string

const (
	EventMinor        EventKind = "minor"
	EventCatastrophic EventKind = "catastrophic"
	EventShutdown     EventKind = "shutdown"

	EventPurchase  EventKind = "purchase"
	EventReopen    EventKind = "reopen"
	EventCollect   EventKind = "collect"
	EventRepair    EventKind = "repair"
	EventEmergency EventKind = "emergency_response"
)

// IsRisk reports whether the kind is one of the risk generator's records.
func (k EventKind) IsRisk() bool {
	return k == EventMinor || k == EventCatastrophic || k == EventShutdown
}

// Event is one append-only log row for an investment. Risk rows carry a
// negative BalanceImpact equal to the balance held before the event.
type Event struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	TypeID        string    `json:"type_id"`
	Kind          EventKind `json:"kind"`
	NarrativeID   string    `json:"narrative_id,omitempty"`
	Narrative     string    `json:"narrative,omitempty"`
	BalanceImpact int64     `json:"balance_impact"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (e Event) Key() Key {
	return Key{OwnerID: e.OwnerID, TypeID: e.TypeID}
}
