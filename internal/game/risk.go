package game

import (
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"tycoon/internal/domain"
)

const (
	// CatastrophicCeiling bounds the condition band where catastrophic
	// events can fire.
	CatastrophicCeiling = 10.0
	CatastrophicChance  = 0.10
	MinorDamage         = 15.0
)

// Roller is the source of every random choice the risk generator makes.
type Roller interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
	// Intn returns a value in [0, n).
	Intn(n int) int
}

// RandRoller is a mutex-guarded math/rand source safe for concurrent passes.
type RandRoller struct {
	mu   sync.Mutex
	rand *mathrand.Rand
}

// NewRandRoller seeds a roller. A zero seed uses the current time.
func NewRandRoller(seed int64) *RandRoller {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandRoller{rand: mathrand.New(mathrand.NewSource(seed))}
}

func (r *RandRoller) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

func (r *RandRoller) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// RiskOutcome is the state after the risk roll. Kind is empty when no event
// fired, in which case Condition and Balance are the inputs unchanged.
type RiskOutcome struct {
	Kind          domain.EventKind
	Condition     float64
	Balance       int64
	NarrativeID   string
	Narrative     string
	BalanceImpact int64
}

func (o RiskOutcome) Fired() bool { return o.Kind != "" }

type RiskGenerator struct {
	roll Roller
}

func NewRiskGenerator(r Roller) *RiskGenerator {
	if r == nil {
		r = NewRandRoller(0)
	}
	return &RiskGenerator{roll: r}
}

// Apply rolls at most one event against an investment whose condition just
// moved to condition. Catastrophic events take priority over minor ones.
func (g *RiskGenerator) Apply(e domain.CatalogEntry, balance int64, condition float64) RiskOutcome {
	out := RiskOutcome{Condition: condition, Balance: balance}
	if condition <= 0 || condition >= domain.IncomeFloor {
		return out
	}

	if condition < CatastrophicCeiling && g.roll.Float64() < CatastrophicChance {
		out.Kind = domain.EventCatastrophic
		out.Condition = 0
		out.Balance = 0
		out.BalanceImpact = -balance
		out.NarrativeID, out.Narrative = g.narrative(e.TypeID, out.Kind, e.CatastrophicNarratives)
		return out
	}

	if g.roll.Float64() < (domain.IncomeFloor-condition)/domain.IncomeFloor {
		out.Kind = domain.EventMinor
		out.Condition = clampCondition(condition - MinorDamage)
		out.Balance = balance / 2
		out.BalanceImpact = -balance
		out.NarrativeID, out.Narrative = g.narrative(e.TypeID, out.Kind, e.MinorNarratives)
	}
	return out
}

func (g *RiskGenerator) narrative(typeID string, kind domain.EventKind, pool []string) (string, string) {
	if len(pool) == 0 {
		return "", ""
	}
	i := g.roll.Intn(len(pool))
	return fmt.Sprintf("%s.%s.%d", typeID, kind, i), pool[i]
}
