// Package emergency tracks the recovery offers made after minor risk events.
// Offers live in memory only and expire after Window; losing them on restart
// costs the owner the offer and nothing else.
package emergency

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"tycoon/internal/domain"
	"tycoon/internal/metrics"
)

const Window = 24 * time.Hour

type Tier string

const (
	TierQuick    Tier = "quick"
	TierStandard Tier = "standard"
	TierBasic    Tier = "basic"
	TierIgnore   Tier = "ignore"
)

// Multiplier is the number of hours of income a tier costs.
func (t Tier) Multiplier() int64 {
	switch t {
	case TierQuick:
		return 8
	case TierStandard:
		return 5
	case TierBasic:
		return 3
	default:
		return 0
	}
}

func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierQuick, TierStandard, TierBasic, TierIgnore:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q (want quick, standard, basic, or ignore)", domain.ErrInvalidTier, s)
}

type Offer struct {
	Tier Tier  `json:"tier"`
	Cost int64 `json:"cost"`
}

// OffersFor prices every tier from the type's hourly income, costliest first.
func OffersFor(hourlyIncome int64) []Offer {
	tiers := []Tier{TierQuick, TierStandard, TierBasic, TierIgnore}
	out := make([]Offer, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, Offer{Tier: t, Cost: t.Multiplier() * hourlyIncome})
	}
	return out
}

type Decision struct {
	Key       domain.Key `json:"key"`
	EventID   string     `json:"event_id"`
	Narrative string     `json:"narrative"`
	Offers    []Offer    `json:"offers"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Cost returns the price of tier within this decision.
func (d Decision) Cost(t Tier) (int64, bool) {
	for _, o := range d.Offers {
		if o.Tier == t {
			return o.Cost, true
		}
	}
	return 0, false
}

type Board struct {
	mu      sync.Mutex
	pending map[domain.Key]Decision
	window  time.Duration
	now     func() time.Time
	log     *slog.Logger
}

type Option func(*Board)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Board) { b.now = now }
}

func WithWindow(d time.Duration) Option {
	return func(b *Board) {
		if d > 0 {
			b.window = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Board) {
		if logger != nil {
			b.log = logger
		}
	}
}

func NewBoard(opts ...Option) *Board {
	b := &Board{
		pending: map[domain.Key]Decision{},
		window:  Window,
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Offer records a decision for key, replacing any earlier one.
func (b *Board) Offer(key domain.Key, eventID, narrative string, hourlyIncome int64) Decision {
	now := b.now().UTC()
	d := Decision{
		Key:       key,
		EventID:   eventID,
		Narrative: narrative,
		Offers:    OffersFor(hourlyIncome),
		CreatedAt: now,
		ExpiresAt: now.Add(b.window),
	}
	b.mu.Lock()
	b.pending[key] = d
	n := len(b.pending)
	b.mu.Unlock()
	metrics.PendingDecisions.Set(float64(n))
	return d
}

// Get returns the unexpired decision for key.
func (b *Board) Get(key domain.Key) (Decision, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.pending[key]
	if !ok || !b.now().Before(d.ExpiresAt) {
		return Decision{}, false
	}
	return d, true
}

// Take removes and returns the unexpired decision for key.
func (b *Board) Take(key domain.Key) (Decision, bool) {
	b.mu.Lock()
	d, ok := b.pending[key]
	if ok {
		delete(b.pending, key)
	}
	n := len(b.pending)
	b.mu.Unlock()
	metrics.PendingDecisions.Set(float64(n))
	if !ok || !b.now().Before(d.ExpiresAt) {
		return Decision{}, false
	}
	return d, true
}

// Restore puts back a decision taken by a response that did not complete,
// unless a newer one was offered in the meantime.
func (b *Board) Restore(d Decision) {
	b.mu.Lock()
	if _, exists := b.pending[d.Key]; !exists {
		b.pending[d.Key] = d
	}
	n := len(b.pending)
	b.mu.Unlock()
	metrics.PendingDecisions.Set(float64(n))
}

func (b *Board) Discard(key domain.Key) {
	b.mu.Lock()
	delete(b.pending, key)
	n := len(b.pending)
	b.mu.Unlock()
	metrics.PendingDecisions.Set(float64(n))
}

// ListOwner returns the owner's unexpired decisions ordered by type.
func (b *Board) ListOwner(ownerID string) []Decision {
	now := b.now()
	b.mu.Lock()
	out := make([]Decision, 0)
	for k, d := range b.pending {
		if k.OwnerID == ownerID && now.Before(d.ExpiresAt) {
			out = append(out, d)
		}
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key.TypeID < out[j].Key.TypeID })
	return out
}

// Reap deletes expired decisions and returns how many were removed.
func (b *Board) Reap() int {
	now := b.now()
	b.mu.Lock()
	removed := 0
	for k, d := range b.pending {
		if !now.Before(d.ExpiresAt) {
			delete(b.pending, k)
			removed++
		}
	}
	n := len(b.pending)
	b.mu.Unlock()
	metrics.PendingDecisions.Set(float64(n))
	return removed
}

// Run reaps expired decisions every interval until ctx is done.
func (b *Board) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.Reap(); n > 0 {
				b.log.Info("emergency decisions expired", "count", n)
			}
		}
	}
}
