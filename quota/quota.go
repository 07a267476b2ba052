// Package quota models per-plan recording allowances and enforces them
// while a session records.
package quota

import (
	"fmt"
	"strings"
	"sync"
)

// Unlimited is the sentinel limit for tiers without a recording cap.
const Unlimited = -1

type Tier string

const (
	TierFree      Tier = "free"
	TierPro       Tier = "pro"
	TierUnlimited Tier = "unlimited"
)

// Lowest is the entry tier; hitting its limit also offers an upgrade.
const Lowest = TierFree

// DefaultLimits maps tiers to recording seconds.
var DefaultLimits = map[Tier]int{
	TierFree:      10 * 60,
	TierPro:       10 * 60 * 60,
	TierUnlimited: Unlimited,
}

func ParseTier(s string) Tier {
	return Tier(strings.ToLower(strings.TrimSpace(s)))
}

// Quota is the server-reported allowance at session start.
type Quota struct {
	Tier             Tier
	LimitSeconds     int
	UsedSeconds      int
	RemainingSeconds int
}

// ForTier builds a quota from the tier table with nothing used.
func ForTier(t Tier, limits map[Tier]int) Quota {
	limit, ok := limits[t]
	if !ok {
		limit = limits[Lowest]
	}
	return Quota{Tier: t, LimitSeconds: limit, RemainingSeconds: limit}
}

func (q Quota) IsUnlimited() bool {
	return q.LimitSeconds < 0 || q.RemainingSeconds < 0
}

// Budget is the number of seconds this session may record, or Unlimited.
func (q Quota) Budget() int {
	if q.IsUnlimited() {
		return Unlimited
	}
	return max(q.RemainingSeconds, 0)
}

func (q Quota) Exhausted() bool {
	return !q.IsUnlimited() && q.Budget() == 0
}

func (q Quota) String() string {
	if q.IsUnlimited() {
		return fmt.Sprintf("%s: unlimited", q.Tier)
	}
	return fmt.Sprintf("%s: %ds of %ds remaining", q.Tier, q.RemainingSeconds, q.LimitSeconds)
}

// Enforcer decides when a session has used up its budget. It does not count
// time itself: the caller owns the elapsed counter and reports it on every
// tick. Trip fires at most once per Enforcer, whichever path gets there first.
type Enforcer struct {
	quota Quota

	mu    sync.Mutex
	fired bool
}

func NewEnforcer(q Quota) *Enforcer {
	return &Enforcer{quota: q}
}

func (e *Enforcer) Quota() Quota { return e.quota }

// Check reports whether elapsed has reached the budget and, if so, trips
// the enforcer. It returns true only on the first trip.
func (e *Enforcer) Check(elapsedSeconds int) bool {
	budget := e.quota.Budget()
	if budget == Unlimited || elapsedSeconds < budget {
		return false
	}
	return e.Trip()
}

// Trip marks the limit as reached from any source (local timer or server
// signal). It returns true only the first time.
func (e *Enforcer) Trip() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fired {
		return false
	}
	e.fired = true
	return true
}

func (e *Enforcer) Fired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fired
}

// OffersUpgrade reports whether the tier should be pointed at an upgrade flow.
func (e *Enforcer) OffersUpgrade() bool {
	return e.quota.Tier == Lowest
}
