// Package quota meters per-identity daily usage. State is process-lifetime
// only: a restart clears all quotas by design.
package quota

import (
	"sync"
	"time"
)

// DefaultDailyLimit is the allowance per identity per UTC calendar day.
const DefaultDailyLimit = 1

// Decision is the outcome of one quota check.
type Decision struct {
	Allowed   bool
	Remaining int
	// Unlimited is set for privileged identities; Remaining is meaningless then.
	Unlimited bool
	// ResetAt is the next UTC midnight relative to the call time.
	ResetAt time.Time
}

// Gate is an atomic per-identity daily check-and-increment counter.
type Gate struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int // key = "<utc-date>|<identity>"
	day    string         // date the map was last swept for
	now    func() time.Time
}

// New creates a Gate with the given daily limit (<= 0 means DefaultDailyLimit).
func New(limit int) *Gate {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	return &Gate{
		limit:  limit,
		counts: make(map[string]int),
		now:    time.Now,
	}
}

// CheckAndConsume checks and, if allowed, consumes one slot for identity.
// Privileged identities are always allowed and never counted. The exhausted
// branch does not increment. The key's date is re-derived from the current
// time on every call, so a stale record can never suppress a fresh day's
// allowance.
func (g *Gate) CheckAndConsume(identity string, privileged bool) Decision {
	now := g.now().UTC()
	resetAt := nextUTCMidnight(now)

	if privileged {
		return Decision{Allowed: true, Unlimited: true, ResetAt: resetAt}
	}

	day := now.Format("2006-01-02")
	key := day + "|" + identity

	g.mu.Lock()
	defer g.mu.Unlock()

	g.sweep(day)

	count := g.counts[key]
	if count >= g.limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}
	g.counts[key] = count + 1
	return Decision{Allowed: true, Remaining: g.limit - (count + 1), ResetAt: resetAt}
}

// sweep reclaims entries from previous days. Must hold mu.
func (g *Gate) sweep(day string) {
	if g.day == day {
		return
	}
	for k := range g.counts {
		if len(k) < len(day) || k[:len(day)] != day {
			delete(g.counts, k)
		}
	}
	g.day = day
}

func nextUTCMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
