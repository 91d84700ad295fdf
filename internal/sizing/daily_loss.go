package sizing

import (
	"sync"
	"time"
)

// DailyLossGuard is a circuit-breaker that halts new executions once
// realized PnL for the current calendar day (UTC) breaches a
// configured limit. Resetting on a UTC calendar-day boundary rather
// than a rolling 24h window keeps the guard simple to reason about and
// deterministic to test.
type DailyLossGuard struct {
	mu       sync.Mutex
	limit    int64 // quote units, scaled by QuoteScale; 0 = disabled
	epoch    time.Time
	realized int64
}

// NewDailyLossGuard builds a guard with the given daily loss limit.
func NewDailyLossGuard(limit int64) *DailyLossGuard {
	return &DailyLossGuard{limit: limit, epoch: calendarDayUTC(time.Now())}
}

// Record adds a realized PnL delta (negative for a loss) to today's
// running total, resetting the counter if the calendar day has rolled
// over.
func (g *DailyLossGuard) Record(pnlDelta int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	g.realized += pnlDelta
}

// Tripped reports whether today's realized loss has reached the
// configured limit. A zero limit disables the guard.
func (g *DailyLossGuard) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	if g.limit <= 0 {
		return false
	}
	loss := -g.realized
	return loss >= g.limit
}

func (g *DailyLossGuard) rolloverLocked() {
	today := calendarDayUTC(time.Now())
	if today.After(g.epoch) {
		g.epoch = today
		g.realized = 0
	}
}

func calendarDayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
