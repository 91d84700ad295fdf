package executor

import (
	"sync"

	"github.com/polyarb/agent/pkg/types"
)

// Accounting aggregates realized PnL and trade counts across all of one
// user's positions, the session-level bookkeeping the Agent Loop checks
// against the daily-loss guard and session trade cap.
type Accounting struct {
	mu             sync.RWMutex
	realizedPnL    int64
	tradesExecuted int
	openPositions  int
}

// NewAccounting builds empty session accounting.
func NewAccounting() *Accounting {
	return &Accounting{}
}

// RecordOpen increments the trade counter and open-position count for a
// newly submitted two-legged trade, independent of its eventual
// outcome.
func (a *Accounting) RecordOpen() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tradesExecuted++
	a.openPositions++
}

// RecordTerminal folds a Position's final status into the aggregate:
// FILLED and CLOSED contribute their realized PnL and close the
// position; PARTIAL and EXPIRED close it without PnL (EXPIRED never
// took on exposure; PARTIAL's PnL, if any, is recorded separately by a
// later unwind completion).
func (a *Accounting) RecordTerminal(pos types.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch pos.Status {
	case types.PositionFilled, types.PositionClosed:
		a.realizedPnL += pos.RealizedPnL
		a.openPositions--
	case types.PositionExpired:
		a.openPositions--
	case types.PositionPartial:
		// stays open: operator intervention or a later unwind
		// completion will call RecordTerminal again once resolved.
	}
}

// Snapshot returns the current aggregate counters.
func (a *Accounting) Snapshot() (realizedPnL int64, tradesExecuted, openPositions int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.realizedPnL, a.tradesExecuted, a.openPositions
}
