// Package sizing implements the Sizer & Risk Gate: it turns a ranked
// opportunity into a concrete notional size, or rejects it with a
// reason code a caller can log and move past to the next candidate.
package sizing

import (
	"time"

	"github.com/polyarb/agent/pkg/types"
)

// Config is the subset of a user's configuration the Sizer & Risk Gate
// needs.
type Config struct {
	MinTradeSize      int64
	MaxTradeSize      int64
	MaxResolutionDays int // 0 = unbounded
	MaxTotalTrades    int // 0 = unbounded
	TradingDurationMs int64
}

// SessionSnapshot is the live session accounting the gate checks
// against. Owned and updated by the Agent Loop.
type SessionSnapshot struct {
	TradesExecuted int
	SessionStartMs int64
}

// Reason codes recorded against rejected opportunities, grounded on the
// same classify-and-label idiom used for execution failures.
const (
	ReasonBelowMinSize     = "below_min_trade_size"
	ReasonResolutionTooFar = "resolution_too_far"
	ReasonInsufficientBal  = "insufficient_balance"
	ReasonDailyLossLimit   = "daily_loss_limit_reached"
	ReasonSessionTradeCap  = "session_trade_cap_reached"
	ReasonSessionExpired   = "session_duration_expired"
)

// Gate evaluates an opportunity against sizing and risk rules in the
// order spec'd: notional sizing, minimum-size and resolution-horizon
// rejection, balance check, daily-loss guard, then session caps.
type Gate struct {
	lossGuard *DailyLossGuard
}

// NewGate builds a risk gate backed by the given daily-loss guard.
func NewGate(lossGuard *DailyLossGuard) *Gate {
	return &Gate{lossGuard: lossGuard}
}

// Evaluate returns the sized notional and true if the trade should
// proceed, or zero and a reason code if it should be rejected.
// availableCapital funds the half-Kelly sizing formula; balance is the
// signer's stable-token balance on the relevant venue-proxy address,
// checked against the final sized notional.
func (g *Gate) Evaluate(opp types.ArbOpportunity, cfg Config, session SessionSnapshot, availableCapital, balance int64, nowMs int64) (int64, string, bool) {
	notional := sizeNotional(opp, cfg, availableCapital)
	if notional < cfg.MinTradeSize {
		return 0, ReasonBelowMinSize, false
	}
	if cfg.MaxResolutionDays > 0 && opp.ResolutionDays > float64(cfg.MaxResolutionDays) {
		return 0, ReasonResolutionTooFar, false
	}
	if balance < notional {
		return 0, ReasonInsufficientBal, false
	}
	if g.lossGuard.Tripped() {
		return 0, ReasonDailyLossLimit, false
	}
	if cfg.MaxTotalTrades > 0 && session.TradesExecuted >= cfg.MaxTotalTrades {
		return 0, ReasonSessionTradeCap, false
	}
	if cfg.TradingDurationMs > 0 && nowMs-session.SessionStartMs >= cfg.TradingDurationMs {
		return 0, ReasonSessionExpired, false
	}

	return notional, "", true
}

// RecordOutcome feeds a realized PnL delta into the daily-loss guard.
func (g *Gate) RecordOutcome(pnlDelta int64) {
	g.lossGuard.Record(pnlDelta)
}

// LossGuardTripped reports whether the daily-loss guard has tripped,
// one of the three session-gate conditions the Agent Loop checks to
// decide whether to stop itself.
func (g *Gate) LossGuardTripped() bool {
	return g.lossGuard.Tripped()
}

// NowMs returns the current time as Unix milliseconds, the same clock
// basis AgentState uses for session accounting.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
