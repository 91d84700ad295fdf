package sizing

import (
	"testing"

	"github.com/polyarb/agent/pkg/types"
)

func testOpportunity() types.ArbOpportunity {
	return types.ArbOpportunity{
		MarketID:         "m1",
		TotalCost:        800_000_000_000_000_000,
		GuaranteedPayout: types.PriceScale,
		LiquidityA:       1_000_000_000,
		LiquidityB:       1_000_000_000,
	}
}

func TestGateAcceptsProfitableWithinCaps(t *testing.T) {
	g := NewGate(NewDailyLossGuard(0))
	cfg := Config{MinTradeSize: 1_000, MaxTradeSize: 1_000_000_000}

	notional, reason, ok := g.Evaluate(testOpportunity(), cfg, SessionSnapshot{}, 1_000_000_000_000, 1_000_000_000_000, 0)
	if !ok {
		t.Fatalf("Evaluate rejected: reason=%s", reason)
	}
	if notional <= 0 {
		t.Errorf("notional = %d, want > 0", notional)
	}
}

func TestGateRejectsBelowMinTradeSize(t *testing.T) {
	g := NewGate(NewDailyLossGuard(0))
	cfg := Config{MinTradeSize: 1_000_000_000, MaxTradeSize: 2_000_000_000}

	_, reason, ok := g.Evaluate(testOpportunity(), cfg, SessionSnapshot{}, 1, 1, 0)
	if ok {
		t.Fatal("Evaluate accepted a trade below min size")
	}
	if reason != ReasonBelowMinSize {
		t.Errorf("reason = %q, want %q", reason, ReasonBelowMinSize)
	}
}

func TestGateRejectsInsufficientBalance(t *testing.T) {
	g := NewGate(NewDailyLossGuard(0))
	cfg := Config{MinTradeSize: 1, MaxTradeSize: 1_000_000_000}

	_, reason, ok := g.Evaluate(testOpportunity(), cfg, SessionSnapshot{}, 1_000_000_000_000, 1, 0)
	if ok {
		t.Fatal("Evaluate accepted a trade exceeding balance")
	}
	if reason != ReasonInsufficientBal {
		t.Errorf("reason = %q, want %q", reason, ReasonInsufficientBal)
	}
}

func TestGateRejectsResolutionTooFar(t *testing.T) {
	g := NewGate(NewDailyLossGuard(0))
	cfg := Config{MinTradeSize: 1, MaxTradeSize: 1_000_000_000, MaxResolutionDays: 7}

	opp := testOpportunity()
	opp.ResolutionDays = 30

	_, reason, ok := g.Evaluate(opp, cfg, SessionSnapshot{}, 1_000_000_000_000, 1_000_000_000_000, 0)
	if ok {
		t.Fatal("Evaluate accepted a trade beyond max resolution horizon")
	}
	if reason != ReasonResolutionTooFar {
		t.Errorf("reason = %q, want %q", reason, ReasonResolutionTooFar)
	}
}

func TestGateRejectsSessionTradeCap(t *testing.T) {
	g := NewGate(NewDailyLossGuard(0))
	cfg := Config{MinTradeSize: 1, MaxTradeSize: 1_000_000_000, MaxTotalTrades: 3}

	_, reason, ok := g.Evaluate(testOpportunity(), cfg, SessionSnapshot{TradesExecuted: 3}, 1_000_000_000_000, 1_000_000_000_000, 0)
	if ok {
		t.Fatal("Evaluate accepted a trade past the session trade cap")
	}
	if reason != ReasonSessionTradeCap {
		t.Errorf("reason = %q, want %q", reason, ReasonSessionTradeCap)
	}
}

func TestGateRejectsSessionExpired(t *testing.T) {
	g := NewGate(NewDailyLossGuard(0))
	cfg := Config{MinTradeSize: 1, MaxTradeSize: 1_000_000_000, TradingDurationMs: 1000}

	_, reason, ok := g.Evaluate(testOpportunity(), cfg, SessionSnapshot{SessionStartMs: 0}, 1_000_000_000_000, 1_000_000_000_000, 2000)
	if ok {
		t.Fatal("Evaluate accepted a trade after session expiry")
	}
	if reason != ReasonSessionExpired {
		t.Errorf("reason = %q, want %q", reason, ReasonSessionExpired)
	}
}

func TestGateRejectsWhenDailyLossTripped(t *testing.T) {
	guard := NewDailyLossGuard(100)
	guard.Record(-150)
	g := NewGate(guard)
	cfg := Config{MinTradeSize: 1, MaxTradeSize: 1_000_000_000}

	_, reason, ok := g.Evaluate(testOpportunity(), cfg, SessionSnapshot{}, 1_000_000_000_000, 1_000_000_000_000, 0)
	if ok {
		t.Fatal("Evaluate accepted a trade while the daily loss guard is tripped")
	}
	if reason != ReasonDailyLossLimit {
		t.Errorf("reason = %q, want %q", reason, ReasonDailyLossLimit)
	}
}

func TestGateRecordOutcomeFeedsLossGuard(t *testing.T) {
	guard := NewDailyLossGuard(100)
	g := NewGate(guard)
	g.RecordOutcome(-150)

	if !guard.Tripped() {
		t.Error("expected loss guard to trip after RecordOutcome(-150) with limit 100")
	}
}
