package sizing

import (
	"github.com/shopspring/decimal"

	"github.com/polyarb/agent/pkg/types"
)

// kellyP and kellyQ are the fixed win/loss probability assumptions for
// arbitrage sizing: a guaranteed-payout trade is treated as a
// near-certain win (p=0.95) with a small residual probability of
// execution/settlement risk (q=0.05), matching professional-trading
// practice of never assuming a literal 100% edge.
var (
	kellyP = decimal.NewFromFloat(0.95)
	kellyQ = decimal.NewFromFloat(0.05)
	two    = decimal.NewFromInt(2)
)

// kellyFraction computes the half-Kelly stake fraction for an
// opportunity whose payout odds are b = (guaranteedPayout - totalCost)
// / totalCost. Uses half-Kelly for safety, the standard practice in
// professional trading: full Kelly sizing is too aggressive against
// estimation error in p and q. Returns 0 if b <= 0. Decimal arithmetic
// avoids float64 rounding drift compounding into the notional
// computed from it.
func kellyFraction(totalCost, guaranteedPayout int64) decimal.Decimal {
	if totalCost <= 0 {
		return decimal.Zero
	}
	cost := decimal.NewFromInt(totalCost)
	b := decimal.NewFromInt(guaranteedPayout - totalCost).Div(cost)
	if !b.IsPositive() {
		return decimal.Zero
	}
	f := kellyP.Mul(b).Sub(kellyQ).Div(b)
	if f.IsNegative() {
		f = decimal.Zero
	}
	return f.Div(two)
}

// baseNotional is half the configured per-trade ceiling — one per leg.
func baseNotional(maxTradeSize int64) int64 {
	return maxTradeSize / 2
}

// liquidityCap limits a leg's notional to 90% of that leg's venue
// liquidity.
func liquidityCap(liquidity int64) int64 {
	return (liquidity * 90) / 100
}

// sizeNotional applies the full sizing formula from an opportunity and
// available capital: the base notional is capped by the smaller of the
// two legs' liquidity caps (a two-legged trade can never exceed its
// thinner leg), and the result is the lesser of that capped notional and
// the half-Kelly fraction of availableCapital.
func sizeNotional(opp types.ArbOpportunity, cfg Config, availableCapital int64) int64 {
	capped := baseNotional(cfg.MaxTradeSize)
	if lc := liquidityCap(opp.LiquidityA); lc < capped {
		capped = lc
	}
	if lc := liquidityCap(opp.LiquidityB); lc < capped {
		capped = lc
	}
	if capped < 0 {
		capped = 0
	}

	fraction := kellyFraction(opp.TotalCost, opp.GuaranteedPayout)
	byKelly := fraction.Mul(decimal.NewFromInt(availableCapital)).IntPart()

	if byKelly < capped {
		return byKelly
	}
	return capped
}
