// Package detector turns a quote snapshot into a ranked list of
// cross-venue arbitrage opportunities.
package detector

import (
	"math/big"
	"sort"
	"time"

	"github.com/polyarb/agent/pkg/types"
)

// DefaultResolutionHorizonDays is used for annualized-yield ranking
// when a market doesn't expose a resolution date.
const DefaultResolutionHorizonDays = 30.0

const basisPoints = 10_000

// Fees bundles the per-venue fee rate (in basis points of notional) and
// the gas estimate inputs needed to net a gross spread down to a real
// spread.
type Fees struct {
	VenueAFeeBps   int64
	VenueBFeeBps   int64
	GasPriceWei    int64
	GasUnits       int64
	GasToQuoteRate int64 // native-token price in quote units, scaled 1e6
}

// estimateGas converts a gas cost in native-token wei to quote units,
// using the configured static conversion rate: gas = gasPrice * units *
// gasToQuoteRate / 1e18.
func (f Fees) estimateGas() int64 {
	return mulDiv(f.GasPriceWei*f.GasUnits, f.GasToQuoteRate, types.PriceScale)
}

// mulDiv computes a*b/c without overflowing int64: a*b routinely
// exceeds 1e18 for these fixed-point quantities (e.g. a deviation near
// PriceScale times basisPoints), so the multiplication is done in
// arbitrary precision before dividing back down.
func mulDiv(a, b, c int64) int64 {
	if c == 0 {
		return 0
	}
	result := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	result.Div(result, big.NewInt(c))
	return result.Int64()
}

// Detect pairs every market present in quotes from two distinct venues
// and returns the opportunities whose combined cost is below the
// guaranteed payout, after applying the minSpreadBps filter. Ranking is
// annualized-yield descending with a deterministic tie-break.
func Detect(snapshot types.QuoteSnapshot, fees Fees, minSpreadBps int64) []types.ArbOpportunity {
	byMarket := make(map[string][]types.MarketQuote)
	for _, q := range snapshot.Quotes {
		byMarket[q.MarketID] = append(byMarket[q.MarketID], q)
	}

	var out []types.ArbOpportunity
	for marketID, quotes := range byMarket {
		for i := range quotes {
			for j := range quotes {
				if i == j || quotes[i].Venue == quotes[j].Venue {
					continue
				}
				if opp, ok := pair(marketID, quotes[i], quotes[j], fees, true); ok {
					out = append(out, opp)
				}
			}
		}
	}

	filtered := out[:0]
	for _, opp := range out {
		if opp.SpreadBps >= minSpreadBps {
			filtered = append(filtered, opp)
		}
	}

	rank(filtered)
	return filtered
}

// pair builds the directional candidate "buy YES on a, buy NO on b" and
// evaluates whether the deviation of their combined cost from the
// guaranteed 1e18 payout is favorable — the same deviation-sign idiom
// used to detect convergence between two correlated quote streams.
func pair(marketID string, a, b types.MarketQuote, fees Fees, buyYesOnA bool) (types.ArbOpportunity, bool) {
	if a.YesPrice <= 0 || b.NoPrice <= 0 {
		return types.ArbOpportunity{}, false // a side with no quoted price can't be bought
	}
	totalCost := a.YesPrice + b.NoPrice
	deviation := types.PriceScale - totalCost
	if deviation <= 0 {
		return types.ArbOpportunity{}, false
	}

	grossSpreadBps := mulDiv(deviation, basisPoints, types.PriceScale)
	feesDeducted := mulDiv(totalCost, fees.VenueAFeeBps, basisPoints) +
		mulDiv(totalCost, fees.VenueBFeeBps, basisPoints) +
		fees.estimateGas()
	feesBps := int64(0)
	if totalCost > 0 {
		feesBps = mulDiv(feesDeducted, basisPoints, totalCost)
	}
	spreadBps := grossSpreadBps - feesBps

	resolutionDays := DefaultResolutionHorizonDays
	if a.HasResolution {
		resolutionDays = daysUntil(a)
	} else if b.HasResolution {
		resolutionDays = daysUntil(b)
	}

	return types.ArbOpportunity{
		MarketID:         marketID,
		VenueA:           a.Venue,
		VenueB:           b.Venue,
		BuyYesOnA:        buyYesOnA,
		YesPriceA:        a.YesPrice,
		NoPriceB:         b.NoPrice,
		TotalCost:        totalCost,
		GuaranteedPayout: types.PriceScale,
		GrossSpreadBps:   grossSpreadBps,
		SpreadBps:        spreadBps,
		LiquidityA:       a.YesLiquidity,
		LiquidityB:       b.NoLiquidity,
		ResolutionDays:   resolutionDays,
	}, true
}

func daysUntil(q types.MarketQuote) float64 {
	if !q.HasResolution {
		return DefaultResolutionHorizonDays
	}
	d := time.Until(q.ResolutionDay).Hours() / 24
	if d <= 0 {
		return DefaultResolutionHorizonDays
	}
	return d
}

// rank orders opportunities by annualized yield (spreadBps scaled to a
// 365-day horizon) descending, tie-breaking by estProfit descending,
// then by (venueA, venueB) lexicographically for deterministic
// ordering.
func rank(opps []types.ArbOpportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		yi := annualizedYield(opps[i])
		yj := annualizedYield(opps[j])
		if yi != yj {
			return yi > yj
		}
		if opps[i].EstProfit != opps[j].EstProfit {
			return opps[i].EstProfit > opps[j].EstProfit
		}
		if opps[i].VenueA != opps[j].VenueA {
			return opps[i].VenueA < opps[j].VenueA
		}
		return opps[i].VenueB < opps[j].VenueB
	})
}

func annualizedYield(o types.ArbOpportunity) float64 {
	days := o.ResolutionDays
	if days <= 0 {
		days = DefaultResolutionHorizonDays
	}
	return float64(o.SpreadBps) * 365 / days
}
