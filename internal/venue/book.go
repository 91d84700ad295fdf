package venue

import (
	"sync"
	"time"

	"github.com/polyarb/agent/pkg/types"
)

// Book mirrors venue B's top-of-book view for one market's YES and NO
// tokens. Quote production only needs the best ask and its top-of-book
// liquidity, not full L2 depth, so unlike a market-making book this
// tracks a single fixed-point ask price/size pair per token.
type Book struct {
	mu       sync.RWMutex
	marketID string
	yesToken string
	noToken  string

	yesBestAsk     int64 // scaled by PriceScale; 0 if unknown
	yesAskLiquidity int64 // scaled by QuoteScale
	noBestAsk      int64
	noAskLiquidity int64

	updated time.Time
}

// NewBook creates an empty top-of-book mirror for one market.
func NewBook(marketID, yesToken, noToken string) *Book {
	return &Book{marketID: marketID, yesToken: yesToken, noToken: noToken}
}

// ApplyQuoteDelta updates one token's best ask price and liquidity from
// a WS price-change event already converted to fixed-point units.
func (b *Book) ApplyQuoteDelta(tokenID string, bestAsk, liquidity int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch tokenID {
	case b.yesToken:
		b.yesBestAsk = bestAsk
		b.yesAskLiquidity = liquidity
	case b.noToken:
		b.noBestAsk = bestAsk
		b.noAskLiquidity = liquidity
	}
	b.updated = time.Now()
}

// Quote returns the current best-ask view of this market as a
// types.MarketQuote for venue B. ok is false if neither side has
// received an update yet.
func (b *Book) Quote() (types.MarketQuote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.yesBestAsk == 0 && b.noBestAsk == 0 {
		return types.MarketQuote{}, false
	}

	return types.MarketQuote{
		Venue:        types.VenueB,
		MarketID:     b.marketID,
		YesPrice:     b.yesBestAsk,
		NoPrice:      b.noBestAsk,
		YesLiquidity: b.yesAskLiquidity,
		NoLiquidity:  b.noAskLiquidity,
	}, true
}

// Stale reports whether this book hasn't received an update within max.
func (b *Book) Stale(max time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > max
}
