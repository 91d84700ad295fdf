// Package quote implements the Quote Source: it polls both venues for
// the markets an agent tracks and produces a refreshed QuoteSnapshot
// each cycle.
package quote

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/polyarb/agent/internal/venue"
	"github.com/polyarb/agent/pkg/types"
)

// TrackedMarket identifies one market and its per-venue token IDs, so
// the source knows what to poll on venue A and what to read off venue
// B's quote feed.
type TrackedMarket struct {
	MarketID   string
	YesTokenID string
	NoTokenID  string
}

// AMMQuoter is the subset of the venue A adapter the Quote Source
// needs: a way to read the AMM's current price for a token without
// placing an order.
type AMMQuoter interface {
	Quote(ctx context.Context, marketID, yesTokenID, noTokenID string) (types.MarketQuote, error)
}

// Source produces a QuoteSnapshot on demand by polling venue A
// synchronously and reading venue B's already-maintained Books.
type Source struct {
	ammQuoter AMMQuoter
	clobFeed  *venue.QuoteFeed
	markets   []TrackedMarket
	logger    *slog.Logger

	snapshotID atomic.Int64
}

// New builds a Quote Source over the given tracked markets.
func New(ammQuoter AMMQuoter, clobFeed *venue.QuoteFeed, markets []TrackedMarket, logger *slog.Logger) *Source {
	return &Source{
		ammQuoter: ammQuoter,
		clobFeed:  clobFeed,
		markets:   markets,
		logger:    logger.With("component", "quote-source"),
	}
}

// Snapshot polls venue A for every tracked market and merges it with
// venue B's current top-of-book quotes into one QuoteSnapshot. A
// venue's transient failure yields zero quotes from that venue for
// this cycle; the snapshot proceeds with whatever was obtained (fails
// open, per-venue).
func (s *Source) Snapshot(ctx context.Context) types.QuoteSnapshot {
	id := s.snapshotID.Add(1)
	snap := types.QuoteSnapshot{
		SnapshotID:  id,
		ProducedAt:  time.Now(),
		VenueErrors: make(map[types.VenueID]error),
	}

	for _, m := range s.markets {
		q, err := s.ammQuoter.Quote(ctx, m.MarketID, m.YesTokenID, m.NoTokenID)
		if err != nil {
			s.logger.Warn("venue a quote failed", "market", m.MarketID, "err", err)
			snap.VenueErrors[types.VenueA] = err
			continue
		}
		snap.Quotes = append(snap.Quotes, q)
	}

	for _, book := range s.clobFeed.Books() {
		q, ok := book.Quote()
		if !ok {
			continue
		}
		if book.Stale(30 * time.Second) {
			s.logger.Debug("venue b book stale, including last known quote")
		}
		snap.Quotes = append(snap.Quotes, q)
	}

	return snap
}
