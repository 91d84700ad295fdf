// Package executor turns a sized opportunity into a two-legged Position
// whose legs end up both filled, both unfilled, or cleanly unwound. It
// is the only component that places and cancels orders on behalf of an
// agent.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/polyarb/agent/internal/venue"
	"github.com/polyarb/agent/pkg/types"
)

// MarketTokens resolves a market's venue-specific YES/NO token ids.
// Implementations look these up from whatever market-metadata source
// the venue exposes; a missing token id refuses the execution.
type MarketTokens interface {
	Resolve(marketID string) (yesTokenID, noTokenID string, ok bool)
}

// PositionSink receives every Position mutation the Executor produces,
// in the same one-transition-at-a-time order they occur. Satisfied by
// the Position Store.
type PositionSink interface {
	Save(pos types.Position, reason string) error
}

// PauseFunc is called by the Executor to pause or unpause the owning
// agent. Implementations must be safe to call from the Executor's
// goroutine.
type PauseFunc func(paused bool, reason string)

const maxUnwindPolls = 6

// Executor places and settles one user's two-legged arbitrage trades.
// One Executor is owned by exactly one Agent.
type Executor struct {
	userID  string
	venueA  venue.Adapter
	venueB  venue.Adapter
	tokens  MarketTokens
	store   PositionSink
	pause   PauseFunc
	logger  *slog.Logger

	inFlightMu sync.Mutex
	inFlight   map[string]bool // fingerprint "userId:marketId" -> build active
}

// Params bundles the timing knobs an execution attempt needs, sourced
// from the owning user's config.
type Params struct {
	FillPollInterval   time.Duration
	FillPollTimeout    time.Duration
	UnwindPollInterval time.Duration
}

// New builds an Executor for one user, wired to that user's two venue
// adapters, market-token resolver, position sink, and pause callback.
func New(userID string, venueA, venueB venue.Adapter, tokens MarketTokens, store PositionSink, pause PauseFunc, logger *slog.Logger) *Executor {
	return &Executor{
		userID:   userID,
		venueA:   venueA,
		venueB:   venueB,
		tokens:   tokens,
		store:    store,
		pause:    pause,
		logger:   logger.With("component", "executor", "user_id", userID),
		inFlight: make(map[string]bool),
	}
}

// Execute turns opp (sized to notional) into a Position. It refuses
// re-entry while a build is already active for the same (userId,
// marketId) fingerprint, returning an error without side effects.
func (e *Executor) Execute(ctx context.Context, opp types.ArbOpportunity, notional int64, params Params) (types.Position, error) {
	fp := fingerprint(e.userID, opp.MarketID)
	if !e.acquire(fp) {
		return types.Position{}, fmt.Errorf("execution already in flight for market %s", opp.MarketID)
	}
	defer e.release(fp)

	yesToken, noToken, ok := e.tokens.Resolve(opp.MarketID)
	if !ok {
		return types.Position{}, fmt.Errorf("no token ids for market %s", opp.MarketID)
	}

	pos := types.Position{
		ID:             uuid.NewString(),
		UserID:         e.userID,
		MarketID:       opp.MarketID,
		Status:         types.PositionOpen,
		TotalCost:      opp.TotalCost,
		ExpectedPayout: opp.GuaranteedPayout,
		SpreadBps:      opp.SpreadBps,
		OpenedAt:       time.Now(),
		LegA: types.PositionLeg{
			Venue:   opp.VenueA,
			TokenID: yesToken,
			Side:    types.BUY,
			Price:   opp.YesPriceA,
			Size:    notional,
		},
		LegB: types.PositionLeg{
			Venue:   opp.VenueB,
			TokenID: noToken,
			Side:    types.BUY,
			Price:   opp.NoPriceB,
			Size:    notional,
		},
	}

	resA, resB := e.submitLegs(ctx, pos)

	switch {
	case !resA.Success && !resB.Success:
		return types.Position{}, fmt.Errorf("both legs failed: a=%v b=%v", resA.Error, resB.Error)
	case resA.Success && !resB.Success:
		e.venueA.CancelOrder(ctx, resA.OrderID, pos.LegA.TokenID)
		return types.Position{}, fmt.Errorf("leg B failed, leg A cancelled: %v", resB.Error)
	case !resA.Success && resB.Success:
		e.venueB.CancelOrder(ctx, resB.OrderID, pos.LegB.TokenID)
		return types.Position{}, fmt.Errorf("leg A failed, leg B cancelled: %v", resA.Error)
	}

	pos.LegA.OrderID = resA.OrderID
	pos.LegB.OrderID = resB.OrderID
	pos.LegA.Filled = resA.Status == types.StatusFilled
	pos.LegB.Filled = resB.Status == types.StatusFilled
	if pos.LegA.Filled {
		pos.LegA.FilledSize = pos.LegA.Size
	}
	if pos.LegB.Filled {
		pos.LegB.FilledSize = pos.LegB.Size
	}

	e.save(pos, "submitted")

	if !pos.LegA.Filled || !pos.LegB.Filled {
		e.pollFills(ctx, &pos, params)
	}

	e.classify(ctx, &pos, params)
	e.save(pos, "terminal")
	return pos, nil
}

// Resume re-enters the fill poller for a position reloaded from the
// store after a restart (Status OPEN or PARTIAL). It acquires the same
// per-market fingerprint Execute uses, so a resumed position blocks a
// fresh Execute call for that market until it reaches a terminal state.
func (e *Executor) Resume(ctx context.Context, pos types.Position, params Params) {
	fp := fingerprint(pos.UserID, pos.MarketID)
	if !e.acquire(fp) {
		e.logger.Warn("resume skipped, fingerprint already in flight", "position_id", pos.ID)
		return
	}
	defer e.release(fp)

	if pos.Status == types.PositionOpen {
		e.pollFills(ctx, &pos, params)
		e.classify(ctx, &pos, params)
	} else if pos.Status == types.PositionPartial {
		e.unwind(ctx, &pos, params)
	}
	e.save(pos, "resumed")
}

// submitLegs places both legs concurrently and waits for both to
// return before continuing.
func (e *Executor) submitLegs(ctx context.Context, pos types.Position) (types.PlaceOrderResult, types.PlaceOrderResult) {
	var resA, resB types.PlaceOrderResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resA = e.venueA.PlaceOrder(gctx, types.PlaceOrderRequest{
			MarketID: pos.MarketID, TokenID: pos.LegA.TokenID, Side: pos.LegA.Side,
			Price: pos.LegA.Price, Size: pos.LegA.Size,
		})
		return nil
	})
	g.Go(func() error {
		resB = e.venueB.PlaceOrder(gctx, types.PlaceOrderRequest{
			MarketID: pos.MarketID, TokenID: pos.LegB.TokenID, Side: pos.LegB.Side,
			Price: pos.LegB.Price, Size: pos.LegB.Size,
		})
		return nil
	})
	_ = g.Wait() // legs never return an error value, only Success=false
	return resA, resB
}

// legPollState tracks a leg's last observed status across poll ticks,
// independent of the Position record (which only records Filled/size).
type legPollState struct {
	status types.OrderStatus
}

func (s legPollState) terminal() bool {
	switch s.status {
	case types.StatusFilled, types.StatusCancelled, types.StatusExpired:
		return true
	default:
		return false
	}
}

// pollFills runs the bounded fill-polling loop for whichever legs
// aren't yet terminal, then performs the timeout final-check.
func (e *Executor) pollFills(ctx context.Context, pos *types.Position, params Params) {
	stateA := legPollState{status: types.StatusOpen}
	stateB := legPollState{status: types.StatusOpen}
	if pos.LegA.Filled {
		stateA.status = types.StatusFilled
	}
	if pos.LegB.Filled {
		stateB.status = types.StatusFilled
	}

	deadline := time.Now().Add(params.FillPollTimeout)
	ticker := time.NewTicker(params.FillPollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		e.refreshLeg(ctx, e.venueA, &pos.LegA, &stateA)
		e.refreshLeg(ctx, e.venueB, &pos.LegB, &stateB)
		if stateA.terminal() && stateB.terminal() {
			return
		}
	}
	// final check: one more read to catch last-moment fills
	e.refreshLeg(ctx, e.venueA, &pos.LegA, &stateA)
	e.refreshLeg(ctx, e.venueB, &pos.LegB, &stateB)
}

func (e *Executor) refreshLeg(ctx context.Context, a venue.Adapter, leg *types.PositionLeg, state *legPollState) {
	if state.terminal() {
		return
	}
	st := a.GetOrderStatus(ctx, leg.OrderID)
	if st.Status == types.StatusUnknown {
		return // try again next tick
	}
	state.status = st.Status
	leg.FilledSize = st.FilledSize
	if st.Status == types.StatusFilled || st.FilledSize >= leg.Size {
		leg.Filled = true
		state.status = types.StatusFilled
	}
}

// classify applies the terminal state machine and, for a partial fill,
// runs the unwind protocol.
func (e *Executor) classify(ctx context.Context, pos *types.Position, params Params) {
	switch {
	case pos.LegA.Filled && pos.LegB.Filled:
		e.closePosition(pos, pos.ExpectedPayout-pos.TotalCost)
		pos.Status = types.PositionFilled
	case pos.LegA.Filled != pos.LegB.Filled:
		pos.Status = types.PositionPartial
		e.unwind(ctx, pos, params)
	default:
		pos.Status = types.PositionExpired
		e.venueA.CancelOrder(ctx, pos.LegA.OrderID, pos.LegA.TokenID)
		e.venueB.CancelOrder(ctx, pos.LegB.OrderID, pos.LegB.TokenID)
	}
}

// unwind cancels the unfilled leg and sells back the filled leg's
// acquired tokens, polling the unwind order for a bounded number of
// intervals.
func (e *Executor) unwind(ctx context.Context, pos *types.Position, params Params) {
	e.pause(true, "partial_fill:awaiting_unwind")
	pos.UnwindAttempted = true

	filledLeg, filledAdapter, unfilledLeg, unfilledAdapter := pos.LegB, e.venueB, pos.LegA, e.venueA
	if pos.LegA.Filled {
		filledLeg, filledAdapter, unfilledLeg, unfilledAdapter = pos.LegA, e.venueA, pos.LegB, e.venueB
	}

	unfilledAdapter.CancelOrder(ctx, unfilledLeg.OrderID, unfilledLeg.TokenID)

	unwindResult := filledAdapter.PlaceOrder(ctx, types.PlaceOrderRequest{
		MarketID: pos.MarketID,
		TokenID:  filledLeg.TokenID,
		Side:     types.SELL,
		Price:    filledLeg.Price,
		Size:     filledLeg.FilledSize,
	})
	if !unwindResult.Success {
		e.logger.Error("unwind placement failed", "market_id", pos.MarketID, "err", unwindResult.Error)
		return // remain paused, Position stays PARTIAL
	}
	pos.UnwindOrderID = unwindResult.OrderID

	status := unwindResult.Status
	for i := 0; i < maxUnwindPolls && status != types.StatusFilled && status != types.StatusCancelled && status != types.StatusExpired; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(params.UnwindPollInterval):
		}
		res := filledAdapter.GetOrderStatus(ctx, unwindResult.OrderID)
		if res.Status != types.StatusUnknown {
			status = res.Status
		}
	}

	if status == types.StatusFilled {
		// Unwind sells back at the same price and size as the original
		// fill; order-status lookups don't expose an actual fill price,
		// so proceeds equal cost and the recorded realized PnL is zero.
		fillCost := mulFraction(filledLeg.Price, filledLeg.FilledSize)
		unwindProceeds := mulFraction(filledLeg.Price, filledLeg.FilledSize)
		e.closePosition(pos, unwindProceeds-fillCost)
		e.pause(false, "")
		return
	}

	e.logger.Warn("unwind did not fill within poll budget", "market_id", pos.MarketID, "status", status)
	// remain paused; Position stays PARTIAL for operator intervention
}

func (e *Executor) closePosition(pos *types.Position, pnl int64) {
	pos.Status = types.PositionClosed
	pos.RealizedPnL = pnl
	now := time.Now()
	pos.ClosedAt = now
	pos.HasClosedAt = true
}

// mulFraction computes price*size/PriceScale without overflowing
// int64: price and size are each scaled large enough that their direct
// product routinely exceeds the int64 range before the division.
func mulFraction(price, size int64) int64 {
	result := new(big.Int).Mul(big.NewInt(price), big.NewInt(size))
	result.Div(result, big.NewInt(types.PriceScale))
	return result.Int64()
}

func (e *Executor) save(pos types.Position, reason string) {
	if err := e.store.Save(pos, reason); err != nil {
		e.logger.Error("position save failed", "position_id", pos.ID, "err", err)
	}
}

func (e *Executor) acquire(fp string) bool {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()
	if e.inFlight[fp] {
		return false
	}
	e.inFlight[fp] = true
	return true
}

func (e *Executor) release(fp string) {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()
	delete(e.inFlight, fp)
}

func fingerprint(userID, marketID string) string {
	return userID + ":" + marketID
}
