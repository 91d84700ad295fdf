package executor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/polyarb/agent/pkg/types"
)

const testMarket = "market-1"

type fakeAdapter struct {
	id types.VenueID

	mu           sync.Mutex
	placeResults []types.PlaceOrderResult // consumed in order, one per PlaceOrder call
	statusSeq    map[string][]types.OrderStatusResult
	cancelled    []string
	placed       []types.PlaceOrderRequest
}

func newFakeAdapter(id types.VenueID) *fakeAdapter {
	return &fakeAdapter{id: id, statusSeq: make(map[string][]types.OrderStatusResult)}
}

func (f *fakeAdapter) ID() types.VenueID { return f.id }

func (f *fakeAdapter) Authenticate(ctx context.Context) error { return nil }

func (f *fakeAdapter) PlaceOrder(ctx context.Context, req types.PlaceOrderRequest) types.PlaceOrderResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	if len(f.placeResults) == 0 {
		return types.PlaceOrderResult{Success: false}
	}
	res := f.placeResults[0]
	f.placeResults = f.placeResults[1:]
	return res
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, orderID, tokenID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return true
}

func (f *fakeAdapter) GetOrderStatus(ctx context.Context, orderID string) types.OrderStatusResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.statusSeq[orderID]
	if len(seq) == 0 {
		return types.OrderStatusResult{OrderID: orderID, Status: types.StatusUnknown}
	}
	next := seq[0]
	if len(seq) > 1 {
		f.statusSeq[orderID] = seq[1:]
	}
	return next
}

func (f *fakeAdapter) GetOpenOrders(ctx context.Context) []types.OpenOrder { return nil }

func (f *fakeAdapter) EnsureApprovals(ctx context.Context) error { return nil }

type fakeTokens struct{}

func (fakeTokens) Resolve(marketID string) (string, string, bool) {
	return "yes-tok", "no-tok", true
}

type missingTokens struct{}

func (missingTokens) Resolve(marketID string) (string, string, bool) { return "", "", false }

type fakeStore struct {
	mu    sync.Mutex
	saves []types.Position
}

func (s *fakeStore) Save(pos types.Position, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, pos)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOpp() types.ArbOpportunity {
	return types.ArbOpportunity{
		MarketID:         testMarket,
		VenueA:           types.VenueA,
		VenueB:           types.VenueB,
		BuyYesOnA:        true,
		YesPriceA:        400_000_000_000_000_000,
		NoPriceB:         550_000_000_000_000_000,
		TotalCost:        950_000_000_000_000_000,
		GuaranteedPayout: types.PriceScale,
		SpreadBps:        500,
	}
}

func testParams() Params {
	return Params{
		FillPollInterval:   5 * time.Millisecond,
		FillPollTimeout:    30 * time.Millisecond,
		UnwindPollInterval: 5 * time.Millisecond,
	}
}

func TestExecuteBothFilledAtSubmission(t *testing.T) {
	a := newFakeAdapter(types.VenueA)
	b := newFakeAdapter(types.VenueB)
	a.placeResults = []types.PlaceOrderResult{{Success: true, OrderID: "a1", Status: types.StatusFilled}}
	b.placeResults = []types.PlaceOrderResult{{Success: true, OrderID: "b1", Status: types.StatusFilled}}

	store := &fakeStore{}
	var pauseCalls []bool
	pause := func(paused bool, reason string) { pauseCalls = append(pauseCalls, paused) }

	ex := New("u1", a, b, fakeTokens{}, store, pause, testLogger())
	pos, err := ex.Execute(context.Background(), testOpp(), 10_000_000, testParams())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if pos.Status != types.PositionFilled {
		t.Errorf("Status = %v, want FILLED", pos.Status)
	}
	if pos.RealizedPnL != testOpp().GuaranteedPayout-testOpp().TotalCost {
		t.Errorf("RealizedPnL = %v, want %v", pos.RealizedPnL, testOpp().GuaranteedPayout-testOpp().TotalCost)
	}
	if len(pauseCalls) != 0 {
		t.Errorf("pause called %v times, want 0 for a clean fill", len(pauseCalls))
	}
}

func TestExecuteLegBFailsCancelsLegA(t *testing.T) {
	a := newFakeAdapter(types.VenueA)
	b := newFakeAdapter(types.VenueB)
	a.placeResults = []types.PlaceOrderResult{{Success: true, OrderID: "a1", Status: types.StatusOpen}}
	b.placeResults = []types.PlaceOrderResult{{Success: false}}

	store := &fakeStore{}
	ex := New("u1", a, b, fakeTokens{}, store, func(bool, string) {}, testLogger())
	_, err := ex.Execute(context.Background(), testOpp(), 10_000_000, testParams())
	if err == nil {
		t.Fatal("Execute() error = nil, want failure when one leg fails")
	}
	if len(a.cancelled) != 1 || a.cancelled[0] != "a1" {
		t.Errorf("cancelled on venue A = %v, want [a1]", a.cancelled)
	}
	if len(store.saves) != 0 {
		t.Errorf("store.saves = %d, want 0: no Position recorded on leg failure", len(store.saves))
	}
}

func TestExecuteRefusesMissingTokens(t *testing.T) {
	a := newFakeAdapter(types.VenueA)
	b := newFakeAdapter(types.VenueB)
	ex := New("u1", a, b, missingTokens{}, &fakeStore{}, func(bool, string) {}, testLogger())
	_, err := ex.Execute(context.Background(), testOpp(), 10_000_000, testParams())
	if err == nil {
		t.Fatal("Execute() error = nil, want refusal on unresolved token ids")
	}
	if len(a.placed) != 0 || len(b.placed) != 0 {
		t.Error("no order should be placed when token resolution fails")
	}
}

func TestExecutePartialFillUnwindSucceeds(t *testing.T) {
	a := newFakeAdapter(types.VenueA)
	b := newFakeAdapter(types.VenueB)
	a.placeResults = []types.PlaceOrderResult{
		{Success: true, OrderID: "a1", Status: types.StatusOpen},
		{Success: true, OrderID: "u1", Status: types.StatusOpen}, // unwind order
	}
	b.placeResults = []types.PlaceOrderResult{{Success: true, OrderID: "b1", Status: types.StatusOpen}}
	a.statusSeq["a1"] = []types.OrderStatusResult{{OrderID: "a1", Status: types.StatusFilled, FilledSize: 10_000_000}}
	b.statusSeq["b1"] = []types.OrderStatusResult{{OrderID: "b1", Status: types.StatusCancelled}}
	a.statusSeq["u1"] = []types.OrderStatusResult{{OrderID: "u1", Status: types.StatusFilled, FilledSize: 10_000_000}}

	store := &fakeStore{}
	var pauseCalls []bool
	var mu sync.Mutex
	pause := func(paused bool, reason string) {
		mu.Lock()
		defer mu.Unlock()
		pauseCalls = append(pauseCalls, paused)
	}

	ex := New("u1", a, b, fakeTokens{}, store, pause, testLogger())
	pos, err := ex.Execute(context.Background(), testOpp(), 10_000_000, testParams())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if pos.Status != types.PositionClosed {
		t.Errorf("Status = %v, want CLOSED after successful unwind", pos.Status)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(pauseCalls) != 2 || pauseCalls[0] != true || pauseCalls[1] != false {
		t.Errorf("pauseCalls = %v, want [true, false]", pauseCalls)
	}
}

func TestExecutePartialFillUnwindRejectedStaysPaused(t *testing.T) {
	a := newFakeAdapter(types.VenueA)
	b := newFakeAdapter(types.VenueB)
	a.placeResults = []types.PlaceOrderResult{
		{Success: true, OrderID: "a1", Status: types.StatusOpen},
		{Success: false}, // unwind placement rejected
	}
	b.placeResults = []types.PlaceOrderResult{{Success: true, OrderID: "b1", Status: types.StatusOpen}}
	a.statusSeq["a1"] = []types.OrderStatusResult{{OrderID: "a1", Status: types.StatusFilled, FilledSize: 10_000_000}}
	b.statusSeq["b1"] = []types.OrderStatusResult{{OrderID: "b1", Status: types.StatusCancelled}}

	store := &fakeStore{}
	var pauseCalls []bool
	var mu sync.Mutex
	pause := func(paused bool, reason string) {
		mu.Lock()
		defer mu.Unlock()
		pauseCalls = append(pauseCalls, paused)
	}

	ex := New("u1", a, b, fakeTokens{}, store, pause, testLogger())
	pos, err := ex.Execute(context.Background(), testOpp(), 10_000_000, testParams())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if pos.Status != types.PositionPartial {
		t.Errorf("Status = %v, want PARTIAL after rejected unwind", pos.Status)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(pauseCalls) != 1 || pauseCalls[0] != true {
		t.Errorf("pauseCalls = %v, want [true] (stays paused)", pauseCalls)
	}
}

func TestExecuteBothUnfilledExpiresAndCancelsBoth(t *testing.T) {
	a := newFakeAdapter(types.VenueA)
	b := newFakeAdapter(types.VenueB)
	a.placeResults = []types.PlaceOrderResult{{Success: true, OrderID: "a1", Status: types.StatusOpen}}
	b.placeResults = []types.PlaceOrderResult{{Success: true, OrderID: "b1", Status: types.StatusOpen}}
	// status never reports filled; stays open until the poll budget expires

	ex := New("u1", a, b, fakeTokens{}, &fakeStore{}, func(bool, string) {}, testLogger())
	pos, err := ex.Execute(context.Background(), testOpp(), 10_000_000, testParams())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if pos.Status != types.PositionExpired {
		t.Errorf("Status = %v, want EXPIRED", pos.Status)
	}
	if len(a.cancelled) != 1 || len(b.cancelled) != 1 {
		t.Errorf("cancelled = a:%v b:%v, want both legs cancelled", a.cancelled, b.cancelled)
	}
}

func TestExecuteRefusesReentryOnSameFingerprint(t *testing.T) {
	a := newFakeAdapter(types.VenueA)
	b := newFakeAdapter(types.VenueB)
	ex := New("u1", a, b, fakeTokens{}, &fakeStore{}, func(bool, string) {}, testLogger())

	fp := fingerprint("u1", testMarket)
	if !ex.acquire(fp) {
		t.Fatal("first acquire should succeed")
	}
	defer ex.release(fp)

	_, err := ex.Execute(context.Background(), testOpp(), 10_000_000, testParams())
	if err == nil {
		t.Fatal("Execute() error = nil, want refusal while a build is already in flight")
	}
}

func TestAccountingTracksRealizedPnLAndOpenCount(t *testing.T) {
	acc := NewAccounting()
	acc.RecordOpen()
	acc.RecordOpen()
	acc.RecordTerminal(types.Position{Status: types.PositionFilled, RealizedPnL: 5_000_000})
	acc.RecordTerminal(types.Position{Status: types.PositionExpired})

	pnl, trades, open := acc.Snapshot()
	if pnl != 5_000_000 {
		t.Errorf("realizedPnL = %v, want 5000000", pnl)
	}
	if trades != 2 {
		t.Errorf("tradesExecuted = %v, want 2", trades)
	}
	if open != 0 {
		t.Errorf("openPositions = %v, want 0", open)
	}
}
