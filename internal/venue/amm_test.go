package venue

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/polyarb/agent/internal/config"
	"github.com/polyarb/agent/pkg/types"
)

func testAMMLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAMMAdapterDryRunPlaceOrderSucceedsWithoutSigner(t *testing.T) {
	a := NewAMMAdapter(config.VenueConfig{BaseURL: "https://example.invalid"}, nil, true, testAMMLogger())

	result := a.PlaceOrder(context.Background(), types.PlaceOrderRequest{TokenID: "yes-1", Side: "BUY", Price: 500_000_000_000_000_000, Size: 1_000_000})
	if !result.Success {
		t.Fatalf("PlaceOrder dry-run Success = false, err=%v", result.Error)
	}
	if result.Status != types.StatusOpen {
		t.Errorf("Status = %v, want StatusOpen", result.Status)
	}
}

func TestAMMAdapterDryRunCancelAlwaysSucceeds(t *testing.T) {
	a := NewAMMAdapter(config.VenueConfig{BaseURL: "https://example.invalid"}, nil, true, testAMMLogger())
	if !a.CancelOrder(context.Background(), "order-1", "yes-1") {
		t.Error("CancelOrder dry-run = false, want true")
	}
}

func TestAMMAdapterDryRunBalanceIsPositive(t *testing.T) {
	a := NewAMMAdapter(config.VenueConfig{BaseURL: "https://example.invalid"}, nil, true, testAMMLogger())
	bal, err := a.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal <= 0 {
		t.Errorf("Balance = %d, want > 0", bal)
	}
}

func TestAMMAdapterEnsureApprovalsDryRunIdempotent(t *testing.T) {
	a := NewAMMAdapter(config.VenueConfig{BaseURL: "https://example.invalid"}, nil, true, testAMMLogger())
	if err := a.EnsureApprovals(context.Background()); err != nil {
		t.Fatalf("EnsureApprovals: %v", err)
	}
	if !a.approvalsDone {
		t.Error("approvalsDone not set after EnsureApprovals")
	}
	if err := a.EnsureApprovals(context.Background()); err != nil {
		t.Fatalf("second EnsureApprovals: %v", err)
	}
}

func TestAMMAdapterID(t *testing.T) {
	a := NewAMMAdapter(config.VenueConfig{BaseURL: "https://example.invalid"}, nil, true, testAMMLogger())
	if a.ID() != types.VenueA {
		t.Errorf("ID() = %v, want VenueA", a.ID())
	}
}
