package venue

import (
	"context"
	"testing"

	"github.com/polyarb/agent/internal/config"
	"github.com/polyarb/agent/pkg/types"
)

func TestCLOBAdapterDryRunAuthenticateSetsSessionToken(t *testing.T) {
	c := NewCLOBAdapter(config.VenueConfig{BaseURL: "https://example.invalid"}, nil, true, testAMMLogger())
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if c.token() == "" {
		t.Error("expected a dry-run session token")
	}
}

func TestCLOBAdapterDryRunPlaceOrderSucceedsWithoutSigner(t *testing.T) {
	c := NewCLOBAdapter(config.VenueConfig{BaseURL: "https://example.invalid"}, nil, true, testAMMLogger())

	result := c.PlaceOrder(context.Background(), types.PlaceOrderRequest{TokenID: "yes-1", Side: "BUY", Price: 500_000_000_000_000_000, Size: 1_000_000})
	if !result.Success {
		t.Fatalf("PlaceOrder dry-run Success = false, err=%v", result.Error)
	}
	if result.Status != types.StatusOpen {
		t.Errorf("Status = %v, want StatusOpen", result.Status)
	}
}

func TestCLOBAdapterDryRunCancelAlwaysSucceeds(t *testing.T) {
	c := NewCLOBAdapter(config.VenueConfig{BaseURL: "https://example.invalid"}, nil, true, testAMMLogger())
	if !c.CancelOrder(context.Background(), "order-1", "yes-1") {
		t.Error("CancelOrder dry-run = false, want true")
	}
}

func TestCLOBAdapterID(t *testing.T) {
	c := NewCLOBAdapter(config.VenueConfig{BaseURL: "https://example.invalid"}, nil, true, testAMMLogger())
	if c.ID() != types.VenueB {
		t.Errorf("ID() = %v, want VenueB", c.ID())
	}
}

func TestCLOBAdapterEnsureApprovalsDryRunIdempotent(t *testing.T) {
	c := NewCLOBAdapter(config.VenueConfig{BaseURL: "https://example.invalid"}, nil, true, testAMMLogger())
	if err := c.EnsureApprovals(context.Background()); err != nil {
		t.Fatalf("EnsureApprovals: %v", err)
	}
	if !c.approvalsDone {
		t.Error("approvalsDone not set after EnsureApprovals")
	}
}
