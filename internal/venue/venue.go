// Package venue implements the two venue adapters an agent trades
// against: an AMM-priced venue ("A") and an order-book venue ("B").
// Both satisfy the same Adapter contract so the executor never branches
// on venue kind.
package venue

import (
	"context"

	"github.com/polyarb/agent/pkg/types"
)

// Adapter is the uniform contract over one venue. Implementations must
// never return a raw transport error to the caller from PlaceOrder,
// CancelOrder, GetOrderStatus, or GetOpenOrders — every per-call failure
// is captured in the returned value. Adapter-level errors are reserved
// for misconfiguration (missing credentials, bad signer).
type Adapter interface {
	// ID reports which venue this adapter talks to.
	ID() types.VenueID

	// Authenticate establishes or refreshes a session credential. A
	// no-op for venues that don't require one. The venue B adapter's
	// PlaceOrder calls it once on a 401 and retries the order once; no
	// other method re-authenticates.
	Authenticate(ctx context.Context) error

	// PlaceOrder submits one order. Idempotent with respect to the
	// adapter's internal nonce, which increments only when Success is
	// true. Never returns a transport error — failures are reported via
	// PlaceOrderResult.Error with Success=false.
	PlaceOrder(ctx context.Context, req types.PlaceOrderRequest) types.PlaceOrderResult

	// CancelOrder best-effort cancels a resting order. Returns false on
	// any failure, including "already filled" or "not found".
	CancelOrder(ctx context.Context, orderID, tokenID string) bool

	// GetOrderStatus looks up one order's current status, normalized to
	// the closed OrderStatus set. Returns StatusUnknown on a transient
	// fetch failure — callers retry on the next poll tick.
	GetOrderStatus(ctx context.Context, orderID string) types.OrderStatusResult

	// GetOpenOrders lists every order this account has resting on the
	// venue. Returns an empty slice (never nil, never an error) on
	// failure.
	GetOpenOrders(ctx context.Context) []types.OpenOrder

	// EnsureApprovals checks the venue's approval status for the funder
	// address and records success in a process-lifetime flag, so later
	// calls are no-ops. It sends no approval transaction itself. A failed
	// check is logged and returned as an error.
	EnsureApprovals(ctx context.Context) error
}
