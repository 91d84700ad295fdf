package venue

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/polyarb/agent/internal/config"
	"github.com/polyarb/agent/internal/signer"
	"github.com/polyarb/agent/pkg/types"
)

// AMMAdapter trades against venue A: an AMM-priced market where orders
// are EIP-712-signed and submitted to a REST endpoint together with a
// client-held monotonically increasing nonce. Requests carry no signed
// auth headers; only the order payload is signed.
type AMMAdapter struct {
	http    *resty.Client
	signer  signer.Signer
	limiter *rate.Limiter
	dryRun  bool
	logger  *slog.Logger

	nonce atomic.Uint64

	mu             sync.Mutex
	approvalsDone  bool
}

// NewAMMAdapter builds the venue A adapter from its connection config
// and the user's signer.
func NewAMMAdapter(cfg config.VenueConfig, s signer.Signer, dryRun bool, logger *slog.Logger) *AMMAdapter {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &AMMAdapter{
		http:    httpClient,
		signer:  s,
		limiter: NewAMMLimiter(),
		dryRun:  dryRun,
		logger:  logger.With("component", "venue-a"),
	}
}

func (a *AMMAdapter) ID() types.VenueID { return types.VenueA }

// Authenticate is a no-op for venue A: there is no session to
// establish, and each placed order carries its own EIP-712 signature.
func (a *AMMAdapter) Authenticate(ctx context.Context) error {
	return nil
}

func (a *AMMAdapter) PlaceOrder(ctx context.Context, req types.PlaceOrderRequest) types.PlaceOrderResult {
	if a.dryRun {
		return types.PlaceOrderResult{Success: true, OrderID: fmt.Sprintf("dry-run-a-%d", a.nonce.Load()), Status: types.StatusOpen}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return types.PlaceOrderResult{Success: false, Error: err}
	}

	nonce := a.nonce.Load()
	sig, err := a.signOrder(req, nonce)
	if err != nil {
		return types.PlaceOrderResult{Success: false, Error: fmt.Errorf("sign order: %w", err)}
	}

	payload := ammOrderPayload{
		Maker:      a.signer.FunderAddress().Hex(),
		Signer:     a.signer.Address().Hex(),
		TokenID:    req.TokenID,
		Side:       string(req.Side),
		Price:      fmt.Sprintf("%d", req.Price),
		Size:       fmt.Sprintf("%d", req.Size),
		Nonce:      fmt.Sprintf("%d", nonce),
		Signature:  "0x" + common.Bytes2Hex(sig),
	}

	var result ammOrderResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return types.PlaceOrderResult{Success: false, Error: fmt.Errorf("place order: %w", err)}
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return types.PlaceOrderResult{Success: false, Error: fmt.Errorf("place order: unauthorized")}
	}
	if resp.StatusCode() != http.StatusOK || !result.Success {
		return types.PlaceOrderResult{Success: false, Error: fmt.Errorf("place order: status %d: %s", resp.StatusCode(), result.ErrorMsg)}
	}

	a.nonce.Add(1)
	return types.PlaceOrderResult{Success: true, OrderID: result.OrderID, Status: types.Normalize(result.Status)}
}

func (a *AMMAdapter) CancelOrder(ctx context.Context, orderID, tokenID string) bool {
	if a.dryRun {
		return true
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return false
	}

	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("order_id", orderID).
		SetQueryParam("token_id", tokenID).
		Delete("/orders")
	if err != nil {
		a.logger.Warn("cancel order failed", "order_id", orderID, "err", err)
		return false
	}
	return resp.StatusCode() == http.StatusOK
}

func (a *AMMAdapter) GetOrderStatus(ctx context.Context, orderID string) types.OrderStatusResult {
	if err := a.limiter.Wait(ctx); err != nil {
		return types.OrderStatusResult{OrderID: orderID, Status: types.StatusUnknown}
	}

	var result ammOrderStatusResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("order_id", orderID).
		SetResult(&result).
		Get("/orders/status")
	if err != nil || resp.StatusCode() != http.StatusOK {
		return types.OrderStatusResult{OrderID: orderID, Status: types.StatusUnknown}
	}

	return types.OrderStatusResult{
		OrderID:       orderID,
		Status:        types.Normalize(result.Status),
		FilledSize:    result.FilledSize,
		RemainingSize: result.RemainingSize,
	}
}

// Quote reads venue A's current AMM price for a market's YES and NO
// tokens, without placing an order. Used by the Quote Source.
func (a *AMMAdapter) Quote(ctx context.Context, marketID, yesTokenID, noTokenID string) (types.MarketQuote, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return types.MarketQuote{}, err
	}

	var result ammQuoteResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("market_id", marketID).
		SetQueryParam("yes_token_id", yesTokenID).
		SetQueryParam("no_token_id", noTokenID).
		SetResult(&result).
		Get("/markets/quote")
	if err != nil {
		return types.MarketQuote{}, fmt.Errorf("quote: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.MarketQuote{}, fmt.Errorf("quote: status %d", resp.StatusCode())
	}

	return types.MarketQuote{
		Venue:        types.VenueA,
		MarketID:     marketID,
		YesPrice:     result.YesPrice,
		NoPrice:      result.NoPrice,
		YesLiquidity: result.YesLiquidity,
		NoLiquidity:  result.NoLiquidity,
	}, nil
}

// Balance reads the funder address's available stable-token balance in
// quote units, scaled by types.QuoteScale. Used by the Agent Loop's
// balance gate before sizing a trade.
func (a *AMMAdapter) Balance(ctx context.Context) (int64, error) {
	if a.dryRun {
		return 1_000_000 * types.QuoteScale, nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	var result struct {
		Balance int64 `json:"balance"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("address", a.signer.FunderAddress().Hex()).
		SetResult(&result).
		Get("/balance")
	if err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("balance: status %d", resp.StatusCode())
	}
	return result.Balance, nil
}

func (a *AMMAdapter) GetOpenOrders(ctx context.Context) []types.OpenOrder {
	if err := a.limiter.Wait(ctx); err != nil {
		return []types.OpenOrder{}
	}

	var results []ammOrderStatusResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetResult(&results).
		Get("/orders/open")
	if err != nil || resp.StatusCode() != http.StatusOK {
		return []types.OpenOrder{}
	}

	open := make([]types.OpenOrder, 0, len(results))
	for _, r := range results {
		open = append(open, types.OpenOrder{
			OrderID: r.OrderID,
			TokenID: r.TokenID,
			Side:    types.Side(r.Side),
			Price:   r.Price,
			Size:    r.RemainingSize,
		})
	}
	return open
}

// EnsureApprovals checks venue A's /approvals/status endpoint for the
// funder address and, on a 200 response, marks approvals done; it sends
// no approval transaction. Tracked with an in-process flag so a second
// call within the same adapter lifetime makes no request.
func (a *AMMAdapter) EnsureApprovals(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.approvalsDone {
		return nil
	}
	if a.dryRun {
		a.approvalsDone = true
		return nil
	}

	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("address", a.signer.FunderAddress().Hex()).
		Get("/approvals/status")
	if err != nil {
		a.logger.Warn("ensure approvals: status check failed", "err", err)
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		a.logger.Warn("ensure approvals: unexpected status", "code", resp.StatusCode())
		return fmt.Errorf("approvals status: %d", resp.StatusCode())
	}

	a.approvalsDone = true
	return nil
}

func (a *AMMAdapter) signOrder(req types.PlaceOrderRequest, nonce uint64) ([]byte, error) {
	return a.signer.SignTypedData(
		&apitypes.TypedDataDomain{
			Name:    "VenueAExchange",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(a.signer.ChainID())),
		},
		apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Order": {
				{Name: "maker", Type: "address"},
				{Name: "tokenId", Type: "string"},
				{Name: "side", Type: "string"},
				{Name: "price", Type: "uint256"},
				{Name: "size", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		apitypes.TypedDataMessage{
			"maker":   a.signer.FunderAddress().Hex(),
			"tokenId": req.TokenID,
			"side":    string(req.Side),
			"price":   fmt.Sprintf("%d", req.Price),
			"size":    fmt.Sprintf("%d", req.Size),
			"nonce":   fmt.Sprintf("%d", nonce),
		},
		"Order",
	)
}

type ammOrderPayload struct {
	Maker     string `json:"maker"`
	Signer    string `json:"signer"`
	TokenID   string `json:"tokenId"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

type ammOrderResponse struct {
	Success  bool   `json:"success"`
	OrderID  string `json:"orderId"`
	Status   string `json:"status"`
	ErrorMsg string `json:"error"`
}

type ammQuoteResponse struct {
	YesPrice     int64 `json:"yesPrice"`
	NoPrice      int64 `json:"noPrice"`
	YesLiquidity int64 `json:"yesLiquidity"`
	NoLiquidity  int64 `json:"noLiquidity"`
}

type ammOrderStatusResponse struct {
	OrderID       string `json:"orderId"`
	TokenID       string `json:"tokenId"`
	Side          string `json:"side"`
	Price         int64  `json:"price"`
	Status        string `json:"status"`
	FilledSize    int64  `json:"filledSize"`
	RemainingSize int64  `json:"remainingSize"`
}
