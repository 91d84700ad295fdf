package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/polyarb/agent/internal/config"
	"github.com/polyarb/agent/internal/signer"
	"github.com/polyarb/agent/pkg/types"
)

// CLOBAdapter trades against venue B: an order-book venue reached by
// session-token (JWT) authentication, obtained by signing a
// server-provided challenge. Orders are EIP-712 typed data posted to
// /orders; cancellation is by order id.
type CLOBAdapter struct {
	http    *resty.Client
	signer  signer.Signer
	rl      *CLOBRateLimiter
	dryRun  bool
	logger  *slog.Logger

	nonce atomic.Uint64

	mu             sync.Mutex
	sessionToken   string
	approvalsDone  bool
}

// NewCLOBAdapter builds the venue B adapter from its connection config
// and the user's signer.
func NewCLOBAdapter(cfg config.VenueConfig, s signer.Signer, dryRun bool, logger *slog.Logger) *CLOBAdapter {
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

	return &CLOBAdapter{
		http:   httpClient,
		signer: s,
		rl:     NewCLOBRateLimiter(),
		dryRun: dryRun,
		logger: logger.With("component", "venue-b"),
	}
}

func (c *CLOBAdapter) ID() types.VenueID { return types.VenueB }

// Authenticate fetches a fresh challenge and exchanges a signature over
// it for a session JWT. Calling it twice simply replaces the session
// token — no dangling prior session is left server-side to track since
// venue B's challenges are single-use.
func (c *CLOBAdapter) Authenticate(ctx context.Context) error {
	if c.dryRun {
		c.mu.Lock()
		c.sessionToken = "dry-run-session"
		c.mu.Unlock()
		return nil
	}

	var challenge struct {
		Challenge string `json:"challenge"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("address", c.signer.Address().Hex()).
		SetResult(&challenge).
		Get("/auth/challenge")
	if err != nil {
		return fmt.Errorf("fetch challenge: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("fetch challenge: status %d", resp.StatusCode())
	}

	sig, err := c.signer.SignMessage([]byte(challenge.Challenge))
	if err != nil {
		return fmt.Errorf("sign challenge: %w", err)
	}

	var session struct {
		Token string `json:"token"`
	}
	resp, err = c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"address":   c.signer.Address().Hex(),
			"challenge": challenge.Challenge,
			"signature": "0x" + common.Bytes2Hex(sig),
		}).
		SetResult(&session).
		Post("/auth/session")
	if err != nil {
		return fmt.Errorf("exchange challenge: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("exchange challenge: status %d", resp.StatusCode())
	}

	c.mu.Lock()
	c.sessionToken = session.Token
	c.mu.Unlock()
	return nil
}

func (c *CLOBAdapter) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToken
}

func (c *CLOBAdapter) PlaceOrder(ctx context.Context, req types.PlaceOrderRequest) types.PlaceOrderResult {
	if c.dryRun {
		return types.PlaceOrderResult{Success: true, OrderID: fmt.Sprintf("dry-run-b-%d", c.nonce.Load()), Status: types.StatusOpen}
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.PlaceOrderResult{Success: false, Error: err}
	}

	nonce := c.nonce.Load()
	sig, err := c.signOrder(req, nonce)
	if err != nil {
		return types.PlaceOrderResult{Success: false, Error: fmt.Errorf("sign order: %w", err)}
	}

	payload := clobOrderPayload{
		Maker:     c.signer.FunderAddress().Hex(),
		Signer:    c.signer.Address().Hex(),
		TokenID:   req.TokenID,
		Side:      string(req.Side),
		Price:     strconv.FormatInt(req.Price, 10),
		Size:      strconv.FormatInt(req.Size, 10),
		Nonce:     strconv.FormatUint(nonce, 10),
		Signature: "0x" + common.Bytes2Hex(sig),
	}

	var result clobOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.token()).
		SetBody(payload).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return types.PlaceOrderResult{Success: false, Error: fmt.Errorf("place order: %w", err)}
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		if reauthErr := c.Authenticate(ctx); reauthErr != nil {
			return types.PlaceOrderResult{Success: false, Error: fmt.Errorf("reauth: %w", reauthErr)}
		}
		resp, err = c.http.R().
			SetContext(ctx).
			SetAuthToken(c.token()).
			SetBody(payload).
			SetResult(&result).
			Post("/orders")
		if err != nil {
			return types.PlaceOrderResult{Success: false, Error: fmt.Errorf("place order retry: %w", err)}
		}
	}
	if resp.StatusCode() != http.StatusOK || !result.Success {
		return types.PlaceOrderResult{Success: false, Error: fmt.Errorf("place order: status %d: %s", resp.StatusCode(), result.ErrorMsg)}
	}

	c.nonce.Add(1)
	return types.PlaceOrderResult{Success: true, OrderID: result.OrderID, Status: types.Normalize(result.Status)}
}

func (c *CLOBAdapter) CancelOrder(ctx context.Context, orderID, tokenID string) bool {
	if c.dryRun {
		return true
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return false
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.token()).
		SetBody(map[string]string{"orderId": orderID}).
		Delete("/orders")
	if err != nil {
		c.logger.Warn("cancel order failed", "order_id", orderID, "err", err)
		return false
	}
	return resp.StatusCode() == http.StatusOK
}

func (c *CLOBAdapter) GetOrderStatus(ctx context.Context, orderID string) types.OrderStatusResult {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return types.OrderStatusResult{OrderID: orderID, Status: types.StatusUnknown}
	}

	var result clobOrderStatusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.token()).
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

func (c *CLOBAdapter) GetOpenOrders(ctx context.Context) []types.OpenOrder {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return []types.OpenOrder{}
	}

	var results []clobOrderStatusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.token()).
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

// EnsureApprovals checks venue B's /approvals/status endpoint for the
// funder address and, on a 200 response, marks approvals done; it sends
// no approval transaction. A process-lifetime flag makes the second call
// a no-op.
func (c *CLOBAdapter) EnsureApprovals(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.approvalsDone {
		return nil
	}
	if c.dryRun {
		c.approvalsDone = true
		return nil
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("address", c.signer.FunderAddress().Hex()).
		Get("/approvals/status")
	if err != nil {
		c.logger.Warn("ensure approvals: status check failed", "err", err)
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		c.logger.Warn("ensure approvals: unexpected status", "code", resp.StatusCode())
		return fmt.Errorf("approvals status: %d", resp.StatusCode())
	}

	c.approvalsDone = true
	return nil
}

func (c *CLOBAdapter) signOrder(req types.PlaceOrderRequest, nonce uint64) ([]byte, error) {
	return c.signer.SignTypedData(
		&apitypes.TypedDataDomain{
			Name:    "VenueBExchange",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(c.signer.ChainID())),
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
			"maker":   c.signer.FunderAddress().Hex(),
			"tokenId": req.TokenID,
			"side":    string(req.Side),
			"price":   strconv.FormatInt(req.Price, 10),
			"size":    strconv.FormatInt(req.Size, 10),
			"nonce":   strconv.FormatUint(nonce, 10),
		},
		"Order",
	)
}

type clobOrderPayload struct {
	Maker     string `json:"maker"`
	Signer    string `json:"signer"`
	TokenID   string `json:"tokenId"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

type clobOrderResponse struct {
	Success  bool   `json:"success"`
	OrderID  string `json:"orderId"`
	Status   string `json:"status"`
	ErrorMsg string `json:"error"`
}

type clobOrderStatusResponse struct {
	OrderID       string `json:"orderId"`
	TokenID       string `json:"tokenId"`
	Side          string `json:"side"`
	Price         int64  `json:"price"`
	Status        string `json:"status"`
	FilledSize    int64  `json:"filledSize"`
	RemainingSize int64  `json:"remainingSize"`
}

// QuoteFeed maintains a WebSocket connection to venue B's market
// channel and applies incoming price-change deltas to the tracked
// Books. It auto-reconnects with exponential backoff (1s -> 30s cap)
// and re-subscribes to all tracked token IDs on reconnect.
type QuoteFeed struct {
	url    string
	logger *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	booksMu sync.RWMutex
	books   map[string]*Book // keyed by marketID

	subscribedMu sync.RWMutex
	subscribed   map[string]bool // token IDs
}

const (
	quoteFeedPingInterval     = 50 * time.Second
	quoteFeedReadTimeout      = 90 * time.Second
	quoteFeedMaxReconnectWait = 30 * time.Second
	quoteFeedWriteTimeout     = 10 * time.Second
)

// NewQuoteFeed creates a quote feed bound to venue B's WS market channel.
func NewQuoteFeed(wsURL string, logger *slog.Logger) *QuoteFeed {
	return &QuoteFeed{
		url:        wsURL,
		logger:     logger.With("component", "venue-b-quote-feed"),
		books:      make(map[string]*Book),
		subscribed: make(map[string]bool),
	}
}

// Track registers a market's Book and subscribes its YES/NO token IDs.
func (f *QuoteFeed) Track(marketID, yesToken, noToken string) *Book {
	b := NewBook(marketID, yesToken, noToken)

	f.booksMu.Lock()
	f.books[marketID] = b
	f.booksMu.Unlock()

	f.subscribedMu.Lock()
	f.subscribed[yesToken] = true
	f.subscribed[noToken] = true
	f.subscribedMu.Unlock()

	_ = f.writeJSON(types.WSUpdateMsg{AssetIDs: []string{yesToken, noToken}, Operation: "subscribe"})
	return b
}

// Books returns a snapshot of all currently tracked market quotes.
func (f *QuoteFeed) Books() []*Book {
	f.booksMu.RLock()
	defer f.booksMu.RUnlock()
	out := make([]*Book, 0, len(f.books))
	for _, b := range f.books {
		out = append(out, b)
	}
	return out
}

// Run connects and maintains the connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *QuoteFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("quote feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > quoteFeedMaxReconnectWait {
			backoff = quoteFeedMaxReconnectWait
		}
	}
}

func (f *QuoteFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()
	if len(ids) > 0 {
		if err := f.writeJSON(types.WSSubscribeMsg{Type: "market", AssetIDs: ids}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(quoteFeedReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatchMessage(msg)
	}
}

func (f *QuoteFeed) dispatchMessage(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return
	}

	if envelope.EventType != "price_change" {
		return
	}

	var evt types.WSPriceChangeEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		f.logger.Error("unmarshal price_change event", "error", err)
		return
	}

	f.booksMu.RLock()
	defer f.booksMu.RUnlock()
	for _, book := range f.books {
		for _, pc := range evt.PriceChanges {
			price, err1 := parseFixedPoint(pc.BestAsk, types.PriceScale)
			size, err2 := parseFixedPoint(pc.Size, types.QuoteScale)
			if err1 != nil || err2 != nil {
				continue
			}
			book.ApplyQuoteDelta(pc.AssetID, price, size)
		}
	}
}

func (f *QuoteFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(quoteFeedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *QuoteFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("quote feed not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(quoteFeedWriteTimeout))
	return f.conn.WriteJSON(v)
}

func (f *QuoteFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("quote feed not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(quoteFeedWriteTimeout))
	return f.conn.WriteMessage(msgType, data)
}

// parseFixedPoint parses a decimal string price/size and scales it to
// the given fixed-point scale, truncating any excess precision.
func parseFixedPoint(s string, scale int64) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	var whole, frac string
	for i, c := range s {
		if c == '.' {
			whole, frac = s[:i], s[i+1:]
			break
		}
	}
	if whole == "" && frac == "" {
		whole = s
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil && whole != "" {
		return 0, err
	}

	digits := len(fmt.Sprintf("%d", scale)) - 1
	for len(frac) < digits {
		frac += "0"
	}
	frac = frac[:digits]

	fracVal := int64(0)
	if frac != "" {
		fracVal, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, err
		}
	}

	return w*scale + fracVal, nil
}
