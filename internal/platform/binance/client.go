// Package binance implements the Binance spot REST API surface the trader
// needs: depth snapshots, signed order placement, and cancellation.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vantagelabs/crossarb/internal/crypto"
	"github.com/vantagelabs/crossarb/internal/domain"
)

// DefaultBaseURL is the production spot API endpoint.
const DefaultBaseURL = "https://api.binance.com"

// recvWindow bounds how far a signed request's timestamp may lag server time.
const recvWindow = 5000

// Config holds the REST client settings.
type Config struct {
	BaseURL   string
	APIKey    string
	SecretKey string

	// OrderRateLimit caps private requests per OrderRateWindow when a rate
	// limiter is attached.
	OrderRateLimit  int
	OrderRateWindow time.Duration
}

// Client is the Binance REST client. It implements domain.OrderAdapter and
// domain.MarketData.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    domain.RateLimiter
	clock      domain.Clock
	logger     *slog.Logger
}

var (
	_ domain.OrderAdapter = (*Client)(nil)
	_ domain.MarketData   = (*Client)(nil)
)

// Option customizes a Client.
type Option func(*Client)

// WithClock overrides the timestamp source for signed requests.
func WithClock(clock domain.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a Binance REST client. limiter may be nil to disable request
// throttling.
func New(cfg Config, limiter domain.RateLimiter, logger *slog.Logger, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
		clock:      domain.RealClock{},
		logger:     logger.With(slog.String("component", "binance")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// depthResponse is the wire form of GET /api/v3/depth.
type depthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// Snapshot returns the current top of book for one symbol.
func (c *Client) Snapshot(ctx context.Context, venue, symbol string) (domain.TopOfBook, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("limit", "5")

	body, err := c.doPublic(ctx, "/api/v3/depth", q)
	if err != nil {
		return domain.TopOfBook{}, fmt.Errorf("binance: depth %s: %w", symbol, err)
	}

	var depth depthResponse
	if err := json.Unmarshal(body, &depth); err != nil {
		return domain.TopOfBook{}, fmt.Errorf("binance: decode depth: %w", err)
	}

	top := domain.TopOfBook{
		Venue:     venue,
		Symbol:    symbol,
		Timestamp: c.clock.Now(),
	}
	if len(depth.Bids) > 0 {
		top.Bid, top.BidQty, err = parseLevel(depth.Bids[0])
		if err != nil {
			return domain.TopOfBook{}, fmt.Errorf("binance: parse bid: %w", err)
		}
	}
	if len(depth.Asks) > 0 {
		top.Ask, top.AskQty, err = parseLevel(depth.Asks[0])
		if err != nil {
			return domain.TopOfBook{}, fmt.Errorf("binance: parse ask: %w", err)
		}
	}
	return top, nil
}

// orderResponse is the wire form of POST /api/v3/order (FULL response).
type orderResponse struct {
	OrderID             int64  `json:"orderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

// Place submits an immediate-or-cancel limit order and returns the
// normalized result. Market orders submit without a price.
func (c *Client) Place(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(req.Symbol))
	q.Set("side", binanceSide(req.Side))
	q.Set("quantity", formatFloat(req.Amount))
	if req.Type == domain.OrderTypeMarket {
		q.Set("type", "MARKET")
	} else {
		q.Set("type", "LIMIT")
		q.Set("timeInForce", "IOC")
		q.Set("price", formatFloat(req.Price))
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", q)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: place order: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: decode order response: %w", err)
	}

	filled, err := strconv.ParseFloat(resp.ExecutedQty, 64)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: parse executedQty %q: %w", resp.ExecutedQty, err)
	}
	quote, err := strconv.ParseFloat(resp.CummulativeQuoteQty, 64)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: parse cummulativeQuoteQty %q: %w", resp.CummulativeQuoteQty, err)
	}

	result := domain.OrderResult{
		ID:     strconv.FormatInt(resp.OrderID, 10),
		Filled: filled,
		Status: mapStatus(resp.Status, filled),
	}
	if filled > 0 {
		result.Average = quote / filled
	}
	return result, nil
}

// Cancel cancels an open order by ID.
func (c *Client) Cancel(ctx context.Context, venue, orderID, symbol string) error {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("orderId", orderID)

	if _, err := c.doSigned(ctx, http.MethodDelete, "/api/v3/order", q); err != nil {
		return fmt.Errorf("binance: cancel order %s: %w", orderID, err)
	}
	return nil
}

// doPublic performs an unsigned GET against a public endpoint.
func (c *Client) doPublic(ctx context.Context, path string, q url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.send(req)
}

// doSigned performs a signed request against a private endpoint: the
// timestamp and recvWindow are appended and the HMAC signature is computed
// over the encoded query. Private requests pass through the rate limiter
// when one is attached.
func (c *Client) doSigned(ctx context.Context, method, path string, q url.Values) ([]byte, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	q.Set("timestamp", strconv.FormatInt(c.clock.Now().UnixMilli(), 10))
	q.Set("recvWindow", strconv.Itoa(recvWindow))

	encoded := q.Encode()
	signature := crypto.SignQueryHex(c.cfg.SecretKey, encoded)

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path+"?"+encoded+"&signature="+signature, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	return c.send(req)
}

func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil || c.cfg.OrderRateLimit <= 0 {
		return nil
	}
	window := c.cfg.OrderRateWindow
	if window <= 0 {
		window = time.Second
	}
	allowed, err := c.limiter.Allow(ctx, "binance:order", c.cfg.OrderRateLimit, window)
	if err != nil {
		// Fail open on limiter errors; the venue enforces its own limits.
		c.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !allowed {
		return domain.ErrRateLimited
	}
	return nil
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests, http.StatusTeapot:
		// Binance uses 418 for repeat offenders after a 429.
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

func binanceSide(side domain.Side) string {
	if side == domain.SideBuy {
		return "BUY"
	}
	return "SELL"
}

// mapStatus converts the venue order status to the domain lifecycle state.
// EXPIRED means the IOC remainder was cancelled: partial when anything
// filled, cancelled otherwise.
func mapStatus(status string, filled float64) domain.OrderStatus {
	switch status {
	case "NEW":
		return domain.OrderStatusOpen
	case "PARTIALLY_FILLED":
		return domain.OrderStatusPartial
	case "FILLED":
		return domain.OrderStatusFilled
	case "CANCELED":
		return domain.OrderStatusCancelled
	case "EXPIRED", "EXPIRED_IN_MATCH":
		if filled > 0 {
			return domain.OrderStatusPartial
		}
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatusRejected
	}
}

func parseLevel(level []string) (price, qty float64, err error) {
	if len(level) < 2 {
		return 0, 0, fmt.Errorf("short level: %v", level)
	}
	price, err = strconv.ParseFloat(level[0], 64)
	if err != nil {
		return 0, 0, err
	}
	qty, err = strconv.ParseFloat(level[1], 64)
	if err != nil {
		return 0, 0, err
	}
	return price, qty, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
