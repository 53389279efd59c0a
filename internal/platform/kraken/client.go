// Package kraken implements the Kraken spot REST API surface the trader
// needs: depth snapshots, signed order placement, and cancellation. Private
// endpoints authenticate with a nonce plus an HMAC-SHA512 API-Sign header.
package kraken

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
	"sync/atomic"
	"time"

	"github.com/vantagelabs/crossarb/internal/crypto"
	"github.com/vantagelabs/crossarb/internal/domain"
)

// DefaultBaseURL is the production REST endpoint.
const DefaultBaseURL = "https://api.kraken.com"

// Config holds the REST client settings. Pairs maps canonical symbols to
// Kraken pair names, e.g. "BTCUSDT" -> "XBTUSDT".
type Config struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	Pairs     map[string]string

	OrderRateLimit  int
	OrderRateWindow time.Duration
}

// Client is the Kraken REST client. It implements domain.OrderAdapter and
// domain.MarketData.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    domain.RateLimiter
	clock      domain.Clock
	logger     *slog.Logger
	nonce      atomic.Int64
}

var (
	_ domain.OrderAdapter = (*Client)(nil)
	_ domain.MarketData   = (*Client)(nil)
)

// Option customizes a Client.
type Option func(*Client)

// WithClock overrides the time source used to seed nonces and stamp
// snapshots.
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

// New creates a Kraken REST client. limiter may be nil to disable request
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
		logger:     logger.With(slog.String("component", "kraken")),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.nonce.Store(c.clock.Now().UnixMilli())
	return c
}

// apiResponse is the envelope every Kraken endpoint returns.
type apiResponse struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// depthEntry is one [price, volume, timestamp] level. Price and volume come
// quoted, the timestamp does not, so fields decode lazily.
type depthEntry [3]json.RawMessage

type depthBook struct {
	Bids []depthEntry `json:"bids"`
	Asks []depthEntry `json:"asks"`
}

// Snapshot returns the current top of book for one symbol.
func (c *Client) Snapshot(ctx context.Context, venue, symbol string) (domain.TopOfBook, error) {
	pair, err := c.pair(symbol)
	if err != nil {
		return domain.TopOfBook{}, err
	}

	q := url.Values{}
	q.Set("pair", pair)
	q.Set("count", "5")

	result, err := c.doPublic(ctx, "/0/public/Depth", q)
	if err != nil {
		return domain.TopOfBook{}, fmt.Errorf("kraken: depth %s: %w", symbol, err)
	}

	// The result is keyed by the venue's own pair spelling, which does not
	// always match the requested name. Take the single entry.
	var books map[string]depthBook
	if err := json.Unmarshal(result, &books); err != nil {
		return domain.TopOfBook{}, fmt.Errorf("kraken: decode depth: %w", err)
	}

	top := domain.TopOfBook{
		Venue:     venue,
		Symbol:    symbol,
		Timestamp: c.clock.Now(),
	}
	for _, book := range books {
		if len(book.Bids) > 0 {
			top.Bid, top.BidQty, err = parseEntry(book.Bids[0])
			if err != nil {
				return domain.TopOfBook{}, fmt.Errorf("kraken: parse bid: %w", err)
			}
		}
		if len(book.Asks) > 0 {
			top.Ask, top.AskQty, err = parseEntry(book.Asks[0])
			if err != nil {
				return domain.TopOfBook{}, fmt.Errorf("kraken: parse ask: %w", err)
			}
		}
		break
	}
	return top, nil
}

// addOrderResult is the wire form of AddOrder's result field.
type addOrderResult struct {
	TxID []string `json:"txid"`
}

// queryOrderInfo is the per-order entry QueryOrders returns.
type queryOrderInfo struct {
	Status  string `json:"status"`
	VolExec string `json:"vol_exec"`
	Price   string `json:"price"`
}

// Place submits an immediate-or-cancel limit order. AddOrder only returns
// the transaction ID, so the fill quantity and average price come from a
// follow-up QueryOrders call.
func (c *Client) Place(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	pair, err := c.pair(req.Symbol)
	if err != nil {
		return domain.OrderResult{}, err
	}

	form := url.Values{}
	form.Set("pair", pair)
	form.Set("type", krakenSide(req.Side))
	form.Set("volume", formatFloat(req.Amount))
	if req.Type == domain.OrderTypeMarket {
		form.Set("ordertype", "market")
	} else {
		form.Set("ordertype", "limit")
		form.Set("price", formatFloat(req.Price))
		form.Set("timeinforce", "IOC")
	}

	result, err := c.doPrivate(ctx, "/0/private/AddOrder", form)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("kraken: place order: %w", err)
	}

	var placed addOrderResult
	if err := json.Unmarshal(result, &placed); err != nil {
		return domain.OrderResult{}, fmt.Errorf("kraken: decode add order: %w", err)
	}
	if len(placed.TxID) == 0 {
		return domain.OrderResult{}, fmt.Errorf("kraken: add order returned no txid")
	}

	return c.queryOrder(ctx, placed.TxID[0])
}

// queryOrder fetches the fill state of one order.
func (c *Client) queryOrder(ctx context.Context, txid string) (domain.OrderResult, error) {
	form := url.Values{}
	form.Set("txid", txid)

	result, err := c.doPrivate(ctx, "/0/private/QueryOrders", form)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("kraken: query order %s: %w", txid, err)
	}

	var orders map[string]queryOrderInfo
	if err := json.Unmarshal(result, &orders); err != nil {
		return domain.OrderResult{}, fmt.Errorf("kraken: decode query orders: %w", err)
	}

	info, ok := orders[txid]
	if !ok {
		return domain.OrderResult{}, fmt.Errorf("kraken: order %s: %w", txid, domain.ErrNotFound)
	}

	filled, err := strconv.ParseFloat(info.VolExec, 64)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("kraken: parse vol_exec %q: %w", info.VolExec, err)
	}
	avg := 0.0
	if info.Price != "" {
		if avg, err = strconv.ParseFloat(info.Price, 64); err != nil {
			return domain.OrderResult{}, fmt.Errorf("kraken: parse price %q: %w", info.Price, err)
		}
	}

	return domain.OrderResult{
		ID:      txid,
		Filled:  filled,
		Average: avg,
		Status:  mapStatus(info.Status, filled),
	}, nil
}

// Cancel cancels an open order by transaction ID.
func (c *Client) Cancel(ctx context.Context, venue, orderID, symbol string) error {
	form := url.Values{}
	form.Set("txid", orderID)

	if _, err := c.doPrivate(ctx, "/0/private/CancelOrder", form); err != nil {
		return fmt.Errorf("kraken: cancel order %s: %w", orderID, err)
	}
	return nil
}

func (c *Client) pair(symbol string) (string, error) {
	pair, ok := c.cfg.Pairs[symbol]
	if !ok {
		return "", fmt.Errorf("kraken: no pair mapping for symbol %q", symbol)
	}
	return pair, nil
}

func (c *Client) doPublic(ctx context.Context, path string, q url.Values) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.send(req)
}

// doPrivate performs a signed POST against a private endpoint. Each request
// carries a strictly increasing nonce included in both the form body and the
// signature. Private requests pass through the rate limiter when attached.
func (c *Client) doPrivate(ctx context.Context, path string, form url.Values) (json.RawMessage, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	nonce := strconv.FormatInt(c.nonce.Add(1), 10)
	form.Set("nonce", nonce)
	encoded := form.Encode()

	sig, err := crypto.SignKraken(c.cfg.SecretKey, path, nonce, encoded)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, strings.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", c.cfg.APIKey)
	req.Header.Set("API-Sign", sig)

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
	allowed, err := c.limiter.Allow(ctx, "kraken:order", c.cfg.OrderRateLimit, window)
	if err != nil {
		c.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !allowed {
		return domain.ErrRateLimited
	}
	return nil
}

// send executes the request and unwraps the Kraken response envelope.
func (c *Client) send(req *http.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(envelope.Error) > 0 {
		return nil, mapAPIError(envelope.Error)
	}
	return envelope.Result, nil
}

// mapAPIError converts the venue's error strings to domain errors where a
// sentinel applies.
func mapAPIError(errs []string) error {
	joined := strings.Join(errs, "; ")
	switch {
	case strings.Contains(joined, "EAPI:Rate limit exceeded"),
		strings.Contains(joined, "EOrder:Rate limit exceeded"):
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, joined)
	case strings.Contains(joined, "EAPI:Invalid key"),
		strings.Contains(joined, "EAPI:Invalid signature"):
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, joined)
	case strings.Contains(joined, "EOrder:Unknown order"):
		return fmt.Errorf("%w: %s", domain.ErrNotFound, joined)
	default:
		return fmt.Errorf("kraken api: %s", joined)
	}
}

func krakenSide(side domain.Side) string {
	if side == domain.SideBuy {
		return "buy"
	}
	return "sell"
}

// mapStatus converts the venue order status to the domain lifecycle state.
// An IOC order lands in "canceled" when its remainder is dropped: partial
// when anything filled, cancelled otherwise.
func mapStatus(status string, filled float64) domain.OrderStatus {
	switch status {
	case "open", "pending":
		return domain.OrderStatusOpen
	case "closed":
		return domain.OrderStatusFilled
	case "canceled":
		if filled > 0 {
			return domain.OrderStatusPartial
		}
		return domain.OrderStatusCancelled
	case "expired":
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatusRejected
	}
}

func parseEntry(entry depthEntry) (price, qty float64, err error) {
	price, err = parseRawFloat(entry[0])
	if err != nil {
		return 0, 0, err
	}
	qty, err = parseRawFloat(entry[1])
	if err != nil {
		return 0, 0, err
	}
	return price, qty, nil
}

// parseRawFloat reads a float from a raw JSON value that may or may not be
// quoted.
func parseRawFloat(raw json.RawMessage) (float64, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return 0, fmt.Errorf("empty numeric value")
	}
	return strconv.ParseFloat(s, 64)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
