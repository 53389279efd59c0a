package binance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagelabs/crossarb/internal/crypto"
	"github.com/vantagelabs/crossarb/internal/domain"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{
		BaseURL:   srv.URL,
		APIKey:    "test-key",
		SecretKey: "testsecret",
	}
	clock := fixedClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	return New(cfg, nil, testLogger(), WithClock(clock))
}

func TestSnapshotParsesTopOfBook(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/depth", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"lastUpdateId":1,"bids":[["30060.00","1.5"],["30059.00","2"]],"asks":[["30062.00","0.8"]]}`))
	})

	top, err := client.Snapshot(context.Background(), "binance", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 30060.0, top.Bid)
	assert.Equal(t, 1.5, top.BidQty)
	assert.Equal(t, 30062.0, top.Ask)
	assert.Equal(t, 0.8, top.AskQty)
	assert.Equal(t, "binance", top.Venue)
}

func TestPlaceSignsRequest(t *testing.T) {
	var captured url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))
		captured = r.URL.Query()
		w.Write([]byte(`{"orderId":12345,"status":"FILLED","executedQty":"0.5","cummulativeQuoteQty":"15031.0"}`))
	})

	result, err := client.Place(context.Background(), domain.OrderRequest{
		Venue:  "binance",
		Symbol: "BTCUSDT",
		Side:   domain.SideBuy,
		Type:   domain.OrderTypeLimit,
		Amount: 0.5,
		Price:  30062,
	})
	require.NoError(t, err)

	assert.Equal(t, "12345", result.ID)
	assert.Equal(t, 0.5, result.Filled)
	assert.InDelta(t, 30062.0, result.Average, 1e-9)
	assert.Equal(t, domain.OrderStatusFilled, result.Status)

	assert.Equal(t, "BUY", captured.Get("side"))
	assert.Equal(t, "LIMIT", captured.Get("type"))
	assert.Equal(t, "IOC", captured.Get("timeInForce"))
	assert.Equal(t, "0.5", captured.Get("quantity"))
	assert.Equal(t, "30062", captured.Get("price"))
	require.NotEmpty(t, captured.Get("timestamp"))

	// The signature must cover the encoded query minus the signature itself.
	unsigned := url.Values{}
	for k, vs := range captured {
		if k == "signature" {
			continue
		}
		unsigned[k] = vs
	}
	assert.Equal(t, crypto.SignQueryHex("testsecret", unsigned.Encode()), captured.Get("signature"))
}

func TestPlaceMapsIOCExpiry(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"orderId":7,"status":"EXPIRED","executedQty":"0.2","cummulativeQuoteQty":"6012.4"}`))
	})

	result, err := client.Place(context.Background(), domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideSell, Type: domain.OrderTypeLimit, Amount: 0.5, Price: 30060,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartial, result.Status)
	assert.Equal(t, 0.2, result.Filled)
}

func TestPlaceRateLimitedStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code":-1003,"msg":"Too many requests."}`))
	})

	_, err := client.Place(context.Background(), domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Amount: 0.1, Price: 30000,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestCancelSendsOrderID(t *testing.T) {
	var captured url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		captured = r.URL.Query()
		w.Write([]byte(`{"orderId":99,"status":"CANCELED"}`))
	})

	require.NoError(t, client.Cancel(context.Background(), "binance", "99", "BTCUSDT"))
	assert.Equal(t, "99", captured.Get("orderId"))
	assert.Equal(t, "BTCUSDT", captured.Get("symbol"))
	assert.NotEmpty(t, captured.Get("signature"))
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}
func (denyLimiter) Wait(context.Context, string) error { return errors.New("denied") }

func TestThrottleBlocksPrivateCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not reach the venue")
	}))
	t.Cleanup(srv.Close)

	cfg := Config{
		BaseURL:         srv.URL,
		APIKey:          "k",
		SecretKey:       "s",
		OrderRateLimit:  1,
		OrderRateWindow: time.Second,
	}
	client := New(cfg, denyLimiter{}, testLogger())

	_, err := client.Place(context.Background(), domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Amount: 0.1, Price: 30000,
	})
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, domain.OrderStatusOpen, mapStatus("NEW", 0))
	assert.Equal(t, domain.OrderStatusPartial, mapStatus("PARTIALLY_FILLED", 0.1))
	assert.Equal(t, domain.OrderStatusFilled, mapStatus("FILLED", 1))
	assert.Equal(t, domain.OrderStatusCancelled, mapStatus("EXPIRED", 0))
	assert.Equal(t, domain.OrderStatusRejected, mapStatus("REJECTED", 0))
	assert.True(t, strings.HasPrefix(string(mapStatus("CANCELED", 0)), "cancel"))
}
