package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagelabs/crossarb/internal/coordinator"
	"github.com/vantagelabs/crossarb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEngine struct {
	status coordinator.Status
	trades []domain.TradeRecord
	board  []coordinator.SymbolStats
}

func (f *fakeEngine) Status() coordinator.Status             { return f.status }
func (f *fakeEngine) RecentTrades(int) []domain.TradeRecord  { return f.trades }
func (f *fakeEngine) Leaderboard() []coordinator.SymbolStats { return f.board }

type fakeTops struct {
	tops map[string]domain.TopOfBook // keyed venue:symbol
	err  error
}

func (f *fakeTops) GetTop(_ context.Context, venue, symbol string) (domain.TopOfBook, error) {
	if f.err != nil {
		return domain.TopOfBook{}, f.err
	}
	top, ok := f.tops[venue+":"+symbol]
	if !ok {
		return domain.TopOfBook{}, domain.ErrNotFound
	}
	return top, nil
}

type fakeTrades struct {
	recent []domain.TradeRecord
	err    error
}

func (f *fakeTrades) Recent(_ context.Context, limit int) ([]domain.TradeRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.recent) {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(testLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, "crossarb", got["service"])
	assert.NotEmpty(t, got["uptime"])
}

func TestGetStatus(t *testing.T) {
	engine := &fakeEngine{status: coordinator.Status{
		CumulativePnL: 42.5,
		TradeCount:    7,
		Halted:        true,
	}}
	h := NewStatusHandler(engine, testLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got coordinator.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 42.5, got.CumulativePnL)
	assert.True(t, got.Halted)
}

func TestGetLeaderboardEmptyIsArray(t *testing.T) {
	h := NewStatusHandler(&fakeEngine{}, testLogger())

	rec := httptest.NewRecorder()
	h.GetLeaderboard(rec, httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetMarketComputesSpreads(t *testing.T) {
	tops := &fakeTops{tops: map[string]domain.TopOfBook{
		"binance:BTCUSDT": {Venue: "binance", Symbol: "BTCUSDT", Bid: 30060, Ask: 30062},
		"kraken:BTCUSDT":  {Venue: "kraken", Symbol: "BTCUSDT", Bid: 29999, Ask: 30001},
	}}
	h := NewMarketHandler(tops, "binance", "kraken", testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/market/BTCUSDT", nil)
	req.SetPathValue("symbol", "BTCUSDT")
	rec := httptest.NewRecorder()
	h.GetMarket(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got marketResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.Spread)
	require.NotNil(t, got.ReverseSpread)
	// Spread is binance ask minus kraken bid; reverse is kraken ask minus
	// binance bid.
	assert.InDelta(t, 63.0, *got.Spread, 1e-9)
	assert.InDelta(t, -59.0, *got.ReverseSpread, 1e-9)
	assert.Len(t, got.Tops, 2)
}

func TestGetMarketSingleVenueOmitsSpread(t *testing.T) {
	tops := &fakeTops{tops: map[string]domain.TopOfBook{
		"binance:BTCUSDT": {Venue: "binance", Symbol: "BTCUSDT", Bid: 30060, Ask: 30062},
	}}
	h := NewMarketHandler(tops, "binance", "kraken", testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/market/BTCUSDT", nil)
	req.SetPathValue("symbol", "BTCUSDT")
	rec := httptest.NewRecorder()
	h.GetMarket(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got marketResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Nil(t, got.Spread)
	assert.Len(t, got.Tops, 1)
}

func TestGetMarketUnknownSymbol(t *testing.T) {
	h := NewMarketHandler(&fakeTops{}, "binance", "kraken", testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/market/NOPE", nil)
	req.SetPathValue("symbol", "NOPE")
	rec := httptest.NewRecorder()
	h.GetMarket(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMarketBackendError(t *testing.T) {
	h := NewMarketHandler(&fakeTops{err: errors.New("redis down")}, "binance", "kraken", testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/market/BTCUSDT", nil)
	req.SetPathValue("symbol", "BTCUSDT")
	rec := httptest.NewRecorder()
	h.GetMarket(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListTradesLimitAndFilter(t *testing.T) {
	now := time.Now().UTC()
	src := &fakeTrades{recent: []domain.TradeRecord{
		{ID: "1", Symbol: "BTCUSDT", Timestamp: now},
		{ID: "2", Symbol: "ETHUSDT", Timestamp: now},
		{ID: "3", Symbol: "BTCUSDT", Timestamp: now},
	}}
	h := NewTradeHandler(src, testLogger())

	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/v1/trades?symbol=BTCUSDT", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got []domain.TradeRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
}

func TestListTradesEmptyIsArray(t *testing.T) {
	h := NewTradeHandler(&fakeTrades{}, testLogger())

	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListTradesBackendError(t *testing.T) {
	h := NewTradeHandler(&fakeTrades{err: errors.New("pg down")}, testLogger())

	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
