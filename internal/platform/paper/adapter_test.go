package paper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagelabs/crossarb/internal/book"
	"github.com/vantagelabs/crossarb/internal/domain"
)

func seedBook(t *testing.T) *book.Store {
	t.Helper()
	store := book.NewStore()
	now := time.Now()
	for _, u := range []struct {
		side       domain.Side
		price, qty float64
	}{
		{domain.SideBuy, 29999, 2},
		{domain.SideBuy, 29998, 3},
		{domain.SideSell, 30001, 2},
		{domain.SideSell, 30002, 3},
	} {
		err := store.ApplyUpdate(domain.BookUpdate{
			Venue:     "binance",
			Symbol:    "BTCUSDT",
			Side:      u.side,
			Price:     decimal.NewFromFloat(u.price),
			Quantity:  decimal.NewFromFloat(u.qty),
			Timestamp: now,
		})
		require.NoError(t, err)
	}
	return store
}

func newAdapter(t *testing.T, opts ...Option) *Adapter {
	t.Helper()
	return New(seedBook(t), slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func TestPlaceBuyFillsWithinLimit(t *testing.T) {
	a := newAdapter(t)

	// Limit 30001 reaches only the first ask level.
	res, err := a.Place(context.Background(), domain.OrderRequest{
		Venue: "binance", Symbol: "BTCUSDT", Side: domain.SideBuy,
		Type: domain.OrderTypeLimit, Amount: 3, Price: 30001,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartial, res.Status)
	assert.InDelta(t, 2.0, res.Filled, 1e-9)
	assert.InDelta(t, 30001, res.Average, 1e-9)
	assert.Equal(t, 1, a.OpenOrders())
}

func TestPlaceCrossesMultipleLevels(t *testing.T) {
	a := newAdapter(t)

	res, err := a.Place(context.Background(), domain.OrderRequest{
		Venue: "binance", Symbol: "BTCUSDT", Side: domain.SideSell,
		Type: domain.OrderTypeLimit, Amount: 4, Price: 29998,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.InDelta(t, 4.0, res.Filled, 1e-9)
	// 2 @ 29999 + 2 @ 29998.
	assert.InDelta(t, 29998.5, res.Average, 1e-9)
	assert.Equal(t, 0, a.OpenOrders())
}

func TestPlaceRejectsInvalidOrders(t *testing.T) {
	a := newAdapter(t)

	_, err := a.Place(context.Background(), domain.OrderRequest{
		Venue: "binance", Symbol: "BTCUSDT", Side: domain.SideBuy,
		Type: domain.OrderTypeLimit, Amount: 0, Price: 30001,
	})
	require.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = a.Place(context.Background(), domain.OrderRequest{
		Venue: "kraken", Symbol: "BTCUSDT", Side: domain.SideBuy,
		Type: domain.OrderTypeLimit, Amount: 1, Price: 30001,
	})
	require.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestFillRatioScalesLiquidity(t *testing.T) {
	a := newAdapter(t, WithFillRatio(0.5))

	res, err := a.Place(context.Background(), domain.OrderRequest{
		Venue: "binance", Symbol: "BTCUSDT", Side: domain.SideBuy,
		Type: domain.OrderTypeLimit, Amount: 2, Price: 30001,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Filled, 1e-9)
	assert.Equal(t, domain.OrderStatusPartial, res.Status)
}

func TestCancelUnknownOrder(t *testing.T) {
	a := newAdapter(t)
	err := a.Cancel(context.Background(), "binance", "missing", "BTCUSDT")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSnapshotServesTopOfBook(t *testing.T) {
	a := newAdapter(t)

	top, err := a.Snapshot(context.Background(), "binance", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 29999.0, top.Bid)
	assert.Equal(t, 30001.0, top.Ask)
}
