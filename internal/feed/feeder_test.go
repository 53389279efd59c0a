package feed

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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFeederAppliesUpdatesAndTicks(t *testing.T) {
	store := book.NewStore()
	f := NewBookFeeder(store, nil, nil, 16, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	f.Handle(domain.BookUpdate{
		Venue:     "binance",
		Symbol:    "BTCUSDT",
		Side:      domain.SideBuy,
		Price:     decimal.NewFromInt(30000),
		Quantity:  decimal.NewFromInt(1),
		Timestamp: time.Now(),
	})

	select {
	case sym := <-f.Ticks():
		assert.Equal(t, "BTCUSDT", sym)
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}

	top, ok := store.TopOfBook("binance", "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 30000.0, top.Bid)
}

func TestFeederBlocksUnderBackpressure(t *testing.T) {
	store := book.NewStore()
	// Queue of 1 and no Run loop draining it yet.
	f := NewBookFeeder(store, nil, nil, 1, testLogger())

	u := domain.BookUpdate{
		Venue:     "binance",
		Symbol:    "BTCUSDT",
		Side:      domain.SideBuy,
		Price:     decimal.NewFromInt(30000),
		Quantity:  decimal.NewFromInt(1),
		Timestamp: time.Now(),
	}
	f.Handle(u)

	done := make(chan struct{})
	go func() {
		f.Handle(u)
		close(done)
	}()

	// The second enqueue must stall until a consumer drains, never drop.
	select {
	case <-done:
		t.Fatal("enqueue on a full queue did not block")
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked enqueue never completed after draining started")
	}
	assert.Equal(t, int64(1), f.Stalls())

	// Both updates were applied, none lost.
	require.Eventually(t, func() bool {
		_, ok := store.TopOfBook("binance", "BTCUSDT")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}
