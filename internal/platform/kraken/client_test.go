package kraken

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagelabs/crossarb/internal/crypto"
	"github.com/vantagelabs/crossarb/internal/domain"
)

// base64 of "krakensecretkey0123456789"
const testSecret = "a3Jha2Vuc2VjcmV0a2V5MDEyMzQ1Njc4OQ=="

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
		SecretKey: testSecret,
		Pairs:     map[string]string{"BTCUSDT": "XBTUSDT"},
	}
	clock := fixedClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	return New(cfg, nil, testLogger(), WithClock(clock))
}

func TestSnapshotParsesTopOfBook(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/public/Depth", r.URL.Path)
		assert.Equal(t, "XBTUSDT", r.URL.Query().Get("pair"))
		w.Write([]byte(`{"error":[],"result":{"XBTUSDT":{` +
			`"bids":[["29999.0","2.000",1700000000]],` +
			`"asks":[["30001.0","1.200",1700000000]]}}}`))
	})

	top, err := client.Snapshot(context.Background(), "kraken", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 29999.0, top.Bid)
	assert.Equal(t, 2.0, top.BidQty)
	assert.Equal(t, 30001.0, top.Ask)
	assert.Equal(t, 1.2, top.AskQty)
	assert.Equal(t, "BTCUSDT", top.Symbol)
}

func TestSnapshotUnknownSymbol(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for unmapped symbol")
	})

	_, err := client.Snapshot(context.Background(), "kraken", "DOGEUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pair mapping")
}

func TestPlaceSignsAndQueriesFill(t *testing.T) {
	var addForm, queryForm url.Values
	var addSig string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		form, err := url.ParseQuery(string(body))
		require.NoError(t, err)

		assert.Equal(t, "test-key", r.Header.Get("API-Key"))
		assert.NotEmpty(t, r.Header.Get("API-Sign"))

		switch r.URL.Path {
		case "/0/private/AddOrder":
			addForm = form
			addSig = r.Header.Get("API-Sign")

			// Signature must be reproducible from the posted form.
			want, err := crypto.SignKraken(testSecret, r.URL.Path, form.Get("nonce"), string(body))
			require.NoError(t, err)
			assert.Equal(t, want, addSig)

			w.Write([]byte(`{"error":[],"result":{"txid":["OABC-123"],"descr":{"order":"sell 0.5 XBTUSDT @ limit 30060"}}}`))
		case "/0/private/QueryOrders":
			queryForm = form
			w.Write([]byte(`{"error":[],"result":{"OABC-123":{"status":"closed","vol_exec":"0.5","price":"30060.0"}}}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	result, err := client.Place(context.Background(), domain.OrderRequest{
		Venue:  "kraken",
		Symbol: "BTCUSDT",
		Side:   domain.SideSell,
		Type:   domain.OrderTypeLimit,
		Amount: 0.5,
		Price:  30060,
	})
	require.NoError(t, err)

	assert.Equal(t, "OABC-123", result.ID)
	assert.Equal(t, 0.5, result.Filled)
	assert.Equal(t, 30060.0, result.Average)
	assert.Equal(t, domain.OrderStatusFilled, result.Status)

	assert.Equal(t, "XBTUSDT", addForm.Get("pair"))
	assert.Equal(t, "sell", addForm.Get("type"))
	assert.Equal(t, "limit", addForm.Get("ordertype"))
	assert.Equal(t, "IOC", addForm.Get("timeinforce"))
	assert.Equal(t, "0.5", addForm.Get("volume"))
	assert.Equal(t, "OABC-123", queryForm.Get("txid"))

	// Nonces must be strictly increasing across the two private calls.
	assert.Less(t, addForm.Get("nonce"), queryForm.Get("nonce"))
}

func TestPlaceIOCPartialMapsToPartial(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/0/private/AddOrder":
			w.Write([]byte(`{"error":[],"result":{"txid":["O1"]}}`))
		case "/0/private/QueryOrders":
			w.Write([]byte(`{"error":[],"result":{"O1":{"status":"canceled","vol_exec":"0.2","price":"30060.0"}}}`))
		}
	})

	result, err := client.Place(context.Background(), domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Amount: 0.5, Price: 30062,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartial, result.Status)
	assert.Equal(t, 0.2, result.Filled)
}

func TestAPIErrorMapping(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":["EAPI:Rate limit exceeded"]}`))
	})

	_, err := client.Place(context.Background(), domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Amount: 0.1, Price: 30000,
	})
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestCancelUnknownOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":["EOrder:Unknown order"]}`))
	})

	err := client.Cancel(context.Background(), "kraken", "NOPE", "BTCUSDT")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
