package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantagelabs/crossarb/internal/domain"
)

// snapshotDepthLimit is how many levels each REST depth snapshot requests.
const snapshotDepthLimit = 100

// binanceDepthEvent is the depth stream payload, possibly wrapped in a
// combined-stream envelope.
type binanceDepthEvent struct {
	Event     string     `json:"e"`
	EventTime int64      `json:"E"`
	Symbol    string     `json:"s"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// BinanceDecoder normalizes Binance combined-stream depth updates. Symbols
// map canonical names to the venue's lowercase stream names.
type BinanceDecoder struct {
	symbolMap map[string]string // venue symbol (upper) -> canonical
}

// NewBinanceDecoder builds a decoder for the given canonical symbols.
// Canonical symbols are already in Binance's format (e.g. "BTCUSDT").
func NewBinanceDecoder(symbols []string) *BinanceDecoder {
	m := make(map[string]string, len(symbols))
	for _, s := range symbols {
		m[strings.ToUpper(s)] = s
	}
	return &BinanceDecoder{symbolMap: m}
}

func (d *BinanceDecoder) Venue() string { return "binance" }

// SubscribePayloads emits a single SUBSCRIBE command covering every symbol's
// 100ms depth stream.
func (d *BinanceDecoder) SubscribePayloads(symbols []string) ([][]byte, error) {
	params := make([]string, 0, len(symbols))
	for _, s := range symbols {
		params = append(params, strings.ToLower(s)+"@depth@100ms")
	}
	cmd := struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
		ID     int      `json:"id"`
	}{Method: "SUBSCRIBE", Params: params, ID: 1}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	return [][]byte{payload}, nil
}

func (d *BinanceDecoder) Decode(raw []byte) ([]domain.BookUpdate, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %s", domain.ErrFeedProtocol, err)
	}
	body := raw
	if len(env.Data) > 0 {
		body = env.Data
	}

	var ev binanceDepthEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: depth event: %s", domain.ErrFeedProtocol, err)
	}
	if ev.Event != "depthUpdate" {
		// Subscription acks and other control frames.
		return nil, nil
	}
	canonical, ok := d.symbolMap[strings.ToUpper(ev.Symbol)]
	if !ok {
		return nil, nil
	}
	ts := time.UnixMilli(ev.EventTime).UTC()

	updates := make([]domain.BookUpdate, 0, len(ev.Bids)+len(ev.Asks))
	var err error
	updates, err = d.appendLevels(updates, canonical, domain.SideBuy, ev.Bids, ts)
	if err != nil {
		return nil, err
	}
	return d.appendLevels(updates, canonical, domain.SideSell, ev.Asks, ts)
}

// binanceDepthSnapshot is the REST /api/v3/depth payload.
type binanceDepthSnapshot struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// NewBinanceSnapshot returns a SnapshotFunc that pulls a REST depth snapshot
// for every symbol, each prefixed with a reset marker. The diff stream never
// opens with a snapshot, so increments after a (re)connect patch a book that
// has to be rebuilt first. client may be nil.
func NewBinanceSnapshot(restURL string, symbols []string, client *http.Client) SnapshotFunc {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	d := NewBinanceDecoder(symbols)
	base := strings.TrimRight(restURL, "/")
	return func(ctx context.Context) ([]domain.BookUpdate, error) {
		var out []domain.BookUpdate
		for _, symbol := range symbols {
			snap, err := fetchBinanceDepth(ctx, client, base, symbol)
			if err != nil {
				return nil, err
			}
			ts := time.Now().UTC()
			out = append(out, domain.BookUpdate{
				Venue:     d.Venue(),
				Symbol:    symbol,
				Timestamp: ts,
				Reset:     true,
			})
			out, err = d.appendLevels(out, symbol, domain.SideBuy, snap.Bids, ts)
			if err != nil {
				return nil, err
			}
			out, err = d.appendLevels(out, symbol, domain.SideSell, snap.Asks, ts)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	}
}

func fetchBinanceDepth(ctx context.Context, client *http.Client, base, symbol string) (binanceDepthSnapshot, error) {
	var snap binanceDepthSnapshot
	u := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=%d", base, strings.ToUpper(symbol), snapshotDepthLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return snap, fmt.Errorf("depth request %s: %w", symbol, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return snap, fmt.Errorf("depth %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("depth %s: status %d", symbol, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode depth %s: %w", symbol, err)
	}
	return snap, nil
}

func (d *BinanceDecoder) appendLevels(out []domain.BookUpdate, symbol string, side domain.Side, levels [][]string, ts time.Time) ([]domain.BookUpdate, error) {
	for _, lvl := range levels {
		if len(lvl) < 2 {
			return nil, fmt.Errorf("%w: short level", domain.ErrFeedProtocol)
		}
		price, err := decimal.NewFromString(lvl[0])
		if err != nil {
			return nil, fmt.Errorf("%w: price %q", domain.ErrFeedProtocol, lvl[0])
		}
		qty, err := decimal.NewFromString(lvl[1])
		if err != nil {
			return nil, fmt.Errorf("%w: quantity %q", domain.ErrFeedProtocol, lvl[1])
		}
		out = append(out, domain.BookUpdate{
			Venue:     d.Venue(),
			Symbol:    symbol,
			Side:      side,
			Price:     price,
			Quantity:  qty,
			Timestamp: ts,
		})
	}
	return out, nil
}
