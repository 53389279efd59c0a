package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantagelabs/crossarb/internal/domain"
)

// krakenBookMessage is the v2 API book channel payload.
type krakenBookMessage struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
	Data    []struct {
		Symbol    string        `json:"symbol"`
		Bids      []krakenLevel `json:"bids"`
		Asks      []krakenLevel `json:"asks"`
		Timestamp string        `json:"timestamp"`
	} `json:"data"`
}

type krakenLevel struct {
	Price    json.Number `json:"price"`
	Quantity json.Number `json:"qty"`
}

// KrakenDecoder normalizes Kraken v2 book messages. Kraken uses "BTC/USDT"
// style pair names; the map translates back to canonical symbols.
type KrakenDecoder struct {
	toCanonical map[string]string
	toVenue     map[string]string
}

// NewKrakenDecoder builds a decoder from canonical symbol to Kraken pair,
// e.g. {"BTCUSDT": "BTC/USDT"}.
func NewKrakenDecoder(pairs map[string]string) *KrakenDecoder {
	d := &KrakenDecoder{
		toCanonical: make(map[string]string, len(pairs)),
		toVenue:     make(map[string]string, len(pairs)),
	}
	for canonical, pair := range pairs {
		d.toCanonical[pair] = canonical
		d.toVenue[canonical] = pair
	}
	return d
}

func (d *KrakenDecoder) Venue() string { return "kraken" }

func (d *KrakenDecoder) SubscribePayloads(symbols []string) ([][]byte, error) {
	pairs := make([]string, 0, len(symbols))
	for _, s := range symbols {
		pair, ok := d.toVenue[s]
		if !ok {
			return nil, fmt.Errorf("no kraken pair mapping for %q", s)
		}
		pairs = append(pairs, pair)
	}
	cmd := struct {
		Method string `json:"method"`
		Params struct {
			Channel string   `json:"channel"`
			Symbol  []string `json:"symbol"`
		} `json:"params"`
	}{Method: "subscribe"}
	cmd.Params.Channel = "book"
	cmd.Params.Symbol = pairs
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	return [][]byte{payload}, nil
}

func (d *KrakenDecoder) Decode(raw []byte) ([]domain.BookUpdate, error) {
	var msg krakenBookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: book message: %s", domain.ErrFeedProtocol, err)
	}
	if msg.Channel != "book" || (msg.Type != "snapshot" && msg.Type != "update") {
		// Heartbeats, status, and method acks.
		return nil, nil
	}

	var updates []domain.BookUpdate
	for _, entry := range msg.Data {
		canonical, ok := d.toCanonical[entry.Symbol]
		if !ok {
			continue
		}
		ts := time.Now().UTC()
		if entry.Timestamp != "" {
			if t, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err == nil {
				ts = t
			}
		}
		if msg.Type == "snapshot" {
			// A snapshot replaces the book, it does not patch it.
			updates = append(updates, domain.BookUpdate{
				Venue:     d.Venue(),
				Symbol:    canonical,
				Timestamp: ts,
				Reset:     true,
			})
		}
		var err error
		updates, err = d.appendLevels(updates, canonical, domain.SideBuy, entry.Bids, ts)
		if err != nil {
			return nil, err
		}
		updates, err = d.appendLevels(updates, canonical, domain.SideSell, entry.Asks, ts)
		if err != nil {
			return nil, err
		}
	}
	return updates, nil
}

func (d *KrakenDecoder) appendLevels(out []domain.BookUpdate, symbol string, side domain.Side, levels []krakenLevel, ts time.Time) ([]domain.BookUpdate, error) {
	for _, lvl := range levels {
		price, err := decimal.NewFromString(lvl.Price.String())
		if err != nil {
			return nil, fmt.Errorf("%w: price %q", domain.ErrFeedProtocol, lvl.Price)
		}
		qty, err := decimal.NewFromString(lvl.Quantity.String())
		if err != nil {
			return nil, fmt.Errorf("%w: quantity %q", domain.ErrFeedProtocol, lvl.Quantity)
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
