package domain

import "time"

// TradeRecord is an immutable log entry for one completed round-trip: a buy on
// one venue paired with a sell on the other. Records are append-only.
type TradeRecord struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Symbol        string    `json:"symbol"`
	BuyVenue      string    `json:"buy_venue"`
	BuyPrice      float64   `json:"buy_price"`
	SellVenue     string    `json:"sell_venue"`
	SellPrice     float64   `json:"sell_price"`
	Amount        float64   `json:"amount"`
	Fees          float64   `json:"fees"`
	PnL           float64   `json:"pnl"`
	CumulativePnL float64   `json:"cumulative_pnl"`
}

// Position is the net inventory held per symbol. Size is negative when short.
type Position struct {
	Symbol        string
	Size          float64
	AvgPrice      float64
	UnrealizedPnL float64
	LastUpdate    time.Time
}

// Notional returns |size * avg price|.
func (p Position) Notional() float64 {
	return abs(p.Size * p.AvgPrice)
}
