package domain

import "time"

// OrderType distinguishes limit from market orders. The execution engine only
// submits limit orders; market is kept for adapter completeness.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus is the venue-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// OrderRequest is a single child order submitted to a venue.
type OrderRequest struct {
	Venue  string
	Symbol string
	Side   Side
	Type   OrderType
	Amount float64
	Price  float64
}

// OrderResult is the venue's response to a placed order.
type OrderResult struct {
	ID      string
	Filled  float64
	Average float64
	Status  OrderStatus
}

// ChildOrder records one chunk of an iceberg (or the single chunk of a plain
// order) inside an execution report.
type ChildOrder struct {
	OrderID      string
	Requested    float64
	Filled       float64
	AveragePrice float64
	Cancelled    bool
}

// ExecutionReport aggregates the child orders of one Execute call.
type ExecutionReport struct {
	Venue          string
	Symbol         string
	Side           Side
	FilledAmount   float64
	AveragePrice   float64
	ReferencePrice float64
	Children       []ChildOrder
	Latency        time.Duration
}

// Slippage returns |avg - reference| / reference, or 0 when the reference
// price is unset.
func (r ExecutionReport) Slippage() float64 {
	if r.ReferencePrice <= 0 {
		return 0
	}
	return abs(r.AveragePrice-r.ReferencePrice) / r.ReferencePrice
}
