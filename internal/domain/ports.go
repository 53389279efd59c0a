package domain

import (
	"context"
	"io"
	"time"
)

// MarketData is the pull side of a venue adapter: a REST-style snapshot used
// to seed a book after (re)connect and to serve read-only consumers.
type MarketData interface {
	Snapshot(ctx context.Context, venue, symbol string) (TopOfBook, error)
}

// OrderAdapter submits and cancels orders on a venue. Implementations resolve
// venue-specific wire formats; the core only sees normalized results.
type OrderAdapter interface {
	Place(ctx context.Context, req OrderRequest) (OrderResult, error)
	Cancel(ctx context.Context, venue, orderID, symbol string) error
}

// TradeStore persists completed trade records. Persistence is optional; the
// core only requires in-memory run state.
type TradeStore interface {
	Insert(ctx context.Context, trade TradeRecord) error
	Recent(ctx context.Context, limit int) ([]TradeRecord, error)
}

// SnapshotCache mirrors the latest top-of-book per (venue, symbol) for
// read-only consumers such as the dashboard API.
type SnapshotCache interface {
	SetTop(ctx context.Context, top TopOfBook) error
	GetTop(ctx context.Context, venue, symbol string) (TopOfBook, error)
}

// EventBus publishes run events (trades, risk events, book updates) to
// external subscribers.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BlobWriter uploads archive objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// RateLimiter throttles outbound venue requests across process instances.
type RateLimiter interface {
	// Allow reports whether one more request fits the sliding window, and
	// counts it when it does.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until a request for key is allowed or ctx ends.
	Wait(ctx context.Context, key string) error
}

// LockManager provides process-exclusive leases, used to keep two live
// traders from running against the same account.
type LockManager interface {
	// Acquire returns an unlock func, or ErrLockHeld when another holder
	// owns the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time { return time.Now().UTC() }
