// Package book maintains per-venue, per-symbol orderbook state reconstructed
// from normalized incremental feed updates.
package book

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantagelabs/crossarb/internal/domain"
)

// DefaultStaleLimit is how old a book may be before readers must treat it the
// same as a missing book.
const DefaultStaleLimit = 5 * time.Second

type bookKey struct {
	venue  string
	symbol string
}

// sideLevels is a price-ordered slice of levels. Asks ascend, bids descend.
type sideLevels struct {
	levels     []domain.PriceLevel
	descending bool
}

// search returns the insertion index for price and whether an exact level
// already exists there.
func (s *sideLevels) search(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		if s.descending {
			return s.levels[i].Price.LessThanOrEqual(price)
		}
		return s.levels[i].Price.GreaterThanOrEqual(price)
	})
	found := i < len(s.levels) && s.levels[i].Price.Equal(price)
	return i, found
}

// set inserts, replaces, or (quantity zero) removes the level at price.
// Applying the same update twice is a no-op difference.
func (s *sideLevels) set(price, quantity decimal.Decimal) {
	i, found := s.search(price)
	switch {
	case quantity.IsZero():
		if found {
			s.levels = append(s.levels[:i], s.levels[i+1:]...)
		}
	case found:
		s.levels[i].Quantity = quantity
	default:
		s.levels = append(s.levels, domain.PriceLevel{})
		copy(s.levels[i+1:], s.levels[i:])
		s.levels[i] = domain.PriceLevel{Price: price, Quantity: quantity}
	}
}

func (s *sideLevels) clone() []domain.PriceLevel {
	if len(s.levels) == 0 {
		return nil
	}
	out := make([]domain.PriceLevel, len(s.levels))
	copy(out, s.levels)
	return out
}

type symbolBook struct {
	bids       sideLevels
	asks       sideLevels
	lastUpdate time.Time
}

// Store owns all orderbook state. It is written only by feed-update
// application and read as immutable snapshots; both paths are safe for
// concurrent use.
type Store struct {
	mu         sync.RWMutex
	books      map[bookKey]*symbolBook
	staleLimit time.Duration
	clock      domain.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithStaleLimit overrides the default staleness limit.
func WithStaleLimit(d time.Duration) Option {
	return func(s *Store) { s.staleLimit = d }
}

// WithClock injects a clock, used by tests to control staleness.
func WithClock(c domain.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		books:      make(map[bookKey]*symbolBook),
		staleLimit: DefaultStaleLimit,
		clock:      domain.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyUpdate idempotently sets or removes one price level. A quantity of
// zero always removes the level regardless of prior quantity. A Reset update
// carries no level and discards the whole book instead.
func (s *Store) ApplyUpdate(u domain.BookUpdate) error {
	if u.Reset {
		s.Reset(u.Venue, u.Symbol)
		return nil
	}
	if u.Price.Sign() <= 0 || u.Quantity.Sign() < 0 {
		return domain.ErrFeedProtocol
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := bookKey{venue: u.Venue, symbol: u.Symbol}
	b, ok := s.books[k]
	if !ok {
		b = &symbolBook{
			bids: sideLevels{descending: true},
			asks: sideLevels{},
		}
		s.books[k] = b
	}

	if u.Side == domain.SideBuy {
		b.bids.set(u.Price, u.Quantity)
	} else {
		b.asks.set(u.Price, u.Quantity)
	}

	ts := u.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	if ts.After(b.lastUpdate) {
		b.lastUpdate = ts
	}
	return nil
}

// Reset discards all levels for one (venue, symbol) book, typically ahead of
// a post-reconnect re-snapshot.
func (s *Store) Reset(venue, symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, bookKey{venue: venue, symbol: symbol})
}

// TopOfBook returns the best bid/ask for the given book. The second return is
// false when the book does not exist or its data is older than the staleness
// limit; callers must treat both identically.
func (s *Store) TopOfBook(venue, symbol string) (domain.TopOfBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[bookKey{venue: venue, symbol: symbol}]
	if !ok || s.stale(b) {
		return domain.TopOfBook{}, false
	}

	top := domain.TopOfBook{
		Venue:     venue,
		Symbol:    symbol,
		Timestamp: b.lastUpdate,
	}
	if len(b.bids.levels) > 0 {
		top.Bid, _ = b.bids.levels[0].Price.Float64()
		top.BidQty, _ = b.bids.levels[0].Quantity.Float64()
	}
	if len(b.asks.levels) > 0 {
		top.Ask, _ = b.asks.levels[0].Price.Float64()
		top.AskQty, _ = b.asks.levels[0].Quantity.Float64()
	}
	return top, true
}

// Snapshot returns a full depth copy of the book, staleness-checked the same
// way as TopOfBook.
func (s *Store) Snapshot(venue, symbol string) (domain.BookSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[bookKey{venue: venue, symbol: symbol}]
	if !ok || s.stale(b) {
		return domain.BookSnapshot{}, false
	}
	return domain.BookSnapshot{
		Venue:     venue,
		Symbol:    symbol,
		Bids:      b.bids.clone(),
		Asks:      b.asks.clone(),
		Timestamp: b.lastUpdate,
	}, true
}

func (s *Store) stale(b *symbolBook) bool {
	return b.lastUpdate.IsZero() || s.clock.Now().Sub(b.lastUpdate) > s.staleLimit
}
