package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/vantagelabs/crossarb/internal/book"
	"github.com/vantagelabs/crossarb/internal/domain"
)

// tickBuffer bounds the coalesced symbol notification channel. The control
// loop also polls, so dropped ticks only delay evaluation by one interval.
const tickBuffer = 64

// BookFeeder drains venue feed updates through a bounded queue into the book
// store, mirrors the resulting top-of-book to the snapshot cache, and emits
// coalesced per-symbol ticks for the control loop.
type BookFeeder struct {
	store  *book.Store
	cache  domain.SnapshotCache
	bus    domain.EventBus
	logger *slog.Logger

	updates chan domain.BookUpdate
	ticks   chan string
	stalls  atomic.Int64
}

// NewBookFeeder creates a feeder. cache and bus may be nil when the process
// runs without Redis.
func NewBookFeeder(store *book.Store, cache domain.SnapshotCache, bus domain.EventBus, queueSize int, logger *slog.Logger) *BookFeeder {
	if queueSize <= 0 {
		queueSize = 4096
	}
	return &BookFeeder{
		store:   store,
		cache:   cache,
		bus:     bus,
		logger:  logger.With(slog.String("component", "book_feeder")),
		updates: make(chan domain.BookUpdate, queueSize),
		ticks:   make(chan string, tickBuffer),
	}
}

// Handle enqueues one update. A full queue blocks the feed's read loop so
// backpressure reaches the socket instead of losing levels; the stall counter
// records each time that happened.
func (f *BookFeeder) Handle(u domain.BookUpdate) {
	select {
	case f.updates <- u:
	default:
		f.stalls.Add(1)
		f.updates <- u
	}
}

// Ticks delivers symbols whose books changed. Best-effort, coalesced.
func (f *BookFeeder) Ticks() <-chan string { return f.ticks }

// Stalls returns how many enqueues blocked on a full queue.
func (f *BookFeeder) Stalls() int64 { return f.stalls.Load() }

// Run applies queued updates until ctx is cancelled.
func (f *BookFeeder) Run(ctx context.Context) error {
	f.logger.Info("book feeder started")
	defer f.logger.Info("book feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-f.updates:
			f.apply(ctx, u)
		}
	}
}

func (f *BookFeeder) apply(ctx context.Context, u domain.BookUpdate) {
	if err := f.store.ApplyUpdate(u); err != nil {
		f.logger.Debug("rejected book update",
			slog.String("venue", u.Venue),
			slog.String("symbol", u.Symbol),
			slog.String("error", err.Error()))
		return
	}

	top, ok := f.store.TopOfBook(u.Venue, u.Symbol)
	if ok {
		if f.cache != nil {
			if err := f.cache.SetTop(ctx, top); err != nil {
				f.logger.Debug("snapshot cache write failed", slog.String("error", err.Error()))
			}
		}
		if f.bus != nil {
			if payload, err := json.Marshal(top); err == nil {
				if err := f.bus.Publish(ctx, "books", payload); err != nil {
					f.logger.Debug("book event publish failed", slog.String("error", err.Error()))
				}
			}
		}
	}

	select {
	case f.ticks <- u.Symbol:
	default:
	}
}
