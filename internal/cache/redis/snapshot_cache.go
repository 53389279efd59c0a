package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vantagelabs/crossarb/internal/domain"
)

// topTTL expires cached tops shortly after the staleness limit so readers
// never see books the engine itself would refuse to trade on.
const topTTL = 10 * time.Second

// SnapshotCache implements domain.SnapshotCache: the latest top-of-book per
// (venue, symbol), mirrored for the dashboard API and other processes.
type SnapshotCache struct {
	rdb *redis.Client
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying()}
}

func topKey(venue, symbol string) string {
	return fmt.Sprintf("crossarb:top:%s:%s", venue, symbol)
}

// SetTop stores the top-of-book as JSON with a short TTL.
func (sc *SnapshotCache) SetTop(ctx context.Context, top domain.TopOfBook) error {
	data, err := json.Marshal(top)
	if err != nil {
		return fmt.Errorf("redis: marshal top %s %s: %w", top.Venue, top.Symbol, err)
	}
	if err := sc.rdb.Set(ctx, topKey(top.Venue, top.Symbol), data, topTTL).Err(); err != nil {
		return fmt.Errorf("redis: set top %s %s: %w", top.Venue, top.Symbol, err)
	}
	return nil
}

// GetTop returns the cached top-of-book, or ErrNotFound when it is absent or
// expired.
func (sc *SnapshotCache) GetTop(ctx context.Context, venue, symbol string) (domain.TopOfBook, error) {
	data, err := sc.rdb.Get(ctx, topKey(venue, symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.TopOfBook{}, fmt.Errorf("top %s %s: %w", venue, symbol, domain.ErrNotFound)
		}
		return domain.TopOfBook{}, fmt.Errorf("redis: get top %s %s: %w", venue, symbol, err)
	}
	var top domain.TopOfBook
	if err := json.Unmarshal(data, &top); err != nil {
		return domain.TopOfBook{}, fmt.Errorf("redis: decode top %s %s: %w", venue, symbol, err)
	}
	return top, nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
