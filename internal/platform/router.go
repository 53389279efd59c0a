// Package platform hosts the venue adapters and the router that dispatches
// order and market-data calls to the adapter for the named venue.
package platform

import (
	"context"
	"fmt"

	"github.com/vantagelabs/crossarb/internal/domain"
)

// Venue is one venue adapter: order submission plus snapshot reads.
type Venue interface {
	domain.OrderAdapter
	domain.MarketData
}

// Router implements domain.OrderAdapter and domain.MarketData over a set of
// named venue adapters. Registration happens at wiring time; the router is
// read-only afterwards.
type Router struct {
	venues map[string]Venue
}

var (
	_ domain.OrderAdapter = (*Router)(nil)
	_ domain.MarketData   = (*Router)(nil)
)

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{venues: make(map[string]Venue)}
}

// Register adds a venue adapter under the given name.
func (r *Router) Register(name string, venue Venue) {
	r.venues[name] = venue
}

// Place dispatches the order to the adapter for req.Venue.
func (r *Router) Place(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	venue, err := r.venue(req.Venue)
	if err != nil {
		return domain.OrderResult{}, err
	}
	return venue.Place(ctx, req)
}

// Cancel dispatches the cancellation to the adapter for the named venue.
func (r *Router) Cancel(ctx context.Context, venueName, orderID, symbol string) error {
	venue, err := r.venue(venueName)
	if err != nil {
		return err
	}
	return venue.Cancel(ctx, venueName, orderID, symbol)
}

// Snapshot dispatches the snapshot read to the adapter for the named venue.
func (r *Router) Snapshot(ctx context.Context, venueName, symbol string) (domain.TopOfBook, error) {
	venue, err := r.venue(venueName)
	if err != nil {
		return domain.TopOfBook{}, err
	}
	return venue.Snapshot(ctx, venueName, symbol)
}

func (r *Router) venue(name string) (Venue, error) {
	venue, ok := r.venues[name]
	if !ok {
		return nil, fmt.Errorf("platform: unknown venue %q: %w", name, domain.ErrNotFound)
	}
	return venue, nil
}
