package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vantagelabs/crossarb/internal/domain"
)

// TopSource reads the latest top-of-book per (venue, symbol). Satisfied by
// the Redis snapshot cache.
type TopSource interface {
	GetTop(ctx context.Context, venue, symbol string) (domain.TopOfBook, error)
}

// marketResponse is the per-symbol market view: the top of book on each venue
// plus the cross-venue spread in both directions.
type marketResponse struct {
	Symbol        string                      `json:"symbol"`
	Tops          map[string]domain.TopOfBook `json:"tops"`
	Spread        *float64                    `json:"spread,omitempty"`
	ReverseSpread *float64                    `json:"reverse_spread,omitempty"`
}

// MarketHandler serves cross-venue market snapshots.
type MarketHandler struct {
	tops   TopSource
	venueA string
	venueB string
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler reading tops for the given venue
// pair.
func NewMarketHandler(tops TopSource, venueA, venueB string, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		tops:   tops,
		venueA: venueA,
		venueB: venueB,
		logger: logger.With(slog.String("handler", "market")),
	}
}

// GetMarket returns the top of book on both venues for one symbol, with the
// spread (venue A ask minus venue B bid) and its reverse. A venue with no
// cached top is simply omitted.
// GET /api/v1/market/{symbol}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	resp := marketResponse{
		Symbol: symbol,
		Tops:   make(map[string]domain.TopOfBook, 2),
	}

	for _, venue := range []string{h.venueA, h.venueB} {
		top, err := h.tops.GetTop(r.Context(), venue, symbol)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			h.logger.ErrorContext(r.Context(), "top lookup failed",
				slog.String("venue", venue),
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusServiceUnavailable, "market data unavailable")
			return
		}
		resp.Tops[venue] = top
	}

	if len(resp.Tops) == 0 {
		writeError(w, http.StatusNotFound, "no market data for symbol")
		return
	}

	topA, okA := resp.Tops[h.venueA]
	topB, okB := resp.Tops[h.venueB]
	if okA && okB {
		spread := topA.Ask - topB.Bid
		reverse := topB.Ask - topA.Bid
		resp.Spread = &spread
		resp.ReverseSpread = &reverse
	}

	writeJSON(w, http.StatusOK, resp)
}
