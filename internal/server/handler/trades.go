package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/vantagelabs/crossarb/internal/domain"
)

// TradeSource reads completed trade records, newest first.
type TradeSource interface {
	Recent(ctx context.Context, limit int) ([]domain.TradeRecord, error)
}

// symbolTradeSource is the optional extension for stores that can filter by
// symbol server-side. The Postgres trade store implements it.
type symbolTradeSource interface {
	ListBySymbol(ctx context.Context, symbol string, since, until *time.Time, limit int) ([]domain.TradeRecord, error)
}

// TradeHandler serves the trade history endpoints.
type TradeHandler struct {
	trades TradeSource
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler backed by the given trade source.
func NewTradeHandler(trades TradeSource, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logger.With(slog.String("handler", "trades")),
	}
}

// ListTrades returns recent trades, newest first. Accepts limit and symbol
// query parameters; symbol filtering is pushed down to the store when it
// supports it.
// GET /api/v1/trades
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	symbol := r.URL.Query().Get("symbol")

	var (
		trades []domain.TradeRecord
		err    error
	)

	if symbol != "" {
		if s, ok := h.trades.(symbolTradeSource); ok {
			trades, err = s.ListBySymbol(r.Context(), symbol, nil, nil, limit)
		} else {
			trades, err = h.recentFiltered(r.Context(), symbol, limit)
		}
	} else {
		trades, err = h.trades.Recent(r.Context(), limit)
	}

	if err != nil {
		h.logger.ErrorContext(r.Context(), "trade query failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "trade history unavailable")
		return
	}

	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// recentFiltered filters recent trades by symbol in memory for sources
// without a symbol index.
func (h *TradeHandler) recentFiltered(ctx context.Context, symbol string, limit int) ([]domain.TradeRecord, error) {
	all, err := h.trades.Recent(ctx, 500)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TradeRecord, 0, limit)
	for _, t := range all {
		if t.Symbol == symbol {
			out = append(out, t)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
