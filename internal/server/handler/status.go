package handler

import (
	"log/slog"
	"net/http"

	"github.com/vantagelabs/crossarb/internal/coordinator"
	"github.com/vantagelabs/crossarb/internal/domain"
)

// Engine is the read surface of the trading coordinator that the status
// endpoints need.
type Engine interface {
	Status() coordinator.Status
	RecentTrades(limit int) []domain.TradeRecord
	Leaderboard() []coordinator.SymbolStats
}

// StatusHandler serves run-state snapshots from the trading engine.
type StatusHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler backed by the given engine.
func NewStatusHandler(engine Engine, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		engine: engine,
		logger: logger.With(slog.String("handler", "status")),
	}
}

// GetStatus returns the current run snapshot.
// GET /api/v1/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// GetLeaderboard returns per-symbol performance sorted by total PnL.
// GET /api/v1/leaderboard
func (h *StatusHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	board := h.engine.Leaderboard()
	if board == nil {
		board = []coordinator.SymbolStats{}
	}
	writeJSON(w, http.StatusOK, board)
}
