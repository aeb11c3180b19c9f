package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// BetService defines the methods that the bet handler requires from the
// service layer.
type BetService interface {
	PlaceBet(ctx context.Context, marketID uint64, participant string, prediction bool, amount int64) error
	Bet(ctx context.Context, marketID uint64, participant string) (domain.Bet, error)
}

// BetHandler serves bet HTTP endpoints.
type BetHandler struct {
	ledger BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler with the given service and logger.
func NewBetHandler(ledger BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		ledger: ledger,
		logger: logger,
	}
}

// placeBetRequest is the body for placing a bet.
type placeBetRequest struct {
	Participant string `json:"participant"`
	Prediction  bool   `json:"prediction"`
	Amount      int64  `json:"amount"`
}

// PlaceBet records a bet on an open market.
// POST /api/markets/{id}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req placeBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Participant == "" {
		writeError(w, http.StatusBadRequest, "missing participant")
		return
	}

	if err := h.ledger.PlaceBet(r.Context(), id, req.Participant, req.Prediction, req.Amount); err != nil {
		h.logger.WarnContext(r.Context(), "handler: place bet failed",
			slog.Uint64("market_id", id),
			slog.String("participant", req.Participant),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"market_id":   id,
		"participant": req.Participant,
		"prediction":  req.Prediction,
		"amount":      req.Amount,
	})
}

// GetBet returns the bet placed by a participant on a market.
// GET /api/markets/{id}/bets/{participant}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	participant := r.PathValue("participant")
	if participant == "" {
		writeError(w, http.StatusBadRequest, "missing participant")
		return
	}

	bet, err := h.ledger.Bet(r.Context(), id, participant)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bet)
}
