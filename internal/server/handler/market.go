package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// MarketService defines the methods that the market handler requires from
// the service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, question string, duration time.Duration, creator string) (uint64, error)
	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	TotalMarkets(ctx context.Context) (uint64, error)
	ResolveMarket(ctx context.Context, marketID uint64, outcome bool, caller string) error
	ClaimWinnings(ctx context.Context, marketID uint64, participant string) (int64, error)
	EmergencyWithdraw(ctx context.Context, marketID uint64, caller string) (int64, error)
}

// MarketHandler serves market lifecycle HTTP endpoints.
type MarketHandler struct {
	ledger MarketService
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(ledger MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		ledger: ledger,
		logger: logger,
	}
}

// createMarketRequest is the body for market creation.
type createMarketRequest struct {
	Question        string `json:"question"`
	DurationSeconds int64  `json:"duration_seconds"`
	Creator         string `json:"creator"`
}

// CreateMarket registers a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.ledger.CreateMarket(r.Context(), req.Question, time.Duration(req.DurationSeconds)*time.Second, req.Creator)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: create market failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"market_id": id})
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   uint64          `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets ordered by id with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.ledger.ListMarkets(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	total, err := h.ledger.TotalMarkets(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count markets")
		return
	}

	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	market, err := h.ledger.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// resolveRequest is the body for market resolution.
type resolveRequest struct {
	Outcome bool   `json:"outcome"`
	Caller  string `json:"caller"`
}

// ResolveMarket locks in a market's final outcome.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "missing caller")
		return
	}

	if err := h.ledger.ResolveMarket(r.Context(), id, req.Outcome, req.Caller); err != nil {
		h.logger.WarnContext(r.Context(), "handler: resolve market failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"outcome":   req.Outcome,
	})
}

// claimRequest is the body for claiming winnings.
type claimRequest struct {
	Participant string `json:"participant"`
}

// ClaimWinnings settles a winning bet and reports the payout.
// POST /api/markets/{id}/claim
func (h *MarketHandler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Participant == "" {
		writeError(w, http.StatusBadRequest, "missing participant")
		return
	}

	payout, err := h.ledger.ClaimWinnings(r.Context(), id, req.Participant)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: claim failed",
			slog.Uint64("market_id", id),
			slog.String("participant", req.Participant),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":   id,
		"participant": req.Participant,
		"payout":      payout,
	})
}

// emergencyRequest is the body for emergency withdrawal.
type emergencyRequest struct {
	Caller string `json:"caller"`
}

// EmergencyWithdraw sweeps a resolved market's remaining escrow to its
// creator after the timelock.
// POST /api/markets/{id}/emergency-withdraw
func (h *MarketHandler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req emergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "missing caller")
		return
	}

	amount, err := h.ledger.EmergencyWithdraw(r.Context(), id, req.Caller)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: emergency withdraw failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"amount":    amount,
	})
}
