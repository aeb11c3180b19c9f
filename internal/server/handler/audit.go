package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// AuditService defines the methods that the audit handler requires from the
// service layer.
type AuditService interface {
	AuditTrail(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
	EventHistory(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error)
}

// AuditHandler serves the audit trail and durable event history endpoints.
type AuditHandler struct {
	ledger AuditService
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler with the given service and logger.
func NewAuditHandler(ledger AuditService, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		ledger: ledger,
		logger: logger,
	}
}

// ListAudit returns recent audit entries, newest first.
// GET /api/audit?limit=50&offset=0
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	entries, err := h.ledger.AuditTrail(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: audit trail failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

// eventRecord is one durable ledger event with its stream position.
type eventRecord struct {
	StreamID string          `json:"stream_id"`
	Event    json.RawMessage `json:"event"`
}

// ListEvents replays durable ledger events from the stream.
// GET /api/events?after=0&limit=100
func (h *AuditHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	after := q.Get("after")
	if after == "" {
		after = "0"
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	msgs, err := h.ledger.EventHistory(r.Context(), after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: event history failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read event history")
		return
	}

	events := make([]eventRecord, 0, len(msgs))
	for _, m := range msgs {
		events = append(events, eventRecord{
			StreamID: m.ID,
			Event:    json.RawMessage(m.Payload),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
