package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and optional time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market records. Create must reject an id that is
// already present with ErrAlreadyExists; Get and Update return ErrNotFound
// for unknown ids.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	Get(ctx context.Context, id uint64) (Market, error)
	Update(ctx context.Context, m Market) error
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (uint64, error)

	// ListResolvedBefore returns markets resolved strictly before the cutoff.
	// Used by the archiver.
	ListResolvedBefore(ctx context.Context, before time.Time) ([]Market, error)
}

// BetStore persists bet records. Create returns ErrAlreadyExists when the
// (market, participant) pair already has a bet; bets are never deleted.
type BetStore interface {
	Create(ctx context.Context, b Bet) error
	Get(ctx context.Context, marketID uint64, participant string) (Bet, error)
	SetClaimed(ctx context.Context, marketID uint64, participant string) error
	ListByMarket(ctx context.Context, marketID uint64) ([]Bet, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log of ledger mutations.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
