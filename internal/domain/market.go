package domain

import "time"

// MarketState is the derived lifecycle state of a market.
type MarketState string

const (
	// MarketStateOpen accepts new bets.
	MarketStateOpen MarketState = "open"
	// MarketStateClosed is past its end time but not yet resolved.
	MarketStateClosed MarketState = "closed"
	// MarketStateResolved has a final outcome. Terminal.
	MarketStateResolved MarketState = "resolved"
)

// Market is a single yes/no proposition open for prediction betting.
// IDs are sequential, assigned at creation, and never reused. Amounts are
// int64 micro-units (1e6 = 1 unit of the escrow currency).
type Market struct {
	ID        uint64    `json:"id"`
	Question  string    `json:"question"`
	Creator   string    `json:"creator"`
	CreatedAt time.Time `json:"created_at"`
	EndTime   time.Time `json:"end_time"`

	// Resolved flips false -> true exactly once; Outcome and ResolvedAt are
	// meaningless until it does.
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Outcome    bool       `json:"outcome"`

	// Running pool totals, grouped by predicted side. Monotonically
	// non-decreasing until resolution.
	TotalYes int64 `json:"total_yes"`
	TotalNo  int64 `json:"total_no"`

	// Escrow is the value still held for this market: bets in, payouts and
	// emergency withdrawals out.
	Escrow int64 `json:"escrow"`
}

// State derives the lifecycle state of the market at the given instant.
func (m Market) State(now time.Time) MarketState {
	switch {
	case m.Resolved:
		return MarketStateResolved
	case !now.Before(m.EndTime):
		return MarketStateClosed
	default:
		return MarketStateOpen
	}
}

// Pool returns the combined yes+no pool total.
func (m Market) Pool() int64 {
	return m.TotalYes + m.TotalNo
}

// WinningPool returns the pool total of the side matching the resolved
// outcome. Only meaningful once the market is resolved.
func (m Market) WinningPool() int64 {
	if m.Outcome {
		return m.TotalYes
	}
	return m.TotalNo
}
