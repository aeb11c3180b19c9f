package domain

import "time"

// Bet is one participant's stake on a market. Keyed by (MarketID,
// Participant) -- at most one per pair, never deleted. Claimed flips
// false -> true exactly once when the bet is settled.
type Bet struct {
	MarketID    uint64    `json:"market_id"`
	Participant string    `json:"participant"`
	Amount      int64     `json:"amount"`
	Prediction  bool      `json:"prediction"`
	Claimed     bool      `json:"claimed"`
	PlacedAt    time.Time `json:"placed_at"`
}
