package domain

import "time"

// Ledger event types published on the signal bus.
const (
	EventMarketCreated       = "market_created"
	EventBetPlaced           = "bet_placed"
	EventMarketResolved      = "market_resolved"
	EventWinningsClaimed     = "winnings_claimed"
	EventEmergencyWithdrawal = "emergency_withdrawal"
)

// LedgerEvent describes a single committed ledger mutation. Events are
// JSON-encoded on the bus and re-broadcast verbatim to WebSocket clients.
type LedgerEvent struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	MarketID    uint64    `json:"market_id"`
	Participant string    `json:"participant,omitempty"`
	Amount      int64     `json:"amount,omitempty"`
	Outcome     *bool     `json:"outcome,omitempty"`
	At          time.Time `json:"at"`
}

// LedgerChannel is the pub/sub channel for live ledger events.
const LedgerChannel = "ch:ledger"

// LedgerStream is the durable stream mirroring LedgerChannel.
const LedgerStream = "stream:ledger"
