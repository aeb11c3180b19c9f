// Package engine implements the market ledger: market registry, bet escrow,
// creator-gated resolution, proportional settlement, and time-locked
// emergency recovery. Every mutating operation runs under a single mutex so
// no caller ever observes an interleaved intermediate state; readers go
// straight to the stores and see the latest committed state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// Config holds the ledger's tunable limits.
type Config struct {
	// MinBet and MaxBet bound a single bet's amount, inclusive, in
	// micro-units.
	MinBet int64
	MaxBet int64

	// EmergencyTimelock is the cooldown after resolution before the creator
	// may sweep the remaining escrow.
	EmergencyTimelock time.Duration
}

// DefaultConfig returns the stock limits: 0.001 to 100 units per bet and a
// 30-day emergency timelock.
func DefaultConfig() Config {
	return Config{
		MinBet:            1_000,
		MaxBet:            100_000_000,
		EmergencyTimelock: 30 * 24 * time.Hour,
	}
}

// Engine is the market ledger engine. It owns no state itself; markets and
// bets live in the injected stores, and value moves through the injected
// treasury. Construct independent engines over independent stores to get
// fully isolated ledgers.
type Engine struct {
	mu sync.Mutex

	cfg      Config
	markets  domain.MarketStore
	bets     domain.BetStore
	treasury domain.Treasury
	clock    domain.Clock
	logger   *slog.Logger
}

// New creates an Engine over the given stores and treasury. A nil clock
// defaults to the system clock.
func New(cfg Config, markets domain.MarketStore, bets domain.BetStore, treasury domain.Treasury, clock domain.Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = domain.SystemClock()
	}
	return &Engine{
		cfg:      cfg,
		markets:  markets,
		bets:     bets,
		treasury: treasury,
		clock:    clock,
		logger:   logger.With(slog.String("component", "engine")),
	}
}

// CreateMarket registers a new market and returns its sequential id. The
// first market ever created gets id 0.
func (e *Engine) CreateMarket(ctx context.Context, question string, duration time.Duration, creator string) (uint64, error) {
	if question == "" {
		return 0, fmt.Errorf("engine: create market: empty question: %w", domain.ErrInvalidArgument)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("engine: create market: non-positive duration %s: %w", duration, domain.ErrInvalidArgument)
	}
	if creator == "" {
		return 0, fmt.Errorf("engine: create market: empty creator: %w", domain.ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	count, err := e.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: create market: count: %w", err)
	}

	now := e.clock.Now()
	m := domain.Market{
		ID:        count,
		Question:  question,
		Creator:   creator,
		CreatedAt: now,
		EndTime:   now.Add(duration),
	}
	if err := e.markets.Create(ctx, m); err != nil {
		return 0, fmt.Errorf("engine: create market %d: %w", m.ID, err)
	}

	e.logger.InfoContext(ctx, "market created",
		slog.Uint64("market_id", m.ID),
		slog.String("creator", creator),
		slog.Time("end_time", m.EndTime),
	)
	return m.ID, nil
}

// Market returns a market by id, or ErrNotFound.
func (e *Engine) Market(ctx context.Context, id uint64) (domain.Market, error) {
	m, err := e.markets.Get(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: get market %d: %w", id, err)
	}
	return m, nil
}

// ListMarkets returns markets ordered by id with pagination.
func (e *Engine) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := e.markets.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("engine: list markets: %w", err)
	}
	return markets, nil
}

// TotalMarkets returns the number of markets ever created. Markets are never
// deleted, so this count only grows.
func (e *Engine) TotalMarkets(ctx context.Context) (uint64, error) {
	count, err := e.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: total markets: %w", err)
	}
	return count, nil
}

// PlaceBet records a bet on an open market and collects the stake into
// escrow. Stake collection and record creation are all-or-nothing: if the
// treasury refuses the stake no bet is recorded, and if the record cannot be
// written the stake is returned.
func (e *Engine) PlaceBet(ctx context.Context, marketID uint64, participant string, prediction bool, amount int64) error {
	if participant == "" {
		return fmt.Errorf("engine: place bet: empty participant: %w", domain.ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.markets.Get(ctx, marketID)
	if err != nil {
		return fmt.Errorf("engine: place bet on market %d: %w", marketID, err)
	}

	now := e.clock.Now()
	if m.Resolved {
		return fmt.Errorf("engine: place bet on market %d: %w", marketID, domain.ErrMarketResolved)
	}
	if !now.Before(m.EndTime) {
		return fmt.Errorf("engine: place bet on market %d: %w", marketID, domain.ErrMarketEnded)
	}
	if amount < e.cfg.MinBet || amount > e.cfg.MaxBet {
		return fmt.Errorf("engine: place bet on market %d: amount %d outside [%d, %d]: %w",
			marketID, amount, e.cfg.MinBet, e.cfg.MaxBet, domain.ErrInvalidArgument)
	}

	// Reject duplicates before touching the treasury so a failed attempt
	// never moves value.
	if _, err := e.bets.Get(ctx, marketID, participant); err == nil {
		return fmt.Errorf("engine: place bet on market %d: participant %s: %w",
			marketID, participant, domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("engine: place bet on market %d: %w", marketID, err)
	}

	if err := e.treasury.Collect(ctx, participant, amount); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return fmt.Errorf("engine: place bet on market %d: collect stake: %w", marketID, err)
		}
		return fmt.Errorf("engine: place bet on market %d: collect stake: %w: %v",
			marketID, domain.ErrTransferFailed, err)
	}

	bet := domain.Bet{
		MarketID:    marketID,
		Participant: participant,
		Amount:      amount,
		Prediction:  prediction,
		PlacedAt:    now,
	}
	if err := e.bets.Create(ctx, bet); err != nil {
		// Return the stake; the bet does not exist.
		if refundErr := e.treasury.Disburse(ctx, participant, amount); refundErr != nil {
			e.logger.ErrorContext(ctx, "stake refund failed after bet write failure",
				slog.Uint64("market_id", marketID),
				slog.String("participant", participant),
				slog.Int64("amount", amount),
				slog.String("error", refundErr.Error()),
			)
		}
		return fmt.Errorf("engine: place bet on market %d: %w", marketID, err)
	}

	if prediction {
		m.TotalYes += amount
	} else {
		m.TotalNo += amount
	}
	m.Escrow += amount
	if err := e.markets.Update(ctx, m); err != nil {
		return fmt.Errorf("engine: place bet on market %d: update totals: %w", marketID, err)
	}

	e.logger.InfoContext(ctx, "bet placed",
		slog.Uint64("market_id", marketID),
		slog.String("participant", participant),
		slog.Bool("prediction", prediction),
		slog.Int64("amount", amount),
	)
	return nil
}

// GetBet reports whether a bet exists for (marketID, participant) and, if so,
// whether it has been claimed. Absence is not an error.
func (e *Engine) GetBet(ctx context.Context, marketID uint64, participant string) (exists, claimed bool, err error) {
	b, err := e.bets.Get(ctx, marketID, participant)
	if errors.Is(err, domain.ErrNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("engine: get bet on market %d: %w", marketID, err)
	}
	return true, b.Claimed, nil
}

// Bet returns the full bet record for (marketID, participant), or
// ErrNotFound.
func (e *Engine) Bet(ctx context.Context, marketID uint64, participant string) (domain.Bet, error) {
	b, err := e.bets.Get(ctx, marketID, participant)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("engine: get bet on market %d: %w", marketID, err)
	}
	return b, nil
}

// ResolveMarket locks in the final outcome. Only the market's creator may
// resolve, only after the end time, and only once; the transition is
// irreversible.
func (e *Engine) ResolveMarket(ctx context.Context, marketID uint64, outcome bool, caller string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.markets.Get(ctx, marketID)
	if err != nil {
		return fmt.Errorf("engine: resolve market %d: %w", marketID, err)
	}
	if caller != m.Creator {
		return fmt.Errorf("engine: resolve market %d: caller %s is not the creator: %w",
			marketID, caller, domain.ErrUnauthorized)
	}
	if m.Resolved {
		return fmt.Errorf("engine: resolve market %d: %w", marketID, domain.ErrMarketResolved)
	}
	now := e.clock.Now()
	if now.Before(m.EndTime) {
		return fmt.Errorf("engine: resolve market %d: %w", marketID, domain.ErrMarketActive)
	}

	m.Resolved = true
	m.Outcome = outcome
	m.ResolvedAt = &now
	if err := e.markets.Update(ctx, m); err != nil {
		return fmt.Errorf("engine: resolve market %d: %w", marketID, err)
	}

	e.logger.InfoContext(ctx, "market resolved",
		slog.Uint64("market_id", marketID),
		slog.Bool("outcome", outcome),
	)
	return nil
}

// ClaimWinnings settles a winning bet. The payout is the stake scaled by the
// ratio of the whole pool to the winning side's pool, with integer division
// truncating toward zero so the escrow is never over-paid.
//
// The claimed flag and the escrow decrement are committed strictly before the
// treasury disbursal. A disbursal failure after that point is surfaced as
// ErrTransferFailed and is NOT rolled back: replay-safety over
// retry-friendliness. Such escrow is left to emergency recovery.
func (e *Engine) ClaimWinnings(ctx context.Context, marketID uint64, participant string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bet, err := e.bets.Get(ctx, marketID, participant)
	if err != nil {
		return 0, fmt.Errorf("engine: claim on market %d: %w", marketID, err)
	}
	m, err := e.markets.Get(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("engine: claim on market %d: %w", marketID, err)
	}

	if !m.Resolved {
		return 0, fmt.Errorf("engine: claim on market %d: %w", marketID, domain.ErrMarketNotResolved)
	}
	if bet.Claimed {
		return 0, fmt.Errorf("engine: claim on market %d: participant %s: %w",
			marketID, participant, domain.ErrAlreadyClaimed)
	}
	if bet.Prediction != m.Outcome {
		return 0, fmt.Errorf("engine: claim on market %d: participant %s: %w",
			marketID, participant, domain.ErrNotAWinner)
	}

	winning := m.WinningPool()
	if winning <= 0 {
		// Unreachable for a matching bet, but guards the division.
		return 0, fmt.Errorf("engine: claim on market %d: empty winning pool: %w",
			marketID, domain.ErrNotAWinner)
	}
	payout := proportionalPayout(bet.Amount, m.Pool(), winning)

	// State first, external effect last. Nothing below the disbursal may
	// mutate ledger state.
	if err := e.bets.SetClaimed(ctx, marketID, participant); err != nil {
		return 0, fmt.Errorf("engine: claim on market %d: mark claimed: %w", marketID, err)
	}
	m.Escrow -= payout
	if err := e.markets.Update(ctx, m); err != nil {
		return 0, fmt.Errorf("engine: claim on market %d: update escrow: %w", marketID, err)
	}

	if err := e.treasury.Disburse(ctx, participant, payout); err != nil {
		e.logger.ErrorContext(ctx, "payout transfer failed after claim was committed",
			slog.Uint64("market_id", marketID),
			slog.String("participant", participant),
			slog.Int64("payout", payout),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("engine: claim on market %d: payout: %w: %v",
			marketID, domain.ErrTransferFailed, err)
	}

	e.logger.InfoContext(ctx, "winnings claimed",
		slog.Uint64("market_id", marketID),
		slog.String("participant", participant),
		slog.Int64("payout", payout),
	)
	return payout, nil
}

// EmergencyWithdraw sweeps a resolved market's remaining escrow to its
// creator once the post-resolution timelock has expired. It ignores
// individual bets; it is a blunt last-resort path for escrow stranded by
// failed payouts, empty winning pools, or truncation residue.
func (e *Engine) EmergencyWithdraw(ctx context.Context, marketID uint64, caller string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.markets.Get(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("engine: emergency withdraw market %d: %w", marketID, err)
	}
	if caller != m.Creator {
		return 0, fmt.Errorf("engine: emergency withdraw market %d: caller %s is not the creator: %w",
			marketID, caller, domain.ErrUnauthorized)
	}
	if !m.Resolved || m.ResolvedAt == nil {
		return 0, fmt.Errorf("engine: emergency withdraw market %d: %w", marketID, domain.ErrMarketNotResolved)
	}
	now := e.clock.Now()
	if now.Before(m.ResolvedAt.Add(e.cfg.EmergencyTimelock)) {
		return 0, fmt.Errorf("engine: emergency withdraw market %d: %w", marketID, domain.ErrTimelockActive)
	}

	remaining := m.Escrow
	if remaining <= 0 {
		return 0, nil
	}

	m.Escrow = 0
	if err := e.markets.Update(ctx, m); err != nil {
		return 0, fmt.Errorf("engine: emergency withdraw market %d: update escrow: %w", marketID, err)
	}

	if err := e.treasury.Disburse(ctx, m.Creator, remaining); err != nil {
		e.logger.ErrorContext(ctx, "emergency transfer failed after escrow was zeroed",
			slog.Uint64("market_id", marketID),
			slog.Int64("amount", remaining),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("engine: emergency withdraw market %d: %w: %v",
			marketID, domain.ErrTransferFailed, err)
	}

	e.logger.WarnContext(ctx, "emergency withdrawal",
		slog.Uint64("market_id", marketID),
		slog.String("creator", m.Creator),
		slog.Int64("amount", remaining),
	)
	return remaining, nil
}

// proportionalPayout computes amount * pool / winning in 128-bit space so the
// intermediate product cannot overflow int64. The quotient itself never
// exceeds the pool, which fits.
func proportionalPayout(amount, pool, winning int64) int64 {
	p := new(big.Int).Mul(big.NewInt(amount), big.NewInt(pool))
	p.Quo(p, big.NewInt(winning))
	return p.Int64()
}
