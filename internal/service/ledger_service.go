package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketledger/internal/domain"
	"github.com/alanyoungcy/marketledger/internal/engine"
)

// Alerter receives operator alerts for notable ledger events. Implemented by
// notify.Notifier; nil disables alerting.
type Alerter interface {
	MarketResolved(ctx context.Context, m domain.Market) error
	EmergencyWithdrawal(ctx context.Context, m domain.Market, amount int64) error
}

// LedgerService wraps the ledger engine with the surrounding plumbing: cache
// maintenance, event publication on the signal bus, audit logging, and
// operator alerts. The engine owns correctness; everything this layer adds is
// best-effort and never blocks a committed mutation.
type LedgerService struct {
	engine  *engine.Engine
	cache   domain.MarketCache
	bus     domain.SignalBus
	audit   domain.AuditStore
	alerter Alerter
	logger  *slog.Logger
}

// NewLedgerService creates a LedgerService. cache, bus, audit, and alerter
// may each be nil to disable that concern.
func NewLedgerService(
	eng *engine.Engine,
	cache domain.MarketCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	alerter Alerter,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		engine:  eng,
		cache:   cache,
		bus:     bus,
		audit:   audit,
		alerter: alerter,
		logger:  logger.With(slog.String("component", "ledger_service")),
	}
}

// CreateMarket registers a new market and returns its id.
func (s *LedgerService) CreateMarket(ctx context.Context, question string, duration time.Duration, creator string) (uint64, error) {
	id, err := s.engine.CreateMarket(ctx, question, duration, creator)
	if err != nil {
		return 0, err
	}

	s.publishEvent(ctx, domain.LedgerEvent{
		Type:     domain.EventMarketCreated,
		MarketID: id,
	})
	s.auditLog(ctx, domain.EventMarketCreated, map[string]any{
		"market_id": id,
		"creator":   creator,
		"question":  question,
	})
	return id, nil
}

// GetMarket retrieves a market by id, checking the cache first and falling
// back to the engine on a miss.
func (s *LedgerService) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := s.engine.Market(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}

	// Back-fill cache; log but do not fail on cache write errors.
	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.Uint64("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// ListMarkets returns markets ordered by id with pagination.
func (s *LedgerService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return s.engine.ListMarkets(ctx, opts)
}

// TotalMarkets returns the number of markets ever created.
func (s *LedgerService) TotalMarkets(ctx context.Context) (uint64, error) {
	return s.engine.TotalMarkets(ctx)
}

// PlaceBet records a bet and collects the stake into escrow.
func (s *LedgerService) PlaceBet(ctx context.Context, marketID uint64, participant string, prediction bool, amount int64) error {
	if err := s.engine.PlaceBet(ctx, marketID, participant, prediction, amount); err != nil {
		return err
	}

	s.invalidate(ctx, marketID)
	s.publishEvent(ctx, domain.LedgerEvent{
		Type:        domain.EventBetPlaced,
		MarketID:    marketID,
		Participant: participant,
		Amount:      amount,
		Outcome:     &prediction,
	})
	s.auditLog(ctx, domain.EventBetPlaced, map[string]any{
		"market_id":   marketID,
		"participant": participant,
		"prediction":  prediction,
		"amount":      amount,
	})
	return nil
}

// GetBet reports whether a bet exists and whether it has been claimed.
func (s *LedgerService) GetBet(ctx context.Context, marketID uint64, participant string) (exists, claimed bool, err error) {
	return s.engine.GetBet(ctx, marketID, participant)
}

// Bet returns the full bet record, or ErrNotFound.
func (s *LedgerService) Bet(ctx context.Context, marketID uint64, participant string) (domain.Bet, error) {
	return s.engine.Bet(ctx, marketID, participant)
}

// ResolveMarket locks in the final outcome.
func (s *LedgerService) ResolveMarket(ctx context.Context, marketID uint64, outcome bool, caller string) error {
	if err := s.engine.ResolveMarket(ctx, marketID, outcome, caller); err != nil {
		return err
	}

	s.invalidate(ctx, marketID)
	s.publishEvent(ctx, domain.LedgerEvent{
		Type:     domain.EventMarketResolved,
		MarketID: marketID,
		Outcome:  &outcome,
	})
	s.auditLog(ctx, domain.EventMarketResolved, map[string]any{
		"market_id": marketID,
		"outcome":   outcome,
		"caller":    caller,
	})

	if s.alerter != nil {
		if m, err := s.engine.Market(ctx, marketID); err == nil {
			if alertErr := s.alerter.MarketResolved(ctx, m); alertErr != nil {
				s.logger.WarnContext(ctx, "resolution alert failed",
					slog.Uint64("market_id", marketID),
					slog.String("error", alertErr.Error()),
				)
			}
		}
	}
	return nil
}

// ClaimWinnings settles a winning bet and returns the payout.
func (s *LedgerService) ClaimWinnings(ctx context.Context, marketID uint64, participant string) (int64, error) {
	payout, err := s.engine.ClaimWinnings(ctx, marketID, participant)
	if err != nil {
		return 0, err
	}

	s.invalidate(ctx, marketID)
	s.publishEvent(ctx, domain.LedgerEvent{
		Type:        domain.EventWinningsClaimed,
		MarketID:    marketID,
		Participant: participant,
		Amount:      payout,
	})
	s.auditLog(ctx, domain.EventWinningsClaimed, map[string]any{
		"market_id":   marketID,
		"participant": participant,
		"payout":      payout,
	})
	return payout, nil
}

// EmergencyWithdraw sweeps a resolved market's remaining escrow to its
// creator after the timelock.
func (s *LedgerService) EmergencyWithdraw(ctx context.Context, marketID uint64, caller string) (int64, error) {
	amount, err := s.engine.EmergencyWithdraw(ctx, marketID, caller)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, nil
	}

	s.invalidate(ctx, marketID)
	s.publishEvent(ctx, domain.LedgerEvent{
		Type:        domain.EventEmergencyWithdrawal,
		MarketID:    marketID,
		Participant: caller,
		Amount:      amount,
	})
	s.auditLog(ctx, domain.EventEmergencyWithdrawal, map[string]any{
		"market_id": marketID,
		"caller":    caller,
		"amount":    amount,
	})

	if s.alerter != nil {
		if m, err := s.engine.Market(ctx, marketID); err == nil {
			if alertErr := s.alerter.EmergencyWithdrawal(ctx, m, amount); alertErr != nil {
				s.logger.WarnContext(ctx, "emergency alert failed",
					slog.Uint64("market_id", marketID),
					slog.String("error", alertErr.Error()),
				)
			}
		}
	}
	return amount, nil
}

// AuditTrail returns recent audit entries, newest first.
func (s *LedgerService) AuditTrail(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if s.audit == nil {
		return nil, nil
	}
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: audit trail: %w", err)
	}
	return entries, nil
}

// EventHistory replays durable ledger events from the stream after lastID.
func (s *LedgerService) EventHistory(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if s.bus == nil {
		return nil, nil
	}
	msgs, err := s.bus.StreamRead(ctx, domain.LedgerStream, lastID, count)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: event history: %w", err)
	}
	return msgs, nil
}

// publishEvent stamps, encodes, and publishes a ledger event on the live
// channel and the durable stream. Publication failures are logged, not
// returned: the mutation has already committed.
func (s *LedgerService) publishEvent(ctx context.Context, ev domain.LedgerEvent) {
	if s.bus == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.At = time.Now().UTC()

	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "event marshal failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.bus.Publish(ctx, domain.LedgerChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.LedgerStream, payload); err != nil {
		s.logger.WarnContext(ctx, "event stream append failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}

// auditLog records a committed mutation in the audit store. Failures are
// logged, not returned.
func (s *LedgerService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// invalidate drops the cached copy of a market after a mutation.
func (s *LedgerService) invalidate(ctx context.Context, marketID uint64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, marketID); err != nil {
		s.logger.WarnContext(ctx, "cache invalidate failed",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}
