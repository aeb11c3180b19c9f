// Package memory implements the domain store interfaces with in-process
// maps. It backs tests and the standalone (database-free) run mode; each
// Store is fully independent, so tests can spin up isolated ledgers.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// MarketStore implements domain.MarketStore in memory.
type MarketStore struct {
	mu      sync.RWMutex
	markets map[uint64]domain.Market
}

// NewMarketStore creates an empty in-memory MarketStore.
func NewMarketStore() *MarketStore {
	return &MarketStore{markets: make(map[uint64]domain.Market)}
}

// Create stores a new market record.
func (s *MarketStore) Create(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("memory: market %d: %w", m.ID, domain.ErrAlreadyExists)
	}
	s.markets[m.ID] = m
	return nil
}

// Get returns the market with the given id.
func (s *MarketStore) Get(_ context.Context, id uint64) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market %d: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// Update overwrites an existing market record.
func (s *MarketStore) Update(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; !ok {
		return fmt.Errorf("memory: market %d: %w", m.ID, domain.ErrNotFound)
	}
	s.markets[m.ID] = m
	return nil
}

// List returns markets ordered by id with pagination and optional
// creation-time filtering.
func (s *MarketStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if opts.Since != nil && m.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && m.CreatedAt.After(*opts.Until) {
			continue
		}
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if opts.Offset > 0 {
		if opts.Offset >= len(all) {
			return nil, nil
		}
		all = all[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, nil
}

// Count returns the number of markets ever created.
func (s *MarketStore) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.markets)), nil
}

// ListResolvedBefore returns markets resolved strictly before the cutoff,
// ordered by id.
func (s *MarketStore) ListResolvedBefore(_ context.Context, before time.Time) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Market
	for _, m := range s.markets {
		if m.Resolved && m.ResolvedAt != nil && m.ResolvedAt.Before(before) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)

type betKey struct {
	marketID    uint64
	participant string
}

// BetStore implements domain.BetStore in memory.
type BetStore struct {
	mu   sync.RWMutex
	bets map[betKey]domain.Bet
}

// NewBetStore creates an empty in-memory BetStore.
func NewBetStore() *BetStore {
	return &BetStore{bets: make(map[betKey]domain.Bet)}
}

// Create stores a new bet; at most one per (market, participant).
func (s *BetStore) Create(_ context.Context, b domain.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := betKey{b.MarketID, b.Participant}
	if _, ok := s.bets[k]; ok {
		return fmt.Errorf("memory: bet %d/%s: %w", b.MarketID, b.Participant, domain.ErrAlreadyExists)
	}
	s.bets[k] = b
	return nil
}

// Get returns the bet for (marketID, participant).
func (s *BetStore) Get(_ context.Context, marketID uint64, participant string) (domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bets[betKey{marketID, participant}]
	if !ok {
		return domain.Bet{}, fmt.Errorf("memory: bet %d/%s: %w", marketID, participant, domain.ErrNotFound)
	}
	return b, nil
}

// SetClaimed marks the bet as claimed.
func (s *BetStore) SetClaimed(_ context.Context, marketID uint64, participant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := betKey{marketID, participant}
	b, ok := s.bets[k]
	if !ok {
		return fmt.Errorf("memory: bet %d/%s: %w", marketID, participant, domain.ErrNotFound)
	}
	b.Claimed = true
	s.bets[k] = b
	return nil
}

// ListByMarket returns every bet on the market, ordered by placement time
// then participant for a stable ordering.
func (s *BetStore) ListByMarket(_ context.Context, marketID uint64) ([]domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Bet
	for k, b := range s.bets {
		if k.marketID == marketID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].PlacedAt.Before(out[j].PlacedAt)
		}
		return out[i].Participant < out[j].Participant
	})
	return out, nil
}

var _ domain.BetStore = (*BetStore)(nil)

// AuditStore implements domain.AuditStore in memory.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	nextID  int64
}

// NewAuditStore creates an empty in-memory AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{nextID: 1}
}

// Log appends an audit entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.nextID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	s.nextID++
	return nil
}

// List returns audit entries, newest first, with pagination.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
