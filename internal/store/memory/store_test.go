package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketledger/internal/domain"
	"github.com/alanyoungcy/marketledger/internal/store/memory"
)

func TestMarketStoreCRUD(t *testing.T) {
	s := memory.NewMarketStore()
	ctx := context.Background()
	now := time.Now().UTC()

	m := domain.Market{ID: 0, Question: "Q", Creator: "creator", CreatedAt: now, EndTime: now.Add(time.Hour)}
	require.NoError(t, s.Create(ctx, m))

	err := s.Create(ctx, m)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	got, err := s.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = s.Get(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	m.TotalYes = 500
	require.NoError(t, s.Update(ctx, m))
	got, err = s.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.TotalYes)

	err = s.Update(ctx, domain.Market{ID: 9})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestMarketStoreListOrderAndPagination(t *testing.T) {
	s := memory.NewMarketStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := uint64(0); i < 5; i++ {
		require.NoError(t, s.Create(ctx, domain.Market{ID: i, Question: "Q", CreatedAt: now}))
	}

	all, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, m := range all {
		assert.Equal(t, uint64(i), m.ID, "ordered by id")
	}

	page, err := s.List(ctx, domain.ListOpts{Limit: 2, Offset: 3})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(3), page[0].ID)

	empty, err := s.List(ctx, domain.ListOpts{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMarketStoreListResolvedBefore(t *testing.T) {
	s := memory.NewMarketStore()
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	old := base.Add(-48 * time.Hour)
	recent := base.Add(-time.Hour)

	require.NoError(t, s.Create(ctx, domain.Market{ID: 0, Resolved: true, ResolvedAt: &old}))
	require.NoError(t, s.Create(ctx, domain.Market{ID: 1, Resolved: true, ResolvedAt: &recent}))
	require.NoError(t, s.Create(ctx, domain.Market{ID: 2}))

	got, err := s.ListResolvedBefore(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(0), got[0].ID)
}

func TestBetStore(t *testing.T) {
	s := memory.NewBetStore()
	ctx := context.Background()

	b := domain.Bet{MarketID: 0, Participant: "alice", Amount: 100, Prediction: true, PlacedAt: time.Now()}
	require.NoError(t, s.Create(ctx, b))

	err := s.Create(ctx, b)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	got, err := s.Get(ctx, 0, "alice")
	require.NoError(t, err)
	assert.False(t, got.Claimed)

	_, err = s.Get(ctx, 0, "bob")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.SetClaimed(ctx, 0, "alice"))
	got, err = s.Get(ctx, 0, "alice")
	require.NoError(t, err)
	assert.True(t, got.Claimed)

	err = s.SetClaimed(ctx, 0, "bob")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Create(ctx, domain.Bet{MarketID: 0, Participant: "bob", Amount: 50}))
	require.NoError(t, s.Create(ctx, domain.Bet{MarketID: 1, Participant: "carol", Amount: 70}))

	bets, err := s.ListByMarket(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, bets, 2)
}

func TestAuditStore(t *testing.T) {
	s := memory.NewAuditStore()
	ctx := context.Background()

	require.NoError(t, s.Log(ctx, "market_created", map[string]any{"market_id": 0}))
	require.NoError(t, s.Log(ctx, "bet_placed", map[string]any{"market_id": 0}))

	entries, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bet_placed", entries[0].Event, "newest first")

	limited, err := s.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
