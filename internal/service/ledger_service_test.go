package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketledger/internal/domain"
	"github.com/alanyoungcy/marketledger/internal/engine"
	"github.com/alanyoungcy/marketledger/internal/store/memory"
	"github.com/alanyoungcy/marketledger/internal/treasury"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[uint64]domain.Market
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[uint64]domain.Market)}
}

func (c *fakeCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[m.ID] = m
	return nil
}

func (c *fakeCache) Get(_ context.Context, id uint64) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *fakeCache) Invalidate(_ context.Context, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

func (c *fakeCache) has(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

type fakeBus struct {
	mu        sync.Mutex
	published [][]byte
	streamed  [][]byte
}

func (b *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed = append(b.streamed, payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.StreamMessage, len(b.streamed))
	for i, p := range b.streamed {
		out[i] = domain.StreamMessage{ID: "0-0", Payload: p}
	}
	return out, nil
}

func (b *fakeBus) events(t *testing.T) []domain.LedgerEvent {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.LedgerEvent, len(b.published))
	for i, p := range b.published {
		require.NoError(t, json.Unmarshal(p, &out[i]))
	}
	return out
}

type fakeAlerter struct {
	resolved  []uint64
	withdrawn []uint64
}

func (a *fakeAlerter) MarketResolved(_ context.Context, m domain.Market) error {
	a.resolved = append(a.resolved, m.ID)
	return nil
}

func (a *fakeAlerter) EmergencyWithdrawal(_ context.Context, m domain.Market, _ int64) error {
	a.withdrawn = append(a.withdrawn, m.ID)
	return nil
}

type fixture struct {
	svc     *LedgerService
	clock   *fakeClock
	cache   *fakeCache
	bus     *fakeBus
	audit   *memory.AuditStore
	alerter *fakeAlerter
	funds   *treasury.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	funds := treasury.NewLedger()
	for _, account := range []string{"alice", "bob", "creator"} {
		require.NoError(t, funds.Deposit(account, 1_000_000_000))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(engine.DefaultConfig(), memory.NewMarketStore(), memory.NewBetStore(), funds, clock, logger)

	cache := newFakeCache()
	bus := &fakeBus{}
	audit := memory.NewAuditStore()
	alerter := &fakeAlerter{}

	return &fixture{
		svc:     NewLedgerService(eng, cache, bus, audit, alerter, logger),
		clock:   clock,
		cache:   cache,
		bus:     bus,
		audit:   audit,
		alerter: alerter,
		funds:   funds,
	}
}

func TestCreateMarketPublishesAndAudits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.CreateMarket(ctx, "Will it ship by Friday?", time.Hour, "creator")
	require.NoError(t, err)
	require.Equal(t, uint64(0), id)

	events := f.bus.events(t)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventMarketCreated, events[0].Type)
	require.Equal(t, id, events[0].MarketID)
	require.NotEmpty(t, events[0].ID)

	entries, err := f.svc.AuditTrail(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, domain.EventMarketCreated, entries[0].Event)
}

func TestGetMarketBackfillsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.CreateMarket(ctx, "cached?", time.Hour, "creator")
	require.NoError(t, err)
	require.False(t, f.cache.has(id))

	m, err := f.svc.GetMarket(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "cached?", m.Question)
	require.True(t, f.cache.has(id))

	// Second read comes from the cache.
	m2, err := f.svc.GetMarket(ctx, id)
	require.NoError(t, err)
	require.Equal(t, m, m2)
}

func TestPlaceBetInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.CreateMarket(ctx, "invalidated?", time.Hour, "creator")
	require.NoError(t, err)

	_, err = f.svc.GetMarket(ctx, id)
	require.NoError(t, err)
	require.True(t, f.cache.has(id))

	require.NoError(t, f.svc.PlaceBet(ctx, id, "alice", true, 500_000))
	require.False(t, f.cache.has(id))

	events := f.bus.events(t)
	require.Len(t, events, 2)
	require.Equal(t, domain.EventBetPlaced, events[1].Type)
	require.Equal(t, "alice", events[1].Participant)
	require.Equal(t, int64(500_000), events[1].Amount)
}

func TestFullLifecycleEventsAndAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.CreateMarket(ctx, "lifecycle?", time.Hour, "creator")
	require.NoError(t, err)
	require.NoError(t, f.svc.PlaceBet(ctx, id, "alice", true, 1_000_000))
	require.NoError(t, f.svc.PlaceBet(ctx, id, "bob", false, 1_000_000))

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.svc.ResolveMarket(ctx, id, true, "creator"))
	require.Equal(t, []uint64{id}, f.alerter.resolved)

	payout, err := f.svc.ClaimWinnings(ctx, id, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(2_000_000), payout)

	// Losing claim surfaces the engine error untouched.
	_, err = f.svc.ClaimWinnings(ctx, id, "bob")
	require.ErrorIs(t, err, domain.ErrNotAWinner)

	f.clock.Advance(31 * 24 * time.Hour)
	amount, err := f.svc.EmergencyWithdraw(ctx, id, "creator")
	require.NoError(t, err)
	require.Zero(t, amount)
	// A zero-value sweep raises no alert.
	require.Empty(t, f.alerter.withdrawn)

	types := make([]string, 0)
	for _, ev := range f.bus.events(t) {
		types = append(types, ev.Type)
	}
	require.Equal(t, []string{
		domain.EventMarketCreated,
		domain.EventBetPlaced,
		domain.EventBetPlaced,
		domain.EventMarketResolved,
		domain.EventWinningsClaimed,
	}, types)

	history, err := f.svc.EventHistory(ctx, "0", 100)
	require.NoError(t, err)
	require.Len(t, history, 5)
}

func TestEmergencyWithdrawAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.CreateMarket(ctx, "stranded escrow?", time.Hour, "creator")
	require.NoError(t, err)
	require.NoError(t, f.svc.PlaceBet(ctx, id, "alice", true, 1_000_000))

	f.clock.Advance(2 * time.Hour)
	// Resolve NO with no NO bets: the whole escrow is stranded.
	require.NoError(t, f.svc.ResolveMarket(ctx, id, false, "creator"))

	f.clock.Advance(31 * 24 * time.Hour)
	amount, err := f.svc.EmergencyWithdraw(ctx, id, "creator")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), amount)
	require.Equal(t, []uint64{id}, f.alerter.withdrawn)

	events := f.bus.events(t)
	last := events[len(events)-1]
	require.Equal(t, domain.EventEmergencyWithdrawal, last.Type)
	require.Equal(t, int64(1_000_000), last.Amount)
}

func TestNilOptionalDependencies(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	funds := treasury.NewLedger()
	require.NoError(t, funds.Deposit("alice", 10_000_000))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(engine.DefaultConfig(), memory.NewMarketStore(), memory.NewBetStore(), funds, clock, logger)
	svc := NewLedgerService(eng, nil, nil, nil, nil, logger)

	ctx := context.Background()
	id, err := svc.CreateMarket(ctx, "bare?", time.Hour, "alice")
	require.NoError(t, err)
	require.NoError(t, svc.PlaceBet(ctx, id, "alice", true, 100_000))

	entries, err := svc.AuditTrail(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Empty(t, entries)

	history, err := svc.EventHistory(ctx, "0", 10)
	require.NoError(t, err)
	require.Empty(t, history)
}
