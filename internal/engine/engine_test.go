package engine_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketledger/internal/domain"
	"github.com/alanyoungcy/marketledger/internal/engine"
	"github.com/alanyoungcy/marketledger/internal/store/memory"
	"github.com/alanyoungcy/marketledger/internal/treasury"
)

const (
	alice   = "alice"
	bob     = "bob"
	carol   = "carol"
	creator = "creator"

	week = 7 * 24 * time.Hour
)

// fakeClock is a manually-advanced clock so tests can cross end times and
// timelocks without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
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

// faultyTreasury wraps a Ledger and can be told to fail disbursals, to
// exercise the committed-claim-then-failed-transfer path.
type faultyTreasury struct {
	*treasury.Ledger
	failDisburse bool
}

func (f *faultyTreasury) Disburse(ctx context.Context, to string, amount int64) error {
	if f.failDisburse {
		return domain.ErrTransferFailed
	}
	return f.Ledger.Disburse(ctx, to, amount)
}

type fixture struct {
	engine  *engine.Engine
	markets *memory.MarketStore
	bets    *memory.BetStore
	ledger  *treasury.Ledger
	faulty  *faultyTreasury
	clock   *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	markets := memory.NewMarketStore()
	bets := memory.NewBetStore()
	ledger := treasury.NewLedger()
	faulty := &faultyTreasury{Ledger: ledger}
	clock := newFakeClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng := engine.New(engine.DefaultConfig(), markets, bets, faulty, clock, logger)

	// Seed spendable balances.
	for _, acct := range []string{alice, bob, carol, creator} {
		require.NoError(t, ledger.Deposit(acct, 1_000_000_000))
	}

	return &fixture{
		engine:  eng,
		markets: markets,
		bets:    bets,
		ledger:  ledger,
		faulty:  faulty,
		clock:   clock,
	}
}

// newMarket creates a market with a one-week window and returns its id.
func (f *fixture) newMarket(t *testing.T) uint64 {
	t.Helper()
	id, err := f.engine.CreateMarket(context.Background(), "Will X happen?", week, creator)
	require.NoError(t, err)
	return id
}

func TestCreateMarket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.engine.CreateMarket(ctx, "Will X happen?", week, creator)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id, "first market id should be 0")

	total, err := f.engine.TotalMarkets(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)

	m, err := f.engine.Market(ctx, id)
	require.NoError(t, err)
	assert.False(t, m.Resolved)
	assert.Equal(t, "Will X happen?", m.Question)
	assert.Equal(t, creator, m.Creator)
	assert.Equal(t, m.CreatedAt.Add(week), m.EndTime)
	assert.Zero(t, m.TotalYes)
	assert.Zero(t, m.TotalNo)
	assert.Equal(t, domain.MarketStateOpen, m.State(f.clock.Now()))
}

func TestCreateMarketSequentialIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for want := uint64(0); want < 5; want++ {
		id, err := f.engine.CreateMarket(ctx, "Q", time.Hour, creator)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
}

func TestCreateMarketInvalidArguments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateMarket(ctx, "", week, creator)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument, "empty question")

	_, err = f.engine.CreateMarket(ctx, "Q", 0, creator)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument, "zero duration")

	_, err = f.engine.CreateMarket(ctx, "Q", -time.Hour, creator)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument, "negative duration")

	total, err := f.engine.TotalMarkets(ctx)
	require.NoError(t, err)
	assert.Zero(t, total, "failed creations must not allocate ids")
}

func TestGetMarketNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Market(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlaceBet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newMarket(t)

	before := f.ledger.Balance(alice)
	require.NoError(t, f.engine.PlaceBet(ctx, id, alice, true, 100_000))

	exists, claimed, err := f.engine.GetBet(ctx, id, alice)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.False(t, claimed)

	m, err := f.engine.Market(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), m.TotalYes)
	assert.Zero(t, m.TotalNo)
	assert.Equal(t, int64(100_000), m.Escrow)

	assert.Equal(t, before-100_000, f.ledger.Balance(alice), "stake moved into escrow")
	assert.Equal(t, int64(100_000), f.ledger.Escrow())
}

func TestPlaceBetNoSide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newMarket(t)

	require.NoError(t, f.engine.PlaceBet(ctx, id, bob, false, 250_000))

	m, err := f.engine.Market(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, m.TotalYes)
	assert.Equal(t, int64(250_000), m.TotalNo)
}

func TestPlaceBetDuplicateRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newMarket(t)

	require.NoError(t, f.engine.PlaceBet(ctx, id, alice, true, 100_000))

	err := f.engine.PlaceBet(ctx, id, alice, false, 200_000)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	// The rejected bet must not have moved value or touched the totals.
	m, err := f.engine.Market(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), m.Pool())
	assert.Equal(t, int64(100_000), f.ledger.Escrow())
}

func TestPlaceBetAmountBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newMarket(t)
	cfg := engine.DefaultConfig()

	err := f.engine.PlaceBet(ctx, id, alice, true, cfg.MinBet-1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument, "below minimum")

	err = f.engine.PlaceBet(ctx, id, alice, true, cfg.MaxBet+1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument, "above maximum")

	require.NoError(t, f.engine.PlaceBet(ctx, id, alice, true, cfg.MinBet), "minimum is inclusive")
	require.NoError(t, f.engine.PlaceBet(ctx, id, bob, true, cfg.MaxBet), "maximum is inclusive")
}

func TestPlaceBetMarketLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.engine.PlaceBet(ctx, 9, alice, true, 100_000)
	assert.ErrorIs(t, err, domain.ErrNotFound, "unknown market")

	id := f.newMarket(t)
	f.clock.Advance(week)

	err = f.engine.PlaceBet(ctx, id, alice, true, 100_000)
	assert.ErrorIs(t, err, domain.ErrMarketEnded, "betting closes exactly at the end time")

	require.NoError(t, f.engine.ResolveMarket(ctx, id, true, creator))
	err = f.engine.PlaceBet(ctx, id, bob, true, 100_000)
	assert.ErrorIs(t, err, domain.ErrMarketResolved)
}

func TestPlaceBetInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newMarket(t)

	// dave has no balance.
	err := f.engine.PlaceBet(ctx, id, "dave", true, 100_000)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	exists, _, err := f.engine.GetBet(ctx, id, "dave")
	require.NoError(t, err)
	assert.False(t, exists, "failed funding must leave no bet record")

	m, err := f.engine.Market(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, m.Pool())
}

func TestGetBetAbsent(t *testing.T) {
	f := newFixture(t)
	id := f.newMarket(t)

	exists, claimed, err := f.engine.GetBet(context.Background(), id, alice)
	require.NoError(t, err, "absence is not an error")
	assert.False(t, exists)
	assert.False(t, claimed)
}

func TestResolveMarket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newMarket(t)

	err := f.engine.ResolveMarket(ctx, id, true, creator)
	assert.ErrorIs(t, err, domain.ErrMarketActive, "cannot resolve before end time")

	f.clock.Advance(week)

	err = f.engine.ResolveMarket(ctx, id, true, alice)
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "only the creator resolves")

	require.NoError(t, f.engine.ResolveMarket(ctx, id, true, creator))

	m, err := f.engine.Market(ctx, id)
	require.NoError(t, err)
	assert.True(t, m.Resolved)
	assert.True(t, m.Outcome)
	require.NotNil(t, m.ResolvedAt)
	assert.Equal(t, domain.MarketStateResolved, m.State(f.clock.Now()))

	err = f.engine.ResolveMarket(ctx, id, false, creator)
	assert.ErrorIs(t, err, domain.ErrMarketResolved, "resolution is monotone")

	// The first outcome sticks.
	m, err = f.engine.Market(ctx, id)
	require.NoError(t, err)
	assert.True(t, m.Outcome)
}

func TestResolveMarketNotFound(t *testing.T) {
	f := newFixture(t)

	err := f.engine.ResolveMarket(context.Background(), 7, true, creator)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaimWinningsProportionalPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newMarket(t)

	// Yes pool 400k (alice 100k, bob 300k), no pool 400k (carol).
	require.NoError(t, f.engine.PlaceBet(ctx, id, alice, true, 100_000))
	require.NoError(t, f.engine.PlaceBet(ctx, id, bob, true, 300_000))
	require.NoError(t, f.engine.PlaceBet(ctx, id, carol, false, 400_000))

	f.clock.Advance(week)
	require.NoError(t, f.engine.ResolveMarket(ctx, id, true, creator))

	// payout = stake * pool / winningSide = stake * 800k / 400k = 2x stake.
	payout, err := f.engine.ClaimWinnings(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(200_000), payout)

	payout, err = f.engine.ClaimWinnings(ctx, id, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), payout)

	_, err = f.engine.ClaimWinnings(ctx, id, carol)
	assert.ErrorIs(t, err, domain.ErrNotAWinner)

	m, err := f.engine.Market(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, m.Escrow, "pool fully paid out")
}

func TestClaimWinningsSingleClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newMarket(t)

	require.NoError(t, f.engine.PlaceBet(ctx, id, alice, true, 100_000))
	f.clock.Advance(week)
	require.NoError(t, f.engine.ResolveMarket(ctx, id, true, creator))

	_, err := f.engine.ClaimWinnings(ctx, id, alice)
	require.NoError(t, err)

	exists, claimed, err := f.engine.GetBet(ctx, id, alice)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.True(t, claimed)

	_, err = f.engine.ClaimWinnings(ctx, id, alice)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestClaimWinningsGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newMarket(t)

	_, err := f.engine.ClaimWinnings(ctx, id, alice)
	assert.ErrorIs(t, err, domain.ErrNotFound, "no bet recorded")

	require.NoError(t, f.engine.PlaceBet(ctx, id, alice, true, 100_000))

	_, err = f.engine.ClaimWinnings(ctx, id, alice)
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)
}

func TestClaimWinningsTruncationFavorsEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newMarket(t)

	// Three equal winners over an indivisible pool: each payout truncates,
	// leaving residue in escrow.
	require.NoError(t, f.engine.PlaceBet(ctx, id, alice, true, 100_000))
	require.NoError(t, f.engine.PlaceBet(ctx, id, bob, true, 100_000))
	require.NoError(t, f.engine.PlaceBet(ctx, id, carol, true, 100_000))
	require.NoError(t, f.engine.PlaceBet(ctx, id, creator, false, 100_000))

	f.clock.Advance(week)
	require.NoError(t, f.engine.ResolveMarket(ctx, id, true, creator))

	var sum int64
	for _, p := range []string{alice, bob, carol} {
		payout, err := f.engine.ClaimWinnings(ctx, id, p)
		require.NoError(t, err)
		assert.Equal(t, int64(133_333), payout, "100000*400000/300000 truncated")
		sum += payout
	}

	m, err := f.engine.Market(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(400_000)-sum, m.Escrow)
	assert.Equal(t, int64(1), m.Escrow, "truncation residue stays in escrow")
}

func TestClaimTransferFailureIsNotRolledBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newMarket(t)

	require.NoError(t, f.engine.PlaceBet(ctx, id, alice, true, 100_000))
	f.clock.Advance(week)
	require.NoError(t, f.engine.ResolveMarket(ctx, id, true, creator))

	f.faulty.failDisburse = true
	_, err := f.engine.ClaimWinnings(ctx, id, alice)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)

	// The claimed flag was committed before the transfer and stays set.
	_, claimed, err := f.engine.GetBet(ctx, id, alice)
	require.NoError(t, err)
	assert.True(t, claimed)

	f.faulty.failDisburse = false
	_, err = f.engine.ClaimWinnings(ctx, id, alice)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed, "no retry after a committed claim")
}

func TestEmptyWinningPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newMarket(t)

	// Everyone bet no; the market resolves yes.
	require.NoError(t, f.engine.PlaceBet(ctx, id, alice, false, 100_000))
	require.NoError(t, f.engine.PlaceBet(ctx, id, bob, false, 200_000))

	f.clock.Advance(week)
	require.NoError(t, f.engine.ResolveMarket(ctx, id, true, creator))

	_, err := f.engine.ClaimWinnings(ctx, id, alice)
	assert.ErrorIs(t, err, domain.ErrNotAWinner)
	_, err = f.engine.ClaimWinnings(ctx, id, bob)
	assert.ErrorIs(t, err, domain.ErrNotAWinner)

	// The stranded escrow is only reachable through emergency recovery.
	f.clock.Advance(engine.DefaultConfig().EmergencyTimelock)
	recovered, err := f.engine.EmergencyWithdraw(ctx, id, creator)
	require.NoError(t, err)
	assert.Equal(t, int64(300_000), recovered)
}

func TestEmergencyWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newMarket(t)

	require.NoError(t, f.engine.PlaceBet(ctx, id, alice, true, 100_000))

	_, err := f.engine.EmergencyWithdraw(ctx, id, alice)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.engine.EmergencyWithdraw(ctx, id, creator)
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved, "not callable before resolution")

	f.clock.Advance(week)
	require.NoError(t, f.engine.ResolveMarket(ctx, id, false, creator))

	_, err = f.engine.EmergencyWithdraw(ctx, id, creator)
	assert.ErrorIs(t, err, domain.ErrTimelockActive)

	f.clock.Advance(engine.DefaultConfig().EmergencyTimelock)

	creatorBefore := f.ledger.Balance(creator)
	recovered, err := f.engine.EmergencyWithdraw(ctx, id, creator)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), recovered)
	assert.Equal(t, creatorBefore+100_000, f.ledger.Balance(creator))

	m, err := f.engine.Market(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, m.Escrow)

	// Nothing left: a second sweep is a no-op.
	recovered, err = f.engine.EmergencyWithdraw(ctx, id, creator)
	require.NoError(t, err)
	assert.Zero(t, recovered)
}

func TestConservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newMarket(t)

	stakes := map[string]int64{alice: 123_000, bob: 77_000, carol: 455_000}
	require.NoError(t, f.engine.PlaceBet(ctx, id, alice, true, stakes[alice]))
	require.NoError(t, f.engine.PlaceBet(ctx, id, bob, true, stakes[bob]))
	require.NoError(t, f.engine.PlaceBet(ctx, id, carol, false, stakes[carol]))

	var staked int64
	for _, s := range stakes {
		staked += s
	}

	f.clock.Advance(week)
	require.NoError(t, f.engine.ResolveMarket(ctx, id, true, creator))

	var paid int64
	for _, p := range []string{alice, bob} {
		payout, err := f.engine.ClaimWinnings(ctx, id, p)
		require.NoError(t, err)
		paid += payout
	}

	f.clock.Advance(engine.DefaultConfig().EmergencyTimelock)
	recovered, err := f.engine.EmergencyWithdraw(ctx, id, creator)
	require.NoError(t, err)

	assert.LessOrEqual(t, paid+recovered, staked, "payouts plus recovery never exceed stakes")
	assert.Zero(t, f.ledger.Escrow(), "escrow fully drained")
}

func TestConcurrentDuplicateBets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newMarket(t)

	const attempts = 16
	errs := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.engine.PlaceBet(ctx, id, alice, true, 100_000)
		}()
	}
	wg.Wait()
	close(errs)

	var successes int
	for err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, domain.ErrAlreadyExists)
		}
	}
	assert.Equal(t, 1, successes, "exactly one bet per (market, participant)")

	m, err := f.engine.Market(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), m.Pool())
	assert.Equal(t, int64(100_000), f.ledger.Escrow())
}
