package treasury_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketledger/internal/domain"
	"github.com/alanyoungcy/marketledger/internal/treasury"
)

func TestLedgerCollectDisburse(t *testing.T) {
	l := treasury.NewLedger()
	ctx := context.Background()

	require.NoError(t, l.Deposit("alice", 1_000))
	assert.Equal(t, int64(1_000), l.Balance("alice"))

	require.NoError(t, l.Collect(ctx, "alice", 400))
	assert.Equal(t, int64(600), l.Balance("alice"))
	assert.Equal(t, int64(400), l.Escrow())

	require.NoError(t, l.Disburse(ctx, "bob", 300))
	assert.Equal(t, int64(300), l.Balance("bob"))
	assert.Equal(t, int64(100), l.Escrow())
}

func TestLedgerCollectInsufficientFunds(t *testing.T) {
	l := treasury.NewLedger()
	ctx := context.Background()

	require.NoError(t, l.Deposit("alice", 100))

	err := l.Collect(ctx, "alice", 200)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// All-or-nothing: nothing moved.
	assert.Equal(t, int64(100), l.Balance("alice"))
	assert.Zero(t, l.Escrow())
}

func TestLedgerDisburseBeyondEscrow(t *testing.T) {
	l := treasury.NewLedger()
	ctx := context.Background()

	require.NoError(t, l.Deposit("alice", 500))
	require.NoError(t, l.Collect(ctx, "alice", 500))

	err := l.Disburse(ctx, "bob", 600)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(500), l.Escrow())
}

func TestLedgerRejectsNonPositiveAmounts(t *testing.T) {
	l := treasury.NewLedger()
	ctx := context.Background()

	assert.ErrorIs(t, l.Deposit("alice", 0), domain.ErrInvalidArgument)
	assert.ErrorIs(t, l.Collect(ctx, "alice", -1), domain.ErrInvalidArgument)
	assert.ErrorIs(t, l.Disburse(ctx, "alice", 0), domain.ErrInvalidArgument)
}
