// Package treasury implements the value-transfer subsystem behind the
// ledger's escrow. Two backends are provided: an in-process account ledger
// for standalone deployments and tests, and an Ethereum hot-wallet treasury
// for on-chain payouts.
package treasury

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// Ledger is an in-process treasury: a map of participant balances plus a
// single escrow pool. Collect debits a participant and credits escrow;
// Disburse does the reverse. All operations are atomic under one mutex.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]int64
	escrow   int64
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]int64)}
}

// Deposit credits a participant's spendable balance. This is the funding
// path: in a deployment it is driven by whatever payment rail tops accounts
// up; in tests it seeds balances directly.
func (l *Ledger) Deposit(account string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("treasury: deposit %d: %w", amount, domain.ErrInvalidArgument)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
	return nil
}

// Balance returns a participant's spendable balance.
func (l *Ledger) Balance(account string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

// Escrow returns the total value currently held in escrow.
func (l *Ledger) Escrow() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.escrow
}

// Collect moves amount from the participant's balance into escrow. It fails
// with ErrInsufficientFunds without moving anything when the balance does not
// cover the amount.
func (l *Ledger) Collect(_ context.Context, from string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("treasury: collect %d: %w", amount, domain.ErrInvalidArgument)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[from] < amount {
		return fmt.Errorf("treasury: collect %d from %s (balance %d): %w",
			amount, from, l.balances[from], domain.ErrInsufficientFunds)
	}
	l.balances[from] -= amount
	l.escrow += amount
	return nil
}

// Disburse moves amount out of escrow to the participant's balance.
func (l *Ledger) Disburse(_ context.Context, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("treasury: disburse %d: %w", amount, domain.ErrInvalidArgument)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.escrow < amount {
		return fmt.Errorf("treasury: disburse %d (escrow %d): %w",
			amount, l.escrow, domain.ErrInsufficientFunds)
	}
	l.escrow -= amount
	l.balances[to] += amount
	return nil
}

// Compile-time interface check.
var _ domain.Treasury = (*Ledger)(nil)
