package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("unauthorized")

	// Lifecycle-state violations.
	ErrMarketEnded       = errors.New("market ended")
	ErrMarketActive      = errors.New("market still active")
	ErrMarketResolved    = errors.New("market already resolved")
	ErrMarketNotResolved = errors.New("market not resolved yet")
	ErrTimelockActive    = errors.New("emergency timelock still active")

	// Settlement.
	ErrAlreadyClaimed = errors.New("winnings already claimed")
	ErrNotAWinner     = errors.New("bet did not match outcome")

	// Value transfer.
	ErrTransferFailed    = errors.New("value transfer failed")
	ErrInsufficientFunds = errors.New("insufficient funds")

	ErrLockHeld = errors.New("lock already held")
)
