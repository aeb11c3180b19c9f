package domain

import (
	"context"
	"time"
)

// Treasury moves value between participant accounts and the escrow pool.
// Both calls are fallible, bounded-time external operations; the engine
// treats any error as ErrTransferFailed.
type Treasury interface {
	// Collect moves amount from the participant into escrow. All-or-nothing:
	// on error no value has moved.
	Collect(ctx context.Context, from string, amount int64) error

	// Disburse moves amount out of escrow to the participant.
	Disburse(ctx context.Context, to string, amount int64) error
}

// Clock supplies the current time for end-time and timelock comparisons.
// It exists so tests can drive the market lifecycle deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
