// Package payout computes the advisory fee/net split presented to an operator
// before a manual transfer. It never moves money.
package payout

import (
	"errors"
	"math"
)

var (
	// ErrInvalidAmount signals a non-positive sale amount.
	ErrInvalidAmount = errors.New("payout: amount must be positive")
	// ErrInvalidFeePercent signals a fee percentage outside [0,100].
	ErrInvalidFeePercent = errors.New("payout: fee percent must be between 0 and 100")
)

// Breakdown is the split of a sale amount into platform fee and seller net.
// Breakdown.Fee + Breakdown.Net always equals the input amount.
type Breakdown struct {
	Amount int64
	Fee    int64
	Net    int64
}

// Calculator holds the configured platform fee percentage.
type Calculator struct {
	feePercent float64
}

func NewCalculator(feePercent float64) (*Calculator, error) {
	if feePercent < 0 || feePercent > 100 {
		return nil, ErrInvalidFeePercent
	}
	return &Calculator{feePercent: feePercent}, nil
}

// FeePercent returns the configured percentage, for display alongside the split.
func (c *Calculator) FeePercent() float64 { return c.feePercent }

// Calculate splits amount into fee and net using round-half-up on the fee.
func (c *Calculator) Calculate(amount int64) (Breakdown, error) {
	return Calculate(amount, c.feePercent)
}

// Calculate is the pure form of the split for callers that carry their own
// fee configuration.
func Calculate(amount int64, feePercent float64) (Breakdown, error) {
	if amount <= 0 {
		return Breakdown{}, ErrInvalidAmount
	}
	if feePercent < 0 || feePercent > 100 {
		return Breakdown{}, ErrInvalidFeePercent
	}

	fee := int64(math.Floor(float64(amount)*feePercent/100 + 0.5))
	if fee > amount {
		fee = amount
	}

	return Breakdown{
		Amount: amount,
		Fee:    fee,
		Net:    amount - fee,
	}, nil
}
