package entity

import (
	"fmt"
	"math/big"
	"time"
)

// PriceQuote is the latest round of an AggregatorV3 feed. Rate is scaled by 10^Decimals.
type PriceQuote struct {
	Rate      *big.Int
	Decimals  uint8
	RoundID   *big.Int
	UpdatedAt time.Time
}

// NewPriceQuote creates a new PriceQuote entity with validation.
func NewPriceQuote(rate *big.Int, decimals uint8, roundID *big.Int, updatedAt time.Time) (*PriceQuote, error) {
	q := &PriceQuote{
		Rate:      rate,
		Decimals:  decimals,
		RoundID:   roundID,
		UpdatedAt: updatedAt,
	}
	if err := q.validate(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *PriceQuote) validate() error {
	if q.Rate == nil || q.Rate.Sign() <= 0 {
		return fmt.Errorf("rate must be positive, got %v", q.Rate)
	}
	if q.UpdatedAt.IsZero() {
		return fmt.Errorf("round not complete: updatedAt is zero")
	}
	return nil
}

// Age returns how long ago the round was updated relative to now.
func (q *PriceQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.UpdatedAt)
}

// CheckFresh returns ErrStaleQuote when the quote is older than maxAge.
// A non-positive maxAge disables the check.
func (q *PriceQuote) CheckFresh(now time.Time, maxAge time.Duration) error {
	if maxAge <= 0 {
		return nil
	}
	if age := q.Age(now); age > maxAge {
		return fmt.Errorf("%w: updated %s ago, max age %s", ErrStaleQuote, age.Round(time.Second), maxAge)
	}
	return nil
}

// String renders the rate as a decimal string.
func (q *PriceQuote) String() string {
	return FormatUnits(q.Rate, q.Decimals)
}
