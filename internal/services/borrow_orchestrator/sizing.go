package borrow_orchestrator

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/archon-research/stl/stl-borrow/internal/domain/entity"
)

// bpsDenominator is one whole in basis points.
const bpsDenominator = 10_000

// DefaultMarginBps leaves 5% of the available capacity unused.
const DefaultMarginBps = 9_500

// SizeBorrow converts the pool's available borrowing capacity into an amount of the debt asset.
//
//	amount = floor(available * 10^q.Decimals * 10^assetDecimals * marginBps /
//	               (q.Rate * 10^refDecimals * 10000))
//
// available is denominated in the reference currency with refDecimals, q prices one unit of
// the debt asset in the reference currency. The division happens once, so the result is the
// exact floor of the rational amount.
func SizeBorrow(available *big.Int, refDecimals uint8, q *entity.PriceQuote, assetDecimals uint8, marginBps int64) (*big.Int, error) {
	if err := entity.ValidateAmount(available); err != nil {
		return nil, fmt.Errorf("available to borrow: %w", err)
	}
	if q == nil || q.Rate == nil || q.Rate.Sign() <= 0 {
		return nil, fmt.Errorf("quote rate must be positive")
	}
	if marginBps <= 0 || marginBps >= bpsDenominator {
		return nil, fmt.Errorf("safety margin must be between 0 and %d bps exclusive, got %d", bpsDenominator, marginBps)
	}

	num := new(big.Int).Mul(available, entity.Pow10(q.Decimals))
	num.Mul(num, entity.Pow10(assetDecimals))
	num.Mul(num, big.NewInt(marginBps))

	den := new(big.Int).Mul(q.Rate, entity.Pow10(refDecimals))
	den.Mul(den, big.NewInt(bpsDenominator))

	amount := num.Quo(num, den)
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("%w: available %s at rate %s", entity.ErrNothingToBorrow,
			entity.FormatUnits(available, refDecimals), q)
	}
	if err := entity.ValidateAmount(amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// ParseMargin converts a fraction such as "0.95" to basis points.
// The fraction must lie strictly between 0 and 1 and resolve to whole basis points.
func ParseMargin(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parsing safety margin %q: %w", s, err)
	}
	bps := d.Shift(4)
	if !bps.Equal(bps.Truncate(0)) {
		return 0, fmt.Errorf("safety margin %q is finer than one basis point", s)
	}
	if bps.Sign() <= 0 || bps.GreaterThanOrEqual(decimal.NewFromInt(bpsDenominator)) {
		return 0, fmt.Errorf("safety margin must be between 0 and 1 exclusive, got %s", s)
	}
	return bps.IntPart(), nil
}

// valueIn converts amount (amountDecimals) at q into q's quote currency, keeping q.Decimals.
func valueIn(amount *big.Int, amountDecimals uint8, q *entity.PriceQuote) *big.Int {
	v := new(big.Int).Mul(amount, q.Rate)
	return v.Quo(v, entity.Pow10(amountDecimals))
}
