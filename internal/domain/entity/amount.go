package entity

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// NativeDecimals is the precision of ETH and of the Aave v2 reference currency (wei).
const NativeDecimals = 18

// ValidateAmount checks that an amount can be submitted on-chain as a uint256.
func ValidateAmount(amount *big.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: amount must not be nil", ErrInvalidAmount)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: amount must be non-negative, got %s", ErrInvalidAmount, amount)
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return fmt.Errorf("%w: amount %s overflows uint256", ErrInvalidAmount, amount)
	}
	return nil
}

// ValidatePositiveAmount is ValidateAmount plus a non-zero check.
func ValidatePositiveAmount(amount *big.Int) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	return nil
}

// ParseUnits converts a human-readable decimal string ("1.5") into smallest units.
// Inputs carrying more fractional digits than decimals are rejected rather than rounded.
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %q: %v", ErrInvalidAmount, s, err)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidAmount, s, decimals)
	}
	v := shifted.BigInt()
	if err := ValidateAmount(v); err != nil {
		return nil, err
	}
	return v, nil
}

// FormatUnits renders a smallest-unit amount as a decimal string without rounding.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// Pow10 returns 10^n as a new big.Int.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
