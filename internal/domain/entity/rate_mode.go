package entity

import (
	"fmt"
	"math/big"
	"strings"
)

// RateMode selects the interest-rate scheme of an Aave borrow or repay.
type RateMode uint8

const (
	RateModeStable   RateMode = 1
	RateModeVariable RateMode = 2
)

// ParseRateMode accepts "stable" or "variable" (case-insensitive).
func ParseRateMode(s string) (RateMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stable":
		return RateModeStable, nil
	case "variable":
		return RateModeVariable, nil
	default:
		return 0, fmt.Errorf("unknown rate mode %q (want stable or variable)", s)
	}
}

func (m RateMode) String() string {
	switch m {
	case RateModeStable:
		return "stable"
	case RateModeVariable:
		return "variable"
	default:
		return fmt.Sprintf("RateMode(%d)", uint8(m))
	}
}

// BigInt returns the uint256 selector passed to the pool.
func (m RateMode) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(m))
}
