package entity

import (
	"fmt"
	"math/big"
)

// AccountPosition is the lending pool's view of an account, as returned by
// getUserAccountData. Values are denominated in the reference currency (ETH wei for Aave v2)
// except LiquidationThreshold and LTV (basis points) and HealthFactor (1e18 = 1.0).
type AccountPosition struct {
	TotalCollateral      *big.Int
	TotalDebt            *big.Int
	AvailableToBorrow    *big.Int
	LiquidationThreshold *big.Int
	LTV                  *big.Int
	HealthFactor         *big.Int
	ReferenceDecimals    uint8
}

// NewAccountPosition creates a new AccountPosition entity with validation.
func NewAccountPosition(collateral, debt, available, liqThreshold, ltv, healthFactor *big.Int, referenceDecimals uint8) (*AccountPosition, error) {
	p := &AccountPosition{
		TotalCollateral:      collateral,
		TotalDebt:            debt,
		AvailableToBorrow:    available,
		LiquidationThreshold: liqThreshold,
		LTV:                  ltv,
		HealthFactor:         healthFactor,
		ReferenceDecimals:    referenceDecimals,
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AccountPosition) validate() error {
	fields := []struct {
		name  string
		value *big.Int
	}{
		{"totalCollateral", p.TotalCollateral},
		{"totalDebt", p.TotalDebt},
		{"availableToBorrow", p.AvailableToBorrow},
	}
	for _, f := range fields {
		if f.value == nil {
			return fmt.Errorf("%s must not be nil", f.name)
		}
		if f.value.Sign() < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", f.name, f.value)
		}
	}
	return nil
}

// PositionSnapshot is an AccountPosition taken after a given step, optionally valued in
// the reference feed's quote currency (USD).
type PositionSnapshot struct {
	After           Step
	Position        *AccountPosition
	CollateralValue *big.Int // in ReferenceQuote decimals; nil when no reference feed
	ValueDecimals   uint8
}
