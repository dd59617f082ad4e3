package ethereum

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl/stl-borrow/internal/ports/outbound"
)

var _ outbound.ContractFactory = (*Contracts)(nil)

// Contracts binds contracts at addresses discovered while a run is in progress.
type Contracts struct {
	mc          outbound.Multicaller
	tx          outbound.TxSubmitter
	refDecimals uint8
}

// NewContracts creates a new contract factory.
func NewContracts(mc outbound.Multicaller, tx outbound.TxSubmitter, refDecimals uint8) *Contracts {
	return &Contracts{mc: mc, tx: tx, refDecimals: refDecimals}
}

func (c *Contracts) Token(addr common.Address) (outbound.Token, error) {
	token, err := NewERC20(addr, c.mc, c.tx)
	if err != nil {
		return nil, err
	}
	return token, nil
}

func (c *Contracts) LendingPool(addr common.Address) (outbound.LendingPool, error) {
	pool, err := NewLendingPool(addr, c.mc, c.tx, c.refDecimals)
	if err != nil {
		return nil, err
	}
	return pool, nil
}
