package ethereum

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl/stl-borrow/internal/domain/entity"
	"github.com/archon-research/stl/stl-borrow/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl/stl-borrow/internal/ports/outbound"
)

var _ outbound.LendingPool = (*LendingPool)(nil)

// LendingPool binds an Aave v2 LendingPool proxy.
type LendingPool struct {
	addr        common.Address
	abi         *abi.ABI
	mc          outbound.Multicaller
	tx          outbound.TxSubmitter
	refDecimals uint8
}

// NewLendingPool creates a new LendingPool binding. refDecimals is the precision of the
// pool's reference currency (18 for ETH-denominated Aave v2 markets).
func NewLendingPool(addr common.Address, mc outbound.Multicaller, tx outbound.TxSubmitter, refDecimals uint8) (*LendingPool, error) {
	if mc == nil {
		return nil, fmt.Errorf("multicaller cannot be nil")
	}
	if tx == nil {
		return nil, fmt.Errorf("transactor cannot be nil")
	}
	poolABI, err := abis.GetLendingPoolABI()
	if err != nil {
		return nil, fmt.Errorf("loading LendingPool ABI: %w", err)
	}
	return &LendingPool{addr: addr, abi: poolABI, mc: mc, tx: tx, refDecimals: refDecimals}, nil
}

func (p *LendingPool) Address() common.Address {
	return p.addr
}

func (p *LendingPool) Deposit(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) (outbound.PendingTx, error) {
	if err := entity.ValidatePositiveAmount(amount); err != nil {
		return outbound.PendingTx{}, err
	}
	return p.submit(ctx, "deposit", asset, amount, onBehalfOf, referralCode)
}

func (p *LendingPool) Borrow(ctx context.Context, asset common.Address, amount *big.Int, rateMode entity.RateMode, referralCode uint16, onBehalfOf common.Address) (outbound.PendingTx, error) {
	if err := entity.ValidatePositiveAmount(amount); err != nil {
		return outbound.PendingTx{}, err
	}
	return p.submit(ctx, "borrow", asset, amount, rateMode.BigInt(), referralCode, onBehalfOf)
}

func (p *LendingPool) Repay(ctx context.Context, asset common.Address, amount *big.Int, rateMode entity.RateMode, onBehalfOf common.Address) (outbound.PendingTx, error) {
	if err := entity.ValidatePositiveAmount(amount); err != nil {
		return outbound.PendingTx{}, err
	}
	return p.submit(ctx, "repay", asset, amount, rateMode.BigInt(), onBehalfOf)
}

func (p *LendingPool) submit(ctx context.Context, method string, args ...interface{}) (outbound.PendingTx, error) {
	data, err := p.abi.Pack(method, args...)
	if err != nil {
		return outbound.PendingTx{}, fmt.Errorf("packing %s: %w", method, err)
	}
	return p.tx.Submit(ctx, p.addr, data, nil)
}

// GetAccountData reads getUserAccountData for account.
func (p *LendingPool) GetAccountData(ctx context.Context, account common.Address) (*entity.AccountPosition, error) {
	out, err := callView(ctx, p.mc, p.addr, p.abi, "getUserAccountData", account)
	if err != nil {
		return nil, fmt.Errorf("reading account data for %s: %w", account.Hex(), err)
	}
	if len(out) != 6 {
		return nil, fmt.Errorf("expected 6 values from getUserAccountData, got %d", len(out))
	}

	values := make([]*big.Int, len(out))
	for i, v := range out {
		b, err := asBigInt(v)
		if err != nil {
			return nil, fmt.Errorf("getUserAccountData output %d: %w", i, err)
		}
		values[i] = b
	}

	// (totalCollateralETH, totalDebtETH, availableBorrowsETH, currentLiquidationThreshold, ltv, healthFactor)
	return entity.NewAccountPosition(values[0], values[1], values[2], values[3], values[4], values[5], p.refDecimals)
}
