package outbound

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl/stl-borrow/internal/domain/entity"
)

// Token is an ERC20 asset.
type Token interface {
	Address() common.Address
	Approve(ctx context.Context, spender common.Address, amount *big.Int) (PendingTx, error)
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	Decimals(ctx context.Context) (uint8, error)
	Symbol(ctx context.Context) (string, error)
}

// WrappedNative is an ERC20 that mints 1:1 against native currency (WETH).
type WrappedNative interface {
	Token
	Wrap(ctx context.Context, amount *big.Int) (PendingTx, error)
}

// PoolRegistry resolves the current lending pool implementation.
type PoolRegistry interface {
	ResolvePool(ctx context.Context) (common.Address, error)
}

// LendingPool is an Aave v2 style pool.
type LendingPool interface {
	Address() common.Address
	Deposit(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) (PendingTx, error)
	Borrow(ctx context.Context, asset common.Address, amount *big.Int, rateMode entity.RateMode, referralCode uint16, onBehalfOf common.Address) (PendingTx, error)
	Repay(ctx context.Context, asset common.Address, amount *big.Int, rateMode entity.RateMode, onBehalfOf common.Address) (PendingTx, error)
	GetAccountData(ctx context.Context, account common.Address) (*entity.AccountPosition, error)
}

// PriceFeed is a Chainlink AggregatorV3 style feed.
type PriceFeed interface {
	Address() common.Address
	LatestQuote(ctx context.Context) (*entity.PriceQuote, error)
}

// ContractFactory binds contracts whose addresses are only known at run time.
type ContractFactory interface {
	Token(addr common.Address) (Token, error)
	LendingPool(addr common.Address) (LendingPool, error)
}
