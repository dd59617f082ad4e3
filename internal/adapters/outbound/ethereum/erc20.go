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

var (
	_ outbound.Token         = (*ERC20)(nil)
	_ outbound.WrappedNative = (*WrappedNative)(nil)
)

// ERC20 binds an ERC20 token. Reads go through the multicaller, writes through the
// transactor.
type ERC20 struct {
	addr common.Address
	abi  *abi.ABI
	mc   outbound.Multicaller
	tx   outbound.TxSubmitter
}

// NewERC20 creates a new ERC20 binding.
func NewERC20(addr common.Address, mc outbound.Multicaller, tx outbound.TxSubmitter) (*ERC20, error) {
	erc20ABI, err := abis.GetERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("loading ERC20 ABI: %w", err)
	}
	return newERC20(addr, erc20ABI, mc, tx)
}

func newERC20(addr common.Address, contractABI *abi.ABI, mc outbound.Multicaller, tx outbound.TxSubmitter) (*ERC20, error) {
	if mc == nil {
		return nil, fmt.Errorf("multicaller cannot be nil")
	}
	if tx == nil {
		return nil, fmt.Errorf("transactor cannot be nil")
	}
	return &ERC20{addr: addr, abi: contractABI, mc: mc, tx: tx}, nil
}

func (e *ERC20) Address() common.Address {
	return e.addr
}

// Approve sets spender's allowance to amount.
func (e *ERC20) Approve(ctx context.Context, spender common.Address, amount *big.Int) (outbound.PendingTx, error) {
	if err := entity.ValidateAmount(amount); err != nil {
		return outbound.PendingTx{}, err
	}
	data, err := e.abi.Pack("approve", spender, amount)
	if err != nil {
		return outbound.PendingTx{}, fmt.Errorf("packing approve: %w", err)
	}
	return e.tx.Submit(ctx, e.addr, data, nil)
}

func (e *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	out, err := callView(ctx, e.mc, e.addr, e.abi, "balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("reading balance of %s: %w", account.Hex(), err)
	}
	return asBigInt(out[0])
}

func (e *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	out, err := callView(ctx, e.mc, e.addr, e.abi, "allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("reading allowance %s -> %s: %w", owner.Hex(), spender.Hex(), err)
	}
	return asBigInt(out[0])
}

func (e *ERC20) Decimals(ctx context.Context) (uint8, error) {
	out, err := callView(ctx, e.mc, e.addr, e.abi, "decimals")
	if err != nil {
		return 0, fmt.Errorf("reading decimals of %s: %w", e.addr.Hex(), err)
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected return type %T from decimals", out[0])
	}
	return d, nil
}

func (e *ERC20) Symbol(ctx context.Context) (string, error) {
	out, err := callView(ctx, e.mc, e.addr, e.abi, "symbol")
	if err != nil {
		return "", fmt.Errorf("reading symbol of %s: %w", e.addr.Hex(), err)
	}
	s, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected return type %T from symbol", out[0])
	}
	return s, nil
}

// WrappedNative binds WETH9.
type WrappedNative struct {
	*ERC20
}

// NewWrappedNative creates a new WETH binding.
func NewWrappedNative(addr common.Address, mc outbound.Multicaller, tx outbound.TxSubmitter) (*WrappedNative, error) {
	wethABI, err := abis.GetWETHABI()
	if err != nil {
		return nil, fmt.Errorf("loading WETH ABI: %w", err)
	}
	token, err := newERC20(addr, wethABI, mc, tx)
	if err != nil {
		return nil, err
	}
	return &WrappedNative{ERC20: token}, nil
}

// Wrap sends amount of native currency to deposit(), minting the same amount of WETH.
func (w *WrappedNative) Wrap(ctx context.Context, amount *big.Int) (outbound.PendingTx, error) {
	if err := entity.ValidatePositiveAmount(amount); err != nil {
		return outbound.PendingTx{}, err
	}
	data, err := w.abi.Pack("deposit")
	if err != nil {
		return outbound.PendingTx{}, fmt.Errorf("packing deposit: %w", err)
	}
	return w.tx.Submit(ctx, w.addr, data, amount)
}

func asBigInt(v interface{}) (*big.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected return type %T, want *big.Int", v)
	}
	return b, nil
}
