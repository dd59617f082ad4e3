package ethereum

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl/stl-borrow/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl/stl-borrow/internal/ports/outbound"
)

var _ outbound.PoolRegistry = (*PoolRegistry)(nil)

// PoolRegistry resolves the lending pool by calling getLendingPool() on the
// LendingPoolAddressesProvider. The result is never cached: the provider can point at
// a new implementation at any time.
type PoolRegistry struct {
	mc           outbound.Multicaller
	providerAddr common.Address
	providerABI  *abi.ABI
}

// NewPoolRegistry creates a new PoolRegistry.
func NewPoolRegistry(mc outbound.Multicaller, providerAddr common.Address) (*PoolRegistry, error) {
	if mc == nil {
		return nil, fmt.Errorf("multicaller cannot be nil")
	}
	providerABI, err := abis.GetLendingPoolAddressesProviderABI()
	if err != nil {
		return nil, fmt.Errorf("loading LendingPoolAddressesProvider ABI: %w", err)
	}
	return &PoolRegistry{
		mc:           mc,
		providerAddr: providerAddr,
		providerABI:  providerABI,
	}, nil
}

func (r *PoolRegistry) ResolvePool(ctx context.Context) (common.Address, error) {
	return r.resolve(ctx, "getLendingPool")
}

// ResolvePriceOracle returns the protocol's own price oracle.
func (r *PoolRegistry) ResolvePriceOracle(ctx context.Context) (common.Address, error) {
	return r.resolve(ctx, "getPriceOracle")
}

func (r *PoolRegistry) resolve(ctx context.Context, method string) (common.Address, error) {
	out, err := callView(ctx, r.mc, r.providerAddr, r.providerABI, method)
	if err != nil {
		return common.Address{}, fmt.Errorf("resolving via provider %s: %w", r.providerAddr.Hex(), err)
	}

	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected return type from %s", method)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s returned the zero address", method)
	}
	return addr, nil
}
