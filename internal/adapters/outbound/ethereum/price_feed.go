package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl/stl-borrow/internal/domain/entity"
	"github.com/archon-research/stl/stl-borrow/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl/stl-borrow/internal/ports/outbound"
)

var _ outbound.PriceFeed = (*PriceFeed)(nil)

// PriceFeed binds a Chainlink AggregatorV3 feed.
type PriceFeed struct {
	addr    common.Address
	feedABI *abi.ABI
	mc      outbound.Multicaller
}

// NewPriceFeed creates a new PriceFeed binding.
func NewPriceFeed(addr common.Address, mc outbound.Multicaller) (*PriceFeed, error) {
	if mc == nil {
		return nil, fmt.Errorf("multicaller cannot be nil")
	}
	feedABI, err := abis.GetAggregatorV3ABI()
	if err != nil {
		return nil, fmt.Errorf("loading AggregatorV3 ABI: %w", err)
	}
	return &PriceFeed{addr: addr, feedABI: feedABI, mc: mc}, nil
}

func (f *PriceFeed) Address() common.Address {
	return f.addr
}

// LatestQuote reads decimals() and latestRoundData() in one batch, so the precision
// always matches the answer it scales.
func (f *PriceFeed) LatestQuote(ctx context.Context) (*entity.PriceQuote, error) {
	out, err := callViews(ctx, f.mc,
		viewCall{target: f.addr, abi: f.feedABI, method: "decimals"},
		viewCall{target: f.addr, abi: f.feedABI, method: "latestRoundData"},
	)
	if err != nil {
		return nil, fmt.Errorf("reading feed %s: %w", f.addr.Hex(), err)
	}

	decimals, ok := out[0][0].(uint8)
	if !ok {
		return nil, fmt.Errorf("unexpected return type %T from decimals", out[0][0])
	}

	// latestRoundData returns: (uint80 roundId, int256 answer, uint256 startedAt, uint256 updatedAt, uint80 answeredInRound)
	round := out[1]
	if len(round) != 5 {
		return nil, fmt.Errorf("expected 5 values from latestRoundData, got %d", len(round))
	}
	roundID, err := asBigInt(round[0])
	if err != nil {
		return nil, fmt.Errorf("roundId: %w", err)
	}
	answer, err := asBigInt(round[1])
	if err != nil {
		return nil, fmt.Errorf("answer: %w", err)
	}
	updatedAt, err := asBigInt(round[3])
	if err != nil {
		return nil, fmt.Errorf("updatedAt: %w", err)
	}

	quote, err := entity.NewPriceQuote(answer, decimals, roundID, unixTime(updatedAt))
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", f.addr.Hex(), err)
	}
	return quote, nil
}

func unixTime(ts *big.Int) time.Time {
	if ts == nil || ts.Sign() == 0 || !ts.IsInt64() {
		return time.Time{}
	}
	return time.Unix(ts.Int64(), 0).UTC()
}
