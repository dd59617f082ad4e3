package ethereum

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl/stl-borrow/internal/ports/outbound"
)

// viewCall is one read-only method invocation.
type viewCall struct {
	target common.Address
	abi    *abi.ABI
	method string
	args   []interface{}
}

// callViews runs the calls as one batch at the latest block and returns the unpacked
// outputs of each, in order. Any failing call fails the batch.
func callViews(ctx context.Context, mc outbound.Multicaller, views ...viewCall) ([][]interface{}, error) {
	calls := make([]outbound.Call, len(views))
	for i, v := range views {
		data, err := v.abi.Pack(v.method, v.args...)
		if err != nil {
			return nil, fmt.Errorf("packing %s: %w", v.method, err)
		}
		calls[i] = outbound.Call{Target: v.target, AllowFailure: false, CallData: data}
	}

	results, err := mc.Execute(ctx, calls, nil)
	if err != nil {
		return nil, fmt.Errorf("executing multicall: %w", err)
	}
	if len(results) != len(views) {
		return nil, fmt.Errorf("expected %d multicall results, got %d", len(views), len(results))
	}

	out := make([][]interface{}, len(views))
	for i, r := range results {
		if !results[i].Success {
			return nil, fmt.Errorf("%s call on %s failed", views[i].method, views[i].target.Hex())
		}
		unpacked, err := views[i].abi.Unpack(views[i].method, r.ReturnData)
		if err != nil {
			return nil, fmt.Errorf("unpacking %s from %s: %w", views[i].method, views[i].target.Hex(), err)
		}
		if len(unpacked) == 0 {
			return nil, fmt.Errorf("%s on %s returned no values", views[i].method, views[i].target.Hex())
		}
		out[i] = unpacked
	}
	return out, nil
}

func callView(ctx context.Context, mc outbound.Multicaller, target common.Address, contractABI *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	out, err := callViews(ctx, mc, viewCall{target: target, abi: contractABI, method: method, args: args})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
