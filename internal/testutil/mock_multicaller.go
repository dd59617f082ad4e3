package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl/stl-borrow/internal/ports/outbound"
)

// MockMulticaller implements outbound.Multicaller for testing.
type MockMulticaller struct {
	mu        sync.Mutex
	ExecuteFn func(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error)
	CallCount int
	Addr      common.Address
}

func NewMockMulticaller() *MockMulticaller {
	return &MockMulticaller{
		Addr: common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11"),
	}
}

func (m *MockMulticaller) Execute(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error) {
	m.mu.Lock()
	m.CallCount++
	m.mu.Unlock()
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, calls, blockNumber)
	}
	return nil, errors.New("Execute not mocked")
}

func (m *MockMulticaller) Address() common.Address {
	return m.Addr
}

// RecordedView is a decoded read call seen by a ViewResponder.
type RecordedView struct {
	Target common.Address
	Method string
	Args   []interface{}
}

type viewKey struct {
	target common.Address
	method string
}

// ViewResponder is a Multicaller that decodes each call against known ABIs and answers
// with canned outputs registered through On.
type ViewResponder struct {
	t         *testing.T
	abis      []*abi.ABI
	mu        sync.Mutex
	responses map[viewKey][]interface{}
	failures  map[viewKey]bool
	Calls     []RecordedView
}

// NewViewResponder creates a responder able to decode calls for the given ABIs.
func NewViewResponder(t *testing.T, abis ...*abi.ABI) *ViewResponder {
	return &ViewResponder{
		t:         t,
		abis:      abis,
		responses: make(map[viewKey][]interface{}),
		failures:  make(map[viewKey]bool),
	}
}

// On registers the outputs returned for method on target.
func (v *ViewResponder) On(target common.Address, method string, outputs ...interface{}) *ViewResponder {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.responses[viewKey{target, method}] = outputs
	return v
}

// Fail makes method on target report Success=false.
func (v *ViewResponder) Fail(target common.Address, method string) *ViewResponder {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures[viewKey{target, method}] = true
	return v
}

func (v *ViewResponder) Address() common.Address {
	return common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")
}

func (v *ViewResponder) Execute(_ context.Context, calls []outbound.Call, _ *big.Int) ([]outbound.Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	results := make([]outbound.Result, len(calls))
	for i, call := range calls {
		method, err := v.lookup(call.CallData)
		if err != nil {
			return nil, err
		}
		args, err := method.Inputs.Unpack(call.CallData[4:])
		if err != nil {
			return nil, fmt.Errorf("decoding %s args: %w", method.Name, err)
		}
		v.Calls = append(v.Calls, RecordedView{Target: call.Target, Method: method.Name, Args: args})

		key := viewKey{call.Target, method.Name}
		if v.failures[key] {
			results[i] = outbound.Result{Success: false}
			continue
		}
		outputs, ok := v.responses[key]
		if !ok {
			return nil, fmt.Errorf("no response registered for %s on %s", method.Name, call.Target.Hex())
		}
		data, err := method.Outputs.Pack(outputs...)
		if err != nil {
			v.t.Fatalf("packing %s outputs: %v", method.Name, err)
		}
		results[i] = outbound.Result{Success: true, ReturnData: data}
	}
	return results, nil
}

func (v *ViewResponder) lookup(data []byte) (*abi.Method, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("call data too short")
	}
	for _, a := range v.abis {
		for _, m := range a.Methods {
			if bytes.Equal(m.ID, data[:4]) {
				method := m
				return &method, nil
			}
		}
	}
	return nil, fmt.Errorf("unknown selector %x", data[:4])
}
