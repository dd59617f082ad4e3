package testutil

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl/stl-borrow/internal/ports/outbound"
)

// Submission is a transaction handed to MockTxSubmitter.
type Submission struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// MockTxSubmitter implements outbound.TxSubmitter for testing.
type MockTxSubmitter struct {
	mu          sync.Mutex
	Account     common.Address
	SubmitFn    func(ctx context.Context, to common.Address, data []byte, value *big.Int) (outbound.PendingTx, error)
	Submissions []Submission
}

func NewMockTxSubmitter(account common.Address) *MockTxSubmitter {
	return &MockTxSubmitter{Account: account}
}

func (m *MockTxSubmitter) From() common.Address {
	return m.Account
}

func (m *MockTxSubmitter) Submit(ctx context.Context, to common.Address, data []byte, value *big.Int) (outbound.PendingTx, error) {
	m.mu.Lock()
	m.Submissions = append(m.Submissions, Submission{To: to, Data: data, Value: value})
	nonce := uint64(len(m.Submissions) - 1)
	m.mu.Unlock()

	if m.SubmitFn != nil {
		return m.SubmitFn(ctx, to, data, value)
	}
	return outbound.PendingTx{
		Hash:  common.BigToHash(new(big.Int).SetUint64(nonce + 1)),
		Nonce: nonce,
		To:    to,
	}, nil
}

// DecodeCall splits call data into the method name and its decoded arguments.
func DecodeCall(t *testing.T, contractABI *abi.ABI, data []byte) (string, []interface{}) {
	t.Helper()
	if len(data) < 4 {
		t.Fatalf("call data too short: %x", data)
	}
	method, err := contractABI.MethodById(data[:4])
	if err != nil {
		t.Fatalf("unknown selector %x: %v", data[:4], err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("decoding %s: %v", method.Name, err)
	}
	return method.Name, args
}
