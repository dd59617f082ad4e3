package outbound

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PendingTx is the handle of a submitted state-changing call.
type PendingTx struct {
	Hash  common.Hash
	Nonce uint64
	To    common.Address
}

// TxReceipt is the finalized outcome of a PendingTx.
type TxReceipt struct {
	Hash          common.Hash
	BlockNumber   uint64
	GasUsed       uint64
	Confirmations uint64
}

// TxSubmitter signs and broadcasts transactions from the run's account.
type TxSubmitter interface {
	// Submit sends data to the target with the given native value (nil for none).
	Submit(ctx context.Context, to common.Address, data []byte, value *big.Int) (PendingTx, error)

	// From returns the account transactions are sent from.
	From() common.Address
}

// Chain exposes the node-side facilities the orchestrator blocks on.
type Chain interface {
	// WaitConfirmed blocks until tx has at least confirmations blocks on top of
	// (and including) its inclusion block.
	WaitConfirmed(ctx context.Context, tx PendingTx, confirmations uint64) (TxReceipt, error)

	// LatestBlockTime returns the timestamp of the current head.
	LatestBlockTime(ctx context.Context) (time.Time, error)
}
