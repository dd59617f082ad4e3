package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/archon-research/stl/stl-borrow/internal/domain/entity"
	"github.com/archon-research/stl/stl-borrow/internal/ports/outbound"
)

var _ outbound.Chain = (*ConfirmationWaiter)(nil)

// ReceiptBackend is the subset of *ethclient.Client used to track inclusion.
type ReceiptBackend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// WaiterConfig holds configuration for the ConfirmationWaiter.
type WaiterConfig struct {
	// Timeout bounds a single WaitConfirmed call. Default 2m.
	Timeout time.Duration

	// PollInterval is the delay between receipt/head polls. Default 500ms.
	PollInterval time.Duration

	Logger *slog.Logger
}

func waiterConfigDefaults() WaiterConfig {
	return WaiterConfig{
		Timeout:      2 * time.Minute,
		PollInterval: 500 * time.Millisecond,
		Logger:       slog.Default(),
	}
}

// ConfirmationWaiter polls the node until a transaction is buried deep enough.
type ConfirmationWaiter struct {
	backend ReceiptBackend
	config  WaiterConfig
	logger  *slog.Logger
}

// NewConfirmationWaiter creates a new ConfirmationWaiter.
func NewConfirmationWaiter(backend ReceiptBackend, config WaiterConfig) (*ConfirmationWaiter, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}

	defaults := waiterConfigDefaults()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &ConfirmationWaiter{
		backend: backend,
		config:  config,
		logger:  config.Logger.With("component", "confirmation-waiter"),
	}, nil
}

// WaitConfirmed blocks until tx has the requested confirmation depth (minimum 1).
// A reverted receipt yields entity.ErrSubmissionRejected; exceeding the configured
// timeout yields entity.ErrFinalizationTimeout.
func (w *ConfirmationWaiter) WaitConfirmed(ctx context.Context, tx outbound.PendingTx, confirmations uint64) (outbound.TxReceipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}

	waitCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		receipt, done, err := w.check(waitCtx, tx.Hash, confirmations)
		if err != nil {
			if waitCtx.Err() != nil {
				return outbound.TxReceipt{}, w.expired(ctx, tx, confirmations)
			}
			return outbound.TxReceipt{}, err
		}
		if done {
			w.logger.Debug("transaction confirmed",
				"hash", tx.Hash.Hex(),
				"block", receipt.BlockNumber,
				"confirmations", receipt.Confirmations)
			return receipt, nil
		}

		select {
		case <-waitCtx.Done():
			return outbound.TxReceipt{}, w.expired(ctx, tx, confirmations)
		case <-ticker.C:
		}
	}
}

func (w *ConfirmationWaiter) expired(parent context.Context, tx outbound.PendingTx, confirmations uint64) error {
	if parent.Err() != nil {
		return fmt.Errorf("waiting for %s: %w", tx.Hash.Hex(), parent.Err())
	}
	return fmt.Errorf("%w: %s did not reach %d confirmations within %s",
		entity.ErrFinalizationTimeout, tx.Hash.Hex(), confirmations, w.config.Timeout)
}

// check returns done=true once the receipt exists, succeeded and is deep enough.
func (w *ConfirmationWaiter) check(ctx context.Context, hash common.Hash, confirmations uint64) (outbound.TxReceipt, bool, error) {
	receipt, err := w.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return outbound.TxReceipt{}, false, nil
	}
	if err != nil {
		return outbound.TxReceipt{}, false, fmt.Errorf("fetching receipt for %s: %w", hash.Hex(), err)
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return outbound.TxReceipt{}, false, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return outbound.TxReceipt{}, false, fmt.Errorf("%w: transaction %s reverted in block %s",
			entity.ErrSubmissionRejected, hash.Hex(), receipt.BlockNumber)
	}

	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return outbound.TxReceipt{}, false, fmt.Errorf("fetching head: %w", err)
	}
	if head == nil || head.Number == nil || head.Number.Cmp(receipt.BlockNumber) < 0 {
		return outbound.TxReceipt{}, false, nil
	}

	depth := new(big.Int).Sub(head.Number, receipt.BlockNumber)
	depth.Add(depth, big.NewInt(1))

	out := outbound.TxReceipt{
		Hash:          hash,
		BlockNumber:   receipt.BlockNumber.Uint64(),
		GasUsed:       receipt.GasUsed,
		Confirmations: depth.Uint64(),
	}
	return out, out.Confirmations >= confirmations, nil
}

// LatestBlockTime returns the timestamp of the current head.
func (w *ConfirmationWaiter) LatestBlockTime(ctx context.Context) (time.Time, error) {
	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetching head: %w", err)
	}
	return time.Unix(int64(head.Time), 0).UTC(), nil
}
