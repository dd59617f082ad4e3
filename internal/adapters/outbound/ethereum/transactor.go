// Package ethereum binds the borrow flow's outbound ports to an Ethereum JSON-RPC node:
// transaction signing and submission, confirmation tracking, and the WETH, ERC20,
// lending pool, registry and price feed contracts.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/archon-research/stl/stl-borrow/internal/domain/entity"
	"github.com/archon-research/stl/stl-borrow/internal/ports/outbound"
)

var _ outbound.TxSubmitter = (*Transactor)(nil)

// TxBackend is the subset of *ethclient.Client needed to build and send transactions.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// TransactorConfig holds configuration for the Transactor.
type TransactorConfig struct {
	ChainID *big.Int

	// GasHeadroomPercent is added on top of the node's gas estimate. Default 20.
	GasHeadroomPercent uint64

	Logger *slog.Logger
}

// Transactor signs transactions with a local key and broadcasts them.
type Transactor struct {
	backend     TxBackend
	key         *ecdsa.PrivateKey
	from        common.Address
	signer      types.Signer
	gasHeadroom uint64
	logger      *slog.Logger
}

// NewTransactor creates a Transactor for the account controlled by key.
func NewTransactor(backend TxBackend, key *ecdsa.PrivateKey, config TransactorConfig) (*Transactor, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if key == nil {
		return nil, fmt.Errorf("private key cannot be nil")
	}
	if config.ChainID == nil || config.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain ID must be positive")
	}
	if config.GasHeadroomPercent == 0 {
		config.GasHeadroomPercent = 20
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Transactor{
		backend:     backend,
		key:         key,
		from:        crypto.PubkeyToAddress(key.PublicKey),
		signer:      types.LatestSignerForChainID(config.ChainID),
		gasHeadroom: config.GasHeadroomPercent,
		logger:      config.Logger.With("component", "transactor"),
	}, nil
}

// ParsePrivateKey parses a hex-encoded secp256k1 key, with or without 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if len(hexKey) >= 2 && (hexKey[:2] == "0x" || hexKey[:2] == "0X") {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return key, nil
}

func (t *Transactor) From() common.Address {
	return t.from
}

// Submit estimates, signs and broadcasts a call. Estimation or broadcast failures are
// reported as entity.ErrSubmissionRejected; nothing is retried.
func (t *Transactor) Submit(ctx context.Context, to common.Address, data []byte, value *big.Int) (outbound.PendingTx, error) {
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := t.backend.PendingNonceAt(ctx, t.from)
	if err != nil {
		return outbound.PendingTx{}, fmt.Errorf("fetching nonce for %s: %w", t.from.Hex(), err)
	}

	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  t.from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return outbound.PendingTx{}, fmt.Errorf("%w: estimating gas for call to %s: %w", entity.ErrSubmissionRejected, to.Hex(), err)
	}
	gas += gas * t.gasHeadroom / 100

	txData, err := t.buildTx(ctx, nonce, to, value, data, gas)
	if err != nil {
		return outbound.PendingTx{}, err
	}

	signed, err := types.SignTx(types.NewTx(txData), t.signer, t.key)
	if err != nil {
		return outbound.PendingTx{}, fmt.Errorf("signing transaction: %w", err)
	}

	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return outbound.PendingTx{}, fmt.Errorf("%w: sending transaction to %s: %w", entity.ErrSubmissionRejected, to.Hex(), err)
	}

	t.logger.Debug("transaction sent",
		"hash", signed.Hash().Hex(),
		"nonce", nonce,
		"to", to.Hex(),
		"gas", gas,
		"value", value.String())

	return outbound.PendingTx{Hash: signed.Hash(), Nonce: nonce, To: to}, nil
}

// buildTx prices the transaction as EIP-1559 when the head carries a base fee and as a
// legacy transaction otherwise.
func (t *Transactor) buildTx(ctx context.Context, nonce uint64, to common.Address, value *big.Int, data []byte, gas uint64) (types.TxData, error) {
	head, err := t.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching head header: %w", err)
	}

	if head.BaseFee == nil {
		gasPrice, err := t.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggesting gas price: %w", err)
		}
		return &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       &to,
			Value:    value,
			Data:     data,
		}, nil
	}

	tip, err := t.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggesting gas tip cap: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	return &types.DynamicFeeTx{
		ChainID:   t.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	}, nil
}
