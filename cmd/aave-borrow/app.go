package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/archon-research/stl/stl-borrow/internal/adapters/outbound/ethereum"
	"github.com/archon-research/stl/stl-borrow/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl/stl-borrow/internal/config"
	"github.com/archon-research/stl/stl-borrow/internal/domain/entity"
	"github.com/archon-research/stl/stl-borrow/internal/pkg/blockchain/multicall"
	"github.com/archon-research/stl/stl-borrow/internal/pkg/env"
	"github.com/archon-research/stl/stl-borrow/internal/pkg/retry"
	"github.com/archon-research/stl/stl-borrow/internal/ports/outbound"
	"github.com/archon-research/stl/stl-borrow/internal/services/borrow_orchestrator"
)

// app holds the node connection and the adapters built on it.
type app struct {
	cfg     config.Config
	book    config.AddressBook
	logger  *slog.Logger
	client  *ethclient.Client
	chainID *big.Int
	reads   outbound.Multicaller
}

// connect dials the node, retrying while it comes up, and checks its chain ID against
// the address table.
func connect(ctx context.Context, logger *slog.Logger, cfg config.Config, rpcURL string) (*app, error) {
	book, err := cfg.AddressBook()
	if err != nil {
		return nil, err
	}

	onRetry := func(attempt int, err error, backoff time.Duration) {
		logger.Warn("node not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
	}

	client, err := retry.Do(ctx, retry.DefaultPolicy(), onRetry, func(ctx context.Context) (*ethclient.Client, error) {
		return ethclient.DialContext(ctx, rpcURL)
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to Ethereum node: %w", err)
	}

	chainID, err := retry.Do(ctx, retry.DefaultPolicy(), onRetry, client.ChainID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("reading chain ID: %w", err)
	}
	if want := book.ChainID(); want != 0 && chainID.Uint64() != want {
		client.Close()
		return nil, fmt.Errorf("node chain ID %s does not match network %s (%d)", chainID, book.Network(), want)
	}
	logger.Info("Ethereum node connected", "network", book.Network(), "chain_id", chainID)

	var reads outbound.Multicaller
	switch cfg.Reads {
	case config.ReadsDirect:
		reads = multicall.NewDirectCaller(client.Client())
	default:
		addr, err := book.Address(config.RoleMulticall3)
		if err != nil {
			client.Close()
			return nil, err
		}
		mc, err := multicall.NewClient(client, addr)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("creating multicall client: %w", err)
		}
		reads = mc
	}

	return &app{
		cfg:     cfg,
		book:    book,
		logger:  logger,
		client:  client,
		chainID: chainID,
		reads:   reads,
	}, nil
}

func (a *app) close() {
	a.client.Close()
}

func (a *app) transactor() (*ethereum.Transactor, error) {
	raw, err := env.Require("PRIVATE_KEY")
	if err != nil {
		return nil, err
	}
	key, err := ethereum.ParsePrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return ethereum.NewTransactor(a.client, key, ethereum.TransactorConfig{
		ChainID:            a.chainID,
		GasHeadroomPercent: a.cfg.GasHeadroomPercent,
		Logger:             a.logger,
	})
}

func (a *app) waiter() (*ethereum.ConfirmationWaiter, error) {
	return ethereum.NewConfirmationWaiter(a.client, ethereum.WaiterConfig{
		Timeout:      a.cfg.ConfirmationTimeout,
		PollInterval: a.cfg.PollInterval,
		Logger:       a.logger,
	})
}

func (a *app) weth(tx outbound.TxSubmitter) (*ethereum.WrappedNative, error) {
	addr, err := a.book.Address(config.RoleWrappedNative)
	if err != nil {
		return nil, err
	}
	return ethereum.NewWrappedNative(addr, a.reads, tx)
}

func (a *app) registry() (*ethereum.PoolRegistry, error) {
	addr, err := a.book.Address(config.RolePoolAddressesProvider)
	if err != nil {
		return nil, err
	}
	return ethereum.NewPoolRegistry(a.reads, addr)
}

func (a *app) feed(role config.Role) (*ethereum.PriceFeed, error) {
	addr, err := a.book.Address(role)
	if err != nil {
		return nil, err
	}
	return ethereum.NewPriceFeed(addr, a.reads)
}

func (a *app) orchestrator() (*borrow_orchestrator.Service, error) {
	tx, err := a.transactor()
	if err != nil {
		return nil, err
	}
	waiter, err := a.waiter()
	if err != nil {
		return nil, err
	}
	weth, err := a.weth(tx)
	if err != nil {
		return nil, err
	}
	registry, err := a.registry()
	if err != nil {
		return nil, err
	}
	borrowFeed, err := a.feed(config.RoleBorrowAssetFeed)
	if err != nil {
		return nil, err
	}
	asset, err := a.book.Address(config.RoleBorrowAsset)
	if err != nil {
		return nil, err
	}
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}

	deps := borrow_orchestrator.Dependencies{
		Account:     tx.From(),
		WETH:        weth,
		Registry:    registry,
		BorrowAsset: asset,
		BorrowFeed:  borrowFeed,
		Contracts:   ethereum.NewContracts(a.reads, tx, entity.NativeDecimals),
		Chain:       waiter,
		Metrics:     metrics,
	}
	if _, ok, err := a.book.Optional(config.RoleReferenceFeed); err != nil {
		return nil, err
	} else if ok {
		ref, err := a.feed(config.RoleReferenceFeed)
		if err != nil {
			return nil, err
		}
		deps.ReferenceFeed = ref
	}

	svcCfg, err := serviceConfig(a.cfg)
	if err != nil {
		return nil, err
	}
	svcCfg.Logger = a.logger
	return borrow_orchestrator.NewService(svcCfg, deps)
}

// serviceConfig maps the loaded configuration onto the orchestrator's.
func serviceConfig(cfg config.Config) (borrow_orchestrator.Config, error) {
	margin, err := borrow_orchestrator.ParseMargin(cfg.SafetyMargin)
	if err != nil {
		return borrow_orchestrator.Config{}, err
	}
	mode, err := entity.ParseRateMode(cfg.RateMode)
	if err != nil {
		return borrow_orchestrator.Config{}, err
	}
	return borrow_orchestrator.Config{
		Confirmations: cfg.Confirmations,
		MarginBps:     margin,
		RateMode:      mode,
		ReferralCode:  cfg.ReferralCode,
		MaxQuoteAge:   cfg.MaxQuoteAge,
	}, nil
}

// wrap converts amount of ETH to WETH and reports the new balance.
func (a *app) wrap(ctx context.Context, amount *big.Int) error {
	tx, err := a.transactor()
	if err != nil {
		return err
	}
	waiter, err := a.waiter()
	if err != nil {
		return err
	}
	weth, err := a.weth(tx)
	if err != nil {
		return err
	}

	pending, err := weth.Wrap(ctx, amount)
	if err != nil {
		return fmt.Errorf("wrapping: %w", err)
	}
	receipt, err := waiter.WaitConfirmed(ctx, pending, a.cfg.Confirmations)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", pending.Hash.Hex(), err)
	}
	balance, err := weth.BalanceOf(ctx, tx.From())
	if err != nil {
		return err
	}
	a.logger.Info("wrapped",
		"eth", entity.FormatUnits(amount, entity.NativeDecimals),
		"tx", receipt.Hash.Hex(),
		"block", receipt.BlockNumber,
		"weth_balance", entity.FormatUnits(balance, entity.NativeDecimals))
	return nil
}

// position prints the lending pool's view of an account.
func (a *app) position(ctx context.Context, account string) error {
	tx, err := a.transactor()
	if err != nil {
		return err
	}
	who := tx.From()
	if account != "" {
		if !common.IsHexAddress(account) {
			return fmt.Errorf("invalid account %q", account)
		}
		who = common.HexToAddress(account)
	}

	registry, err := a.registry()
	if err != nil {
		return err
	}
	poolAddr, err := registry.ResolvePool(ctx)
	if err != nil {
		return err
	}
	pool, err := ethereum.NewLendingPool(poolAddr, a.reads, tx, entity.NativeDecimals)
	if err != nil {
		return err
	}
	pos, err := pool.GetAccountData(ctx, who)
	if err != nil {
		return err
	}

	var value *big.Int
	var valueDecimals uint8
	if _, ok, _ := a.book.Optional(config.RoleReferenceFeed); ok {
		ref, err := a.feed(config.RoleReferenceFeed)
		if err != nil {
			return err
		}
		if q, err := ref.LatestQuote(ctx); err != nil {
			a.logger.Warn("reference quote unavailable", "error", err)
		} else {
			value = new(big.Int).Mul(pos.TotalCollateral, q.Rate)
			value.Quo(value, entity.Pow10(pos.ReferenceDecimals))
			valueDecimals = q.Decimals
		}
	}

	logPosition(a.logger.With("account", who.Hex(), "pool", poolAddr.Hex()), "position", pos, value, valueDecimals)
	return nil
}

// quotes prints the configured price feeds.
func (a *app) quotes(ctx context.Context) error {
	roles := []config.Role{config.RoleBorrowAssetFeed}
	if _, ok, err := a.book.Optional(config.RoleReferenceFeed); err != nil {
		return err
	} else if ok {
		roles = append(roles, config.RoleReferenceFeed)
	}

	for _, role := range roles {
		feed, err := a.feed(role)
		if err != nil {
			return err
		}
		q, err := feed.LatestQuote(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("quote",
			"feed", string(role),
			"address", feed.Address().Hex(),
			"rate", q.String(),
			"decimals", q.Decimals,
			"round", q.RoundID,
			"updated_at", q.UpdatedAt)
	}
	return nil
}
