// Package borrow_orchestrator drives one wrap, deposit, borrow and optional repay run
// against an Aave v2 style lending pool.
//
// Every state-changing step is submitted, then awaited to the configured confirmation depth
// before the next step starts. The first failure aborts the run; nothing is retried or rolled back.
package borrow_orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/stl/stl-borrow/internal/domain/entity"
	"github.com/archon-research/stl/stl-borrow/internal/ports/outbound"
)

const (
	// tracerName is the instrumentation name for this service.
	tracerName = "github.com/archon-research/stl/stl-borrow/internal/services/borrow_orchestrator"
)

// Config holds configuration for the borrow orchestrator.
type Config struct {
	// Confirmations is the depth every state-changing step must reach.
	Confirmations uint64

	// MarginBps is the share of available capacity to borrow, in (0, 10000).
	MarginBps int64

	RateMode     entity.RateMode
	ReferralCode uint16

	// MaxQuoteAge rejects borrow quotes older than this relative to the head block.
	// Zero disables the check.
	MaxQuoteAge time.Duration

	Logger *slog.Logger
}

func configDefaults() Config {
	return Config{
		Confirmations: 1,
		MarginBps:     DefaultMarginBps,
		RateMode:      entity.RateModeStable,
		Logger:        slog.Default(),
	}
}

// Dependencies are the collaborators a run talks to.
type Dependencies struct {
	Account     common.Address
	WETH        outbound.WrappedNative
	Registry    outbound.PoolRegistry
	BorrowAsset common.Address
	BorrowFeed  outbound.PriceFeed
	Contracts   outbound.ContractFactory
	Chain       outbound.Chain

	// ReferenceFeed values collateral in a quote currency (ETH/USD). Optional.
	ReferenceFeed outbound.PriceFeed
	// Metrics is optional.
	Metrics outbound.MetricsRecorder
}

// Request parameterises a single run.
type Request struct {
	// EthAmount is the native amount to wrap, in wei.
	EthAmount *big.Int
	// Repay repays the full borrowed amount after borrowing.
	Repay bool
}

// Report describes a completed run.
type Report struct {
	Account       common.Address
	Pool          common.Address
	State         entity.RunState
	Wrapped       *big.Int
	Deposited     *big.Int
	Quote         *entity.PriceQuote
	AssetSymbol   string
	AssetDecimals uint8
	Borrowed      *big.Int
	Repaid        *big.Int
	Receipts      map[entity.Step]outbound.TxReceipt
	Snapshots     []entity.PositionSnapshot
}

// StepError reports the step a run failed in and the state it had reached.
type StepError struct {
	Step  entity.Step
	State entity.RunState
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed in state %s: %v", e.Step, e.State, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Service runs borrow orchestrations.
type Service struct {
	config  Config
	deps    Dependencies
	asset   outbound.Token
	logger  *slog.Logger
	metrics outbound.MetricsRecorder
}

// NewService creates a new borrow orchestrator.
func NewService(config Config, deps Dependencies) (*Service, error) {
	if deps.WETH == nil {
		return nil, fmt.Errorf("weth cannot be nil")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if deps.BorrowFeed == nil {
		return nil, fmt.Errorf("borrow feed cannot be nil")
	}
	if deps.Contracts == nil {
		return nil, fmt.Errorf("contracts cannot be nil")
	}
	if deps.Chain == nil {
		return nil, fmt.Errorf("chain cannot be nil")
	}
	if deps.Account == (common.Address{}) {
		return nil, fmt.Errorf("account cannot be the zero address")
	}
	if deps.BorrowAsset == (common.Address{}) {
		return nil, fmt.Errorf("borrow asset cannot be the zero address")
	}

	defaults := configDefaults()
	if config.Confirmations == 0 {
		config.Confirmations = defaults.Confirmations
	}
	if config.MarginBps == 0 {
		config.MarginBps = defaults.MarginBps
	}
	if config.RateMode == 0 {
		config.RateMode = defaults.RateMode
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.MarginBps < 0 || config.MarginBps >= bpsDenominator {
		return nil, fmt.Errorf("safety margin must be between 0 and %d bps exclusive, got %d", bpsDenominator, config.MarginBps)
	}
	if config.RateMode != entity.RateModeStable && config.RateMode != entity.RateModeVariable {
		return nil, fmt.Errorf("unsupported rate mode %s", config.RateMode)
	}

	asset, err := deps.Contracts.Token(deps.BorrowAsset)
	if err != nil {
		return nil, fmt.Errorf("binding borrow asset: %w", err)
	}

	return &Service{
		config:  config,
		deps:    deps,
		asset:   asset,
		logger:  config.Logger.With("component", "borrow-orchestrator"),
		metrics: deps.Metrics,
	}, nil
}

// run is the mutable state of one orchestration.
type run struct {
	state  entity.RunState
	report *Report

	pool      outbound.LendingPool
	available *big.Int
	refDec    uint8
	baseline  *entity.AccountPosition
}

// Run executes wrap, resolve, approve, deposit, query, quote, size, borrow and, when
// requested, approve and repay. The returned error is a *StepError.
func (s *Service) Run(ctx context.Context, req Request) (*Report, error) {
	if err := entity.ValidatePositiveAmount(req.EthAmount); err != nil {
		return nil, &StepError{Step: entity.StepWrap, State: entity.StateIdle, Err: err}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "borrow.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("account", s.deps.Account.Hex()),
			attribute.String("eth_amount", req.EthAmount.String()),
			attribute.Bool("repay", req.Repay),
		),
	)
	defer span.End()

	r := &run{
		state: entity.StateIdle,
		report: &Report{
			Account:  s.deps.Account,
			Receipts: make(map[entity.Step]outbound.TxReceipt),
		},
	}

	s.logger.Info("starting run",
		"account", s.deps.Account.Hex(),
		"eth", entity.FormatUnits(req.EthAmount, entity.NativeDecimals),
		"confirmations", s.config.Confirmations,
		"repay", req.Repay)

	err := s.execute(ctx, r, req)
	if err == nil {
		err = r.advance(entity.StateDone)
	}
	r.report.State = r.state

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		s.recordRun(ctx, r.state, "error")
		return nil, err
	}

	span.SetAttributes(attribute.String("borrowed", r.report.Borrowed.String()))
	s.recordRun(ctx, r.state, "ok")
	s.logger.Info("run complete",
		"pool", r.report.Pool.Hex(),
		"deposited", entity.FormatUnits(r.report.Deposited, entity.NativeDecimals),
		"borrowed", entity.FormatUnits(r.report.Borrowed, r.report.AssetDecimals),
		"asset", r.report.AssetSymbol)
	return r.report, nil
}

// plannedStep is one entry of a run's step sequence.
type plannedStep struct {
	step entity.Step
	fn   func(context.Context, *run) error
}

func (s *Service) execute(ctx context.Context, r *run, req Request) error {
	steps := []plannedStep{
		{entity.StepWrap, func(ctx context.Context, r *run) error { return s.wrap(ctx, r, req.EthAmount) }},
		{entity.StepResolvePool, s.resolvePool},
		{entity.StepApproveDeposit, s.approveDeposit},
		{entity.StepDeposit, s.deposit},
		{entity.StepQueryPosition, s.queryPosition},
		{entity.StepFetchQuote, s.fetchQuote},
		{entity.StepSizeBorrow, s.sizeBorrow},
		{entity.StepBorrow, s.borrow},
	}
	if req.Repay {
		steps = append(steps,
			plannedStep{entity.StepApproveRepay, s.approveRepay},
			plannedStep{entity.StepRepay, s.repay},
		)
	}

	for _, st := range steps {
		if err := s.runStep(ctx, r, st.step, st.fn); err != nil {
			return err
		}
	}
	return nil
}

// runStep wraps fn in a span and metrics, then advances the run to the step's target state.
func (s *Service) runStep(ctx context.Context, r *run, step entity.Step, fn func(context.Context, *run) error) error {
	target, ok := step.Target()
	if !ok {
		return &StepError{Step: step, State: r.state, Err: fmt.Errorf("unknown step")}
	}

	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "borrow."+string(step),
		trace.WithAttributes(
			attribute.String("step", string(step)),
			attribute.String("state.from", r.state.String()),
		),
	)
	defer span.End()

	err := fn(ctx, r)
	if err == nil {
		err = r.advance(target)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(step)+" failed")
		s.recordStep(ctx, step, time.Since(start), "error")
		s.logger.Error("step failed", "step", step, "state", r.state, "error", err)
		return &StepError{Step: step, State: r.state, Err: err}
	}

	span.SetAttributes(attribute.String("state.to", r.state.String()))
	s.recordStep(ctx, step, time.Since(start), "ok")
	return nil
}

func (r *run) advance(next entity.RunState) error {
	if !r.state.CanAdvanceTo(next) {
		return fmt.Errorf("illegal transition %s -> %s", r.state, next)
	}
	r.state = next
	return nil
}

// submitAndWait waits for tx to reach the configured depth and records the receipt under step.
func (s *Service) submitAndWait(ctx context.Context, r *run, step entity.Step, submit func() (outbound.PendingTx, error)) error {
	tx, err := submit()
	if err != nil {
		return err
	}
	s.logger.Info("submitted", "step", step, "tx", tx.Hash.Hex(), "nonce", tx.Nonce)

	receipt, err := s.deps.Chain.WaitConfirmed(ctx, tx, s.config.Confirmations)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", tx.Hash.Hex(), err)
	}
	r.report.Receipts[step] = receipt
	s.logger.Info("confirmed", "step", step, "tx", tx.Hash.Hex(),
		"block", receipt.BlockNumber, "confirmations", receipt.Confirmations)
	return nil
}

func (s *Service) wrap(ctx context.Context, r *run, amount *big.Int) error {
	before, err := s.deps.WETH.BalanceOf(ctx, s.deps.Account)
	if err != nil {
		return fmt.Errorf("reading weth balance: %w", err)
	}

	err = s.submitAndWait(ctx, r, entity.StepWrap, func() (outbound.PendingTx, error) {
		return s.deps.WETH.Wrap(ctx, amount)
	})
	if err != nil {
		return err
	}

	balance, err := s.deps.WETH.BalanceOf(ctx, s.deps.Account)
	if err != nil {
		return fmt.Errorf("reading weth balance: %w", err)
	}
	minted := new(big.Int).Sub(balance, before)
	if minted.Cmp(amount) != 0 {
		s.logger.Warn("weth minted differs from wrapped amount",
			"wrapped", entity.FormatUnits(amount, entity.NativeDecimals),
			"minted", entity.FormatUnits(minted, entity.NativeDecimals))
	}

	r.report.Wrapped = new(big.Int).Set(amount)
	r.report.Deposited = balance
	s.logger.Info("wrapped", "weth_balance", entity.FormatUnits(balance, entity.NativeDecimals))
	return nil
}

func (s *Service) resolvePool(ctx context.Context, r *run) error {
	addr, err := s.deps.Registry.ResolvePool(ctx)
	if err != nil {
		return fmt.Errorf("resolving lending pool: %w", err)
	}
	pool, err := s.deps.Contracts.LendingPool(addr)
	if err != nil {
		return fmt.Errorf("binding lending pool %s: %w", addr.Hex(), err)
	}
	r.pool = pool
	r.report.Pool = addr
	s.logger.Info("lending pool resolved", "pool", addr.Hex())

	if pos, err := pool.GetAccountData(ctx, s.deps.Account); err != nil {
		s.logger.Warn("baseline position unavailable", "error", err)
	} else {
		r.baseline = pos
	}
	return nil
}

func (s *Service) approveDeposit(ctx context.Context, r *run) error {
	return s.submitAndWait(ctx, r, entity.StepApproveDeposit, func() (outbound.PendingTx, error) {
		return s.deps.WETH.Approve(ctx, r.pool.Address(), r.report.Deposited)
	})
}

func (s *Service) deposit(ctx context.Context, r *run) error {
	err := s.submitAndWait(ctx, r, entity.StepDeposit, func() (outbound.PendingTx, error) {
		return r.pool.Deposit(ctx, s.deps.WETH.Address(), r.report.Deposited, s.deps.Account, s.config.ReferralCode)
	})
	if err != nil {
		return err
	}
	s.logger.Info("deposited", "weth", entity.FormatUnits(r.report.Deposited, entity.NativeDecimals))
	return nil
}

func (s *Service) queryPosition(ctx context.Context, r *run) error {
	pos, err := r.pool.GetAccountData(ctx, s.deps.Account)
	if err != nil {
		return fmt.Errorf("querying account data: %w", err)
	}
	r.available = pos.AvailableToBorrow
	r.refDec = pos.ReferenceDecimals

	if r.baseline != nil && pos.AvailableToBorrow.Cmp(r.baseline.AvailableToBorrow) < 0 {
		s.logger.Warn("available to borrow decreased after deposit",
			"before", entity.FormatUnits(r.baseline.AvailableToBorrow, pos.ReferenceDecimals),
			"after", entity.FormatUnits(pos.AvailableToBorrow, pos.ReferenceDecimals))
	}
	s.appendSnapshot(ctx, r, entity.StepDeposit, pos)

	s.logger.Info("position",
		"collateral", entity.FormatUnits(pos.TotalCollateral, pos.ReferenceDecimals),
		"debt", entity.FormatUnits(pos.TotalDebt, pos.ReferenceDecimals),
		"available", entity.FormatUnits(pos.AvailableToBorrow, pos.ReferenceDecimals))
	return nil
}

func (s *Service) fetchQuote(ctx context.Context, r *run) error {
	quote, err := s.deps.BorrowFeed.LatestQuote(ctx)
	if err != nil {
		return fmt.Errorf("reading feed %s: %w", s.deps.BorrowFeed.Address().Hex(), err)
	}
	if s.config.MaxQuoteAge > 0 {
		now, err := s.deps.Chain.LatestBlockTime(ctx)
		if err != nil {
			return fmt.Errorf("reading head timestamp: %w", err)
		}
		if err := quote.CheckFresh(now, s.config.MaxQuoteAge); err != nil {
			return err
		}
	}
	r.report.Quote = quote
	s.logger.Info("quote", "feed", s.deps.BorrowFeed.Address().Hex(), "rate", quote.String(),
		"decimals", quote.Decimals, "updated_at", quote.UpdatedAt)
	return nil
}

func (s *Service) sizeBorrow(ctx context.Context, r *run) error {
	decimals, err := s.asset.Decimals(ctx)
	if err != nil {
		return fmt.Errorf("reading asset decimals: %w", err)
	}
	symbol, err := s.asset.Symbol(ctx)
	if err != nil {
		s.logger.Warn("asset symbol unavailable", "error", err)
		symbol = s.deps.BorrowAsset.Hex()
	}

	amount, err := SizeBorrow(r.available, r.refDec, r.report.Quote, decimals, s.config.MarginBps)
	if err != nil {
		return err
	}
	r.report.AssetDecimals = decimals
	r.report.AssetSymbol = symbol
	r.report.Borrowed = amount
	s.logger.Info("sized borrow", "amount", entity.FormatUnits(amount, decimals), "asset", symbol,
		"margin_bps", s.config.MarginBps)
	return nil
}

func (s *Service) borrow(ctx context.Context, r *run) error {
	err := s.submitAndWait(ctx, r, entity.StepBorrow, func() (outbound.PendingTx, error) {
		return r.pool.Borrow(ctx, s.deps.BorrowAsset, r.report.Borrowed, s.config.RateMode, s.config.ReferralCode, s.deps.Account)
	})
	if err != nil {
		return err
	}
	s.logger.Info("borrowed",
		"amount", entity.FormatUnits(r.report.Borrowed, r.report.AssetDecimals),
		"asset", r.report.AssetSymbol,
		"rate_mode", s.config.RateMode)
	s.snapshot(ctx, r, entity.StepBorrow)
	return nil
}

func (s *Service) approveRepay(ctx context.Context, r *run) error {
	return s.submitAndWait(ctx, r, entity.StepApproveRepay, func() (outbound.PendingTx, error) {
		return s.asset.Approve(ctx, r.pool.Address(), r.report.Borrowed)
	})
}

func (s *Service) repay(ctx context.Context, r *run) error {
	amount := r.report.Borrowed
	allowance, err := s.asset.Allowance(ctx, s.deps.Account, r.pool.Address())
	if err != nil {
		return fmt.Errorf("reading allowance: %w", err)
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: allowance %s below repay amount %s", entity.ErrInsufficientAllowance,
			entity.FormatUnits(allowance, r.report.AssetDecimals), entity.FormatUnits(amount, r.report.AssetDecimals))
	}

	err = s.submitAndWait(ctx, r, entity.StepRepay, func() (outbound.PendingTx, error) {
		return r.pool.Repay(ctx, s.deps.BorrowAsset, amount, s.config.RateMode, s.deps.Account)
	})
	if err != nil {
		return err
	}
	r.report.Repaid = new(big.Int).Set(amount)
	s.logger.Info("repaid", "amount", entity.FormatUnits(amount, r.report.AssetDecimals), "asset", r.report.AssetSymbol)
	s.snapshot(ctx, r, entity.StepRepay)
	return nil
}

// snapshot re-queries the position for the report. Failures are logged, not returned.
func (s *Service) snapshot(ctx context.Context, r *run, after entity.Step) {
	pos, err := r.pool.GetAccountData(ctx, s.deps.Account)
	if err != nil {
		s.logger.Warn("position snapshot failed", "after", after, "error", err)
		return
	}
	s.appendSnapshot(ctx, r, after, pos)
}

func (s *Service) appendSnapshot(ctx context.Context, r *run, after entity.Step, pos *entity.AccountPosition) {
	snap := entity.PositionSnapshot{After: after, Position: pos}
	if s.deps.ReferenceFeed != nil {
		quote, err := s.deps.ReferenceFeed.LatestQuote(ctx)
		if err != nil {
			s.logger.Warn("reference quote unavailable", "after", after, "error", err)
		} else {
			snap.CollateralValue = valueIn(pos.TotalCollateral, pos.ReferenceDecimals, quote)
			snap.ValueDecimals = quote.Decimals
		}
	}
	r.report.Snapshots = append(r.report.Snapshots, snap)
}

func (s *Service) recordStep(ctx context.Context, step entity.Step, d time.Duration, status string) {
	if s.metrics != nil {
		s.metrics.RecordStep(ctx, step, d, status)
	}
}

func (s *Service) recordRun(ctx context.Context, final entity.RunState, status string) {
	if s.metrics != nil {
		s.metrics.RecordRun(ctx, final, status)
	}
}

// IsStepError reports whether err came from a run step and returns it.
func IsStepError(err error) (*StepError, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
