package borrow_orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-research/stl/stl-borrow/internal/domain/entity"
	"github.com/archon-research/stl/stl-borrow/internal/ports/outbound"
	"github.com/archon-research/stl/stl-borrow/internal/testutil"
)

type recordedStep struct {
	step   entity.Step
	status string
}

type mockMetrics struct {
	mu       sync.Mutex
	steps    []recordedStep
	runState entity.RunState
	runCalls int
	status   string
}

func (m *mockMetrics) RecordStep(_ context.Context, step entity.Step, _ time.Duration, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, recordedStep{step: step, status: status})
}

func (m *mockMetrics) RecordRun(_ context.Context, final entity.RunState, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runCalls++
	m.runState = final
	m.status = status
}

func newFake(t *testing.T) *testutil.FakeLending {
	t.Helper()
	return testutil.NewFakeLending(testutil.Units(t, "10", 18))
}

func deps(f *testutil.FakeLending) Dependencies {
	return Dependencies{
		Account:     f.Account,
		WETH:        f.WETH(),
		Registry:    f.Registry(),
		BorrowAsset: testutil.FakeDAI,
		BorrowFeed:  f.BorrowFeed(),
		Contracts:   f,
		Chain:       f,
	}
}

func newService(t *testing.T, f *testutil.FakeLending, cfg Config, mutate ...func(*Dependencies)) *Service {
	t.Helper()
	d := deps(f)
	for _, m := range mutate {
		m(&d)
	}
	if cfg.Logger == nil {
		cfg.Logger = testutil.DiscardLogger()
	}
	svc, err := NewService(cfg, d)
	require.NoError(t, err)
	return svc
}

func TestNewService_Validation(t *testing.T) {
	f := newFake(t)
	tests := []struct {
		name   string
		cfg    Config
		mutate func(*Dependencies)
	}{
		{name: "nil weth", mutate: func(d *Dependencies) { d.WETH = nil }},
		{name: "nil registry", mutate: func(d *Dependencies) { d.Registry = nil }},
		{name: "nil borrow feed", mutate: func(d *Dependencies) { d.BorrowFeed = nil }},
		{name: "nil contracts", mutate: func(d *Dependencies) { d.Contracts = nil }},
		{name: "nil chain", mutate: func(d *Dependencies) { d.Chain = nil }},
		{name: "zero account", mutate: func(d *Dependencies) { d.Account = common.Address{} }},
		{name: "zero borrow asset", mutate: func(d *Dependencies) { d.BorrowAsset = common.Address{} }},
		{name: "unknown borrow asset", mutate: func(d *Dependencies) { d.BorrowAsset = common.HexToAddress("0x01") }},
		{name: "margin of one", cfg: Config{MarginBps: 10_000}},
		{name: "negative margin", cfg: Config{MarginBps: -5}},
		{name: "bad rate mode", cfg: Config{RateMode: entity.RateMode(7)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := deps(f)
			if tt.mutate != nil {
				tt.mutate(&d)
			}
			_, err := NewService(tt.cfg, d)
			assert.Error(t, err)
		})
	}
}

func TestNewService_Defaults(t *testing.T) {
	svc := newService(t, newFake(t), Config{})
	assert.Equal(t, uint64(1), svc.config.Confirmations)
	assert.Equal(t, int64(DefaultMarginBps), svc.config.MarginBps)
	assert.Equal(t, entity.RateModeStable, svc.config.RateMode)
}

func TestRun_BorrowWithoutRepay(t *testing.T) {
	f := newFake(t)
	svc := newService(t, f, Config{Confirmations: 2})

	report, err := svc.Run(context.Background(), Request{EthAmount: testutil.Units(t, "1", 18)})
	require.NoError(t, err)

	assert.Equal(t, entity.StateDone, report.State)
	assert.Equal(t, testutil.FakePool, report.Pool)
	assert.Equal(t, testutil.Units(t, "1", 18), report.Wrapped)
	assert.Equal(t, testutil.Units(t, "1", 18), report.Deposited)
	assert.Equal(t, testutil.Units(t, "1520", 18), report.Borrowed)
	assert.Equal(t, "DAI", report.AssetSymbol)
	assert.Nil(t, report.Repaid)

	assert.Equal(t, testutil.Units(t, "1520", 18), f.Debt())
	assert.Equal(t, testutil.Units(t, "1", 18), f.Collateral())
	assert.Equal(t, testutil.Units(t, "1520", 18), f.Balance(testutil.FakeDAI, f.Account))

	assert.Equal(t, []string{
		"submit wrap", "confirm wrap",
		"submit approve:WETH", "confirm approve:WETH",
		"submit deposit", "confirm deposit",
		"submit borrow", "confirm borrow",
	}, f.Submissions())

	for _, step := range []entity.Step{entity.StepWrap, entity.StepApproveDeposit, entity.StepDeposit, entity.StepBorrow} {
		receipt, ok := report.Receipts[step]
		require.True(t, ok, "receipt for %s", step)
		assert.Equal(t, uint64(2), receipt.Confirmations)
	}

	require.Len(t, report.Snapshots, 2)
	assert.Equal(t, entity.StepDeposit, report.Snapshots[0].After)
	assert.Equal(t, entity.StepBorrow, report.Snapshots[1].After)
	assert.Nil(t, report.Snapshots[0].CollateralValue)
}

func TestRun_BorrowAndRepay(t *testing.T) {
	f := newFake(t)
	svc := newService(t, f, Config{RateMode: entity.RateModeVariable})

	report, err := svc.Run(context.Background(), Request{EthAmount: testutil.Units(t, "1", 18), Repay: true})
	require.NoError(t, err)

	assert.Equal(t, entity.StateDone, report.State)
	assert.Equal(t, report.Borrowed, report.Repaid)
	assert.Equal(t, 0, f.Debt().Sign())
	assert.Equal(t, 0, f.Balance(testutil.FakeDAI, f.Account).Sign())

	assert.Equal(t, []string{
		"submit wrap", "confirm wrap",
		"submit approve:WETH", "confirm approve:WETH",
		"submit deposit", "confirm deposit",
		"submit borrow", "confirm borrow",
		"submit approve:DAI", "confirm approve:DAI",
		"submit repay", "confirm repay",
	}, f.Submissions())

	require.Len(t, report.Snapshots, 3)
	assert.Equal(t, entity.StepRepay, report.Snapshots[2].After)
	assert.Equal(t, 0, report.Snapshots[2].Position.TotalDebt.Sign())
}

func TestRun_WrapIsOneToOne(t *testing.T) {
	f := newFake(t)
	svc := newService(t, f, Config{})
	amount := testutil.BigInt(t, "1234567890123456789")

	report, err := svc.Run(context.Background(), Request{EthAmount: amount})
	require.NoError(t, err)

	assert.Equal(t, amount, report.Wrapped)
	assert.Equal(t, amount, report.Deposited)
	assert.Equal(t, new(big.Int).Sub(testutil.Units(t, "10", 18), amount), f.NativeBalance)
}

func TestRun_DepositsWholeWETHBalance(t *testing.T) {
	f := newFake(t)
	f.SetBalance(testutil.FakeWETH, f.Account, testutil.Units(t, "0.5", 18))
	svc := newService(t, f, Config{})

	report, err := svc.Run(context.Background(), Request{EthAmount: testutil.Units(t, "1", 18)})
	require.NoError(t, err)

	assert.Equal(t, testutil.Units(t, "1", 18), report.Wrapped)
	assert.Equal(t, testutil.Units(t, "1.5", 18), report.Deposited)
	assert.Equal(t, testutil.Units(t, "1.5", 18), f.Collateral())
}

func TestRun_ApprovalFailurePreventsDeposit(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*testutil.FakeLending)
		wantErr error
	}{
		{
			name: "approval rejected",
			setup: func(f *testutil.FakeLending) {
				f.FailSubmit["approve:WETH"] = errors.New("execution reverted")
			},
			wantErr: entity.ErrSubmissionRejected,
		},
		{
			name: "approval never confirmed",
			setup: func(f *testutil.FakeLending) {
				f.FailConfirm["approve:WETH"] = fmt.Errorf("%w: 2m0s elapsed", entity.ErrFinalizationTimeout)
			},
			wantErr: entity.ErrFinalizationTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFake(t)
			tt.setup(f)
			svc := newService(t, f, Config{})

			report, err := svc.Run(context.Background(), Request{EthAmount: testutil.Units(t, "1", 18)})
			require.Error(t, err)
			assert.Nil(t, report)
			assert.ErrorIs(t, err, tt.wantErr)

			stepErr, ok := IsStepError(err)
			require.True(t, ok)
			assert.Equal(t, entity.StepApproveDeposit, stepErr.Step)
			assert.Equal(t, entity.StatePoolResolved, stepErr.State)

			assert.NotContains(t, f.Submissions(), "submit deposit")
			assert.Equal(t, 0, f.Collateral().Sign())
		})
	}
}

func TestRun_StaleQuote(t *testing.T) {
	f := newFake(t)
	f.QuoteUpdatedAt = f.HeadTime.Add(-2 * time.Hour)
	svc := newService(t, f, Config{MaxQuoteAge: time.Hour})

	_, err := svc.Run(context.Background(), Request{EthAmount: testutil.Units(t, "1", 18)})
	require.ErrorIs(t, err, entity.ErrStaleQuote)

	stepErr, ok := IsStepError(err)
	require.True(t, ok)
	assert.Equal(t, entity.StepFetchQuote, stepErr.Step)
	assert.Equal(t, entity.StateQueried, stepErr.State)
	assert.NotContains(t, f.Submissions(), "submit borrow")
}

func TestRun_QuoteAgeCheckDisabledByDefault(t *testing.T) {
	f := newFake(t)
	f.QuoteUpdatedAt = f.HeadTime.Add(-48 * time.Hour)
	svc := newService(t, f, Config{})

	_, err := svc.Run(context.Background(), Request{EthAmount: testutil.Units(t, "1", 18)})
	require.NoError(t, err)
}

func TestRun_NothingToBorrow(t *testing.T) {
	f := newFake(t)
	f.LTVBps = 0
	svc := newService(t, f, Config{})

	_, err := svc.Run(context.Background(), Request{EthAmount: testutil.Units(t, "1", 18)})
	require.ErrorIs(t, err, entity.ErrNothingToBorrow)

	stepErr, ok := IsStepError(err)
	require.True(t, ok)
	assert.Equal(t, entity.StepSizeBorrow, stepErr.Step)
	assert.NotContains(t, f.Submissions(), "submit borrow")
}

func TestRun_RepaySkippedWhenAllowanceShort(t *testing.T) {
	f := newFake(t)
	f.ApprovalCap[testutil.FakeDAI] = testutil.Units(t, "100", 18)
	svc := newService(t, f, Config{})

	_, err := svc.Run(context.Background(), Request{EthAmount: testutil.Units(t, "1", 18), Repay: true})
	require.ErrorIs(t, err, entity.ErrInsufficientAllowance)

	stepErr, ok := IsStepError(err)
	require.True(t, ok)
	assert.Equal(t, entity.StepRepay, stepErr.Step)
	assert.Equal(t, entity.StateApprovedRepay, stepErr.State)

	assert.Contains(t, f.Submissions(), "confirm approve:DAI")
	assert.NotContains(t, f.Submissions(), "submit repay")
	assert.Equal(t, testutil.Units(t, "1520", 18), f.Debt())
}

func TestRun_RejectsNonPositiveAmount(t *testing.T) {
	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		f := newFake(t)
		svc := newService(t, f, Config{})

		_, err := svc.Run(context.Background(), Request{EthAmount: amount})
		require.ErrorIs(t, err, entity.ErrInvalidAmount)
		assert.Empty(t, f.Journal)
	}
}

func TestRun_WrapRejected(t *testing.T) {
	f := testutil.NewFakeLending(testutil.Units(t, "0.5", 18))
	svc := newService(t, f, Config{})

	_, err := svc.Run(context.Background(), Request{EthAmount: testutil.Units(t, "1", 18)})
	require.ErrorIs(t, err, entity.ErrSubmissionRejected)

	stepErr, ok := IsStepError(err)
	require.True(t, ok)
	assert.Equal(t, entity.StepWrap, stepErr.Step)
	assert.Equal(t, entity.StateIdle, stepErr.State)
}

func TestRun_PositionQueryFailureAborts(t *testing.T) {
	f := newFake(t)
	f.FailRead["accountData"] = errors.New("connection reset")
	svc := newService(t, f, Config{})

	_, err := svc.Run(context.Background(), Request{EthAmount: testutil.Units(t, "1", 18)})
	require.Error(t, err)

	stepErr, ok := IsStepError(err)
	require.True(t, ok)
	assert.Equal(t, entity.StepQueryPosition, stepErr.Step)
	assert.Equal(t, entity.StateDeposited, stepErr.State)
}

func TestRun_ResolvesPoolEveryRun(t *testing.T) {
	f := newFake(t)
	svc := newService(t, f, Config{})

	first, err := svc.Run(context.Background(), Request{EthAmount: testutil.Units(t, "1", 18)})
	require.NoError(t, err)
	second, err := svc.Run(context.Background(), Request{EthAmount: testutil.Units(t, "1", 18)})
	require.NoError(t, err)

	assert.Equal(t, first.Pool, second.Pool)

	resolves := 0
	for _, entry := range f.Journal {
		if entry == "read resolvePool" {
			resolves++
		}
	}
	assert.Equal(t, 2, resolves)
}

func TestRun_ReferenceValuation(t *testing.T) {
	f := newFake(t)
	svc := newService(t, f, Config{}, func(d *Dependencies) { d.ReferenceFeed = f.USDFeed() })

	report, err := svc.Run(context.Background(), Request{EthAmount: testutil.Units(t, "1", 18)})
	require.NoError(t, err)

	require.NotEmpty(t, report.Snapshots)
	snap := report.Snapshots[0]
	assert.Equal(t, uint8(8), snap.ValueDecimals)
	assert.Equal(t, "2000", entity.FormatUnits(snap.CollateralValue, snap.ValueDecimals))
}

func TestRun_RecordsMetrics(t *testing.T) {
	f := newFake(t)
	f.FailSubmit["borrow"] = errors.New("health factor too low")
	metrics := &mockMetrics{}
	svc := newService(t, f, Config{}, func(d *Dependencies) { d.Metrics = metrics })

	_, err := svc.Run(context.Background(), Request{EthAmount: testutil.Units(t, "1", 18)})
	require.ErrorIs(t, err, entity.ErrSubmissionRejected)

	require.Len(t, metrics.steps, 8)
	for _, s := range metrics.steps[:7] {
		assert.Equal(t, "ok", s.status, "step %s", s.step)
	}
	assert.Equal(t, recordedStep{step: entity.StepBorrow, status: "error"}, metrics.steps[7])
	assert.Equal(t, 1, metrics.runCalls)
	assert.Equal(t, entity.StateSized, metrics.runState)
	assert.Equal(t, "error", metrics.status)
}

var _ outbound.MetricsRecorder = (*mockMetrics)(nil)
