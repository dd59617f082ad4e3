// Package main implements aave-borrow, a CLI that wraps ETH, deposits it as collateral
// into an Aave v2 lending pool, borrows against it and optionally repays.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/archon-research/stl/stl-borrow/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl/stl-borrow/internal/config"
	"github.com/archon-research/stl/stl-borrow/internal/domain/entity"
	"github.com/archon-research/stl/stl-borrow/internal/pkg/env"
	"github.com/archon-research/stl/stl-borrow/internal/services/borrow_orchestrator"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if stepErr, ok := borrow_orchestrator.IsStepError(err); ok {
			slog.Error("run failed", "step", stepErr.Step, "state", stepErr.State, "error", stepErr.Err)
		} else {
			slog.Error("fatal", "error", err)
		}
		os.Exit(1)
	}
}

// cliOptions are the flags shared by every subcommand.
type cliOptions struct {
	envFile       string
	configFile    string
	rpcURL        string
	network       string
	confirmations uint64
	margin        string
	rateMode      string
	maxQuoteAge   time.Duration
	reads         string
}

func run(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "aave-borrow",
		Short:         "Wrap ETH, deposit it into Aave v2 and borrow against it",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", ".env", "File of KEY=value pairs loaded into the environment")
	flags.StringVar(&opts.configFile, "config", "", "YAML config file (default $CONFIG_FILE)")
	flags.StringVar(&opts.rpcURL, "rpc-url", "", "JSON-RPC endpoint (default $RPC_URL or http://127.0.0.1:8545)")
	flags.StringVar(&opts.network, "network", "", "Network in the address table (mainnet, hardhat, ...)")
	flags.Uint64Var(&opts.confirmations, "confirmations", 0, "Blocks each transaction must be buried under")
	flags.StringVar(&opts.margin, "margin", "", "Share of available capacity to borrow, e.g. 0.95")
	flags.StringVar(&opts.rateMode, "rate-mode", "", "Interest rate mode: stable or variable")
	flags.DurationVar(&opts.maxQuoteAge, "max-quote-age", 0, "Reject price quotes older than this (0 disables)")
	flags.StringVar(&opts.reads, "reads", "", "Read path: multicall or direct")

	root.AddCommand(
		newRunCmd(opts),
		newWrapCmd(opts),
		newPositionCmd(opts),
		newQuoteCmd(opts),
	)
	return root
}

func newRunCmd(opts *cliOptions) *cobra.Command {
	var (
		eth   string
		repay bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Wrap, deposit, borrow and optionally repay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			amount, err := entity.ParseUnits(eth, entity.NativeDecimals)
			if err != nil {
				return fmt.Errorf("--eth: %w", err)
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				svc, err := a.orchestrator()
				if err != nil {
					return err
				}
				report, err := svc.Run(ctx, borrow_orchestrator.Request{EthAmount: amount, Repay: repay})
				if err != nil {
					return err
				}
				logReport(a.logger, report)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eth, "eth", "0.02", "Amount of ETH to wrap and deposit")
	cmd.Flags().BoolVar(&repay, "repay", false, "Repay the borrowed amount at the end of the run")
	return cmd
}

func newWrapCmd(opts *cliOptions) *cobra.Command {
	var eth string
	cmd := &cobra.Command{
		Use:   "wrap",
		Short: "Wrap ETH into WETH and print the resulting balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			amount, err := entity.ParseUnits(eth, entity.NativeDecimals)
			if err != nil {
				return fmt.Errorf("--eth: %w", err)
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				return a.wrap(ctx, amount)
			})
		},
	}
	cmd.Flags().StringVar(&eth, "eth", "0.02", "Amount of ETH to wrap")
	return cmd
}

func newPositionCmd(opts *cliOptions) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "position",
		Short: "Print an account's collateral, debt and borrowing capacity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				return a.position(ctx, account)
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Account to inspect (default: the PRIVATE_KEY account)")
	return cmd
}

func newQuoteCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quote",
		Short: "Print the borrow asset and reference price feeds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				return a.quotes(ctx)
			})
		},
	}
}

// withApp loads configuration, sets up logging and telemetry, connects to the node and
// calls fn. Telemetry is flushed before returning.
func withApp(ctx context.Context, opts *cliOptions, fn func(context.Context, *app) error) error {
	env.Load(slog.Default(), opts.envFile)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	shutdown, err := initTelemetry(ctx, cfg.Network)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	rpcURL := opts.rpcURL
	if rpcURL == "" {
		rpcURL = env.Get("RPC_URL", "http://127.0.0.1:8545")
	}

	a, err := connect(ctx, logger, cfg, rpcURL)
	if err != nil {
		return err
	}
	defer a.close()

	return fn(ctx, a)
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(opts *cliOptions) (config.Config, error) {
	path := opts.configFile
	if path == "" {
		path = env.Get("CONFIG_FILE", "")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}

	if opts.network != "" {
		cfg.Network = opts.network
	}
	if opts.confirmations != 0 {
		cfg.Confirmations = opts.confirmations
	}
	if opts.margin != "" {
		cfg.SafetyMargin = opts.margin
	}
	if opts.rateMode != "" {
		cfg.RateMode = opts.rateMode
	}
	if opts.maxQuoteAge != 0 {
		cfg.MaxQuoteAge = opts.maxQuoteAge
	}
	if opts.reads != "" {
		cfg.Reads = config.ReadMode(opts.reads)
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func initTelemetry(ctx context.Context, network string) (func(context.Context) error, error) {
	endpoint := env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	tracerCfg := telemetry.TracerConfig{Network: network, OTLPEndpoint: endpoint}
	if endpoint == "" && env.Get("OTEL_TRACES_STDOUT", "") == "true" {
		tracerCfg.StdoutWriter = os.Stderr
	}
	shutdownTracer, err := telemetry.InitTracer(ctx, tracerCfg)
	if err != nil {
		return nil, fmt.Errorf("initializing tracer: %w", err)
	}

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{Network: network, OTLPEndpoint: endpoint})
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}

	return func(ctx context.Context) error {
		metricsErr := shutdownMetrics(ctx)
		if err := shutdownTracer(ctx); err != nil {
			return err
		}
		return metricsErr
	}, nil
}

func logReport(logger *slog.Logger, r *borrow_orchestrator.Report) {
	logger.Info("report",
		"account", r.Account.Hex(),
		"pool", r.Pool.Hex(),
		"state", r.State,
		"wrapped", entity.FormatUnits(r.Wrapped, entity.NativeDecimals),
		"deposited", entity.FormatUnits(r.Deposited, entity.NativeDecimals),
		"quote", r.Quote.String(),
		"borrowed", entity.FormatUnits(r.Borrowed, r.AssetDecimals),
		"repaid", entity.FormatUnits(r.Repaid, r.AssetDecimals),
		"asset", r.AssetSymbol)

	for _, snap := range r.Snapshots {
		logPosition(logger, "position after "+string(snap.After), snap.Position, snap.CollateralValue, snap.ValueDecimals)
	}
}

func logPosition(logger *slog.Logger, msg string, pos *entity.AccountPosition, value *big.Int, valueDecimals uint8) {
	attrs := []any{
		"collateral", entity.FormatUnits(pos.TotalCollateral, pos.ReferenceDecimals),
		"debt", entity.FormatUnits(pos.TotalDebt, pos.ReferenceDecimals),
		"available", entity.FormatUnits(pos.AvailableToBorrow, pos.ReferenceDecimals),
		"ltv_bps", pos.LTV,
		"liquidation_threshold_bps", pos.LiquidationThreshold,
		"health_factor", entity.FormatUnits(pos.HealthFactor, 18),
	}
	if value != nil {
		attrs = append(attrs, "collateral_usd", entity.FormatUnits(value, valueDecimals))
	}
	logger.Info(msg, attrs...)
}
