package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantive/cascade/internal/archive"
	"github.com/quantive/cascade/internal/core"
	"github.com/quantive/cascade/internal/logger"
	"github.com/quantive/cascade/internal/metrics"
	"github.com/quantive/cascade/internal/pipeline"
	"github.com/quantive/cascade/internal/series"
	"github.com/quantive/cascade/internal/sim"
)

var (
	backtestFrom    string
	backtestTo      string
	backtestSymbols string
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay the cascade against historical data",
	Long:  "Run the signal cascade over a date range, simulate the resulting trades and archive the run artifacts",
	RunE:  runBacktest,
}

func init() {
	backtestCmd.Flags().StringVar(&backtestFrom, "from", "", "Start date YYYY-MM-DD (required)")
	backtestCmd.Flags().StringVar(&backtestTo, "to", "", "End date YYYY-MM-DD (required)")
	backtestCmd.Flags().StringVar(&backtestSymbols, "symbols", "", "Comma-separated symbol list (default: config or full universe)")

	backtestCmd.MarkFlagRequired("from")
	backtestCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	fromDate, err := time.Parse("2006-01-02", backtestFrom)
	if err != nil {
		return fmt.Errorf("invalid from date format (expected YYYY-MM-DD): %w", err)
	}
	toDate, err := time.Parse("2006-01-02", backtestTo)
	if err != nil {
		return fmt.Errorf("invalid to date format (expected YYYY-MM-DD): %w", err)
	}
	if toDate.Before(fromDate) {
		return fmt.Errorf("end date must be after start date")
	}

	log := logger.Must(debug)
	defer log.Sync()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mode := core.Mode(cfg.Mode)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := series.NewFileProvider(cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("opening data dir: %w", err)
	}

	symbols, err := resolveSymbols(ctx, provider, cfg.Data.Symbols, backtestSymbols)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	if cfg.Metrics.Enabled {
		serveMetrics(cfg.Metrics.Listen, cfg.Metrics.Path, reg, log)
	}

	runner := pipeline.NewRunner(cfg.Filters(), cfg.RunnerConfig(), logger.Named(log, "pipeline"), reg)
	bt := sim.NewBacktester(provider, runner, cfg.SimConfig(), mode, logger.Named(log, "sim"), reg)

	log.Info("starting backtest",
		zap.String("mode", cfg.Mode),
		zap.Int("symbols", len(symbols)),
		zap.Time("from", fromDate),
		zap.Time("to", toDate),
	)

	res, runErr := bt.Run(ctx, symbols, fromDate, toDate)
	if runErr != nil {
		// A partial result is still worth archiving.
		log.Error("backtest aborted", zap.Error(runErr))
	}

	storage, err := buildStorage(cfg)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	runID, err := archive.WriteRun(context.Background(), storage, res)
	if err != nil {
		return fmt.Errorf("archiving run: %w", err)
	}

	printResult(res, runID)
	return runErr
}

// resolveSymbols picks the universe: the --symbols flag wins, then the config
// list, then everything the provider has.
func resolveSymbols(ctx context.Context, provider series.Provider, fromConfig []string, flag string) ([]string, error) {
	if flag != "" {
		parts := strings.Split(flag, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	}
	if len(fromConfig) > 0 {
		return fromConfig, nil
	}
	symbols, err := provider.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing universe: %w", err)
	}
	return symbols, nil
}

func serveMetrics(listen, path string, reg *metrics.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg.Registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(listen, mux); err != nil {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}

func printResult(res *sim.Result, runID string) {
	fmt.Println("=== CASCADE Backtest ===")
	fmt.Printf("Mode:    %s\n", res.Mode)
	fmt.Printf("Period:  %s to %s\n", res.Start.Format("2006-01-02"), res.End.Format("2006-01-02"))
	fmt.Printf("Steps:   %d\n", len(res.Equity))
	fmt.Printf("Trades:  %d\n", len(res.Trades))
	fmt.Printf("Run ID:  %s\n", runID)

	if res.Summary == nil {
		fmt.Println("\nRun too short for a performance summary")
		return
	}

	s := res.Summary
	fmt.Println("\n--- Performance ---")
	fmt.Printf("Total return:      %+.2f%%\n", s.TotalReturn*100)
	fmt.Printf("Annualized return: %+.2f%%\n", s.AnnualizedReturn*100)
	fmt.Printf("Sharpe ratio:      %.2f\n", s.SharpeRatio)
	fmt.Printf("Sortino ratio:     %.2f\n", s.SortinoRatio)
	fmt.Printf("Max drawdown:      %.2f%%\n", s.MaxDrawdown*100)
	fmt.Printf("Fills:             %d (%d exits)\n", s.TotalFills, s.ExitTrades)
	if s.ExitTrades > 0 {
		fmt.Printf("Win rate:          %.1f%% (%dW / %dL)\n", s.WinRate*100, s.WinningTrades, s.LosingTrades)
		fmt.Printf("Profit factor:     %.2f\n", s.ProfitFactor)
	}
}
