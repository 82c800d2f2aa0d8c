package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantive/cascade/internal/core"
	"github.com/quantive/cascade/internal/logger"
	"github.com/quantive/cascade/internal/metrics"
	"github.com/quantive/cascade/internal/pipeline"
	"github.com/quantive/cascade/internal/series"
	"github.com/quantive/cascade/internal/sim"
)

var scanSymbols string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Evaluate the latest data for setups",
	Long:  "Run the cascade once over the most recent data and list the surviving candidates without simulating trades",
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanSymbols, "symbols", "", "Comma-separated symbol list (default: config or full universe)")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	log := logger.Must(debug)
	defer log.Sync()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := series.NewFileProvider(cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("opening data dir: %w", err)
	}

	symbols, err := resolveSymbols(ctx, provider, cfg.Data.Symbols, scanSymbols)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	runner := pipeline.NewRunner(cfg.Filters(), cfg.RunnerConfig(), logger.Named(log, "pipeline"), reg)
	bt := sim.NewBacktester(provider, runner, cfg.SimConfig(), core.Mode(cfg.Mode), logger.Named(log, "sim"), reg)

	log.Info("scanning universe",
		zap.String("mode", cfg.Mode),
		zap.Int("symbols", len(symbols)),
	)

	candidates, err := bt.Scan(ctx, symbols)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(candidates) == 0 {
		fmt.Println("No candidates")
		return nil
	}

	fmt.Printf("%-8s %8s %10s %10s %10s  %s\n", "SYMBOL", "SCORE", "CLOSE", "TARGET", "STOP", "SETUP")
	for _, c := range candidates {
		fmt.Printf("%-8s %8.2f %10.2f %10.2f %10.2f  %s\n",
			c.Symbol, c.Score, c.RefPrice, c.TargetPrice, c.StopPrice, c.Label)
	}
	return nil
}
