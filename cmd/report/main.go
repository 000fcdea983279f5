package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/polysight/polysight/internal/analytics"
	"github.com/polysight/polysight/internal/chart"
	"github.com/polysight/polysight/internal/config"
	"github.com/polysight/polysight/internal/datasource"
	"github.com/polysight/polysight/internal/logger"
	"github.com/polysight/polysight/internal/store"
	"github.com/polysight/polysight/internal/types"
	"github.com/polysight/polysight/pkg/errors"
)

const reportTradesLimit = 5000

// openDataSource builds the configured data source. The returned cleanup
// closes whatever the source was opened over.
func openDataSource(cfg config.Config) (datasource.DataSource, func(), error) {
	if cfg.DataSource == config.DataSourceMock {
		source := datasource.NewMockDataSource(nil)

		return source, func() { _ = source.Close() }, nil
	}

	appLogger, err := logger.NewLogger()
	if err != nil {
		return nil, nil, err
	}

	db, err := store.NewDuckDBStore(cfg.Store.Path, appLogger)
	if err != nil {
		return nil, nil, err
	}

	return datasource.NewStoreDataSource(db, nil), func() { _ = db.Close() }, nil
}

func reportAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	if cmd.Bool("mock") {
		cfg.DataSource = config.DataSourceMock
	}

	addr := types.NormalizeAddress(cmd.String("address"))

	rng := types.Range(cmd.String("range"))
	if !rng.IsValid() {
		return errors.Newf(errors.ErrCodeInvalidRange, "unsupported range %q", cmd.String("range"))
	}

	source, cleanup, err := openDataSource(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	daily, err := source.FetchDailyPnl(ctx, addr, types.RangeAll)
	if err != nil {
		return err
	}

	trades, err := source.FetchTrades(ctx, addr, reportTradesLimit)
	if err != nil {
		return err
	}

	summary := analytics.ComputeAggregates(daily, trades)

	outPath := cmd.String("out")
	if err := types.WriteSummary(outPath, summary); err != nil {
		return err
	}

	fmt.Printf("Summary written to %s (net PnL %.2f over %d trades)\n", outPath, summary.NetPnl, summary.TradesCount)

	chartPath := cmd.String("chart")
	if chartPath == "" {
		return nil
	}

	filtered := analytics.FilterByRange(daily, rng, time.Now().UTC())
	series := analytics.BuildSeries(filtered)

	buf, err := chart.RenderEquityCurve(series, summary, fmt.Sprintf("Cumulative PnL (%s)", rng))
	if err != nil {
		return err
	}

	if err := os.WriteFile(chartPath, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write chart file: %w", err)
	}

	fmt.Printf("Equity chart written to %s\n", chartPath)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "polysight-report",
		Usage: "Write a PnL summary report for an address",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "address",
				Aliases:  []string{"a"},
				Usage:    "User wallet address",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
			},
			&cli.StringFlag{
				Name:  "range",
				Usage: "Chart range (7D, 30D, 90D, ALL)",
				Value: string(types.RangeAll),
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output path for the YAML summary",
				Value:   "summary.yaml",
			},
			&cli.StringFlag{
				Name:  "chart",
				Usage: "Optional output path for the equity curve PNG",
			},
			&cli.BoolFlag{
				Name:  "mock",
				Usage: "Report over deterministic synthetic data",
			},
		},
		Action: reportAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
