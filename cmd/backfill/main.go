package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/polysight/polysight/internal/config"
	"github.com/polysight/polysight/internal/dataapi"
	"github.com/polysight/polysight/internal/logger"
	"github.com/polysight/polysight/internal/store"
	"github.com/polysight/polysight/internal/sync"
)

func backfillAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	addr := cmd.String("address")
	pageSize := int(cmd.Int("page-size"))

	appLogger, err := logger.NewLogger()
	if err != nil {
		return err
	}

	db, err := store.NewDuckDBStore(cfg.Store.Path, appLogger)
	if err != nil {
		return err
	}
	defer db.Close()

	client := dataapi.NewClient(cfg.DataAPI.BaseURL, cfg.DataAPI.Timeout())
	syncer := sync.NewSyncer(db, client, appLogger, nil)

	// Repair mode re-fetches head pages to fill gaps left by partial syncs,
	// without walking the full history or moving the watermark.
	if repairPages := int(cmd.Int("repair-pages")); repairPages > 0 {
		if err := syncer.OverlapRepair(ctx, addr, repairPages, pageSize); err != nil {
			return err
		}

		fmt.Printf("Overlap repair complete: re-fetched %d head pages for %s\n", repairPages, addr)

		return nil
	}

	// Total page count is unknown up front, so the bar is indeterminate and
	// tracks pages fetched.
	bar := progressbar.Default(-1, "backfilling trades")

	total, err := syncer.Backfill(ctx, addr, pageSize, func(page, total int) {
		_ = bar.Add(1)
		bar.Describe(fmt.Sprintf("backfilling trades (%d stored)", total))
	})

	_ = bar.Finish()

	if err != nil {
		return err
	}

	fmt.Printf("Backfill complete: %d trades stored for %s\n", total, addr)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "polysight-backfill",
		Usage: "Download a user's full trade history into the local store",
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
			&cli.IntFlag{
				Name:  "page-size",
				Usage: "Trades fetched per page",
				Value: 500,
			},
			&cli.IntFlag{
				Name:  "repair-pages",
				Usage: "Re-fetch this many head pages to fill gaps instead of a full backfill",
			},
		},
		Action: backfillAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
