package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/polysight/polysight/internal/config"
	"github.com/polysight/polysight/internal/dataapi"
	"github.com/polysight/polysight/internal/datasource"
	"github.com/polysight/polysight/internal/logger"
	"github.com/polysight/polysight/internal/server"
	"github.com/polysight/polysight/internal/store"
	"github.com/polysight/polysight/internal/sync"
)

const shutdownTimeout = 10 * time.Second

func serverAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	if cmd.Bool("mock") {
		cfg.DataSource = config.DataSourceMock
	}

	if addr := cmd.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	appLogger, err := logger.NewLogger()
	if err != nil {
		return err
	}

	opts := server.Options{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RefreshEnabled: cfg.DataAPI.RefreshEnabled,
		Logger:         appLogger,
	}

	switch cfg.DataSource {
	case config.DataSourceMock:
		opts.Source = datasource.NewMockDataSource(nil)
	case config.DataSourceStore:
		db, err := store.NewDuckDBStore(cfg.Store.Path, appLogger)
		if err != nil {
			return err
		}
		defer db.Close()

		client := dataapi.NewClient(cfg.DataAPI.BaseURL, cfg.DataAPI.Timeout())

		opts.Store = db
		opts.Source = datasource.NewStoreDataSource(db, nil)
		opts.Syncer = sync.NewSyncer(db, client, appLogger, nil)
	}

	srv := server.NewServer(opts)

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Start()
	}()

	appLogger.Info("Server started",
		zap.String("addr", cfg.Server.Addr),
		zap.String("data_source", string(cfg.DataSource)),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func main() {
	cmd := &cli.Command{
		Name:  "polysight-server",
		Usage: "Run the trading analytics API server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides the config file",
			},
			&cli.BoolFlag{
				Name:  "mock",
				Usage: "Serve deterministic synthetic data instead of the store",
			},
		},
		Action: serverAction,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
