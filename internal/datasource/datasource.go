// Package datasource defines the single data-source abstraction the dashboard
// reads through. Both the synthetic generator and the store-backed
// implementation satisfy it, so callers are agnostic to record provenance.
package datasource

import (
	"context"

	"github.com/polysight/polysight/internal/types"
)

type DataSource interface {
	// FetchDailyPnl returns the user's daily PnL records inside the trailing
	// window, in ascending date order.
	FetchDailyPnl(ctx context.Context, userID string, rng types.Range) ([]types.DailyPnl, error)
	// FetchTrades returns up to limit of the user's most recent trades,
	// newest first.
	FetchTrades(ctx context.Context, userID string, limit int) ([]types.Trade, error)
	// Close releases any resources held by the data source.
	Close() error
}
