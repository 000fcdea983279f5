package datasource

import (
	"context"
	"time"

	"github.com/polysight/polysight/internal/store"
	"github.com/polysight/polysight/internal/types"
)

// StoreDataSource serves records out of the DuckDB store populated by the
// sync pipeline.
type StoreDataSource struct {
	store *store.DuckDBStore
	now   func() time.Time
}

// NewStoreDataSource wraps the given store. The now function anchors range
// cutoffs; pass nil for time.Now.
func NewStoreDataSource(s *store.DuckDBStore, now func() time.Time) *StoreDataSource {
	if now == nil {
		now = time.Now
	}

	return &StoreDataSource{store: s, now: now}
}

// FetchDailyPnl implements DataSource.
func (s *StoreDataSource) FetchDailyPnl(ctx context.Context, userID string, rng types.Range) ([]types.DailyPnl, error) {
	since := ""
	if cutoff, ok := rng.Cutoff(s.now().UTC()); ok {
		since = cutoff
	}

	return s.store.GetDailyPnl(ctx, userID, since)
}

// FetchTrades implements DataSource.
func (s *StoreDataSource) FetchTrades(ctx context.Context, userID string, limit int) ([]types.Trade, error) {
	return s.store.GetTrades(ctx, userID, limit, 0)
}

// Close implements DataSource. The underlying store is shared with the sync
// pipeline, so its lifetime is owned by the caller that opened it.
func (s *StoreDataSource) Close() error {
	return nil
}
