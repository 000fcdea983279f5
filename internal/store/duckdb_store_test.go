package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/polysight/polysight/internal/logger"
	"github.com/polysight/polysight/internal/types"
)

type DuckDBStoreTestSuite struct {
	suite.Suite
	store *DuckDBStore
	ctx   context.Context
}

func TestDuckDBStoreSuite(t *testing.T) {
	suite.Run(t, new(DuckDBStoreTestSuite))
}

func (suite *DuckDBStoreTestSuite) SetupTest() {
	store, err := NewDuckDBStore(":memory:", logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.store = store
	suite.ctx = context.Background()
}

func (suite *DuckDBStoreTestSuite) TearDownTest() {
	suite.NoError(suite.store.Close())
}

func (suite *DuckDBStoreTestSuite) tradeRow(id string, tradedAt time.Time, pnl optional.Option[float64]) types.NormalizedTrade {
	return types.NormalizedTrade{
		TradeID:     id,
		UserAddress: "0xabc",
		MarketID:    "market-1",
		TokenID:     "token-1",
		Side:        types.TradeSideBuy,
		Price:       0.45,
		Size:        100,
		Quote:       45,
		Fee:         0.5,
		RealizedPnl: pnl,
		Taker:       true,
		TradedAt:    tradedAt,
	}
}

func (suite *DuckDBStoreTestSuite) TestUpsertAndGetTrades() {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	rows := []types.NormalizedTrade{
		suite.tradeRow("t1", base, optional.Some(5.0)),
		suite.tradeRow("t2", base.Add(time.Hour), optional.None[float64]()),
	}

	count, err := suite.store.UpsertTrades(suite.ctx, rows)
	suite.NoError(err)
	suite.Equal(2, count)

	trades, err := suite.store.GetTrades(suite.ctx, "0xabc", 10, 0)
	suite.NoError(err)
	suite.Len(trades, 2)

	// Newest first.
	suite.Equal("t2", trades[0].ID)
	suite.Equal("t1", trades[1].ID)

	suite.True(trades[0].RealizedPnl.IsNone())
	suite.True(trades[1].RealizedPnl.IsSome())
	suite.Equal(5.0, trades[1].RealizedPnl.Unwrap())
}

func (suite *DuckDBStoreTestSuite) TestUpsertTradesIdempotent() {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rows := []types.NormalizedTrade{suite.tradeRow("t1", base, optional.None[float64]())}

	_, err := suite.store.UpsertTrades(suite.ctx, rows)
	suite.NoError(err)

	// Re-inserting the same trade id must not duplicate it.
	_, err = suite.store.UpsertTrades(suite.ctx, rows)
	suite.NoError(err)

	count, err := suite.store.CountTrades(suite.ctx, "0xabc")
	suite.NoError(err)
	suite.Equal(1, count)
}

func (suite *DuckDBStoreTestSuite) TestUpsertTradesEmpty() {
	count, err := suite.store.UpsertTrades(suite.ctx, nil)
	suite.NoError(err)
	suite.Equal(0, count)
}

func (suite *DuckDBStoreTestSuite) TestGetTradesLimitOffset() {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	rows := []types.NormalizedTrade{
		suite.tradeRow("t1", base, optional.None[float64]()),
		suite.tradeRow("t2", base.Add(time.Hour), optional.None[float64]()),
		suite.tradeRow("t3", base.Add(2*time.Hour), optional.None[float64]()),
	}

	_, err := suite.store.UpsertTrades(suite.ctx, rows)
	suite.NoError(err)

	trades, err := suite.store.GetTrades(suite.ctx, "0xabc", 2, 1)
	suite.NoError(err)
	suite.Len(trades, 2)
	suite.Equal("t2", trades[0].ID)
	suite.Equal("t1", trades[1].ID)
}

func (suite *DuckDBStoreTestSuite) TestDailyPnlRoundTrip() {
	records := []types.DailyPnl{
		{Date: "2024-05-01", Realized: 10, Unrealized: -2, Fees: 0.5},
		{Date: "2024-05-02", Realized: -3, Unrealized: 4, Fees: 0.2},
	}

	suite.NoError(suite.store.UpsertDailyPnl(suite.ctx, "0xabc", records))

	readBack, err := suite.store.GetDailyPnl(suite.ctx, "0xabc", "")
	suite.NoError(err)
	suite.Equal(records, readBack)

	// Since filter is inclusive.
	filtered, err := suite.store.GetDailyPnl(suite.ctx, "0xabc", "2024-05-02")
	suite.NoError(err)
	suite.Len(filtered, 1)
	suite.Equal("2024-05-02", filtered[0].Date)
}

func (suite *DuckDBStoreTestSuite) TestDailyPnlUpsertReplaces() {
	suite.NoError(suite.store.UpsertDailyPnl(suite.ctx, "0xabc", []types.DailyPnl{
		{Date: "2024-05-01", Realized: 10},
	}))
	suite.NoError(suite.store.UpsertDailyPnl(suite.ctx, "0xabc", []types.DailyPnl{
		{Date: "2024-05-01", Realized: 20, Fees: 1},
	}))

	records, err := suite.store.GetDailyPnl(suite.ctx, "0xabc", "")
	suite.NoError(err)
	suite.Len(records, 1)
	suite.Equal(20.0, records[0].Realized)
	suite.Equal(1.0, records[0].Fees)
}

func (suite *DuckDBStoreTestSuite) TestWatermark() {
	wm, err := suite.store.GetWatermark(suite.ctx, "0xabc")
	suite.NoError(err)
	suite.True(wm.IsNone())

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	suite.NoError(suite.store.SetWatermark(suite.ctx, "0xabc", types.Watermark{
		LastTradeAt: at,
		LastTradeID: "t-42",
	}))

	wm, err = suite.store.GetWatermark(suite.ctx, "0xabc")
	suite.NoError(err)
	suite.True(wm.IsSome())
	suite.Equal("t-42", wm.Unwrap().LastTradeID)
	suite.True(at.Equal(wm.Unwrap().LastTradeAt))

	// Advancing overwrites.
	later := at.Add(time.Hour)
	suite.NoError(suite.store.SetWatermark(suite.ctx, "0xabc", types.Watermark{
		LastTradeAt: later,
		LastTradeID: "t-43",
	}))

	wm, err = suite.store.GetWatermark(suite.ctx, "0xabc")
	suite.NoError(err)
	suite.Equal("t-43", wm.Unwrap().LastTradeID)
}

func (suite *DuckDBStoreTestSuite) TestMetaLifecycle() {
	meta, err := suite.store.GetMeta(suite.ctx, "0xabc")
	suite.NoError(err)
	suite.True(meta.IsNone())

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	suite.NoError(suite.store.TouchLastViewed(suite.ctx, "0xabc", now))

	meta, err = suite.store.GetMeta(suite.ctx, "0xabc")
	suite.NoError(err)
	suite.True(meta.IsSome())
	suite.NotNil(meta.Unwrap().LastViewedAt)
	suite.True(now.Equal(*meta.Unwrap().LastViewedAt))

	tradeAt := now.Add(-time.Hour)
	suite.NoError(suite.store.SetMetaSynced(suite.ctx, "0xabc", now, &tradeAt, "t-1", types.SyncStatusIdle, ""))

	meta, err = suite.store.GetMeta(suite.ctx, "0xabc")
	suite.NoError(err)
	suite.Equal(types.SyncStatusIdle, meta.Unwrap().SyncStatus)
	suite.Equal("t-1", meta.Unwrap().LastTradeIDCached)

	suite.NoError(suite.store.SetMetaSynced(suite.ctx, "0xabc", now, nil, "", types.SyncStatusError, "head missing ts"))

	meta, err = suite.store.GetMeta(suite.ctx, "0xabc")
	suite.NoError(err)
	suite.Equal(types.SyncStatusError, meta.Unwrap().SyncStatus)
	suite.Equal("head missing ts", meta.Unwrap().ErrorMsg)
}

func (suite *DuckDBStoreTestSuite) TestPortfolioValueCache() {
	value, err := suite.store.GetLatestPortfolioValue(suite.ctx, "0xabc")
	suite.NoError(err)
	suite.True(value.IsNone())

	first := types.PortfolioValue{Value: 1000, Currency: "USDC", FetchedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	second := types.PortfolioValue{Value: 1100, Currency: "USDC", FetchedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}

	suite.NoError(suite.store.PutPortfolioValue(suite.ctx, "0xabc", first))
	suite.NoError(suite.store.PutPortfolioValue(suite.ctx, "0xabc", second))

	value, err = suite.store.GetLatestPortfolioValue(suite.ctx, "0xabc")
	suite.NoError(err)
	suite.True(value.IsSome())
	suite.Equal(1100.0, value.Unwrap().Value)
}

func (suite *DuckDBStoreTestSuite) TestPositionsCache() {
	positions, err := suite.store.GetLatestPositions(suite.ctx, "0xabc")
	suite.NoError(err)
	suite.True(positions.IsNone())

	payload := json.RawMessage(`[{"market":"m1","size":10}]`)
	suite.NoError(suite.store.PutPositions(suite.ctx, "0xabc", types.PositionsSnapshot{
		Payload:   payload,
		FetchedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}))

	positions, err = suite.store.GetLatestPositions(suite.ctx, "0xabc")
	suite.NoError(err)
	suite.True(positions.IsSome())
	suite.JSONEq(string(payload), string(positions.Unwrap().Payload))
}
