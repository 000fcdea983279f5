package sync

import (
	"context"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/polysight/polysight/internal/dataapi"
	"github.com/polysight/polysight/internal/logger"
	"github.com/polysight/polysight/internal/store"
	"github.com/polysight/polysight/internal/types"
	"github.com/polysight/polysight/pkg/errors"
)

const testAddr = "0xabc"

// fakeTradesAPI serves pre-built pages and counts page fetches.
type fakeTradesAPI struct {
	pages      [][]dataapi.RawTrade
	err        error
	fetchCalls int
}

func (f *fakeTradesAPI) FetchTradesPage(_ context.Context, _ string, limit, offset int, _ bool) ([]dataapi.RawTrade, error) {
	f.fetchCalls++

	if f.err != nil {
		return nil, f.err
	}

	page := offset / limit
	if page >= len(f.pages) {
		return []dataapi.RawTrade{}, nil
	}

	return f.pages[page], nil
}

func (f *fakeTradesAPI) FetchHeadTrade(_ context.Context, _ string) (dataapi.RawTrade, error) {
	if f.err != nil {
		return nil, f.err
	}

	if len(f.pages) == 0 || len(f.pages[0]) == 0 {
		return nil, nil
	}

	return f.pages[0][0], nil
}

func rawTrade(id string, ts int64) dataapi.RawTrade {
	return dataapi.RawTrade{
		"id":          id,
		"timestamp":   float64(ts),
		"conditionId": "cond-1",
		"tokenId":     "tok-1",
		"side":        "buy",
		"price":       0.5,
		"size":        10.0,
	}
}

type SyncerTestSuite struct {
	suite.Suite
	ctx   context.Context
	store *store.DuckDBStore
	now   time.Time
}

func TestSyncerSuite(t *testing.T) {
	suite.Run(t, new(SyncerTestSuite))
}

func (suite *SyncerTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	s, err := store.NewDuckDBStore(":memory:", logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.store = s
}

func (suite *SyncerTestSuite) TearDownTest() {
	suite.NoError(suite.store.Close())
}

func (suite *SyncerTestSuite) newSyncer(api TradesAPI) *Syncer {
	return NewSyncer(suite.store, api, logger.NewNopLogger(), func() time.Time { return suite.now })
}

func (suite *SyncerTestSuite) TestDuePolicy() {
	hoursAgo := func(h float64) *time.Time {
		t := suite.now.Add(-time.Duration(h * float64(time.Hour)))

		return &t
	}

	meta := func(viewed, synced *time.Time) optional.Option[types.SyncMeta] {
		return optional.Some(types.SyncMeta{
			UserAddress:  testAddr,
			SyncStatus:   types.SyncStatusIdle,
			LastViewedAt: viewed,
			LastSyncedAt: synced,
		})
	}

	suite.True(DuePolicy(suite.now, optional.None[types.SyncMeta]()), "unknown user is always due")
	suite.True(DuePolicy(suite.now, meta(nil, hoursAgo(1))), "never viewed is always due")
	suite.True(DuePolicy(suite.now, meta(hoursAgo(1), nil)), "never synced is always due")

	// Viewed within the last day.
	suite.False(DuePolicy(suite.now, meta(hoursAgo(1), hoursAgo(0.1))))
	suite.True(DuePolicy(suite.now, meta(hoursAgo(1), hoursAgo(0.5))))

	// Viewed within the last week.
	suite.False(DuePolicy(suite.now, meta(hoursAgo(72), hoursAgo(5))))
	suite.True(DuePolicy(suite.now, meta(hoursAgo(72), hoursAgo(7))))

	// Not viewed for over a week.
	suite.True(DuePolicy(suite.now, meta(hoursAgo(24*30), hoursAgo(0.01))))
}

func (suite *SyncerTestSuite) TestHeadCheckNoTrades() {
	syncer := suite.newSyncer(&fakeTradesAPI{})

	suite.NoError(syncer.HeadCheckAndMaybeRefresh(suite.ctx, testAddr))

	meta, err := suite.store.GetMeta(suite.ctx, testAddr)
	suite.NoError(err)
	suite.True(meta.IsSome())
	suite.Equal(types.SyncStatusIdle, meta.Unwrap().SyncStatus)

	wm, err := suite.store.GetWatermark(suite.ctx, testAddr)
	suite.NoError(err)
	suite.True(wm.IsNone())
}

func (suite *SyncerTestSuite) TestHeadCheckFirstRefresh() {
	base := int64(1714560000)
	api := &fakeTradesAPI{pages: [][]dataapi.RawTrade{{
		rawTrade("t3", base+200),
		rawTrade("t2", base+100),
		rawTrade("t1", base),
	}}}
	syncer := suite.newSyncer(api)

	suite.NoError(syncer.HeadCheckAndMaybeRefresh(suite.ctx, testAddr))

	count, err := suite.store.CountTrades(suite.ctx, testAddr)
	suite.NoError(err)
	suite.Equal(3, count)

	wm, err := suite.store.GetWatermark(suite.ctx, testAddr)
	suite.NoError(err)
	suite.True(wm.IsSome())
	suite.Equal("t3", wm.Unwrap().LastTradeID)
	suite.Equal(time.Unix(base+200, 0).UTC(), wm.Unwrap().LastTradeAt)

	meta, err := suite.store.GetMeta(suite.ctx, testAddr)
	suite.NoError(err)
	suite.Equal(types.SyncStatusIdle, meta.Unwrap().SyncStatus)
	suite.Equal("t3", meta.Unwrap().LastTradeIDCached)
}

func (suite *SyncerTestSuite) TestHeadCheckAlreadyCurrent() {
	base := int64(1714560000)
	api := &fakeTradesAPI{pages: [][]dataapi.RawTrade{{
		rawTrade("t2", base+100),
		rawTrade("t1", base),
	}}}
	syncer := suite.newSyncer(api)

	suite.NoError(syncer.HeadCheckAndMaybeRefresh(suite.ctx, testAddr))

	fetchesAfterFirst := api.fetchCalls

	// The head now matches the watermark, so no pages are fetched.
	suite.NoError(syncer.HeadCheckAndMaybeRefresh(suite.ctx, testAddr))
	suite.Equal(fetchesAfterFirst, api.fetchCalls)
}

func (suite *SyncerTestSuite) TestHeadCheckIncremental() {
	base := int64(1714560000)
	api := &fakeTradesAPI{pages: [][]dataapi.RawTrade{{
		rawTrade("t2", base+100),
		rawTrade("t1", base),
	}}}
	syncer := suite.newSyncer(api)

	suite.NoError(syncer.HeadCheckAndMaybeRefresh(suite.ctx, testAddr))

	// Two new trades arrive above the old head.
	api.pages = [][]dataapi.RawTrade{{
		rawTrade("t4", base+400),
		rawTrade("t3", base+300),
		rawTrade("t2", base+100),
		rawTrade("t1", base),
	}}

	suite.NoError(syncer.HeadCheckAndMaybeRefresh(suite.ctx, testAddr))

	count, err := suite.store.CountTrades(suite.ctx, testAddr)
	suite.NoError(err)
	suite.Equal(4, count)

	wm, err := suite.store.GetWatermark(suite.ctx, testAddr)
	suite.NoError(err)
	suite.Equal("t4", wm.Unwrap().LastTradeID)
}

func (suite *SyncerTestSuite) TestHeadCheckRecordsError() {
	api := &fakeTradesAPI{err: errors.New(errors.ErrCodeDataAPIBadStatus, "trades request returned status 429")}
	syncer := suite.newSyncer(api)

	err := syncer.HeadCheckAndMaybeRefresh(suite.ctx, testAddr)
	suite.Error(err)

	meta, metaErr := suite.store.GetMeta(suite.ctx, testAddr)
	suite.NoError(metaErr)
	suite.True(meta.IsSome())
	suite.Equal(types.SyncStatusError, meta.Unwrap().SyncStatus)
	suite.Contains(meta.Unwrap().ErrorMsg, "429")
}

func (suite *SyncerTestSuite) TestErrorPreservesCachedWatermark() {
	base := int64(1714560000)
	api := &fakeTradesAPI{pages: [][]dataapi.RawTrade{{
		rawTrade("t2", base+100),
		rawTrade("t1", base),
	}}}
	syncer := suite.newSyncer(api)

	suite.Require().NoError(syncer.HeadCheckAndMaybeRefresh(suite.ctx, testAddr))

	// A transient failure must not wipe the cached watermark fields.
	api.err = errors.New(errors.ErrCodeDataAPIRequestFailed, "trades request failed")

	suite.Error(syncer.HeadCheckAndMaybeRefresh(suite.ctx, testAddr))

	meta, err := suite.store.GetMeta(suite.ctx, testAddr)
	suite.NoError(err)
	suite.Require().True(meta.IsSome())
	suite.Equal(types.SyncStatusError, meta.Unwrap().SyncStatus)
	suite.Equal("t2", meta.Unwrap().LastTradeIDCached)
	suite.Require().NotNil(meta.Unwrap().LastTradeAtCached)
	suite.Equal(time.Unix(base+100, 0).UTC(), meta.Unwrap().LastTradeAtCached.UTC())
}

func (suite *SyncerTestSuite) TestOverlapRepairKeepsWatermark() {
	base := int64(1714560000)
	wm := types.Watermark{LastTradeAt: time.Unix(base+500, 0).UTC(), LastTradeID: "t9"}
	suite.Require().NoError(suite.store.SetWatermark(suite.ctx, testAddr, wm))

	api := &fakeTradesAPI{pages: [][]dataapi.RawTrade{{
		rawTrade("t2", base+100),
		rawTrade("t1", base),
	}}}
	syncer := suite.newSyncer(api)

	suite.NoError(syncer.OverlapRepair(suite.ctx, testAddr, 2, 2))

	count, err := suite.store.CountTrades(suite.ctx, testAddr)
	suite.NoError(err)
	suite.Equal(2, count)

	got, err := suite.store.GetWatermark(suite.ctx, testAddr)
	suite.NoError(err)
	suite.Equal("t9", got.Unwrap().LastTradeID, "repair never moves the watermark")
}

func (suite *SyncerTestSuite) TestBackfill() {
	base := int64(1714560000)
	api := &fakeTradesAPI{pages: [][]dataapi.RawTrade{
		{rawTrade("t5", base+400), rawTrade("t4", base+300)},
		{rawTrade("t3", base+200), rawTrade("t2", base+100)},
		{rawTrade("t1", base)},
	}}
	syncer := suite.newSyncer(api)

	var pagesSeen int

	total, err := syncer.Backfill(suite.ctx, testAddr, 2, func(page, total int) {
		pagesSeen++
	})
	suite.NoError(err)
	suite.Equal(5, total)
	suite.Equal(3, pagesSeen)

	count, err := suite.store.CountTrades(suite.ctx, testAddr)
	suite.NoError(err)
	suite.Equal(5, count)

	wm, err := suite.store.GetWatermark(suite.ctx, testAddr)
	suite.NoError(err)
	suite.Equal("t5", wm.Unwrap().LastTradeID)

	meta, err := suite.store.GetMeta(suite.ctx, testAddr)
	suite.NoError(err)
	suite.Equal(types.SyncStatusIdle, meta.Unwrap().SyncStatus)
}
