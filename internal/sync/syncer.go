// Package sync keeps the local trade store current with the remote data API.
// Refreshes are incremental: a per-user watermark marks the newest persisted
// trade, and a refresh walks pages from the head until it reaches it.
package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/polysight/polysight/internal/dataapi"
	"github.com/polysight/polysight/internal/logger"
	"github.com/polysight/polysight/internal/store"
	"github.com/polysight/polysight/internal/types"
)

const (
	// refreshPageLimit is the page size used during incremental refresh.
	refreshPageLimit = 500

	// maxRefreshPages bounds how far a single refresh walks back from the
	// head. Deeper history is the backfill's job.
	maxRefreshPages = 5

	// errorMsgLimit truncates stored error messages.
	errorMsgLimit = 500
)

// Staleness thresholds for DuePolicy, keyed off how recently the user's
// dashboard was viewed.
const (
	recentViewWindow   = 24 * time.Hour
	recentViewMaxAge   = 15 * time.Minute
	inactiveViewWindow = 7 * 24 * time.Hour
	inactiveViewMaxAge = 6 * time.Hour
)

// TradesAPI is the slice of the data API client the syncer needs.
type TradesAPI interface {
	FetchTradesPage(ctx context.Context, user string, limit, offset int, takerOnly bool) ([]dataapi.RawTrade, error)
	FetchHeadTrade(ctx context.Context, user string) (dataapi.RawTrade, error)
}

// Syncer refreshes users' trades from the data API into the store.
type Syncer struct {
	store  *store.DuckDBStore
	client TradesAPI
	logger *logger.Logger
	now    func() time.Time
}

// NewSyncer creates a syncer. The now function anchors sync timestamps; pass
// nil for time.Now.
func NewSyncer(s *store.DuckDBStore, client TradesAPI, log *logger.Logger, now func() time.Time) *Syncer {
	if now == nil {
		now = time.Now
	}

	return &Syncer{
		store:  s,
		client: client,
		logger: log,
		now:    now,
	}
}

// DuePolicy reports whether the user's cached trades are stale enough to
// refresh. Users viewed within the last day refresh after 15 minutes, users
// viewed within the last week after 6 hours, and everyone else always.
func DuePolicy(now time.Time, meta optional.Option[types.SyncMeta]) bool {
	if meta.IsNone() {
		return true
	}

	m := meta.Unwrap()
	if m.LastViewedAt == nil || m.LastSyncedAt == nil {
		return true
	}

	age := now.Sub(*m.LastSyncedAt)
	sinceView := now.Sub(*m.LastViewedAt)

	if sinceView <= recentViewWindow {
		return age > recentViewMaxAge
	}

	if sinceView <= inactiveViewWindow {
		return age > inactiveViewMaxAge
	}

	return true
}

// HeadCheckAndMaybeRefresh compares the remote head trade against the user's
// watermark and runs an incremental refresh when new trades exist. Sync
// status transitions (running/idle/error) are recorded in the store.
func (s *Syncer) HeadCheckAndMaybeRefresh(ctx context.Context, addr string) error {
	addr = types.NormalizeAddress(addr)
	runID := uuid.New().String()
	now := s.now().UTC()

	log := s.logger.With(zap.String("run_id", runID), zap.String("user", addr))

	wm, err := s.store.GetWatermark(ctx, addr)
	if err != nil {
		return err
	}

	head, err := s.client.FetchHeadTrade(ctx, addr)
	if err != nil {
		s.recordError(ctx, addr, wm, err)

		return err
	}

	if head == nil {
		// No trades at all; mark idle with no watermark.
		return s.store.SetMetaSynced(ctx, addr, now, nil, "", types.SyncStatusIdle, "")
	}

	headTS, ok := dataapi.TradeTimestamp(head)
	headID := dataapi.TradeID(head)

	if !ok || headID == "" {
		log.Warn("Head trade missing id or timestamp")

		lastTradeAt, lastTradeID := watermarkFields(wm)

		return s.store.SetMetaSynced(ctx, addr, now, lastTradeAt, lastTradeID, types.SyncStatusError, "head trade missing id or timestamp")
	}

	if wm.IsSome() && wm.Unwrap().Covers(headTS, headID) {
		// Already up to date.
		return s.setIdle(ctx, addr, now, wm)
	}

	if err := s.setRunning(ctx, addr, now, wm); err != nil {
		return err
	}

	newest, err := s.incrementalRefresh(ctx, addr, wm)
	if err != nil {
		s.recordError(ctx, addr, wm, err)

		return err
	}

	if newest.IsSome() {
		if err := s.store.SetWatermark(ctx, addr, newest.Unwrap()); err != nil {
			return err
		}

		wm = newest
	}

	log.Info("Refresh complete",
		zap.Bool("advanced", newest.IsSome()),
	)

	return s.setIdle(ctx, addr, s.now().UTC(), wm)
}

// incrementalRefresh walks pages from the head until it reaches the
// watermark, persisting normalized trades. Returns the new watermark
// candidate taken from the newest persisted trade, if any.
func (s *Syncer) incrementalRefresh(ctx context.Context, addr string, wm optional.Option[types.Watermark]) (optional.Option[types.Watermark], error) {
	newest := optional.None[types.Watermark]()
	offset := 0

	for page := 0; page < maxRefreshPages; page++ {
		rawPage, err := s.client.FetchTradesPage(ctx, addr, refreshPageLimit, offset, false)
		if err != nil {
			return newest, err
		}

		if len(rawPage) == 0 {
			break
		}

		stopIdx := -1

		if wm.IsSome() {
			for i, raw := range rawPage {
				ts, ok := dataapi.TradeTimestamp(raw)
				id := dataapi.TradeID(raw)

				if !ok || id == "" {
					continue
				}

				if wm.Unwrap().Covers(ts, id) {
					stopIdx = i

					break
				}
			}
		}

		slice := rawPage
		if stopIdx >= 0 {
			slice = rawPage[:stopIdx]
		}

		rows := make([]types.NormalizedTrade, 0, len(slice))

		for _, raw := range slice {
			if row, ok := dataapi.Normalize(raw, addr); ok {
				rows = append(rows, row)
			}
		}

		if len(rows) > 0 {
			if _, err := s.store.UpsertTrades(ctx, rows); err != nil {
				return newest, err
			}

			if newest.IsNone() {
				newest = optional.Some(types.Watermark{
					LastTradeAt: rows[0].TradedAt,
					LastTradeID: rows[0].TradeID,
				})
			}
		}

		if stopIdx >= 0 || len(rawPage) < refreshPageLimit {
			break
		}

		offset += refreshPageLimit
	}

	return newest, nil
}

// OverlapRepair re-fetches a few pages from the head and upserts them to fill
// gaps left by earlier partial syncs. The watermark is deliberately not
// moved.
func (s *Syncer) OverlapRepair(ctx context.Context, addr string, overlapPages, pageSize int) error {
	addr = types.NormalizeAddress(addr)
	offset := 0

	for page := 0; page < overlapPages; page++ {
		rawPage, err := s.client.FetchTradesPage(ctx, addr, pageSize, offset, false)
		if err != nil {
			return err
		}

		if len(rawPage) == 0 {
			break
		}

		rows := make([]types.NormalizedTrade, 0, len(rawPage))

		for _, raw := range rawPage {
			if row, ok := dataapi.Normalize(raw, addr); ok {
				rows = append(rows, row)
			}
		}

		if _, err := s.store.UpsertTrades(ctx, rows); err != nil {
			return err
		}

		offset += pageSize
	}

	return nil
}

// Backfill walks the user's full trade history from the head until an empty
// page, persisting every trade. onPage, when non-nil, is invoked after each
// page with the page index and total rows persisted so far. Returns the total
// number of rows persisted and advances the watermark to the newest trade.
func (s *Syncer) Backfill(ctx context.Context, addr string, pageSize int, onPage func(page, total int)) (int, error) {
	addr = types.NormalizeAddress(addr)
	now := s.now().UTC()

	wm, err := s.store.GetWatermark(ctx, addr)
	if err != nil {
		return 0, err
	}

	if err := s.setRunning(ctx, addr, now, wm); err != nil {
		return 0, err
	}

	var (
		total  int
		newest optional.Option[types.Watermark]
		offset int
	)

	for page := 0; ; page++ {
		rawPage, err := s.client.FetchTradesPage(ctx, addr, pageSize, offset, false)
		if err != nil {
			s.recordError(ctx, addr, wm, err)

			return total, err
		}

		if len(rawPage) == 0 {
			break
		}

		rows := make([]types.NormalizedTrade, 0, len(rawPage))

		for _, raw := range rawPage {
			if row, ok := dataapi.Normalize(raw, addr); ok {
				rows = append(rows, row)
			}
		}

		if len(rows) > 0 {
			if _, err := s.store.UpsertTrades(ctx, rows); err != nil {
				s.recordError(ctx, addr, wm, err)

				return total, err
			}

			total += len(rows)

			if newest.IsNone() {
				newest = optional.Some(types.Watermark{
					LastTradeAt: rows[0].TradedAt,
					LastTradeID: rows[0].TradeID,
				})
			}
		}

		if onPage != nil {
			onPage(page, total)
		}

		if len(rawPage) < pageSize {
			break
		}

		offset += pageSize
	}

	if newest.IsSome() {
		if err := s.store.SetWatermark(ctx, addr, newest.Unwrap()); err != nil {
			return total, err
		}

		wm = newest
	}

	return total, s.setIdle(ctx, addr, s.now().UTC(), wm)
}

func (s *Syncer) setRunning(ctx context.Context, addr string, now time.Time, wm optional.Option[types.Watermark]) error {
	lastTradeAt, lastTradeID := watermarkFields(wm)

	return s.store.SetMetaSynced(ctx, addr, now, lastTradeAt, lastTradeID, types.SyncStatusRunning, "")
}

func (s *Syncer) setIdle(ctx context.Context, addr string, now time.Time, wm optional.Option[types.Watermark]) error {
	lastTradeAt, lastTradeID := watermarkFields(wm)

	return s.store.SetMetaSynced(ctx, addr, now, lastTradeAt, lastTradeID, types.SyncStatusIdle, "")
}

// recordError marks the sync as failed while preserving the cached watermark
// fields, so a transient failure does not lose track of the newest trade.
func (s *Syncer) recordError(ctx context.Context, addr string, wm optional.Option[types.Watermark], cause error) {
	msg := cause.Error()
	if len(msg) > errorMsgLimit {
		msg = msg[:errorMsgLimit]
	}

	lastTradeAt, lastTradeID := watermarkFields(wm)

	if err := s.store.SetMetaSynced(ctx, addr, s.now().UTC(), lastTradeAt, lastTradeID, types.SyncStatusError, msg); err != nil {
		s.logger.Error("Failed to record sync error",
			zap.String("user", addr),
			zap.Error(err),
		)
	}
}

func watermarkFields(wm optional.Option[types.Watermark]) (*time.Time, string) {
	if wm.IsNone() {
		return nil, ""
	}

	at := wm.Unwrap().LastTradeAt

	return &at, wm.Unwrap().LastTradeID
}
