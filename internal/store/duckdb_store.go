// Package store persists trades, daily PnL, snapshot caches, and sync
// bookkeeping in DuckDB.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/polysight/polysight/internal/logger"
	"github.com/polysight/polysight/internal/types"
	"github.com/polysight/polysight/pkg/errors"
)

// DuckDBStore is the DuckDB-backed persistence layer.
type DuckDBStore struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewDuckDBStore opens (or creates) the DuckDB database at the given path and
// ensures the schema exists. Pass ":memory:" for an ephemeral store.
func NewDuckDBStore(path string, log *logger.Logger) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreUnavailable, "failed to open duckdb", err)
	}

	store := &DuckDBStore{
		db:     db,
		logger: log,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}

	if err := store.createSchema(); err != nil {
		db.Close()

		return nil, err
	}

	return store, nil
}

func (s *DuckDBStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			trade_id TEXT PRIMARY KEY,
			user_address TEXT NOT NULL,
			market_id TEXT,
			token_id TEXT,
			side TEXT NOT NULL,
			price DOUBLE NOT NULL,
			size DOUBLE NOT NULL,
			quote DOUBLE NOT NULL,
			fee DOUBLE NOT NULL DEFAULT 0,
			realized_pnl DOUBLE,
			taker BOOLEAN NOT NULL DEFAULT true,
			traded_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS daily_pnl (
			user_address TEXT NOT NULL,
			date TEXT NOT NULL,
			realized DOUBLE NOT NULL DEFAULT 0,
			unrealized DOUBLE NOT NULL DEFAULT 0,
			fees DOUBLE NOT NULL DEFAULT 0,
			PRIMARY KEY (user_address, date)
		);

		CREATE TABLE IF NOT EXISTS positions_cache (
			user_address TEXT NOT NULL,
			payload JSON NOT NULL,
			fetched_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS value_cache (
			user_address TEXT NOT NULL,
			portfolio_value DOUBLE NOT NULL,
			currency TEXT NOT NULL,
			fetched_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS user_sync_meta (
			user_address TEXT PRIMARY KEY,
			sync_status TEXT NOT NULL DEFAULT 'idle',
			last_viewed_at TIMESTAMP,
			last_synced_at TIMESTAMP,
			last_trade_at_cached TIMESTAMP,
			last_trade_id_cached TEXT,
			error_msg TEXT
		);

		CREATE TABLE IF NOT EXISTS user_trade_sync (
			user_address TEXT PRIMARY KEY,
			last_trade_at TIMESTAMP NOT NULL,
			last_trade_id TEXT NOT NULL
		);
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreUnavailable, "failed to create schema", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *DuckDBStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

// UpsertTrades inserts the given trades, skipping rows whose trade_id is
// already present. Returns the number of rows attempted.
func (s *DuckDBStore) UpsertTrades(ctx context.Context, rows []types.NormalizedTrade) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeWriteFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (trade_id, user_address, market_id, token_id, side, price, size, quote, fee, realized_pnl, taker, traded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (trade_id) DO NOTHING
	`)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeWriteFailed, "failed to prepare insert", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		var pnl sql.NullFloat64
		if row.RealizedPnl.IsSome() {
			pnl = sql.NullFloat64{Float64: row.RealizedPnl.Unwrap(), Valid: true}
		}

		_, err = stmt.ExecContext(ctx,
			row.TradeID, row.UserAddress, row.MarketID, row.TokenID, string(row.Side),
			row.Price, row.Size, row.Quote, row.Fee, pnl, row.Taker, row.TradedAt.UTC())
		if err != nil {
			return 0, errors.Wrapf(errors.ErrCodeWriteFailed, err, "failed to insert trade %s", row.TradeID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(errors.ErrCodeWriteFailed, "failed to commit trades", err)
	}

	s.logger.Debug("Upserted trades", zap.Int("count", len(rows)))

	return len(rows), nil
}

// GetTrades returns the user's trades, newest first.
func (s *DuckDBStore) GetTrades(ctx context.Context, userAddress string, limit, offset int) ([]types.Trade, error) {
	query, args, err := s.sq.
		Select("trade_id", "traded_at", "market_id", "side", "token_id", "price", "size", "fee", "realized_pnl").
		From("trades").
		Where(squirrel.Eq{"user_address": userAddress}).
		OrderBy("traded_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build trades query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query trades", err)
	}
	defer rows.Close()

	trades := make([]types.Trade, 0, limit)

	for rows.Next() {
		var (
			trade types.Trade
			side  string
			pnl   sql.NullFloat64
		)

		err = rows.Scan(&trade.ID, &trade.Timestamp, &trade.Market, &side,
			&trade.Token, &trade.Price, &trade.Qty, &trade.Fee, &pnl)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan trade row", err)
		}

		trade.Side = types.TradeSide(side)

		if pnl.Valid {
			trade.RealizedPnl = optional.Some(pnl.Float64)
		} else {
			trade.RealizedPnl = optional.None[float64]()
		}

		trades = append(trades, trade)
	}

	return trades, rows.Err()
}

// UpsertDailyPnl inserts or replaces the user's daily PnL records.
func (s *DuckDBStore) UpsertDailyPnl(ctx context.Context, userAddress string, records []types.DailyPnl) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeWriteFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_pnl (user_address, date, realized, unrealized, fees)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_address, date) DO UPDATE SET
			realized = excluded.realized,
			unrealized = excluded.unrealized,
			fees = excluded.fees
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeWriteFailed, "failed to prepare daily pnl insert", err)
	}
	defer stmt.Close()

	for _, record := range records {
		_, err = stmt.ExecContext(ctx, userAddress, record.Date, record.Realized, record.Unrealized, record.Fees)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeWriteFailed, err, "failed to insert daily pnl for %s", record.Date)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeWriteFailed, "failed to commit daily pnl", err)
	}

	return nil
}

// GetDailyPnl returns the user's daily records with date >= since (every
// record when since is empty), in ascending date order.
func (s *DuckDBStore) GetDailyPnl(ctx context.Context, userAddress string, since string) ([]types.DailyPnl, error) {
	builder := s.sq.
		Select("date", "realized", "unrealized", "fees").
		From("daily_pnl").
		Where(squirrel.Eq{"user_address": userAddress}).
		OrderBy("date ASC")

	if since != "" {
		builder = builder.Where(squirrel.GtOrEq{"date": since})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build daily pnl query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query daily pnl", err)
	}
	defer rows.Close()

	var records []types.DailyPnl

	for rows.Next() {
		var record types.DailyPnl

		if err := rows.Scan(&record.Date, &record.Realized, &record.Unrealized, &record.Fees); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan daily pnl row", err)
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

// GetWatermark returns the user's sync watermark, or None if the user has
// never been synced.
func (s *DuckDBStore) GetWatermark(ctx context.Context, userAddress string) (optional.Option[types.Watermark], error) {
	query, args, err := s.sq.
		Select("last_trade_at", "last_trade_id").
		From("user_trade_sync").
		Where(squirrel.Eq{"user_address": userAddress}).
		ToSql()
	if err != nil {
		return optional.None[types.Watermark](), errors.Wrap(errors.ErrCodeQueryFailed, "failed to build watermark query", err)
	}

	var wm types.Watermark

	err = s.db.QueryRowContext(ctx, query, args...).Scan(&wm.LastTradeAt, &wm.LastTradeID)
	if err == sql.ErrNoRows {
		return optional.None[types.Watermark](), nil
	}

	if err != nil {
		return optional.None[types.Watermark](), errors.Wrap(errors.ErrCodeQueryFailed, "failed to query watermark", err)
	}

	wm.LastTradeAt = wm.LastTradeAt.UTC()

	return optional.Some(wm), nil
}

// SetWatermark advances the user's sync watermark.
func (s *DuckDBStore) SetWatermark(ctx context.Context, userAddress string, wm types.Watermark) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_trade_sync (user_address, last_trade_at, last_trade_id)
		VALUES (?, ?, ?)
		ON CONFLICT (user_address) DO UPDATE SET
			last_trade_at = excluded.last_trade_at,
			last_trade_id = excluded.last_trade_id
	`, userAddress, wm.LastTradeAt.UTC(), wm.LastTradeID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeWriteFailed, "failed to set watermark", err)
	}

	return nil
}

// GetMeta returns the user's sync metadata, or None for unknown users.
func (s *DuckDBStore) GetMeta(ctx context.Context, userAddress string) (optional.Option[types.SyncMeta], error) {
	query, args, err := s.sq.
		Select("user_address", "sync_status", "last_viewed_at", "last_synced_at",
			"last_trade_at_cached", "last_trade_id_cached", "error_msg").
		From("user_sync_meta").
		Where(squirrel.Eq{"user_address": userAddress}).
		ToSql()
	if err != nil {
		return optional.None[types.SyncMeta](), errors.Wrap(errors.ErrCodeQueryFailed, "failed to build meta query", err)
	}

	var (
		meta                              types.SyncMeta
		status                            string
		lastViewed, lastSynced, lastTrade sql.NullTime
		lastTradeID, errorMsg             sql.NullString
	)

	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&meta.UserAddress, &status, &lastViewed, &lastSynced, &lastTrade, &lastTradeID, &errorMsg)
	if err == sql.ErrNoRows {
		return optional.None[types.SyncMeta](), nil
	}

	if err != nil {
		return optional.None[types.SyncMeta](), errors.Wrap(errors.ErrCodeQueryFailed, "failed to query meta", err)
	}

	meta.SyncStatus = types.SyncStatus(status)
	meta.LastViewedAt = nullTimePtr(lastViewed)
	meta.LastSyncedAt = nullTimePtr(lastSynced)
	meta.LastTradeAtCached = nullTimePtr(lastTrade)
	meta.LastTradeIDCached = lastTradeID.String
	meta.ErrorMsg = errorMsg.String

	return optional.Some(meta), nil
}

// TouchLastViewed records that the user's dashboard was just viewed.
func (s *DuckDBStore) TouchLastViewed(ctx context.Context, userAddress string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_sync_meta (user_address, last_viewed_at)
		VALUES (?, ?)
		ON CONFLICT (user_address) DO UPDATE SET last_viewed_at = excluded.last_viewed_at
	`, userAddress, now.UTC())
	if err != nil {
		return errors.Wrap(errors.ErrCodeWriteFailed, "failed to touch last viewed", err)
	}

	return nil
}

// SetMetaSynced records the outcome of a sync attempt. lastTradeAt may be nil
// when the user has no trades.
func (s *DuckDBStore) SetMetaSynced(ctx context.Context, userAddress string, syncedAt time.Time,
	lastTradeAt *time.Time, lastTradeID string, status types.SyncStatus, errorMsg string) error {
	var tradeAt sql.NullTime
	if lastTradeAt != nil {
		tradeAt = sql.NullTime{Time: lastTradeAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_sync_meta (user_address, sync_status, last_synced_at, last_trade_at_cached, last_trade_id_cached, error_msg)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_address) DO UPDATE SET
			sync_status = excluded.sync_status,
			last_synced_at = excluded.last_synced_at,
			last_trade_at_cached = excluded.last_trade_at_cached,
			last_trade_id_cached = excluded.last_trade_id_cached,
			error_msg = excluded.error_msg
	`, userAddress, string(status), syncedAt.UTC(), tradeAt, lastTradeID, errorMsg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeWriteFailed, "failed to set sync meta", err)
	}

	s.logger.Debug("Sync meta updated",
		zap.String("user", userAddress),
		zap.String("status", string(status)),
	)

	return nil
}

// PutPortfolioValue stores a portfolio value snapshot.
func (s *DuckDBStore) PutPortfolioValue(ctx context.Context, userAddress string, value types.PortfolioValue) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO value_cache (user_address, portfolio_value, currency, fetched_at)
		VALUES (?, ?, ?, ?)
	`, userAddress, value.Value, value.Currency, value.FetchedAt.UTC())
	if err != nil {
		return errors.Wrap(errors.ErrCodeWriteFailed, "failed to store portfolio value", err)
	}

	return nil
}

// GetLatestPortfolioValue returns the most recent portfolio value snapshot.
func (s *DuckDBStore) GetLatestPortfolioValue(ctx context.Context, userAddress string) (optional.Option[types.PortfolioValue], error) {
	query, args, err := s.sq.
		Select("portfolio_value", "currency", "fetched_at").
		From("value_cache").
		Where(squirrel.Eq{"user_address": userAddress}).
		OrderBy("fetched_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return optional.None[types.PortfolioValue](), errors.Wrap(errors.ErrCodeQueryFailed, "failed to build value query", err)
	}

	var value types.PortfolioValue

	err = s.db.QueryRowContext(ctx, query, args...).Scan(&value.Value, &value.Currency, &value.FetchedAt)
	if err == sql.ErrNoRows {
		return optional.None[types.PortfolioValue](), nil
	}

	if err != nil {
		return optional.None[types.PortfolioValue](), errors.Wrap(errors.ErrCodeQueryFailed, "failed to query portfolio value", err)
	}

	value.FetchedAt = value.FetchedAt.UTC()

	return optional.Some(value), nil
}

// PutPositions stores a raw positions payload snapshot.
func (s *DuckDBStore) PutPositions(ctx context.Context, userAddress string, snapshot types.PositionsSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions_cache (user_address, payload, fetched_at)
		VALUES (?, ?, ?)
	`, userAddress, string(snapshot.Payload), snapshot.FetchedAt.UTC())
	if err != nil {
		return errors.Wrap(errors.ErrCodeWriteFailed, "failed to store positions", err)
	}

	return nil
}

// GetLatestPositions returns the most recent positions snapshot.
func (s *DuckDBStore) GetLatestPositions(ctx context.Context, userAddress string) (optional.Option[types.PositionsSnapshot], error) {
	query, args, err := s.sq.
		Select("payload", "fetched_at").
		From("positions_cache").
		Where(squirrel.Eq{"user_address": userAddress}).
		OrderBy("fetched_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return optional.None[types.PositionsSnapshot](), errors.Wrap(errors.ErrCodeQueryFailed, "failed to build positions query", err)
	}

	var (
		payload   string
		fetchedAt time.Time
	)

	err = s.db.QueryRowContext(ctx, query, args...).Scan(&payload, &fetchedAt)
	if err == sql.ErrNoRows {
		return optional.None[types.PositionsSnapshot](), nil
	}

	if err != nil {
		return optional.None[types.PositionsSnapshot](), errors.Wrap(errors.ErrCodeQueryFailed, "failed to query positions", err)
	}

	return optional.Some(types.PositionsSnapshot{
		Payload:   json.RawMessage(payload),
		FetchedAt: fetchedAt.UTC(),
	}), nil
}

// CountTrades returns the number of stored trades for the user.
func (s *DuckDBStore) CountTrades(ctx context.Context, userAddress string) (int, error) {
	query, args, err := s.sq.
		Select("COUNT(*)").
		From("trades").
		Where(squirrel.Eq{"user_address": userAddress}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build count query", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count trades", err)
	}

	return count, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	utc := t.Time.UTC()

	return &utc
}
