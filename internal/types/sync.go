package types

import (
	"encoding/json"
	"strings"
	"time"
)

// NormalizeAddress canonicalizes a user wallet address. Addresses are stored
// and queried lowercased.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// SyncStatus represents the current state of a user's trade sync.
type SyncStatus string

const (
	// SyncStatusIdle indicates the user's trades are up to date.
	SyncStatusIdle SyncStatus = "idle"

	// SyncStatusRunning indicates a refresh is in progress.
	SyncStatusRunning SyncStatus = "running"

	// SyncStatusError indicates the last refresh failed.
	SyncStatusError SyncStatus = "error"
)

// SyncMeta carries per-user sync bookkeeping surfaced through the snapshot API.
type SyncMeta struct {
	UserAddress       string     `json:"user_address"`
	SyncStatus        SyncStatus `json:"sync_status"`
	LastViewedAt      *time.Time `json:"last_viewed_at"`
	LastSyncedAt      *time.Time `json:"last_synced_at"`
	LastTradeAtCached *time.Time `json:"last_trade_at_cached"`
	LastTradeIDCached string     `json:"last_trade_id_cached"`
	ErrorMsg          string     `json:"error_msg,omitempty"`
}

// Watermark marks the newest trade already persisted for a user. Incremental
// refreshes stop once they walk back past it.
type Watermark struct {
	LastTradeAt time.Time `json:"last_trade_at"`
	LastTradeID string    `json:"last_trade_id"`
}

// Covers reports whether the watermark already covers a trade at the given
// time with the given id. A trade strictly older than the watermark, or at the
// same instant with the same id, needs no re-fetch.
func (w Watermark) Covers(tradedAt time.Time, tradeID string) bool {
	if tradedAt.Before(w.LastTradeAt) {
		return true
	}

	return tradedAt.Equal(w.LastTradeAt) && tradeID == w.LastTradeID
}

// PortfolioValue is the cached total portfolio value for a user.
type PortfolioValue struct {
	Value     float64   `json:"portfolio_value"`
	Currency  string    `json:"currency"`
	FetchedAt time.Time `json:"fetched_at"`
}

// PositionsSnapshot is the cached raw positions payload for a user. The
// payload is kept opaque; the aggregation core never reads it.
type PositionsSnapshot struct {
	Payload   json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetched_at"`
}
