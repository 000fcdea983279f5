package dataapi

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/polysight/polysight/internal/types"
)

// msThreshold separates second-resolution epoch values from millisecond ones.
// Anything below 10_000_000_000 is treated as seconds.
const msThreshold = 10_000_000_000

var tradeIDKeys = []string{"id", "trade_id", "tradeId", "event_id"}

var tradeTimestampKeys = []string{
	"createdAt", "created_at", "created", "created_time",
	"executedAt", "executed_at",
	"timestamp", "timestampMs", "timeMs",
	"time", "filledAt",
	"blockTimestamp", "block_time", "blockTime",
}

var txHashKeys = []string{"transactionHash", "txHash", "hash", "tx_hash"}

var logIndexKeys = []string{"logIndex", "log_index", "eventIndex", "event_index", "logIdx", "outcomeIndex"}

// Normalize converts a raw trade payload into the persisted shape. Returns
// false when the trade carries neither a resolvable id nor a timestamp; such
// rows are skipped rather than stored under a fabricated position.
func Normalize(raw RawTrade, defaultUser string) (types.NormalizedTrade, bool) {
	id := TradeID(raw)
	ts, tsOK := TradeTimestamp(raw)

	if id == "" || !tsOK {
		return types.NormalizedTrade{}, false
	}

	price := floatField(raw, "price")
	size := floatField(raw, "size")

	quote, _ := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(size)).Float64()

	marketID := stringField(raw, "conditionId", "market_id", "condition_id")

	tokenID := stringField(raw, "tokenId", "token_id")
	if tokenID == "" && marketID != "" {
		if idx, ok := raw["outcomeIndex"]; ok {
			tokenID = fmt.Sprintf("%s:%v", marketID, idx)
		}
	}

	user := stringField(raw, "user", "address", "proxyWallet")
	if user == "" {
		user = defaultUser
	}

	taker := true
	if v, ok := raw["taker"].(bool); ok {
		taker = v
	}

	pnl := optional.None[float64]()
	if v, ok := numeric(raw["realizedPnl"]); ok {
		pnl = optional.Some(v)
	}

	return types.NormalizedTrade{
		TradeID:     id,
		UserAddress: strings.ToLower(strings.TrimSpace(user)),
		MarketID:    marketID,
		TokenID:     tokenID,
		Side:        types.NormalizeSide(stringField(raw, "side"), stringField(raw, "outcome")),
		Price:       price,
		Size:        size,
		Quote:       quote,
		Fee:         floatField(raw, "fee"),
		RealizedPnl: pnl,
		Taker:       taker,
		TradedAt:    ts,
	}, true
}

// TradeID resolves a stable identifier for the raw trade. Direct id fields
// win; otherwise the id is composed from the transaction hash plus a log
// index or timestamp; as a last resort a hash of the canonical JSON is used.
func TradeID(raw RawTrade) string {
	for _, key := range tradeIDKeys {
		if v, ok := raw[key]; ok && v != nil {
			return fmt.Sprintf("%v", v)
		}
	}

	txHash := stringField(raw, txHashKeys...)

	if txHash != "" {
		for _, key := range logIndexKeys {
			if v, ok := raw[key]; ok && v != nil {
				return fmt.Sprintf("%s:%v", txHash, v)
			}
		}

		if ts, ok := TradeTimestamp(raw); ok {
			return fmt.Sprintf("%s:%d", txHash, ts.UnixMilli())
		}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return ""
	}

	return fmt.Sprintf("h:%x", sha1.Sum(data))
}

// TradeTimestamp extracts the execution time from the raw trade, trying the
// known key variants in order. Epoch values are disambiguated between seconds
// and milliseconds; string values additionally fall back to RFC3339.
func TradeTimestamp(raw RawTrade) (time.Time, bool) {
	for _, key := range tradeTimestampKeys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}

		if ts, ok := parseTimestamp(v); ok {
			return ts, true
		}
	}

	return time.Time{}, false
}

func parseTimestamp(v any) (time.Time, bool) {
	if f, ok := numeric(v); ok {
		return epochToTime(int64(f)), true
	}

	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}

	s = strings.TrimSpace(s)

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return epochToTime(int64(f)), true
	}

	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), true
	}

	return time.Time{}, false
}

func epochToTime(v int64) time.Time {
	if v < msThreshold {
		v *= 1000
	}

	return time.UnixMilli(v).UTC()
}

// numeric coerces JSON numbers and numeric strings into a float64.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)

		return f, err == nil
	}

	return 0, false
}

func stringField(raw RawTrade, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
	}

	return ""
}

func floatField(raw RawTrade, key string) float64 {
	v, _ := numeric(raw[key])

	return v
}
