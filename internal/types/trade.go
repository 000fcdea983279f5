package types

import (
	"strings"
	"time"

	"github.com/moznion/go-optional"
)

// TradeSide represents the direction of a trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// NormalizeSide maps loose side labels from the data API onto a TradeSide.
// Some upstream payloads carry the binary-market outcome ("Yes"/"No") instead
// of an explicit side, so the outcome is used as a fallback. Unrecognized
// labels default to BUY.
func NormalizeSide(raw string, outcome string) TradeSide {
	if raw == "" {
		raw = outcome
	}

	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "bid", "long", "yes", "y":
		return TradeSideBuy
	case "sell", "ask", "short", "no", "n":
		return TradeSideSell
	}

	return TradeSideBuy
}

// Trade is a single execution in a prediction market.
type Trade struct {
	// ID is the unique identifier of this trade within the trade set.
	ID string `json:"id" yaml:"id"`
	// Timestamp is the execution time.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	// Market is the identifier of the market traded.
	Market string `json:"market" yaml:"market"`
	// Side is the direction of the trade.
	Side TradeSide `json:"side" yaml:"side"`
	// Token is the outcome token label (e.g. a binary-market side).
	Token string `json:"token" yaml:"token"`
	// Price is the execution price, expected in [0, 1] for binary-outcome
	// markets but not enforced.
	Price float64 `json:"price" yaml:"price"`
	// Qty is the quantity traded, expected positive.
	Qty float64 `json:"qty" yaml:"qty"`
	// Fee is the fee paid on this trade, expected non-negative.
	Fee float64 `json:"fee" yaml:"fee"`
	// RealizedPnl is the signed PnL attributed to this trade if it closed
	// part or all of a position. None means no PnL was attributed.
	RealizedPnl optional.Option[float64] `json:"realizedPnl" yaml:"realized_pnl"`
}

// NormalizedTrade is a trade normalized from a raw data-api payload, carrying
// the bookkeeping fields the store persists alongside the display fields.
type NormalizedTrade struct {
	TradeID     string
	UserAddress string
	MarketID    string
	TokenID     string
	Side        TradeSide
	Price       float64
	Size        float64
	Quote       float64
	Fee         float64
	RealizedPnl optional.Option[float64]
	Taker       bool
	TradedAt    time.Time
}

// IsWin reports whether this trade has an attributed positive realized PnL.
// Trades without an attributed PnL are never counted as wins.
func (t Trade) IsWin() bool {
	if t.RealizedPnl.IsNone() {
		return false
	}

	return t.RealizedPnl.Unwrap() > 0
}
