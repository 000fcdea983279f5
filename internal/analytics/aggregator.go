// Package analytics derives the equity series and summary statistics shown on
// the trading dashboard from raw daily PnL and trade records. All functions
// are pure: they perform no I/O, hold no state, and return identical output
// for identical input.
package analytics

import (
	"math"
	"time"

	"github.com/polysight/polysight/internal/types"
)

// tradingDaysPerYear is the annualization factor for the sharpe ratio. Daily
// returns are annualized under a 365-day-year convention regardless of gaps
// in the record set; this is a known simplification.
const tradingDaysPerYear = 365

// FilterByRange retains the daily records inside the trailing window ending at
// now. Records are compared by their ISO date string, which matches
// chronological order. RangeAll returns the input unchanged. An empty result
// is valid; consumers render an empty series.
func FilterByRange(daily []types.DailyPnl, rng types.Range, now time.Time) []types.DailyPnl {
	cutoff, ok := rng.Cutoff(now)
	if !ok {
		return daily
	}

	filtered := make([]types.DailyPnl, 0, len(daily))

	for _, record := range daily {
		if record.Date >= cutoff {
			filtered = append(filtered, record)
		}
	}

	return filtered
}

// BuildSeries derives the cumulative equity series from filtered daily
// records. Points are emitted in input order; the cumulative sum starts at
// zero and fees are sign-flipped for display.
func BuildSeries(filtered []types.DailyPnl) []types.DerivedPoint {
	series := make([]types.DerivedPoint, 0, len(filtered))

	cum := 0.0

	for _, record := range filtered {
		delta := record.Realized + record.Unrealized - record.Fees
		cum += delta

		series = append(series, types.DerivedPoint{
			Date:       record.Date,
			Delta:      delta,
			Realized:   record.Realized,
			Unrealized: record.Unrealized,
			Fees:       -record.Fees,
			Cumulative: cum,
		})
	}

	return series
}

// ComputeAggregates derives the summary statistics over the full, unfiltered
// record set. Division-by-zero cases are guarded: an empty trade list yields a
// win rate of 0, and a zero standard deviation is substituted with 1 before
// computing the sharpe ratio.
func ComputeAggregates(daily []types.DailyPnl, trades []types.Trade) types.Summary {
	var totalRealized, totalUnrealized, totalFees float64

	for _, record := range daily {
		totalRealized += record.Realized
		totalUnrealized += record.Unrealized
		totalFees += record.Fees
	}

	wins := 0

	for _, trade := range trades {
		if trade.IsWin() {
			wins++
		}
	}

	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(wins) / float64(len(trades))
	}

	return types.Summary{
		TotalRealized:   totalRealized,
		TotalUnrealized: totalUnrealized,
		TotalFees:       totalFees,
		NetPnl:          totalRealized + totalUnrealized - totalFees,
		WinRate:         winRate,
		TradesCount:     len(trades),
		Sharpe:          naiveSharpe(daily),
	}
}

// naiveSharpe computes an annualized sharpe ratio over daily net returns using
// the population standard deviation. Zero variance substitutes sd = 1. An
// empty record set yields 0; callers with no history render a dash, not NaN.
func naiveSharpe(daily []types.DailyPnl) float64 {
	if len(daily) == 0 {
		return 0
	}

	returns := make([]float64, 0, len(daily))

	for _, record := range daily {
		returns = append(returns, record.Realized+record.Unrealized-record.Fees)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}

	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}

	variance /= float64(len(returns))

	sd := math.Sqrt(variance)
	if sd == 0 {
		sd = 1
	}

	return (mean / sd) * math.Sqrt(tradingDaysPerYear)
}
