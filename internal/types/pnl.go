package types

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DateLayout is the calendar-date format used across the daily PnL tables.
// Lexicographic comparison of dates in this layout matches chronological order.
const DateLayout = "2006-01-02"

// DailyPnl is one day of booked profit and loss for a user.
type DailyPnl struct {
	// Date is the calendar date in YYYY-MM-DD format, unique per user per day.
	Date string `json:"date" yaml:"date"`
	// Realized is the realized profit/loss booked that day.
	Realized float64 `json:"realized" yaml:"realized"`
	// Unrealized is the change in mark-to-market value of open positions that day.
	Unrealized float64 `json:"unrealized" yaml:"unrealized"`
	// Fees is the total fees paid that day, expected non-negative.
	Fees float64 `json:"fees" yaml:"fees"`
}

// Range is a trailing time window used to filter the displayed series.
type Range string

const (
	Range7D  Range = "7D"
	Range30D Range = "30D"
	Range90D Range = "90D"
	RangeAll Range = "ALL"
)

// Days returns the number of trailing days covered by the range,
// or 0 for RangeAll.
func (r Range) Days() int {
	switch r {
	case Range7D:
		return 7
	case Range30D:
		return 30
	case Range90D:
		return 90
	case RangeAll:
		return 0
	}

	return 0
}

// IsValid reports whether r is one of the supported ranges.
func (r Range) IsValid() bool {
	switch r {
	case Range7D, Range30D, Range90D, RangeAll:
		return true
	}

	return false
}

// Cutoff returns the inclusive cutoff date for the range relative to now.
// The second return value is false for RangeAll, which retains everything.
func (r Range) Cutoff(now time.Time) (string, bool) {
	days := r.Days()
	if days == 0 {
		return "", false
	}

	return now.AddDate(0, 0, -days).Format(DateLayout), true
}

// DerivedPoint is one day of the derived equity series, ready for chart rendering.
type DerivedPoint struct {
	// Date is the calendar date in YYYY-MM-DD format.
	Date string `json:"date" yaml:"date"`
	// Delta is realized + unrealized - fees for that day.
	Delta float64 `json:"delta" yaml:"delta"`
	// Realized is the realized PnL booked that day.
	Realized float64 `json:"realized" yaml:"realized"`
	// Unrealized is the mark-to-market change that day.
	Unrealized float64 `json:"unrealized" yaml:"unrealized"`
	// Fees is the day's fees, sign-flipped for display (stored negative).
	Fees float64 `json:"fees" yaml:"fees"`
	// Cumulative is the running sum of Delta up to and including this day.
	Cumulative float64 `json:"cumulative" yaml:"cumulative"`
}

// Summary is the fixed set of statistics derived from the full record set.
type Summary struct {
	// TotalRealized is the sum of realized PnL across all daily records.
	TotalRealized float64 `json:"totalRealized" yaml:"total_realized"`
	// TotalUnrealized is the sum of unrealized PnL across all daily records.
	TotalUnrealized float64 `json:"totalUnrealized" yaml:"total_unrealized"`
	// TotalFees is the sum of fees across all daily records.
	TotalFees float64 `json:"totalFees" yaml:"total_fees"`
	// NetPnl is TotalRealized + TotalUnrealized - TotalFees.
	NetPnl float64 `json:"netPnl" yaml:"net_pnl"`
	// WinRate is the fraction of trades with positive attributed realized PnL.
	WinRate float64 `json:"winRate" yaml:"win_rate"`
	// TradesCount is the total trade count.
	TradesCount int `json:"tradesCount" yaml:"trades_count"`
	// Sharpe is a naive annualized sharpe ratio over daily net returns.
	Sharpe float64 `json:"sharpe" yaml:"sharpe"`
}

// WriteSummary writes the summary to a YAML file at the given path.
func WriteSummary(path string, summary Summary) error {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write summary to file: %w", err)
	}

	return nil
}
