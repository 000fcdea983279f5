package datasource

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/moznion/go-optional"

	"github.com/polysight/polysight/internal/types"
)

// mockHistoryDays is how many days of synthetic history the generator keeps
// per user. Long enough to fill the widest display range.
const mockHistoryDays = 120

var mockMarkets = []string{
	"will-btc-close-above-100k",
	"fed-cut-in-september",
	"presidential-election-winner",
	"will-eth-flip-btc",
	"superbowl-lix-winner",
}

// MockDataSource generates deterministic synthetic records for demo mode and
// tests. The same user always gets the same history.
type MockDataSource struct {
	now func() time.Time
}

// NewMockDataSource creates a synthetic data source. The now function controls
// the end of the generated history; pass nil for time.Now.
func NewMockDataSource(now func() time.Time) *MockDataSource {
	if now == nil {
		now = time.Now
	}

	return &MockDataSource{now: now}
}

// FetchDailyPnl implements DataSource.
func (m *MockDataSource) FetchDailyPnl(_ context.Context, userID string, rng types.Range) ([]types.DailyPnl, error) {
	gen := rand.New(rand.NewSource(userSeed(userID)))
	today := m.now().UTC()

	daily := make([]types.DailyPnl, 0, mockHistoryDays)

	for i := mockHistoryDays - 1; i >= 0; i-- {
		day := today.AddDate(0, 0, -i)
		daily = append(daily, types.DailyPnl{
			Date:       day.Format(types.DateLayout),
			Realized:   round2(gen.NormFloat64() * 40),
			Unrealized: round2(gen.NormFloat64() * 25),
			Fees:       round2(gen.Float64() * 3),
		})
	}

	cutoff, ok := rng.Cutoff(today)
	if !ok {
		return daily, nil
	}

	filtered := make([]types.DailyPnl, 0, len(daily))

	for _, record := range daily {
		if record.Date >= cutoff {
			filtered = append(filtered, record)
		}
	}

	return filtered, nil
}

// FetchTrades implements DataSource.
func (m *MockDataSource) FetchTrades(_ context.Context, userID string, limit int) ([]types.Trade, error) {
	gen := rand.New(rand.NewSource(userSeed(userID) + 1))
	now := m.now().UTC()

	trades := make([]types.Trade, 0, limit)

	for i := 0; i < limit; i++ {
		side := types.TradeSideBuy
		token := "YES"

		if gen.Float64() < 0.5 {
			side = types.TradeSideSell
			token = "NO"
		}

		pnl := optional.None[float64]()
		// Roughly two thirds of trades closed part of a position.
		if gen.Float64() < 0.66 {
			pnl = optional.Some(round2(gen.NormFloat64() * 20))
		}

		price := round2(0.02 + gen.Float64()*0.96)
		qty := round2(5 + gen.Float64()*200)

		trades = append(trades, types.Trade{
			ID:          fmt.Sprintf("mock-%s-%d", shortID(userID), i),
			Timestamp:   now.Add(-time.Duration(i) * 97 * time.Minute),
			Market:      mockMarkets[gen.Intn(len(mockMarkets))],
			Side:        side,
			Token:       token,
			Price:       price,
			Qty:         qty,
			Fee:         round2(price * qty * 0.01),
			RealizedPnl: pnl,
		})
	}

	return trades, nil
}

// Close implements DataSource.
func (m *MockDataSource) Close() error {
	return nil
}

func userSeed(userID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(userID))

	return int64(h.Sum64())
}

func shortID(userID string) string {
	if len(userID) <= 8 {
		return userID
	}

	return userID[:8]
}

func round2(v float64) float64 {
	return float64(int64(v*100)) / 100
}
