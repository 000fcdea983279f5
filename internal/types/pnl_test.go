package types

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"
)

type PnlTestSuite struct {
	suite.Suite
	tempDir string
}

func TestPnlSuite(t *testing.T) {
	suite.Run(t, new(PnlTestSuite))
}

func (suite *PnlTestSuite) SetupTest() {
	tempDir, err := os.MkdirTemp("", "pnl_test")
	suite.NoError(err)
	suite.tempDir = tempDir
}

func (suite *PnlTestSuite) TearDownTest() {
	os.RemoveAll(suite.tempDir)
}

func (suite *PnlTestSuite) TestRangeDays() {
	tests := []struct {
		rng      Range
		expected int
	}{
		{Range7D, 7},
		{Range30D, 30},
		{Range90D, 90},
		{RangeAll, 0},
		{Range("bogus"), 0},
	}

	for _, tc := range tests {
		suite.Equal(tc.expected, tc.rng.Days(), "range %s", tc.rng)
	}
}

func (suite *PnlTestSuite) TestRangeIsValid() {
	suite.True(Range7D.IsValid())
	suite.True(Range30D.IsValid())
	suite.True(Range90D.IsValid())
	suite.True(RangeAll.IsValid())
	suite.False(Range("1Y").IsValid())
	suite.False(Range("").IsValid())
}

func (suite *PnlTestSuite) TestRangeCutoff() {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	cutoff, ok := Range7D.Cutoff(now)
	suite.True(ok)
	suite.Equal("2024-03-08", cutoff)

	cutoff, ok = Range30D.Cutoff(now)
	suite.True(ok)
	suite.Equal("2024-02-14", cutoff)

	cutoff, ok = Range90D.Cutoff(now)
	suite.True(ok)
	suite.Equal("2023-12-16", cutoff)

	_, ok = RangeAll.Cutoff(now)
	suite.False(ok)
}

func (suite *PnlTestSuite) TestWriteSummary() {
	summary := Summary{
		TotalRealized:   100.0,
		TotalUnrealized: -20.0,
		TotalFees:       5.0,
		NetPnl:          75.0,
		WinRate:         0.6,
		TradesCount:     50,
		Sharpe:          1.25,
	}

	filePath := filepath.Join(suite.tempDir, "summary.yaml")
	err := WriteSummary(filePath, summary)
	suite.NoError(err)

	data, err := os.ReadFile(filePath)
	suite.NoError(err)

	var readBack Summary
	err = yaml.Unmarshal(data, &readBack)
	suite.NoError(err)
	suite.Equal(summary, readBack)
}
