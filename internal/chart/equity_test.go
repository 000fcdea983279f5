package chart

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/polysight/polysight/internal/types"
	"github.com/polysight/polysight/pkg/errors"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

type EquityChartTestSuite struct {
	suite.Suite
}

func TestEquityChartSuite(t *testing.T) {
	suite.Run(t, new(EquityChartTestSuite))
}

func (suite *EquityChartTestSuite) TestRenderEquityCurve() {
	points := []types.DerivedPoint{
		{Date: "2024-01-01", Delta: 10, Cumulative: 10},
		{Date: "2024-01-02", Delta: -4, Cumulative: 6},
		{Date: "2024-01-03", Delta: 9, Cumulative: 15},
	}
	summary := types.Summary{NetPnl: 15, WinRate: 0.5, Sharpe: 1.2, TradesCount: 4}

	buf, err := RenderEquityCurve(points, summary, "")
	suite.NoError(err)
	suite.NotEmpty(buf)
	suite.True(bytes.HasPrefix(buf, pngMagic))
}

func (suite *EquityChartTestSuite) TestRenderFlatSeries() {
	points := []types.DerivedPoint{
		{Date: "2024-01-01", Cumulative: 5},
		{Date: "2024-01-02", Cumulative: 5},
	}

	buf, err := RenderEquityCurve(points, types.Summary{}, "Flat")
	suite.NoError(err)
	suite.NotEmpty(buf)
}

func (suite *EquityChartTestSuite) TestRenderEmptySeries() {
	_, err := RenderEquityCurve(nil, types.Summary{}, "")
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInsufficientData))
}
