// Package chart renders the equity-curve PNG served by the API.
package chart

import (
	"fmt"
	"time"

	"github.com/vicanso/go-charts/v2"

	"github.com/polysight/polysight/internal/types"
	"github.com/polysight/polysight/pkg/errors"
)

// RenderEquityCurve renders the cumulative PnL series as a line chart with the
// summary stats in the subtitle. Returns ErrCodeInsufficientData on an empty
// series so callers can render an empty state instead.
func RenderEquityCurve(points []types.DerivedPoint, summary types.Summary, title string) ([]byte, error) {
	if len(points) == 0 {
		return nil, errors.New(errors.ErrCodeInsufficientData, "no data points in range")
	}

	xLabels := make([]string, 0, len(points))
	values := make([]float64, 0, len(points))

	for _, p := range points {
		xLabels = append(xLabels, dateLabel(p.Date, len(points)))
		values = append(values, p.Cumulative)
	}

	yMin, yMax := yRange(values)

	if title == "" {
		title = "Cumulative PnL"
	}

	subtitle := fmt.Sprintf("Net: %.2f | Win Rate: %.1f%% | Sharpe: %.2f",
		summary.NetPnl, summary.WinRate*100, summary.Sharpe)

	splitNum := 6
	if len(xLabels) <= 30 {
		splitNum = len(xLabels) / 3
		if splitNum < 3 {
			splitNum = 3
		}
	}

	p, err := charts.LineRender(
		[][]float64{values},
		charts.TitleTextOptionFunc(title+"\n"+subtitle),
		charts.XAxisOptionFunc(charts.XAxisOption{
			Data:        xLabels,
			SplitNumber: splitNum,
			BoundaryGap: charts.FalseFlag(),
		}),
		charts.YAxisOptionFunc(charts.YAxisOption{
			Min:         &yMin,
			Max:         &yMax,
			DivideCount: 5,
		}),
		charts.ThemeOptionFunc(charts.ThemeLight),
	)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRenderFailed, "failed to render equity curve", err)
	}

	buf, err := p.Bytes()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRenderFailed, "failed to encode equity curve", err)
	}

	return buf, nil
}

// dateLabel formats an ISO date for the x-axis, coarser for longer series.
func dateLabel(date string, total int) string {
	t, err := time.Parse(types.DateLayout, date)
	if err != nil {
		return date
	}

	if total <= 60 {
		return t.Format("Jan 02")
	}

	return t.Format("Jan '06")
}

func yRange(values []float64) (float64, float64) {
	minVal, maxVal := values[0], values[0]

	for _, v := range values {
		if v < minVal {
			minVal = v
		}

		if v > maxVal {
			maxVal = v
		}
	}

	padding := (maxVal - minVal) * 0.05
	if padding == 0 {
		padding = 1
	}

	return minVal - padding, maxVal + padding
}
