package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/polysight/polysight/internal/analytics"
	"github.com/polysight/polysight/internal/chart"
	"github.com/polysight/polysight/internal/sync"
	"github.com/polysight/polysight/internal/types"
	"github.com/polysight/polysight/pkg/errors"
)

const (
	defaultTradesLimit = 100
	maxTradesLimit     = 5000
)

type errorResponse struct {
	Error string           `json:"error"`
	Code  errors.ErrorCode `json:"code"`
}

type snapshotResponse struct {
	Trades    []types.Trade            `json:"trades"`
	Positions *types.PositionsSnapshot `json:"positions"`
	Value     *types.PortfolioValue    `json:"value"`
	Meta      types.SyncMeta           `json:"meta"`
}

type seriesResponse struct {
	User   string               `json:"user"`
	Range  types.Range          `json:"range"`
	Series []types.DerivedPoint `json:"series"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	addr, err := requestAddress(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	if s.opts.Store == nil {
		s.writeError(w, errors.New(errors.ErrCodeStoreUnavailable, "snapshots require the persistent store"))

		return
	}

	limit := clamp(queryInt(r, "limit", defaultTradesLimit), 1, maxTradesLimit)

	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	now := s.now().UTC()

	if err := s.opts.Store.TouchLastViewed(ctx, addr, now); err != nil {
		s.writeError(w, err)

		return
	}

	trades, err := s.opts.Store.GetTrades(ctx, addr, limit, offset)
	if err != nil {
		s.writeError(w, err)

		return
	}

	count, err := s.opts.Store.CountTrades(ctx, addr)
	if err != nil {
		s.writeError(w, err)

		return
	}

	meta, err := s.opts.Store.GetMeta(ctx, addr)
	if err != nil {
		s.writeError(w, err)

		return
	}

	positions, err := s.opts.Store.GetLatestPositions(ctx, addr)
	if err != nil {
		s.writeError(w, err)

		return
	}

	value, err := s.opts.Store.GetLatestPortfolioValue(ctx, addr)
	if err != nil {
		s.writeError(w, err)

		return
	}

	metaView := types.SyncMeta{UserAddress: addr, SyncStatus: types.SyncStatusIdle}
	if meta.IsSome() {
		metaView = meta.Unwrap()
	}

	refreshing := metaView.SyncStatus == types.SyncStatusRunning

	if !refreshing && (count == 0 || sync.DuePolicy(now, meta)) {
		refreshing = s.enqueueRefresh(addr)
	}

	if refreshing {
		metaView.SyncStatus = types.SyncStatusRunning
	}

	s.writeJSON(w, http.StatusOK, snapshotResponse{
		Trades:    trades,
		Positions: optionalPtr(positions),
		Value:     optionalPtr(value),
		Meta:      metaView,
	})
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	addr, err := requestAddress(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	rng, err := requestRange(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	daily, err := s.opts.Source.FetchDailyPnl(r.Context(), addr, rng)
	if err != nil {
		s.writeError(w, err)

		return
	}

	filtered := analytics.FilterByRange(daily, rng, s.now())

	s.writeJSON(w, http.StatusOK, seriesResponse{
		User:   addr,
		Range:  rng,
		Series: analytics.BuildSeries(filtered),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	addr, err := requestAddress(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	daily, err := s.opts.Source.FetchDailyPnl(ctx, addr, types.RangeAll)
	if err != nil {
		s.writeError(w, err)

		return
	}

	trades, err := s.opts.Source.FetchTrades(ctx, addr, maxTradesLimit)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, analytics.ComputeAggregates(daily, trades))
}

func (s *Server) handleEquityChart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	addr, err := requestAddress(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	rng, err := requestRange(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	daily, err := s.opts.Source.FetchDailyPnl(ctx, addr, types.RangeAll)
	if err != nil {
		s.writeError(w, err)

		return
	}

	trades, err := s.opts.Source.FetchTrades(ctx, addr, maxTradesLimit)
	if err != nil {
		s.writeError(w, err)

		return
	}

	filtered := analytics.FilterByRange(daily, rng, s.now())
	series := analytics.BuildSeries(filtered)
	summary := analytics.ComputeAggregates(daily, trades)

	buf, err := renderEquityCurve(series, summary, rng)
	if err != nil {
		s.writeError(w, err)

		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(buf); err != nil {
		s.logger.Error("Failed to write chart response", zap.Error(err))
	}
}

func renderEquityCurve(series []types.DerivedPoint, summary types.Summary, rng types.Range) ([]byte, error) {
	title := "Cumulative PnL"
	if rng != types.RangeAll {
		title = fmt.Sprintf("Cumulative PnL (%s)", rng)
	}

	return chart.RenderEquityCurve(series, summary, title)
}

func requestAddress(r *http.Request) (string, error) {
	addr := types.NormalizeAddress(mux.Vars(r)["addr"])
	if addr == "" {
		return "", errors.New(errors.ErrCodeInvalidAddress, "address must not be empty")
	}

	return addr, nil
}

func requestRange(r *http.Request) (types.Range, error) {
	raw := r.URL.Query().Get("range")
	if raw == "" {
		return types.RangeAll, nil
	}

	rng := types.Range(raw)
	if !rng.IsValid() {
		return "", errors.Newf(errors.ErrCodeInvalidRange, "unsupported range %q", raw)
	}

	return rng, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

func optionalPtr[T any](opt optional.Option[T]) *T {
	if opt.IsNone() {
		return nil
	}

	v := opt.Unwrap()

	return &v
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)

	status := http.StatusInternalServerError

	switch code {
	case errors.ErrCodeInvalidParameter, errors.ErrCodeInvalidRange,
		errors.ErrCodeInvalidAddress, errors.ErrCodeMissingParameter:
		status = http.StatusBadRequest
	case errors.ErrCodeDataNotFound, errors.ErrCodeInsufficientData:
		status = http.StatusNotFound
	case errors.ErrCodeStoreUnavailable:
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}
