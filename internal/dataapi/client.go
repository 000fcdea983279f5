// Package dataapi is the HTTP client for the public prediction-market trades
// API. Payload shapes vary across API revisions, so parsing is deliberately
// tolerant: the trade list may appear at the top level or under several known
// envelope keys, and individual trades are normalized field by field.
package dataapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/polysight/polysight/pkg/errors"
)

// DefaultBaseURL is the production data API endpoint.
const DefaultBaseURL = "https://data-api.polymarket.com"

const defaultTimeout = 15 * time.Second

// RawTrade is a single trade payload as returned by the data API, before
// normalization. Field names differ between API revisions, hence the map.
type RawTrade map[string]any

// Client fetches trade pages from the data API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a data API client. An empty baseURL selects the
// production endpoint; a zero timeout selects the default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchTradesPage fetches one page of the user's trades, newest first.
func (c *Client) FetchTradesPage(ctx context.Context, user string, limit, offset int, takerOnly bool) ([]RawTrade, error) {
	params := url.Values{}
	params.Set("user", user)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("takerOnly", strconv.FormatBool(takerOnly))

	endpoint := fmt.Sprintf("%s/trades?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataAPIRequestFailed, "failed to build trades request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataAPIRequestFailed, "trades request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.ErrCodeDataAPIBadStatus, "trades request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataAPIRequestFailed, "failed to read trades response", err)
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataAPIParseFailed, "failed to decode trades response", err)
	}

	return extractTradesList(payload), nil
}

// FetchHeadTrade fetches the user's most recent trade, or nil when the user
// has no trades.
func (c *Client) FetchHeadTrade(ctx context.Context, user string) (RawTrade, error) {
	page, err := c.FetchTradesPage(ctx, user, 1, 0, false)
	if err != nil {
		return nil, err
	}

	if len(page) == 0 {
		return nil, nil
	}

	return page[0], nil
}

// extractTradesList pulls the trade list out of the response payload. The API
// has returned a bare list, and lists wrapped under data/trades/results/items.
func extractTradesList(payload any) []RawTrade {
	toTrades := func(items []any) []RawTrade {
		trades := make([]RawTrade, 0, len(items))

		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				trades = append(trades, RawTrade(m))
			}
		}

		return trades
	}

	switch v := payload.(type) {
	case []any:
		return toTrades(v)
	case map[string]any:
		for _, key := range []string{"data", "trades", "results", "items"} {
			if items, ok := v[key].([]any); ok {
				return toTrades(items)
			}
		}
	}

	return []RawTrade{}
}
