// Package marketapi is the client for the electricity market data API.
package marketapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aristath/gridlens/internal/clientdata"
	"github.com/aristath/gridlens/internal/domain"
	"github.com/rs/zerolog"
)

// maxErrorBody bounds how much of a failed response is read for its message
const maxErrorBody = 64 << 10

// Client for the market data API
type Client struct {
	baseURL   string
	token     string
	client    *http.Client
	log       zerolog.Logger
	cacheRepo *clientdata.Repository
}

// NewClient creates a market API client.
// cacheRepo is optional - if nil, caching is disabled
func NewClient(baseURL, token string, timeout time.Duration, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		token:     token,
		client:    &http.Client{Timeout: timeout},
		log:       log.With().Str("client", "market-api").Logger(),
		cacheRepo: cacheRepo,
	}
}

// WithToken returns a client sending token as its bearer credential
func (c *Client) WithToken(token string) *Client {
	if token == c.token {
		return c
	}
	clone := *c
	clone.token = token
	return &clone
}

// Historical fetches a window of historical samples
func (c *Client) Historical(ctx context.Context, q HistoricalQuery) (*HistoricalResponse, error) {
	key := q.Key()
	return cached(c, clientdata.TableHistorical, key, clientdata.TTLHistorical, func() (*HistoricalResponse, error) {
		var out HistoricalResponse
		if err := c.do(ctx, http.MethodGet, key, nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// Forecast requests a model prediction
func (c *Client) Forecast(ctx context.Context, q ForecastQuery) (*ForecastResponse, error) {
	return cached(c, clientdata.TableForecast, q.Key(), clientdata.TTLForecast, func() (*ForecastResponse, error) {
		var out ForecastResponse
		if err := c.do(ctx, http.MethodPost, PathPredict, q, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// LatestDate fetches the most recent date with data
func (c *Client) LatestDate(ctx context.Context) (*LatestDateInfo, error) {
	return cached(c, clientdata.TableLatestDate, PathLatestDate, clientdata.TTLLatestDate, func() (*LatestDateInfo, error) {
		var out LatestDateInfo
		if err := c.do(ctx, http.MethodGet, PathLatestDate, nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// PredictionDetail fetches one stored prediction
func (c *Client) PredictionDetail(ctx context.Context, id string) (*PredictionDetail, error) {
	key := PredictionDetailKey(id)
	return cached(c, clientdata.TablePredictionDetail, key, clientdata.TTLPredictionDetail, func() (*PredictionDetail, error) {
		var out PredictionDetail
		if err := c.do(ctx, http.MethodGet, key, nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// PredictionHistory lists stored predictions matching the filters
func (c *Client) PredictionHistory(ctx context.Context, f PredictionHistoryFilters) (*PredictionHistoryResponse, error) {
	key := f.Key()
	return cached(c, clientdata.TablePredictionList, key, clientdata.TTLPredictionList, func() (*PredictionHistoryResponse, error) {
		var out PredictionHistoryResponse
		if err := c.do(ctx, http.MethodGet, key, nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// PredictionHistoryStats fetches aggregate figures over all stored predictions
func (c *Client) PredictionHistoryStats(ctx context.Context) (*PredictionHistoryStats, error) {
	return cached(c, clientdata.TablePredictionStats, PathPredictionStats, clientdata.TTLPredictionStats, func() (*PredictionHistoryStats, error) {
		var out PredictionHistoryStats
		if err := c.do(ctx, http.MethodGet, PathPredictionStats, nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// cached serves fresh cache entries, otherwise calls fetch and stores the
// result. When fetch fails, stale cached data is returned instead (stale data
// > no data).
func cached[T any](c *Client, table, key string, ttl time.Duration, fetch func() (*T, error)) (*T, error) {
	if c.cacheRepo != nil {
		var hit T
		found, err := c.cacheRepo.GetIfFresh(table, key, &hit)
		if err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		} else if found {
			c.log.Debug().Str("key", key).Msg("Cache hit")
			return &hit, nil
		}
	}

	result, fetchErr := fetch()
	if fetchErr != nil {
		if c.cacheRepo != nil {
			var stale T
			if found, err := c.cacheRepo.Get(table, key, &stale); err == nil && found {
				c.log.Warn().
					Err(fetchErr).
					Str("key", key).
					Msg("API failed, using stale cached data")
				return &stale, nil
			}
		}
		return nil, fetchErr
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(table, key, result, ttl); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("Failed to cache response")
		}
	}

	return result, nil
}

// do performs one request. Every failure is a *domain.FetchError.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	target := c.baseURL + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return domain.NewParseError(target, fmt.Errorf("failed to encode request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return domain.NewNetworkError(target, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.log.Debug().Str("method", method).Str("url", target).Msg("Requesting")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.NewNetworkError(target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = json.Unmarshal(raw, &e)
		return domain.NewResponseError(target, resp.StatusCode, e.Error)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewParseError(target, err)
	}

	return nil
}
