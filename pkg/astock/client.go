// Package astock is a Go client for the cn-server sync API.
package astock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SyncTask mirrors the server's sync status record.
type SyncTask struct {
	RunID     string    `json:"runId"`
	Running   bool      `json:"running"`
	Progress  int       `json:"progress"`
	Total     int       `json:"total"`
	Updated   int       `json:"updated"`
	Message   string    `json:"message"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UpdateResult is the outcome of a single-symbol update.
type UpdateResult struct {
	Symbol  string `json:"symbol"`
	Status  string `json:"status"`
	NewRows int    `json:"newRows"`
	Message string `json:"message"`
}

// Stock is one universe entry.
type Stock struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// HistoryCount summarises the server's history cache.
type HistoryCount struct {
	Symbols    int `json:"symbols"`
	Rows       int `json:"rows"`
	Unreadable int `json:"unreadable"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the cn-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// StartSync starts a full-universe sync.
func (c *Client) StartSync(ctx context.Context) (SyncTask, error) {
	var task SyncTask
	err := c.do(ctx, http.MethodPost, "/api/cn/sync/start", &task)
	return task, err
}

// StopSync asks the running sync to stop.
func (c *Client) StopSync(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/cn/sync/stop", nil)
}

// SyncStatus returns the last recorded sync status.
func (c *Client) SyncStatus(ctx context.Context) (SyncTask, error) {
	var task SyncTask
	err := c.do(ctx, http.MethodGet, "/api/cn/sync/status", &task)
	return task, err
}

// UpdateSymbol brings one symbol up to date and waits for the result.
func (c *Client) UpdateSymbol(ctx context.Context, symbol string) (UpdateResult, error) {
	var res UpdateResult
	err := c.do(ctx, http.MethodPost, "/api/cn/stocks/"+url.PathEscape(symbol)+"/update", &res)
	return res, err
}

// Stocks returns the cached universe, refetching it first if refresh is set.
func (c *Client) Stocks(ctx context.Context, refresh bool) ([]Stock, error) {
	path := "/api/cn/stocks"
	if refresh {
		path += "?refresh=1"
	}
	var resp struct {
		Stocks []Stock `json:"stocks"`
	}
	err := c.do(ctx, http.MethodGet, path, &resp)
	return resp.Stocks, err
}

// StockCount returns the universe size.
func (c *Client) StockCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	err := c.do(ctx, http.MethodGet, "/api/cn/stocks/count", &resp)
	return resp.Count, err
}

// HistoryCount returns the history cache summary.
func (c *Client) HistoryCount(ctx context.Context) (HistoryCount, error) {
	var hc HistoryCount
	err := c.do(ctx, http.MethodGet, "/api/cn/history/count", &hc)
	return hc, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
