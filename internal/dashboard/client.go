// Package dashboard is the Go client for the order dashboard API: it reads
// the windowed order list and triggers manual syncs.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"orderdash/internal/orders"
	"orderdash/internal/ordersync"
)

const (
	ordersPath = "/v1/orders"
	syncPath   = "/v1/sync"
)

// APIError is a non-2xx answer from the dashboard API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dashboard api: %d %s", e.StatusCode, e.Message)
}

type Meta struct {
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
}

type OrdersResponse struct {
	Success bool           `json:"success"`
	Meta    Meta           `json:"meta"`
	Orders  []orders.Order `json:"orders"`
	Message string         `json:"message,omitempty"`
}

type SyncResponse struct {
	Success bool             `json:"success"`
	Result  ordersync.Result `json:"result"`
	Message string           `json:"message,omitempty"`
}

type Client struct {
	BaseURL    string
	SyncSecret string
	HTTP       *http.Client
}

func NewClient(baseURL, syncSecret string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		SyncSecret: syncSecret,
		HTTP:       &http.Client{Timeout: 6 * time.Minute},
	}
}

// ListOrders fetches one page of the 60-day window. An empty shop lists
// every tenant.
func (c *Client) ListOrders(ctx context.Context, shop string, page, perPage int) (OrdersResponse, error) {
	q := url.Values{}
	q.Set("days", strconv.Itoa(orders.WindowDays))
	q.Set("page", strconv.Itoa(page))
	q.Set("perPage", strconv.Itoa(perPage))
	if shop != "" {
		q.Set("shop", shop)
	}

	var out OrdersResponse
	if err := c.do(ctx, http.MethodGet, ordersPath+"?"+q.Encode(), &out); err != nil {
		return OrdersResponse{}, err
	}
	if out.Orders == nil {
		out.Orders = []orders.Order{}
	}
	return out, nil
}

// TriggerSync blocks until the server-side sync finishes.
func (c *Client) TriggerSync(ctx context.Context, shop string) (SyncResponse, error) {
	q := url.Values{}
	q.Set("shop", shop)

	var out SyncResponse
	if err := c.do(ctx, http.MethodPost, syncPath+"?"+q.Encode(), &out); err != nil {
		return SyncResponse{}, err
	}
	return out, nil
}

// Refresh triggers a sync and re-reads the same page. When the sync fails
// the page is not re-read.
func (c *Client) Refresh(ctx context.Context, shop string, page, perPage int) (SyncResponse, OrdersResponse, error) {
	res, err := c.TriggerSync(ctx, shop)
	if err != nil {
		return SyncResponse{}, OrdersResponse{}, fmt.Errorf("sync: %w", err)
	}
	list, err := c.ListOrders(ctx, shop, page, perPage)
	if err != nil {
		return res, OrdersResponse{}, fmt.Errorf("reload orders: %w", err)
	}
	return res, list, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.SyncSecret != "" && method == http.MethodPost {
		req.Header.Set("X-SYNC-SECRET", c.SyncSecret)
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	res, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		var e struct {
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			msg = e.Message
		}
		return &APIError{StatusCode: res.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
