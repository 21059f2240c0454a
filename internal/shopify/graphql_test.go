package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithBaseURL(srv.URL), WithRetries(3, time.Millisecond, 5*time.Millisecond)}, opts...)
	return NewClient("2024-10", opts...)
}

func TestFetchOrdersPageSendsFilterAndParsesPage(t *testing.T) {
	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/api/2024-10/graphql.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Shopify-Access-Token") != "tok" {
			t.Errorf("missing access token header")
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"data":{"orders":{"edges":[
			{"cursor":"c1","node":{"id":"gid://shopify/Order/1"}},
			{"cursor":"c2","node":{"id":"gid://shopify/Order/2"}}
		],"pageInfo":{"hasNextPage":true,"endCursor":"c2"}}}}`))
	})

	page, err := c.FetchOrdersPage(context.Background(), "a.myshopify.com", "tok", since, "c0", 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(page.Nodes) != 2 || !page.HasNextPage || page.EndCursor != "c2" {
		t.Fatalf("unexpected page %+v", page)
	}

	vars, _ := gotBody["variables"].(map[string]any)
	if vars["query"] != "created_at:>='2026-01-02T03:04:05Z'" {
		t.Fatalf("unexpected filter %v", vars["query"])
	}
	if vars["after"] != "c0" || vars["first"] != float64(2) {
		t.Fatalf("unexpected vars %v", vars)
	}
	if q, _ := gotBody["query"].(string); !strings.Contains(q, "sortKey: CREATED_AT") || !strings.Contains(q, "totalPriceSet") {
		t.Fatalf("expected standard document, got %s", q)
	}
}

func TestFetchOrdersPageLegacySchemaAndFirstPage(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"data":{"orders":{"edges":[],"pageInfo":{"hasNextPage":false,"endCursor":null}}}}`))
	}, WithSchema(SchemaLegacy))

	page, err := c.FetchOrdersPage(context.Background(), "a", "tok", time.Now(), "", 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if page.HasNextPage || page.EndCursor != "" || len(page.Nodes) != 0 {
		t.Fatalf("unexpected page %+v", page)
	}
	vars, _ := gotBody["variables"].(map[string]any)
	if _, ok := vars["after"]; ok {
		t.Fatalf("first page must not send a cursor")
	}
	if vars["first"] != float64(MaxPageSize) {
		t.Fatalf("expected page size clamped to %d, got %v", MaxPageSize, vars["first"])
	}
	if q, _ := gotBody["query"].(string); !strings.Contains(q, "currentTotalPriceSet") {
		t.Fatalf("expected legacy document")
	}
}

func TestPostGraphQLRetriesThrottling(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.Header().Set("Retry-After", "0.001")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		case 3:
			_, _ = w.Write([]byte(`{"errors":[{"message":"Throttled","extensions":{"code":"THROTTLED"}}]}`))
		default:
			_, _ = w.Write([]byte(`{"data":{"orders":{"edges":[],"pageInfo":{"hasNextPage":false}}}}`))
		}
	})

	if _, err := c.FetchOrdersPage(context.Background(), "a", "tok", time.Now(), "", 10); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
}

func TestPostGraphQLGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithRetries(2, time.Millisecond, time.Millisecond))

	_, err := c.FetchOrdersPage(context.Background(), "a", "tok", time.Now(), "", 10)
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != http.StatusServiceUnavailable || !ue.Retryable {
		t.Fatalf("expected retryable 503 upstream error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestPostGraphQLDoesNotRetryClientErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"errors":"[API] Invalid API key or access token"}`},
		{"graphql error", http.StatusOK, `{"errors":[{"message":"Field 'bogus' doesn't exist"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.FetchOrdersPage(context.Background(), "a", "tok", time.Now(), "", 10)
			var ue *UpstreamError
			if !errors.As(err, &ue) || ue.Retryable {
				t.Fatalf("expected non-retryable upstream error, got %v", err)
			}
			if calls != 1 {
				t.Fatalf("expected a single attempt, got %d", calls)
			}
		})
	}
}

func TestRetryDelayBackoff(t *testing.T) {
	c := NewClient("v")
	cases := []struct {
		attempt    int
		retryAfter time.Duration
		want       time.Duration
	}{
		{1, 0, 500 * time.Millisecond},
		{2, 0, time.Second},
		{4, 0, 4 * time.Second},
		{6, 0, 8 * time.Second},
		{1, 2 * time.Second, 2 * time.Second},
		{1, time.Minute, 8 * time.Second},
	}
	for _, tc := range cases {
		if got := c.retryDelay(tc.attempt, tc.retryAfter); got != tc.want {
			t.Fatalf("attempt %d retryAfter %s: got %s want %s", tc.attempt, tc.retryAfter, got, tc.want)
		}
	}
}

func TestParseSchema(t *testing.T) {
	if s, err := ParseSchema("LEGACY"); err != nil || s != SchemaLegacy {
		t.Fatalf("expected legacy, got %s %v", s, err)
	}
	if s, err := ParseSchema(""); err != nil || s != SchemaStandard {
		t.Fatalf("expected standard default, got %s %v", s, err)
	}
	if _, err := ParseSchema("v3"); err == nil {
		t.Fatalf("expected error for unknown schema")
	}
}

func TestFetchOrdersPageCompletesTruncatedLineItems(t *testing.T) {
	var lineItemCalls []map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		_ = json.Unmarshal(raw, &body)

		if strings.Contains(body.Query, "OrderLineItems") {
			lineItemCalls = append(lineItemCalls, body.Variables)
			switch body.Variables["after"] {
			case "l2":
				_, _ = w.Write([]byte(`{"data":{"order":{"lineItems":{"edges":[
					{"cursor":"l3","node":{"id":"li-3","title":"C","quantity":1}}
				],"pageInfo":{"hasNextPage":true,"endCursor":"l3"}}}}}`))
			case "l3":
				_, _ = w.Write([]byte(`{"data":{"order":{"lineItems":{"edges":[
					{"cursor":"l4","node":{"id":"li-4","title":"D","quantity":2}}
				],"pageInfo":{"hasNextPage":false,"endCursor":"l4"}}}}}`))
			default:
				t.Errorf("unexpected line-item cursor %v", body.Variables["after"])
			}
			return
		}
		if strings.Count(body.Query, "pageInfo { hasNextPage endCursor }") != 2 {
			t.Errorf("orders document must request the nested line-item pageInfo")
		}
		_, _ = w.Write([]byte(`{"data":{"orders":{"edges":[
			{"cursor":"c1","node":{"id":"gid://shopify/Order/1","createdAt":"2026-01-02T03:04:05Z",
			 "totalPriceSet":{"shopMoney":{"amount":"12.34","currencyCode":"USD"}},
			 "lineItems":{"edges":[
				{"cursor":"l1","node":{"id":"li-1","title":"A","quantity":1}},
				{"cursor":"l2","node":{"id":"li-2","title":"B","quantity":1}}
			 ],"pageInfo":{"hasNextPage":true,"endCursor":"l2"}}}},
			{"cursor":"c2","node":{"id":"gid://shopify/Order/2","createdAt":"2026-01-02T03:04:06Z",
			 "lineItems":{"edges":[],"pageInfo":{"hasNextPage":false,"endCursor":null}}}}
		],"pageInfo":{"hasNextPage":false,"endCursor":"c2"}}}}`))
	})

	page, err := c.FetchOrdersPage(context.Background(), "a.myshopify.com", "tok", time.Now(), "", 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(lineItemCalls) != 2 || page.LineItemQueries != 2 {
		t.Fatalf("expected two line-item follow-ups, got %d (%d)", len(lineItemCalls), page.LineItemQueries)
	}
	if lineItemCalls[0]["id"] != "gid://shopify/Order/1" {
		t.Fatalf("follow-up must target the truncated order, got %v", lineItemCalls[0]["id"])
	}

	o, err := NormalizeOrder("a.myshopify.com", page.Nodes[0])
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	var ids []string
	for _, li := range o.LineItems {
		ids = append(ids, li.LineItemID)
	}
	if strings.Join(ids, ",") != "li-1,li-2,li-3,li-4" {
		t.Fatalf("line items out of upstream order or incomplete: %v", ids)
	}
	if o.TotalPrice == nil || *o.TotalPrice != "12.34" {
		t.Fatalf("order fields lost while merging: %+v", o.TotalPrice)
	}
	if string(page.Nodes[1]) == "" {
		t.Fatalf("complete order must pass through")
	}
}

func TestFetchOrdersPageRejectsLineItemsWithoutCursor(t *testing.T) {
	cases := []struct {
		name      string
		order     string
		followUp  string
		wantCalls int
	}{
		{
			name: "order node",
			order: `"lineItems":{"edges":[{"node":{"id":"li-1","title":"A","quantity":1}}],
				"pageInfo":{"hasNextPage":true,"endCursor":null}}`,
			wantCalls: 0,
		},
		{
			name: "follow-up page",
			order: `"lineItems":{"edges":[{"cursor":"l1","node":{"id":"li-1","title":"A","quantity":1}}],
				"pageInfo":{"hasNextPage":true,"endCursor":"l1"}}`,
			followUp: `{"data":{"order":{"lineItems":{"edges":[{"node":{"id":"li-2","title":"B","quantity":1}}],
				"pageInfo":{"hasNextPage":true,"endCursor":null}}}}}`,
			wantCalls: 1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				raw, _ := io.ReadAll(r.Body)
				if strings.Contains(string(raw), "OrderLineItems") {
					atomic.AddInt32(&calls, 1)
					_, _ = w.Write([]byte(tc.followUp))
					return
				}
				_, _ = w.Write([]byte(`{"data":{"orders":{"edges":[
					{"cursor":"c1","node":{"id":"gid://shopify/Order/1","createdAt":"2026-01-02T03:04:05Z",` + tc.order + `}}
				],"pageInfo":{"hasNextPage":false,"endCursor":"c1"}}}}`))
			})

			_, err := c.FetchOrdersPage(context.Background(), "a.myshopify.com", "tok", time.Now(), "", 0)
			var ue *UpstreamError
			if !errors.As(err, &ue) || !strings.Contains(ue.Error(), "no cursor") {
				t.Fatalf("expected missing-cursor upstream error, got %v", err)
			}
			if ue.Retryable {
				t.Fatalf("missing cursor must not be retried")
			}
			if got := int(atomic.LoadInt32(&calls)); got != tc.wantCalls {
				t.Fatalf("expected %d follow-ups, got %d", tc.wantCalls, got)
			}
		})
	}
}

func TestOrdersDocumentsStayWithinCostBudget(t *testing.T) {
	for schema, q := range ordersQueries {
		if !strings.Contains(q, fmt.Sprintf("lineItems(first: %d)", LineItemPageSize)) {
			t.Fatalf("%s document does not bound nested line items", schema)
		}
	}
	// Requested cost: 2 per connection plus first x per-node cost.
	perOrder := 1 + 2 + (2 + LineItemPageSize*4)
	if cost := 2 + MaxPageSize*perOrder; cost > 1000 {
		t.Fatalf("orders page requests %d cost points", cost)
	}
}
