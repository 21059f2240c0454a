package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"orderdash/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 8 * time.Second
	maxErrorBody     = 512
)

var tracer = otel.Tracer("orderdash/shopify")

type GraphQLError struct {
	Message    string `json:"message"`
	Path       []any  `json:"path,omitempty"`
	Extensions struct {
		Code string `json:"code,omitempty"`
	} `json:"extensions,omitempty"`
}

type GraphQLResponse[T any] struct {
	Data   T              `json:"data"`
	Errors []GraphQLError `json:"errors"`
}

// UpstreamError is any failure talking to the Admin API: transport errors,
// non-2xx responses and GraphQL-level errors.
type UpstreamError struct {
	StatusCode int
	Messages   []string
	Retryable  bool

	retryAfter time.Duration
	err        error
}

func (e *UpstreamError) Error() string {
	msg := strings.Join(e.Messages, "; ")
	if e.err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.err.Error()
	}
	if e.StatusCode == 0 {
		return "shopify upstream: " + msg
	}
	return fmt.Sprintf("shopify upstream: http %d: %s", e.StatusCode, msg)
}

func (e *UpstreamError) Unwrap() error { return e.err }

// Client talks to the Shopify Admin API. It holds no credentials: every call
// names the shop and access token explicitly.
type Client struct {
	httpClient *http.Client
	apiVersion string
	schema     Schema
	baseURL    func(shop string) string

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithBaseURL replaces https://<shop> with a fixed origin. Used against
// local stubs.
func WithBaseURL(base string) Option {
	base = strings.TrimRight(base, "/")
	return func(c *Client) {
		c.baseURL = func(string) string { return base }
	}
}

func WithSchema(s Schema) Option {
	return func(c *Client) { c.schema = s }
}

func WithRetries(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = max(maxRetries, 0)
		if baseDelay > 0 {
			c.baseDelay = baseDelay
		}
		if maxDelay > 0 {
			c.maxDelay = maxDelay
		}
	}
}

func NewClient(apiVersion string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiVersion: apiVersion,
		schema:     SchemaStandard,
		baseURL:    func(shop string) string { return "https://" + shop },
		maxRetries: 3,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Schema() Schema { return c.schema }

func (c *Client) adminURL(shop, path string) string {
	return fmt.Sprintf("%s/admin/api/%s/%s", c.baseURL(shop), c.apiVersion, path)
}

// PostGraphQL runs one Admin GraphQL document, retrying throttling, 5xx and
// transport failures. GraphQL errors in a 200 response are returned as a
// non-retryable UpstreamError unless Shopify reports THROTTLED.
func PostGraphQL[T any](ctx context.Context, c *Client, shop, accessToken, query string, variables any) (*GraphQLResponse[T], error) {
	body, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return nil, fmt.Errorf("encode graphql request: %w", err)
	}

	ctx, span := tracer.Start(ctx, "shopify.graphql")
	defer span.End()
	span.SetAttributes(attribute.String("shop", shop))

	for attempt := 0; ; attempt++ {
		out, err := postOnce[T](ctx, c, shop, accessToken, body)
		if err == nil {
			return out, nil
		}

		var ue *UpstreamError
		if !errors.As(err, &ue) || !ue.Retryable || attempt >= c.maxRetries || ctx.Err() != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		span.AddEvent("retry", trace.WithAttributes(attribute.Int("attempt", attempt+1)))
		if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, ue.retryAfter)); waitErr != nil {
			return nil, &UpstreamError{Messages: ue.Messages, StatusCode: ue.StatusCode, err: waitErr}
		}
	}
}

func postOnce[T any](ctx context.Context, c *Client, shop, accessToken string, body []byte) (*GraphQLResponse[T], error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.adminURL(shop, "graphql.json"), bytes.NewReader(body))
	if err != nil {
		return nil, &UpstreamError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", accessToken)

	started := time.Now()
	res, err := c.httpClient.Do(req)
	metrics.UpstreamRequestDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("0").Inc()
		return nil, &UpstreamError{Retryable: true, err: err}
	}
	defer res.Body.Close()
	metrics.UpstreamRequestsTotal.WithLabelValues(strconv.Itoa(res.StatusCode)).Inc()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &UpstreamError{StatusCode: res.StatusCode, Retryable: true, err: err}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &UpstreamError{
			StatusCode: res.StatusCode,
			Messages:   []string{truncate(strings.TrimSpace(string(raw)), maxErrorBody)},
			Retryable:  res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500,
			retryAfter: parseRetryAfterSeconds(res.Header.Get("Retry-After")),
		}
	}

	var out GraphQLResponse[T]
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &UpstreamError{StatusCode: res.StatusCode, Messages: []string{"invalid graphql response"}, err: err}
	}
	if len(out.Errors) > 0 {
		ue := &UpstreamError{StatusCode: res.StatusCode}
		for _, e := range out.Errors {
			ue.Messages = append(ue.Messages, e.Message)
			if e.Extensions.Code == "THROTTLED" {
				ue.Retryable = true
			}
		}
		return nil, ue
	}
	return &out, nil
}

func (c *Client) retryDelay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, c.maxDelay)
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return min(delay, c.maxDelay)
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.ParseFloat(header, 64); err == nil && seconds > 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	return 0
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
