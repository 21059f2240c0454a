package httpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"orderdash/internal/metrics"

	"github.com/aws/aws-lambda-go/events"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 6 << 20

// LambdaHandler is the API Gateway v2 handler shape served by cmd/orders-api.
type LambdaHandler func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error)

// NewMux serves the Lambda handler over plain HTTP. Each named route gets
// its own metrics label; anything else is labelled "other".
func NewMux(h LambdaHandler, routes []string) *http.ServeMux {
	metrics.Register()
	mux := http.NewServeMux()
	adapted := Adapter(h)
	for _, route := range routes {
		mux.HandleFunc(route, instrumentHandler(route, adapted))
	}
	mux.HandleFunc("/", instrumentHandler("other", adapted))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Adapter converts net/http requests to API Gateway v2 events and back.
func Adapter(h LambdaHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := toEvent(r)
		if err != nil {
			http.Error(w, `{"success":false,"message":"request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		resp, err := h(r.Context(), req)
		if err != nil {
			logrus.WithError(err).Error("handler returned error")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"success":false,"message":"internal error"}`))
			return
		}
		writeResponse(w, resp)
	}
}

func toEvent(r *http.Request) (events.APIGatewayV2HTTPRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return events.APIGatewayV2HTTPRequest{}, err
	}
	if len(body) > maxBodyBytes {
		return events.APIGatewayV2HTTPRequest{}, errors.New("body too large")
	}

	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ",")
	}
	query := make(map[string]string, len(r.URL.Query()))
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	req := events.APIGatewayV2HTTPRequest{
		Version:               "2.0",
		RouteKey:              "$default",
		RawPath:               r.URL.Path,
		RawQueryString:        r.URL.RawQuery,
		Headers:               headers,
		QueryStringParameters: query,
	}
	if utf8.Valid(body) {
		req.Body = string(body)
	} else {
		req.Body = base64.StdEncoding.EncodeToString(body)
		req.IsBase64Encoded = true
	}
	req.RequestContext.HTTP.Method = r.Method
	req.RequestContext.HTTP.Path = r.URL.Path
	req.RequestContext.HTTP.Protocol = r.Proto
	req.RequestContext.HTTP.UserAgent = r.UserAgent()
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		req.RequestContext.HTTP.SourceIP = host
	}
	req.RequestContext.TimeEpoch = time.Now().UnixMilli()
	return req, nil
}

func writeResponse(w http.ResponseWriter, resp events.APIGatewayV2HTTPResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	for k, vs := range resp.MultiValueHeaders {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	body := []byte(resp.Body)
	if resp.IsBase64Encoded {
		if decoded, err := base64.StdEncoding.DecodeString(resp.Body); err == nil {
			body = decoded
		}
	}
	w.WriteHeader(status)
	if status != http.StatusNoContent {
		_, _ = w.Write(body)
	}
}

// instrumentHandler wraps an HTTP handler with Prometheus instrumentation
func instrumentHandler(route string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(wrapped, r)

		metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(startTime).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Serve runs the server until ctx is cancelled, then shuts down gracefully.
// Write timeout is generous because sync requests block for the whole run.
func Serve(ctx context.Context, addr string, handler http.Handler, writeTimeout time.Duration) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
