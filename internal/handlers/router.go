package handlers

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"orderdash/internal/orders"
	"orderdash/internal/ordersync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const moduleName = "handlers"

const (
	PathOrders       = "/v1/orders"
	PathSync         = "/v1/sync"
	PathSessions     = "/v1/sessions"
	PathAnalytics    = "/v1/analytics"
	PathUninstalled  = "/webhooks/app_uninstalled"
	PathHealth       = "/health"
	CorrelationIDKey = "X-Correlation-Id"
)

type Syncer interface {
	Sync(ctx context.Context, shop, accessToken string) (ordersync.Result, error)
}

type CredentialResolver interface {
	Resolve(ctx context.Context, shop, sessionToken string) (token, source string, err error)
}

type IntegrationWriter interface {
	Save(ctx context.Context, shop, accessToken, scope string) error
	Delete(ctx context.Context, shop string) error
}

type WebhookSubscriber interface {
	SubscribeUninstall(ctx context.Context, shop, accessToken, address string) error
}

type WebhookDeduper interface {
	Claim(ctx context.Context, webhookID, shop, topic string) (bool, error)
	Release(ctx context.Context, webhookID string) error
}

// Deps wires the router. Integrations, Subscriber and Deduper are optional.
type Deps struct {
	Orders       *orders.Service
	Store        orders.Store
	Sync         Syncer
	Credentials  CredentialResolver
	Integrations IntegrationWriter
	Subscriber   WebhookSubscriber
	Deduper      WebhookDeduper

	SyncSecret           string
	AllowUnauthenticated bool
	WebhookSecret        string
	WebhookBaseURL       string

	Log *logrus.Logger
}

// Router serves every HTTP route of the service from one API Gateway v2
// handler.
type Router struct {
	Deps
}

func NewRouter(d Deps) *Router {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	return &Router{Deps: d}
}

func (r *Router) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	started := time.Now()
	cid := header(req, CorrelationIDKey)
	if cid == "" {
		cid = uuid.New().String()
	}
	log := r.Log.WithFields(logrus.Fields{
		"correlation_id": cid,
		"method":         method(req),
		"path":           req.RawPath,
	})

	resp, err := r.route(ctx, log, req)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[strings.ToLower(CorrelationIDKey)] = cid

	log.WithFields(logrus.Fields{
		"status":  resp.StatusCode,
		"latency": time.Since(started).String(),
	}).Info("request handled")
	return resp, err
}

func (r *Router) route(ctx context.Context, log *logrus.Entry, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	path := strings.TrimRight(req.RawPath, "/")
	m := method(req)

	allow := func(want string, h func() (events.APIGatewayV2HTTPResponse, error)) (events.APIGatewayV2HTTPResponse, error) {
		if m == "OPTIONS" {
			return jsonResp(204, nil)
		}
		if m != want {
			return errResp(405, "method not allowed")
		}
		return h()
	}

	switch path {
	case PathHealth:
		return allow("GET", func() (events.APIGatewayV2HTTPResponse, error) {
			return jsonResp(200, map[string]any{"ok": true, "service": "orderdash"})
		})
	case PathOrders:
		return allow("GET", func() (events.APIGatewayV2HTTPResponse, error) { return r.listOrders(ctx, log, req) })
	case PathAnalytics:
		return allow("GET", func() (events.APIGatewayV2HTTPResponse, error) { return r.analytics(ctx, log, req) })
	case PathSync:
		return allow("POST", func() (events.APIGatewayV2HTTPResponse, error) { return r.syncOrders(ctx, log, req) })
	case PathSessions:
		return allow("POST", func() (events.APIGatewayV2HTTPResponse, error) { return r.sessionCreated(ctx, log, req) })
	case PathUninstalled:
		return allow("POST", func() (events.APIGatewayV2HTTPResponse, error) { return r.appUninstalled(ctx, log, req) })
	default:
		return errResp(404, "not found")
	}
}

// authorized applies the shared-secret policy for sync triggers. Without a
// configured secret the endpoints are closed unless explicitly opened.
func (r *Router) authorized(req events.APIGatewayV2HTTPRequest) bool {
	if r.SyncSecret == "" {
		return r.AllowUnauthenticated
	}
	got := header(req, "X-SYNC-SECRET")
	if got == "" {
		got = header(req, "X-Shopify-Sync-Secret")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(r.SyncSecret)) == 1
}
