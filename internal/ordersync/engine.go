package ordersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"orderdash/internal/metrics"
	"orderdash/internal/orders"
	"orderdash/internal/shopify"
	"orderdash/internal/tenancy"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const moduleName = "ordersync"

var (
	ErrMissingShop       = errors.New("missing shop")
	ErrMissingCredential = errors.New("missing access token for shop")
	ErrSyncInProgress    = errors.New("sync already in progress for shop")
)

var tracer = otel.Tracer("orderdash/ordersync")

// Fetcher returns one page of raw upstream orders created at or after since.
type Fetcher interface {
	FetchOrdersPage(ctx context.Context, shop, accessToken string, since time.Time, after string, first int) (shopify.OrdersPage, error)
}

type SyncRecorder interface {
	RecordSync(ctx context.Context, shop string, at time.Time, imported int) error
}

type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

// Result counts what one sync run did. On failure it holds the partial
// counts up to the failing point.
type Result struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Pages    int `json:"pages"`
}

// Event is published after a successful sync.
type Event struct {
	Shop       string    `json:"shop"`
	Imported   int       `json:"imported"`
	Skipped    int       `json:"skipped"`
	Pages      int       `json:"pages"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Engine pulls the recency window of orders for one shop and upserts them.
// Runs for the same shop never overlap; runs for different shops are
// independent.
type Engine struct {
	fetcher  Fetcher
	store    orders.Store
	locker   tenancy.Locker
	recorder SyncRecorder
	notifier Notifier
	log      *logrus.Logger
	now      func() time.Time

	pageSize    int
	timeout     time.Duration
	pageTimeout time.Duration
}

type Option func(*Engine)

func WithLocker(l tenancy.Locker) Option    { return func(e *Engine) { e.locker = l } }
func WithRecorder(r SyncRecorder) Option    { return func(e *Engine) { e.recorder = r } }
func WithNotifier(n Notifier) Option        { return func(e *Engine) { e.notifier = n } }
func WithLogger(l *logrus.Logger) Option    { return func(e *Engine) { e.log = l } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n >= 1 && n <= shopify.MaxPageSize {
			e.pageSize = n
		}
	}
}

// WithTimeouts bounds the whole run and each page fetch. Zero keeps the
// default.
func WithTimeouts(run, page time.Duration) Option {
	return func(e *Engine) {
		if run > 0 {
			e.timeout = run
		}
		if page > 0 {
			e.pageTimeout = page
		}
	}
}

func New(fetcher Fetcher, store orders.Store, opts ...Option) *Engine {
	e := &Engine{
		fetcher:     fetcher,
		store:       store,
		locker:      tenancy.NewMemoryLocker(),
		log:         logrus.StandardLogger(),
		now:         time.Now,
		pageSize:    shopify.MaxPageSize,
		timeout:     5 * time.Minute,
		pageTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sync walks every upstream order created within the window, oldest first,
// and upserts each one. Pages are strictly sequential. Orders already
// written stay written if a later page fails.
func (e *Engine) Sync(ctx context.Context, shop, accessToken string) (Result, error) {
	shop = tenancy.NormalizeShop(shop)
	if shop == "" {
		return Result{}, ErrMissingShop
	}
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return Result{}, ErrMissingCredential
	}

	release, err := e.locker.Acquire(ctx, shop)
	if errors.Is(err, tenancy.ErrLocked) {
		metrics.SyncRunsTotal.WithLabelValues("conflict").Inc()
		return Result{}, ErrSyncInProgress
	}
	if err != nil {
		return Result{}, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "ordersync.Sync")
	defer span.End()
	span.SetAttributes(attribute.String("shop", shop))

	started := e.now()
	res, err := e.run(ctx, shop, accessToken, orders.WindowStart(started))
	span.SetAttributes(
		attribute.Int("imported", res.Imported),
		attribute.Int("skipped", res.Skipped),
		attribute.Int("pages", res.Pages),
	)
	metrics.OrdersImportedTotal.Add(float64(res.Imported))

	fields := logrus.Fields{
		"shop":     shop,
		"imported": res.Imported,
		"skipped":  res.Skipped,
		"pages":    res.Pages,
		"duration": e.now().Sub(started).String(),
	}
	if err != nil {
		metrics.SyncRunsTotal.WithLabelValues("failure").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.WithFields(fields).WithError(err).Error("order sync failed")
		return res, err
	}
	metrics.SyncRunsTotal.WithLabelValues("success").Inc()
	e.log.WithFields(fields).Info("order sync finished")

	e.afterSync(ctx, shop, res)
	return res, nil
}

func (e *Engine) run(ctx context.Context, shop, accessToken string, since time.Time) (Result, error) {
	var res Result
	after := ""
	for {
		page, err := e.fetchPage(ctx, shop, accessToken, since, after)
		if err != nil {
			return res, fmt.Errorf("fetch page %d: %w", res.Pages+1, err)
		}
		res.Pages++

		for _, raw := range page.Nodes {
			o, err := shopify.NormalizeOrder(shop, raw)
			if err != nil {
				res.Skipped++
				e.log.WithFields(logrus.Fields{"shop": shop, "page": res.Pages}).WithError(err).Debug("skipping upstream order")
				continue
			}
			// The upstream filter has one-second resolution.
			if o.CreatedAt.Before(since) {
				res.Skipped++
				continue
			}
			if err := e.store.Upsert(ctx, o); err != nil {
				return res, fmt.Errorf("upsert order %s: %w", o.OrderID, err)
			}
			res.Imported++
		}
		e.log.WithFields(logrus.Fields{"shop": shop, "page": res.Pages, "imported": res.Imported}).Debug("order page stored")

		if !page.HasNextPage || len(page.Nodes) == 0 || page.EndCursor == "" || page.EndCursor == after {
			return res, nil
		}
		after = page.EndCursor
	}
}

func (e *Engine) fetchPage(ctx context.Context, shop, accessToken string, since time.Time, after string) (shopify.OrdersPage, error) {
	ctx, cancel := context.WithTimeout(ctx, e.pageTimeout)
	defer cancel()
	return e.fetcher.FetchOrdersPage(ctx, shop, accessToken, since, after, e.pageSize)
}

// afterSync runs the best-effort follow-ups; their failures never fail the
// sync.
func (e *Engine) afterSync(ctx context.Context, shop string, res Result) {
	finished := e.now().UTC()
	if e.recorder != nil {
		if err := e.recorder.RecordSync(ctx, shop, finished, res.Imported); err != nil {
			e.log.WithField("shop", shop).WithError(err).Warn("could not record sync on integration")
		}
	}
	if e.notifier != nil {
		ev := Event{Shop: shop, Imported: res.Imported, Skipped: res.Skipped, Pages: res.Pages, FinishedAt: finished}
		if err := e.notifier.Publish(ctx, ev); err != nil {
			e.log.WithField("shop", shop).WithError(err).Warn("could not publish sync event")
		}
	}
}
