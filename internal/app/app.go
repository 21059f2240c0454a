// Package app builds the service graph shared by the API binaries and the
// CLI from one Config.
package app

import (
	"context"
	"fmt"

	"orderdash/internal/config"
	"orderdash/internal/db"
	"orderdash/internal/handlers"
	"orderdash/internal/orders"
	"orderdash/internal/ordersync"
	"orderdash/internal/security"
	"orderdash/internal/shopify"
	"orderdash/internal/tenancy"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type App struct {
	Config       config.Config
	Store        orders.Store
	Orders       *orders.Service
	Engine       *ordersync.Engine
	Credentials  *shopify.Credentials
	Integrations *shopify.IntegrationStore
	Router       *handlers.Router

	closers []func() error
}

// Build connects to AWS (and Redis when configured) and wires every
// component. Optional tables and topics are simply left out when unset.
func Build(ctx context.Context, cfg config.Config, log *logrus.Logger) (*App, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	ddb, err := db.NewDynamoClient(ctx, cfg.DynamoDBEndpoint)
	if err != nil {
		return nil, fmt.Errorf("dynamodb client: %w", err)
	}

	a := &App{Config: cfg}
	a.Store = orders.NewDynamoStore(ddb, cfg.OrdersTable)
	a.Orders = orders.NewService(a.Store)

	schema, err := shopify.ParseSchema(cfg.ShopifyOrderSchema)
	if err != nil {
		return nil, err
	}
	client := shopify.NewClient(cfg.ShopifyAPIVersion,
		shopify.WithSchema(schema),
		shopify.WithRetries(cfg.SyncMaxRetries, 0, 0),
	)

	var cipher *security.Cipher
	if cfg.TokenEncKeyB64 != "" {
		cipher, err = security.NewCipher(cfg.TokenEncKeyB64)
		if err != nil {
			return nil, fmt.Errorf("token encryption key: %w", err)
		}
	}

	a.Credentials = &shopify.Credentials{EnvToken: cfg.AdminAccessToken, Log: log}
	if cfg.AdminTokenParam != "" {
		a.Credentials.SSM = ssm.NewFromConfig(awsCfg)
		a.Credentials.ParamName = cfg.AdminTokenParam
	}

	opts := []ordersync.Option{
		ordersync.WithLogger(log),
		ordersync.WithPageSize(cfg.SyncPageSize),
		ordersync.WithTimeouts(cfg.SyncTimeout, cfg.SyncPageTimeout),
	}

	deps := handlers.Deps{
		Orders:               a.Orders,
		Store:                a.Store,
		Credentials:          a.Credentials,
		SyncSecret:           cfg.SyncSecret,
		AllowUnauthenticated: cfg.SyncAllowUnauthenticated,
		WebhookSecret:        cfg.ShopifyAPISecret,
		WebhookBaseURL:       cfg.WebhookBaseURL,
		Log:                  log,
	}

	if cfg.IntegrationsTable != "" {
		a.Integrations = shopify.NewIntegrationStore(ddb, cfg.IntegrationsTable, cipher)
		a.Credentials.Integrations = a.Integrations
		deps.Integrations = a.Integrations
		opts = append(opts, ordersync.WithRecorder(a.Integrations))
	}
	if cfg.WebhookBaseURL != "" {
		deps.Subscriber = client
	}
	if cfg.WebhookDedupeTable != "" {
		deps.Deduper = shopify.NewWebhookDeduper(ddb, cfg.WebhookDedupeTable)
	}
	if cfg.SyncEventsTopicArn != "" {
		opts = append(opts, ordersync.WithNotifier(ordersync.NewSNSNotifier(sns.NewFromConfig(awsCfg), cfg.SyncEventsTopicArn)))
	}
	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddress, err)
		}
		a.closers = append(a.closers, rdb.Close)
		// Lease outlives the run deadline so a slow sync keeps its lock.
		opts = append(opts, ordersync.WithLocker(tenancy.NewRedisLocker(rdb, cfg.SyncTimeout+cfg.SyncPageTimeout)))
	}

	a.Engine = ordersync.New(client, a.Store, opts...)
	deps.Sync = a.Engine
	a.Router = handlers.NewRouter(deps)

	log.WithFields(logrus.Fields{
		"orders_table":  cfg.OrdersTable,
		"integrations":  cfg.IntegrationsTable != "",
		"redis_lock":    cfg.RedisAddress != "",
		"sync_events":   cfg.SyncEventsTopicArn != "",
		"order_schema":  schema,
		"shopify_api":   cfg.ShopifyAPIVersion,
		"webhook_dedup": cfg.WebhookDedupeTable != "",
	}).Info("orderdash wired")
	return a, nil
}

func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
