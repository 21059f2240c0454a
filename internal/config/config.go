package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DefaultAPIVersion   = "2024-10"
	DefaultPageSize     = 20
	DefaultSyncTimeout  = 5 * time.Minute
	DefaultPageTimeout  = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultPort         = "8081"
	DefaultOrderSchema  = "standard"
	DefaultMetricPrefix = "order_metrics/"
)

// Config is the process configuration, read once at startup.
type Config struct {
	OrdersTable        string `validate:"required"`
	IntegrationsTable  string
	WebhookDedupeTable string
	DynamoDBEndpoint   string `validate:"omitempty,url"`

	ShopifyAPIVersion  string `validate:"required"`
	ShopifyAPISecret   string
	ShopifyOrderSchema string `validate:"oneof=standard legacy"`

	// Fallback credential sources. Operational convenience only: they let any
	// caller sync any shop with a single admin token.
	AdminAccessToken string
	AdminTokenParam  string

	TokenEncKeyB64 string

	SyncSecret               string
	SyncAllowUnauthenticated bool

	SyncPageSize    int           `validate:"min=1,max=20"` // orders per upstream query; bounded by query cost
	SyncTimeout     time.Duration `validate:"gt=0"`
	SyncPageTimeout time.Duration `validate:"gt=0"`
	SyncMaxRetries  int           `validate:"min=0,max=10"`

	RedisAddress       string
	SyncEventsTopicArn string
	WebhookBaseURL     string `validate:"omitempty,url"`

	Port     string `validate:"required,numeric"`
	LogLevel string
}

// ExportConfig drives the scheduled order-metrics export.
type ExportConfig struct {
	OrdersTable       string `validate:"required"`
	IntegrationsTable string `validate:"required"`
	Bucket            string `validate:"required"`
	Prefix            string
	DaysBack          int `validate:"min=1,max=60"`

	AthenaDatabase  string
	AthenaTable     string
	AthenaWorkgroup string
	AthenaOutput    string `validate:"omitempty,startswith=s3://"`
}

var validate = validator.New()

func init() {
	// Load env from .env
	godotenv.Load()
}

// Load reads the environment into a Config and validates it.
func Load() (Config, error) {
	cfg := Config{
		OrdersTable:        env("ORDERS_TABLE", ""),
		IntegrationsTable:  env("INTEGRATIONS_TABLE", ""),
		WebhookDedupeTable: env("WEBHOOK_DEDUPE_TABLE", ""),
		DynamoDBEndpoint:   env("DYNAMODB_ENDPOINT", ""),

		ShopifyAPIVersion:  env("SHOPIFY_API_VERSION", DefaultAPIVersion),
		ShopifyAPISecret:   env("SHOPIFY_API_SECRET", ""),
		ShopifyOrderSchema: strings.ToLower(env("SHOPIFY_ORDER_SCHEMA", DefaultOrderSchema)),

		AdminAccessToken: env("SHOPIFY_ADMIN_ACCESS_TOKEN", ""),
		AdminTokenParam:  env("SHOPIFY_ADMIN_TOKEN_PARAM", ""),

		TokenEncKeyB64: env("TOKEN_ENC_KEY_B64", ""),

		SyncSecret:               env("SYNC_SECRET", ""),
		SyncAllowUnauthenticated: envBool("SYNC_ALLOW_UNAUTHENTICATED", false),

		SyncPageSize:    envInt("SYNC_PAGE_SIZE", DefaultPageSize),
		SyncTimeout:     envDuration("SYNC_TIMEOUT", DefaultSyncTimeout),
		SyncPageTimeout: envDuration("SYNC_PAGE_TIMEOUT", DefaultPageTimeout),
		SyncMaxRetries:  envInt("SYNC_MAX_RETRIES", DefaultMaxRetries),

		RedisAddress:       env("REDIS_ADDRESS", ""),
		SyncEventsTopicArn: env("SYNC_EVENTS_TOPIC_ARN", ""),
		WebhookBaseURL:     strings.TrimRight(env("WEBHOOK_BASE_URL", ""), "/"),

		Port:     env("PORT", DefaultPort),
		LogLevel: env("LOG_LEVEL", "info"),
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, describe(err)
	}
	return cfg, nil
}

// LoadExport reads the export job configuration.
func LoadExport() (ExportConfig, error) {
	cfg := ExportConfig{
		OrdersTable:       env("ORDERS_TABLE", ""),
		IntegrationsTable: env("INTEGRATIONS_TABLE", ""),
		Bucket:            env("ANALYTICS_BUCKET", ""),
		Prefix:            env("ORDER_METRICS_PREFIX", DefaultMetricPrefix),
		DaysBack:          envInt("ETL_DAYS_BACK", 1),

		AthenaDatabase:  env("ATHENA_DATABASE", ""),
		AthenaTable:     env("ATHENA_TABLE", ""),
		AthenaWorkgroup: env("ATHENA_WORKGROUP", "primary"),
		AthenaOutput:    env("ATHENA_OUTPUT", ""),
	}
	if err := validate.Struct(cfg); err != nil {
		return ExportConfig{}, describe(err)
	}
	return cfg, nil
}

// AthenaEnabled reports whether partition repair should run after an export.
func (c ExportConfig) AthenaEnabled() bool {
	return c.AthenaDatabase != "" && c.AthenaTable != "" && c.AthenaOutput != ""
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, ve := range verrs {
		parts = append(parts, fmt.Sprintf("%s (%s)", ve.Field(), ve.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(parts, ", "))
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
