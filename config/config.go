package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	awspkg "github.com/yashrajoria/payment-engine/pkg/aws"
)

type Config struct {
	Env          string
	Port         string
	StoreDriver  string // postgres | memory
	AllowOrigins string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	JWTSecret string

	// Bank webhook verification
	WebhookSecret    string
	WebhookWindow    time.Duration
	NonceTTL         time.Duration
	RedisURL         string
	WebhookRateLimit int // requests per minute per IP
	// Static key for the external completion endpoint
	ExternalAPIKey string

	Currency        string
	PaymentTTL      time.Duration
	PaymentPrefix   string
	RefundPrefix    string
	AltPrefix       string
	BankCode        string
	BankAccountNo   string
	BankAccountName string
	QRBaseURL       string

	ExpirySweepInterval  time.Duration
	WarningSweepInterval time.Duration
	WarningWindow        time.Duration
	SweepBatchSize       int
	SweepWorkers         int

	CommissionPollInterval time.Duration
	CommissionBatchSize    int
	CommissionMaxAttempts  int
	CommissionBaseBackoff  time.Duration
	CommissionStaleAfter   time.Duration
	CommissionTierRates    map[string]string
	CommissionDefaultTier  string
	CommissionSplit        []string
	PlatformFeeRate        string
	PlatformFeeBase        string // commission | subtotal

	InventoryServiceURL string

	EventSink        string // sns | kafka | log
	PaymentSNSTopic  string
	KafkaBrokers     []string
	KafkaTopic       string
	StatementBucket  string
	CloudWatchLogs   bool
	CloudWatchGroup  string
	MetricsEnabled   bool
	MetricsNamespace string
}

// LoadConfig reads configuration from the environment (and a .env file when
// present), with an optional Secrets Manager override for credentials.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:          getEnv("APP_ENV", "development"),
		Port:         getEnv("PORT", "8087"),
		StoreDriver:  getEnv("STORE_DRIVER", "postgres"),
		AllowOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "Asia/Ho_Chi_Minh"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		WebhookSecret:  os.Getenv("BANK_WEBHOOK_SECRET"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ExternalAPIKey: os.Getenv("EXTERNAL_API_KEY"),

		Currency:        strings.ToUpper(getEnv("PAYMENT_CURRENCY", "VND")),
		PaymentPrefix:   getEnv("PAYMENT_PREFIX", "PAY"),
		RefundPrefix:    getEnv("REFUND_PREFIX", "REFUND"),
		AltPrefix:       getEnv("PAYMENT_ALT_PREFIX", "DH"),
		BankCode:        os.Getenv("BANK_CODE"),
		BankAccountNo:   os.Getenv("BANK_ACCOUNT_NO"),
		BankAccountName: os.Getenv("BANK_ACCOUNT_NAME"),
		QRBaseURL:       getEnv("VIETQR_BASE_URL", "https://img.vietqr.io/image"),

		CommissionDefaultTier: getEnv("COMMISSION_DEFAULT_TIER", "standard"),
		PlatformFeeRate:       getEnv("COMMISSION_PLATFORM_FEE", "0.10"),
		PlatformFeeBase:       getEnv("COMMISSION_PLATFORM_FEE_BASE", "commission"),

		InventoryServiceURL: getEnv("INVENTORY_SERVICE_URL", "http://inventory-service:8085"),

		EventSink:        getEnv("EVENT_SINK", "log"),
		PaymentSNSTopic:  os.Getenv("PAYMENT_SNS_TOPIC_ARN"),
		KafkaBrokers:     splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:       getEnv("KAFKA_PAYMENT_TOPIC", "payment-events"),
		StatementBucket:  os.Getenv("STATEMENT_BUCKET"),
		CloudWatchLogs:   os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchGroup:  getEnv("CLOUDWATCH_LOG_GROUP", "/payment-engine/services"),
		MetricsEnabled:   os.Getenv("CLOUDWATCH_METRICS_ENABLED") == "true",
		MetricsNamespace: getEnv("CLOUDWATCH_NAMESPACE", "PaymentEngine"),
	}

	var err error
	durations := []struct {
		dst      *time.Duration
		key, def string
	}{
		{&cfg.WebhookWindow, "WEBHOOK_TIMESTAMP_WINDOW", "5m"},
		{&cfg.NonceTTL, "WEBHOOK_NONCE_TTL", "10m"},
		{&cfg.PaymentTTL, "PAYMENT_TTL", "15m"},
		{&cfg.ExpirySweepInterval, "EXPIRY_SWEEP_INTERVAL", "5m"},
		{&cfg.WarningSweepInterval, "WARNING_SWEEP_INTERVAL", "1m"},
		{&cfg.WarningWindow, "EXPIRY_WARNING_WINDOW", "3m"},
		{&cfg.CommissionPollInterval, "COMMISSION_POLL_INTERVAL", "5s"},
		{&cfg.CommissionBaseBackoff, "COMMISSION_BASE_BACKOFF", "2s"},
		{&cfg.CommissionStaleAfter, "COMMISSION_STALE_AFTER", "5m"},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		dst      *int
		key, def string
	}{
		{&cfg.WebhookRateLimit, "WEBHOOK_RATE_LIMIT", "300"},
		{&cfg.SweepBatchSize, "SWEEP_BATCH_SIZE", "100"},
		{&cfg.SweepWorkers, "SWEEP_WORKERS", "4"},
		{&cfg.CommissionBatchSize, "COMMISSION_BATCH_SIZE", "20"},
		{&cfg.CommissionMaxAttempts, "COMMISSION_MAX_ATTEMPTS", "5"},
	}
	for _, i := range ints {
		if *i.dst, err = getInt(i.key, i.def); err != nil {
			return nil, err
		}
	}

	if cfg.CommissionTierRates, err = parsePairs(getEnv("COMMISSION_TIER_RATES", "standard:0.20,premium:0.30,exclusive:0.50")); err != nil {
		return nil, fmt.Errorf("COMMISSION_TIER_RATES: %w", err)
	}
	cfg.CommissionSplit = splitList(getEnv("COMMISSION_SPLIT", "0.50,0.30,0.20"))

	if os.Getenv("AWS_USE_SECRETS") == "true" {
		if err := applySecrets(context.Background(), cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.StoreDriver != "postgres" && c.StoreDriver != "memory" {
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.StoreDriver == "postgres" && (c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "") {
		return fmt.Errorf("database config incomplete")
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("BANK_WEBHOOK_SECRET is required")
	}
	if c.ExternalAPIKey == "" {
		return fmt.Errorf("EXTERNAL_API_KEY is required")
	}
	if strings.EqualFold(c.PaymentPrefix, c.RefundPrefix) {
		return fmt.Errorf("PAYMENT_PREFIX and REFUND_PREFIX must differ")
	}
	if len(c.CommissionSplit) != 3 {
		return fmt.Errorf("COMMISSION_SPLIT needs three shares, got %d", len(c.CommissionSplit))
	}
	if _, ok := c.CommissionTierRates[c.CommissionDefaultTier]; !ok {
		return fmt.Errorf("COMMISSION_DEFAULT_TIER %q has no rate", c.CommissionDefaultTier)
	}
	if c.PlatformFeeBase != "commission" && c.PlatformFeeBase != "subtotal" {
		return fmt.Errorf("COMMISSION_PLATFORM_FEE_BASE must be commission or subtotal")
	}
	switch c.EventSink {
	case "sns":
		if c.PaymentSNSTopic == "" {
			return fmt.Errorf("PAYMENT_SNS_TOPIC_ARN is required for the sns event sink")
		}
	case "kafka", "log":
	default:
		return fmt.Errorf("unknown EVENT_SINK %q", c.EventSink)
	}
	return nil
}

// applySecrets overrides DB credentials and webhook secrets from Secrets
// Manager when running on AWS. A bundle that cannot be read leaves the
// environment values in place.
func applySecrets(ctx context.Context, cfg *Config) error {
	awsCfg, err := awspkg.LoadAWSConfig(ctx)
	if err != nil {
		return err
	}
	sm := awspkg.NewSecretsClient(awsCfg)

	bundles := map[string]map[string]*string{
		"payment/DB_CREDENTIALS": {
			"POSTGRES_USER":     &cfg.PostgresUser,
			"POSTGRES_PASSWORD": &cfg.PostgresPassword,
			"POSTGRES_DB":       &cfg.PostgresDB,
			"POSTGRES_HOST":     &cfg.PostgresHost,
			"POSTGRES_PORT":     &cfg.PostgresPort,
		},
		"payment/WEBHOOK_SECRETS": {
			"BANK_WEBHOOK_SECRET": &cfg.WebhookSecret,
			"EXTERNAL_API_KEY":    &cfg.ExternalAPIKey,
			"JWT_SECRET":          &cfg.JWTSecret,
		},
	}
	for name, fields := range bundles {
		b, err := sm.Bundle(ctx, name)
		if err != nil {
			continue
		}
		b.Apply(fields)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func getInt(key, fallback string) (int, error) {
	n, err := strconv.Atoi(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parsePairs parses "a:1,b:2" into a map.
func parsePairs(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range splitList(s) {
		k, v, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("malformed pair %q", part)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
