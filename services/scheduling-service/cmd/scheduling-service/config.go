package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/carebook/libs/config"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/notify"
)

const (
	driverPostgres = "postgres"
	driverMemory   = "memory"
)

type serviceConfig struct {
	Service  string
	Port     string
	GRPCPort string
	LogLevel string

	StoreDriver string
	DatabaseURL string
	SeedFile    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers string

	JWTSecret string
	JWKSURL   string
	JWKSTTL   time.Duration

	Margins            availability.MarginPolicy
	SlotGranularity    time.Duration
	MinReasonLength    int
	DedupWindow        time.Duration
	NotifyMaxAttempts  int
	RateLimitPerMinute int
	RequestTimeout     time.Duration
	CORS               corsConfig
}

type corsConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

func loadConfig() (serviceConfig, error) {
	port, err := config.Port("PORT", "8080")
	if err != nil {
		return serviceConfig{}, err
	}
	grpcPort, err := config.Port("GRPC_PORT", "9090")
	if err != nil {
		return serviceConfig{}, err
	}
	cfg := serviceConfig{
		Service:  config.String("SERVICE_NAME", "scheduling-service"),
		Port:     port,
		GRPCPort: grpcPort,
		LogLevel: config.String("LOG_LEVEL", "info"),

		StoreDriver: strings.ToLower(config.String("STORE_DRIVER", driverPostgres)),
		DatabaseURL: config.String("DATABASE_URL", ""),
		SeedFile:    config.String("SEED_FILE", ""),

		RedisAddr:     config.String("REDIS_ADDR", ""),
		RedisPassword: config.String("REDIS_PASSWORD", ""),
		RedisDB:       config.Int("REDIS_DB", 0),

		KafkaBrokers: config.String("KAFKA_BROKERS", ""),

		JWTSecret: config.String("JWT_SECRET", ""),
		JWKSURL:   config.String("JWKS_URL", ""),
		JWKSTTL:   config.Seconds("JWKS_CACHE_SECONDS", 5*time.Minute),

		Margins: availability.MarginPolicy{
			Before: config.Minutes("CONFLICT_MARGIN_BEFORE_MINUTES", availability.DefaultMarginBefore),
			After:  config.Minutes("CONFLICT_MARGIN_AFTER_MINUTES", availability.DefaultMarginAfter),
		},
		SlotGranularity:    config.Minutes("SLOT_GRANULARITY_MINUTES", availability.DefaultGranularity),
		MinReasonLength:    config.Int("MIN_REASON_LENGTH", booking.DefaultMinReasonLength),
		DedupWindow:        config.Seconds("NOTIFICATION_DEDUP_WINDOW_SECONDS", notify.DefaultDedupWindow),
		NotifyMaxAttempts:  config.Int("NOTIFICATION_MAX_ATTEMPTS", notify.DefaultMaxAttempts),
		RateLimitPerMinute: config.Int("RATE_LIMIT_PER_MINUTE", 120),
		RequestTimeout:     config.Seconds("REQUEST_TIMEOUT_SECONDS", 15*time.Second),
		CORS: corsConfig{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods:   config.List("CORS_ALLOWED_METHODS", "GET,POST,PUT,OPTIONS"),
			AllowedHeaders:   config.List("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,Idempotency-Key,X-Request-Id"),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           config.Seconds("CORS_MAX_AGE_SECONDS", 10*time.Minute),
		},
	}
	return cfg, cfg.validate()
}

func (c serviceConfig) validate() error {
	switch c.StoreDriver {
	case driverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", driverPostgres)
		}
	case driverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %s or %s (got %q)", driverPostgres, driverMemory, c.StoreDriver)
	}
	if c.JWTSecret == "" && c.JWKSURL == "" {
		return fmt.Errorf("JWT_SECRET or JWKS_URL is required")
	}
	if c.SlotGranularity < time.Minute {
		return fmt.Errorf("SLOT_GRANULARITY_MINUTES must be positive")
	}
	return nil
}
