package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// DefaultProcessorBaseURL is the production mWire API.
const DefaultProcessorBaseURL = "https://api.mwire.co/prod"

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string `env:"DATABASE_URL" validate:"required"`
	RedisURL           string `env:"REDIS_URL" validate:"required"`
	CORSAllowedOrigins []string
	MigrateOnStart     bool

	// Merchant credentials. Empty merchant id or API key disables agreement
	// creation at runtime instead of failing startup.
	MerchantID      string
	APIID           string
	APIKey          string
	AdminAPIKey     string
	AdminAPIKeyHash string `env:"ADMIN_API_KEY_HASH" validate:"omitempty,startswith=$argon2id$"`
	SigningSecret   string `env:"SIGNING_SECRET" validate:"required,min=16"`
	TokenAlgorithms string
	TokenTTL        time.Duration `env:"TOKEN_TTL" validate:"gt=0"`
	// TokenSkew tolerates processor clock drift on iat/exp.
	TokenSkew time.Duration `env:"TOKEN_SKEW" validate:"gte=0"`

	ReceiverID       string        `env:"RECEIVER_ID" validate:"omitempty,email"`
	ProcessorBaseURL string        `env:"PROCESSOR_BASE_URL" validate:"required,url"`
	ProcessorTimeout time.Duration `env:"PROCESSOR_TIMEOUT" validate:"gt=0"`
	ReturnURLBase    string        `env:"RETURN_URL_BASE" validate:"omitempty,url"`

	GatewayEnabled    bool
	Debug             bool
	MinimumOrderTotal decimal.Decimal
	AmountTolerance   decimal.Decimal
	AllowedCurrencies []string
	AllowedCountries  []string

	IPNReplayTTL           time.Duration
	IPNLockTTL             time.Duration
	IdempotencyTTL         time.Duration
	StatusUpdateRateLimit  int           `env:"STATUS_UPDATE_RATE_LIMIT" validate:"gte=0"`
	StatusUpdateRateWindow time.Duration `env:"STATUS_UPDATE_RATE_WINDOW" validate:"gt=0"`
	RateLimitBackend       string        `env:"RATE_LIMIT_BACKEND" validate:"oneof=sliding fixed"`
	BodyLimitBytes         int64         `env:"BODY_LIMIT_BYTES" validate:"gt=0"`

	AuditEnabled      bool
	AuditSamplingRate float64 `env:"AUDIT_SAMPLING_RATE" validate:"gte=0,lte=1"`

	BreakerMinRequests  int           `env:"BREAKER_MIN_REQUESTS" validate:"gt=0"`
	BreakerFailureRatio float64       `env:"BREAKER_FAILURE_RATIO" validate:"gt=0,lte=1"`
	BreakerOpenFor      time.Duration `env:"BREAKER_OPEN_FOR" validate:"gt=0"`
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	minimumTotal, err := parseDecimal("MINIMUM_ORDER_TOTAL", k.String("MINIMUM_ORDER_TOTAL"), "50.00")
	if err != nil {
		return nil, err
	}
	tolerance, err := parseDecimal("AMOUNT_TOLERANCE", k.String("AMOUNT_TOLERANCE"), "0.10")
	if err != nil {
		return nil, err
	}

	merchantID := strings.TrimSpace(k.String("MERCHANT_ID"))
	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START")),

		MerchantID:      merchantID,
		APIID:           valueOrDefault(strings.TrimSpace(k.String("API_ID")), merchantID),
		APIKey:          strings.TrimSpace(k.String("API_KEY")),
		AdminAPIKey:     strings.TrimSpace(k.String("ADMIN_API_KEY")),
		AdminAPIKeyHash: strings.TrimSpace(k.String("ADMIN_API_KEY_HASH")),
		SigningSecret:   k.String("SIGNING_SECRET"),
		TokenAlgorithms: valueOrDefault(k.String("TOKEN_ALGORITHMS"), "HS256"),
		TokenTTL:        parseDuration(k.String("TOKEN_TTL"), "6h"),
		TokenSkew:       parseDuration(k.String("TOKEN_SKEW"), "1m"),

		ReceiverID:       strings.TrimSpace(k.String("RECEIVER_ID")),
		ProcessorBaseURL: strings.TrimRight(valueOrDefault(k.String("PROCESSOR_BASE_URL"), DefaultProcessorBaseURL), "/"),
		ProcessorTimeout: parseDuration(k.String("PROCESSOR_TIMEOUT"), "15s"),
		ReturnURLBase:    strings.TrimRight(strings.TrimSpace(k.String("RETURN_URL_BASE")), "/"),

		GatewayEnabled:    parseBoolDefault(k.String("GATEWAY_ENABLED"), true),
		Debug:             parseBool(k.String("DEBUG")),
		MinimumOrderTotal: minimumTotal,
		AmountTolerance:   tolerance,
		AllowedCurrencies: upperAll(splitAndTrim(k.String("ALLOWED_CURRENCIES"))),
		AllowedCountries:  upperAll(splitAndTrim(k.String("ALLOWED_COUNTRIES"))),

		IPNReplayTTL:           parseDuration(k.String("IPN_REPLAY_TTL"), "24h"),
		IPNLockTTL:             parseDuration(k.String("IPN_LOCK_TTL"), "10s"),
		IdempotencyTTL:         parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),
		StatusUpdateRateLimit:  parseInt(k.String("STATUS_UPDATE_RATE_LIMIT"), 30),
		StatusUpdateRateWindow: parseDuration(k.String("STATUS_UPDATE_RATE_WINDOW"), "1m"),
		RateLimitBackend:       strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_BACKEND"), "sliding")),
		BodyLimitBytes:         int64(parseInt(k.String("BODY_LIMIT_BYTES"), 64*1024)),

		AuditEnabled:      parseBoolDefault(k.String("AUDIT_ENABLED"), true),
		AuditSamplingRate: parseFloat(k.String("AUDIT_SAMPLING_RATE"), 1),

		BreakerMinRequests:  parseInt(k.String("BREAKER_MIN_REQUESTS"), 5),
		BreakerFailureRatio: parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:      parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.SigningSecret == "" {
		return nil, errors.New("SIGNING_SECRET is required")
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// HasMerchantCredentials reports whether outbound agreement calls can be authenticated.
func (c *Config) HasMerchantCredentials() bool {
	return c.MerchantID != "" && c.APIKey != ""
}

// structValidator reports fields by their env key.
var structValidator = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if key := f.Tag.Get("env"); key != "" {
			return key
		}
		return f.Name
	})
	return v
}()

func validate(cfg *Config) error {
	err := structValidator.Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("validate config: %w", err)
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func upperAll(values []string) []string {
	for i, v := range values {
		values[i] = strings.ToUpper(v)
	}
	return values
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// parseDecimal reads a non-negative amount. Only an unset value takes the
// fallback; an explicit zero is kept.
func parseDecimal(key, value, fallback string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return decimal.RequireFromString(fallback), nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s must be a decimal amount: %q", key, raw)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
