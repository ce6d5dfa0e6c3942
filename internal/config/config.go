package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values. It is resolved once at process
// start and passed by value to the components that need secrets.
type Config struct {
	Environment string
	HTTPPort    string
	ServiceName string

	DatabaseURL         string
	DatabaseAutoMigrate bool
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	RabbitMQURL         string

	AccessTokenSecret      string
	AccessTokenKeyID       string
	RefreshTokenSecret     string
	RefreshTokenKeyID      string
	PreviousAccessKeys     map[string]string
	PreviousRefreshKeys    map[string]string
	AccessTokenTTL         time.Duration
	RefreshTokenTTL        time.Duration
	RefreshCookiePath      string
	SecureCookies          bool
	TokenIssuer            string
	TwoFactorEncryptionKey string
	TwoFactorKeyID         string
	PreviousEncryptionKeys map[string]string
	TwoFactorIssuer        string

	VerificationTokenTTL time.Duration
	ResetTokenTTL        time.Duration
	OTPSessionTTL        time.Duration

	SagaWorkers    int
	SagaPrefetch   int
	PublishTimeout time.Duration
	FrontendURL    string

	AdminEmail    string
	AdminPassword string

	RateLimitRequests    int
	RateLimitWindow      time.Duration
	SensitiveRateLimit   int
	SensitiveRateWindow  time.Duration
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	TelemetrySampleRatio float64
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "4001"),
		ServiceName: getEnv("SERVICE_NAME", "auth-service"),

		DatabaseURL:         os.Getenv("DATABASE_URL"),
		DatabaseAutoMigrate: getBool("DATABASE_AUTO_MIGRATE", true),
		RedisAddr:           getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             getInt("REDIS_DB", 0),
		RabbitMQURL:         os.Getenv("RABBITMQ_URL"),

		AccessTokenSecret:      os.Getenv("ACCESS_TOKEN_SECRET"),
		AccessTokenKeyID:       getEnv("ACCESS_TOKEN_KID", "access-1"),
		RefreshTokenSecret:     os.Getenv("REFRESH_TOKEN_SECRET"),
		RefreshTokenKeyID:      getEnv("REFRESH_TOKEN_KID", "refresh-1"),
		PreviousAccessKeys:     getMap("PREVIOUS_ACCESS_TOKEN_KEYS"),
		PreviousRefreshKeys:    getMap("PREVIOUS_REFRESH_TOKEN_KEYS"),
		AccessTokenTTL:         getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:        getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		RefreshCookiePath:      getEnv("REFRESH_COOKIE_PATH", "/api/v1/auth/refresh"),
		TokenIssuer:            getEnv("TOKEN_ISSUER", "auth-service"),
		TwoFactorEncryptionKey: os.Getenv("TWO_FACTOR_ENCRYPTION_KEY"),
		TwoFactorKeyID:         getEnv("TWO_FACTOR_KID", "k1"),
		PreviousEncryptionKeys: getMap("PREVIOUS_ENCRYPTION_KEYS"),
		TwoFactorIssuer:        getEnv("TWO_FACTOR_ISSUER", "MyAwesomeApp"),

		VerificationTokenTTL: getDuration("VERIFICATION_TOKEN_TTL", 24*time.Hour),
		ResetTokenTTL:        getDuration("RESET_TOKEN_TTL", 15*time.Minute),
		OTPSessionTTL:        getDuration("OTP_SESSION_TTL", 3*time.Minute),

		SagaWorkers:    getInt("SAGA_WORKERS", 1),
		SagaPrefetch:   getInt("SAGA_PREFETCH", 1),
		PublishTimeout: getDuration("PUBLISH_TIMEOUT", 5*time.Second),
		FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:3000"),

		AdminEmail:    strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword: strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),

		RateLimitRequests:    getInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:      getDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
		SensitiveRateLimit:   getInt("SENSITIVE_RATE_LIMIT_REQUESTS", 5),
		SensitiveRateWindow:  getDuration("SENSITIVE_RATE_LIMIT_WINDOW", time.Minute),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		TelemetrySampleRatio: getFloat("OTEL_TRACES_SAMPLER_RATIO", 1),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", true),
	}
	cfg.SecureCookies = getBool("SECURE_COOKIES", cfg.Environment == "production")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

const minSigningSecret = 32

// Validate checks the values every process needs before wiring anything.
func (c Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"DATABASE_URL", c.DatabaseURL},
		{"RABBITMQ_URL", c.RabbitMQURL},
		{"ACCESS_TOKEN_SECRET", c.AccessTokenSecret},
		{"REFRESH_TOKEN_SECRET", c.RefreshTokenSecret},
		{"TWO_FACTOR_ENCRYPTION_KEY", c.TwoFactorEncryptionKey},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}
	for name, secret := range map[string]string{
		"ACCESS_TOKEN_SECRET":  c.AccessTokenSecret,
		"REFRESH_TOKEN_SECRET": c.RefreshTokenSecret,
	} {
		if len(secret) < minSigningSecret {
			return fmt.Errorf("%s must be at least %d bytes", name, minSigningSecret)
		}
	}
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return fmt.Errorf("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	return nil
}

// LoadNotifier reads the reduced configuration of the notification participant.
func LoadNotifier() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:       getEnv("APP_ENV", "development"),
		HTTPPort:          getEnv("HTTP_PORT", "4005"),
		ServiceName:       getEnv("SERVICE_NAME", "notification-service"),
		RabbitMQURL:       os.Getenv("RABBITMQ_URL"),
		SagaWorkers:       getInt("SAGA_WORKERS", 1),
		SagaPrefetch:      getInt("SAGA_PREFETCH", 1),
		PublishTimeout:    getDuration("PUBLISH_TIMEOUT", 5*time.Second),
		FrontendURL:       getEnv("FRONTEND_URL", "http://localhost:3000"),
		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),

		TelemetrySampleRatio: getFloat("OTEL_TRACES_SAMPLER_RATIO", 1),
	}
	if cfg.RabbitMQURL == "" {
		return Config{}, fmt.Errorf("RABBITMQ_URL is required")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}

// getMap parses "kid1=secret1,kid2=secret2" pairs. Malformed pairs are skipped.
func getMap(key string) map[string]string {
	out := map[string]string{}
	for _, pair := range getList(key, nil) {
		kid, secret, ok := strings.Cut(pair, "=")
		kid = strings.TrimSpace(kid)
		if !ok || kid == "" || secret == "" {
			continue
		}
		out[kid] = secret
	}
	return out
}
