package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port               int
	LogLevel           string
	CORSAllowedOrigins []string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Observability
	OTLPEndpoint string

	// Sessions
	JWTSecret  string
	SessionTTL time.Duration

	// Payments provider (Stripe)
	StripeSecretKey     string
	StripeAPIURL        string
	StripeWebhookSecret string
	StripeConnectMary   string
	StripeConnectJohn   string

	// Banking data provider (TrueLayer)
	TrueLayerClientID     string
	TrueLayerClientSecret string
	TrueLayerRedirectURI  string
	TrueLayerAuthURL      string
	TrueLayerAPIURL       string

	// Messaging provider (Twilio WhatsApp)
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioAPIURL     string

	// Intent classifier (Gemini)
	GeminiAPIKey        string
	GeminiModel         string
	GeminiFallbackModel string
	GeminiAPIURL        string

	// Payments policy
	PayeesFile            string
	ForceRiskLevel        string // "", normal, elevated, highest
	RiskElevatedThreshold int
	RiskHighestThreshold  int
	LargePaymentThreshold decimal.Decimal
	DefaultCurrency       string
	IdempotencyTTL        time.Duration

	// Storage
	StorageBackend string // memory, sqlite, dynamodb
	SQLitePath     string
	DynamoDBTable  string
	AWSRegion      string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:               getEnvInt("PORT", 8080),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 2),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 20),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		JWTSecret:  getEnv("JWT_SECRET", "alma-dev-secret-change-in-prod"),
		SessionTTL: getEnvDuration("SESSION_TTL", 12*time.Hour),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeAPIURL:        getEnv("STRIPE_API_URL", "https://api.stripe.com"),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeConnectMary:   getEnv("STRIPE_CONNECT_MARY", ""),
		StripeConnectJohn:   getEnv("STRIPE_CONNECT_JOHN", ""),

		TrueLayerClientID:     getEnv("TRUELAYER_CLIENT_ID", ""),
		TrueLayerClientSecret: getEnv("TRUELAYER_CLIENT_SECRET", ""),
		TrueLayerRedirectURI:  getEnv("TRUELAYER_REDIRECT_URI", "http://localhost:3000/callback"),
		TrueLayerAuthURL:      getEnv("TRUELAYER_AUTH_URL", "https://auth.truelayer.com"),
		TrueLayerAPIURL:       getEnv("TRUELAYER_API_URL", "https://api.truelayer.com"),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFrom:       getEnv("TWILIO_FROM", "whatsapp:+14155238886"),
		TwilioAPIURL:     getEnv("TWILIO_API_URL", "https://api.twilio.com"),

		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiFallbackModel: getEnv("GEMINI_FALLBACK_MODEL", "gemini-1.5-flash"),
		GeminiAPIURL:        getEnv("GEMINI_API_URL", "https://generativelanguage.googleapis.com"),

		PayeesFile:            getEnv("PAYEES_FILE", ""),
		ForceRiskLevel:        strings.ToLower(getEnv("FORCE_RISK_LEVEL", "")),
		RiskElevatedThreshold: getEnvInt("RISK_ELEVATED_THRESHOLD", 50),
		RiskHighestThreshold:  getEnvInt("RISK_HIGHEST_THRESHOLD", 75),
		LargePaymentThreshold: getEnvDecimal("LARGE_PAYMENT_THRESHOLD", decimal.NewFromInt(200)),
		DefaultCurrency:       strings.ToUpper(getEnv("DEFAULT_CURRENCY", "EUR")),
		IdempotencyTTL:        getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		StorageBackend: getEnv("STORAGE_BACKEND", "memory"),
		SQLitePath:     getEnv("SQLITE_PATH", "alma.db"),
		DynamoDBTable:  getEnv("DYNAMODB_TABLE", "alma_transactions"),
		AWSRegion:      getEnv("AWS_REGION", "eu-west-1"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
