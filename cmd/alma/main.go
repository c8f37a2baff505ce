package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alma-care/alma-bfa-go/internal/config"
	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/handler"
	"github.com/alma-care/alma-bfa-go/internal/infra/gemini"
	"github.com/alma-care/alma-bfa-go/internal/infra/observability"
	"github.com/alma-care/alma-bfa-go/internal/infra/resilience"
	"github.com/alma-care/alma-bfa-go/internal/infra/session"
	"github.com/alma-care/alma-bfa-go/internal/infra/store/dynamo"
	"github.com/alma-care/alma-bfa-go/internal/infra/store/memory"
	"github.com/alma-care/alma-bfa-go/internal/infra/store/sqlite"
	"github.com/alma-care/alma-bfa-go/internal/infra/stripe"
	"github.com/alma-care/alma-bfa-go/internal/infra/truelayer"
	"github.com/alma-care/alma-bfa-go/internal/infra/twilio"
	"github.com/alma-care/alma-bfa-go/internal/port"
	"github.com/alma-care/alma-bfa-go/internal/service"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// storage bundles the repositories picked by STORAGE_BACKEND.
type storage struct {
	users        port.UserRepository
	transactions port.TransactionRepository
	ready        func(ctx context.Context) error
	close        func() error
}

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("storage_backend", cfg.StorageBackend),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("session_ttl", cfg.SessionTTL),
		zap.String("force_risk_level", cfg.ForceRiskLevel),
		zap.String("large_payment_threshold", cfg.LargePaymentThreshold.String()),
		zap.String("default_currency", cfg.DefaultCurrency),
	)

	ctx := context.Background()

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(ctx, "alma-bfa", cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	stripeCB := resilience.NewCircuitBreaker("stripe", logger)
	twilioCB := resilience.NewCircuitBreaker("twilio", logger)
	geminiCB := resilience.NewCircuitBreaker("gemini", logger)
	bankCB := resilience.NewCircuitBreaker("truelayer", logger)

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	if cfg.StripeSecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set, payments will fail")
	}
	if cfg.TwilioAccountSID == "" {
		logger.Warn("TWILIO_ACCOUNT_SID not set, carer notifications will fail")
	}
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, chat classification will fail")
	}

	payments := stripe.NewClient(httpClient, stripe.Options{
		BaseURL:       cfg.StripeAPIURL,
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
	}, stripeCB, resilienceCfg, metrics)

	messenger := twilio.NewClient(httpClient, twilio.Options{
		BaseURL:    cfg.TwilioAPIURL,
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		From:       cfg.TwilioFrom,
	}, twilioCB, metrics)

	classifier := gemini.NewClient(httpClient, gemini.Options{
		BaseURL:       cfg.GeminiAPIURL,
		APIKey:        cfg.GeminiAPIKey,
		Model:         cfg.GeminiModel,
		FallbackModel: cfg.GeminiFallbackModel,
	}, geminiCB, resilienceCfg, metrics, logger)

	bank := truelayer.NewClient(httpClient, truelayer.Options{
		ClientID:     cfg.TrueLayerClientID,
		ClientSecret: cfg.TrueLayerClientSecret,
		RedirectURI:  cfg.TrueLayerRedirectURI,
		AuthURL:      cfg.TrueLayerAuthURL,
		APIURL:       cfg.TrueLayerAPIURL,
	}, bankCB, resilienceCfg, metrics)

	// --- Storage ---
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer func() {
		if err := store.close(); err != nil {
			logger.Warn("storage close failed", zap.Error(err))
		}
	}()
	sessions := session.NewStore()

	// --- Payees ---
	entries, err := config.LoadPayees(cfg)
	if err != nil {
		logger.Fatal("failed to load payees", zap.Error(err))
	}
	payees, err := config.ToDomain(entries)
	if err != nil {
		logger.Fatal("invalid payee catalogue", zap.Error(err))
	}
	registry, err := service.NewPayeeRegistry(payees)
	if err != nil {
		logger.Fatal("invalid payee catalogue", zap.Error(err))
	}
	for _, p := range payees {
		if p.Type == domain.PayeePerson && p.Destination == "" {
			logger.Warn("person payee has no connected account", zap.String("payee", p.Label))
		}
	}

	// --- Services ---
	history := service.NewHistoryService(store.transactions, service.NewIDGenerator(), logger)
	notifier := service.NewNotifier(messenger, cfg.MaxConcurrency, cfg.HTTPTimeout, metrics, logger)
	banking := service.NewBankingService(bank, sessions, history, logger)
	risk := service.NewRiskEvaluator(service.RiskThresholds{
		Elevated: cfg.RiskElevatedThreshold,
		Highest:  cfg.RiskHighestThreshold,
	}, cfg.ForceRiskLevel)

	assistant := service.NewAssistant(service.AssistantDeps{
		Registry:   registry,
		Executor:   service.NewExecutor(payments, risk, metrics, logger),
		Transfers:  service.NewTransferMachine(registry, sessions, cfg.DefaultCurrency),
		Notifier:   notifier,
		Classifier: classifier,
		Banking:    banking,
		History:    history,
		Sessions:   sessions,
	}, service.AssistantConfig{
		LargePaymentThreshold: cfg.LargePaymentThreshold,
		DefaultCurrency:       cfg.DefaultCurrency,
		IdempotencyTTL:        cfg.IdempotencyTTL,
	}, metrics, logger)
	defer assistant.Close()

	authSvc := service.NewAuthService(store.users, sessions, payments, cfg.JWTSecret, cfg.SessionTTL, logger)
	webhooks := service.NewWebhookService(history, notifier, logger)
	defer webhooks.Close()

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Assistant:   assistant,
		Auth:        authSvc,
		Carer:       service.NewCarerService(sessions, notifier, logger),
		Banking:     banking,
		History:     history,
		Webhooks:    webhooks,
		Events:      payments,
		Metrics:     metrics,
		Breakers:    []*gobreaker.CircuitBreaker{stripeCB, twilioCB, geminiCB, bankCB},
		Ready:       store.ready,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Logger:      logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-sigCtx.Done()

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// openStorage builds the repositories for the configured backend.
// The DynamoDB backend only holds the transaction log; accounts stay in memory.
func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage, error) {
	noop := func() error { return nil }

	switch cfg.StorageBackend {
	case "", "memory":
		mem := memory.New()
		logger.Info("using in-memory storage")
		return &storage{users: mem, transactions: mem, close: noop}, nil

	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("using SQLite storage", zap.String("path", cfg.SQLitePath))
		return &storage{users: db, transactions: db, ready: db.Ping, close: db.Close}, nil

	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		logger.Info("using DynamoDB transaction storage",
			zap.String("table", cfg.DynamoDBTable),
			zap.String("region", cfg.AWSRegion),
		)
		txs := dynamo.NewTransactionStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable)
		return &storage{users: memory.New(), transactions: txs, close: noop}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
