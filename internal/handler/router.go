package handler

import (
	"context"
	"net/http"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/infra/observability"
	"github.com/alma-care/alma-bfa-go/internal/port"
	"github.com/alma-care/alma-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Deps is everything the router serves. Nil services leave their routes
// answering 503.
type Deps struct {
	Assistant *service.Assistant
	Auth      *service.AuthService
	Carer     *service.CarerService
	Banking   *service.BankingService
	History   *service.HistoryService
	Webhooks  *service.WebhookService
	Events    port.EventParser

	Metrics  *observability.Metrics
	Breakers []*gobreaker.CircuitBreaker

	// Ready reports whether storage is reachable; nil means always ready.
	Ready       func(ctx context.Context) error
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger, d.Metrics))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.Breakers))
	r.Get("/readyz", readyzHandler(d.Ready, logger))
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/summary", metricsSummaryHandler(d.Metrics))

		if d.Webhooks != nil && d.Events != nil {
			r.Post("/webhooks/payments", paymentWebhookHandler(d.Events, d.Webhooks, logger))
		}

		if d.Assistant != nil {
			r.Get("/payments/payees", listPayeesHandler(d.Assistant))
		}

		if d.Auth == nil {
			r.Handle("/*", unavailableHandler(logger))
			return
		}

		// Public auth routes
		r.Post("/auth/signup", signupHandler(d.Auth, logger))
		r.Post("/auth/login", loginHandler(d.Auth, logger))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(d.Auth, logger))

			r.Post("/auth/logout", logoutHandler(d.Auth, logger))
			r.Get("/auth/me", meHandler(d.Auth, logger))

			if d.Assistant != nil {
				r.Post("/payments", createPaymentHandler(d.Assistant, logger))
				r.Post("/transfers/draft", draftTransferHandler(d.Assistant, logger))
				r.Post("/transfers/confirm", confirmTransferHandler(d.Assistant, logger))
				r.Post("/transfers/cancel", cancelTransferHandler(d.Assistant, logger))
				r.Post("/chat", chatHandler(d.Assistant, logger))
				r.Get("/chat/state", chatStateHandler(d.Assistant, logger))
			}

			if d.Carer != nil {
				r.Post("/carer", registerCarerHandler(d.Carer, logger))
				r.Get("/carer", getCarerHandler(d.Carer, logger))
				r.Delete("/carer", removeCarerHandler(d.Carer, logger))
			}

			if d.Banking != nil {
				r.Get("/bank/auth-url", bankAuthURLHandler(d.Banking))
				r.Post("/bank/link", bankLinkHandler(d.Banking, logger))
				r.Get("/bank/balance", bankBalanceHandler(d.Banking, logger))
				r.Get("/overview", overviewHandler(d.Banking, logger))
			}

			if d.History != nil {
				r.Get("/transactions", listTransactionsHandler(d.History, logger))
				r.Patch("/transactions/{transactionId}/status", updateTransactionStatusHandler(d.History, logger))
			}
		})
	})

	return r
}

func unavailableHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Warn("route served without auth service", zap.String("path", r.URL.Path))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:            "service not configured",
			Kind:             domain.KindUnavailable,
			AssistantMessage: "Sorry, Alma isn't available right now. Please try again later.",
		})
	}
}
