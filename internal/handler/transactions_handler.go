package handler

import (
	"io"
	"net/http"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/port"
	"github.com/alma-care/alma-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Transaction history
// ============================================================

type updateStatusRequest struct {
	Status string `json:"status"`
}

func listTransactionsHandler(svc *service.HistoryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/transactions")
		defer span.End()

		recs, err := svc.List(ctx, UserIDFromContext(ctx), parseLimit(r, 20))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": recs, "count": len(recs)})
	}
}

func updateTransactionStatusHandler(svc *service.HistoryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/transactions/{transactionId}/status")
		defer span.End()

		id := chi.URLParam(r, "transactionId")
		span.SetAttributes(attribute.String("transaction.id", id))

		var req updateStatusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		rec, err := svc.UpdateStatus(ctx, UserIDFromContext(ctx), id, req.Status)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// ============================================================
// Payment webhooks
// ============================================================

func paymentWebhookHandler(events port.EventParser, svc *service.WebhookService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/webhooks/payments")
		defer span.End()

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			handleServiceError(w, &domain.ErrValidation{Field: "body", Message: "unreadable payload"}, logger)
			return
		}

		ev, err := events.ParseEvent(payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		res, err := svc.Process(ctx, ev)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
