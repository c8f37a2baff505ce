package handler

import (
	"net/http"

	"github.com/alma-care/alma-bfa-go/internal/service"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Payments & transfers
// ============================================================

type createPaymentRequest struct {
	PayeeLabel    string          `json:"payee_label"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
	PaymentMethod string          `json:"payment_method"`
}

type draftTransferRequest struct {
	PayeeLabel string          `json:"payee_label"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
}

func listPayeesHandler(svc *service.Assistant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string][]string{"payees": svc.ListAllowedPayees()})
	}
}

func createPaymentHandler(svc *service.Assistant, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/payments")
		defer span.End()

		var req createPaymentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		idemKey := r.Header.Get("Idempotency-Key")
		span.SetAttributes(attribute.Bool("payment.idempotent", idemKey != ""))

		reply, err := svc.CreatePayment(ctx, SessionIDFromContext(ctx), service.PaymentInput{
			PayeeLabel:     req.PayeeLabel,
			Amount:         req.Amount,
			Currency:       req.Currency,
			Description:    req.Description,
			IdempotencyKey: idemKey,
			PaymentMethod:  req.PaymentMethod,
		})
		writeReply(w, http.StatusOK, reply, err, logger)
	}
}

func draftTransferHandler(svc *service.Assistant, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transfers/draft")
		defer span.End()

		var req draftTransferRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		reply, err := svc.DraftTransfer(ctx, SessionIDFromContext(ctx), req.PayeeLabel, req.Amount, req.Currency)
		writeReply(w, http.StatusOK, reply, err, logger)
	}
}

func confirmTransferHandler(svc *service.Assistant, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transfers/confirm")
		defer span.End()

		reply, err := svc.ConfirmTransfer(ctx, SessionIDFromContext(ctx))
		writeReply(w, http.StatusOK, reply, err, logger)
	}
}

func cancelTransferHandler(svc *service.Assistant, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transfers/cancel")
		defer span.End()

		reply, err := svc.CancelTransfer(ctx, SessionIDFromContext(ctx))
		writeReply(w, http.StatusOK, reply, err, logger)
	}
}

// ============================================================
// Chat
// ============================================================

type chatRequest struct {
	Transcript string `json:"transcript"`
}

func chatHandler(svc *service.Assistant, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/chat")
		defer span.End()

		var req chatRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		reply, err := svc.HandleChatTurn(ctx, SessionIDFromContext(ctx), req.Transcript)
		writeReply(w, http.StatusOK, reply, err, logger)
	}
}

func chatStateHandler(svc *service.Assistant, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/chat/state")
		defer span.End()

		state, err := svc.ChatState(ctx, SessionIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}
