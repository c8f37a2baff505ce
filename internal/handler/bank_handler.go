package handler

import (
	"net/http"
	"strings"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Bank link & balance
// ============================================================

type bankLinkRequest struct {
	Code string `json:"code"`
}

func bankAuthURLHandler(svc *service.BankingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url, state := svc.AuthURL()
		writeJSON(w, http.StatusOK, map[string]string{"auth_url": url, "state": state})
	}
}

func bankLinkHandler(svc *service.BankingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/bank/link")
		defer span.End()

		var req bankLinkRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if strings.TrimSpace(req.Code) == "" {
			handleServiceError(w, &domain.ErrValidation{Field: "code", Message: "is required"}, logger)
			return
		}

		if err := svc.Link(ctx, SessionIDFromContext(ctx), req.Code); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.Reply{AssistantMessage: "Your bank account is now linked."})
	}
}

func bankBalanceHandler(svc *service.BankingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/bank/balance")
		defer span.End()

		bal, err := svc.Balance(ctx, SessionIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, bal)
	}
}

func overviewHandler(svc *service.BankingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/overview")
		defer span.End()

		ov, err := svc.Overview(ctx, SessionIDFromContext(ctx), parseLimit(r, 5))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, ov)
	}
}
