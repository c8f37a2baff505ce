package handler

import (
	"net/http"

	"github.com/alma-care/alma-bfa-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Trusted contact
// ============================================================

type registerCarerRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func registerCarerHandler(svc *service.CarerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/carer")
		defer span.End()

		var req registerCarerRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		reply, err := svc.Register(ctx, SessionIDFromContext(ctx), req.Name, req.Phone)
		writeReply(w, http.StatusOK, reply, err, logger)
	}
}

func getCarerHandler(svc *service.CarerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/carer")
		defer span.End()

		carer, err := svc.Get(ctx, SessionIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"carer": carer})
	}
}

func removeCarerHandler(svc *service.CarerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/carer")
		defer span.End()

		reply, err := svc.Remove(ctx, SessionIDFromContext(ctx))
		writeReply(w, http.StatusOK, reply, err, logger)
	}
}
