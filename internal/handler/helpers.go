package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// errorResponse is the body of every failed request. AssistantMessage is a
// sentence a non-technical user can act on.
type errorResponse struct {
	Error            string           `json:"error"`
	Kind             domain.ErrorKind `json:"kind"`
	AssistantMessage string           `json:"assistant_message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return &domain.ErrValidation{Field: "body", Message: "invalid request body"}
	}
	return nil
}

// statusForKind maps the error taxonomy onto HTTP status codes.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation, domain.KindConfiguration:
		return http.StatusBadRequest
	case domain.KindAuthentication:
		return http.StatusUnauthorized
	case domain.KindDeclined:
		return http.StatusPaymentRequired
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	writeFailure(w, service.ReplyForError(err), err, logger)
}

// writeReply writes a core operation's result: the reply on success, or
// the error with the reply's sentence on failure.
func writeReply(w http.ResponseWriter, status int, reply *domain.Reply, err error, logger *zap.Logger) {
	if err != nil {
		if reply == nil || reply.AssistantMessage == "" {
			reply = service.ReplyForError(err)
		}
		writeFailure(w, reply, err, logger)
		return
	}
	writeJSON(w, status, reply)
}

func writeFailure(w http.ResponseWriter, reply *domain.Reply, err error, logger *zap.Logger) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)

	msg := err.Error()
	switch {
	case status >= 500 && kind == domain.KindInternal:
		logger.Error("unhandled error", zap.Error(err))
		msg = "internal server error"
	case status >= 500:
		logger.Error("collaborator unavailable", zap.Error(err))
	case kind == domain.KindAuthentication || kind == domain.KindDeclined:
		logger.Warn(string(kind), zap.String("error", err.Error()))
	default:
		logger.Debug(string(kind), zap.String("error", err.Error()))
	}

	writeJSON(w, status, errorResponse{Error: msg, Kind: kind, AssistantMessage: reply.AssistantMessage})
}

// parseLimit reads ?limit=, defaulting to def and capping at 100.
func parseLimit(r *http.Request, def int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}
	return limit
}
