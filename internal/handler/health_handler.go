package handler

import (
	"context"
	"net/http"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/infra/observability"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ============================================================
// Health & metrics
// ============================================================

// healthzHandler reports the breaker state of every collaborator. An open
// breaker degrades the service but never fails liveness.
func healthzHandler(breakers []*gobreaker.CircuitBreaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := []domain.ServiceHealth{{Name: "alma-api", Status: "healthy"}}
		overall := "healthy"

		for _, cb := range breakers {
			status := "healthy"
			switch cb.State() {
			case gobreaker.StateOpen:
				status = "unhealthy"
				overall = "degraded"
			case gobreaker.StateHalfOpen:
				status = "degraded"
				overall = "degraded"
			}
			services = append(services, domain.ServiceHealth{Name: cb.Name(), Status: status})
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{Status: overall, Services: services})
	}
}

func readyzHandler(ready func(ctx context.Context) error, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				logger.Warn("readiness check failed", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func metricsSummaryHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Summary())
	}
}
