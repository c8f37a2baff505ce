package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz and GET /readyz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth is the state of one collaborator's circuit breaker.
type ServiceHealth struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// MetricsSummary is returned by GET /v1/metrics/summary.
type MetricsSummary struct {
	PaymentsSucceeded   float64            `json:"payments_succeeded"`
	PaymentsBlocked     float64            `json:"payments_blocked"`
	PaymentsDeclined    float64            `json:"payments_declined"`
	PaymentsFailed      float64            `json:"payments_failed"`
	RiskByLevel         map[string]float64 `json:"risk_by_level"`
	NotificationsSent   float64            `json:"notifications_sent"`
	NotificationsFailed float64            `json:"notifications_failed"`
	IdempotentReplays   float64            `json:"idempotent_replays"`
	ClassifierRepairs   float64            `json:"classifier_repairs"`
}
