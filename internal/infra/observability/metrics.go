package observability

import (
	"time"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Payment outcome labels.
const (
	PaymentSucceeded = "succeeded"
	PaymentBlocked   = "blocked"
	PaymentDeclined  = "declined"
	PaymentFailed    = "failed"
)

// Metrics holds all Prometheus metrics for Alma.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	externalErrors    *prometheus.CounterVec
	payments          *prometheus.CounterVec
	riskAssessments   *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	chatIntents       *prometheus.CounterVec
	classifierRepairs *prometheus.CounterVec
	idempotentReplays prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. A private registry lets tests build as many
// instances as they like.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alma_request_duration_seconds",
				Help:    "Duration of core operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alma_external_errors_total",
				Help: "Total errors from external collaborators.",
			},
			[]string{"service"},
		),
		payments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alma_payments_total",
				Help: "Payments by outcome.",
			},
			[]string{"status"},
		),
		riskAssessments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alma_risk_assessments_total",
				Help: "Risk assessments by level.",
			},
			[]string{"level"},
		),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alma_notifications_total",
				Help: "Carer notifications by template and delivery result.",
			},
			[]string{"kind", "result"},
		),
		chatIntents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alma_chat_intents_total",
				Help: "Classified chat turns by intent.",
			},
			[]string{"intent"},
		),
		classifierRepairs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alma_classifier_repairs_total",
				Help: "Classifier repair attempts by result.",
			},
			[]string{"result"},
		),
		idempotentReplays: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "alma_idempotent_replays_total",
				Help: "Payments answered from the idempotency cache.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

func (m *Metrics) IncrPayment(status string) {
	m.payments.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrRiskAssessment(level domain.RiskLevel) {
	m.riskAssessments.WithLabelValues(string(level)).Inc()
}

// IncrNotification counts one notification attempt.
func (m *Metrics) IncrNotification(kind string, delivered bool) {
	result := "sent"
	if !delivered {
		result = "failed"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) IncrChatIntent(intent string) {
	m.chatIntents.WithLabelValues(intent).Inc()
}

func (m *Metrics) IncrClassifierRepair(result string) {
	m.classifierRepairs.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrIdempotentReplay() {
	m.idempotentReplays.Inc()
}

// NotificationCount returns how many notifications of kind had the given result.
func (m *Metrics) NotificationCount(kind, result string) float64 {
	return counterValue(m.notifications.WithLabelValues(kind, result))
}

// Summary returns a JSON-friendly snapshot for GET /v1/metrics/summary.
func (m *Metrics) Summary() *domain.MetricsSummary {
	risk := make(map[string]float64, 4)
	for _, lvl := range []domain.RiskLevel{domain.RiskNormal, domain.RiskElevated, domain.RiskHighest, domain.RiskUnknown} {
		risk[string(lvl)] = counterValue(m.riskAssessments.WithLabelValues(string(lvl)))
	}

	var sent, failed float64
	for _, kind := range []string{"fraud", "large_payment", "payment_failed", "carer_registered"} {
		sent += m.NotificationCount(kind, "sent")
		failed += m.NotificationCount(kind, "failed")
	}

	repairs := counterValue(m.classifierRepairs.WithLabelValues("ok")) +
		counterValue(m.classifierRepairs.WithLabelValues("failed"))

	return &domain.MetricsSummary{
		PaymentsSucceeded:   counterValue(m.payments.WithLabelValues(PaymentSucceeded)),
		PaymentsBlocked:     counterValue(m.payments.WithLabelValues(PaymentBlocked)),
		PaymentsDeclined:    counterValue(m.payments.WithLabelValues(PaymentDeclined)),
		PaymentsFailed:      counterValue(m.payments.WithLabelValues(PaymentFailed)),
		RiskByLevel:         risk,
		NotificationsSent:   sent,
		NotificationsFailed: failed,
		IdempotentReplays:   counterValue(m.idempotentReplays),
		ClassifierRepairs:   repairs,
	}
}

// counterValue reads the current value of a counter through its DTO.
func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
