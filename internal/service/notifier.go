package service

import (
	"context"
	"time"

	"github.com/alma-care/alma-bfa-go/internal/infra/observability"
	"github.com/alma-care/alma-bfa-go/internal/infra/resilience"
	"github.com/alma-care/alma-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var notifyTracer = otel.Tracer("service/notifier")

// Notifier delivers carer alerts. It never fails its caller: delivery
// problems are logged and reported as false.
type Notifier struct {
	messenger port.Messenger
	bulkhead  *resilience.Bulkhead
	timeout   time.Duration
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewNotifier creates a notifier that allows at most maxConcurrent sends
// in flight.
func NewNotifier(messenger port.Messenger, maxConcurrent int, timeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Notifier {
	return &Notifier{
		messenger: messenger,
		bulkhead:  resilience.NewBulkhead(maxConcurrent),
		timeout:   timeout,
		metrics:   metrics,
		logger:    logger,
	}
}

// Notify sends alert to phone. The caller checks that a carer is linked.
func (n *Notifier) Notify(ctx context.Context, phone string, alert Alert) bool {
	ctx, span := notifyTracer.Start(ctx, "Notifier.Notify")
	defer span.End()
	span.SetAttributes(attribute.String("alert.kind", alert.Kind))

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	err := n.bulkhead.Do(ctx, func() error {
		return n.messenger.Send(ctx, phone, alert.Body)
	})
	delivered := err == nil
	n.metrics.IncrNotification(alert.Kind, delivered)

	if !delivered {
		span.RecordError(err)
		n.logger.Warn("carer notification not delivered",
			zap.String("kind", alert.Kind),
			zap.String("phone", maskPhone(phone)),
			zap.Error(err),
		)
		return false
	}

	n.logger.Info("carer notification sent",
		zap.String("kind", alert.Kind),
		zap.String("phone", maskPhone(phone)),
	)
	return true
}

// maskPhone keeps the last three digits for log correlation.
func maskPhone(phone string) string {
	if len(phone) <= 3 {
		return "***"
	}
	return "***" + phone[len(phone)-3:]
}
