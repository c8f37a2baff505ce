package service

import (
	"context"
	"sync"
	"time"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/infra/cache"
	"github.com/alma-care/alma-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var webhookTracer = otel.Tracer("service/webhooks")

// processedEventTTL covers the provider's redelivery window.
const processedEventTTL = 72 * time.Hour

// WebhookService reacts to asynchronous payment outcomes. Everything it
// needs travels in the charge metadata, so no session is involved.
type WebhookService struct {
	history  *HistoryService
	notifier *Notifier
	logger   *zap.Logger

	mu   sync.Mutex
	seen port.Cache[struct{}]
}

// NewWebhookService creates the webhook processor.
func NewWebhookService(history *HistoryService, notifier *Notifier, logger *zap.Logger) *WebhookService {
	return &WebhookService{
		history:  history,
		notifier: notifier,
		logger:   logger,
		seen:     cache.New[struct{}](processedEventTTL),
	}
}

// Close stops the processed-event cache's sweeper.
func (w *WebhookService) Close() {
	if c, ok := w.seen.(interface{ Close() }); ok {
		c.Close()
	}
}

// WebhookResult reports what processing an event did.
type WebhookResult struct {
	Handled       bool   `json:"handled"`
	Duplicate     bool   `json:"duplicate,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	CarerNotified bool   `json:"carer_notified"`
}

// Process applies a verified event. Unknown event types are acknowledged
// and ignored. A redelivered event id is acknowledged without acting again.
func (w *WebhookService) Process(ctx context.Context, ev *domain.PaymentEvent) (*WebhookResult, error) {
	ctx, span := webhookTracer.Start(ctx, "WebhookService.Process")
	defer span.End()
	span.SetAttributes(attribute.String("event.type", ev.Type), attribute.String("event.id", ev.ID))

	if ev.ID != "" && !w.claim(ev.ID) {
		w.logger.Info("duplicate webhook event", zap.String("event_id", ev.ID), zap.String("type", ev.Type))
		return &WebhookResult{Handled: true, Duplicate: true}, nil
	}

	res, err := w.apply(ctx, ev)
	if err != nil && ev.ID != "" {
		// release the id so the provider's retry is processed
		w.seen.Delete(ev.ID)
	}
	return res, err
}

// claim records id as processed and reports whether it was new.
func (w *WebhookService) claim(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.seen.Get(id); ok {
		return false
	}
	w.seen.Set(id, struct{}{})
	return true
}

func (w *WebhookService) apply(ctx context.Context, ev *domain.PaymentEvent) (*WebhookResult, error) {
	res := &WebhookResult{}
	var status domain.TransactionStatus
	switch ev.Type {
	case domain.EventPaymentSucceeded:
		status = domain.TxnCompleted
	case domain.EventPaymentFailed:
		status = domain.TxnFailed
	default:
		w.logger.Debug("ignoring webhook event", zap.String("type", ev.Type))
		return res, nil
	}
	res.Handled = true

	rec, prev, err := w.history.MarkCharge(ctx, ev.ChargeID, status)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		res.TransactionID = rec.ID
	}

	// A failure already logged as FAILED was alerted on when it happened.
	if ev.Type == domain.EventPaymentFailed && prev != domain.TxnFailed {
		if phone := ev.Metadata["carer_phone"]; phone != "" {
			user := ev.Metadata["user_name"]
			if user == "" {
				user = "the account holder"
			}
			res.CarerNotified = w.notifier.Notify(ctx, phone,
				PaymentFailedAlert(user, ev.Amount, ev.Currency, ev.FailureReason))
		}
	}

	w.logger.Info("payment webhook processed",
		zap.String("type", ev.Type),
		zap.String("event_id", ev.ID),
		zap.String("charge_id", ev.ChargeID),
		zap.String("transaction_id", res.TransactionID),
		zap.String("previous_status", string(prev)),
		zap.Bool("carer_notified", res.CarerNotified),
	)
	return res, nil
}
