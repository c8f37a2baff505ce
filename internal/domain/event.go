package domain

import "github.com/shopspring/decimal"

// Payment event types delivered by the provider's webhook.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// PaymentEvent is a verified webhook notification about a charge. The
// metadata is what was attached at submission time, so it can be acted on
// without any session.
type PaymentEvent struct {
	ID            string
	Type          string
	ChargeID      string
	Amount        decimal.Decimal
	Currency      string
	Metadata      map[string]string
	FailureReason string
}
