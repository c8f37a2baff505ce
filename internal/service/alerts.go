package service

import (
	"fmt"
	"strings"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/shopspring/decimal"
)

// Alert kinds, also used as metric labels.
const (
	AlertFraud           = "fraud"
	AlertLargePayment    = "large_payment"
	AlertPaymentFailed   = "payment_failed"
	AlertCarerRegistered = "carer_registered"
)

// Alert is a rendered carer message.
type Alert struct {
	Kind string
	Body string
}

// FraudAlert tells the carer a payment was flagged.
func FraudAlert(user string, amount decimal.Decimal, currency string, level domain.RiskLevel, explanation string) Alert {
	return Alert{
		Kind: AlertFraud,
		Body: fmt.Sprintf("🚨 ALMA ALERT\n%s made a payment of %s %s flagged as %s risk.\n\n%s",
			user, amount.StringFixed(2), currency, strings.ToUpper(string(level)), explanation),
	}
}

// LargePaymentAlert tells the carer about a payment at or above the threshold.
func LargePaymentAlert(user string, amount decimal.Decimal, currency string) Alert {
	return Alert{
		Kind: AlertLargePayment,
		Body: fmt.Sprintf("💸 ALMA ALERT\n%s just made a large payment of %s %s. "+
			"Please check in with them if this seems unexpected.",
			user, amount.StringFixed(2), currency),
	}
}

// PaymentFailedAlert tells the carer a payment did not go through.
func PaymentFailedAlert(user string, amount decimal.Decimal, currency, reason string) Alert {
	if reason == "" {
		reason = "unknown"
	}
	return Alert{
		Kind: AlertPaymentFailed,
		Body: fmt.Sprintf("⚠️ ALMA ALERT\n%s's payment of %s %s failed.\nReason: %s\nThey may need your help.",
			user, amount.StringFixed(2), currency, reason),
	}
}

// CarerRegisteredAlert welcomes a newly linked carer.
func CarerRegisteredAlert(user string) Alert {
	return Alert{
		Kind: AlertCarerRegistered,
		Body: fmt.Sprintf("👋 Hi! You've been added as a trusted contact for %s on Alma.\n\n"+
			"You'll receive WhatsApp alerts if a payment looks suspicious, fails, or is unusually large.", user),
	}
}
