package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alma-care/alma-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
)

// signatureTolerance bounds the age of a signed webhook delivery.
const signatureTolerance = 5 * time.Minute

var errBadSignature = &domain.ErrValidation{Field: "Stripe-Signature", Message: "invalid webhook signature"}

type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID               string            `json:"id"`
			Amount           int64             `json:"amount"`
			Currency         string            `json:"currency"`
			Metadata         map[string]string `json:"metadata"`
			LastPaymentError *struct {
				Message string `json:"message"`
			} `json:"last_payment_error"`
		} `json:"object"`
	} `json:"data"`
}

// ParseEvent verifies the Stripe-Signature header (when a webhook secret is
// configured) and decodes a payment-intent event.
func (c *Client) ParseEvent(payload []byte, signatureHeader string) (*domain.PaymentEvent, error) {
	if c.webhookSecret != "" {
		if err := verifySignature(payload, signatureHeader, c.webhookSecret, c.now()); err != nil {
			return nil, err
		}
	}

	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &domain.ErrValidation{Field: "body", Message: "invalid event payload"}
	}
	if env.Type == "" {
		return nil, &domain.ErrValidation{Field: "type", Message: "is required"}
	}

	obj := env.Data.Object
	currency := strings.ToUpper(obj.Currency)
	if currency == "" {
		currency = "EUR"
	}
	ev := &domain.PaymentEvent{
		ID:       env.ID,
		Type:     env.Type,
		ChargeID: obj.ID,
		Amount:   decimal.New(obj.Amount, -2),
		Currency: currency,
		Metadata: obj.Metadata,
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]string{}
	}
	if obj.LastPaymentError != nil {
		ev.FailureReason = obj.LastPaymentError.Message
	}
	return ev, nil
}

// verifySignature checks a header of the form "t=<unix>,v1=<hex>[,v1=...]"
// against HMAC-SHA256 of "<t>.<payload>".
func verifySignature(payload []byte, header, secret string, now time.Time) error {
	var (
		timestamp  string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return errBadSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errBadSignature
	}
	if age := now.Sub(time.Unix(ts, 0)); age > signatureTolerance || age < -signatureTolerance {
		return errBadSignature
	}

	expected := sign(payload, timestamp, secret)
	for _, s := range signatures {
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return errBadSignature
}

func sign(payload []byte, timestamp, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
