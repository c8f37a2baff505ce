package stripe

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/infra/observability"
	"github.com/alma-care/alma-bfa-go/internal/infra/resilience"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc, webhookSecret string) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.Client(), Options{BaseURL: srv.URL, SecretKey: "sk_test", WebhookSecret: webhookSecret},
		resilience.NewCircuitBreaker("stripe-test", zap.NewNop()),
		resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond},
		observability.NewMetrics())
}

func TestSubmitCharge_RoutedWithIdempotencyKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if user, _, _ := r.BasicAuth(); user != "sk_test" {
			t.Errorf("expected secret key as basic auth user, got %q", user)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "key-1" {
			t.Errorf("expected idempotency key, got %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		checks := map[string]string{
			"amount":                     "2550",
			"currency":                   "eur",
			"customer":                   "cus_1",
			"transfer_data[destination]": "acct_mary",
			"metadata[source]":           "alma_app",
		}
		for k, want := range checks {
			if got := r.PostForm.Get(k); got != want {
				t.Errorf("%s = %q, want %q", k, got, want)
			}
		}
		if r.PostForm.Get("confirm") != "" {
			t.Error("should not confirm without a payment method")
		}
		fmt.Fprint(w, `{"id":"pi_1","client_secret":"pi_1_secret","status":"requires_payment_method","latest_charge":""}`)
	}, "")

	charge, err := c.SubmitCharge(context.Background(), &domain.ChargeRequest{
		CustomerID:     "cus_1",
		AmountMinor:    2550,
		Currency:       "eur",
		Metadata:       map[string]string{"source": "alma_app"},
		Destination:    "acct_mary",
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if charge.ID != "pi_1" || charge.ClientSecret != "pi_1_secret" || charge.LatestChargeID != "" {
		t.Errorf("unexpected charge: %+v", charge)
	}
}

func TestSubmitCharge_CardErrorIsDecline(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":{"type":"card_error","code":"card_declined","decline_code":"fraudulent","charge":"ch_9","payment_intent":{"id":"pi_9","status":"requires_payment_method"}}}`)
	}, "")

	_, err := c.SubmitCharge(context.Background(), &domain.ChargeRequest{CustomerID: "cus_1", AmountMinor: 100, Currency: "eur", PaymentMethod: "tok_visa"})
	var declined *domain.ErrDeclined
	if !errors.As(err, &declined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
	if declined.Reason != "fraudulent" || declined.ChargeID != "ch_9" || declined.PaymentIntentID != "pi_9" {
		t.Errorf("unexpected decline: %+v", declined)
	}
	if declined.Reference() != "pi_9" {
		t.Errorf("expected the intent id as reference, got %q", declined.Reference())
	}
	if calls.Load() != 1 {
		t.Errorf("submission must not be retried, got %d calls", calls.Load())
	}
}

func TestSubmitCharge_ServerErrorIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, "")

	_, err := c.SubmitCharge(context.Background(), &domain.ChargeRequest{CustomerID: "cus_1", AmountMinor: 100, Currency: "eur"})
	if domain.KindOf(err) != domain.KindUnavailable {
		t.Errorf("expected unavailable, got %v", err)
	}
}

func TestGetRiskSignal(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.URL.Path != "/v1/charges/ch_1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"id":"ch_1","outcome":{"risk_level":"elevated","risk_score":62}}`)
	}, "")

	signal, err := c.GetRiskSignal(context.Background(), "ch_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signal.Level != domain.RiskElevated || signal.Score == nil || *signal.Score != 62 {
		t.Errorf("unexpected signal: %+v", signal)
	}
	if calls.Load() != 2 {
		t.Errorf("expected one retry, got %d calls", calls.Load())
	}
}

func TestGetRiskSignal_NotAssessed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"ch_1","outcome":{"risk_level":"not_assessed"}}`)
	}, "")

	signal, err := c.GetRiskSignal(context.Background(), "ch_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signal.Level != domain.RiskUnknown || signal.Score != nil {
		t.Errorf("expected unknown signal, got %+v", signal)
	}
}

func TestCreateCustomer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("email") != "ann@example.com" {
			t.Errorf("unexpected email %q", r.PostForm.Get("email"))
		}
		fmt.Fprint(w, `{"id":"cus_42"}`)
	}, "")

	id, err := c.CreateCustomer(context.Background(), "Ann", "ann@example.com")
	if err != nil || id != "cus_42" {
		t.Fatalf("got %q, %v", id, err)
	}
}

const failedEvent = `{"id":"evt_1","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_7","amount":25000,"currency":"eur","metadata":{"carer_phone":"+353871234567","user_name":"Ann"},"last_payment_error":{"message":"Your card was declined."}}}}`

func TestParseEvent_VerifiesSignature(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, "whsec_test")
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	ts := fmt.Sprint(now.Unix())
	header := "t=" + ts + ",v1=" + hex.EncodeToString(sign([]byte(failedEvent), ts, "whsec_test"))

	ev, err := c.ParseEvent([]byte(failedEvent), header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != domain.EventPaymentFailed || ev.ChargeID != "pi_7" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Amount.String() != "250" || ev.Currency != "EUR" {
		t.Errorf("unexpected amount %s %s", ev.Amount, ev.Currency)
	}
	if ev.Metadata["carer_phone"] != "+353871234567" || ev.FailureReason != "Your card was declined." {
		t.Errorf("unexpected metadata/reason: %+v", ev)
	}

	tampered := strings.Replace(failedEvent, "25000", "1", 1)
	if _, err := c.ParseEvent([]byte(tampered), header); domain.KindOf(err) != domain.KindValidation {
		t.Errorf("expected tampered payload to fail validation, got %v", err)
	}

	c.now = func() time.Time { return now.Add(time.Hour) }
	if _, err := c.ParseEvent([]byte(failedEvent), header); err == nil {
		t.Error("expected stale signature to be rejected")
	}
}

func TestParseEvent_NoSecretSkipsVerification(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, "")

	ev, err := c.ParseEvent([]byte(failedEvent), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.ID != "evt_1" {
		t.Errorf("unexpected event id %q", ev.ID)
	}
}
