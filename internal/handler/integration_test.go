package handler_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/handler"
	"github.com/alma-care/alma-bfa-go/internal/infra/gemini"
	"github.com/alma-care/alma-bfa-go/internal/infra/observability"
	"github.com/alma-care/alma-bfa-go/internal/infra/resilience"
	"github.com/alma-care/alma-bfa-go/internal/infra/session"
	"github.com/alma-care/alma-bfa-go/internal/infra/store/memory"
	"github.com/alma-care/alma-bfa-go/internal/infra/stripe"
	"github.com/alma-care/alma-bfa-go/internal/infra/truelayer"
	"github.com/alma-care/alma-bfa-go/internal/infra/twilio"
	"github.com/alma-care/alma-bfa-go/internal/service"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	webhookSecret = "whsec_test"
	carerPhone    = "+353871234567"
	declineAmount = "999900"
)

// --- Fake upstream: payments, messaging, open banking and the model ---

type fakeUpstream struct {
	mu       sync.Mutex
	intents  []url.Values
	messages []url.Values
}

func (f *fakeUpstream) routes(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/customers", func(w http.ResponseWriter, r *http.Request) {
		writeUpstreamJSON(w, http.StatusOK, map[string]string{"id": "cus_int"})
	})

	mux.HandleFunc("POST /v1/payment_intents", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		f.mu.Lock()
		f.intents = append(f.intents, r.PostForm)
		n := len(f.intents)
		f.mu.Unlock()

		if r.PostForm.Get("amount") == declineAmount {
			writeUpstreamJSON(w, http.StatusPaymentRequired, map[string]any{
				"error": map[string]string{
					"type":         "card_error",
					"code":         "card_declined",
					"decline_code": "insufficient_funds",
					"charge":       "ch_declined",
				},
			})
			return
		}
		writeUpstreamJSON(w, http.StatusOK, map[string]string{
			"id":            fmt.Sprintf("pi_int_%d", n),
			"client_secret": "secret",
			"status":        "requires_payment_method",
		})
	})

	mux.HandleFunc("POST /2010-04-01/Accounts/AC123/Messages.json", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		f.mu.Lock()
		f.messages = append(f.messages, r.PostForm)
		f.mu.Unlock()
		writeUpstreamJSON(w, http.StatusCreated, map[string]string{"sid": "SM1"})
	})

	mux.HandleFunc("POST /connect/token", func(w http.ResponseWriter, r *http.Request) {
		writeUpstreamJSON(w, http.StatusOK, map[string]any{
			"access_token":  "bank-at",
			"refresh_token": "bank-rt",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})

	mux.HandleFunc("GET /data/v1/accounts", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer bank-at" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeUpstreamJSON(w, http.StatusOK, map[string]any{
			"results": []map[string]string{{"account_id": "acc-1", "display_name": "Current", "currency": "EUR"}},
		})
	})

	mux.HandleFunc("GET /data/v1/accounts/acc-1/balance", func(w http.ResponseWriter, r *http.Request) {
		writeUpstreamJSON(w, http.StatusOK, map[string]any{
			"results": []map[string]any{{"currency": "EUR", "available": 120.5, "current": 130}},
		})
	})

	mux.HandleFunc("POST /v1beta/models/", func(w http.ResponseWriter, r *http.Request) {
		text := `{"intent":"HELP","assistant_say":"I can check your balance or send money."}`
		writeUpstreamJSON(w, http.StatusOK, map[string]any{
			"candidates": []map[string]any{{"content": map[string]any{"parts": []map[string]string{{"text": text}}}}},
		})
	})

	return mux
}

func (f *fakeUpstream) intentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.intents)
}

func (f *fakeUpstream) intent(i int) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intents[i]
}

func (f *fakeUpstream) sent() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.messages...)
}

func writeUpstreamJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// --- Stack ---

type stack struct {
	router   http.Handler
	upstream *fakeUpstream
}

func newStack(t *testing.T) *stack {
	t.Helper()

	up := &fakeUpstream{}
	srv := httptest.NewServer(up.routes(t))
	t.Cleanup(srv.Close)

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	retry := resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond}

	stripeCB := resilience.NewCircuitBreaker("stripe", logger)
	twilioCB := resilience.NewCircuitBreaker("twilio", logger)
	geminiCB := resilience.NewCircuitBreaker("gemini", logger)
	bankCB := resilience.NewCircuitBreaker("truelayer", logger)

	payments := stripe.NewClient(srv.Client(), stripe.Options{
		BaseURL:       srv.URL,
		SecretKey:     "sk_test",
		WebhookSecret: webhookSecret,
	}, stripeCB, retry, metrics)
	messenger := twilio.NewClient(srv.Client(), twilio.Options{
		BaseURL:    srv.URL,
		AccountSID: "AC123",
		AuthToken:  "token",
		From:       "+14155238886",
	}, twilioCB, metrics)
	classifier := gemini.NewClient(srv.Client(), gemini.Options{
		BaseURL:       srv.URL,
		APIKey:        "key",
		Model:         "gemini-test",
		FallbackModel: "gemini-fallback",
	}, geminiCB, retry, metrics, logger)
	bank := truelayer.NewClient(srv.Client(), truelayer.Options{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost:3000/callback",
		AuthURL:      srv.URL,
		APIURL:       srv.URL,
	}, bankCB, retry, metrics)

	registry, err := service.NewPayeeRegistry([]domain.Payee{
		{Label: "Mary", Type: domain.PayeePerson, Destination: "acct_mary"},
		{Label: "John", Type: domain.PayeePerson},
		{Label: "Electric Ireland", Type: domain.PayeeMerchant},
	})
	if err != nil {
		t.Fatal(err)
	}

	store := memory.New()
	sessions := session.NewStore()
	history := service.NewHistoryService(store, service.NewIDGenerator(), logger)
	notifier := service.NewNotifier(messenger, 4, 5*time.Second, metrics, logger)
	banking := service.NewBankingService(bank, sessions, history, logger)

	assistant := service.NewAssistant(service.AssistantDeps{
		Registry:   registry,
		Executor:   service.NewExecutor(payments, service.NewRiskEvaluator(service.DefaultRiskThresholds, ""), metrics, logger),
		Transfers:  service.NewTransferMachine(registry, sessions, "EUR"),
		Notifier:   notifier,
		Classifier: classifier,
		Banking:    banking,
		History:    history,
		Sessions:   sessions,
	}, service.AssistantConfig{LargePaymentThreshold: decimal.NewFromInt(200)}, metrics, logger)

	router := handler.NewRouter(handler.Deps{
		Assistant: assistant,
		Auth:      service.NewAuthService(store, sessions, payments, "integration-secret", time.Hour, logger),
		Carer:     service.NewCarerService(sessions, notifier, logger),
		Banking:   banking,
		History:   history,
		Webhooks:  service.NewWebhookService(history, notifier, logger),
		Events:    payments,
		Metrics:   metrics,
		Breakers:  []*gobreaker.CircuitBreaker{stripeCB, twilioCB, geminiCB, bankCB},
		Logger:    logger,
	})

	return &stack{router: router, upstream: up}
}

type call struct {
	method  string
	path    string
	token   string
	body    any
	raw     []byte
	headers map[string]string
}

func (s *stack) do(t *testing.T, c call) (int, map[string]any) {
	t.Helper()

	payload := c.raw
	if c.body != nil {
		var err error
		if payload, err = json.Marshal(c.body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(c.method, c.path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: invalid JSON %q", c.method, c.path, rec.Body.String())
		}
	}
	return rec.Code, out
}

func signWebhook(payload []byte) string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(ts + "."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func (s *stack) signup(t *testing.T) string {
	t.Helper()
	code, body := s.do(t, call{
		method: http.MethodPost,
		path:   "/v1/auth/signup",
		body:   map[string]string{"name": "Rose", "email": "rose@example.com", "password": "correct-horse"},
	})
	if code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d (%v)", code, body)
	}
	if body["customer_id"] != "cus_int" {
		t.Errorf("expected payments customer from provider, got %v", body["customer_id"])
	}
	return body["access_token"].(string)
}

// --- Tests ---

func TestIntegration_CarerTransferAndWebhook(t *testing.T) {
	s := newStack(t)

	code, body := s.do(t, call{method: http.MethodGet, path: "/v1/payments/payees"})
	if code != http.StatusOK || len(body["payees"].([]any)) != 3 {
		t.Fatalf("payees: unexpected %d %v", code, body)
	}

	token := s.signup(t)

	code, body = s.do(t, call{method: http.MethodPost, path: "/v1/carer", token: token,
		body: map[string]string{"name": "Anne", "phone": carerPhone}})
	if code != http.StatusOK {
		t.Fatalf("carer: expected 200, got %d (%v)", code, body)
	}
	msgs := s.upstream.sent()
	if len(msgs) != 1 || msgs[0].Get("To") != "whatsapp:"+carerPhone || msgs[0].Get("From") != "whatsapp:+14155238886" {
		t.Fatalf("expected welcome message over WhatsApp, got %v", msgs)
	}

	code, body = s.do(t, call{method: http.MethodPost, path: "/v1/transfers/draft", token: token,
		body: map[string]any{"payee_label": "Mary", "amount": 250}})
	if code != http.StatusOK || !strings.Contains(body["assistant_message"].(string), "250.00 EUR to Mary") {
		t.Fatalf("draft: unexpected %d %v", code, body)
	}
	if s.upstream.intentCount() != 0 {
		t.Fatal("drafting must not reach the payments provider")
	}

	code, body = s.do(t, call{method: http.MethodPost, path: "/v1/transfers/confirm", token: token})
	if code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d (%v)", code, body)
	}
	data := body["data"].(map[string]any)
	if data["large_payment_alert_sent"] != true || data["charge_id"] != "pi_int_1" {
		t.Errorf("unexpected outcome %v", data)
	}
	intent := s.upstream.intent(0)
	if intent.Get("transfer_data[destination]") != "acct_mary" || intent.Get("amount") != "25000" || intent.Get("metadata[carer_phone]") != carerPhone {
		t.Errorf("unexpected payment intent %v", intent)
	}
	if len(s.upstream.sent()) != 2 {
		t.Errorf("expected the large payment alert, got %d messages", len(s.upstream.sent()))
	}

	code, body = s.do(t, call{method: http.MethodPost, path: "/v1/transfers/confirm", token: token})
	if code != http.StatusOK || !strings.HasPrefix(body["assistant_message"].(string), "There's no pending payment") {
		t.Fatalf("replayed confirm: unexpected %d %v", code, body)
	}
	if s.upstream.intentCount() != 1 {
		t.Fatalf("expected a single charge, got %d", s.upstream.intentCount())
	}

	code, body = s.do(t, call{method: http.MethodGet, path: "/v1/transactions", token: token})
	if code != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("transactions: unexpected %d %v", code, body)
	}
	txn := body["transactions"].([]any)[0].(map[string]any)
	if txn["status"] != "PENDING" || txn["type"] != "TRANSFER" {
		t.Errorf("unexpected record %v", txn)
	}

	event := []byte(`{"id":"evt_1","type":"payment_intent.payment_failed","data":{"object":{` +
		`"id":"pi_int_1","amount":25000,"currency":"eur",` +
		`"metadata":{"carer_phone":"` + carerPhone + `","user_name":"Rose"},` +
		`"last_payment_error":{"message":"Your card was declined."}}}}`)

	code, body = s.do(t, call{method: http.MethodPost, path: "/v1/webhooks/payments", raw: event,
		headers: map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"}})
	if code != http.StatusBadRequest {
		t.Fatalf("forged webhook: expected 400, got %d (%v)", code, body)
	}

	code, body = s.do(t, call{method: http.MethodPost, path: "/v1/webhooks/payments", raw: event,
		headers: map[string]string{"Stripe-Signature": signWebhook(event)}})
	if code != http.StatusOK || body["handled"] != true || body["carer_notified"] != true {
		t.Fatalf("webhook: unexpected %d %v", code, body)
	}
	msgs = s.upstream.sent()
	if len(msgs) != 3 || !strings.Contains(msgs[2].Get("Body"), "Rose's payment of 250.00 EUR failed") {
		t.Errorf("expected failure alert, got %v", msgs)
	}

	_, body = s.do(t, call{method: http.MethodGet, path: "/v1/transactions", token: token})
	if got := body["transactions"].([]any)[0].(map[string]any)["status"]; got != "FAILED" {
		t.Errorf("expected FAILED after webhook, got %v", got)
	}
}

func TestIntegration_PaymentsErrorsAndIdempotency(t *testing.T) {
	s := newStack(t)
	token := s.signup(t)

	code, body := s.do(t, call{method: http.MethodPost, path: "/v1/payments", token: token,
		body: map[string]any{"payee_label": "Bob", "amount": 5}})
	if code != http.StatusBadRequest || body["kind"] != "validation" {
		t.Fatalf("unknown payee: unexpected %d %v", code, body)
	}
	if !strings.Contains(body["assistant_message"].(string), "Mary, John, Electric Ireland") {
		t.Errorf("expected allowed payees listed, got %v", body["assistant_message"])
	}

	code, body = s.do(t, call{method: http.MethodPost, path: "/v1/transfers/draft", token: token,
		body: map[string]any{"payee_label": "John", "amount": 20}})
	if code != http.StatusOK {
		t.Fatalf("draft: unexpected %d %v", code, body)
	}
	code, body = s.do(t, call{method: http.MethodPost, path: "/v1/transfers/confirm", token: token})
	if code != http.StatusBadRequest || body["kind"] != "configuration" {
		t.Fatalf("unconfigured payee: unexpected %d %v", code, body)
	}

	pay := call{method: http.MethodPost, path: "/v1/payments", token: token,
		body:    map[string]any{"payee_label": "Electric Ireland", "amount": "42.10"},
		headers: map[string]string{"Idempotency-Key": "bill-oct"}}
	code, first := s.do(t, pay)
	if code != http.StatusOK {
		t.Fatalf("payment: unexpected %d %v", code, first)
	}
	code, second := s.do(t, pay)
	if code != http.StatusOK {
		t.Fatalf("replayed payment: unexpected %d %v", code, second)
	}
	if s.upstream.intentCount() != 1 {
		t.Errorf("expected one submission for a repeated key, got %d", s.upstream.intentCount())
	}
	if first["data"].(map[string]any)["charge_id"] != second["data"].(map[string]any)["charge_id"] {
		t.Error("expected the replay to return the first outcome")
	}

	code, body = s.do(t, call{method: http.MethodPost, path: "/v1/payments", token: token,
		body: map[string]any{"payee_label": "Electric Ireland", "amount": 9999}})
	if code != http.StatusPaymentRequired || body["kind"] != "declined" {
		t.Fatalf("decline: unexpected %d %v", code, body)
	}

	_, summary := s.do(t, call{method: http.MethodGet, path: "/v1/metrics/summary"})
	if summary["payments_declined"].(float64) != 1 || summary["idempotent_replays"].(float64) != 1 {
		t.Errorf("unexpected summary %v", summary)
	}
}

func TestIntegration_ChatBankAndLogout(t *testing.T) {
	s := newStack(t)
	token := s.signup(t)

	code, body := s.do(t, call{method: http.MethodPost, path: "/v1/chat", token: token,
		body: map[string]string{"transcript": "what can you do?"}})
	if code != http.StatusOK || body["intent"] != "HELP" {
		t.Fatalf("chat: unexpected %d %v", code, body)
	}
	if body["assistant_message"] != "I can check your balance or send money." {
		t.Errorf("unexpected chat reply %v", body["assistant_message"])
	}

	code, body = s.do(t, call{method: http.MethodGet, path: "/v1/bank/balance", token: token})
	if code != http.StatusBadRequest {
		t.Fatalf("balance before link: expected 400, got %d (%v)", code, body)
	}

	code, body = s.do(t, call{method: http.MethodGet, path: "/v1/bank/auth-url", token: token})
	if code != http.StatusOK || !strings.Contains(body["auth_url"].(string), "providers=ie-ob-all") {
		t.Fatalf("auth url: unexpected %d %v", code, body)
	}

	code, body = s.do(t, call{method: http.MethodPost, path: "/v1/bank/link", token: token,
		body: map[string]string{"code": "auth-code"}})
	if code != http.StatusOK {
		t.Fatalf("link: unexpected %d %v", code, body)
	}

	code, body = s.do(t, call{method: http.MethodGet, path: "/v1/bank/balance", token: token})
	if code != http.StatusOK || body["available"] != "120.5" || body["account_id"] != "acc-1" {
		t.Fatalf("balance: unexpected %d %v", code, body)
	}

	code, body = s.do(t, call{method: http.MethodGet, path: "/v1/chat/state", token: token})
	if code != http.StatusOK || body["has_bank_token"] != true || body["primary_account_id"] != "acc-1" {
		t.Errorf("state: unexpected %d %v", code, body)
	}

	if code, _ = s.do(t, call{method: http.MethodPost, path: "/v1/auth/logout", token: token}); code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", code)
	}
	if code, _ = s.do(t, call{method: http.MethodGet, path: "/v1/auth/me", token: token}); code != http.StatusUnauthorized {
		t.Errorf("me after logout: expected 401, got %d", code)
	}
}
