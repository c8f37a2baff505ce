// Package stripe is the payments-provider adapter: customers, payment
// intents, the Radar outcome of a charge and webhook verification.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/infra/observability"
	"github.com/alma-care/alma-bfa-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("infra/stripe")

const serviceName = "stripe"

// Client talks to the Stripe REST API with form-encoded requests.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	secretKey     string
	webhookSecret string
	cb            *gobreaker.CircuitBreaker
	cfg           resilience.Config
	metrics       *observability.Metrics
	now           func() time.Time
}

// Options configures a Client.
type Options struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
}

// NewClient creates a new Stripe client.
func NewClient(httpClient *http.Client, opts Options, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics) *Client {
	return &Client{
		httpClient:    httpClient,
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		secretKey:     opts.SecretKey,
		webhookSecret: opts.WebhookSecret,
		cb:            cb,
		cfg:           cfg,
		metrics:       metrics,
		now:           time.Now,
	}
}

// ============================================================
// Wire types
// ============================================================

type apiError struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
		Charge      string `json:"charge"`

		PaymentIntent struct {
			ID string `json:"id"`
		} `json:"payment_intent"`
	} `json:"error"`
}

type customerResponse struct {
	ID string `json:"id"`
}

type paymentIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	LatestCharge string `json:"latest_charge"`
}

type chargeResponse struct {
	ID      string `json:"id"`
	Outcome *struct {
		RiskLevel string `json:"risk_level"`
		RiskScore *int   `json:"risk_score"`
	} `json:"outcome"`
}

// ============================================================
// PaymentsProvider
// ============================================================

// CreateCustomer registers a customer and returns its id.
func (c *Client) CreateCustomer(ctx context.Context, name, email string) (string, error) {
	ctx, span := tracer.Start(ctx, "StripeClient.CreateCustomer")
	defer span.End()

	form := url.Values{}
	form.Set("name", name)
	form.Set("email", email)

	var out customerResponse
	if err := c.call(ctx, http.MethodPost, "/v1/customers", form, "", &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// SubmitCharge creates a payment intent. With a PaymentMethod token the
// intent is confirmed in the same call, which makes Radar score it at once.
func (c *Client) SubmitCharge(ctx context.Context, req *domain.ChargeRequest) (*domain.Charge, error) {
	ctx, span := tracer.Start(ctx, "StripeClient.SubmitCharge")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("payment.amount_minor", req.AmountMinor),
		attribute.Bool("payment.routed", req.Destination != ""),
	)

	var out paymentIntentResponse
	if err := c.call(ctx, http.MethodPost, "/v1/payment_intents", paymentIntentForm(req), req.IdempotencyKey, &out); err != nil {
		return nil, err
	}
	return &domain.Charge{
		ID:             out.ID,
		ClientSecret:   out.ClientSecret,
		Status:         out.Status,
		LatestChargeID: out.LatestCharge,
	}, nil
}

// GetRiskSignal reads the Radar outcome of a charge. Reads are retried.
func (c *Client) GetRiskSignal(ctx context.Context, chargeID string) (*domain.RiskSignal, error) {
	ctx, span := tracer.Start(ctx, "StripeClient.GetRiskSignal")
	defer span.End()
	span.SetAttributes(attribute.String("charge.id", chargeID))

	result, err := c.cb.Execute(func() (any, error) {
		var out chargeResponse
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			return c.do(ctx, http.MethodGet, "/v1/charges/"+url.PathEscape(chargeID), nil, "", &out)
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return &out, nil
	})
	if err != nil {
		return nil, c.wrap(err)
	}

	ch := result.(*chargeResponse)
	signal := &domain.RiskSignal{Level: domain.RiskUnknown}
	if ch.Outcome != nil {
		if lvl, ok := domain.ParseRiskLevel(ch.Outcome.RiskLevel); ok {
			signal.Level = lvl
		}
		signal.Score = ch.Outcome.RiskScore
	}
	return signal, nil
}

func paymentIntentForm(req *domain.ChargeRequest) url.Values {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountMinor, 10))
	form.Set("currency", req.Currency)
	form.Set("customer", req.CustomerID)
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}
	if req.Destination != "" {
		form.Set("transfer_data[destination]", req.Destination)
	}
	form.Set("automatic_payment_methods[enabled]", "true")
	if req.PaymentMethod != "" {
		form.Set("payment_method_data[type]", "card")
		form.Set("payment_method_data[card][token]", req.PaymentMethod)
		form.Set("automatic_payment_methods[allow_redirects]", "never")
		form.Set("confirm", "true")
	}
	return form
}

// ============================================================
// Transport
// ============================================================

// call runs one non-retried request through the breaker.
func (c *Client) call(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.do(ctx, method, path, form, idempotencyKey, out)
	})
	if err != nil {
		return c.wrap(err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return resilience.Permanent(err)
	}
	req.SetBasicAuth(c.secretKey, "")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, raw)
	}
	return json.Unmarshal(raw, out)
}

// statusError turns a Stripe error body into a domain error. Card errors
// are explicit declines; other 4xx answers will not improve on retry.
func statusError(status int, raw []byte) error {
	var apiErr apiError
	_ = json.Unmarshal(raw, &apiErr)

	if apiErr.Error.Type == "card_error" || status == http.StatusPaymentRequired {
		reason := apiErr.Error.DeclineCode
		if reason == "" {
			reason = apiErr.Error.Code
		}
		if reason == "" {
			reason = apiErr.Error.Message
		}
		return resilience.Permanent(&domain.ErrDeclined{
			Reason:          reason,
			ChargeID:        apiErr.Error.Charge,
			PaymentIntentID: apiErr.Error.PaymentIntent.ID,
		})
	}

	err := fmt.Errorf("stripe API returned status %d: %s", status, apiErr.Error.Message)
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return resilience.Permanent(err)
	}
	return err
}

func (c *Client) wrap(err error) error {
	var declined *domain.ErrDeclined
	if errors.As(err, &declined) {
		return declined
	}
	c.metrics.IncrExternalError(serviceName)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: serviceName}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ErrTimeout{Operation: serviceName}
	}
	return &domain.ErrExternalService{Service: serviceName, Err: err}
}
