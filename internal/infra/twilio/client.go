// Package twilio delivers carer notifications over WhatsApp.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/infra/observability"
	"github.com/alma-care/alma-bfa-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("infra/twilio")

const (
	serviceName    = "twilio"
	whatsappPrefix = "whatsapp:"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
}

// Client sends messages through the Twilio Messages API.
type Client struct {
	httpClient *http.Client
	opts       Options
	cb         *gobreaker.CircuitBreaker
	metrics    *observability.Metrics
}

// NewClient creates a new Twilio client.
func NewClient(httpClient *http.Client, opts Options, cb *gobreaker.CircuitBreaker, metrics *observability.Metrics) *Client {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	opts.From = withChannel(opts.From)
	return &Client{httpClient: httpClient, opts: opts, cb: cb, metrics: metrics}
}

// Send posts one message. Sends are not idempotent and are never retried.
func (c *Client) Send(ctx context.Context, to, body string) error {
	ctx, span := tracer.Start(ctx, "TwilioClient.Send")
	defer span.End()

	if c.opts.AccountSID == "" || c.opts.AuthToken == "" {
		return &domain.ErrExternalService{Service: serviceName, Err: errors.New("messaging credentials not configured")}
	}

	form := url.Values{}
	form.Set("From", c.opts.From)
	form.Set("To", withChannel(to))
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.opts.BaseURL, url.PathEscape(c.opts.AccountSID))

	_, err := c.cb.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, resilience.Permanent(err)
		}
		req.SetBasicAuth(c.opts.AccountSID, c.opts.AuthToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			var apiErr struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&apiErr)
			err := fmt.Errorf("twilio API returned status %d: %s", resp.StatusCode, apiErr.Message)
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return nil, resilience.Permanent(err)
			}
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		c.metrics.IncrExternalError(serviceName)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &domain.ErrCircuitOpen{Service: serviceName}
		}
		return &domain.ErrExternalService{Service: serviceName, Err: err}
	}
	return nil
}

func withChannel(phone string) string {
	if phone == "" || strings.HasPrefix(phone, whatsappPrefix) {
		return phone
	}
	return whatsappPrefix + phone
}
