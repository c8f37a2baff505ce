// Package gemini classifies chat turns with the Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/infra/observability"
	"github.com/alma-care/alma-bfa-go/internal/infra/resilience"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("infra/gemini")

const serviceName = "gemini"

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// Options configures a Client.
type Options struct {
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
}

// Client implements the intent classifier port.
type Client struct {
	httpClient *http.Client
	opts       Options
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewClient creates a new Gemini client.
func NewClient(httpClient *http.Client, opts Options, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *Client {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{httpClient: httpClient, opts: opts, cb: cb, cfg: cfg, metrics: metrics, logger: logger}
}

// ============================================================
// Wire types
// ============================================================

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// intentPayload is the JSON object the model is asked to return.
type intentPayload struct {
	Intent       string           `json:"intent"`
	AssistantSay string           `json:"assistant_say"`
	PayeeLabel   string           `json:"payee_label"`
	Amount       *decimal.Decimal `json:"amount"`
	Currency     string           `json:"currency"`
	Choices      []string         `json:"choices"`
}

// ============================================================
// IntentClassifier
// ============================================================

// Classify asks the model for an intent. Output that cannot be parsed is
// returned as *domain.ErrClassification carrying the raw text.
func (c *Client) Classify(ctx context.Context, req *domain.ClassifyRequest) (*domain.Classification, error) {
	ctx, span := tracer.Start(ctx, "GeminiClient.Classify")
	defer span.End()

	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}
	raw, model, err := c.generateWithFallback(ctx, prompt)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("gemini.model", model))

	cls, err := parseClassification(raw)
	if err != nil {
		return nil, err
	}
	cls.Model = model
	return cls, nil
}

// Repair asks the model to correct its own malformed output once.
func (c *Client) Repair(ctx context.Context, raw string) (*domain.Classification, error) {
	ctx, span := tracer.Start(ctx, "GeminiClient.Repair")
	defer span.End()

	prompt := "You returned invalid JSON. Return ONLY ONE corrected JSON object that matches the schema.\n" +
		"Original output:\n" + raw
	fixed, model, err := c.generateWithFallback(ctx, prompt)
	if err != nil {
		return nil, err
	}
	cls, err := parseClassification(fixed)
	if err != nil {
		return nil, err
	}
	cls.Model = model
	cls.Repaired = true
	return cls, nil
}

// schemaDescription lists every intent the model may answer with.
const schemaDescription = `{"CHECK_BALANCE":{"intent":"CHECK_BALANCE","assistant_say":"string"},` +
	`"TRANSFER_DRAFT":{"intent":"TRANSFER_DRAFT","payee_label":"string","amount":"number","currency":"EUR","assistant_say":"string"},` +
	`"CONFIRM":{"intent":"CONFIRM","assistant_say":"string"},` +
	`"CANCEL":{"intent":"CANCEL","assistant_say":"string"},` +
	`"CLARIFY":{"intent":"CLARIFY","assistant_say":"string","choices":["optional","array","of","strings"]},` +
	`"HELP":{"intent":"HELP","assistant_say":"string"}}`

func buildPrompt(req *domain.ClassifyRequest) (string, error) {
	payees, err := json.Marshal(req.AllowedPayees)
	if err != nil {
		return "", err
	}
	pending, err := json.Marshal(req.Pending)
	if err != nil {
		return "", err
	}
	transcript, err := json.Marshal(req.Transcript)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("You are an intent classifier for a banking voice assistant called Alma.\n")
	b.WriteString("Return ONLY JSON. No markdown, no explanation.\n")
	b.WriteString("Valid intents and shape:\n")
	b.WriteString(schemaDescription)
	b.WriteString("\nRules: if user asks to send/transfer money, use TRANSFER_DRAFT. ")
	b.WriteString("Use exact payee label when possible. If ambiguous, choose CLARIFY.\n")
	fmt.Fprintf(&b, "payees_allowed=%s\n", payees)
	fmt.Fprintf(&b, "pending_transfer=%s\n", pending)
	fmt.Fprintf(&b, "transcript=%s\n", transcript)
	return b.String(), nil
}

// parseClassification extracts the outermost JSON object from model text.
func parseClassification(raw string) (*domain.Classification, error) {
	match := jsonObject.FindString(raw)
	if match == "" {
		return nil, &domain.ErrClassification{Raw: raw, Reason: "no JSON object in output"}
	}
	var p intentPayload
	if err := json.Unmarshal([]byte(match), &p); err != nil {
		return nil, &domain.ErrClassification{Raw: raw, Reason: err.Error()}
	}
	name := strings.ToUpper(strings.TrimSpace(p.Intent))
	if name == "" {
		return nil, &domain.ErrClassification{Raw: raw, Reason: "missing intent"}
	}

	cls := &domain.Classification{Say: strings.TrimSpace(p.AssistantSay), Raw: raw}
	switch name {
	case "CHECK_BALANCE":
		cls.Intent = domain.CheckBalance{}
	case "TRANSFER_DRAFT":
		draft := domain.TransferDraft{PayeeLabel: strings.TrimSpace(p.PayeeLabel), Currency: strings.ToUpper(p.Currency)}
		if p.Amount != nil {
			draft.Amount = *p.Amount
		}
		cls.Intent = draft
	case "CONFIRM":
		cls.Intent = domain.Confirm{}
	case "CANCEL":
		cls.Intent = domain.Cancel{}
	case "CLARIFY":
		cls.Intent = domain.Clarify{Choices: p.Choices}
	case "HELP":
		cls.Intent = domain.Help{}
	default:
		cls.Intent = domain.Unrecognized{Name: name}
	}
	return cls, nil
}

// ============================================================
// Transport
// ============================================================

// generateWithFallback tries the primary model, then the fallback model.
func (c *Client) generateWithFallback(ctx context.Context, prompt string) (string, string, error) {
	text, err := c.generate(ctx, c.opts.Model, prompt)
	if err == nil {
		return text, c.opts.Model, nil
	}
	if c.opts.FallbackModel == "" || c.opts.FallbackModel == c.opts.Model {
		return "", "", c.wrap(err)
	}
	c.logger.Warn("primary classifier model failed, trying fallback",
		zap.String("model", c.opts.Model),
		zap.String("fallback", c.opts.FallbackModel),
		zap.Error(err),
	)
	text, err = c.generate(ctx, c.opts.FallbackModel, prompt)
	if err != nil {
		return "", "", c.wrap(err)
	}
	return text, c.opts.FallbackModel, nil
}

func (c *Client) generate(ctx context.Context, model, prompt string) (string, error) {
	if c.opts.APIKey == "" {
		return "", errors.New("classifier API key not configured")
	}
	body, err := json.Marshal(generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}})
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.opts.BaseURL, url.PathEscape(model), url.QueryEscape(c.opts.APIKey))

	result, err := c.cb.Execute(func() (any, error) {
		var out generateResponse
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
			if err != nil {
				return resilience.Permanent(err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("gemini API returned status %d", resp.StatusCode)
				if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return resilience.Permanent(err)
				}
				return err
			}
			return json.NewDecoder(resp.Body).Decode(&out)
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return &out, nil
	})
	if err != nil {
		return "", err
	}

	var text strings.Builder
	if out := result.(*generateResponse); len(out.Candidates) > 0 {
		for _, p := range out.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
	}
	return text.String(), nil
}

func (c *Client) wrap(err error) error {
	c.metrics.IncrExternalError(serviceName)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: serviceName}
	}
	return &domain.ErrExternalService{Service: serviceName, Err: err}
}
