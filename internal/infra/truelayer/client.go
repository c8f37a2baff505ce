// Package truelayer is the open-banking adapter: OAuth bank linking and
// read-only account data.
package truelayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/infra/observability"
	"github.com/alma-care/alma-bfa-go/internal/infra/resilience"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
)

var tracer = otel.Tracer("infra/truelayer")

const serviceName = "truelayer"

// Scopes requested when linking a bank.
var Scopes = []string{"info", "accounts", "transactions", "balance", "offline_access"}

// Options configures a Client.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	APIURL       string
	Providers    string
}

// Client implements the banking data port on top of TrueLayer.
type Client struct {
	httpClient *http.Client
	oauth      *oauth2.Config
	apiURL     string
	providers  string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	metrics    *observability.Metrics
}

// NewClient creates a new TrueLayer client.
func NewClient(httpClient *http.Client, opts Options, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics) *Client {
	authURL := strings.TrimRight(opts.AuthURL, "/")
	providers := opts.Providers
	if providers == "" {
		providers = "ie-ob-all"
	}
	return &Client{
		httpClient: httpClient,
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURI,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL + "/",
				TokenURL:  authURL + "/connect/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiURL:    strings.TrimRight(opts.APIURL, "/"),
		providers: providers,
		cb:        cb,
		cfg:       cfg,
		metrics:   metrics,
	}
}

type accountsResponse struct {
	Results []struct {
		AccountID   string `json:"account_id"`
		DisplayName string `json:"display_name"`
		Currency    string `json:"currency"`
	} `json:"results"`
}

type balanceResponse struct {
	Results []struct {
		Currency  string          `json:"currency"`
		Available decimal.Decimal `json:"available"`
		Current   decimal.Decimal `json:"current"`
	} `json:"results"`
}

// AuthURL returns the consent page the user is redirected to.
func (c *Client) AuthURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("providers", c.providers))
}

// ExchangeCode swaps an authorization code for tokens. Codes are single
// use, so the exchange is never retried.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*domain.BankToken, error) {
	ctx, span := tracer.Start(ctx, "TrueLayerClient.ExchangeCode")
	defer span.End()

	result, err := c.cb.Execute(func() (any, error) {
		tok, err := c.oauth.Exchange(c.oauthContext(ctx), code)
		if err != nil {
			var re *oauth2.RetrieveError
			if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
				return nil, resilience.Permanent(&domain.ErrValidation{Field: "code", Message: "authorization code was rejected"})
			}
			return nil, err
		}
		return tok, nil
	})
	if err != nil {
		return nil, c.wrap(err)
	}

	tok := result.(*oauth2.Token)
	bt := &domain.BankToken{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if !tok.Expiry.IsZero() {
		bt.ExpiresIn = int(time.Until(tok.Expiry).Seconds())
	}
	return bt, nil
}

// GetAccounts lists the accounts visible to token.
func (c *Client) GetAccounts(ctx context.Context, token string) ([]domain.BankAccount, error) {
	ctx, span := tracer.Start(ctx, "TrueLayerClient.GetAccounts")
	defer span.End()

	var out accountsResponse
	if err := c.get(ctx, "/data/v1/accounts", token, &out); err != nil {
		return nil, err
	}

	accounts := make([]domain.BankAccount, 0, len(out.Results))
	for _, r := range out.Results {
		accounts = append(accounts, domain.BankAccount{AccountID: r.AccountID, DisplayName: r.DisplayName, Currency: r.Currency})
	}
	span.SetAttributes(attribute.Int("accounts.count", len(accounts)))
	return accounts, nil
}

// GetBalance reads the balance of one account.
func (c *Client) GetBalance(ctx context.Context, accountID, token string) (*domain.Balance, error) {
	ctx, span := tracer.Start(ctx, "TrueLayerClient.GetBalance")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	var out balanceResponse
	if err := c.get(ctx, "/data/v1/accounts/"+url.PathEscape(accountID)+"/balance", token, &out); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, &domain.ErrNotFound{Resource: "balance", ID: accountID}
	}
	r := out.Results[0]
	return &domain.Balance{AccountID: accountID, Available: r.Available, Current: r.Current, Currency: r.Currency}, nil
}

// get performs a retried bearer-authenticated read.
func (c *Client) get(ctx context.Context, path, token string, out any) error {
	httpClient := c.oauth.Client(c.oauthContext(ctx), &oauth2.Token{AccessToken: token, TokenType: "Bearer"})

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
			if err != nil {
				return resilience.Permanent(err)
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusUnauthorized:
				return resilience.Permanent(&domain.ErrUnauthorized{Message: "bank link expired, please link your bank again"})
			case resp.StatusCode == http.StatusNotFound:
				return resilience.Permanent(&domain.ErrNotFound{Resource: "bank resource", ID: path})
			case resp.StatusCode != http.StatusOK:
				return fmt.Errorf("truelayer API returned status %d", resp.StatusCode)
			}
			return json.NewDecoder(resp.Body).Decode(out)
		})
	})
	if err != nil {
		return c.wrap(err)
	}
	return nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// wrap keeps caller-actionable domain errors and reports everything else
// as the collaborator being unavailable.
func (c *Client) wrap(err error) error {
	var (
		validation   *domain.ErrValidation
		unauthorized *domain.ErrUnauthorized
		notFound     *domain.ErrNotFound
	)
	switch {
	case errors.As(err, &validation):
		return validation
	case errors.As(err, &unauthorized):
		return unauthorized
	case errors.As(err, &notFound):
		return notFound
	}
	c.metrics.IncrExternalError(serviceName)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: serviceName}
	}
	return &domain.ErrExternalService{Service: serviceName, Err: err}
}
