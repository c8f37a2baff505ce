package service

import (
	"context"
	"fmt"
	"time"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var bankingTracer = otel.Tracer("service/banking")

// BankingService wraps the open-banking link stored in a session.
type BankingService struct {
	provider port.BankingProvider
	sessions port.SessionStore
	history  *HistoryService
	discover singleflight.Group
	logger   *zap.Logger
}

// NewBankingService creates the banking service.
func NewBankingService(provider port.BankingProvider, sessions port.SessionStore, history *HistoryService, logger *zap.Logger) *BankingService {
	return &BankingService{provider: provider, sessions: sessions, history: history, logger: logger}
}

// AuthURL returns the consent URL the user opens to link their bank.
func (b *BankingService) AuthURL() (url, state string) {
	state = uuid.NewString()
	return b.provider.AuthURL(state), state
}

// Link exchanges an OAuth code and stores the tokens in the session.
// Any previously discovered primary account is forgotten.
func (b *BankingService) Link(ctx context.Context, sessionID, code string) error {
	ctx, span := bankingTracer.Start(ctx, "BankingService.Link")
	defer span.End()

	if code == "" {
		return &domain.ErrValidation{Field: "code", Message: "is required"}
	}
	tok, err := b.provider.ExchangeCode(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}

	_, err = b.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
		s.Bank = &domain.BankLink{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			ExpiresAt:    time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
		}
		return nil
	})
	return err
}

// Balance returns the primary account's balance. The primary account is
// discovered once per session and cached there.
func (b *BankingService) Balance(ctx context.Context, sessionID string) (*domain.Balance, error) {
	ctx, span := bankingTracer.Start(ctx, "BankingService.Balance")
	defer span.End()

	sess, err := b.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Bank == nil || sess.Bank.AccessToken == "" {
		return nil, domain.ErrBankNotLinked
	}

	accountID := sess.Bank.PrimaryAccountID
	if accountID == "" {
		accountID, err = b.primaryAccount(ctx, sessionID, sess.Bank.AccessToken)
		if err != nil {
			return nil, err
		}
	}

	bal, err := b.provider.GetBalance(ctx, accountID, sess.Bank.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return bal, nil
}

// primaryAccount picks the first account the provider lists. Concurrent
// callers for the same session share one lookup.
func (b *BankingService) primaryAccount(ctx context.Context, sessionID, token string) (string, error) {
	v, err, _ := b.discover.Do(sessionID, func() (any, error) {
		accounts, err := b.provider.GetAccounts(ctx, token)
		if err != nil {
			return "", fmt.Errorf("get accounts: %w", err)
		}
		if len(accounts) == 0 {
			return "", domain.ErrNoBankAccount
		}
		id := accounts[0].AccountID

		if _, err := b.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
			if s.Bank != nil {
				s.Bank.PrimaryAccountID = id
			}
			return nil
		}); err != nil {
			b.logger.Warn("could not cache primary account", zap.Error(err))
		}
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Overview loads balance and recent history concurrently. A balance failure
// is reported inside the overview rather than failing it.
func (b *BankingService) Overview(ctx context.Context, sessionID string, recent int) (*domain.Overview, error) {
	ctx, span := bankingTracer.Start(ctx, "BankingService.Overview")
	defer span.End()

	sess, err := b.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := &domain.Overview{Carer: sess.Carer}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bal, err := b.Balance(gctx, sessionID)
		if err != nil {
			out.BalanceError = err.Error()
			return nil
		}
		out.Balance = bal
		return nil
	})
	g.Go(func() error {
		recs, err := b.history.List(gctx, sess.UserID, recent)
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
		out.Recent = recs
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if out.Recent == nil {
		out.Recent = []domain.TransactionRecord{}
	}
	return out, nil
}
