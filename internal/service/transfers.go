package service

import (
	"context"
	"errors"
	"strings"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/port"

	"github.com/shopspring/decimal"
)

// TransferMachine owns the draft → confirm/cancel protocol. A session holds
// at most one pending transfer; every transition goes through the session
// store's per-session lock, so a draft is consumed at most once even when
// two confirms race.
type TransferMachine struct {
	registry        *PayeeRegistry
	sessions        port.SessionStore
	defaultCurrency string
}

// NewTransferMachine creates the state machine.
func NewTransferMachine(registry *PayeeRegistry, sessions port.SessionStore, defaultCurrency string) *TransferMachine {
	return &TransferMachine{registry: registry, sessions: sessions, defaultCurrency: defaultCurrency}
}

// Draft stages a transfer, replacing any existing draft. On a validation
// failure the session is left untouched.
func (m *TransferMachine) Draft(ctx context.Context, sessionID, label string, amount decimal.Decimal, currency string) (*domain.PendingTransfer, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, &domain.ErrValidation{Field: "payee_label", Message: "is required"}
	}
	if _, err := minorUnits(amount); err != nil {
		return nil, err
	}
	payee, err := m.registry.Resolve(label)
	if err != nil {
		return nil, err
	}

	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = m.defaultCurrency
	}
	draft := &domain.PendingTransfer{
		PayeeLabel:  payee.Label,
		PayeeType:   payee.Type,
		Destination: payee.Destination,
		Amount:      amount,
		Currency:    currency,
	}

	if _, err := m.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
		d := *draft
		s.Pending = &d
		return nil
	}); err != nil {
		return nil, err
	}
	return draft, nil
}

// Consume removes and returns the pending transfer together with the
// session as it was before removal. With no draft it returns a nil
// transfer and changes nothing. A session without a payments customer is
// refused and keeps its draft.
func (m *TransferMachine) Consume(ctx context.Context, sessionID string) (*domain.Session, *domain.PendingTransfer, error) {
	var (
		before  *domain.Session
		pending *domain.PendingTransfer
	)
	_, err := m.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
		before = s.Clone()
		if s.Pending == nil {
			return errNothingPending
		}
		if s.CustomerID == "" {
			return &domain.ErrUnauthorized{Message: "no payments customer linked to this session"}
		}
		pending = s.Pending
		s.Pending = nil
		return nil
	})
	if errors.Is(err, errNothingPending) {
		return before, nil, nil
	}
	if err != nil {
		return before, nil, err
	}
	return before, pending, nil
}

// Cancel drops any pending transfer. It reports whether one existed.
func (m *TransferMachine) Cancel(ctx context.Context, sessionID string) (bool, error) {
	had := false
	_, err := m.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
		had = s.Pending != nil
		s.Pending = nil
		return nil
	})
	return had, err
}

var errNothingPending = errors.New("no pending transfer")
