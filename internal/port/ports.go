// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/alma-care/alma-bfa-go/internal/domain"
)

// ============================================================
// Collaborators
// ============================================================

// PaymentsProvider submits charges and reports their fraud signal.
type PaymentsProvider interface {
	CreateCustomer(ctx context.Context, name, email string) (string, error)
	// SubmitCharge is not idempotent unless req.IdempotencyKey is set.
	// An explicit refusal is reported as *domain.ErrDeclined.
	SubmitCharge(ctx context.Context, req *domain.ChargeRequest) (*domain.Charge, error)
	GetRiskSignal(ctx context.Context, chargeID string) (*domain.RiskSignal, error)
}

// EventParser verifies and decodes a payments-provider webhook delivery.
type EventParser interface {
	ParseEvent(payload []byte, signatureHeader string) (*domain.PaymentEvent, error)
}

// BankingProvider reads account data through an open-banking link.
type BankingProvider interface {
	AuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*domain.BankToken, error)
	GetAccounts(ctx context.Context, token string) ([]domain.BankAccount, error)
	GetBalance(ctx context.Context, accountID, token string) (*domain.Balance, error)
}

// Messenger delivers a text message to a phone number.
type Messenger interface {
	Send(ctx context.Context, to, body string) error
}

// IntentClassifier turns a free-text chat turn into an intent.
// Unparseable output is reported as *domain.ErrClassification.
type IntentClassifier interface {
	Classify(ctx context.Context, req *domain.ClassifyRequest) (*domain.Classification, error)
	Repair(ctx context.Context, raw string) (*domain.Classification, error)
}

// ============================================================
// Repositories
// ============================================================

// SessionStore holds per-user session state. Update runs fn under a
// per-session lock and persists the result only when fn returns nil.
type SessionStore interface {
	Create(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Update(ctx context.Context, id string, fn func(*domain.Session) error) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
}

// UserRepository stores account holders.
type UserRepository interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// TransactionRepository is the append-only transaction history.
type TransactionRepository interface {
	AppendTransaction(ctx context.Context, rec *domain.TransactionRecord) error
	GetTransaction(ctx context.Context, id string) (*domain.TransactionRecord, error)
	FindByChargeID(ctx context.Context, chargeID string) (*domain.TransactionRecord, error)
	// ListTransactions returns the newest records first. limit <= 0 means all.
	ListTransactions(ctx context.Context, userID string, limit int) ([]domain.TransactionRecord, error)
	UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus) (*domain.TransactionRecord, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
