// Package memory keeps users and the transaction log in process memory.
// Records are copied in and out so callers never share state with the store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/alma-care/alma-bfa-go/internal/domain"
)

// Store implements the user and transaction repositories.
type Store struct {
	mu      sync.RWMutex
	users   map[string]domain.User // by id
	byEmail map[string]string      // email -> id
	txns    map[string]domain.TransactionRecord
	order   []string // insertion order of txns
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:   make(map[string]domain.User),
		byEmail: make(map[string]string),
		txns:    make(map[string]domain.TransactionRecord),
	}
}

// ============================================================
// Users
// ============================================================

func (s *Store) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, taken := s.byEmail[email]; taken {
		return &domain.ErrConflict{Message: "an account with this email already exists"}
	}
	s.users[u.ID] = *u
	s.byEmail[email] = u.ID
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "user", ID: email}
	}
	u := s.users[id]
	return &u, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "user", ID: id}
	}
	return &u, nil
}

// ============================================================
// Transactions
// ============================================================

func (s *Store) AppendTransaction(_ context.Context, rec *domain.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.txns[rec.ID]; dup {
		return &domain.ErrConflict{Message: "transaction " + rec.ID + " already exists"}
	}
	s.txns[rec.ID] = *rec
	s.order = append(s.order, rec.ID)
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.txns[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: id}
	}
	return &rec, nil
}

func (s *Store) FindByChargeID(_ context.Context, chargeID string) (*domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if chargeID != "" {
		for i := len(s.order) - 1; i >= 0; i-- {
			if rec := s.txns[s.order[i]]; rec.ChargeID == chargeID {
				return &rec, nil
			}
		}
	}
	return nil, &domain.ErrNotFound{Resource: "transaction", ID: chargeID}
}

func (s *Store) ListTransactions(_ context.Context, userID string, limit int) ([]domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TransactionRecord, 0)
	for _, id := range s.order {
		if rec := s.txns[id]; rec.UserID == userID {
			out = append(out, rec)
		}
	}
	SortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateTransactionStatus(_ context.Context, id string, status domain.TransactionStatus) (*domain.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.txns[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: id}
	}
	rec.Status = status
	s.txns[id] = rec
	return &rec, nil
}

// SortNewestFirst orders records by creation time, newest first. Ties keep
// their relative order reversed so later appends come first.
func SortNewestFirst(recs []domain.TransactionRecord) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	sort.SliceStable(recs, func(a, b int) bool {
		return recs[a].CreatedAt.After(recs[b].CreatedAt)
	})
}
