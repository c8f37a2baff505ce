package service

import (
	"fmt"
	"strings"

	"github.com/alma-care/alma-bfa-go/internal/domain"
)

// PayeeRegistry is the read-only catalogue of allowed payees. It is built
// once at startup and safe for concurrent reads.
type PayeeRegistry struct {
	payees  []domain.Payee
	byLabel map[string]int
}

// NewPayeeRegistry indexes payees by case-insensitive label. Duplicate
// labels are rejected.
func NewPayeeRegistry(payees []domain.Payee) (*PayeeRegistry, error) {
	r := &PayeeRegistry{
		payees:  make([]domain.Payee, len(payees)),
		byLabel: make(map[string]int, len(payees)),
	}
	copy(r.payees, payees)

	for i, p := range r.payees {
		key := strings.ToLower(p.Label)
		if _, dup := r.byLabel[key]; dup {
			return nil, fmt.Errorf("duplicate payee label %q", p.Label)
		}
		r.byLabel[key] = i
	}
	return r, nil
}

// Lookup finds a payee by exact, case-insensitive label.
func (r *PayeeRegistry) Lookup(label string) (domain.Payee, bool) {
	i, ok := r.byLabel[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return domain.Payee{}, false
	}
	return r.payees[i], true
}

// Resolve is Lookup that reports a miss as *domain.ErrUnknownPayee.
// Unconfigured person payees resolve fine; they fail at execution.
func (r *PayeeRegistry) Resolve(label string) (domain.Payee, error) {
	p, ok := r.Lookup(label)
	if !ok {
		return domain.Payee{}, &domain.ErrUnknownPayee{Label: label, Allowed: r.Labels()}
	}
	return p, nil
}

// Labels returns the labels in catalogue order.
func (r *PayeeRegistry) Labels() []string {
	out := make([]string, len(r.payees))
	for i, p := range r.payees {
		out[i] = p.Label
	}
	return out
}
