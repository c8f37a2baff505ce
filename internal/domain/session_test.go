package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSessionClone_IsDeep(t *testing.T) {
	s := &Session{
		ID:      "s1",
		Carer:   &CarerLink{Name: "Anne", Phone: "+353871234567"},
		Pending: &PendingTransfer{PayeeLabel: "Mary", Amount: decimal.NewFromInt(10)},
		Bank:    &BankLink{AccessToken: "at"},
	}
	c := s.Clone()

	c.Carer.Phone = "+1"
	c.Pending.PayeeLabel = "John"
	c.Bank.AccessToken = "other"

	if s.Carer.Phone != "+353871234567" || s.Pending.PayeeLabel != "Mary" || s.Bank.AccessToken != "at" {
		t.Errorf("clone shares state with the original: %+v", s)
	}
	if (*Session)(nil).Clone() != nil {
		t.Error("expected nil clone of nil")
	}
}

func TestSessionState(t *testing.T) {
	s := &Session{CustomerID: "cus_1", Bank: &BankLink{AccessToken: "at", PrimaryAccountID: "acc"}}
	st := s.State()

	if !st.HasCustomer || !st.HasBankToken || st.PrimaryAccountID != "acc" || st.CarerLinked {
		t.Errorf("unexpected state %+v", st)
	}
	if s.DisplayName() != "the account holder" {
		t.Errorf("unexpected display name %q", s.DisplayName())
	}
}

func TestParseRiskLevel(t *testing.T) {
	for _, in := range []string{"normal", " Elevated ", "HIGHEST"} {
		if _, ok := ParseRiskLevel(in); !ok {
			t.Errorf("expected %q to parse", in)
		}
	}
	for _, in := range []string{"", "not_assessed", "unknown"} {
		if _, ok := ParseRiskLevel(in); ok {
			t.Errorf("expected %q to be rejected", in)
		}
	}
	if RiskUnknown.Severity() >= RiskNormal.Severity() {
		t.Error("unknown must sort below normal")
	}
}
