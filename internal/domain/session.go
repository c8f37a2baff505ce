package domain

import "time"

// CarerLink is the trusted contact who receives alerts for a user.
type CarerLink struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// BankLink holds the open-banking tokens obtained at link time.
type BankLink struct {
	AccessToken      string    `json:"-"`
	RefreshToken     string    `json:"-"`
	ExpiresAt        time.Time `json:"expires_at"`
	PrimaryAccountID string    `json:"primary_account_id,omitempty"`
}

// Session is the per-user state a request operates on. Services receive a
// copy and write changes back through the session store.
type Session struct {
	ID           string
	UserID       string
	UserName     string
	Email        string
	CustomerID   string
	Carer        *CarerLink
	Pending      *PendingTransfer
	Bank         *BankLink
	CardholderID string
	CardID       string
	CreatedAt    time.Time
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Carer != nil {
		carer := *s.Carer
		c.Carer = &carer
	}
	if s.Pending != nil {
		p := *s.Pending
		c.Pending = &p
	}
	if s.Bank != nil {
		b := *s.Bank
		c.Bank = &b
	}
	return &c
}

// DisplayName is how alerts refer to the user.
func (s *Session) DisplayName() string {
	if s.UserName == "" {
		return "the account holder"
	}
	return s.UserName
}

// CarerPhone returns the linked carer's phone, or "" when none is linked.
func (s *Session) CarerPhone() string {
	if s.Carer == nil {
		return ""
	}
	return s.Carer.Phone
}

// SessionState is the diagnostic view returned by GET /v1/chat/state.
type SessionState struct {
	HasCustomer      bool             `json:"has_customer"`
	HasBankToken     bool             `json:"has_bank_token"`
	PrimaryAccountID string           `json:"primary_account_id,omitempty"`
	PendingTransfer  *PendingTransfer `json:"pending_transfer"`
	CarerLinked      bool             `json:"carer_linked"`
	UserName         string           `json:"user_name,omitempty"`
}

// State projects the session onto its diagnostic view.
func (s *Session) State() SessionState {
	st := SessionState{
		HasCustomer:     s.CustomerID != "",
		HasBankToken:    s.Bank != nil && s.Bank.AccessToken != "",
		PendingTransfer: s.Pending,
		CarerLinked:     s.CarerPhone() != "",
		UserName:        s.UserName,
	}
	if s.Bank != nil {
		st.PrimaryAccountID = s.Bank.PrimaryAccountID
	}
	return st
}
