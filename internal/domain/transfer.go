package domain

import "github.com/shopspring/decimal"

// PendingTransfer is a drafted conversational transfer awaiting confirmation.
// A session holds at most one.
type PendingTransfer struct {
	PayeeLabel  string          `json:"payee_label"`
	PayeeType   PayeeType       `json:"payee_type"`
	Destination string          `json:"-"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

// Payee rebuilds the catalogue entry captured at draft time.
func (p PendingTransfer) Payee() Payee {
	return Payee{Label: p.PayeeLabel, Type: p.PayeeType, Destination: p.Destination}
}

// PaymentRequest is the input to the payment executor.
type PaymentRequest struct {
	CustomerID     string
	Amount         decimal.Decimal
	Currency       string
	Payee          Payee
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
	PaymentMethod  string // optional test card token; submits and confirms in one call
}

// ExecutionResult is the outcome of a submitted payment.
type ExecutionResult struct {
	ChargeID     string          `json:"charge_id"`
	ClientSecret string          `json:"client_secret,omitempty"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	PayeeLabel   string          `json:"payee,omitempty"`
	Risk         *RiskAssessment `json:"risk"`
}

// Blocked reports whether risk evaluation stopped the payment.
func (r *ExecutionResult) Blocked() bool {
	return r != nil && r.Risk != nil && r.Risk.ShouldBlock
}

// ChargeRequest is what the payments provider receives.
type ChargeRequest struct {
	CustomerID     string
	AmountMinor    int64
	Currency       string
	Description    string
	Metadata       map[string]string
	Destination    string // routed-destination charge when non-empty
	IdempotencyKey string
	PaymentMethod  string
}

// Charge is the provider's view of a submitted charge.
type Charge struct {
	ID             string
	ClientSecret   string
	Status         string
	LatestChargeID string
}
