package domain

import "github.com/shopspring/decimal"

// BankAccount is an account visible through the open-banking link.
type BankAccount struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Currency    string `json:"currency,omitempty"`
}

// Balance is a point-in-time balance for one account.
type Balance struct {
	AccountID string          `json:"account_id"`
	Available decimal.Decimal `json:"available"`
	Current   decimal.Decimal `json:"current"`
	Currency  string          `json:"currency"`
}

// BankToken is the result of an OAuth code exchange.
type BankToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// Overview combines balance and recent history for the home screen.
type Overview struct {
	Balance      *Balance            `json:"balance"`
	BalanceError string              `json:"balance_error,omitempty"`
	Recent       []TransactionRecord `json:"recent"`
	Carer        *CarerLink          `json:"carer,omitempty"`
}
