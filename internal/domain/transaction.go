package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxnSent     TransactionType = "SENT"
	TxnReceived TransactionType = "RECEIVED"
	TxnTransfer TransactionType = "TRANSFER"
	TxnPayment  TransactionType = "PAYMENT"
)

type TransactionStatus string

const (
	TxnPending   TransactionStatus = "PENDING"
	TxnCompleted TransactionStatus = "COMPLETED"
	TxnFailed    TransactionStatus = "FAILED"
	TxnInitiated TransactionStatus = "initiated"
)

// ParseTransactionStatus validates a status supplied by a caller.
func ParseTransactionStatus(s string) (TransactionStatus, bool) {
	switch st := TransactionStatus(s); st {
	case TxnPending, TxnCompleted, TxnFailed, TxnInitiated:
		return st, true
	}
	return "", false
}

// TransactionRecord is one entry of the append-only history log. It is not
// a balance ledger.
type TransactionRecord struct {
	ID          string            `json:"transaction_id"`
	UserID      string            `json:"user_id"`
	Type        TransactionType   `json:"type"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	FromAccount string            `json:"from_account,omitempty"`
	ToAccount   string            `json:"to_account,omitempty"`
	Description string            `json:"description"`
	Status      TransactionStatus `json:"status"`
	ChargeID    string            `json:"charge_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
