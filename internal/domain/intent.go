package domain

import "github.com/shopspring/decimal"

// Intent is a classified chat turn. The set of variants is closed: every
// implementation lives in this file and dispatch switches on the concrete type.
type Intent interface {
	IntentName() string
	sealedIntent()
}

type CheckBalance struct{}

type TransferDraft struct {
	PayeeLabel string
	Amount     decimal.Decimal
	Currency   string
}

type Confirm struct{}

type Cancel struct{}

type Clarify struct {
	Choices []string
}

type Help struct{}

// Unrecognized carries an intent name outside the known set.
type Unrecognized struct {
	Name string
}

func (CheckBalance) IntentName() string { return "CHECK_BALANCE" }
func (TransferDraft) IntentName() string { return "TRANSFER_DRAFT" }
func (Confirm) IntentName() string { return "CONFIRM" }
func (Cancel) IntentName() string { return "CANCEL" }
func (Clarify) IntentName() string { return "CLARIFY" }
func (Help) IntentName() string { return "HELP" }
func (u Unrecognized) IntentName() string {
	if u.Name == "" {
		return "UNKNOWN"
	}
	return u.Name
}

func (CheckBalance) sealedIntent() {}
func (TransferDraft) sealedIntent() {}
func (Confirm) sealedIntent() {}
func (Cancel) sealedIntent() {}
func (Clarify) sealedIntent() {}
func (Help) sealedIntent() {}
func (Unrecognized) sealedIntent() {}

// ClassifyRequest is the context handed to the intent classifier.
type ClassifyRequest struct {
	Transcript    string
	AllowedPayees []string
	Pending       *PendingTransfer
}

// Classification is a parsed classifier answer. Say is the classifier's own
// suggested reply and may be empty.
type Classification struct {
	Intent   Intent
	Say      string
	Model    string
	Raw      string
	Repaired bool
}
