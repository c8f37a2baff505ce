package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for consistent error handling across Alma.

// ErrorKind is the caller-facing classification of a failure.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindConfiguration  ErrorKind = "configuration"
	KindAuthentication ErrorKind = "authentication"
	KindDeclined       ErrorKind = "declined"
	KindUnavailable    ErrorKind = "unavailable"
	KindNotFound       ErrorKind = "not_found"
	KindConflict       ErrorKind = "conflict"
	KindInternal       ErrorKind = "internal"
)

// ErrValidation indicates bad input. Nothing was changed.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnknownPayee indicates a payee label that is not in the catalogue.
type ErrUnknownPayee struct {
	Label   string
	Allowed []string
}

func (e *ErrUnknownPayee) Error() string {
	return fmt.Sprintf("unknown payee %q (allowed: %s)", e.Label, strings.Join(e.Allowed, ", "))
}

// ErrConfiguration indicates a catalogue entry that exists but cannot be paid yet.
type ErrConfiguration struct {
	Payee   string
	Message string
}

func (e *ErrConfiguration) Error() string {
	return fmt.Sprintf("payee %q is not configured: %s", e.Payee, e.Message)
}

// ErrUnauthorized indicates a missing session or customer identity.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrDeclined indicates the payments provider explicitly refused the charge.
// PaymentIntentID is the id the provider's webhooks refer to; ChargeID is
// the underlying charge attempt.
type ErrDeclined struct {
	Reason          string
	ChargeID        string
	PaymentIntentID string
}

func (e *ErrDeclined) Error() string {
	return fmt.Sprintf("payment declined: %s", e.Reason)
}

// Reference is the id the declined payment is logged under: the payment
// intent when known, so webhooks for it find the same record.
func (e *ErrDeclined) Reference() string {
	if e.PaymentIntentID != "" {
		return e.PaymentIntentID
	}
	return e.ChargeID
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrConflict indicates a resource already exists.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrClassification indicates the intent classifier returned output that
// could not be parsed. Raw keeps the original text for the repair prompt.
type ErrClassification struct {
	Raw    string
	Reason string
}

func (e *ErrClassification) Error() string {
	return fmt.Sprintf("unparseable classifier output: %s", e.Reason)
}

// KindOf maps any error onto the caller-facing taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var (
		validation   *ErrValidation
		unknownPayee *ErrUnknownPayee
		configErr    *ErrConfiguration
		unauthorized *ErrUnauthorized
		declined     *ErrDeclined
		external     *ErrExternalService
		circuitOpen  *ErrCircuitOpen
		timeout      *ErrTimeout
		notFound     *ErrNotFound
		conflict     *ErrConflict
	)

	switch {
	case errors.As(err, &validation), errors.As(err, &unknownPayee):
		return KindValidation
	case errors.As(err, &configErr):
		return KindConfiguration
	case errors.As(err, &unauthorized):
		return KindAuthentication
	case errors.As(err, &declined):
		return KindDeclined
	case errors.As(err, &external), errors.As(err, &circuitOpen), errors.As(err, &timeout):
		return KindUnavailable
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &conflict):
		return KindConflict
	default:
		return KindInternal
	}
}

// Sentinels for the bank-link flow, comparable with errors.Is.
var (
	ErrBankNotLinked = &ErrValidation{Field: "bank", Message: "bank account not linked"}
	ErrNoBankAccount = &ErrNotFound{Resource: "bank account", ID: "primary"}
)
