package domain

// Reply is what every core operation hands back to the caller: a sentence
// for the user plus optional structured data. Kind is set when the
// operation failed.
type Reply struct {
	Intent           string    `json:"intent,omitempty"`
	AssistantMessage string    `json:"assistant_message"`
	Data             any       `json:"data"`
	Kind             ErrorKind `json:"kind,omitempty"`
}

// DraftResult is the structured payload of a successful draft.
type DraftResult struct {
	PendingTransfer *PendingTransfer `json:"pending_transfer"`
}

// PaymentOutcome is the structured payload of an executed payment.
type PaymentOutcome struct {
	*ExecutionResult
	TransactionID    string `json:"transaction_id,omitempty"`
	FraudAlertSent   bool   `json:"fraud_alert_sent"`
	LargePaymentSent bool   `json:"large_payment_alert_sent"`
	FailureAlertSent bool   `json:"failure_alert_sent,omitempty"`
}
