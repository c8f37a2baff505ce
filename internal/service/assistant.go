package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/infra/cache"
	"github.com/alma-care/alma-bfa-go/internal/infra/observability"
	"github.com/alma-care/alma-bfa-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("service/assistant")

// AssistantConfig carries the payment policy knobs.
type AssistantConfig struct {
	LargePaymentThreshold decimal.Decimal
	DefaultCurrency       string
	IdempotencyTTL        time.Duration
}

// PaymentInput is a structured payment request.
type PaymentInput struct {
	PayeeLabel     string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	IdempotencyKey string
	PaymentMethod  string
}

// idempotentOutcome is what the idempotency cache remembers per key.
// fingerprint identifies the request the key was first used with.
type idempotentOutcome struct {
	fingerprint string
	reply       *domain.Reply
	err         error
}

// errIdempotencyMismatch answers a key reused for a different payment.
var errIdempotencyMismatch = &domain.ErrConflict{
	Message: "This idempotency key was already used for a different payment. Please use a new key.",
}

// fingerprint reduces a payment request to the fields that decide what gets
// charged, so that equal amounts like 10 and 10.00 compare equal.
func (in PaymentInput) fingerprint(currency string) string {
	return strings.Join([]string{
		strings.ToLower(strings.TrimSpace(in.PayeeLabel)),
		in.Amount.String(),
		currency,
		strings.TrimSpace(in.Description),
		in.PaymentMethod,
	}, "|")
}

// Assistant is the conversation dispatcher and the entry point for every
// payment operation. It owns carer alerting after execution.
type Assistant struct {
	registry   *PayeeRegistry
	executor   *Executor
	transfers  *TransferMachine
	notifier   *Notifier
	classifier port.IntentClassifier
	banking    *BankingService
	history    *HistoryService
	sessions   port.SessionStore
	idem       port.Cache[idempotentOutcome]
	inflight   singleflight.Group
	cfg        AssistantConfig
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// AssistantDeps groups the collaborators of NewAssistant.
type AssistantDeps struct {
	Registry   *PayeeRegistry
	Executor   *Executor
	Transfers  *TransferMachine
	Notifier   *Notifier
	Classifier port.IntentClassifier
	Banking    *BankingService
	History    *HistoryService
	Sessions   port.SessionStore
}

// NewAssistant creates the assistant with all dependencies injected.
func NewAssistant(deps AssistantDeps, cfg AssistantConfig, metrics *observability.Metrics, logger *zap.Logger) *Assistant {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "EUR"
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	return &Assistant{
		registry:   deps.Registry,
		executor:   deps.Executor,
		transfers:  deps.Transfers,
		notifier:   deps.Notifier,
		classifier: deps.Classifier,
		banking:    deps.Banking,
		history:    deps.History,
		sessions:   deps.Sessions,
		idem:       cache.New[idempotentOutcome](cfg.IdempotencyTTL),
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
	}
}

// Close releases the idempotency cache's background sweeper.
func (a *Assistant) Close() {
	if c, ok := a.idem.(interface{ Close() }); ok {
		c.Close()
	}
}

// ListAllowedPayees returns the catalogue labels in order.
func (a *Assistant) ListAllowedPayees() []string {
	return a.registry.Labels()
}

// ============================================================
// Structured payments
// ============================================================

// CreatePayment charges the session's customer. Without a payee label it is
// a direct charge; with one it follows the payee's routing. A non-empty
// idempotency key makes repeats within the cache TTL return the first
// outcome, and concurrent repeats share a single submission. Reusing a key
// for a different payment is a conflict.
func (a *Assistant) CreatePayment(ctx context.Context, sessionID string, in PaymentInput) (*domain.Reply, error) {
	ctx, span := tracer.Start(ctx, "Assistant.CreatePayment")
	defer span.End()

	sess, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return ReplyForError(err), err
	}

	if in.IdempotencyKey == "" {
		return a.createPayment(ctx, sess, in)
	}

	key := sess.UserID + ":" + in.IdempotencyKey
	fp := in.fingerprint(a.currency(in.Currency))
	span.SetAttributes(attribute.String("payment.idempotency_key", in.IdempotencyKey))
	if cached, ok := a.idem.Get(key); ok {
		return a.replay(cached, fp)
	}

	v, _, shared := a.inflight.Do(key, func() (any, error) {
		if cached, ok := a.idem.Get(key); ok {
			return cached, nil
		}
		reply, err := a.createPayment(ctx, sess, in)
		out := idempotentOutcome{fingerprint: fp, reply: reply, err: err}
		if cacheable(err) {
			a.idem.Set(key, out)
		}
		return out, nil
	})
	out := v.(idempotentOutcome)
	if shared || out.fingerprint != fp {
		return a.replay(out, fp)
	}
	return out.reply, out.err
}

// replay answers from a stored outcome, refusing requests that differ from
// the one the key was first used with.
func (a *Assistant) replay(out idempotentOutcome, fp string) (*domain.Reply, error) {
	if out.fingerprint != fp {
		a.logger.Warn("idempotency key reused for a different payment")
		return ReplyForError(errIdempotencyMismatch), errIdempotencyMismatch
	}
	a.metrics.IncrIdempotentReplay()
	return out.reply, out.err
}

// cacheable keeps transient failures out of the idempotency cache so the
// caller can retry them with the same key.
func cacheable(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindUnavailable, domain.KindInternal:
		return false
	}
	return true
}

func (a *Assistant) createPayment(ctx context.Context, sess *domain.Session, in PaymentInput) (*domain.Reply, error) {
	payee := domain.Payee{Type: domain.PayeeMerchant}
	if strings.TrimSpace(in.PayeeLabel) != "" {
		p, err := a.registry.Resolve(in.PayeeLabel)
		if err != nil {
			return ReplyForError(err), err
		}
		payee = p
	}

	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		desc = "Payment"
		if payee.Label != "" {
			desc = "Payment to " + payee.Label
		}
	}

	return a.execute(ctx, sess, payee, in.Amount, a.currency(in.Currency), desc, in.IdempotencyKey, in.PaymentMethod)
}

// ============================================================
// Conversational transfers
// ============================================================

// DraftTransfer stages a transfer for later confirmation.
func (a *Assistant) DraftTransfer(ctx context.Context, sessionID, payeeLabel string, amount decimal.Decimal, currency string) (*domain.Reply, error) {
	ctx, span := tracer.Start(ctx, "Assistant.DraftTransfer")
	defer span.End()

	draft, err := a.transfers.Draft(ctx, sessionID, payeeLabel, amount, a.currency(currency))
	if err != nil {
		return ReplyForError(err), err
	}
	return &domain.Reply{
		AssistantMessage: draftMessage(draft),
		Data:             domain.DraftResult{PendingTransfer: draft},
	}, nil
}

// ConfirmTransfer executes the pending transfer. The draft is consumed
// before execution, so it cannot be replayed whatever the outcome.
func (a *Assistant) ConfirmTransfer(ctx context.Context, sessionID string) (*domain.Reply, error) {
	ctx, span := tracer.Start(ctx, "Assistant.ConfirmTransfer")
	defer span.End()

	sess, pending, err := a.transfers.Consume(ctx, sessionID)
	if err != nil {
		return ReplyForError(err), err
	}
	if pending == nil {
		return &domain.Reply{AssistantMessage: msgNothingToConfirm}, nil
	}

	return a.execute(ctx, sess, pending.Payee(), pending.Amount, pending.Currency,
		"Payment to "+pending.PayeeLabel, "", "")
}

// CancelTransfer drops any pending transfer. Cancelling nothing is fine.
func (a *Assistant) CancelTransfer(ctx context.Context, sessionID string) (*domain.Reply, error) {
	ctx, span := tracer.Start(ctx, "Assistant.CancelTransfer")
	defer span.End()

	had, err := a.transfers.Cancel(ctx, sessionID)
	if err != nil {
		return ReplyForError(err), err
	}
	return &domain.Reply{
		AssistantMessage: msgCancelled,
		Data:             map[string]bool{"cancelled": had},
	}, nil
}

// ============================================================
// Execution and alerting
// ============================================================

func (a *Assistant) execute(ctx context.Context, sess *domain.Session, payee domain.Payee, amount decimal.Decimal, currency, description, idemKey, paymentMethod string) (*domain.Reply, error) {
	start := time.Now()
	defer func() { a.metrics.RecordRequestDuration("payment", time.Since(start)) }()

	req := &domain.PaymentRequest{
		CustomerID:  sess.CustomerID,
		Amount:      amount,
		Currency:    currency,
		Payee:       payee,
		Description: description,
		Metadata: map[string]string{
			"carer_phone": sess.CarerPhone(),
			"carer_name":  carerName(sess),
			"user_name":   sess.DisplayName(),
			"user_id":     sess.UserID,
		},
		IdempotencyKey: idemKey,
		PaymentMethod:  paymentMethod,
	}

	result, err := a.executor.Execute(ctx, req)
	if err != nil {
		return a.settleFailure(ctx, sess, req, err)
	}
	return a.settleSuccess(ctx, sess, req, result), nil
}

func (a *Assistant) settleSuccess(ctx context.Context, sess *domain.Session, req *domain.PaymentRequest, result *domain.ExecutionResult) *domain.Reply {
	outcome := &domain.PaymentOutcome{ExecutionResult: result}
	user := sess.DisplayName()

	if phone := sess.CarerPhone(); phone != "" {
		if result.Risk != nil && result.Risk.ShouldAlert {
			outcome.FraudAlertSent = a.notifier.Notify(ctx, phone,
				FraudAlert(user, result.Amount, result.Currency, result.Risk.Level, result.Risk.Message))
		}
		if result.Amount.GreaterThanOrEqual(a.cfg.LargePaymentThreshold) {
			outcome.LargePaymentSent = a.notifier.Notify(ctx, phone,
				LargePaymentAlert(user, result.Amount, result.Currency))
		}
	}

	status := domain.TxnPending
	switch {
	case result.Blocked():
		status = domain.TxnFailed
		a.metrics.IncrPayment(observability.PaymentBlocked)
	case result.Status == "succeeded":
		status = domain.TxnCompleted
		a.metrics.IncrPayment(observability.PaymentSucceeded)
	default:
		a.metrics.IncrPayment(observability.PaymentSucceeded)
	}
	outcome.TransactionID = a.record(ctx, sess, req, result.ChargeID, status)

	a.logger.Info("payment executed",
		zap.String("charge_id", result.ChargeID),
		zap.String("payee", req.Payee.Label),
		zap.String("status", string(status)),
		zap.Bool("fraud_alert", outcome.FraudAlertSent),
		zap.Bool("large_payment_alert", outcome.LargePaymentSent),
	)

	return &domain.Reply{
		AssistantMessage: successMessage(req.Payee, result, outcome.FraudAlertSent),
		Data:             outcome,
	}
}

func (a *Assistant) settleFailure(ctx context.Context, sess *domain.Session, req *domain.PaymentRequest, err error) (*domain.Reply, error) {
	reply := ReplyForError(err)

	var declined *domain.ErrDeclined
	if !errors.As(err, &declined) {
		if k := domain.KindOf(err); k == domain.KindUnavailable || k == domain.KindInternal {
			a.metrics.IncrPayment(observability.PaymentFailed)
			a.logger.Error("payment execution failed", zap.String("payee", req.Payee.Label), zap.Error(err))
		}
		return reply, err
	}

	a.metrics.IncrPayment(observability.PaymentDeclined)
	outcome := &domain.PaymentOutcome{
		ExecutionResult: &domain.ExecutionResult{
			ChargeID:   declined.Reference(),
			Status:     "declined",
			Amount:     req.Amount,
			Currency:   strings.ToUpper(req.Currency),
			PayeeLabel: req.Payee.Label,
		},
	}
	if phone := sess.CarerPhone(); phone != "" {
		outcome.FailureAlertSent = a.notifier.Notify(ctx, phone,
			PaymentFailedAlert(sess.DisplayName(), req.Amount, outcome.Currency, declined.Reason))
	}
	outcome.TransactionID = a.record(ctx, sess, req, declined.Reference(), domain.TxnFailed)
	reply.Data = outcome
	return reply, err
}

// record appends to the history log. A failure here is logged only: the
// payment outcome stands.
func (a *Assistant) record(ctx context.Context, sess *domain.Session, req *domain.PaymentRequest, chargeID string, status domain.TransactionStatus) string {
	if a.history == nil {
		return ""
	}
	txType := domain.TxnPayment
	to := req.Payee.Label
	if req.Payee.IsPerson() {
		txType = domain.TxnTransfer
		to = req.Payee.Destination
	}
	rec := &domain.TransactionRecord{
		UserID:      sess.UserID,
		Type:        txType,
		Amount:      req.Amount,
		Currency:    strings.ToUpper(req.Currency),
		FromAccount: sess.CustomerID,
		ToAccount:   to,
		Description: req.Description,
		Status:      status,
		ChargeID:    chargeID,
	}
	if err := a.history.Record(ctx, rec); err != nil {
		a.logger.Error("could not record transaction", zap.String("charge_id", chargeID), zap.Error(err))
		return ""
	}
	return rec.ID
}

func (a *Assistant) currency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return a.cfg.DefaultCurrency
	}
	return c
}

func carerName(s *domain.Session) string {
	if s.Carer == nil {
		return ""
	}
	return s.Carer.Name
}

// ============================================================
// User-facing messages
// ============================================================

const (
	msgNothingToConfirm = "There's no pending payment to confirm. Would you like to make a transfer?"
	msgCancelled        = "No problem, I've cancelled that. Is there anything else I can help you with?"
	msgNoAccount        = "I couldn't find your account. Please log in and try again."
	msgUnavailable      = "Sorry, I can't reach the payment service right now. Please try again in a few minutes."
	msgInternal         = "Something went wrong on my side. Please try again."
	msgCarerAlerted     = " I've let your trusted contact know."
)

func draftMessage(d *domain.PendingTransfer) string {
	return fmt.Sprintf("I'd like to send %s %s to %s. Please say 'confirm' to go ahead, or 'cancel' to stop.",
		d.Amount.StringFixed(2), d.Currency, d.PayeeLabel)
}

func unknownPayeeMessage(label string, allowed []string) string {
	return fmt.Sprintf("I don't recognise '%s' as an allowed payee. I can send money to: %s.",
		label, strings.Join(allowed, ", "))
}

func successMessage(payee domain.Payee, r *domain.ExecutionResult, carerAlerted bool) string {
	var msg string
	switch {
	case r.Risk != nil && r.Risk.ShouldAlert:
		msg = r.Risk.Message
	case payee.IsPerson():
		msg = fmt.Sprintf("Done! I've sent %s %s to %s. The transfer is on its way.",
			r.Amount.StringFixed(2), r.Currency, payee.Label)
	case payee.Label != "":
		msg = fmt.Sprintf("Payment of %s %s to %s is set up. All done!",
			r.Amount.StringFixed(2), r.Currency, payee.Label)
	default:
		msg = fmt.Sprintf("Payment of %s %s is set up. All done!", r.Amount.StringFixed(2), r.Currency)
	}
	if r.Risk != nil && r.Risk.Level == domain.RiskUnknown {
		msg += " " + r.Risk.Message
	}
	if carerAlerted {
		msg += msgCarerAlerted
	}
	return msg
}

// ReplyForError renders any error as a sentence for the user.
func ReplyForError(err error) *domain.Reply {
	kind := domain.KindOf(err)
	reply := &domain.Reply{Kind: kind}

	var (
		unknownPayee *domain.ErrUnknownPayee
		validation   *domain.ErrValidation
		configErr    *domain.ErrConfiguration
		declined     *domain.ErrDeclined
	)
	switch {
	case errors.As(err, &unknownPayee):
		reply.AssistantMessage = unknownPayeeMessage(unknownPayee.Label, unknownPayee.Allowed)
	case errors.Is(err, domain.ErrBankNotLinked):
		reply.AssistantMessage = "I can't check your balance because your bank account isn't linked. Please link your bank first."
	case errors.As(err, &validation):
		reply.AssistantMessage = validationMessage(validation)
	case errors.As(err, &configErr):
		reply.AssistantMessage = fmt.Sprintf("I can't send money to %s yet because their account isn't set up. "+
			"Please ask your trusted contact to finish setting it up.", configErr.Payee)
	case errors.As(err, &declined):
		reply.AssistantMessage = fmt.Sprintf("I'm sorry, the payment was declined: %s", declined.Reason)
	case errors.Is(err, domain.ErrNoBankAccount):
		reply.AssistantMessage = "I couldn't find a linked bank account. Please link your bank first."
	case kind == domain.KindAuthentication:
		reply.AssistantMessage = msgNoAccount
	case kind == domain.KindUnavailable:
		reply.AssistantMessage = msgUnavailable
	case kind == domain.KindNotFound:
		reply.AssistantMessage = "I couldn't find that. Please check and try again."
	case kind == domain.KindConflict:
		reply.AssistantMessage = err.Error()
	default:
		reply.AssistantMessage = msgInternal
	}
	return reply
}

func validationMessage(v *domain.ErrValidation) string {
	switch v.Field {
	case "amount":
		return "The amount needs to be more than zero, with at most two decimal places. How much would you like to send?"
	case "payee_label":
		return "Who would you like to pay?"
	default:
		return fmt.Sprintf("Sorry, I couldn't do that: %s %s.", v.Field, v.Message)
	}
}
