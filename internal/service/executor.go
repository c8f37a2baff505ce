package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/infra/observability"
	"github.com/alma-care/alma-bfa-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var paymentsTracer = otel.Tracer("service/payments")

// metadataSource tags every charge Alma submits.
const metadataSource = "alma_app"

// Executor submits payments and scores them. It never retries a
// submission; callers wanting dedup pass an idempotency key.
type Executor struct {
	payments port.PaymentsProvider
	risk     *RiskEvaluator
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewExecutor creates the payment executor.
func NewExecutor(payments port.PaymentsProvider, risk *RiskEvaluator, metrics *observability.Metrics, logger *zap.Logger) *Executor {
	return &Executor{payments: payments, risk: risk, metrics: metrics, logger: logger}
}

// Execute validates req, submits the charge and evaluates its risk.
// A provider refusal comes back as *domain.ErrDeclined.
func (e *Executor) Execute(ctx context.Context, req *domain.PaymentRequest) (*domain.ExecutionResult, error) {
	ctx, span := paymentsTracer.Start(ctx, "Executor.Execute")
	defer span.End()

	if req.CustomerID == "" {
		return nil, &domain.ErrUnauthorized{Message: "no payments customer linked to this session"}
	}
	minor, err := minorUnits(req.Amount)
	if err != nil {
		return nil, err
	}
	if req.Payee.IsPerson() && req.Payee.Destination == "" {
		return nil, &domain.ErrConfiguration{Payee: req.Payee.Label, Message: "no destination account set up"}
	}

	currency := strings.ToUpper(req.Currency)
	span.SetAttributes(
		attribute.String("payee.type", string(req.Payee.Type)),
		attribute.String("payment.currency", currency),
		attribute.Int64("payment.amount_minor", minor.IntPart()),
	)

	charge, err := e.payments.SubmitCharge(ctx, e.chargeRequest(req, minor.IntPart(), currency))
	if err != nil {
		var declined *domain.ErrDeclined
		if errors.As(err, &declined) {
			e.logger.Info("payment declined",
				zap.String("payee", req.Payee.Label),
				zap.String("reason", declined.Reason),
			)
			return nil, err
		}
		span.RecordError(err)
		return nil, fmt.Errorf("submit charge: %w", err)
	}

	result := &domain.ExecutionResult{
		ChargeID:     charge.ID,
		ClientSecret: charge.ClientSecret,
		Status:       charge.Status,
		Amount:       req.Amount,
		Currency:     currency,
		PayeeLabel:   req.Payee.Label,
		Risk:         e.assess(ctx, charge, req.Description),
	}
	if result.Risk != nil {
		span.SetAttributes(attribute.String("risk.level", string(result.Risk.Level)))
		e.metrics.IncrRiskAssessment(result.Risk.Level)
	}
	return result, nil
}

// minorUnits converts a positive amount to cents. Anything finer than a
// cent is rejected rather than rounded.
func minorUnits(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, &domain.ErrValidation{Field: "amount", Message: "must be greater than zero"}
	}
	minor := amount.Shift(2)
	if !minor.IsInteger() {
		return decimal.Zero, &domain.ErrValidation{Field: "amount", Message: "at most two decimal places"}
	}
	return minor, nil
}

func (e *Executor) chargeRequest(req *domain.PaymentRequest, amountMinor int64, currency string) *domain.ChargeRequest {
	meta := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["source"] = metadataSource

	cr := &domain.ChargeRequest{
		CustomerID:     req.CustomerID,
		AmountMinor:    amountMinor,
		Currency:       strings.ToLower(currency),
		Description:    req.Description,
		Metadata:       meta,
		IdempotencyKey: req.IdempotencyKey,
		PaymentMethod:  req.PaymentMethod,
	}
	if req.Payee.IsPerson() {
		cr.Destination = req.Payee.Destination
	}
	return cr
}

// assess runs the risk evaluator after submission. With a charge reference
// the provider's signal is used (unknown if it cannot be fetched); without
// one, a forced level or a scam phrase still yields an assessment.
func (e *Executor) assess(ctx context.Context, charge *domain.Charge, description string) *domain.RiskAssessment {
	if charge.LatestChargeID == "" {
		if e.risk.Forced() || MatchSuspiciousPattern(description) != "" {
			return e.risk.Assess(nil, description)
		}
		return nil
	}

	signal, err := e.payments.GetRiskSignal(ctx, charge.LatestChargeID)
	if err != nil {
		e.logger.Warn("risk signal unavailable",
			zap.String("charge_id", charge.LatestChargeID),
			zap.Error(err),
		)
		signal = nil
	}
	return e.risk.Assess(signal, description)
}
