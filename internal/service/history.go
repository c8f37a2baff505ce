package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var historyTracer = otel.Tracer("service/history")

// IDGenerator hands out txn_<n> identifiers. n starts at the current Unix
// time in milliseconds and strictly increases, also across restarts that
// happen more than a millisecond apart.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDGenerator creates a generator backed by the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next returns the next identifier.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.now().UnixMilli()
	if n <= g.last {
		n = g.last + 1
	}
	g.last = n
	return "txn_" + strconv.FormatInt(n, 10)
}

// HistoryService manages the append-only transaction log.
type HistoryService struct {
	repo   port.TransactionRepository
	ids    *IDGenerator
	logger *zap.Logger
}

// NewHistoryService creates the transaction history service.
func NewHistoryService(repo port.TransactionRepository, ids *IDGenerator, logger *zap.Logger) *HistoryService {
	return &HistoryService{repo: repo, ids: ids, logger: logger}
}

// Record assigns an ID and timestamp to rec and appends it.
func (h *HistoryService) Record(ctx context.Context, rec *domain.TransactionRecord) error {
	ctx, span := historyTracer.Start(ctx, "HistoryService.Record")
	defer span.End()

	rec.ID = h.ids.Next()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := h.repo.AppendTransaction(ctx, rec); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

// List returns the user's records, newest first.
func (h *HistoryService) List(ctx context.Context, userID string, limit int) ([]domain.TransactionRecord, error) {
	ctx, span := historyTracer.Start(ctx, "HistoryService.List")
	defer span.End()

	return h.repo.ListTransactions(ctx, userID, limit)
}

// UpdateStatus changes the status of one of userID's records.
func (h *HistoryService) UpdateStatus(ctx context.Context, userID, id, status string) (*domain.TransactionRecord, error) {
	ctx, span := historyTracer.Start(ctx, "HistoryService.UpdateStatus")
	defer span.End()

	st, ok := domain.ParseTransactionStatus(status)
	if !ok {
		return nil, &domain.ErrValidation{Field: "status", Message: fmt.Sprintf("unsupported status %q", status)}
	}

	rec, err := h.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: id}
	}
	return h.repo.UpdateTransactionStatus(ctx, id, st)
}

// MarkCharge sets the status of the record created for chargeID. It
// returns the updated record and the status it had before, or a nil record
// when no record matches.
func (h *HistoryService) MarkCharge(ctx context.Context, chargeID string, status domain.TransactionStatus) (*domain.TransactionRecord, domain.TransactionStatus, error) {
	ctx, span := historyTracer.Start(ctx, "HistoryService.MarkCharge")
	defer span.End()

	rec, err := h.repo.FindByChargeID(ctx, chargeID)
	if err != nil {
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			h.logger.Debug("no transaction for charge", zap.String("charge_id", chargeID))
			return nil, "", nil
		}
		return nil, "", err
	}
	prev := rec.Status
	if prev == status {
		return rec, prev, nil
	}
	updated, err := h.repo.UpdateTransactionStatus(ctx, rec.ID, status)
	if err != nil {
		return nil, "", err
	}
	return updated, prev, nil
}
