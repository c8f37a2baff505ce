package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/infra/observability"
	"github.com/alma-care/alma-bfa-go/internal/infra/session"
	"github.com/alma-care/alma-bfa-go/internal/infra/store/memory"
	"github.com/alma-care/alma-bfa-go/internal/service"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// --- Mocks ---

type mockPayments struct {
	mu         sync.Mutex
	charges    []*domain.ChargeRequest
	charge     *domain.Charge
	chargeErr  error
	signal     *domain.RiskSignal
	signalErr  error
	signalReqs int
	customerID string
	delay      time.Duration
}

func (m *mockPayments) CreateCustomer(_ context.Context, _, _ string) (string, error) {
	if m.customerID == "" {
		return "cus_test", nil
	}
	return m.customerID, nil
}

func (m *mockPayments) SubmitCharge(_ context.Context, req *domain.ChargeRequest) (*domain.Charge, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.charges = append(m.charges, req)
	if m.chargeErr != nil {
		return nil, m.chargeErr
	}
	if m.charge != nil {
		c := *m.charge
		return &c, nil
	}
	return &domain.Charge{ID: fmt.Sprintf("pi_%d", len(m.charges)), Status: "requires_payment_method"}, nil
}

func (m *mockPayments) GetRiskSignal(_ context.Context, _ string) (*domain.RiskSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signalReqs++
	return m.signal, m.signalErr
}

func (m *mockPayments) submitted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.charges)
}

func (m *mockPayments) setChargeErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chargeErr = err
}

type sentMessage struct {
	to   string
	body string
}

type mockMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *mockMessenger) Send(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{to: to, body: body})
	return nil
}

func (m *mockMessenger) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

type mockClassifier struct {
	cls           *domain.Classification
	err           error
	repairCls     *domain.Classification
	repairErr     error
	classifyCalls int
	repairCalls   int
	lastReq       *domain.ClassifyRequest
}

func (m *mockClassifier) Classify(_ context.Context, req *domain.ClassifyRequest) (*domain.Classification, error) {
	m.classifyCalls++
	m.lastReq = req
	return m.cls, m.err
}

func (m *mockClassifier) Repair(_ context.Context, _ string) (*domain.Classification, error) {
	m.repairCalls++
	return m.repairCls, m.repairErr
}

type mockBanking struct {
	mu           sync.Mutex
	token        *domain.BankToken
	exchangeErr  error
	accounts     []domain.BankAccount
	accountsErr  error
	accountCalls int
	balance      *domain.Balance
	balanceErr   error
}

func (m *mockBanking) AuthURL(state string) string {
	return "https://auth.example.test/?state=" + state
}

func (m *mockBanking) ExchangeCode(_ context.Context, _ string) (*domain.BankToken, error) {
	return m.token, m.exchangeErr
}

func (m *mockBanking) GetAccounts(_ context.Context, _ string) ([]domain.BankAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountCalls++
	return m.accounts, m.accountsErr
}

func (m *mockBanking) GetBalance(_ context.Context, accountID, _ string) (*domain.Balance, error) {
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	b := *m.balance
	b.AccountID = accountID
	return &b, nil
}

// --- Fixtures ---

const (
	testSessionID  = "sess-1"
	testUserID     = "user-1"
	testCarerPhone = "+353871234567"
)

func testPayees() []domain.Payee {
	return []domain.Payee{
		{Label: "Mary", Type: domain.PayeePerson, Destination: "acct_mary"},
		{Label: "John", Type: domain.PayeePerson},
		{Label: "Electric Ireland", Type: domain.PayeeMerchant},
	}
}

type harness struct {
	assistant  *service.Assistant
	sessions   *session.Store
	store      *memory.Store
	history    *service.HistoryService
	notifier   *service.Notifier
	payments   *mockPayments
	messenger  *mockMessenger
	classifier *mockClassifier
	banking    *mockBanking
	metrics    *observability.Metrics
}

func newHarness(t *testing.T, forceLevel string) *harness {
	t.Helper()

	h := &harness{
		sessions:   session.NewStore(),
		store:      memory.New(),
		payments:   &mockPayments{},
		messenger:  &mockMessenger{},
		classifier: &mockClassifier{},
		banking: &mockBanking{
			token:    &domain.BankToken{AccessToken: "bank-at", RefreshToken: "bank-rt", ExpiresIn: 3600},
			accounts: []domain.BankAccount{{AccountID: "acc-1", DisplayName: "Current"}},
			balance:  &domain.Balance{Available: decimal.RequireFromString("120.50"), Current: decimal.RequireFromString("130"), Currency: "EUR"},
		},
		metrics: observability.NewMetrics(),
	}

	registry, err := service.NewPayeeRegistry(testPayees())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	logger := zap.NewNop()
	h.history = service.NewHistoryService(h.store, service.NewIDGenerator(), logger)
	h.notifier = service.NewNotifier(h.messenger, 4, time.Second, h.metrics, logger)

	h.assistant = service.NewAssistant(service.AssistantDeps{
		Registry:   registry,
		Executor:   service.NewExecutor(h.payments, service.NewRiskEvaluator(service.DefaultRiskThresholds, forceLevel), h.metrics, logger),
		Transfers:  service.NewTransferMachine(registry, h.sessions, "EUR"),
		Notifier:   h.notifier,
		Classifier: h.classifier,
		Banking:    service.NewBankingService(h.banking, h.sessions, h.history, logger),
		History:    h.history,
		Sessions:   h.sessions,
	}, service.AssistantConfig{
		LargePaymentThreshold: decimal.NewFromInt(200),
		DefaultCurrency:       "EUR",
		IdempotencyTTL:        time.Hour,
	}, h.metrics, logger)

	return h
}

// seed creates the standard test session, optionally with a carer linked.
func (h *harness) seed(t *testing.T, withCarer bool) {
	t.Helper()
	sess := &domain.Session{
		ID:         testSessionID,
		UserID:     testUserID,
		UserName:   "Rose",
		Email:      "rose@example.com",
		CustomerID: "cus_rose",
		CreatedAt:  time.Now(),
	}
	if withCarer {
		sess.Carer = &domain.CarerLink{Name: "Anne", Phone: testCarerPhone}
	}
	if err := h.sessions.Create(context.Background(), sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func (h *harness) session(t *testing.T) *domain.Session {
	t.Helper()
	sess, err := h.sessions.Get(context.Background(), testSessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return sess
}

func (h *harness) transactions(t *testing.T) []domain.TransactionRecord {
	t.Helper()
	recs, err := h.store.ListTransactions(context.Background(), testUserID, 0)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return recs
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// bankingService builds a banking service over the harness's session store,
// sharing the provider mock the assistant uses.
func (h *harness) bankingService() *service.BankingService {
	return service.NewBankingService(h.banking, h.sessions, h.history, zap.NewNop())
}
