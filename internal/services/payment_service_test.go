package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazelcart/api/internal/payments"
	"github.com/hazelcart/api/internal/repositories"

	domain "github.com/hazelcart/api/internal/domain"
)

type pendingRepoStub struct {
	records map[string]domain.PendingPayment
	swept   int
}

func newPendingRepoStub() *pendingRepoStub {
	return &pendingRepoStub{records: map[string]domain.PendingPayment{}}
}

func (s *pendingRepoStub) Create(ctx context.Context, pending domain.PendingPayment) error {
	if _, ok := s.records[pending.CorrelationID]; ok {
		return repositories.NewPendingPaymentError(repositories.PendingPaymentErrorAlreadyExists, "duplicate", nil)
	}
	s.records[pending.CorrelationID] = pending
	return nil
}

func (s *pendingRepoStub) Consume(ctx context.Context, correlationID string, now time.Time) (domain.PendingPayment, error) {
	pending, ok := s.records[correlationID]
	if !ok {
		return domain.PendingPayment{}, repositories.NewPendingPaymentError(repositories.PendingPaymentErrorNotFound, "not found", nil)
	}
	delete(s.records, correlationID)
	if !now.Before(pending.ExpiresAt) {
		return domain.PendingPayment{}, repositories.NewPendingPaymentError(repositories.PendingPaymentErrorExpired, "expired", nil)
	}
	return pending, nil
}

func (s *pendingRepoStub) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	removed := 0
	for id, pending := range s.records {
		if !now.Before(pending.ExpiresAt) {
			delete(s.records, id)
			removed++
		}
	}
	s.swept++
	return removed, nil
}

var _ repositories.PendingPaymentRepository = (*pendingRepoStub)(nil)

type checkoutManagerStub struct {
	sessions int
	lastReq  payments.CheckoutSessionRequest
	err      error
}

func (s *checkoutManagerStub) CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	if s.err != nil {
		return payments.CheckoutSession{}, s.err
	}
	s.sessions++
	s.lastReq = req
	return payments.CheckoutSession{
		ID:          "cs_test",
		Provider:    "stripe",
		RedirectURL: "https://pay.example.com/cs_test",
	}, nil
}

type paymentServiceFixture struct {
	svc      PaymentService
	orders   *orderRepoStub
	pendings *pendingRepoStub
	checkout *checkoutManagerStub
	now      time.Time
}

func newPaymentServiceFixture(t *testing.T) *paymentServiceFixture {
	t.Helper()

	fixture := &paymentServiceFixture{
		orders:   newOrderRepoStub(),
		pendings: newPendingRepoStub(),
		checkout: &checkoutManagerStub{},
		now:      time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
	}

	var counter int
	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:     fixture.orders,
		Pendings:   fixture.pendings,
		Checkout:   fixture.checkout,
		PendingTTL: time.Hour,
		Clock:      func() time.Time { return fixture.now },
		NewID: func() string {
			counter++
			return "corr-1"
		},
	})
	if err != nil {
		t.Fatalf("NewPaymentService returned error: %v", err)
	}
	fixture.svc = svc
	return fixture
}

func pendingTestOrder() domain.Order {
	return domain.Order{
		ID:          "o1",
		OrderNumber: "202608310001",
		UserID:      "u1",
		Status:      domain.OrderStatusPending,
		Currency:    "USD",
		Items:       []domain.OrderItem{{ProductID: "p1", Name: "Mug", UnitPrice: 10000, Quantity: 2}},
		Totals:      domain.OrderTotals{Items: 20000, Shipping: 1000, Tax: 2000, Total: 23000},
	}
}

func TestInitiateCreatesSessionAndPendingRecord(t *testing.T) {
	fixture := newPaymentServiceFixture(t)
	fixture.orders.orders["o1"] = pendingTestOrder()

	intent, err := fixture.svc.Initiate(context.Background(), InitiatePaymentCommand{
		OrderID: "o1",
		ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("Initiate returned error: %v", err)
	}

	if intent.CorrelationID != "corr-1" {
		t.Errorf("unexpected correlation id: %s", intent.CorrelationID)
	}
	if intent.CheckoutURL != "https://pay.example.com/cs_test" {
		t.Errorf("unexpected checkout url: %s", intent.CheckoutURL)
	}
	if want := fixture.now.Add(time.Hour); !intent.ExpiresAt.Equal(want) {
		t.Errorf("unexpected expiry: %v", intent.ExpiresAt)
	}

	pending, ok := fixture.pendings.records["corr-1"]
	if !ok {
		t.Fatal("expected pending payment record")
	}
	if pending.OrderID != "o1" || pending.Amount != 23000 {
		t.Errorf("unexpected pending record: %+v", pending)
	}
	if fixture.checkout.lastReq.Amount != 23000 {
		t.Errorf("session amount mismatch: %d", fixture.checkout.lastReq.Amount)
	}
}

func TestInitiateRejectsPaidOrForeignOrder(t *testing.T) {
	fixture := newPaymentServiceFixture(t)
	order := pendingTestOrder()
	order.Status = domain.OrderStatusProcessing
	fixture.orders.orders["o1"] = order

	if _, err := fixture.svc.Initiate(context.Background(), InitiatePaymentCommand{OrderID: "o1", ActorID: "u1"}); !errors.Is(err, ErrPaymentOrderNotPayable) {
		t.Errorf("processing order: expected ErrPaymentOrderNotPayable, got %v", err)
	}

	foreign := pendingTestOrder()
	foreign.ID = "o2"
	fixture.orders.orders["o2"] = foreign
	if _, err := fixture.svc.Initiate(context.Background(), InitiatePaymentCommand{OrderID: "o2", ActorID: "intruder"}); !errors.Is(err, ErrOrderForbidden) {
		t.Errorf("foreign order: expected ErrOrderForbidden, got %v", err)
	}

	if _, err := fixture.svc.Initiate(context.Background(), InitiatePaymentCommand{OrderID: "missing", ActorID: "u1"}); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("missing order: expected ErrOrderNotFound, got %v", err)
	}
}

func TestConfirmAppliesPaymentOnce(t *testing.T) {
	fixture := newPaymentServiceFixture(t)
	fixture.orders.orders["o1"] = pendingTestOrder()
	fixture.pendings.records["corr-1"] = domain.PendingPayment{
		CorrelationID: "corr-1",
		OrderID:       "o1",
		Provider:      "stripe",
		Amount:        23000,
		Currency:      "USD",
		ExpiresAt:     fixture.now.Add(time.Hour),
	}

	confirmation, err := fixture.svc.Confirm(context.Background(), ConfirmPaymentCommand{
		CorrelationID: "corr-1",
		TransactionID: "pi_123",
		PayerEmail:    "ada@example.com",
	})
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if confirmation.Outcome != PaymentApplied {
		t.Fatalf("expected applied outcome, got %s", confirmation.Outcome)
	}

	order := confirmation.Order
	if order == nil {
		t.Fatal("expected updated order in confirmation")
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Errorf("expected processing status, got %s", order.Status)
	}
	if order.PaidAt == nil || !order.PaidAt.Equal(fixture.now) {
		t.Errorf("unexpected PaidAt: %v", order.PaidAt)
	}
	if order.PaymentResult == nil || order.PaymentResult.TransactionID != "pi_123" {
		t.Errorf("unexpected payment result: %+v", order.PaymentResult)
	}

	firstPaidAt := *order.PaidAt

	// Replayed confirmation: the pending record is consumed, so the paid
	// order must be found again through its correlation ID.
	confirmation, err = fixture.svc.Confirm(context.Background(), ConfirmPaymentCommand{CorrelationID: "corr-1"})
	if err != nil {
		t.Fatalf("replayed Confirm returned error: %v", err)
	}
	if confirmation.Outcome != PaymentAlreadyApplied {
		t.Fatalf("expected already applied outcome, got %s", confirmation.Outcome)
	}
	if confirmation.Order == nil || confirmation.Order.ID != "o1" {
		t.Fatalf("replay must resolve the paid order, got %+v", confirmation.Order)
	}

	stored := fixture.orders.orders["o1"]
	if stored.PaidAt == nil || !stored.PaidAt.Equal(firstPaidAt) {
		t.Errorf("PaidAt changed on replay: %v", stored.PaidAt)
	}
	if stored.Status != domain.OrderStatusProcessing {
		t.Errorf("status changed on replay: %s", stored.Status)
	}
}

func TestConfirmExpiredRecord(t *testing.T) {
	fixture := newPaymentServiceFixture(t)
	fixture.orders.orders["o1"] = pendingTestOrder()
	fixture.pendings.records["corr-1"] = domain.PendingPayment{
		CorrelationID: "corr-1",
		OrderID:       "o1",
		ExpiresAt:     fixture.now.Add(-time.Minute),
	}

	confirmation, err := fixture.svc.Confirm(context.Background(), ConfirmPaymentCommand{CorrelationID: "corr-1"})
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if confirmation.Outcome != PaymentExpired {
		t.Fatalf("expected expired outcome, got %s", confirmation.Outcome)
	}

	stored := fixture.orders.orders["o1"]
	if stored.Status != domain.OrderStatusPending || stored.PaidAt != nil {
		t.Errorf("expired confirmation must not touch the order: %+v", stored)
	}
}

func TestConfirmOrderMissing(t *testing.T) {
	fixture := newPaymentServiceFixture(t)
	fixture.pendings.records["corr-1"] = domain.PendingPayment{
		CorrelationID: "corr-1",
		OrderID:       "ghost",
		ExpiresAt:     fixture.now.Add(time.Hour),
	}

	confirmation, err := fixture.svc.Confirm(context.Background(), ConfirmPaymentCommand{CorrelationID: "corr-1"})
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if confirmation.Outcome != PaymentOrderNotFound {
		t.Fatalf("expected order not found outcome, got %s", confirmation.Outcome)
	}
}

func TestConfirmUnknownCorrelationID(t *testing.T) {
	fixture := newPaymentServiceFixture(t)
	fixture.orders.orders["o1"] = pendingTestOrder()

	confirmation, err := fixture.svc.Confirm(context.Background(), ConfirmPaymentCommand{CorrelationID: "never-initiated"})
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if confirmation.Outcome != PaymentOrderNotFound {
		t.Fatalf("expected order not found for unknown correlation id, got %s", confirmation.Outcome)
	}

	stored := fixture.orders.orders["o1"]
	if stored.Status != domain.OrderStatusPending || stored.PaidAt != nil {
		t.Errorf("unknown correlation must not touch any order: %+v", stored)
	}
}

func TestConfirmSweptRecordWithUnpaidOrder(t *testing.T) {
	fixture := newPaymentServiceFixture(t)
	// The pending record for corr-1 was already swept; the order never paid.
	fixture.orders.orders["o1"] = pendingTestOrder()

	confirmation, err := fixture.svc.Confirm(context.Background(), ConfirmPaymentCommand{CorrelationID: "corr-1"})
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if confirmation.Outcome != PaymentOrderNotFound {
		t.Fatalf("expected order not found for swept correlation, got %s", confirmation.Outcome)
	}
}

func TestConfirmDefaultsAmountAndStatus(t *testing.T) {
	fixture := newPaymentServiceFixture(t)
	fixture.orders.orders["o1"] = pendingTestOrder()
	fixture.pendings.records["corr-1"] = domain.PendingPayment{
		CorrelationID: "corr-1",
		OrderID:       "o1",
		Amount:        23000,
		ExpiresAt:     fixture.now.Add(time.Hour),
	}

	confirmation, err := fixture.svc.Confirm(context.Background(), ConfirmPaymentCommand{CorrelationID: "corr-1"})
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	result := confirmation.Order.PaymentResult
	if result.Amount != 23000 {
		t.Errorf("expected amount defaulted from pending record, got %d", result.Amount)
	}
	if result.Status != string(payments.StatusSucceeded) {
		t.Errorf("expected succeeded status, got %s", result.Status)
	}
}

func TestSweepExpiredRemovesStaleRecords(t *testing.T) {
	fixture := newPaymentServiceFixture(t)
	fixture.pendings.records["old"] = domain.PendingPayment{CorrelationID: "old", ExpiresAt: fixture.now.Add(-time.Minute)}
	fixture.pendings.records["fresh"] = domain.PendingPayment{CorrelationID: "fresh", ExpiresAt: fixture.now.Add(time.Hour)}

	removed, err := fixture.svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("SweepExpired returned error: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected one removed record, got %d", removed)
	}
	if _, ok := fixture.pendings.records["fresh"]; !ok {
		t.Error("fresh record must survive the sweep")
	}
}
