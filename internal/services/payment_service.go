package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hazelcart/api/internal/payments"
	"github.com/hazelcart/api/internal/repositories"

	domain "github.com/hazelcart/api/internal/domain"
)

var (
	// ErrPaymentInvalidInput signals malformed payment arguments.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentOrderNotPayable signals the order is not awaiting payment.
	ErrPaymentOrderNotPayable = errors.New("payment: order is not payable")
)

// checkoutSessionManager abstracts the payments manager so tests can stub the
// provider round trip.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// PaymentServiceDeps bundles the collaborators required to construct a payment service.
type PaymentServiceDeps struct {
	Orders     repositories.OrderRepository
	Pendings   repositories.PendingPaymentRepository
	Checkout   checkoutSessionManager
	Publisher  OrderEventPublisher
	PendingTTL time.Duration
	SweepLimit int
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
	NewID      func() string
}

type paymentService struct {
	orders     repositories.OrderRepository
	pendings   repositories.PendingPaymentRepository
	checkout   checkoutSessionManager
	publisher  OrderEventPublisher
	pendingTTL time.Duration
	sweepLimit int
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
	newID      func() string
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Pendings == nil {
		return nil, errors.New("payment service: pending payment repository is required")
	}
	if deps.Checkout == nil {
		return nil, errors.New("payment service: checkout session manager is required")
	}

	ttl := deps.PendingTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	sweepLimit := deps.SweepLimit
	if sweepLimit <= 0 {
		sweepLimit = 200
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newID := deps.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}

	return &paymentService{
		orders:     deps.Orders,
		pendings:   deps.Pendings,
		checkout:   deps.Checkout,
		publisher:  deps.Publisher,
		pendingTTL: ttl,
		sweepLimit: sweepLimit,
		clock:      func() time.Time { return clock().UTC() },
		logger:     logger,
		newID:      newID,
	}, nil
}

// Initiate opens a provider checkout session for a pending order and records
// the correlation so the later confirmation can be applied exactly once.
func (s *paymentService) Initiate(ctx context.Context, cmd InitiatePaymentCommand) (PaymentIntent, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentIntent{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return PaymentIntent{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return PaymentIntent{}, err
	}
	if actor := strings.TrimSpace(cmd.ActorID); actor != "" && actor != order.UserID {
		return PaymentIntent{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, order.ID)
	}
	if order.Status != domain.OrderStatusPending || order.IsPaid() {
		return PaymentIntent{}, fmt.Errorf("%w: order %s is %s", ErrPaymentOrderNotPayable, order.ID, order.Status)
	}

	correlationID := s.newID()
	now := s.clock()
	expiresAt := now.Add(s.pendingTTL)

	session, err := s.checkout.CreateCheckoutSession(ctx, payments.PaymentContext{
		PreferredProvider: cmd.Provider,
		Currency:          order.Currency,
	}, payments.CheckoutSessionRequest{
		Amount:         order.Totals.Total,
		Currency:       order.Currency,
		CustomerID:     order.UserID,
		SuccessURL:     cmd.SuccessURL,
		CancelURL:      cmd.CancelURL,
		IdempotencyKey: correlationID,
		Metadata: map[string]string{
			"correlationId": correlationID,
			"orderId":       order.ID,
			"orderNumber":   order.OrderNumber,
		},
		Items: checkoutItemsFromOrder(order),
	})
	if err != nil {
		return PaymentIntent{}, err
	}

	if err := s.pendings.Create(ctx, PendingPayment{
		CorrelationID: correlationID,
		OrderID:       order.ID,
		Provider:      session.Provider,
		Amount:        order.Totals.Total,
		Currency:      order.Currency,
		CreatedAt:     now,
		ExpiresAt:     expiresAt,
	}); err != nil {
		return PaymentIntent{}, err
	}

	return PaymentIntent{
		CorrelationID: correlationID,
		Provider:      session.Provider,
		CheckoutURL:   session.RedirectURL,
		ExpiresAt:     expiresAt,
	}, nil
}

// Confirm applies a provider confirmation. The pending record is consumed
// atomically, so a replayed confirmation for the same correlation ID reports
// AlreadyApplied instead of mutating the order twice.
func (s *paymentService) Confirm(ctx context.Context, cmd ConfirmPaymentCommand) (PaymentConfirmation, error) {
	correlationID := strings.TrimSpace(cmd.CorrelationID)
	if correlationID == "" {
		return PaymentConfirmation{}, fmt.Errorf("%w: correlation id is required", ErrPaymentInvalidInput)
	}
	now := s.clock()

	pending, err := s.pendings.Consume(ctx, correlationID, now)
	if err != nil {
		var pendingErr *repositories.PendingPaymentError
		if errors.As(err, &pendingErr) {
			switch pendingErr.Code {
			case repositories.PendingPaymentErrorNotFound:
				return s.resolveConsumedCorrelation(ctx, correlationID)
			case repositories.PendingPaymentErrorExpired:
				return PaymentConfirmation{Outcome: PaymentExpired}, nil
			}
		}
		return PaymentConfirmation{}, err
	}

	order, err := s.orders.FindByID(ctx, pending.OrderID)
	if err != nil {
		if isRepositoryNotFound(err) {
			s.logger(ctx, "payment_order_missing", map[string]any{
				"correlationId": correlationID,
				"orderId":       pending.OrderID,
			})
			return PaymentConfirmation{Outcome: PaymentOrderNotFound}, nil
		}
		return PaymentConfirmation{}, err
	}

	amount := cmd.Amount
	if amount == 0 {
		amount = pending.Amount
	}
	providerStatus := strings.TrimSpace(cmd.Status)
	if providerStatus == "" {
		providerStatus = string(payments.StatusSucceeded)
	}

	expected := order.UpdatedAt
	order.PaymentResult = &PaymentResult{
		Provider:      pending.Provider,
		CorrelationID: correlationID,
		TransactionID: strings.TrimSpace(cmd.TransactionID),
		Status:        providerStatus,
		Amount:        amount,
		PayerEmail:    strings.TrimSpace(cmd.PayerEmail),
		ReceivedAt:    now,
	}
	if order.PaidAt == nil {
		order.PaidAt = &now
	}
	if order.Status == domain.OrderStatusPending {
		order.Status = domain.OrderStatusProcessing
	}
	order.UpdatedAt = now

	saved, err := s.orders.Update(ctx, order, &expected)
	if err != nil {
		return PaymentConfirmation{}, err
	}

	s.publishPaid(ctx, saved)
	return PaymentConfirmation{Outcome: PaymentApplied, Order: &saved}, nil
}

// SweepExpired deletes pending records past their TTL. It is safe to run
// concurrently with confirmations because consumption is transactional.
func (s *paymentService) SweepExpired(ctx context.Context) (int, error) {
	removed, err := s.pendings.CleanupExpired(ctx, s.clock(), s.sweepLimit)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger(ctx, "payment_sweep", map[string]any{"removed": removed})
	}
	return removed, nil
}

// resolveConsumedCorrelation classifies a confirmation whose pending record no
// longer exists. An order carrying the correlation ID in its payment result
// means an earlier confirmation already applied it; anything else is a
// correlation this system never issued, or one whose record was swept.
func (s *paymentService) resolveConsumedCorrelation(ctx context.Context, correlationID string) (PaymentConfirmation, error) {
	order, err := s.orders.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return PaymentConfirmation{Outcome: PaymentOrderNotFound}, nil
		}
		return PaymentConfirmation{}, err
	}
	if order.IsPaid() {
		return PaymentConfirmation{Outcome: PaymentAlreadyApplied, Order: &order}, nil
	}
	return PaymentConfirmation{Outcome: PaymentOrderNotFound}, nil
}

func (s *paymentService) publishPaid(ctx context.Context, order Order) {
	if s.publisher == nil {
		return
	}
	event := OrderEvent{
		Kind:        domain.OrderEventPaid,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		Total:       order.Totals.Total,
		Currency:    order.Currency,
		OccurredAt:  s.clock(),
	}
	if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{
			"orderId": order.ID,
			"kind":    string(domain.OrderEventPaid),
			"error":   err.Error(),
		})
	}
}

func checkoutItemsFromOrder(order Order) []payments.CheckoutLineItem {
	items := make([]payments.CheckoutLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payments.CheckoutLineItem{
			Name:     item.Name,
			SKU:      item.ProductID,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
			Currency: order.Currency,
		})
	}
	return items
}
