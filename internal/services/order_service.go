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
	// ErrOrderInvalidInput signals malformed order arguments.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound signals the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden signals the actor does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderEmptyCart signals an order creation attempt from an empty cart.
	ErrOrderEmptyCart = errors.New("order: cart is empty")
	// ErrOrderInvalidTransition signals a lifecycle move the state machine forbids.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
)

// orderTransitions is the lifecycle state machine. Delivered, cancelled and
// refunded are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
}

func transitionAllowed(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// paymentRefunder reverses a captured payment at the provider. Optional; when
// absent a refund transition only records the state change.
type paymentRefunder interface {
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// OrderServiceDeps bundles the collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Carts     CartService
	Stock     StockService
	Sequences SequenceService
	Pricing   *PricingEngine
	Publisher OrderEventPublisher
	Refunder  paymentRefunder
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
	NewID     func() string
}

type orderService struct {
	orders    repositories.OrderRepository
	carts     CartService
	stock     StockService
	sequences SequenceService
	pricing   *PricingEngine
	publisher OrderEventPublisher
	refunder  paymentRefunder
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
	newID     func() string
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart service is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order service: stock service is required")
	}
	if deps.Sequences == nil {
		return nil, errors.New("order service: sequence service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
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

	return &orderService{
		orders:    deps.Orders,
		carts:     deps.Carts,
		stock:     deps.Stock,
		sequences: deps.Sequences,
		pricing:   deps.Pricing,
		publisher: deps.Publisher,
		refunder:  deps.Refunder,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
		newID:     newID,
	}, nil
}

// CreateFromCart snapshots the reconciled cart into a pending order. Stock is
// reserved before the order is persisted; a failed insert releases the
// reservation so availability is never lost to a phantom order.
func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if err := validateAddress(cmd.ShippingAddress); err != nil {
		return Order{}, err
	}

	owner := cmd.Owner
	if owner.IsZero() {
		owner = CartOwner{UserID: userID}
	}

	cart, err := s.carts.Reconcile(ctx, owner)
	if err != nil {
		return Order{}, err
	}
	if len(cart.Items) == 0 {
		return Order{}, ErrOrderEmptyCart
	}

	totals, err := s.pricing.Quote(cart)
	if err != nil {
		return Order{}, err
	}

	lines := make([]StockLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if err := s.stock.ReserveLines(ctx, lines); err != nil {
		return Order{}, err
	}

	number, err := s.sequences.NextOrderNumber(ctx)
	if err != nil {
		s.releaseReservation(ctx, lines, "order_sequence_failed")
		return Order{}, err
	}

	now := s.clock()
	order := Order{
		ID:            s.newID(),
		OrderNumber:   number.Number,
		InvoiceNumber: number.Invoice,
		UserID:        userID,
		Status:        domain.OrderStatusPending,
		Currency:      cart.Currency,
		Items:         orderItemsFromCart(cart.Items),
		ShippingAddress: Address{
			Recipient:  strings.TrimSpace(cmd.ShippingAddress.Recipient),
			Line1:      strings.TrimSpace(cmd.ShippingAddress.Line1),
			Line2:      strings.TrimSpace(cmd.ShippingAddress.Line2),
			City:       strings.TrimSpace(cmd.ShippingAddress.City),
			PostalCode: strings.TrimSpace(cmd.ShippingAddress.PostalCode),
			Country:    strings.ToUpper(strings.TrimSpace(cmd.ShippingAddress.Country)),
			Phone:      strings.TrimSpace(cmd.ShippingAddress.Phone),
		},
		Totals:    totals,
		CreatedAt: now,
		UpdatedAt: now,
	}

	saved, err := s.orders.Insert(ctx, order)
	if err != nil {
		s.releaseReservation(ctx, lines, "order_insert_failed")
		return Order{}, err
	}

	if err := s.carts.Clear(ctx, owner); err != nil {
		s.logger(ctx, "order_cart_clear_failed", map[string]any{
			"orderId": saved.ID,
			"error":   err.Error(),
		})
	}

	s.publish(ctx, domain.OrderEventCreated, saved)
	return saved, nil
}

// GetOrder loads one order, enforcing ownership unless the actor is an admin.
func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !cmd.IsAdmin && order.UserID != strings.TrimSpace(cmd.ActorID) {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, order.ID)
	}
	return order, nil
}

// ListOrders returns one page of the user's orders, newest first.
func (s *orderService) ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.CursorPage[Order], error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListByUser(ctx, userID, cmd.Pagination)
	if err != nil {
		return domain.CursorPage[Order]{}, err
	}
	return page, nil
}

// TransitionStatus advances the order through the lifecycle. Marking an
// already delivered order delivered is a no-op success. Cancellation must go
// through Cancel so the stock release stays tied to the ownership check.
func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionOrderCommand) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}

	target := cmd.TargetStatus
	if target == domain.OrderStatusDelivered && order.Status == domain.OrderStatusDelivered {
		return order, nil
	}
	if target == domain.OrderStatusCancelled {
		return s.Cancel(ctx, CancelOrderCommand{OrderID: cmd.OrderID, ActorID: cmd.ActorID, IsAdmin: true})
	}
	if !transitionAllowed(order.Status, target) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidTransition, order.Status, target)
	}

	if target == domain.OrderStatusRefunded {
		if err := s.refundPayment(ctx, order); err != nil {
			return Order{}, err
		}
	}

	now := s.clock()
	expected := order.UpdatedAt
	order.Status = target
	order.UpdatedAt = now
	switch target {
	case domain.OrderStatusProcessing:
		if order.PaidAt == nil {
			order.PaidAt = &now
		}
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusRefunded:
		order.RefundedAt = &now
	}

	saved, err := s.orders.Update(ctx, order, &expected)
	if err != nil {
		return Order{}, err
	}

	if target == domain.OrderStatusRefunded {
		s.releaseReservation(ctx, stockLinesFromOrder(saved), "order_refund_release_failed")
	}

	s.publish(ctx, domain.OrderEventStatusChanged, saved)
	return saved, nil
}

// Cancel moves a pending or processing order to cancelled and restores the
// reserved stock. Any terminal state, a previous cancellation included, is
// rejected by the transition guard, which also makes a second stock release
// impossible.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !cmd.IsAdmin && order.UserID != strings.TrimSpace(cmd.ActorID) {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, order.ID)
	}

	if !transitionAllowed(order.Status, domain.OrderStatusCancelled) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidTransition, order.Status, domain.OrderStatusCancelled)
	}

	now := s.clock()
	expected := order.UpdatedAt
	order.Status = domain.OrderStatusCancelled
	order.CanceledAt = &now
	order.CancelReason = strings.TrimSpace(cmd.Reason)
	order.UpdatedAt = now

	saved, err := s.orders.Update(ctx, order, &expected)
	if err != nil {
		return Order{}, err
	}

	s.releaseReservation(ctx, stockLinesFromOrder(saved), "order_cancel_release_failed")

	s.publish(ctx, domain.OrderEventStatusChanged, saved)
	return saved, nil
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		if isRepositoryNotFound(err) {
			return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		return Order{}, err
	}
	return order, nil
}

// refundPayment reverses the captured payment at the provider before the
// refunded state is recorded. Without a captured payment there is nothing to
// reverse.
func (s *orderService) refundPayment(ctx context.Context, order Order) error {
	if s.refunder == nil || order.PaymentResult == nil || order.PaymentResult.TransactionID == "" {
		return nil
	}
	_, err := s.refunder.Refund(ctx, payments.PaymentContext{
		PreferredProvider: order.PaymentResult.Provider,
		Currency:          order.Currency,
	}, payments.RefundRequest{
		TransactionID:  order.PaymentResult.TransactionID,
		IdempotencyKey: "refund-" + order.ID,
	})
	if err != nil {
		return fmt.Errorf("order: refund payment for %s: %w", order.ID, err)
	}
	return nil
}

// releaseReservation returns reserved quantities to stock, logging failures
// instead of surfacing them. Stranded stock is recoverable from the logs;
// failing the caller's operation at this point is not.
func (s *orderService) releaseReservation(ctx context.Context, lines []StockLine, event string) {
	if len(lines) == 0 {
		return
	}
	if err := s.stock.ReleaseLines(ctx, lines); err != nil {
		s.logger(ctx, event, map[string]any{"error": err.Error()})
	}
}

// publish emits a lifecycle notification. Delivery failures never fail the
// originating operation.
func (s *orderService) publish(ctx context.Context, kind domain.OrderEventKind, order Order) {
	if s.publisher == nil {
		return
	}
	event := OrderEvent{
		Kind:        kind,
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
			"kind":    string(kind),
			"error":   err.Error(),
		})
	}
}

func validateAddress(addr Address) error {
	if strings.TrimSpace(addr.Recipient) == "" {
		return fmt.Errorf("%w: address recipient is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.Line1) == "" {
		return fmt.Errorf("%w: address line is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.City) == "" {
		return fmt.Errorf("%w: address city is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		return fmt.Errorf("%w: address postal code is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.Country) == "" {
		return fmt.Errorf("%w: address country is required", ErrOrderInvalidInput)
	}
	return nil
}

func orderItemsFromCart(items []CartItem) []OrderItem {
	result := make([]OrderItem, 0, len(items))
	for _, item := range items {
		result = append(result, OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Image:     item.Image,
			Variant:   item.Variant,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	return result
}

func stockLinesFromOrder(order Order) []StockLine {
	lines := make([]StockLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}
