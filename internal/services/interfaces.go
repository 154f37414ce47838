package services

import (
	"context"
	"time"

	domain "github.com/hazelcart/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Cart               = domain.Cart
	CartOwner          = domain.CartOwner
	CartItem           = domain.CartItem
	Coupon             = domain.Coupon
	CouponKind         = domain.CouponKind
	ShippingMethod     = domain.ShippingMethod
	Product            = domain.Product
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderTotals        = domain.OrderTotals
	OrderStatus        = domain.OrderStatus
	PaymentResult      = domain.PaymentResult
	PendingPayment     = domain.PendingPayment
	Address            = domain.Address
	SystemHealthReport = domain.SystemHealthReport
)

// CartService manages mutable cart state, merging guest carts into user carts
// and repairing stale item snapshots on every read.
type CartService interface {
	Reconcile(ctx context.Context, owner CartOwner) (Cart, error)
	GetCart(ctx context.Context, owner CartOwner) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (Cart, error)
	RemoveCoupon(ctx context.Context, owner CartOwner) (Cart, error)
	SetShippingMethod(ctx context.Context, cmd SetShippingMethodCommand) (Cart, error)
	Clear(ctx context.Context, owner CartOwner) error
}

// StockService is the only mutator of product stock counters once an order is
// in flight. Reservations are conditional decrements, releases unconditional
// increments.
type StockService interface {
	Reserve(ctx context.Context, productID string, qty int) error
	Release(ctx context.Context, productID string, qty int) error
	ReserveLines(ctx context.Context, lines []StockLine) error
	ReleaseLines(ctx context.Context, lines []StockLine) error
}

// SequenceService issues human-readable order and invoice numbers.
type SequenceService interface {
	NextOrderNumber(ctx context.Context) (OrderNumber, error)
}

// OrderService encapsulates the order lifecycle from cart snapshot to
// terminal state.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd TransitionOrderCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// PaymentService coordinates provider checkout initiation and the idempotent
// application of payment confirmations.
type PaymentService interface {
	Initiate(ctx context.Context, cmd InitiatePaymentCommand) (PaymentIntent, error)
	Confirm(ctx context.Context, cmd ConfirmPaymentCommand) (PaymentConfirmation, error)
	SweepExpired(ctx context.Context) (int, error)
}

// OrderEventPublisher accepts order lifecycle notifications for downstream
// processing. Failures are logged and swallowed by callers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// SystemService aggregates utility endpoints such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

type AddCartItemCommand struct {
	Owner     CartOwner
	ProductID string
	Variant   string
	Quantity  int
}

type UpdateCartItemCommand struct {
	Owner     CartOwner
	ProductID string
	Variant   string
	Quantity  int
}

type RemoveCartItemCommand struct {
	Owner     CartOwner
	ProductID string
	Variant   string
}

type ApplyCouponCommand struct {
	Owner  CartOwner
	Coupon Coupon
}

type SetShippingMethodCommand struct {
	Owner  CartOwner
	Method ShippingMethod
}

// StockLine identifies one product quantity inside a batch reservation.
type StockLine struct {
	ProductID string
	Quantity  int
}

// OrderNumber pairs the daily sequence number with its derived invoice number.
type OrderNumber struct {
	Number  string
	Invoice string
}

type CreateOrderCommand struct {
	Owner           CartOwner
	UserID          string
	ShippingAddress Address
}

type GetOrderCommand struct {
	OrderID string
	ActorID string
	IsAdmin bool
}

type ListOrdersCommand struct {
	UserID     string
	Pagination Pagination
}

type TransitionOrderCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	ActorID      string
}

type CancelOrderCommand struct {
	OrderID string
	ActorID string
	IsAdmin bool
	Reason  string
}

type InitiatePaymentCommand struct {
	OrderID    string
	ActorID    string
	Provider   string
	SuccessURL string
	CancelURL  string
}

// PaymentIntent reports the provider session created for an order.
type PaymentIntent struct {
	CorrelationID string
	Provider      string
	CheckoutURL   string
	ExpiresAt     time.Time
}

// PaymentOutcome classifies the result of applying a provider confirmation.
type PaymentOutcome string

const (
	// PaymentApplied means the confirmation was applied to the order.
	PaymentApplied PaymentOutcome = "applied"
	// PaymentAlreadyApplied means the correlation ID was consumed before.
	PaymentAlreadyApplied PaymentOutcome = "already_applied"
	// PaymentOrderNotFound means the correlated order no longer exists.
	PaymentOrderNotFound PaymentOutcome = "order_not_found"
	// PaymentExpired means the pending record outlived its TTL before confirmation.
	PaymentExpired PaymentOutcome = "expired"
)

type ConfirmPaymentCommand struct {
	CorrelationID string
	Provider      string
	TransactionID string
	Status        string
	Amount        int64
	PayerEmail    string
}

// PaymentConfirmation carries the confirmation outcome and, when applied, the
// updated order.
type PaymentConfirmation struct {
	Outcome PaymentOutcome
	Order   *Order
}

// OrderEvent describes an order lifecycle notification.
type OrderEvent struct {
	Kind        domain.OrderEventKind
	OrderID     string
	OrderNumber string
	UserID      string
	Status      OrderStatus
	Total       int64
	Currency    string
	OccurredAt  time.Time
}
