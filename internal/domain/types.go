package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// CartOwner identifies the single owner of a cart. Exactly one of UserID or
// SessionID is set; a merged cart never keeps its session identifier.
type CartOwner struct {
	UserID    string
	SessionID string
}

// IsZero reports whether neither identifier is present.
func (o CartOwner) IsZero() bool {
	return o.UserID == "" && o.SessionID == ""
}

// Key returns the storage key for the owner ("user:<id>" or "session:<id>").
func (o CartOwner) Key() string {
	if o.UserID != "" {
		return "user:" + o.UserID
	}
	if o.SessionID != "" {
		return "session:" + o.SessionID
	}
	return ""
}

// Cart aggregates the mutable shopping state for one user or guest session.
type Cart struct {
	ID             string
	Owner          CartOwner
	Currency       string
	Items          []CartItem
	Coupon         *Coupon
	ShippingMethod *ShippingMethod
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Subtotal sums unit price times quantity over all items.
func (c Cart) Subtotal() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.UnitPrice * int64(item.Quantity)
	}
	return total
}

// CartItem snapshots product data at read time. UnitPrice and Quantity are
// cached values revalidated against the live product record on every read.
type CartItem struct {
	ProductID string
	Name      string
	Image     string
	Variant   string
	UnitPrice int64
	Quantity  int
	AddedAt   time.Time
}

// CouponKind enumerates supported discount shapes.
type CouponKind string

const (
	// CouponPercentage discounts a percentage of the items subtotal.
	CouponPercentage CouponKind = "percentage"
	// CouponFixed discounts a fixed amount, capped at the items subtotal.
	CouponFixed CouponKind = "fixed"
	// CouponFreeShipping zeroes the shipping price and nothing else.
	CouponFreeShipping CouponKind = "free_shipping"
)

// Coupon is the discount descriptor applied to a cart.
type Coupon struct {
	Code  string
	Kind  CouponKind
	Value int64
}

// ShippingMethod carries the flat shipping price selected for the cart.
type ShippingMethod struct {
	Code  string
	Name  string
	Price int64
}

// Product is the catalog record owning the authoritative stock counter.
// Only the stock ledger mutates CountInStock once an order is being placed.
type Product struct {
	ID           string
	Name         string
	Image        string
	Price        int64
	CountInStock int
	IsActive     bool
	UpdatedAt    time.Time
}

// OrderStatus enumerates lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates payment succeeded and fulfillment started.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer. Terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before shipment. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates a paid order was refunded. Terminal.
	OrderStatusRefunded OrderStatus = "refunded"
)

// Order is created once from a cart snapshot and never deleted. Items and
// totals are frozen at creation and never recomputed afterwards.
type Order struct {
	ID              string
	OrderNumber     string
	InvoiceNumber   string
	UserID          string
	Status          OrderStatus
	Currency        string
	Items           []OrderItem
	ShippingAddress Address
	Totals          OrderTotals
	PaymentResult   *PaymentResult
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PaidAt          *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CanceledAt      *time.Time
	RefundedAt      *time.Time
	CancelReason    string
}

// IsPaid is a read-only projection of the payment timestamp.
func (o Order) IsPaid() bool { return o.PaidAt != nil }

// IsDelivered is a read-only projection of the delivery timestamp.
func (o Order) IsDelivered() bool { return o.DeliveredAt != nil }

// OrderItem is a deep copy of a cart item taken at order creation.
type OrderItem struct {
	ProductID string
	Name      string
	Image     string
	Variant   string
	UnitPrice int64
	Quantity  int
}

// OrderTotals holds the frozen pricing breakdown in minor currency units.
// Total always equals Items - Discount + Shipping + Tax.
type OrderTotals struct {
	Items    int64
	Discount int64
	Shipping int64
	Tax      int64
	Total    int64
}

// PaymentResult records the provider outcome applied to an order.
type PaymentResult struct {
	Provider      string
	CorrelationID string
	TransactionID string
	Status        string
	Amount        int64
	PayerEmail    string
	ReceivedAt    time.Time
}

// PendingPayment maps a provider correlation ID to an order awaiting
// confirmation. Consumed exactly once; entries expire after a fixed TTL.
type PendingPayment struct {
	CorrelationID string
	OrderID       string
	Provider      string
	Amount        int64
	Currency      string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Address represents the postal address snapshot stored on an order.
type Address struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Country    string
	Phone      string
}

// OrderEventKind enumerates notification events emitted on status changes.
type OrderEventKind string

const (
	// OrderEventCreated fires when a pending order is persisted.
	OrderEventCreated OrderEventKind = "order.created"
	// OrderEventPaid fires when payment is applied.
	OrderEventPaid OrderEventKind = "order.paid"
	// OrderEventStatusChanged fires on every other lifecycle transition.
	OrderEventStatusChanged OrderEventKind = "order.status_changed"
)
