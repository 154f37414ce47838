package repositories

import (
	"context"
	"time"

	domain "github.com/hazelcart/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository persists cart documents keyed by their owner.
type CartRepository interface {
	Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	Get(ctx context.Context, owner domain.CartOwner) (domain.Cart, error)
	Delete(ctx context.Context, owner domain.CartOwner) error
}

// ProductRepository reads catalog records and owns the authoritative stock counters.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	// DecrementStock atomically decrements countInStock only when the current
	// value is at least qty. A shortfall fails the whole transaction.
	DecrementStock(ctx context.Context, productID string, qty int) (domain.Product, error)
	// IncrementStock atomically adds qty back without any upper bound check.
	IncrementStock(ctx context.Context, productID string, qty int) (domain.Product, error)
	Upsert(ctx context.Context, product domain.Product) (domain.Product, error)
}

// SequenceRepository provides transaction-safe per-day order sequence numbers.
type SequenceRepository interface {
	NextOrderSequence(ctx context.Context, day string) (int64, error)
}

// OrderRepository persists order documents and provides query helpers.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	Update(ctx context.Context, order domain.Order, expectedUpdate *time.Time) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	// FindByCorrelationID resolves the order whose recorded payment carries
	// the correlation ID. Used for confirmations arriving after the pending
	// record is gone.
	FindByCorrelationID(ctx context.Context, correlationID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
}

// PendingPaymentRepository stores TTL-bearing payment correlation records. A
// record is consumed at most once; concurrent confirms race on the delete.
type PendingPaymentRepository interface {
	Create(ctx context.Context, pending domain.PendingPayment) error
	// Consume atomically reads and deletes the record for correlationID.
	// Entries past their expiry are deleted and reported as expired.
	Consume(ctx context.Context, correlationID string, now time.Time) (domain.PendingPayment, error)
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
