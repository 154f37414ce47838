package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hazelcart/api/internal/domain"
	pfirestore "github.com/hazelcart/api/internal/platform/firestore"
	"github.com/hazelcart/api/internal/repositories"
)

const pendingPaymentsCollection = "pendingPayments"

type pendingPaymentDocument struct {
	OrderID   string    `firestore:"orderId"`
	Provider  string    `firestore:"provider"`
	Amount    int64     `firestore:"amount"`
	Currency  string    `firestore:"currency"`
	CreatedAt time.Time `firestore:"created_at"`
	ExpiresAt time.Time `firestore:"expires_at"`
}

func (d pendingPaymentDocument) toDomain(correlationID string) domain.PendingPayment {
	return domain.PendingPayment{
		CorrelationID: correlationID,
		OrderID:       d.OrderID,
		Provider:      d.Provider,
		Amount:        d.Amount,
		Currency:      d.Currency,
		CreatedAt:     d.CreatedAt,
		ExpiresAt:     d.ExpiresAt,
	}
}

// PendingPaymentRepository stores payment correlation records keyed by the
// provider correlation ID. Consume removes the record in the same transaction
// that reads it, which is what makes payment confirmation idempotent.
type PendingPaymentRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[pendingPaymentDocument]
}

// NewPendingPaymentRepository constructs a Firestore-backed pending payment repository.
func NewPendingPaymentRepository(provider *pfirestore.Provider) (*PendingPaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("pending payment repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[pendingPaymentDocument](provider, pendingPaymentsCollection, nil, nil)
	return &PendingPaymentRepository{provider: provider, base: base}, nil
}

// Create stores a new record, failing when the correlation ID is already taken.
func (r *PendingPaymentRepository) Create(ctx context.Context, pending domain.PendingPayment) error {
	if r == nil || r.base == nil {
		return errors.New("pending payment repository not initialised")
	}
	correlationID := strings.TrimSpace(pending.CorrelationID)
	if correlationID == "" {
		return repositories.NewPendingPaymentError(repositories.PendingPaymentErrorInvalidInput, "correlation id is required", nil)
	}
	if strings.TrimSpace(pending.OrderID) == "" {
		return repositories.NewPendingPaymentError(repositories.PendingPaymentErrorInvalidInput, "order id is required", nil)
	}
	if pending.ExpiresAt.IsZero() {
		return repositories.NewPendingPaymentError(repositories.PendingPaymentErrorInvalidInput, "expiry is required", nil)
	}

	doc := pendingPaymentDocument{
		OrderID:   strings.TrimSpace(pending.OrderID),
		Provider:  strings.TrimSpace(pending.Provider),
		Amount:    pending.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(pending.Currency)),
		CreatedAt: pending.CreatedAt.UTC(),
		ExpiresAt: pending.ExpiresAt.UTC(),
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	ref, err := r.base.DocumentRef(ctx, correlationID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return repositories.NewPendingPaymentError(repositories.PendingPaymentErrorAlreadyExists, fmt.Sprintf("pending payment %s already exists", correlationID), err)
		}
		return pfirestore.WrapError("pendingPayments.create", err)
	}
	return nil
}

// Consume atomically reads and deletes the record for correlationID. The
// second caller for the same ID observes NotFound, never a double apply.
// An expired record is deleted as well but reported as expired.
func (r *PendingPaymentRepository) Consume(ctx context.Context, correlationID string, now time.Time) (domain.PendingPayment, error) {
	if r == nil || r.provider == nil {
		return domain.PendingPayment{}, errors.New("pending payment repository not initialised")
	}
	id := strings.TrimSpace(correlationID)
	if id == "" {
		return domain.PendingPayment{}, repositories.NewPendingPaymentError(repositories.PendingPaymentErrorInvalidInput, "correlation id is required", nil)
	}
	now = now.UTC()

	var consumed domain.PendingPayment
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewPendingPaymentError(repositories.PendingPaymentErrorNotFound, fmt.Sprintf("pending payment %s not found", id), err)
			}
			return err
		}
		var doc pendingPaymentDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode pending payment %s: %w", id, err)
		}

		if err := tx.Delete(ref); err != nil {
			return err
		}

		if !doc.ExpiresAt.IsZero() && !now.Before(doc.ExpiresAt) {
			return repositories.NewPendingPaymentError(repositories.PendingPaymentErrorExpired, fmt.Sprintf("pending payment %s expired at %s", id, doc.ExpiresAt.Format(time.RFC3339)), nil)
		}

		consumed = doc.toDomain(id)
		return nil
	})
	if err != nil {
		var pendingErr *repositories.PendingPaymentError
		if errors.As(err, &pendingErr) {
			if pendingErr.Op == "" {
				pendingErr.Op = "pendingPayments.consume"
			}
			return domain.PendingPayment{}, pendingErr
		}
		return domain.PendingPayment{}, pfirestore.WrapError("pendingPayments.consume", err)
	}
	return consumed, nil
}

// CleanupExpired removes expired records up to the provided limit.
func (r *PendingPaymentRepository) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("pending payment repository not initialised")
	}
	now = now.UTC()
	if limit <= 0 {
		limit = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("pendingPayments.cleanup", err)
	}

	query := client.Collection(pendingPaymentsCollection).Where("expires_at", "<=", now).Limit(limit)
	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("pendingPayments.cleanup", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	writer := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := writer.Delete(doc.Ref); err != nil {
			writer.End()
			return 0, pfirestore.WrapError("pendingPayments.cleanup", err)
		}
	}
	writer.End()

	return len(docs), nil
}

var _ repositories.PendingPaymentRepository = (*PendingPaymentRepository)(nil)
