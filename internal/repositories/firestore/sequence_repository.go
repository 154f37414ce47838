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

	pfirestore "github.com/hazelcart/api/internal/platform/firestore"
	"github.com/hazelcart/api/internal/repositories"
)

const (
	orderSequencesCollection = "orderSequences"

	// maxDailySequence bounds the zero-padded four digit suffix of order numbers.
	maxDailySequence = 9999
)

type sequenceDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// SequenceRepository implements repositories.SequenceRepository with one
// Firestore document per calendar day, incremented transactionally.
type SequenceRepository struct {
	provider  *pfirestore.Provider
	sequences *pfirestore.BaseRepository[sequenceDocument]
}

// NewSequenceRepository constructs a Firestore-backed sequence repository.
func NewSequenceRepository(provider *pfirestore.Provider) (*SequenceRepository, error) {
	if provider == nil {
		return nil, errors.New("sequence repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[sequenceDocument](provider, orderSequencesCollection, nil, nil)
	return &SequenceRepository{
		provider:  provider,
		sequences: base,
	}, nil
}

// NextOrderSequence atomically increments the counter for the given day key
// and returns the next value. The first call of a day creates the document
// with value 1. Values are never reused; a failed caller leaves a gap.
func (r *SequenceRepository) NextOrderSequence(ctx context.Context, day string) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("sequence repository not initialised")
	}
	id := strings.TrimSpace(day)
	if len(id) != 8 {
		return 0, repositories.NewSequenceError(repositories.SequenceErrorInvalidInput, fmt.Sprintf("day key must be YYYYMMDD, got %q", day), nil)
	}

	now := time.Now().UTC()
	var nextValue int64

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.sequences.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.NotFound:
			doc := sequenceDocument{
				CurrentValue: 1,
				UpdatedAt:    now,
			}
			if err := tx.Create(ref, doc); err != nil {
				return err
			}
			nextValue = doc.CurrentValue
			return nil
		case codes.OK:
			// proceed
		default:
			return err
		}

		var doc sequenceDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore order sequences decode %s: %w", id, err)
		}

		newValue := doc.CurrentValue + 1
		if newValue > maxDailySequence {
			return repositories.NewSequenceError(repositories.SequenceErrorExhausted, fmt.Sprintf("sequence %s exceeded max value %d", id, maxDailySequence), nil)
		}

		doc.CurrentValue = newValue
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc, firestore.MergeAll); err != nil {
			return err
		}
		nextValue = newValue
		return nil
	})
	if err != nil {
		var seqErr *repositories.SequenceError
		if errors.As(err, &seqErr) {
			if seqErr.Op == "" {
				seqErr.Op = "orderSequences.next"
			}
			return 0, seqErr
		}
		return 0, pfirestore.WrapError("orderSequences.next", err)
	}
	return nextValue, nil
}

var _ repositories.SequenceRepository = (*SequenceRepository)(nil)
