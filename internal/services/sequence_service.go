package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hazelcart/api/internal/repositories"
)

var (
	// ErrSequenceExhausted indicates the per-day counter ran out of room.
	ErrSequenceExhausted = errors.New("sequence: daily sequence exhausted")
	// ErrSequenceUnavailable indicates the counter store rejected the request.
	ErrSequenceUnavailable = errors.New("sequence: counter unavailable")
)

// SequenceServiceDeps bundles the collaborators required to construct a sequence service.
type SequenceServiceDeps struct {
	Sequences repositories.SequenceRepository
	Clock     func() time.Time
}

type sequenceService struct {
	sequences repositories.SequenceRepository
	clock     func() time.Time
}

// NewSequenceService wires dependencies into a concrete SequenceService implementation.
func NewSequenceService(deps SequenceServiceDeps) (SequenceService, error) {
	if deps.Sequences == nil {
		return nil, errors.New("sequence service: sequence repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &sequenceService{
		sequences: deps.Sequences,
		clock:     func() time.Time { return clock().UTC() },
	}, nil
}

// NextOrderNumber allocates the next number for the current UTC day. Numbers
// are strictly increasing within a day; gaps are acceptable because the
// counter advances even when the surrounding order creation fails.
func (s *sequenceService) NextOrderNumber(ctx context.Context) (OrderNumber, error) {
	day := s.clock().Format("20060102")

	seq, err := s.sequences.NextOrderSequence(ctx, day)
	if err != nil {
		return OrderNumber{}, s.mapRepositoryError(err)
	}

	number := fmt.Sprintf("%s%04d", day, seq)
	return OrderNumber{
		Number:  number,
		Invoice: "INV-" + number,
	}, nil
}

func (s *sequenceService) mapRepositoryError(err error) error {
	var seqErr *repositories.SequenceError
	if errors.As(err, &seqErr) {
		switch seqErr.Code {
		case repositories.SequenceErrorExhausted:
			return fmt.Errorf("%w: %s", ErrSequenceExhausted, seqErr.Message)
		case repositories.SequenceErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrSequenceUnavailable, seqErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", ErrSequenceUnavailable, err)
}
