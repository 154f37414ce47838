package repositories

import "fmt"

// NotFoundError is a minimal RepositoryError for absent records. The
// Firestore-backed repositories return their own wrapped variants; this one
// serves in-memory implementations.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

func (e *NotFoundError) IsNotFound() bool { return true }

func (e *NotFoundError) IsConflict() bool { return false }

func (e *NotFoundError) IsUnavailable() bool { return false }

var _ RepositoryError = (*NotFoundError)(nil)
