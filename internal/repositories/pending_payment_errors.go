package repositories

import "fmt"

// PendingPaymentErrorCode enumerates failure reasons for pending payment operations.
type PendingPaymentErrorCode string

const (
	// PendingPaymentErrorUnknown represents an unspecified failure.
	PendingPaymentErrorUnknown PendingPaymentErrorCode = "pending_payment_unknown"
	// PendingPaymentErrorNotFound indicates no record exists for the correlation ID.
	PendingPaymentErrorNotFound PendingPaymentErrorCode = "pending_payment_not_found"
	// PendingPaymentErrorExpired indicates the record existed but had passed its expiry.
	PendingPaymentErrorExpired PendingPaymentErrorCode = "pending_payment_expired"
	// PendingPaymentErrorAlreadyExists indicates a record with the correlation ID is already stored.
	PendingPaymentErrorAlreadyExists PendingPaymentErrorCode = "pending_payment_already_exists"
	// PendingPaymentErrorInvalidInput indicates the caller supplied invalid arguments.
	PendingPaymentErrorInvalidInput PendingPaymentErrorCode = "pending_payment_invalid_input"
)

// PendingPaymentError wraps pending payment failures with machine readable codes.
type PendingPaymentError struct {
	Op      string
	Code    PendingPaymentErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *PendingPaymentError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *PendingPaymentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewPendingPaymentError constructs a typed pending payment error.
func NewPendingPaymentError(code PendingPaymentErrorCode, message string, err error) *PendingPaymentError {
	if message == "" {
		message = string(code)
	}
	return &PendingPaymentError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
