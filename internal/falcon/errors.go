package falcon

import (
	"errors"
	"fmt"
)

// ErrorCategory is the normalized failure taxonomy for transport errors.
type ErrorCategory string

const (
	// ErrorTimeout indicates the request exceeded its deadline
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorCanceled indicates the caller canceled the context, e.g. on SIGINT
	ErrorCanceled ErrorCategory = "canceled"

	// ErrorBadData indicates the API answered with a body we could not decode
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorAuthentication indicates the token endpoint failed outside of a
	// plain credential rejection (e.g. while refreshing mid-sweep)
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorUnavailable indicates the API could not be reached
	ErrorUnavailable ErrorCategory = "unavailable"

	// ErrorRateLimited indicates the client-side limiter gave up waiting
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorInternal indicates a request could not be built
	ErrorInternal ErrorCategory = "internal"
)

// TransportError wraps a failed round-trip with a normalized category. The
// registry and resolver propagate it unchanged.
type TransportError struct {
	Category   ErrorCategory
	Operation  Operation
	Message    string
	Underlying error
}

func (e *TransportError) Error() string {
	op := string(e.Operation)
	if op == "" {
		op = "falcon"
	}
	if e.Underlying != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", op, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s [%s]: %s", op, e.Category, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Underlying
}

// NewTransportError creates a normalized transport error.
func NewTransportError(category ErrorCategory, op Operation, message string, underlying error) *TransportError {
	return &TransportError{
		Category:   category,
		Operation:  op,
		Message:    message,
		Underlying: underlying,
	}
}

// GetCategory extracts the error category from an error chain.
func GetCategory(err error) ErrorCategory {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Category
	}
	return ErrorInternal
}

// IsTransportError reports whether err originated in the transport.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
