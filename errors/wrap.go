package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already an *Error, the wrapper keeps its code and category.
// Context errors become TIMEOUT or CANCELED; anything else is INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var te *Error
	if errors.As(err, &te) {
		wrapped := &Error{
			code:      te.code,
			category:  te.category,
			message:   message,
			cause:     err,
			metadata:  te.Metadata(),
			retryable: te.retryable,
			timestamp: te.timestamp,
			agent:     te.agent,
			address:   te.address,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsTransportError extracts the first *Error from an error chain.
// Returns nil if none is found.
func AsTransportError(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return nil
}

// Is checks if the first *Error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	if te := AsTransportError(err); te != nil {
		return te.code == code
	}
	return false
}

// IsCategory checks if the first *Error in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	if te := AsTransportError(err); te != nil {
		return te.category == category
	}
	return false
}

// IsRetryable checks if the error is retryable.
// Errors outside this taxonomy are never retryable.
func IsRetryable(err error) bool {
	if te := AsTransportError(err); te != nil {
		return te.Retryable()
	}
	return false
}

// IsTransient checks if the error is transient.
func IsTransient(err error) bool {
	return IsCategory(err, CategoryTransient)
}

// IsPermanent checks if the error is permanent.
func IsPermanent(err error) bool {
	return IsCategory(err, CategoryPermanent)
}

// Code extracts the error code from an error, if available.
func Code(err error) ErrorCode {
	if te := AsTransportError(err); te != nil {
		return te.code
	}
	return ""
}

// Category extracts the error category from an error, if available.
func Category(err error) ErrorCategory {
	if te := AsTransportError(err); te != nil {
		return te.category
	}
	return ""
}
