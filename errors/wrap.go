package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap adds context to err while keeping the chain intact. A wrapped *Error
// keeps its code, category, retryability, and agent/task/workflow ids; a
// context error maps to Timeout or Canceled; anything else becomes Internal.
// Wrap(nil, ...) is nil.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var agentErr *Error
	if errors.As(err, &agentErr) {
		wrapped := &Error{
			code:       agentErr.code,
			category:   agentErr.category,
			message:    message,
			cause:      err,
			metadata:   agentErr.Metadata(),
			retryable:  agentErr.retryable,
			agentID:    agentErr.agentID,
			taskID:     agentErr.taskID,
			workflowID: agentErr.workflowID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	code := ErrCodeInternal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		code = ErrCodeCanceled
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps err under an explicit code, ignoring any code on err
// itself. Returns nil when err is nil.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// AsAgentError extracts the first *Error in the chain, or nil.
func AsAgentError(err error) AgentError {
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr
	}
	return nil
}

// Is reports whether the chain carries the given code.
func Is(err error, code ErrorCode) bool {
	return Code(err) == code && code != ""
}

// IsCategory reports whether the chain carries the given category.
func IsCategory(err error, category ErrorCategory) bool {
	return Category(err) == category && category != ""
}

// IsRetryable reports whether a retry may succeed. Errors outside this
// package's taxonomy are treated as not retryable.
func IsRetryable(err error) bool {
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr.Retryable()
	}
	return false
}

// IsTransient reports whether the error is in the Transient category.
func IsTransient(err error) bool { return IsCategory(err, CategoryTransient) }

// IsPermanent reports whether the error is in the Permanent category.
func IsPermanent(err error) bool { return IsCategory(err, CategoryPermanent) }

// IsResource reports whether the error is in the Resource category.
func IsResource(err error) bool { return IsCategory(err, CategoryResource) }

// IsInternal reports whether the error is in the Internal category.
func IsInternal(err error) bool { return IsCategory(err, CategoryInternal) }

// Code returns the chain's error code, or "" for errors outside the
// taxonomy.
func Code(err error) ErrorCode {
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr.code
	}
	return ""
}

// Category returns the chain's error category, or "".
func Category(err error) ErrorCategory {
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr.category
	}
	return ""
}

// Cause walks Unwrap to the bottom of the chain.
func Cause(err error) error {
	for {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := unwrapper.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}

// RecoverPanic converts a recovered panic value into a Panic-coded Error.
// RecoverPanic(nil) is nil, so it composes with a bare recover().
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
