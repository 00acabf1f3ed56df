package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error carries repository semantics for a failed Firestore call. It satisfies
// repositories.RepositoryError.
type Error struct {
	op   string
	err  error
	code codes.Code
}

func (e *Error) Error() string {
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// IsNotFound reports whether the document did not exist.
func (e *Error) IsNotFound() bool {
	return e != nil && e.code == codes.NotFound
}

// IsConflict reports whether the write lost a race or violated a precondition.
func (e *Error) IsConflict() bool {
	if e == nil {
		return false
	}
	switch e.code {
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return true
	}
	return false
}

// IsUnavailable reports whether the backend is temporarily unreachable.
func (e *Error) IsUnavailable() bool {
	if e == nil {
		return false
	}
	switch e.code {
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return true
	}
	return false
}

// WrapError classifies err by its gRPC status. Context cancellation passes through unwrapped.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var existing *Error
	if errors.As(err, &existing) {
		if existing.op == "" {
			existing.op = op
		}
		return existing
	}
	return &Error{op: op, err: err, code: code}
}

// IsNotFoundStatus reports whether err is a raw NotFound status from the Firestore client.
func IsNotFoundStatus(err error) bool {
	return status.Code(err) == codes.NotFound
}

// IsAlreadyExistsStatus reports whether err is an AlreadyExists status, as returned by
// Create on an existing document. Wrapped errors are classified by their recorded code.
func IsAlreadyExistsStatus(err error) bool {
	var wrapped *Error
	if errors.As(err, &wrapped) {
		return wrapped.code == codes.AlreadyExists
	}
	return status.Code(err) == codes.AlreadyExists
}
