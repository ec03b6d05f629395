package errors

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Classify converts any error into a CallError. Errors already classified
// are returned as-is, gRPC status errors go through ClassifyGRPCError and
// anything unrecognised becomes an Internal failure carrying the raw text.
func Classify(err error) *CallError {
	if err == nil {
		return nil
	}

	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &CallError{
			Code:     codes.DeadlineExceeded,
			Message:  "The server took too long to respond.",
			Category: "timeout",
			Hints:    []string{"Try again", "Increase the timeout setting"},
			Details:  err.Error(),
			Err:      err,
		}

	case errors.Is(err, context.Canceled):
		return &CallError{
			Code:     codes.Canceled,
			Message:  "The operation was cancelled.",
			Category: "cancelled",
			Details:  err.Error(),
			Err:      err,
		}

	case errors.Is(err, ErrConnectionFailed):
		return &CallError{
			Code:     codes.Unavailable,
			Message:  err.Error(),
			Category: "connection",
			Hints: []string{
				"Check that the server is running",
				"Verify the address and port",
			},
			Err: err,
		}
	}

	var validationErr ValidationError
	if errors.As(err, &validationErr) {
		return &CallError{
			Code:     codes.InvalidArgument,
			Message:  validationErr.Error(),
			Category: "validation",
			Hints:    []string{"Correct the request body and try again"},
			Err:      err,
		}
	}

	if _, ok := status.FromError(err); ok {
		return ClassifyGRPCError(err)
	}

	return &CallError{
		Code:     codes.Internal,
		Message:  err.Error(),
		Category: "internal",
		Err:      err,
	}
}
