package errors

import (
	"errors"

	"github.com/shhac/grpcdesk/internal/domain"
	"google.golang.org/grpc/codes"
)

// Sentinel errors for common failure modes.
var (
	ErrConnectionFailed   = errors.New("connection failed")
	ErrTabNotFound        = errors.New("tab not found")
	ErrStreamNotOpen      = errors.New("stream not open")
	ErrNoQueuedMessages   = errors.New("no queued messages")
	ErrMessageAlreadySent = errors.New("message already sent")
	ErrNothingSent        = errors.New("no messages have been sent")
	ErrUnsupportedShape   = errors.New("unsupported method shape")
	ErrNotFound           = errors.New("not found")
	ErrNoActiveWorkspace  = errors.New("no active workspace")
)

// ValidationError represents a field validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// CallError is a classified call failure with troubleshooting hints.
type CallError struct {
	Code     codes.Code
	Message  string
	Category string
	Hints    []string
	Details  string
	Err      error
}

func (e *CallError) Error() string {
	return e.Code.String() + ": " + e.Message
}

// Unwrap returns the underlying error.
func (e *CallError) Unwrap() error {
	return e.Err
}

// Failure converts the error into the form stored on a tab.
func (e *CallError) Failure() domain.CallFailure {
	return domain.CallFailure{
		Code:     int(e.Code),
		Message:  e.Message,
		Category: e.Category,
		Hints:    append([]string(nil), e.Hints...),
		Details:  e.Details,
	}
}
