package session

import (
	"context"

	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/events"
)

// UnaryCall is a single-shot or server-streamed dispatch. Body is the
// resolved JSON request.
type UnaryCall struct {
	TabID   string
	Service string
	Method  string
	Shape   domain.MethodShape
	Body    string
	Config  domain.EffectiveCallConfig
}

// StreamCall opens a client-streamed or bidirectional call.
type StreamCall struct {
	TabID   string
	Service string
	Method  string
	Shape   domain.MethodShape
	Config  domain.EffectiveCallConfig
}

// Backend executes calls. Server-streamed messages are not part of the
// returned result; the backend publishes them as events tagged with the
// tab id.
type Backend interface {
	ExecuteUnaryOrServerStream(ctx context.Context, call UnaryCall) (*domain.CallResult, error)
	OpenClientStream(ctx context.Context, call StreamCall) error
	SendStreamMessage(ctx context.Context, tabID, messageID, body string) error
	FinishStream(ctx context.Context, tabID string) (*domain.CallResult, error)
}

// StreamCanceler is implemented by backends that can tear down an open
// stream without finishing it.
type StreamCanceler interface {
	CancelStream(tabID string)
}

// EventSource delivers streamed messages.
type EventSource interface {
	Subscribe(ctx context.Context) (*events.Listener, error)
}

// WorkspaceSource supplies the data the manager reads and the history it
// writes.
type WorkspaceSource interface {
	Snapshot() (*domain.Workspace, error)
	RecordHistory(entry domain.HistoryEntry) (domain.HistoryEntry, error)
}
