package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jhump/protoreflect/desc"
	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/errors"
	"github.com/shhac/grpcdesk/internal/session"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Publisher receives streamed response messages.
type Publisher interface {
	Publish(evt domain.StreamEvent)
}

// Backend executes calls against real servers. It resolves methods over
// server reflection and publishes streamed responses as events tagged with
// the originating tab.
type Backend struct {
	conns     *ConnectionManager
	reflector *Reflector
	invoker   *Invoker
	events    Publisher
	logger    *slog.Logger

	mu      sync.Mutex
	streams map[string]*StreamHandle
}

var (
	_ session.Backend        = (*Backend)(nil)
	_ session.StreamCanceler = (*Backend)(nil)
)

// NewBackend creates a backend that dials through conns.
func NewBackend(conns *ConnectionManager, events Publisher, logger *slog.Logger) *Backend {
	return &Backend{
		conns:     conns,
		reflector: NewReflector(logger),
		invoker:   NewInvoker(logger),
		events:    events,
		logger:    logger,
		streams:   make(map[string]*StreamHandle),
	}
}

// ListServices returns the services exposed at endpoint.
func (b *Backend) ListServices(ctx context.Context, endpoint domain.Endpoint, tls domain.TLSConfig) ([]domain.Service, error) {
	conn, err := b.dial(ctx, endpoint, tls)
	if err != nil {
		return nil, err
	}
	// A fresh listing replaces descriptors resolved against an older
	// server build.
	b.reflector.Forget(conn)
	services, err := b.reflector.ListServices(ctx, conn)
	if err != nil {
		return nil, callError(err)
	}
	return services, nil
}

// ExecuteUnaryOrServerStream runs a unary or server streaming call. Server
// streamed messages are published as they arrive; the returned result only
// carries the count.
func (b *Backend) ExecuteUnaryOrServerStream(ctx context.Context, call session.UnaryCall) (*domain.CallResult, error) {
	conn, method, err := b.prepare(ctx, call.Config, call.Service, call.Method)
	if err != nil {
		return nil, err
	}
	if method.IsClientStreaming() {
		return nil, fmt.Errorf("%s is %s: %w", method.GetFullyQualifiedName(), shapeOf(method), errors.ErrUnsupportedShape)
	}

	md, err := OutgoingMetadata(call.Config.Metadata, call.Config.Auth)
	if err != nil {
		return nil, err
	}

	var resp *Response
	if method.IsServerStreaming() {
		resp, err = b.invoker.InvokeServerStream(ctx, conn, method, call.Body, md, b.publisher(call.TabID))
	} else {
		resp, err = b.invoker.InvokeUnary(ctx, conn, method, call.Body, md)
	}
	if err != nil {
		return nil, callError(err)
	}
	return result(resp), nil
}

// OpenClientStream starts a client streaming or bidirectional call for
// call.TabID. Any stream already open for that tab is cancelled first.
func (b *Backend) OpenClientStream(ctx context.Context, call session.StreamCall) error {
	conn, method, err := b.prepare(ctx, call.Config, call.Service, call.Method)
	if err != nil {
		return err
	}
	if !method.IsClientStreaming() {
		return fmt.Errorf("%s is %s: %w", method.GetFullyQualifiedName(), shapeOf(method), errors.ErrUnsupportedShape)
	}

	md, err := OutgoingMetadata(call.Config.Metadata, call.Config.Auth)
	if err != nil {
		return err
	}

	// The stream outlives the request that opened it.
	streamCtx := context.WithoutCancel(ctx)
	handle, err := b.invoker.OpenStream(streamCtx, conn, method, md, b.publisher(call.TabID))
	if err != nil {
		return callError(err)
	}

	b.mu.Lock()
	prev := b.streams[call.TabID]
	b.streams[call.TabID] = handle
	b.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	b.logger.Debug("stream opened",
		slog.String("tab_id", call.TabID),
		slog.String("method", method.GetFullyQualifiedName()),
	)
	return nil
}

// SendStreamMessage sends body on the tab's open stream.
func (b *Backend) SendStreamMessage(ctx context.Context, tabID, messageID, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	handle := b.stream(tabID)
	if handle == nil {
		return fmt.Errorf("tab %s: %w", tabID, errors.ErrStreamNotOpen)
	}

	b.logger.Debug("sending stream message",
		slog.String("tab_id", tabID),
		slog.String("message_id", messageID),
	)
	if err := handle.Send(body); err != nil {
		return callError(err)
	}
	return nil
}

// FinishStream half-closes the tab's stream and waits for the final status.
// Cancelling ctx aborts the call.
func (b *Backend) FinishStream(ctx context.Context, tabID string) (*domain.CallResult, error) {
	b.mu.Lock()
	handle := b.streams[tabID]
	delete(b.streams, tabID)
	b.mu.Unlock()
	if handle == nil {
		return nil, fmt.Errorf("tab %s: %w", tabID, errors.ErrStreamNotOpen)
	}

	stop := context.AfterFunc(ctx, handle.Cancel)
	defer stop()

	resp, err := handle.Finish()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, callError(err)
	}
	return result(resp), nil
}

// CancelStream aborts the tab's stream, if any.
func (b *Backend) CancelStream(tabID string) {
	b.mu.Lock()
	handle := b.streams[tabID]
	delete(b.streams, tabID)
	b.mu.Unlock()

	if handle != nil {
		handle.Cancel()
		b.logger.Debug("stream cancelled", slog.String("tab_id", tabID))
	}
}

// OpenStreams returns the number of streams currently open.
func (b *Backend) OpenStreams() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}

// Close cancels every open stream and closes all connections.
func (b *Backend) Close() error {
	b.mu.Lock()
	streams := b.streams
	b.streams = make(map[string]*StreamHandle)
	b.mu.Unlock()

	for _, handle := range streams {
		handle.Cancel()
	}
	return b.conns.CloseAll()
}

func (b *Backend) stream(tabID string) *StreamHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[tabID]
}

func (b *Backend) dial(ctx context.Context, endpoint domain.Endpoint, tls domain.TLSConfig) (*grpc.ClientConn, error) {
	conn, err := b.conns.Get(ctx, endpoint, tls)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrConnectionFailed, endpoint.Address(), err)
	}
	return conn, nil
}

func (b *Backend) prepare(ctx context.Context, cfg domain.EffectiveCallConfig, service, method string) (*grpc.ClientConn, *desc.MethodDescriptor, error) {
	conn, err := b.dial(ctx, cfg.Endpoint, cfg.TLS)
	if err != nil {
		return nil, nil, err
	}
	md, err := b.reflector.ResolveMethod(ctx, conn, service, method)
	if err != nil {
		return nil, nil, callError(err)
	}
	return conn, md, nil
}

func (b *Backend) publisher(tabID string) MessageFunc {
	return func(index int, body string) {
		b.events.Publish(domain.StreamEvent{
			TabID:     tabID,
			Index:     index,
			Data:      body,
			Timestamp: time.Now(),
		})
	}
}

func result(resp *Response) *domain.CallResult {
	return &domain.CallResult{
		StatusCode:    int(codes.OK),
		StatusMessage: codes.OK.String(),
		Response:      resp.Body,
		MessageCount:  resp.Count,
		ResponseSize:  resp.Size,
		Headers:       flattenMD(resp.Headers),
		Trailers:      flattenMD(resp.Trailers),
	}
}

// callError classifies gRPC status errors; everything else passes through
// for the session manager to classify.
func callError(err error) error {
	if _, ok := status.FromError(err); ok {
		return errors.ClassifyGRPCError(err)
	}
	return err
}

func shapeOf(md *desc.MethodDescriptor) domain.MethodShape {
	return domain.Method{
		IsClientStream: md.IsClientStreaming(),
		IsServerStream: md.IsServerStreaming(),
	}.Shape()
}
