package grpc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/dynamic/grpcdynamic"
	"github.com/shhac/grpcdesk/internal/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/protoadapt"
)

// maxLogBodyLen caps request and response bodies in debug logs.
const maxLogBodyLen = 1024

func truncateForLog(s string) string {
	if len(s) <= maxLogBodyLen {
		return s
	}
	return s[:maxLogBodyLen] + fmt.Sprintf("... (%d bytes total)", len(s))
}

// Response is the outcome of an invocation. For streamed responses Body is
// empty, Count holds the number of messages received and Size their total
// JSON length.
type Response struct {
	Body     string
	Count    int
	Size     int
	Headers  metadata.MD
	Trailers metadata.MD
}

// MessageFunc receives one streamed response message.
type MessageFunc func(index int, body string)

// Invoker handles dynamic gRPC invocations using reflection-based message types.
// It supports unary and streaming RPC patterns without requiring generated code.
type Invoker struct {
	logger *slog.Logger
}

// NewInvoker creates a new dynamic gRPC invoker.
func NewInvoker(logger *slog.Logger) *Invoker {
	return &Invoker{logger: logger}
}

func parseRequest(method *desc.MethodDescriptor, jsonRequest string) (*dynamic.Message, error) {
	reqMsg := dynamic.NewMessage(method.GetInputType())
	if err := reqMsg.UnmarshalJSON([]byte(jsonRequest)); err != nil {
		return nil, errors.ValidationError{
			Field:   "body",
			Message: fmt.Sprintf("invalid request JSON for %s: %v", method.GetInputType().GetFullyQualifiedName(), err),
		}
	}
	return reqMsg, nil
}

func marshalMessage(msg protoadapt.MessageV1) (string, error) {
	if dm, ok := msg.(*dynamic.Message); ok {
		out, err := dm.MarshalJSON()
		if err != nil {
			return "", fmt.Errorf("failed to format response: %w", err)
		}
		return string(out), nil
	}
	out, err := protojson.Marshal(protoadapt.MessageV2Of(msg))
	if err != nil {
		return "", fmt.Errorf("failed to format response: %w", err)
	}
	return string(out), nil
}

// InvokeUnary calls a unary RPC method dynamically.
func (i *Invoker) InvokeUnary(
	ctx context.Context,
	conn grpc.ClientConnInterface,
	method *desc.MethodDescriptor,
	jsonRequest string,
	md metadata.MD,
) (*Response, error) {
	methodName := method.GetFullyQualifiedName()
	i.logger.Debug("invoking unary RPC",
		slog.String("method", methodName),
		slog.String("request", truncateForLog(jsonRequest)),
	)

	reqMsg, err := parseRequest(method, jsonRequest)
	if err != nil {
		return nil, err
	}

	if len(md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}

	resp := &Response{}
	respMsg, err := grpcdynamic.NewStub(conn).InvokeRpc(ctx, method, reqMsg,
		grpc.Header(&resp.Headers),
		grpc.Trailer(&resp.Trailers),
	)
	if err != nil {
		i.logger.Error("RPC invocation failed",
			slog.String("method", methodName),
			slog.Any("error", err),
		)
		return resp, err
	}

	resp.Body, err = marshalMessage(respMsg)
	if err != nil {
		return resp, err
	}
	resp.Count = 1
	resp.Size = len(resp.Body)

	i.logger.Debug("unary RPC completed",
		slog.String("method", methodName),
		slog.String("response", truncateForLog(resp.Body)),
	)
	return resp, nil
}

// InvokeServerStream calls a server streaming RPC and hands each message to
// onMessage, in arrival order, before returning.
func (i *Invoker) InvokeServerStream(
	ctx context.Context,
	conn grpc.ClientConnInterface,
	method *desc.MethodDescriptor,
	jsonRequest string,
	md metadata.MD,
	onMessage MessageFunc,
) (*Response, error) {
	methodName := method.GetFullyQualifiedName()
	i.logger.Debug("invoking server streaming RPC",
		slog.String("method", methodName),
		slog.String("request", truncateForLog(jsonRequest)),
	)

	reqMsg, err := parseRequest(method, jsonRequest)
	if err != nil {
		return nil, err
	}

	if len(md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}

	stream, err := grpcdynamic.NewStub(conn).InvokeRpcServerStream(ctx, method, reqMsg)
	if err != nil {
		i.logger.Error("failed to start server stream",
			slog.String("method", methodName),
			slog.Any("error", err),
		)
		return nil, err
	}

	resp := &Response{}
	for {
		respMsg, err := stream.RecvMsg()
		if err == io.EOF {
			break
		}
		if err != nil {
			i.logger.Error("stream receive error",
				slog.String("method", methodName),
				slog.Int("message_count", resp.Count),
				slog.Any("error", err),
			)
			resp.Headers, _ = stream.Header()
			resp.Trailers = stream.Trailer()
			return resp, err
		}

		body, err := marshalMessage(respMsg)
		if err != nil {
			return resp, err
		}
		if onMessage != nil {
			onMessage(resp.Count, body)
		}
		resp.Count++
		resp.Size += len(body)
	}

	resp.Headers, _ = stream.Header()
	resp.Trailers = stream.Trailer()

	i.logger.Debug("server stream completed",
		slog.String("method", methodName),
		slog.Int("message_count", resp.Count),
	)
	return resp, nil
}

// OpenStream starts a client streaming or bidirectional RPC. For
// bidirectional methods responses are delivered to onMessage from a
// receiver goroutine until the server ends the stream.
//
// The stream is bound to ctx; cancelling it aborts the call.
func (i *Invoker) OpenStream(
	ctx context.Context,
	conn grpc.ClientConnInterface,
	method *desc.MethodDescriptor,
	md metadata.MD,
	onMessage MessageFunc,
) (*StreamHandle, error) {
	methodName := method.GetFullyQualifiedName()
	i.logger.Debug("opening client stream",
		slog.String("method", methodName),
		slog.Bool("bidi", method.IsServerStreaming()),
	)

	if len(md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}
	ctx, cancel := context.WithCancel(ctx)

	h := &StreamHandle{
		method: method,
		logger: i.logger,
		cancel: cancel,
	}

	stub := grpcdynamic.NewStub(conn)
	if method.IsServerStreaming() {
		stream, err := stub.InvokeRpcBidiStream(ctx, method)
		if err != nil {
			cancel()
			i.logger.Error("failed to start bidi stream",
				slog.String("method", methodName),
				slog.Any("error", err),
			)
			return nil, err
		}
		h.bidi = stream
		h.recvDone = make(chan struct{})
		go h.receive(onMessage)
	} else {
		stream, err := stub.InvokeRpcClientStream(ctx, method)
		if err != nil {
			cancel()
			i.logger.Error("failed to start client stream",
				slog.String("method", methodName),
				slog.Any("error", err),
			)
			return nil, err
		}
		h.client = stream
	}

	return h, nil
}

// StreamHandle represents an active client streaming or bidirectional
// call. Send may not be called concurrently with itself or Finish.
type StreamHandle struct {
	method *desc.MethodDescriptor
	logger *slog.Logger
	cancel context.CancelFunc

	client *grpcdynamic.ClientStream
	bidi   *grpcdynamic.BidiStream

	recvDone      chan struct{}
	mu            sync.Mutex
	received      int
	receivedBytes int
	recvErr       error
}

func (h *StreamHandle) receive(onMessage MessageFunc) {
	defer close(h.recvDone)
	methodName := h.method.GetFullyQualifiedName()

	for {
		respMsg, err := h.bidi.RecvMsg()
		if err == io.EOF {
			return
		}
		if err != nil {
			h.logger.Debug("bidi stream receive ended",
				slog.String("method", methodName),
				slog.Any("error", err),
			)
			h.mu.Lock()
			h.recvErr = err
			h.mu.Unlock()
			return
		}

		body, err := marshalMessage(respMsg)
		if err != nil {
			h.mu.Lock()
			h.recvErr = err
			h.mu.Unlock()
			h.cancel()
			return
		}

		h.mu.Lock()
		index := h.received
		h.received++
		h.receivedBytes += len(body)
		h.mu.Unlock()

		if onMessage != nil {
			onMessage(index, body)
		}
	}
}

// Send sends one JSON message on the stream.
func (h *StreamHandle) Send(jsonRequest string) error {
	methodName := h.method.GetFullyQualifiedName()
	h.logger.Debug("sending stream message",
		slog.String("method", methodName),
		slog.String("request", truncateForLog(jsonRequest)),
	)

	reqMsg, err := parseRequest(h.method, jsonRequest)
	if err != nil {
		return err
	}

	if h.bidi != nil {
		err = h.bidi.SendMsg(reqMsg)
	} else {
		err = h.client.SendMsg(reqMsg)
	}
	if err == io.EOF {
		// The server already ended the call; the real status comes from
		// the receive side.
		err = h.terminalError()
	}
	if err != nil {
		h.logger.Error("failed to send stream message",
			slog.String("method", methodName),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}

func (h *StreamHandle) terminalError() error {
	if h.bidi != nil {
		<-h.recvDone
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.recvErr != nil {
			return h.recvErr
		}
		return io.ErrUnexpectedEOF
	}
	_, err := h.client.CloseAndReceive()
	if err == nil {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Finish half-closes the stream and waits for the call to complete. For
// client streams the single response is returned in Body; for bidi streams
// Count is the number of messages delivered to the receiver.
func (h *StreamHandle) Finish() (*Response, error) {
	defer h.cancel()
	methodName := h.method.GetFullyQualifiedName()

	if h.bidi != nil {
		if err := h.bidi.CloseSend(); err != nil {
			return nil, err
		}
		<-h.recvDone

		h.mu.Lock()
		resp := &Response{Count: h.received, Size: h.receivedBytes}
		err := h.recvErr
		h.mu.Unlock()

		resp.Headers, _ = h.bidi.Header()
		resp.Trailers = h.bidi.Trailer()
		if err != nil {
			return resp, err
		}
		h.logger.Debug("bidi stream completed",
			slog.String("method", methodName),
			slog.Int("message_count", resp.Count),
		)
		return resp, nil
	}

	respMsg, err := h.client.CloseAndReceive()
	resp := &Response{}
	resp.Headers, _ = h.client.Header()
	resp.Trailers = h.client.Trailer()
	if err != nil {
		h.logger.Error("failed to close and receive client stream response",
			slog.String("method", methodName),
			slog.Any("error", err),
		)
		return resp, err
	}

	resp.Body, err = marshalMessage(respMsg)
	if err != nil {
		return resp, err
	}
	resp.Count = 1
	resp.Size = len(resp.Body)

	h.logger.Debug("client stream completed",
		slog.String("method", methodName),
		slog.String("response", truncateForLog(resp.Body)),
	)
	return resp, nil
}

// Cancel aborts the call without waiting for the server.
func (h *StreamHandle) Cancel() {
	h.cancel()
}

// Bidi reports whether the server streams responses back.
func (h *StreamHandle) Bidi() bool {
	return h.bidi != nil
}
