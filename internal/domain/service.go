package domain

// MethodShape is the call lifecycle pattern of a method.
type MethodShape string

const (
	ShapeUnary        MethodShape = "unary"
	ShapeServerStream MethodShape = "server_stream"
	ShapeClientStream MethodShape = "client_stream"
	ShapeBidiStream   MethodShape = "bidi_stream"
)

// ClientStreaming reports whether the shape sends a sequence of client messages.
func (s MethodShape) ClientStreaming() bool {
	return s == ShapeClientStream || s == ShapeBidiStream
}

// ServerStreaming reports whether responses arrive on the event channel.
func (s MethodShape) ServerStreaming() bool {
	return s == ShapeServerStream || s == ShapeBidiStream
}

// Valid reports whether s is one of the four known shapes.
func (s MethodShape) Valid() bool {
	switch s {
	case ShapeUnary, ShapeServerStream, ShapeClientStream, ShapeBidiStream:
		return true
	}
	return false
}

// Service represents a gRPC service discovered via reflection
type Service struct {
	Name     string
	FullName string // Fully qualified name
	Methods  []Method
	Error    string // non-empty when descriptor resolution failed
}

// Method represents a gRPC method
type Method struct {
	Name           string
	FullName       string
	ServiceName    string // Fully qualified service name
	InputType      string // Message type name
	OutputType     string
	IsClientStream bool
	IsServerStream bool
	SampleBody     string // Precomputed request skeleton, if known
}

// Shape returns the method shape derived from the streaming flags.
func (m Method) Shape() MethodShape {
	switch {
	case m.IsClientStream && m.IsServerStream:
		return ShapeBidiStream
	case m.IsServerStream:
		return ShapeServerStream
	case m.IsClientStream:
		return ShapeClientStream
	default:
		return ShapeUnary
	}
}
