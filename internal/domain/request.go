package domain

import "time"

// EffectiveCallConfig is the merged endpoint/metadata/auth/TLS used to
// dispatch one call.
type EffectiveCallConfig struct {
	Endpoint Endpoint
	Metadata map[string]string
	Auth     AuthConfig
	TLS      TLSConfig

	// ManualEndpoint is set when the tab overrides host or port. Display only.
	ManualEndpoint bool
	// Unresolved lists placeholders left in metadata or auth values.
	Unresolved []UnresolvedVariable
}

// CallResult is the terminal summary returned by the backend. For
// server-streamed calls Response is empty and the messages arrive as events;
// ResponseSize still totals the bytes of every message received.
type CallResult struct {
	StatusCode    int
	StatusMessage string
	Response      string
	MessageCount  int
	ResponseSize  int
	Headers       map[string]string
	Trailers      map[string]string
}

// StreamEvent is one streamed message emitted by the backend for a tab.
type StreamEvent struct {
	TabID     string
	Index     int
	Data      string
	Timestamp time.Time
}
