package domain

import "time"

// CallStatus is the lifecycle state of a tab's call.
type CallStatus string

const (
	StatusIdle       CallStatus = "idle"
	StatusSending    CallStatus = "sending"
	StatusStreamOpen CallStatus = "stream_open"
	StatusFinishing  CallStatus = "finishing"
	StatusCompleted  CallStatus = "completed"
	StatusFailed     CallStatus = "failed"
)

// Terminal reports whether the status ends a call attempt.
func (s CallStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ClientStreamMessage is one queued message of a client-streamed call.
type ClientStreamMessage struct {
	ID        string     `json:"id"`
	Body      string     `json:"body"`
	Sent      bool       `json:"sent"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// StreamMessage is one server-streamed message appended to a tab.
// Index is informational; slice order is delivery order.
type StreamMessage struct {
	ID        string    `json:"id"`
	Index     int       `json:"index"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// CallFailure is the displayable form of a failed call.
type CallFailure struct {
	Code     int      `json:"code"`
	Message  string   `json:"message"`
	Category string   `json:"category,omitempty"`
	Hints    []string `json:"hints,omitempty"`
	Details  string   `json:"details,omitempty"`
}

// RequestTab is the working state of one open call.
type RequestTab struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Service string      `json:"service"`
	Method  string      `json:"method"`
	Shape   MethodShape `json:"shape"`

	Body     string                `json:"body"`
	Messages []ClientStreamMessage `json:"messages,omitempty"`

	Metadata                   map[string]string `json:"metadata"`
	DisableEnvironmentMetadata bool              `json:"disableEnvironmentMetadata,omitempty"`
	Auth                       AuthConfig        `json:"auth"`
	TLS                        *TLSConfig        `json:"tls,omitempty"`
	RequestHost                *string           `json:"requestHost,omitempty"`
	RequestPort                *int              `json:"requestPort,omitempty"`
	SelectedEnvironmentID      string            `json:"selectedEnvironmentId,omitempty"`
	SavedRequestID             string            `json:"savedRequestId,omitempty"`

	Response          string          `json:"response,omitempty"`
	Failure           *CallFailure    `json:"failure,omitempty"`
	StreamingMessages []StreamMessage `json:"streamingMessages,omitempty"`
	Status            CallStatus      `json:"status"`
	StatusCode        int             `json:"statusCode"`
	StatusMessage     string          `json:"statusMessage,omitempty"`
	Duration          time.Duration   `json:"duration"`
	ResponseSize      int             `json:"responseSize"`

	IsLoading            bool `json:"isLoading"`
	IsStreaming          bool `json:"isStreaming"`
	IsDirty              bool `json:"isDirty"`
	StreamConnectionOpen bool `json:"streamConnectionOpen"`

	CreatedAt time.Time `json:"createdAt"`
}

// ManualEndpoint reports whether the tab overrides the environment endpoint.
func (t *RequestTab) ManualEndpoint() bool {
	return t.RequestHost != nil || t.RequestPort != nil
}

// SentCount returns the number of client-stream messages marked sent.
func (t *RequestTab) SentCount() int {
	n := 0
	for _, m := range t.Messages {
		if m.Sent {
			n++
		}
	}
	return n
}

// FullMethod returns "Service/Method".
func (t *RequestTab) FullMethod() string {
	return t.Service + "/" + t.Method
}

// Clone returns a deep copy safe to hand to another goroutine.
func (t *RequestTab) Clone() *RequestTab {
	if t == nil {
		return nil
	}
	c := *t
	c.Messages = append([]ClientStreamMessage(nil), t.Messages...)
	for i := range c.Messages {
		if ts := c.Messages[i].Timestamp; ts != nil {
			v := *ts
			c.Messages[i].Timestamp = &v
		}
	}
	c.Metadata = CloneMetadata(t.Metadata)
	c.Auth = t.Auth.Clone()
	c.TLS = t.TLS.Clone()
	if t.RequestHost != nil {
		h := *t.RequestHost
		c.RequestHost = &h
	}
	if t.RequestPort != nil {
		p := *t.RequestPort
		c.RequestPort = &p
	}
	if t.Failure != nil {
		f := *t.Failure
		f.Hints = append([]string(nil), t.Failure.Hints...)
		c.Failure = &f
	}
	c.StreamingMessages = append([]StreamMessage(nil), t.StreamingMessages...)
	return &c
}
