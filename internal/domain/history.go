package domain

import "time"

// HistoryEntry represents a record of a completed call for replay.
// Entries are never mutated after creation.
type HistoryEntry struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Endpoint      Endpoint          `json:"endpoint"`
	Service       string            `json:"service"`
	Method        string            `json:"method"`
	Shape         MethodShape       `json:"shape"`
	Request       string            `json:"request"`            // Resolved JSON request body
	Messages      []string          `json:"messages,omitempty"` // Resolved client-stream bodies
	Response      string            `json:"response"`           // JSON response body (for reference)
	Metadata      map[string]string `json:"metadata"`           // Resolved request metadata
	Auth          AuthConfig        `json:"auth"`
	TLS           TLSConfig         `json:"tls"`
	Duration      time.Duration     `json:"duration"`
	ResponseSize  int               `json:"responseSize"`
	StatusCode    int               `json:"statusCode"`
	StatusMessage string            `json:"statusMessage,omitempty"`
	MessageCount  int               `json:"messageCount,omitempty"` // Number of messages for streaming RPCs
	EnvironmentID string            `json:"environmentId,omitempty"`
}
