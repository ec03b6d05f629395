package domain

import (
	"net"
	"strconv"
)

// Endpoint is the host/port pair a call is dispatched to.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Address returns the dialable "host:port" form.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// TLSConfig holds transport security settings. A config with Enabled=false
// means plaintext regardless of the other fields.
type TLSConfig struct {
	Enabled            bool   `json:"enabled"`
	ClientCertPath     string `json:"clientCertPath,omitempty"`     // Path to client certificate (mTLS)
	ClientKeyPath      string `json:"clientKeyPath,omitempty"`      // Path to client key (mTLS)
	ServerCACertPath   string `json:"serverCaCertPath,omitempty"`   // Path to CA certificate
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty"` // Skip TLS certificate verification (insecure)
}

// Clone returns a copy of the config, or nil for a nil receiver.
func (t *TLSConfig) Clone() *TLSConfig {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
