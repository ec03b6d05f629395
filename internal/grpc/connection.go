package grpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shhac/grpcdesk/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// ConnectionState represents the state of a cached client connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns a human-readable representation of the connection state
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// StateFunc is notified whenever a connection for address changes state.
type StateFunc func(address string, state ConnectionState, message string)

type connKey struct {
	address string
	tls     domain.TLSConfig
}

// ConnectionManager caches one client connection per endpoint and TLS
// setting. Connections are created lazily and live until CloseAll.
type ConnectionManager struct {
	mu     sync.Mutex
	conns  map[connKey]*grpc.ClientConn
	logger *slog.Logger

	onStateChange StateFunc
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(logger *slog.Logger) *ConnectionManager {
	return &ConnectionManager{
		conns:  make(map[connKey]*grpc.ClientConn),
		logger: logger,
	}
}

// SetStateCallback registers a callback function to be called on state changes
func (m *ConnectionManager) SetStateCallback(fn StateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// Get returns the connection for endpoint, creating it on first use.
func (m *ConnectionManager) Get(ctx context.Context, endpoint domain.Endpoint, tlsCfg domain.TLSConfig) (*grpc.ClientConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	address := endpoint.Address()
	if !tlsCfg.Enabled {
		tlsCfg = domain.TLSConfig{}
	}
	key := connKey{address: address, tls: tlsCfg}

	m.mu.Lock()
	if conn, ok := m.conns[key]; ok {
		m.mu.Unlock()
		return conn, nil
	}
	m.mu.Unlock()

	m.updateState(address, StateConnecting, "Connecting to "+address)

	creds, err := TransportCredentials(tlsCfg)
	if err != nil {
		m.updateState(address, StateError, err.Error())
		return nil, err
	}
	if !tlsCfg.Enabled {
		m.logger.Debug("using plaintext connection", slog.String("address", address))
	} else if tlsCfg.InsecureSkipVerify {
		m.logger.Warn("using TLS without certificate verification", slog.String("address", address))
	}

	// Keep idle connections alive between calls.
	kaParams := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}

	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(kaParams),
	)
	if err != nil {
		m.logger.Error("failed to create gRPC client",
			slog.String("address", address),
			slog.Any("error", err),
		)
		m.updateState(address, StateError, "Failed to connect: "+err.Error())
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.conns[key]; ok {
		// Lost a race with a concurrent Get.
		m.mu.Unlock()
		_ = conn.Close()
		return existing, nil
	}
	m.conns[key] = conn
	m.mu.Unlock()

	m.logger.Info("gRPC connection created",
		slog.String("address", address),
		slog.Bool("tls", tlsCfg.Enabled),
	)
	m.updateState(address, StateConnected, "Connected to "+address)
	return conn, nil
}

// Len returns the number of cached connections.
func (m *ConnectionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// CloseAll closes every cached connection.
func (m *ConnectionManager) CloseAll() error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[connKey]*grpc.ClientConn)
	m.mu.Unlock()

	var firstErr error
	for key, conn := range conns {
		if err := conn.Close(); err != nil {
			m.logger.Error("failed to close connection",
				slog.String("address", key.address),
				slog.Any("error", err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.updateState(key.address, StateDisconnected, "Disconnected")
	}
	return firstErr
}

func (m *ConnectionManager) updateState(address string, state ConnectionState, message string) {
	m.mu.Lock()
	callback := m.onStateChange
	m.mu.Unlock()

	m.logger.Debug("connection state changed",
		slog.String("address", address),
		slog.String("state", state.String()),
		slog.String("message", message),
	)

	if callback != nil {
		callback(address, state, message)
	}
}

// TransportCredentials builds the credentials for cfg. A disabled config
// yields plaintext.
func TransportCredentials(cfg domain.TLSConfig) (credentials.TransportCredentials, error) {
	if !cfg.Enabled {
		return insecure.NewCredentials(), nil
	}

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // user opt-in
	}

	if cfg.ServerCACertPath != "" {
		pem, err := os.ReadFile(cfg.ServerCACertPath)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.ServerCACertPath)
		}
		tlsCfg.RootCAs = pool
	}

	switch {
	case cfg.ClientCertPath != "" && cfg.ClientKeyPath != "":
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	case cfg.ClientCertPath != "" || cfg.ClientKeyPath != "":
		return nil, fmt.Errorf("client certificate and key must be set together")
	}

	return credentials.NewTLS(tlsCfg), nil
}
