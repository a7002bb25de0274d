// Package grpc provides a gRPC transport for delivering notifications
// to a notification gateway service.
package grpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

// Config carries the connection settings for the notification gateway.
type Config struct {
	// Address is the gateway host:port.
	Address string `yaml:"address" json:"address"`

	// APIKey and AgentID authenticate the agent to the gateway.
	APIKey  string `yaml:"api_key" json:"api_key"`
	AgentID string `yaml:"agent_id" json:"agent_id"`

	// TLS configuration. CertFile, when set, names a PEM CA bundle that
	// replaces the system roots (for private gateway CAs).
	UseTLS             bool   `yaml:"use_tls" json:"use_tls"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
	CertFile           string `yaml:"cert_file" json:"cert_file"`

	// Per-call timeout, keepalive, and message size limits.
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	KeepAliveTime    time.Duration `yaml:"keepalive_time" json:"keepalive_time"`
	KeepAliveTimeout time.Duration `yaml:"keepalive_timeout" json:"keepalive_timeout"`
	MaxRecvMsgSize   int           `yaml:"max_recv_msg_size" json:"max_recv_msg_size"`
	MaxSendMsgSize   int           `yaml:"max_send_msg_size" json:"max_send_msg_size"`

	Verbose bool `yaml:"verbose" json:"verbose"`
}

// DefaultConfig returns the defaults: TLS to localhost:9090, 30s
// calls, and 4MB message limits.
func DefaultConfig() *Config {
	return &Config{
		Address:          "localhost:9090",
		UseTLS:           true,
		Timeout:          30 * time.Second,
		KeepAliveTime:    30 * time.Second,
		KeepAliveTimeout: 10 * time.Second,
		MaxRecvMsgSize:   4 * 1024 * 1024, // 4MB
		MaxSendMsgSize:   4 * 1024 * 1024, // 4MB
	}
}

// Transport manages the gRPC connection to the notification gateway.
// One Transport is shared by every gateway channel.
type Transport struct {
	conn    *grpc.ClientConn
	config  *Config
	mu      sync.RWMutex
	verbose bool
}

// NewTransport creates a new gRPC transport. The connection is
// established lazily on first use.
func NewTransport(cfg *Config) *Transport {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Transport{
		config:  cfg,
		verbose: cfg.Verbose,
	}
}

// Connect establishes the gRPC connection. Idempotent.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	creds, err := t.credentials()
	if err != nil {
		return err
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(t.config.MaxRecvMsgSize),
			grpc.MaxCallSendMsgSize(t.config.MaxSendMsgSize),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                t.config.KeepAliveTime,
			Timeout:             t.config.KeepAliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithUnaryInterceptor(t.authInterceptor()),
	}

	if t.verbose {
		fmt.Printf("[grpc] Connecting to %s (TLS: %v)\n", t.config.Address, t.config.UseTLS)
	}

	//nolint:staticcheck // DialContext until the NewClient migration
	conn, err := grpc.DialContext(ctx, t.config.Address, opts...)
	if err != nil {
		return fmt.Errorf("grpc dial %s: %w", t.config.Address, err)
	}
	t.conn = conn
	return nil
}

func (t *Transport) credentials() (credentials.TransportCredentials, error) {
	if !t.config.UseTLS {
		return insecure.NewCredentials(), nil
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: t.config.InsecureSkipVerify, //nolint:gosec // operator opt-in for dev gateways
	}
	if t.config.CertFile != "" {
		pem, err := os.ReadFile(t.config.CertFile)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", t.config.CertFile)
		}
		tlsConfig.RootCAs = pool
	}
	return credentials.NewTLS(tlsConfig), nil
}

// Close tears down the connection. A closed transport can reconnect.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// Conn returns the underlying gRPC connection, nil before Connect.
func (t *Transport) Conn() *grpc.ClientConn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn
}

// IsConnected reports whether a connection is established.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil
}

// authInterceptor attaches the agent's credentials to every call.
func (t *Transport) authInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{},
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(t.addAuthMetadata(ctx), method, req, reply, cc, opts...)
	}
}

// addAuthMetadata adds the bearer token and agent ID headers.
func (t *Transport) addAuthMetadata(ctx context.Context) context.Context {
	md := metadata.Pairs("authorization", "Bearer "+t.config.APIKey)
	if t.config.AgentID != "" {
		md.Set("x-agent-id", t.config.AgentID)
	}
	return metadata.NewOutgoingContext(ctx, md)
}
