package grpc

import (
	"context"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Address != "localhost:9090" {
		t.Errorf("Address = %s, want localhost:9090", cfg.Address)
	}
	if !cfg.UseTLS {
		t.Error("TLS should be enabled by default")
	}
	if cfg.MaxRecvMsgSize != 4*1024*1024 {
		t.Errorf("MaxRecvMsgSize = %d, want 4MB", cfg.MaxRecvMsgSize)
	}
}

func TestAddAuthMetadata(t *testing.T) {
	transport := NewTransport(&Config{
		APIKey:  "secret-key",
		AgentID: "agent-1",
	})

	ctx := transport.addAuthMetadata(context.Background())

	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatal("Expected outgoing metadata")
	}

	auth := md.Get("authorization")
	if len(auth) != 1 || auth[0] != "Bearer secret-key" {
		t.Errorf("authorization = %v, want Bearer secret-key", auth)
	}

	agent := md.Get("x-agent-id")
	if len(agent) != 1 || agent[0] != "agent-1" {
		t.Errorf("x-agent-id = %v, want agent-1", agent)
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := jsonCodec{}

	req := &notifyRequest{Channel: "chat_a", AgentID: "agent-1"}
	data, err := codec.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var got notifyRequest
	if err := codec.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.Channel != "chat_a" || got.AgentID != "agent-1" {
		t.Errorf("Round trip = %+v", got)
	}
}

func TestHTTPStatusFromGRPC(t *testing.T) {
	tests := []struct {
		code codes.Code
		want int
	}{
		{codes.InvalidArgument, 400},
		{codes.Unauthenticated, 401},
		{codes.PermissionDenied, 403},
		{codes.ResourceExhausted, 429},
		{codes.Unavailable, 503},
		{codes.DeadlineExceeded, 504},
		{codes.Internal, 500},
	}

	for _, tt := range tests {
		err := status.Error(tt.code, "test")
		if got := httpStatusFromGRPC(err); got != tt.want {
			t.Errorf("httpStatusFromGRPC(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestGatewayTransportName(t *testing.T) {
	gt := NewGatewayTransport("security", NewTransport(nil))
	if gt.Name() != "security" {
		t.Errorf("Name = %s, want security", gt.Name())
	}
}

func TestGatewayTransportRequiresTransport(t *testing.T) {
	gt := &GatewayTransport{channel: "security"}
	err := gt.Send(context.Background(), nil)
	if err == nil {
		t.Fatal("Send without a transport must fail")
	}
}
