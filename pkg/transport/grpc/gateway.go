package grpc

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/authwatchio/authwatch/pkg/errors"
	"github.com/authwatchio/authwatch/pkg/notify"
)

// notifyMethod is the full method name of the gateway's unary Notify RPC.
const notifyMethod = "/authwatch.v1.NotificationGateway/Notify"

// jsonCodecName selects the JSON codec on a per-call basis. The gateway
// accepts application/grpc+json; no generated protobuf stubs are needed.
const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return jsonCodecName }

// notifyRequest is the Notify RPC request body.
type notifyRequest struct {
	Channel string          `json:"channel"`
	AgentID string          `json:"agent_id,omitempty"`
	Payload *notify.Payload `json:"payload"`
}

// notifyResponse is the Notify RPC response body.
type notifyResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// GatewayTransport delivers notifications to a channel through the
// notification gateway's Notify RPC. It satisfies notify.Transport so
// gateway-backed channels dispatch like webhook channels.
type GatewayTransport struct {
	channel   string
	transport *Transport
	timeout   time.Duration
}

// NewGatewayTransport creates a gateway-backed transport for one channel.
func NewGatewayTransport(channel string, transport *Transport) *GatewayTransport {
	timeout := 30 * time.Second
	if transport != nil && transport.config.Timeout > 0 {
		timeout = transport.config.Timeout
	}
	return &GatewayTransport{
		channel:   channel,
		transport: transport,
		timeout:   timeout,
	}
}

// Name returns the channel name.
func (g *GatewayTransport) Name() string {
	return g.channel
}

// Send delivers the payload through the gateway.
func (g *GatewayTransport) Send(ctx context.Context, payload *notify.Payload) error {
	if g.transport == nil {
		return &errors.TransportError{Channel: g.channel, Message: "no gateway transport configured"}
	}

	if err := g.transport.Connect(ctx); err != nil {
		return &errors.TransportError{Channel: g.channel, StatusCode: 503, Message: "connect gateway", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := &notifyRequest{
		Channel: g.channel,
		AgentID: g.transport.config.AgentID,
		Payload: payload,
	}
	resp := &notifyResponse{}

	err := g.transport.Conn().Invoke(ctx, notifyMethod, req, resp, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return &errors.TransportError{
			Channel:    g.channel,
			StatusCode: httpStatusFromGRPC(err),
			Message:    "gateway notify",
			Err:        err,
		}
	}

	if !resp.Accepted {
		msg := resp.Message
		if msg == "" {
			msg = "gateway rejected notification"
		}
		return &errors.TransportError{Channel: g.channel, StatusCode: 400, Message: msg}
	}
	return nil
}

// httpStatusFromGRPC maps a gRPC status code to the HTTP status code the
// retry classifier understands. Unavailable and exhausted map to
// retryable codes, validation and auth failures to permanent ones.
func httpStatusFromGRPC(err error) int {
	st, ok := status.FromError(err)
	if !ok {
		return 500
	}
	switch st.Code() {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return 400
	case codes.Unauthenticated:
		return 401
	case codes.PermissionDenied:
		return 403
	case codes.NotFound, codes.Unimplemented:
		return 404
	case codes.ResourceExhausted:
		return 429
	case codes.DeadlineExceeded:
		return 504
	case codes.Unavailable, codes.Aborted:
		return 503
	default:
		return 500
	}
}

var _ notify.Transport = (*GatewayTransport)(nil)
