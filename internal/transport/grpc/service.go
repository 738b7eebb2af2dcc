package grpctransport

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"

	"github.com/corewire/agentkernel/internal/transport"
)

const (
	serviceName  = "agentkernel.transport.Transport"
	streamMethod = "Control"
)

// WireMessage is the one message type exchanged over the Control stream:
// exactly one of Envelope (client→server) or Response (server→client) is
// set per message.
type WireMessage struct {
	Envelope *transport.Envelope `json:"envelope,omitempty"`
	Response *transport.Response `json:"response,omitempty"`
}

// Handler is what a gRPC server driven by this package dispatches envelopes
// to — normally transport.RuntimeHandler wrapping a *runtime.Runtime.
type Handler interface {
	// Handle processes one request/response envelope (every action except
	// subscribe_events, which streams indefinitely via Subscribe).
	Handle(ctx context.Context, e transport.Envelope) transport.Response
	// Subscribe streams Responses to send until ctx is cancelled or the
	// subscription itself errors.
	Subscribe(ctx context.Context, e transport.Envelope, send func(transport.Response) error) error
}

// ServiceDesc is the hand-rolled gRPC service descriptor for the Control
// bidirectional stream: one stream, client and server both streaming,
// carrying WireMessage framed with the json codec from codec.go.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods:     nil,
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamMethod,
			Handler:       controlStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "agentkernel/transport.proto",
}

// Register attaches h to s under ServiceDesc.
func Register(s *grpc.Server, h Handler) {
	s.RegisterService(&ServiceDesc, h)
}

func controlStreamHandler(srv any, stream grpc.ServerStream) error {
	h, ok := srv.(Handler)
	if !ok {
		return fmt.Errorf("grpctransport: handler does not implement Handler")
	}
	for {
		var msg WireMessage
		if err := stream.RecvMsg(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if msg.Envelope == nil {
			continue
		}
		env := *msg.Envelope

		if env.Action == transport.ActionSubscribeEvents {
			err := h.Subscribe(stream.Context(), env, func(resp transport.Response) error {
				return stream.SendMsg(&WireMessage{Response: &resp})
			})
			if err != nil {
				resp := transport.Fail(err)
				_ = stream.SendMsg(&WireMessage{Response: &resp})
			}
			continue
		}

		resp := h.Handle(stream.Context(), env)
		if err := stream.SendMsg(&WireMessage{Response: &resp}); err != nil {
			return err
		}
	}
}

// Stream is the client's view of one Control session.
type Stream interface {
	Send(transport.Envelope) error
	Recv() (transport.Response, error)
	CloseSend() error
}

// Client dials the Control stream against a *grpc.ClientConn the caller
// already established (grpc.Dial / grpc.NewClient with the host's TLS and
// auth dial options — those concerns stay with the embedding host, not this
// reference package).
type Client struct {
	cc *grpc.ClientConn
}

// NewClient wraps cc.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

// Control opens a Control bidirectional stream.
func (c *Client) Control(ctx context.Context) (Stream, error) {
	desc := &grpc.StreamDesc{StreamName: streamMethod, ServerStreams: true, ClientStreams: true}
	method := fmt.Sprintf("/%s/%s", serviceName, streamMethod)
	cs, err := c.cc.NewStream(ctx, desc, method, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	return &clientStream{cs: cs}, nil
}

type clientStream struct {
	cs grpc.ClientStream
}

func (s *clientStream) Send(e transport.Envelope) error {
	return s.cs.SendMsg(&WireMessage{Envelope: &e})
}

func (s *clientStream) Recv() (transport.Response, error) {
	var msg WireMessage
	if err := s.cs.RecvMsg(&msg); err != nil {
		return transport.Response{}, err
	}
	if msg.Response == nil {
		return transport.Response{}, fmt.Errorf("grpctransport: expected a response message")
	}
	return *msg.Response, nil
}

func (s *clientStream) CloseSend() error { return s.cs.CloseSend() }
