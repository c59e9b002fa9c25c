// Package rpc defines the daemon's gRPC surface: request and response types,
// hand-written service descriptors and typed clients. Payloads travel as JSON
// through a registered codec, so no generated code is involved.
//
// This deliberately departs from a protobuf API: the build has no protoc
// step to generate stubs from, so the messages are plain Go structs with
// JSON tags and the wire format is JSON over gRPC framing.
package rpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype clients must request.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CallOption selects the JSON codec for a call. Dial with
// grpc.WithDefaultCallOptions(rpc.CallOption()) to apply it everywhere.
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}

func fullMethod(service, method string) string {
	return "/" + service + "/" + method
}

func unary[S, Req, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := fullMethod(service, method)
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			})
		},
	}
}

// EventStream is the server side of a Watch call.
type EventStream interface {
	Send(*Event) error
	Context() context.Context
}

type eventServerStream struct {
	grpc.ServerStream
}

func (s *eventServerStream) Send(e *Event) error { return s.SendMsg(e) }

func watchStream[S any](call func(S, *WatchRequest, EventStream) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    "Watch",
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(WatchRequest)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(S), in, &eventServerStream{stream})
		},
	}
}

func invoke(ctx context.Context, cc grpc.ClientConnInterface, service, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	return cc.Invoke(ctx, fullMethod(service, method), in, out, opts...)
}

// EventReceiver is the client side of a Watch call.
type EventReceiver struct {
	grpc.ClientStream
}

func (r *EventReceiver) Recv() (*Event, error) {
	e := new(Event)
	if err := r.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

func watch(ctx context.Context, cc grpc.ClientConnInterface, desc *grpc.ServiceDesc, in *WatchRequest, opts []grpc.CallOption) (*EventReceiver, error) {
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	stream, err := cc.NewStream(ctx, &desc.Streams[0], fullMethod(desc.ServiceName, "Watch"), opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventReceiver{stream}, nil
}
