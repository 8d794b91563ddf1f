package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the full name of the streams service.
	ServiceName = "mediaflo.v1.Streams"

	ingestMethod = "/" + ServiceName + "/Ingest"
	readMethod   = "/" + ServiceName + "/Read"
	nextMethod   = "/" + ServiceName + "/Next"
	infoMethod   = "/" + ServiceName + "/Info"
)

// Metadata keys understood by the streams service.
const (
	MetadataAuthorization = "authorization"
	MetadataKind          = "kind"
	MetadataFormat        = "format"
	MetadataID            = "id"
	// HeaderStreamID carries the assigned id of an ingest.
	HeaderStreamID = "stream-id"
)

// StreamsServer is the server API of mediaflo.v1.Streams.
type StreamsServer interface {
	Ingest(grpc.ClientStreamingServer[wrapperspb.BytesValue, structpb.Struct]) error
	Read(*structpb.Struct, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
	Next(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Info(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

var streamsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StreamsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Next", Handler: nextHandler},
		{MethodName: "Info", Handler: infoHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Ingest", Handler: ingestHandler, ClientStreams: true},
		{StreamName: "Read", Handler: readHandler, ServerStreams: true},
	},
	Metadata: "mediaflo/v1/streams.proto",
}

func ingestHandler(srv any, stream grpc.ServerStream) error {
	return srv.(StreamsServer).Ingest(&grpc.GenericServerStream[wrapperspb.BytesValue, structpb.Struct]{ServerStream: stream})
}

func readHandler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(StreamsServer).Read(m, &grpc.GenericServerStream[structpb.Struct, wrapperspb.BytesValue]{ServerStream: stream})
}

func nextHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StreamsServer).Next(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: nextMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StreamsServer).Next(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func infoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StreamsServer).Info(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: infoMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StreamsServer).Info(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}
