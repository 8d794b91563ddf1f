package grpcserver

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rzbill/mediaflo/internal/media"
	streamsvc "github.com/rzbill/mediaflo/internal/services/streams"
	"github.com/rzbill/mediaflo/pkg/id"
)

// Client calls mediaflo.v1.Streams over an existing connection.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
}

// NewClient wraps cc. A non-empty token is sent as a bearer token with
// every call.
func NewClient(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{cc: cc, token: token}
}

func (c *Client) outgoing(ctx context.Context, kv ...string) context.Context {
	if c.token != "" {
		kv = append(kv, MetadataAuthorization, "Bearer "+c.token)
	}
	if len(kv) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}

// IngestStream is an open ingest call.
type IngestStream struct {
	cs grpc.ClientStreamingClient[wrapperspb.BytesValue, structpb.Struct]
}

// Ingest starts an ingest for rec. Kind, format and a preset id travel as
// metadata.
func (c *Client) Ingest(ctx context.Context, rec media.Record) (*IngestStream, error) {
	kv := []string{MetadataKind, string(rec.Kind)}
	if rec.Format != "" {
		kv = append(kv, MetadataFormat, rec.Format)
	}
	if !rec.ID.IsZero() {
		kv = append(kv, MetadataID, rec.ID.String())
	}
	stream, err := c.cc.NewStream(c.outgoing(ctx, kv...), &streamsServiceDesc.Streams[0], ingestMethod)
	if err != nil {
		return nil, err
	}
	return &IngestStream{cs: &grpc.GenericClientStream[wrapperspb.BytesValue, structpb.Struct]{ClientStream: stream}}, nil
}

// StreamID waits for the server's header and returns the assigned id.
func (s *IngestStream) StreamID() (id.ID, error) {
	md, err := s.cs.Header()
	if err != nil {
		return id.Zero, err
	}
	v := md.Get(HeaderStreamID)
	if len(v) == 0 {
		// No header means the call failed before the ingest started.
		_, err := s.cs.CloseAndRecv()
		if err == nil {
			err = fmt.Errorf("grpc: missing %s header", HeaderStreamID)
		}
		return id.Zero, err
	}
	return id.Parse(v[0])
}

// Send sends one item.
func (s *IngestStream) Send(data []byte) error {
	return s.cs.Send(wrapperspb.Bytes(data))
}

// CloseAndRecv completes the stream and returns its id and item count.
func (s *IngestStream) CloseAndRecv() (id.ID, int64, error) {
	out, err := s.cs.CloseAndRecv()
	if err != nil {
		return id.Zero, 0, err
	}
	f := out.GetFields()
	sid, err := id.Parse(f["id"].GetStringValue())
	if err != nil {
		return id.Zero, 0, err
	}
	return sid, int64(f["items"].GetNumberValue()), nil
}

// Read opens a server stream of the parts of streamID.
func (c *Client) Read(ctx context.Context, streamID id.ID, opts streamsvc.ReadOptions) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error) {
	req, err := readRequestToStruct(streamID, opts)
	if err != nil {
		return nil, err
	}
	stream, err := c.cc.NewStream(c.outgoing(ctx), &streamsServiceDesc.Streams[1], readMethod)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, wrapperspb.BytesValue]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Next waits for the next announced stream, bounded by ctx.
func (c *Client) Next(ctx context.Context) (media.Record, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(c.outgoing(ctx), nextMethod, &emptypb.Empty{}, out); err != nil {
		return media.Record{}, err
	}
	return recordFromStruct(out)
}

// Info reports the log length of streamID.
func (c *Client) Info(ctx context.Context, streamID id.ID) (streamsvc.StreamInfo, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(c.outgoing(ctx), infoMethod, wrapperspb.String(streamID.String()), out); err != nil {
		return streamsvc.StreamInfo{}, err
	}
	f := out.GetFields()
	return streamsvc.StreamInfo{
		ID:      streamID,
		Entries: int(f["entries"].GetNumberValue()),
		Live:    f["live"].GetBoolValue(),
	}, nil
}
