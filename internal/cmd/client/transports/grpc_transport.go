package transports

import (
	"context"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rzbill/mediaflo/internal/media"
	grpcserver "github.com/rzbill/mediaflo/internal/server/grpc"
	streamsvc "github.com/rzbill/mediaflo/internal/services/streams"
	"github.com/rzbill/mediaflo/pkg/id"
)

// GrpcTransport implements StreamsTransport over gRPC.
type GrpcTransport struct {
	dial  func(ctx context.Context) (*grpc.ClientConn, error)
	token string
}

// NewGrpcTransport constructs a new GrpcTransport using the provided dialer.
func NewGrpcTransport(dial func(ctx context.Context) (*grpc.ClientConn, error), token string) *GrpcTransport {
	return &GrpcTransport{dial: dial, token: token}
}

func (t *GrpcTransport) withClient(ctx context.Context, fn func(cli *grpcserver.Client) error) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	return fn(grpcserver.NewClient(conn, t.token))
}

// Ingest streams items via the client-streaming Ingest call.
func (t *GrpcTransport) Ingest(ctx context.Context, rec media.Record, items <-chan []byte, onID func(id.ID)) (IngestResult, error) {
	var out IngestResult
	err := t.withClient(ctx, func(cli *grpcserver.Client) error {
		s, err := cli.Ingest(ctx, rec)
		if err != nil {
			return err
		}
		sid, err := s.StreamID()
		if err != nil {
			return err
		}
		if onID != nil {
			onID(sid)
		}
		for data := range items {
			if err := s.Send(data); err != nil {
				if err == io.EOF {
					// The server ended the call; CloseAndRecv has its status.
					break
				}
				return err
			}
		}
		out.ID, out.Items, err = s.CloseAndRecv()
		return err
	})
	return out, err
}

// Read streams parts and invokes onPart for each.
func (t *GrpcTransport) Read(ctx context.Context, streamID id.ID, opts streamsvc.ReadOptions, onPart func(data []byte) error) error {
	return t.withClient(ctx, func(cli *grpcserver.Client) error {
		stream, err := cli.Read(ctx, streamID, opts)
		if err != nil {
			return err
		}
		for {
			m, err := stream.Recv()
			if err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
			if cbErr := onPart(m.GetValue()); cbErr != nil {
				return cbErr
			}
		}
	})
}

// Next waits for the next announced stream until ctx's deadline.
func (t *GrpcTransport) Next(ctx context.Context) (media.Record, error) {
	var rec media.Record
	err := t.withClient(ctx, func(cli *grpcserver.Client) error {
		var err error
		rec, err = cli.Next(ctx)
		return err
	})
	if status.Code(err) == codes.DeadlineExceeded {
		return rec, ErrNoStream
	}
	return rec, err
}

// Info fetches the log length of a stream.
func (t *GrpcTransport) Info(ctx context.Context, streamID id.ID) (streamsvc.StreamInfo, error) {
	var info streamsvc.StreamInfo
	err := t.withClient(ctx, func(cli *grpcserver.Client) error {
		var err error
		info, err = cli.Info(ctx, streamID)
		return err
	})
	return info, err
}
