package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rzbill/mediaflo/internal/auth"
	"github.com/rzbill/mediaflo/internal/media"
	"github.com/rzbill/mediaflo/internal/outcome"
	"github.com/rzbill/mediaflo/internal/producer"
	streamsvc "github.com/rzbill/mediaflo/internal/services/streams"
	"github.com/rzbill/mediaflo/internal/streamlog"
	"github.com/rzbill/mediaflo/pkg/id"
	logpkg "github.com/rzbill/mediaflo/pkg/log"
)

// defaultNextWait bounds Next calls that carry no deadline.
const defaultNextWait = 30 * time.Second

type streamsSvc struct {
	svc     *streamsvc.Service
	limiter *auth.Limiter
	log     logpkg.Logger
}

func (s *streamsSvc) Ingest(stream grpc.ClientStreamingServer[wrapperspb.BytesValue, structpb.Struct]) error {
	ctx := stream.Context()
	caller, _ := auth.FromContext(ctx)
	rec, err := recordFromMetadata(ctx)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	rec, err = s.svc.Prepare(caller, rec)
	if err != nil {
		return toStatus(err)
	}
	if err := stream.SendHeader(metadata.Pairs(HeaderStreamID, rec.ID.String())); err != nil {
		return err
	}

	ictx, cancel := context.WithCancel(ctx)
	defer cancel()
	items := make(chan []byte)
	type result struct {
		rec media.Record
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := s.svc.Ingest(ictx, caller, rec, items)
		done <- result{rec: rec, err: err}
	}()

	n, recvErr := s.recvItems(ictx, stream, caller, items)
	close(items)
	if recvErr != nil {
		cancel()
	}
	res := <-done
	if recvErr != nil {
		return toStatus(recvErr)
	}
	if res.err != nil {
		return toStatus(res.err)
	}
	out, err := structpb.NewStruct(map[string]any{"id": res.rec.ID.String(), "items": n})
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.SendAndClose(out)
}

// recvItems forwards received messages until the client half-closes.
func (s *streamsSvc) recvItems(ctx context.Context, stream grpc.ClientStreamingServer[wrapperspb.BytesValue, structpb.Struct], caller producer.Identity, items chan<- []byte) (int64, error) {
	var n int64
	for {
		m, err := stream.Recv()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := s.limiter.Wait(ctx, caller.Subject); err != nil {
			return n, err
		}
		select {
		case items <- m.GetValue():
			n++
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
}

func (s *streamsSvc) Read(req *structpb.Struct, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	ctx := stream.Context()
	sid, opts, err := readRequestFromStruct(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	rd, err := s.svc.Read(ctx, sid, opts)
	if err != nil {
		return toStatus(err)
	}
	defer rd.Close()
	for {
		o := rd.Next(ctx)
		switch o.Kind {
		case outcome.KindOk:
			if err := stream.Send(wrapperspb.Bytes(o.Item.Data)); err != nil {
				return err
			}
		case outcome.KindEnd:
			return nil
		default:
			if ctx.Err() == nil {
				s.log.Warn("grpc read failed", logpkg.Stream(sid.String()), logpkg.Err(o.Err))
			}
			return toStatus(o.Err)
		}
	}
}

func (s *streamsSvc) Next(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultNextWait)
		defer cancel()
	}
	rec, err := s.svc.NextStream(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return recordToStruct(rec)
}

func (s *streamsSvc) Info(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	sid, err := id.Parse(req.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid stream id")
	}
	info, err := s.svc.Info(ctx, sid)
	if err != nil {
		return nil, toStatus(err)
	}
	if info.Entries == 0 && !info.Live {
		return nil, status.Error(codes.NotFound, "stream not found")
	}
	return structpb.NewStruct(map[string]any{"id": sid.String(), "entries": info.Entries, "live": info.Live})
}

// toStatus maps service errors to gRPC status codes.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, producer.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, streamsvc.ErrInvalidFilter):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, streamsvc.ErrAlreadyIngesting):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func recordFromMetadata(ctx context.Context) (media.Record, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return v[0]
		}
		return ""
	}
	kind, err := media.ParseKind(first(MetadataKind))
	if err != nil {
		return media.Record{}, err
	}
	rec := media.Record{Kind: kind, Format: first(MetadataFormat)}
	if s := first(MetadataID); s != "" {
		v, err := id.Parse(s)
		if err != nil {
			return media.Record{}, err
		}
		rec.ID = v
	}
	return rec, nil
}

func recordToStruct(rec media.Record) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":          rec.ID.String(),
		"kind":        string(rec.Kind),
		"format":      rec.Format,
		"authorId":    rec.AuthorID,
		"createdAtMs": rec.CreatedAtMs,
	})
}

func recordFromStruct(s *structpb.Struct) (media.Record, error) {
	f := s.GetFields()
	sid, err := id.Parse(f["id"].GetStringValue())
	if err != nil {
		return media.Record{}, err
	}
	return media.Record{
		ID:          sid,
		Kind:        media.Kind(f["kind"].GetStringValue()),
		Format:      f["format"].GetStringValue(),
		AuthorID:    f["authorId"].GetStringValue(),
		CreatedAtMs: int64(f["createdAtMs"].GetNumberValue()),
	}, nil
}

func readRequestToStruct(streamID id.ID, opts streamsvc.ReadOptions) (*structpb.Struct, error) {
	m := map[string]any{"id": streamID.String()}
	if opts.Skip > 0 {
		m["skip"] = opts.Skip
	}
	if opts.Filter != "" {
		m["filter"] = opts.Filter
	}
	if !opts.Start.IsStart() {
		m["start"] = opts.Start.String()
	}
	if opts.Consumer != "" {
		m["consumer"] = opts.Consumer
	}
	if opts.Durable {
		m["durable"] = true
	}
	return structpb.NewStruct(m)
}

func readRequestFromStruct(s *structpb.Struct) (id.ID, streamsvc.ReadOptions, error) {
	var opts streamsvc.ReadOptions
	f := s.GetFields()
	sid, err := id.Parse(f["id"].GetStringValue())
	if err != nil {
		return id.Zero, opts, fmt.Errorf("invalid stream id")
	}
	if v, ok := f["skip"]; ok {
		n := v.GetNumberValue()
		if n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
			return id.Zero, opts, fmt.Errorf("invalid skip %v", n)
		}
		opts.Skip = int(n)
	}
	opts.Filter = f["filter"].GetStringValue()
	if v := f["start"].GetStringValue(); v != "" {
		pos, err := streamlog.ParsePosition(v)
		if err != nil {
			return id.Zero, opts, fmt.Errorf("invalid start position")
		}
		opts.Start = pos
	}
	opts.Consumer = f["consumer"].GetStringValue()
	opts.Durable = f["durable"].GetBoolValue()
	return sid, opts, nil
}
