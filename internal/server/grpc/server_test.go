package grpcserver

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	cfgpkg "github.com/rzbill/mediaflo/internal/config"
	"github.com/rzbill/mediaflo/internal/media"
	"github.com/rzbill/mediaflo/internal/runtime"
	streamsvc "github.com/rzbill/mediaflo/internal/services/streams"
	"github.com/rzbill/mediaflo/pkg/id"
	logpkg "github.com/rzbill/mediaflo/pkg/log"
)

const bufSize = 1 << 20

func newTestConn(t *testing.T, mutate func(*cfgpkg.Config)) *grpc.ClientConn {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.Fsync = "never"
	cfg.Relay.PollInterval = 20 * time.Millisecond
	cfg.Stream.NoStreamsDelay = 50 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := runtime.Open(context.Background(), runtime.Options{Config: cfg, Logger: logpkg.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	srv := New(rt, streamsvc.NewWithLogger(rt, logpkg.NewNop()), logpkg.NewNop())
	lis := bufconn.Listen(bufSize)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Close)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func ingest(t *testing.T, c *Client, rec media.Record, parts ...string) id.ID {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := c.Ingest(ctx, rec)
	require.NoError(t, err)
	sid, err := s.StreamID()
	require.NoError(t, err)
	for _, p := range parts {
		require.NoError(t, s.Send([]byte(p)))
	}
	got, n, err := s.CloseAndRecv()
	require.NoError(t, err)
	require.Equal(t, sid, got)
	require.Equal(t, int64(len(parts)), n)
	return sid
}

func readAll(t *testing.T, c *Client, sid id.ID, opts streamsvc.ReadOptions) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := c.Read(ctx, sid, opts)
	require.NoError(t, err)
	var got []string
	for {
		m, err := stream.Recv()
		if err == io.EOF {
			return got
		}
		require.NoError(t, err)
		got = append(got, string(m.GetValue()))
	}
}

func TestHealthOverGRPC(t *testing.T) {
	conn := newTestConn(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, res.GetStatus())
}

func TestIngestAndReadOverGRPC(t *testing.T) {
	c := NewClient(newTestConn(t, nil), "")
	sid := ingest(t, c, media.Record{Kind: media.KindAudio, Format: "ogg"}, "a", "b", "c", "d")

	require.Equal(t, []string{"a", "b", "c", "d"}, readAll(t, c, sid, streamsvc.ReadOptions{}))
	require.Equal(t, []string{"c"}, readAll(t, c, sid, streamsvc.ReadOptions{Skip: 2, Filter: "index < 3"}))

	ctx := context.Background()
	info, err := c.Info(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, 5, info.Entries)
	require.False(t, info.Live)

	rec, err := c.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, sid, rec.ID)
	require.Equal(t, media.KindAudio, rec.Kind)
	require.Equal(t, "ogg", rec.Format)
	require.Equal(t, "anonymous", rec.AuthorID)
}

func TestPresetIDIsKept(t *testing.T) {
	c := NewClient(newTestConn(t, nil), "")
	want := id.MustParse("00000190000000000000000000000007")
	got := ingest(t, c, media.Record{ID: want}, "only")
	require.Equal(t, want, got)
}

func TestErrorsMapToStatusCodes(t *testing.T) {
	c := NewClient(newTestConn(t, nil), "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Info(ctx, id.MustParse("0000000000000001000000000000000a"))
	require.Equal(t, codes.NotFound, status.Code(err))

	stream, err := c.Read(ctx, id.MustParse("0000000000000001000000000000000a"), streamsvc.ReadOptions{Filter: "(("})
	require.NoError(t, err)
	_, err = stream.Recv()
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	short, cancelShort := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancelShort()
	_, err = c.Next(short)
	require.Equal(t, codes.DeadlineExceeded, status.Code(err))

	s, err := c.Ingest(ctx, media.Record{Kind: "video"})
	require.NoError(t, err)
	_, err = s.StreamID()
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestTokensRequired(t *testing.T) {
	conn := newTestConn(t, func(c *cfgpkg.Config) {
		c.Auth.AllowAnonymous = false
		c.Auth.Tokens = map[string]string{"tok": "svc:recorder"}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewClient(conn, "").Info(ctx, id.MustParse("0000000000000001000000000000000a"))
	require.Equal(t, codes.Unauthenticated, status.Code(err))
	_, err = NewClient(conn, "wrong").Info(ctx, id.MustParse("0000000000000001000000000000000a"))
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	// Health stays open.
	_, err = healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)

	c := NewClient(conn, "tok")
	sid := ingest(t, c, media.Record{Kind: media.KindTranscript}, `{"index":0,"text":"hello"}`)
	rec, err := c.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, sid, rec.ID)
	require.Equal(t, "svc:recorder", rec.AuthorID)
}
