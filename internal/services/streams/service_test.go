package streamsvc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cfgpkg "github.com/rzbill/mediaflo/internal/config"
	"github.com/rzbill/mediaflo/internal/media"
	"github.com/rzbill/mediaflo/internal/outcome"
	"github.com/rzbill/mediaflo/internal/producer"
	"github.com/rzbill/mediaflo/internal/runtime"
	"github.com/rzbill/mediaflo/pkg/id"
)

var caller = producer.Identity{Subject: "user:1"}

func newTestService(t *testing.T, mutate func(*cfgpkg.Config)) *Service {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.Fsync = "never"
	cfg.Relay.PollInterval = 20 * time.Millisecond
	cfg.Stream.NoStreamsDelay = 50 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := runtime.Open(context.Background(), runtime.Options{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return New(rt)
}

func feed(parts ...string) <-chan []byte {
	ch := make(chan []byte, len(parts))
	for _, p := range parts {
		ch <- []byte(p)
	}
	close(ch)
	return ch
}

func drain(t *testing.T, r Reader) ([]string, outcome.Outcome[media.Part]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got []string
	for {
		o := r.Next(ctx)
		if !o.IsOk() {
			return got, o
		}
		got = append(got, string(o.Item.Data))
	}
}

func TestIngestThenDurableRead(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	rec, err := svc.Ingest(ctx, caller, media.Record{Kind: media.KindAudio, Format: "webm"}, feed("a", "b", "c"))
	require.NoError(t, err)
	require.False(t, rec.ID.IsZero())
	require.Equal(t, "user:1", rec.AuthorID)
	require.Empty(t, svc.Live())

	r, err := svc.Read(ctx, rec.ID, ReadOptions{})
	require.NoError(t, err)
	defer r.Close()
	require.False(t, r.Live())
	got, end := drain(t, r)
	require.Equal(t, []string{"a", "b", "c"}, got)
	require.Equal(t, outcome.KindEnd, end.Kind)

	info, err := svc.Info(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, 4, info.Entries)
	require.False(t, info.Live)
}

func TestLiveReadJoinsMidStream(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	rec := media.Record{ID: id.NewGenerator().Next(), Kind: media.KindTranscript}

	items := make(chan []byte)
	done := make(chan error, 1)
	go func() {
		_, err := svc.Ingest(ctx, caller, rec, items)
		done <- err
	}()
	items <- []byte("one")
	items <- []byte("two")

	require.Eventually(t, func() bool { return len(svc.Live()) == 1 }, 5*time.Second, 5*time.Millisecond)
	r, err := svc.Read(ctx, rec.ID, ReadOptions{})
	require.NoError(t, err)
	defer r.Close()
	require.True(t, r.Live())

	items <- []byte("three")
	close(items)
	require.NoError(t, <-done)

	got, end := drain(t, r)
	require.Equal(t, []string{"one", "two", "three"}, got)
	require.Equal(t, outcome.KindEnd, end.Kind)
}

func TestLiveListReportsReaders(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	rec := media.Record{ID: id.NewGenerator().Next()}

	items := make(chan []byte)
	done := make(chan error, 1)
	go func() {
		_, err := svc.Ingest(ctx, caller, rec, items)
		done <- err
	}()
	items <- []byte("x")
	require.Eventually(t, func() bool {
		live := svc.Live()
		return len(live) == 1 && live[0].Parts == 1
	}, 5*time.Second, 5*time.Millisecond)

	r, err := svc.Read(ctx, rec.ID, ReadOptions{})
	require.NoError(t, err)
	live := svc.Live()
	require.Equal(t, rec.ID, live[0].Record.ID)
	require.Equal(t, 1, live[0].Readers)
	r.Close()
	require.Zero(t, svc.ActiveReaders(rec.ID))

	close(items)
	require.NoError(t, <-done)
}

func TestDuplicateIngestRejected(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	rec := media.Record{ID: id.NewGenerator().Next()}

	items := make(chan []byte)
	done := make(chan error, 1)
	go func() {
		_, err := svc.Ingest(ctx, caller, rec, items)
		done <- err
	}()
	require.Eventually(t, func() bool { return len(svc.Live()) == 1 }, 5*time.Second, 5*time.Millisecond)

	_, err := svc.Ingest(ctx, caller, rec, feed())
	require.ErrorIs(t, err, ErrAlreadyIngesting)

	close(items)
	require.NoError(t, <-done)
}

func TestReadWithSkipAndFilter(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	rec, err := svc.Ingest(ctx, caller, media.Record{}, feed("p0", "p1", "p2", "p3", "p4", "p5"))
	require.NoError(t, err)

	r, err := svc.Read(ctx, rec.ID, ReadOptions{Skip: 2, Filter: "index % 2 == 0"})
	require.NoError(t, err)
	defer r.Close()
	got, _ := drain(t, r)
	require.Equal(t, []string{"p2", "p4"}, got)

	r2, err := svc.Read(ctx, rec.ID, ReadOptions{Filter: `text.startsWith("p5")`})
	require.NoError(t, err)
	defer r2.Close()
	got, _ = drain(t, r2)
	require.Equal(t, []string{"p5"}, got)
}

func TestFilterOverJSONParts(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	rec, err := svc.Ingest(ctx, caller, media.Record{Kind: media.KindTranscript}, feed(
		`{"text":"hello","final":false}`,
		`{"text":"hello world","final":true}`,
		"not json",
	))
	require.NoError(t, err)

	r, err := svc.Read(ctx, rec.ID, ReadOptions{Filter: "json.final == true"})
	require.NoError(t, err)
	defer r.Close()
	got, end := drain(t, r)
	require.Equal(t, []string{`{"text":"hello world","final":true}`}, got)
	require.Equal(t, outcome.KindEnd, end.Kind)
}

func TestReadRejectsBadInput(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Read(ctx, id.Zero, ReadOptions{})
	require.Error(t, err)
	_, err = svc.Read(ctx, id.NewGenerator().Next(), ReadOptions{Filter: "index +"})
	require.ErrorIs(t, err, ErrInvalidFilter)
	_, err = svc.Read(ctx, id.NewGenerator().Next(), ReadOptions{Filter: "index + 1"})
	require.ErrorIs(t, err, ErrInvalidFilter)
	_, err = svc.Read(ctx, id.NewGenerator().Next(), ReadOptions{Skip: -1})
	require.Error(t, err)
}

func TestIngestRequiresCaller(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Ingest(context.Background(), producer.Identity{}, media.Record{}, feed("a"))
	require.ErrorIs(t, err, producer.ErrUnauthenticated)
}

func TestNextStreamReturnsAnnouncedRecords(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	rec, err := svc.Ingest(ctx, caller, media.Record{Kind: media.KindAudio, Format: "opus"}, feed("a"))
	require.NoError(t, err)

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	got, err := svc.NextStream(wctx)
	require.NoError(t, err)
	require.Equal(t, rec.ID, got.ID)
	require.Equal(t, "opus", got.Format)

	short, cancel2 := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel2()
	_, err = svc.NextStream(short)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDurableReadWhenLiveDisabled(t *testing.T) {
	svc := newTestService(t, func(c *cfgpkg.Config) { c.Broadcast.PreferLive = false })
	ctx := context.Background()
	rec := media.Record{ID: id.NewGenerator().Next()}

	items := make(chan []byte)
	done := make(chan error, 1)
	go func() {
		_, err := svc.Ingest(ctx, caller, rec, items)
		done <- err
	}()
	items <- []byte("a")
	require.Eventually(t, func() bool { return len(svc.Live()) == 1 }, 5*time.Second, 5*time.Millisecond)

	r, err := svc.Read(ctx, rec.ID, ReadOptions{})
	require.NoError(t, err)
	defer r.Close()
	require.False(t, r.Live())

	items <- []byte("b")
	close(items)
	require.NoError(t, <-done)
	got, _ := drain(t, r)
	require.Equal(t, []string{"a", "b"}, got)
}

func TestCompressedPartsRoundTrip(t *testing.T) {
	svc := newTestService(t, func(c *cfgpkg.Config) { c.Stream.Compression = "zstd" })
	ctx := context.Background()
	big := make([]byte, 4096)
	rec, err := svc.Ingest(ctx, caller, media.Record{}, feed(string(big)))
	require.NoError(t, err)
	r, err := svc.Read(ctx, rec.ID, ReadOptions{Durable: true})
	require.NoError(t, err)
	defer r.Close()
	got, _ := drain(t, r)
	require.Len(t, got, 1)
	require.Len(t, got[0], 4096)
}
