package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/mediaflo/internal/eventlog"
	"github.com/rzbill/mediaflo/internal/outcome"
	"github.com/rzbill/mediaflo/internal/streamlog"
	pebblestore "github.com/rzbill/mediaflo/internal/storage/pebble"
	"github.com/rzbill/mediaflo/pkg/id"
)

var streamID = id.MustParse("00000190000000000000000000000001")

func newLog(t *testing.T) *eventlog.Log {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	l := eventlog.Open(db, eventlog.Options{})
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func key() string { return streamlog.DefaultNaming.StreamKey(streamID) }

func appendMsgs(t *testing.T, s streamlog.Store, msgs ...string) {
	t.Helper()
	for _, m := range msgs {
		_, err := s.Append(context.Background(), key(), streamlog.MessageFields([]byte(m)), 1000)
		require.NoError(t, err)
	}
}

func complete(t *testing.T, s streamlog.Store) {
	t.Helper()
	_, err := s.Append(context.Background(), key(), streamlog.CompletedFields(), 1000)
	require.NoError(t, err)
}

func decodeString(b []byte) (string, error) { return string(b), nil }

func drain(t *testing.T, h *Handle[string]) ([]string, outcome.Outcome[string]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got []string
	for {
		o := h.Next(ctx)
		if o.Terminal() {
			return got, o
		}
		got = append(got, o.Item)
	}
}

func TestReadsUntilCompleted(t *testing.T) {
	l := newLog(t)
	appendMsgs(t, l, "a", "b", "c")
	complete(t, l)

	r := New(l, l, Options{})
	h := Open(context.Background(), r, streamID, decodeString)
	require.Equal(t, StateIdle, h.State())

	got, last := drain(t, h)
	require.Equal(t, []string{"a", "b", "c"}, got)
	require.Equal(t, outcome.KindEnd, last.Kind)
	<-h.Done()
	require.NoError(t, h.Err())
	require.Equal(t, StateDone, h.State())
}

func TestStopsAtFirstCompletion(t *testing.T) {
	l := newLog(t)
	appendMsgs(t, l, "m1", "m2")
	complete(t, l)
	appendMsgs(t, l, "late")

	h := Open(context.Background(), New(l, l, Options{BatchSize: 2}), streamID, decodeString)
	got, last := drain(t, h)
	require.Equal(t, []string{"m1", "m2"}, got)
	require.Equal(t, outcome.KindEnd, last.Kind)
}

func TestTailsLiveAppends(t *testing.T) {
	l := newLog(t)
	// A long poll interval proves the part pings wake the tailer.
	r := New(l, l, Options{PollInterval: time.Minute})
	h := Open(context.Background(), r, streamID, decodeString)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	first := make(chan outcome.Outcome[string], 1)
	go func() { first <- h.Next(ctx) }()

	time.Sleep(20 * time.Millisecond)
	appendMsgs(t, l, "x")
	require.NoError(t, l.Publish(ctx, streamlog.DefaultNaming.PartChannel(streamID)))

	select {
	case o := <-first:
		require.True(t, o.IsOk())
		require.Equal(t, "x", o.Item)
	case <-time.After(2 * time.Second):
		t.Fatal("ping did not wake the tailer")
	}
	complete(t, l)
	require.NoError(t, l.Publish(ctx, streamlog.DefaultNaming.PartChannel(streamID)))
	got, last := drain(t, h)
	require.Empty(t, got)
	require.Equal(t, outcome.KindEnd, last.Kind)
}

func TestCancelDuringPollDelay(t *testing.T) {
	l := newLog(t)
	poll := 100 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	h := Open(ctx, New(l, nil, Options{PollInterval: poll}), streamID, decodeString)

	res := make(chan outcome.Outcome[string], 1)
	go func() { res <- h.Next(context.Background()) }()
	time.Sleep(30 * time.Millisecond)
	start := time.Now()
	cancel()

	select {
	case <-h.Done():
	case <-time.After(poll):
		t.Fatal("handle did not close within one poll interval")
	}
	require.Less(t, time.Since(start), poll)
	require.NoError(t, h.Err())
	require.Equal(t, StateDone, h.State())
	o := <-res
	require.Equal(t, outcome.KindEnd, o.Kind)
}

func TestCloseBeforeFirstRead(t *testing.T) {
	l := newLog(t)
	h := Open(context.Background(), New(l, l, Options{}), streamID, decodeString)
	h.Close()
	<-h.Done()
	require.NoError(t, h.Err())
	require.Equal(t, outcome.KindEnd, h.Next(context.Background()).Kind)
}

func TestDecodeErrorFailsHandle(t *testing.T) {
	l := newLog(t)
	appendMsgs(t, l, "ok", "bad", "never")
	complete(t, l)
	bad := errors.New("bad payload")
	decode := func(b []byte) (string, error) {
		if string(b) == "bad" {
			return "", bad
		}
		return string(b), nil
	}
	h := Open(context.Background(), New(l, l, Options{}), streamID, decode)
	got, last := drain(t, h)
	require.Equal(t, []string{"ok"}, got)
	require.Equal(t, outcome.KindError, last.Kind)
	require.ErrorIs(t, last.Err, ErrDecode)
	<-h.Done()
	require.Equal(t, StateFailed, h.State())
	require.ErrorIs(t, h.Err(), ErrDecode)
}

func TestSkipAndFilter(t *testing.T) {
	l := newLog(t)
	appendMsgs(t, l, "a", "bb", "c", "dd", "e")
	complete(t, l)
	r := New(l, l, Options{})

	h := Open(context.Background(), r, streamID, decodeString, WithSkip[string](2))
	got, _ := drain(t, h)
	require.Equal(t, []string{"c", "dd", "e"}, got)

	short := func(s string) (bool, error) { return len(s) == 1, nil }
	h = Open(context.Background(), r, streamID, decodeString, WithFilter(short))
	got, _ = drain(t, h)
	require.Equal(t, []string{"a", "c", "e"}, got)
}

func TestHandlesAreIndependent(t *testing.T) {
	l := newLog(t)
	appendMsgs(t, l, "1", "2", "3")
	complete(t, l)
	r := New(l, l, Options{BatchSize: 1})
	h1 := Open(context.Background(), r, streamID, decodeString)
	h2 := Open(context.Background(), r, streamID, decodeString)

	first := h1.Next(context.Background())
	require.Equal(t, "1", first.Item)
	got2, _ := drain(t, h2)
	got1, _ := drain(t, h1)
	require.Equal(t, []string{"1", "2", "3"}, got2)
	require.Equal(t, []string{"2", "3"}, got1)
}

func TestResumeFromCursorNeverRepeats(t *testing.T) {
	l := newLog(t)
	appendMsgs(t, l, "1", "2", "3", "4")
	complete(t, l)
	r := New(l, l, Options{})

	h := Open(context.Background(), r, streamID, decodeString)
	require.Equal(t, "1", h.Next(context.Background()).Item)
	require.Equal(t, "2", h.Next(context.Background()).Item)
	pos := h.Cursor()
	h.Close()

	h = Open(context.Background(), r, streamID, decodeString, WithStart[string](pos))
	got, _ := drain(t, h)
	require.Equal(t, []string{"3", "4"}, got)
}

func TestCheckpointResumes(t *testing.T) {
	l := newLog(t)
	appendMsgs(t, l, "1", "2", "3")
	r := New(l, l, Options{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	h := Open(ctx, r, streamID, decodeString, WithCheckpoint[string]("ui"))
	require.Equal(t, "1", h.Next(ctx).Item)
	require.Equal(t, "2", h.Next(ctx).Item)
	require.Eventually(t, func() bool {
		pos, ok, err := l.GetCursor(context.Background(), key(), "ui")
		return err == nil && ok && pos == h.Cursor()
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-h.Done()

	complete(t, l)
	h = Open(context.Background(), r, streamID, decodeString, WithCheckpoint[string]("ui"))
	got, _ := drain(t, h)
	require.Equal(t, []string{"3"}, got)
}

// flakyStore fails the first n reads.
type flakyStore struct {
	streamlog.Store
	fails atomic.Int32
}

var errFlaky = errors.New("connection reset")

func (f *flakyStore) ReadAfter(ctx context.Context, key string, after streamlog.Position, count int) ([]streamlog.Entry, error) {
	if f.fails.Add(-1) >= 0 {
		return nil, errFlaky
	}
	return f.Store.ReadAfter(ctx, key, after, count)
}

func TestTransientReadErrorsAreRetried(t *testing.T) {
	l := newLog(t)
	appendMsgs(t, l, "a")
	complete(t, l)
	fs := &flakyStore{Store: l}
	fs.fails.Store(DefaultMaxReadErrors)

	h := Open(context.Background(), New(fs, nil, Options{PollInterval: time.Millisecond}), streamID, decodeString)
	got, last := drain(t, h)
	require.Equal(t, []string{"a"}, got)
	require.Equal(t, outcome.KindEnd, last.Kind)
}

func TestPersistentReadErrorFailsHandle(t *testing.T) {
	l := newLog(t)
	fs := &flakyStore{Store: l}
	fs.fails.Store(1000)

	h := Open(context.Background(), New(fs, nil, Options{PollInterval: time.Millisecond, MaxReadErrors: 2}), streamID, decodeString)
	_, last := drain(t, h)
	require.Equal(t, outcome.KindError, last.Kind)
	require.ErrorIs(t, last.Err, errFlaky)
	require.Equal(t, StateFailed, h.State())
}
