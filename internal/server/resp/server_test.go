package respserver

import (
	"context"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/mediaflo/internal/eventlog"
	"github.com/rzbill/mediaflo/internal/streamlog"
	pebblestore "github.com/rzbill/mediaflo/internal/storage/pebble"
)

func startGateway(t *testing.T, opts Options) (*Server, *eventlog.Log) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	backend := eventlog.Open(db, eventlog.Options{})
	t.Cleanup(func() { _ = backend.Close() })

	srv := New(backend, opts)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = srv.Close() })
	return srv, backend
}

func dial(t *testing.T, srv *Server) redis.Conn {
	t.Helper()
	c, err := redis.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPingAndEcho(t *testing.T) {
	srv, _ := startGateway(t, Options{})
	c := dial(t, srv)

	pong, err := redis.String(c.Do("PING"))
	require.NoError(t, err)
	require.Equal(t, "PONG", pong)

	echo, err := redis.String(c.Do("ECHO", "hi"))
	require.NoError(t, err)
	require.Equal(t, "hi", echo)

	_, err = c.Do("FLUSHALL")
	require.ErrorContains(t, err, "unknown command")
}

func TestXAddXReadRoundTrip(t *testing.T) {
	srv, backend := startGateway(t, Options{})
	c := dial(t, srv)

	id1, err := redis.String(c.Do("XADD", "s", "MAXLEN", "~", 100, "*", "m", "one"))
	require.NoError(t, err)
	_, err = redis.String(c.Do("XADD", "s", "*", "m", "two"))
	require.NoError(t, err)
	_, err = redis.String(c.Do("XADD", "s", "*", "s", "completed"))
	require.NoError(t, err)

	n, err := redis.Int(c.Do("XLEN", "s"))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	reply, err := redis.Values(c.Do("XREAD", "COUNT", 2, "STREAMS", "s", "0-0"))
	require.NoError(t, err)
	require.Len(t, reply, 1)
	stream, err := redis.Values(reply[0], nil)
	require.NoError(t, err)
	require.Equal(t, "s", string(stream[0].([]byte)))
	entries, err := redis.Values(stream[1], nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first, err := redis.Values(entries[0], nil)
	require.NoError(t, err)
	require.Equal(t, id1, string(first[0].([]byte)))
	kv, err := redis.Strings(first[1], nil)
	require.NoError(t, err)
	require.Equal(t, []string{"m", "one"}, kv)

	entries2, err := backend.ReadAfter(context.Background(), "s", mustPos(t, id1), 0)
	require.NoError(t, err)
	require.Len(t, entries2, 2)
	last := entries2[1].Position.String()
	// Reading past the end is a null reply.
	_, err = redis.Values(c.Do("XREAD", "STREAMS", "s", last))
	require.ErrorIs(t, err, redis.ErrNil)
}

func TestXReadRejectsBlock(t *testing.T) {
	srv, _ := startGateway(t, Options{})
	c := dial(t, srv)
	_, err := c.Do("XREAD", "BLOCK", 0, "STREAMS", "s", "0-0")
	require.ErrorContains(t, err, "BLOCK")
	_, err = c.Do("XREAD", "STREAMS", "s")
	require.ErrorContains(t, err, "Unbalanced")
}

func TestXAddRejectsExplicitIDs(t *testing.T) {
	srv, _ := startGateway(t, Options{})
	c := dial(t, srv)
	_, err := c.Do("XADD", "s", "5-0", "m", "x")
	require.ErrorContains(t, err, "auto-generated")
}

func TestExpireAndDel(t *testing.T) {
	srv, _ := startGateway(t, Options{})
	c := dial(t, srv)

	n, err := redis.Int(c.Do("EXPIRE", "missing", 10))
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = c.Do("XADD", "s", "*", "m", "x")
	require.NoError(t, err)
	n, err = redis.Int(c.Do("PEXPIRE", "s", 60000))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = redis.Int(c.Do("DEL", "s", "missing"))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = redis.Int(c.Do("XLEN", "s"))
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestQueueCommandsAreFIFO(t *testing.T) {
	srv, _ := startGateway(t, Options{})
	c := dial(t, srv)

	n, err := redis.Int(c.Do("LPUSH", "q", "a", "b"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = redis.Int(c.Do("LLEN", "q"))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	v, err := redis.String(c.Do("RPOP", "q"))
	require.NoError(t, err)
	require.Equal(t, "a", v)
	v, err = redis.String(c.Do("RPOP", "q"))
	require.NoError(t, err)
	require.Equal(t, "b", v)
	_, err = redis.String(c.Do("RPOP", "q"))
	require.ErrorIs(t, err, redis.ErrNil)
}

func TestSubscribeReceivesBackendPublishes(t *testing.T) {
	srv, backend := startGateway(t, Options{})
	sub := dial(t, srv)
	psc := redis.PubSubConn{Conn: sub}
	require.NoError(t, psc.Subscribe("pings"))
	confirm, ok := psc.Receive().(redis.Subscription)
	require.True(t, ok)
	require.Equal(t, "pings", confirm.Channel)

	// In-process publish reaches the protocol subscriber through the tap.
	require.NoError(t, backend.Publish(context.Background(), "pings"))
	msg := receiveMessage(t, psc)
	require.Equal(t, "pings", msg.Channel)

	// So does a protocol publish from another connection.
	pub := dial(t, srv)
	_, err := pub.Do("PUBLISH", "pings", "")
	require.NoError(t, err)
	msg = receiveMessage(t, psc)
	require.Equal(t, "pings", msg.Channel)
}

func receiveMessage(t *testing.T, psc redis.PubSubConn) redis.Message {
	t.Helper()
	for {
		switch v := psc.ReceiveWithTimeout(5 * time.Second).(type) {
		case redis.Message:
			return v
		case error:
			t.Fatalf("receive: %v", v)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := startGateway(t, Options{Password: "secret"})
	c := dial(t, srv)

	_, err := c.Do("PING")
	require.NoError(t, err)
	_, err = c.Do("XLEN", "s")
	require.ErrorContains(t, err, "NOAUTH")
	_, err = c.Do("AUTH", "wrong")
	require.ErrorContains(t, err, "WRONGPASS")
	_, err = c.Do("AUTH", "secret")
	require.NoError(t, err)
	_, err = c.Do("XLEN", "s")
	require.NoError(t, err)
}

func mustPos(t *testing.T, s string) streamlog.Position {
	t.Helper()
	p, err := streamlog.ParsePosition(s)
	require.NoError(t, err)
	return p
}
