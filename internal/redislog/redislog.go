package redislog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/rzbill/mediaflo/internal/streamlog"
	"github.com/rzbill/mediaflo/pkg/log"
)

// Options configures the connection pool.
type Options struct {
	Addr        string
	Password    string
	DB          int
	MaxIdle     int
	MaxActive   int
	IdleTimeout time.Duration
	DialTimeout time.Duration
	Logger      log.Logger
}

const unsubscribeTimeout = 2 * time.Second

// Log is a Redis-backed streamlog.Store and streamlog.Notifier.
type Log struct {
	pool *redis.Pool
	dial func(ctx context.Context) (redis.Conn, error)
	log  log.Logger
}

var (
	_ streamlog.Store    = (*Log)(nil)
	_ streamlog.Notifier = (*Log)(nil)
)

// Open builds the pool and checks the server answers.
func Open(ctx context.Context, opts Options) (*Log, error) {
	if opts.Addr == "" {
		return nil, errors.New("redislog: empty address")
	}
	if opts.MaxIdle <= 0 {
		opts.MaxIdle = 8
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	dialOpts := []redis.DialOption{
		redis.DialConnectTimeout(opts.DialTimeout),
		redis.DialDatabase(opts.DB),
	}
	if opts.Password != "" {
		dialOpts = append(dialOpts, redis.DialPassword(opts.Password))
	}
	dial := func(ctx context.Context) (redis.Conn, error) {
		return redis.DialContext(ctx, "tcp", opts.Addr, dialOpts...)
	}
	l := &Log{
		dial: dial,
		pool: &redis.Pool{
			MaxIdle:     opts.MaxIdle,
			MaxActive:   opts.MaxActive,
			IdleTimeout: opts.IdleTimeout,
			Wait:        opts.MaxActive > 0,
			DialContext: dial,
			TestOnBorrow: func(c redis.Conn, t time.Time) error {
				if time.Since(t) < time.Minute {
					return nil
				}
				_, err := c.Do("PING")
				return err
			},
		},
		log: opts.Logger.With(log.Component("redislog")),
	}
	if err := l.Ping(ctx); err != nil {
		_ = l.pool.Close()
		return nil, fmt.Errorf("redislog: connect %s: %w", opts.Addr, err)
	}
	return l, nil
}

// Close closes the pool.
func (l *Log) Close() error { return l.pool.Close() }

// Ping checks the server is reachable.
func (l *Log) Ping(ctx context.Context) error {
	_, err := l.do(ctx, "PING")
	return err
}

func (l *Log) do(ctx context.Context, cmd string, args ...any) (any, error) {
	conn, err := l.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return redis.DoContext(conn, ctx, cmd, args...)
}

// Append runs XADD, trimming approximately when maxLen is positive.
func (l *Log) Append(ctx context.Context, key string, fields streamlog.Fields, maxLen int) (streamlog.Position, error) {
	args := make([]any, 0, 4+2*len(fields))
	args = append(args, key)
	if maxLen > 0 {
		args = append(args, "MAXLEN", "~", maxLen)
	}
	args = append(args, "*")
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		args = append(args, name, fields[name])
	}
	if len(names) == 0 {
		// XADD needs at least one pair.
		args = append(args, streamlog.FieldStatus, "")
	}
	id, err := redis.String(l.do(ctx, "XADD", args...))
	if err != nil {
		return streamlog.Position{}, fmt.Errorf("redislog: xadd %s: %w", key, err)
	}
	return streamlog.ParsePosition(id)
}

// ReadAfter runs XREAD without blocking.
func (l *Log) ReadAfter(ctx context.Context, key string, after streamlog.Position, count int) ([]streamlog.Entry, error) {
	args := make([]any, 0, 5)
	if count > 0 {
		args = append(args, "COUNT", count)
	}
	args = append(args, "STREAMS", key, after.String())
	reply, err := redis.Values(l.do(ctx, "XREAD", args...))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redislog: xread %s: %w", key, err)
	}
	return parseXRead(reply)
}

// parseXRead decodes [[key, [[id, [f, v, ...]], ...]], ...] for one key.
func parseXRead(reply []any) ([]streamlog.Entry, error) {
	var out []streamlog.Entry
	for _, s := range reply {
		pair, err := redis.Values(s, nil)
		if err != nil || len(pair) != 2 {
			return nil, fmt.Errorf("redislog: unexpected xread reply")
		}
		items, err := redis.Values(pair[1], nil)
		if err != nil {
			return nil, fmt.Errorf("redislog: unexpected xread entries: %w", err)
		}
		for _, it := range items {
			e, err := parseEntry(it)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
	}
	return out, nil
}

func parseEntry(v any) (streamlog.Entry, error) {
	parts, err := redis.Values(v, nil)
	if err != nil || len(parts) != 2 {
		return streamlog.Entry{}, fmt.Errorf("redislog: unexpected stream entry")
	}
	id, err := redis.String(parts[0], nil)
	if err != nil {
		return streamlog.Entry{}, err
	}
	pos, err := streamlog.ParsePosition(id)
	if err != nil {
		return streamlog.Entry{}, err
	}
	kv, err := redis.ByteSlices(parts[1], nil)
	if err != nil && !errors.Is(err, redis.ErrNil) {
		return streamlog.Entry{}, err
	}
	if len(kv)%2 != 0 {
		return streamlog.Entry{}, fmt.Errorf("redislog: odd field list at %s", id)
	}
	fields := make(streamlog.Fields, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		fields[string(kv[i])] = kv[i+1]
	}
	return streamlog.Entry{Position: pos, Fields: fields}, nil
}

// Len runs XLEN.
func (l *Log) Len(ctx context.Context, key string) (int, error) {
	return redis.Int(l.do(ctx, "XLEN", key))
}

// Expire runs PEXPIRE.
func (l *Log) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := l.do(ctx, "PEXPIRE", key, ttl.Milliseconds())
	return err
}

// Delete runs DEL.
func (l *Log) Delete(ctx context.Context, key string) error {
	_, err := l.do(ctx, "DEL", key)
	return err
}

// Publish sends an empty ping on channel.
func (l *Log) Publish(ctx context.Context, channel string) error {
	_, err := l.do(ctx, "PUBLISH", channel, "")
	return err
}

// Push runs LPUSH; Pop takes from the other end.
func (l *Log) Push(ctx context.Context, queue string, payload []byte) error {
	_, err := l.do(ctx, "LPUSH", queue, payload)
	return err
}

// Pop runs RPOP.
func (l *Log) Pop(ctx context.Context, queue string) ([]byte, bool, error) {
	b, err := redis.Bytes(l.do(ctx, "RPOP", queue))
	if errors.Is(err, redis.ErrNil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Subscribe opens a dedicated connection subscribed to channel. The
// connection does not come from the pool.
func (l *Log) Subscribe(ctx context.Context, channel string) (streamlog.Subscription, error) {
	conn, err := l.dial(ctx)
	if err != nil {
		return nil, err
	}
	psc := redis.PubSubConn{Conn: conn}
	if err := psc.Subscribe(channel); err != nil {
		_ = conn.Close()
		return nil, err
	}
	// Wait for the confirmation so pings published after Subscribe returns
	// are not missed.
	switch v := psc.ReceiveContext(ctx).(type) {
	case redis.Subscription:
	case error:
		_ = conn.Close()
		return nil, v
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("redislog: unexpected subscribe reply %T", v)
	}
	s := &subscription{psc: psc, ch: make(chan struct{}, 1), done: make(chan struct{}), log: l.log}
	go s.receive()
	return s, nil
}

type subscription struct {
	psc  redis.PubSubConn
	ch   chan struct{}
	done chan struct{}
	log  log.Logger
	once sync.Once
}

func (s *subscription) C() <-chan struct{} { return s.ch }

// receive owns the connection and closes it once the server confirms the
// unsubscribe or the connection fails.
func (s *subscription) receive() {
	defer close(s.done)
	defer s.psc.Close()
	for {
		switch v := s.psc.Receive().(type) {
		case redis.Message:
			select {
			case s.ch <- struct{}{}:
			default:
			}
		case redis.Subscription:
			if v.Count == 0 {
				return
			}
		case error:
			s.log.Debug("subscription ended", log.Err(v))
			return
		}
	}
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		if err := s.psc.Unsubscribe(); err != nil {
			return
		}
		select {
		case <-s.done:
		case <-time.After(unsubscribeTimeout):
			s.log.Warn("unsubscribe not confirmed")
		}
	})
	return nil
}
