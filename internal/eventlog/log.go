package eventlog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/mediaflo/internal/streamlog"
	pebblestore "github.com/rzbill/mediaflo/internal/storage/pebble"
)

// Options tunes a Log.
type Options struct {
	// TrimSlack is how far past maxLen a stream may grow before Append trims
	// it back. Zero derives it from maxLen (10%, at least 1).
	TrimSlack int
	// Hook observes trims and expiries. Optional.
	Hook TrimHook
}

// Log is the Pebble-backed durable log. It implements streamlog.Store and
// streamlog.Notifier; pub/sub pings stay in-process.
type Log struct {
	db   *pebblestore.DB
	opts Options
	hook TrimHook

	mu     sync.Mutex // serializes appends, expiry updates and queue ops
	closed bool

	*Hub
}

var (
	_ streamlog.Store    = (*Log)(nil)
	_ streamlog.Notifier = (*Log)(nil)
)

// nowMs is replaced in tests.
var nowMs = func() int64 { return time.Now().UnixMilli() }

// Open builds a Log over an open Pebble store.
func Open(db *pebblestore.DB, opts Options) *Log {
	hook := opts.Hook
	if hook == nil {
		hook = noopHook{}
	}
	return &Log{db: db, opts: opts, hook: hook, Hub: NewHub()}
}

// Close releases subscribers. The Pebble store is owned by the caller.
func (l *Log) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.Hub.Close()
	return nil
}

func (l *Log) loadMeta(key string) (streamMeta, bool, error) {
	b, err := l.db.Get(keyStreamMeta(key))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return streamMeta{}, false, nil
	}
	if err != nil {
		return streamMeta{}, false, err
	}
	m, ok := decodeMeta(b)
	if !ok {
		return streamMeta{}, false, ErrCorruptRecord
	}
	return m, true, nil
}

// Append appends one entry to key, assigning a position after the stream's
// last one, and trims the stream when it outgrows maxLen.
func (l *Log) Append(ctx context.Context, key string, fields streamlog.Fields, maxLen int) (streamlog.Position, error) {
	if err := validKey(key); err != nil {
		return streamlog.Position{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return streamlog.Position{}, streamlog.ErrClosed
	}

	if expired, err := l.expired(key); err != nil {
		return streamlog.Position{}, err
	} else if expired {
		if err := l.deleteStream(ctx, key); err != nil {
			return streamlog.Position{}, err
		}
	}
	meta, _, err := l.loadMeta(key)
	if err != nil {
		return streamlog.Position{}, err
	}
	pos := nextPosition(meta.last, uint64(nowMs()))

	b := l.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyEntry(key, pos), encodeFields(fields), nil); err != nil {
		return streamlog.Position{}, err
	}
	meta.last = pos
	meta.length++

	var trimmed trimResult
	if maxLen > 0 && meta.length > uint64(maxLen+l.slack(maxLen)) {
		trimmed, err = l.trimOldest(b, key, int(meta.length)-maxLen)
		if err != nil {
			return streamlog.Position{}, err
		}
		meta.length -= uint64(trimmed.n)
	}
	if err := b.Set(keyStreamMeta(key), meta.encode(), nil); err != nil {
		return streamlog.Position{}, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return streamlog.Position{}, err
	}
	if trimmed.n > 0 {
		l.hook.Trimmed(key, trimmed.first, trimmed.last, trimmed.n)
	}
	return pos, nil
}

func (l *Log) slack(maxLen int) int {
	if l.opts.TrimSlack > 0 {
		return l.opts.TrimSlack
	}
	if s := maxLen / 10; s > 0 {
		return s
	}
	return 1
}

// nextPosition mirrors redis stream ids: the wall clock when it moved
// forward, otherwise the last millisecond with the next sequence.
func nextPosition(last streamlog.Position, ms uint64) streamlog.Position {
	if ms > last.Ms {
		return streamlog.Position{Ms: ms}
	}
	return last.Next()
}

// ReadAfter returns up to count entries strictly after the given position.
func (l *Log) ReadAfter(ctx context.Context, key string, after streamlog.Position, count int) ([]streamlog.Entry, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if expired, err := l.expired(key); err != nil || expired {
		return nil, err
	}
	low, high := entryBounds(key)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []streamlog.Entry
	ok := iter.First()
	if !after.IsStart() {
		ok = iter.SeekGE(keyEntry(key, after.Next()))
	}
	for ; ok && (count <= 0 || len(out) < count); ok = iter.Next() {
		fields, err := decodeFields(iter.Value())
		if err != nil {
			return out, err
		}
		out = append(out, streamlog.Entry{Position: positionFromEntryKey(iter.Key()), Fields: fields})
	}
	return out, iter.Error()
}

// Len returns the number of entries currently stored under key.
func (l *Log) Len(ctx context.Context, key string) (int, error) {
	if err := validKey(key); err != nil {
		return 0, err
	}
	if expired, err := l.expired(key); err != nil || expired {
		return 0, err
	}
	meta, _, err := l.loadMeta(key)
	if err != nil {
		return 0, err
	}
	return int(meta.length), nil
}

// Delete removes key and everything stored under it.
func (l *Log) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deleteStream(ctx, key)
}

func (l *Log) deleteStream(ctx context.Context, key string) error {
	b := l.db.NewBatch()
	defer b.Close()
	if deadline, ok, err := l.deadline(key); err != nil {
		return err
	} else if ok {
		if err := b.Delete(keyTTLIndex(deadline, key), nil); err != nil {
			return err
		}
	}
	low, high := streamBounds(key)
	if err := b.DeleteRange(low, high, nil); err != nil {
		return err
	}
	return l.db.CommitBatch(ctx, b)
}
