package eventlog

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/mediaflo/internal/streamlog"
	pebblestore "github.com/rzbill/mediaflo/internal/storage/pebble"
)

// Expire schedules key for deletion ttl from now. A newer call replaces the
// previous deadline. Reads treat a stream past its deadline as missing even
// before the sweeper removes it.
func (l *Log) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := validKey(key); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return streamlog.ErrClosed
	}
	deadline := uint64(nowMs() + ttl.Milliseconds())

	b := l.db.NewBatch()
	defer b.Close()
	if prev, ok, err := l.deadline(key); err != nil {
		return err
	} else if ok {
		if err := b.Delete(keyTTLIndex(prev, key), nil); err != nil {
			return err
		}
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], deadline)
	if err := b.Set(keyStreamExpiry(key), v[:], nil); err != nil {
		return err
	}
	if err := b.Set(keyTTLIndex(deadline, key), nil, nil); err != nil {
		return err
	}
	return l.db.CommitBatch(ctx, b)
}

func (l *Log) deadline(key string) (uint64, bool, error) {
	v, err := l.db.Get(keyStreamExpiry(key))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(v) < 8 {
		return 0, false, ErrCorruptRecord
	}
	return binary.BigEndian.Uint64(v[:8]), true, nil
}

func (l *Log) expired(key string) (bool, error) {
	d, ok, err := l.deadline(key)
	if err != nil || !ok {
		return false, err
	}
	return d <= uint64(nowMs()), nil
}

// Sweep deletes every stream whose deadline is at or before now and returns
// how many were removed.
func (l *Log) Sweep(ctx context.Context) (int, error) {
	now := uint64(nowMs())
	ttlHigh := appendBE8(append([]byte(nil), ttlPrefix...), now+1)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: ttlPrefix, UpperBound: ttlHigh})
	if err != nil {
		return 0, err
	}
	var due []string
	for ok := iter.First(); ok; ok = iter.Next() {
		if _, key, ok := parseTTLIndex(iter.Key()); ok {
			due = append(due, key)
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}

	removed := 0
	var low, high []byte
	for _, key := range due {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		l.mu.Lock()
		// Re-check under the lock: Expire may have pushed the deadline out.
		d, ok, err := l.deadline(key)
		if err == nil && ok && d <= now {
			err = l.deleteStream(ctx, key)
			if err == nil {
				removed++
				lo, hi := streamBounds(key)
				if low == nil || bytes.Compare(lo, low) < 0 {
					low = lo
				}
				if bytes.Compare(hi, high) > 0 {
					high = hi
				}
			}
		}
		l.mu.Unlock()
		if err != nil {
			return removed, err
		}
		if ok && d <= now {
			l.hook.Expired(key)
		}
	}
	if removed > 0 {
		if err := l.db.CompactRange(low, high); err != nil {
			return removed, fmt.Errorf("eventlog: compact after sweep: %w", err)
		}
	}
	return removed, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (l *Log) RunSweeper(ctx context.Context, interval time.Duration, onErr func(error)) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := l.Sweep(ctx); err != nil && onErr != nil && ctx.Err() == nil {
				onErr(err)
			}
		}
	}
}
