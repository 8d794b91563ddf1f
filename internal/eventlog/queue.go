package eventlog

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/rzbill/mediaflo/internal/streamlog"
	pebblestore "github.com/rzbill/mediaflo/internal/storage/pebble"
)

// queueMeta tracks the half-open range [head, tail) of live item sequences.
type queueMeta struct {
	head, tail uint64
}

func (l *Log) loadQueue(queue string) (queueMeta, error) {
	v, err := l.db.Get(keyQueueMeta(queue))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return queueMeta{}, nil
	}
	if err != nil {
		return queueMeta{}, err
	}
	if len(v) < 16 {
		return queueMeta{}, ErrCorruptRecord
	}
	return queueMeta{head: binary.BigEndian.Uint64(v[:8]), tail: binary.BigEndian.Uint64(v[8:16])}, nil
}

func (m queueMeta) encode() []byte {
	return appendBE8(appendBE8(make([]byte, 0, 16), m.head), m.tail)
}

// Push adds payload to the tail of queue.
func (l *Log) Push(ctx context.Context, queue string, payload []byte) error {
	if err := validKey(queue); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return streamlog.ErrClosed
	}
	m, err := l.loadQueue(queue)
	if err != nil {
		return err
	}
	b := l.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyQueueItem(queue, m.tail), payload, nil); err != nil {
		return err
	}
	m.tail++
	if err := b.Set(keyQueueMeta(queue), m.encode(), nil); err != nil {
		return err
	}
	return l.db.CommitBatch(ctx, b)
}

// Pop removes and returns the oldest payload of queue.
func (l *Log) Pop(ctx context.Context, queue string) ([]byte, bool, error) {
	if err := validKey(queue); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, false, streamlog.ErrClosed
	}
	m, err := l.loadQueue(queue)
	if err != nil || m.head >= m.tail {
		return nil, false, err
	}
	item := keyQueueItem(queue, m.head)
	payload, err := l.db.Get(item)
	if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return nil, false, err
	}
	b := l.db.NewBatch()
	defer b.Close()
	if err := b.Delete(item, nil); err != nil {
		return nil, false, err
	}
	m.head++
	if err := b.Set(keyQueueMeta(queue), m.encode(), nil); err != nil {
		return nil, false, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// QueueLen returns how many payloads queue holds.
func (l *Log) QueueLen(_ context.Context, queue string) (int, error) {
	if err := validKey(queue); err != nil {
		return 0, err
	}
	m, err := l.loadQueue(queue)
	if err != nil {
		return 0, err
	}
	return int(m.tail - m.head), nil
}
