package streamlog

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidKey is returned for keys a backend cannot address.
	ErrInvalidKey = errors.New("streamlog: invalid key")
	// ErrClosed is returned after the backend was closed.
	ErrClosed = errors.New("streamlog: closed")
)

// Store is the append-only, capped, position-addressable log.
type Store interface {
	// Append adds an entry to key and returns its position. When maxLen is
	// positive the stream is trimmed to approximately maxLen entries.
	Append(ctx context.Context, key string, fields Fields, maxLen int) (Position, error)
	// ReadAfter returns up to count entries strictly after the given
	// position, oldest first. A missing key yields no entries and no error.
	ReadAfter(ctx context.Context, key string, after Position, count int) ([]Entry, error)
	// Len returns the number of entries currently stored under key.
	Len(ctx context.Context, key string) (int, error)
	// Expire schedules deletion of key after ttl.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Delete removes key and all its entries.
	Delete(ctx context.Context, key string) error
}

// Subscription delivers pings published on one channel. Pings may be
// coalesced; a ping only means "poll again".
type Subscription interface {
	C() <-chan struct{}
	Close() error
}

// Notifier is the lightweight side channel: pub/sub pings plus a FIFO list
// used to announce new streams.
type Notifier interface {
	Publish(ctx context.Context, channel string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	// Push adds payload to the tail of queue.
	Push(ctx context.Context, queue string, payload []byte) error
	// Pop removes the oldest payload of queue. ok is false when it is empty.
	Pop(ctx context.Context, queue string) (payload []byte, ok bool, err error)
}

// CursorStore is implemented by backends that can persist consumer
// positions next to the stream, so a reader can resume after a restart.
type CursorStore interface {
	CommitCursor(ctx context.Context, key, consumer string, pos Position) error
	GetCursor(ctx context.Context, key, consumer string) (Position, bool, error)
}
