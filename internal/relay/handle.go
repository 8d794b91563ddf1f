package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/mediaflo/internal/outcome"
	"github.com/rzbill/mediaflo/internal/streamlog"
	"github.com/rzbill/mediaflo/pkg/id"
	"github.com/rzbill/mediaflo/pkg/log"
)

// State is the lifecycle of a Handle.
type State int32

const (
	StateIdle State = iota
	StateTailing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTailing:
		return "tailing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrDecode wraps payload decoding failures.
var ErrDecode = errors.New("relay: decode failed")

// Decoder turns a stored message payload into an item.
type Decoder[T any] func(payload []byte) (T, error)

// Predicate selects which decoded items a handle delivers.
type Predicate[T any] func(item T) (bool, error)

type readOptions[T any] struct {
	skip     int
	start    streamlog.Position
	filter   Predicate[T]
	consumer string
}

// ReadOption configures one Handle.
type ReadOption[T any] func(*readOptions[T])

// WithSkip drops the first n messages of the stream.
func WithSkip[T any](n int) ReadOption[T] {
	return func(o *readOptions[T]) {
		if n > 0 {
			o.skip = n
		}
	}
}

// WithStart resumes after pos instead of the beginning of the stream.
func WithStart[T any](pos streamlog.Position) ReadOption[T] {
	return func(o *readOptions[T]) { o.start = pos }
}

// WithFilter delivers only items p accepts. Rejected items still advance
// the cursor.
func WithFilter[T any](p Predicate[T]) ReadOption[T] {
	return func(o *readOptions[T]) { o.filter = p }
}

// WithCheckpoint commits the cursor under consumer after every delivered
// item, and resumes from the committed cursor when no start is given. It
// needs a store implementing streamlog.CursorStore and is ignored
// otherwise.
func WithCheckpoint[T any](consumer string) ReadOption[T] {
	return func(o *readOptions[T]) { o.consumer = consumer }
}

type delivery[T any] struct {
	item T
	pos  streamlog.Position
}

// Handle is a single-use, sequential reader of one stream.
type Handle[T any] struct {
	r       *Relay
	key     string
	channel string
	decode  Decoder[T]
	opts    readOptions[T]
	log     log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	cstore    streamlog.CursorStore
	startOnce sync.Once
	out       chan delivery[T]
	done      chan struct{}
	err       error
	state     atomic.Int32
	cursor    atomic.Pointer[streamlog.Position]
}

// Open returns a new handle over streamID. Tailing starts on the first
// Next. Cancelling ctx ends the handle cleanly.
func Open[T any](ctx context.Context, r *Relay, streamID id.ID, decode Decoder[T], opts ...ReadOption[T]) *Handle[T] {
	var ro readOptions[T]
	for _, opt := range opts {
		opt(&ro)
	}
	hctx, cancel := context.WithCancel(ctx)
	h := &Handle[T]{
		r:       r,
		key:     r.opts.Naming.StreamKey(streamID),
		channel: r.opts.Naming.PartChannel(streamID),
		decode:  decode,
		opts:    ro,
		log:     r.log.With(log.Stream(streamID.String())),
		ctx:     hctx,
		cancel:  cancel,
		out:     make(chan delivery[T], r.opts.HandleBuffer),
		done:    make(chan struct{}),
	}
	if cs, ok := r.store.(streamlog.CursorStore); ok && ro.consumer != "" {
		h.cstore = cs
	}
	start := ro.start
	h.cursor.Store(&start)
	return h
}

// Next returns the next item, End once the stream completed, or the
// failure that ended the handle. A done ctx fails only this call.
func (h *Handle[T]) Next(ctx context.Context) outcome.Outcome[T] {
	h.startOnce.Do(func() {
		h.state.Store(int32(StateTailing))
		go h.tail()
	})
	select {
	case d, ok := <-h.out:
		if !ok {
			return outcome.Fail[T](h.err)
		}
		pos := d.pos
		h.cursor.Store(&pos)
		if h.cstore != nil {
			if err := h.cstore.CommitCursor(ctx, h.key, h.opts.consumer, pos); err != nil {
				h.log.Warn("commit checkpoint", log.Err(err))
			}
		}
		return outcome.Ok(d.item)
	case <-ctx.Done():
		return outcome.Fail[T](ctx.Err())
	}
}

// Done is closed when the handle reached Done or Failed.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Err is the failure that ended the handle; nil after a clean end or a
// cancellation. Valid once Done is closed.
func (h *Handle[T]) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// State reports the handle's lifecycle state.
func (h *Handle[T]) State() State { return State(h.state.Load()) }

// Cursor is the position of the last item Next returned.
func (h *Handle[T]) Cursor() streamlog.Position { return *h.cursor.Load() }

// Close cancels the handle. It does not wait for the tailer to exit.
func (h *Handle[T]) Close() {
	h.cancel()
	h.startOnce.Do(func() { h.finish(nil) })
}

func (h *Handle[T]) finish(err error) {
	h.err = err
	if err != nil {
		h.state.Store(int32(StateFailed))
	} else {
		h.state.Store(int32(StateDone))
	}
	close(h.out)
	close(h.done)
	h.cancel()
}

func (h *Handle[T]) tail() {
	ctx := h.ctx
	var ping <-chan struct{}
	if n := h.r.notifier; n != nil {
		if sub, err := n.Subscribe(ctx, h.channel); err != nil {
			h.log.Debug("part notifications unavailable, polling only", log.Err(err))
		} else {
			defer sub.Close()
			ping = sub.C()
		}
	}

	cursor := h.opts.start
	if h.cstore != nil && cursor.IsStart() {
		if pos, ok, err := h.cstore.GetCursor(ctx, h.key, h.opts.consumer); err != nil {
			h.log.Warn("load checkpoint", log.Err(err))
		} else if ok {
			cursor = pos
		}
	}

	skip := h.opts.skip
	failures := 0
	for {
		if ctx.Err() != nil {
			h.finish(nil)
			return
		}
		entries, err := h.r.store.ReadAfter(ctx, h.key, cursor, h.r.opts.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				h.finish(nil)
				return
			}
			failures++
			if failures > h.r.opts.MaxReadErrors {
				h.finish(fmt.Errorf("relay: read %s after %s: %w", h.key, cursor, err))
				return
			}
			h.log.Warn("log read failed, retrying", log.Err(err), log.Int("attempt", failures))
			h.wait(ctx, ping)
			continue
		}
		failures = 0

		for _, e := range entries {
			if e.Completed() {
				h.finish(nil)
				return
			}
			payload, ok := e.Message()
			if !ok {
				// Not ours to interpret; step over it.
				cursor = e.Position
				continue
			}
			item, err := h.decode(payload)
			if err != nil {
				h.finish(fmt.Errorf("%w: %s at %s: %v", ErrDecode, h.key, e.Position, err))
				return
			}
			cursor = e.Position
			if skip > 0 {
				skip--
				continue
			}
			if f := h.opts.filter; f != nil {
				keep, err := f(item)
				if err != nil {
					h.finish(fmt.Errorf("relay: filter at %s: %w", e.Position, err))
					return
				}
				if !keep {
					continue
				}
			}
			select {
			case h.out <- delivery[T]{item: item, pos: cursor}:
			case <-ctx.Done():
				h.finish(nil)
				return
			}
		}
		if len(entries) == 0 {
			h.wait(ctx, ping)
		}
	}
}

// wait blocks for one poll interval, a ping, or cancellation.
func (h *Handle[T]) wait(ctx context.Context, ping <-chan struct{}) {
	t := time.NewTimer(h.r.opts.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-ping:
	}
}
