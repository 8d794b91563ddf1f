package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/rzbill/mediaflo/internal/outcome"
)

// Delivery is the result of writing one item to a sink.
type Delivery uint8

const (
	// Delivered means the sink accepted the item.
	Delivered Delivery = iota
	// Closed means the consumer went away; the sink takes no more items.
	Closed
	// Failed means the write could not complete, for example because the
	// delivery context ended.
	Failed
)

func (d Delivery) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case Closed:
		return "closed"
	default:
		return "failed"
	}
}

// Sink receives the items of one stream. Write may block; it must return
// once ctx is done. Close is called exactly once with the terminal signal:
// nil for a clean end of stream. Sinks are used as map keys, so they must
// be comparable (typically pointers).
type Sink[T any] interface {
	Write(ctx context.Context, item T) Delivery
	Close(err error)
}

// ChanSink is a bounded, consumer-pulled sink.
type ChanSink[T any] struct {
	ch chan T

	closeOnce sync.Once
	closed    chan struct{}
	term      error

	cancelOnce sync.Once
	cancelled  chan struct{}
}

// NewChanSink returns a ChanSink holding up to capacity undelivered items.
func NewChanSink[T any](capacity int) *ChanSink[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ChanSink[T]{
		ch:        make(chan T, capacity),
		closed:    make(chan struct{}),
		cancelled: make(chan struct{}),
	}
}

// Write queues item, blocking while the sink is full.
func (s *ChanSink[T]) Write(ctx context.Context, item T) Delivery {
	select {
	case <-s.cancelled:
		return Closed
	default:
	}
	select {
	case s.ch <- item:
		return Delivered
	case <-s.cancelled:
		return Closed
	case <-ctx.Done():
		return Failed
	}
}

// Close records the terminal signal. Items already queued stay readable.
func (s *ChanSink[T]) Close(err error) {
	s.closeOnce.Do(func() {
		s.term = err
		close(s.closed)
	})
}

// Cancel is the consumer hanging up: pending and future writes report
// Closed and Next returns End.
func (s *ChanSink[T]) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelled) })
}

// Next returns the next item, or the terminal outcome once every queued
// item was consumed. A done ctx yields Fail(ctx.Err()).
func (s *ChanSink[T]) Next(ctx context.Context) outcome.Outcome[T] {
	select {
	case item := <-s.ch:
		return outcome.Ok(item)
	default:
	}
	select {
	case item := <-s.ch:
		return outcome.Ok(item)
	case <-s.closed:
		select {
		case item := <-s.ch:
			return outcome.Ok(item)
		default:
		}
		return outcome.Fail[T](s.term)
	case <-s.cancelled:
		return outcome.End[T]()
	case <-ctx.Done():
		return outcome.Fail[T](ctx.Err())
	}
}

// Done is closed once the terminal signal was recorded.
func (s *ChanSink[T]) Done() <-chan struct{} { return s.closed }

// ErrSinkClosed may be returned by a FuncSink write function to report
// that its consumer went away.
var ErrSinkClosed = errors.New("broadcast: sink closed")

// FuncSink adapts plain functions to a Sink.
type FuncSink[T any] struct {
	write   func(context.Context, T) error
	onClose func(error)
	once    sync.Once
}

// NewFuncSink builds a sink from write and an optional onClose.
func NewFuncSink[T any](write func(context.Context, T) error, onClose func(error)) *FuncSink[T] {
	return &FuncSink[T]{write: write, onClose: onClose}
}

// Write calls the write function and maps its error to a Delivery.
func (s *FuncSink[T]) Write(ctx context.Context, item T) Delivery {
	if err := s.write(ctx, item); err != nil {
		if errors.Is(err, ErrSinkClosed) {
			return Closed
		}
		return Failed
	}
	return Delivered
}

// Close calls onClose once.
func (s *FuncSink[T]) Close(err error) {
	s.once.Do(func() {
		if s.onClose != nil {
			s.onClose(err)
		}
	})
}
