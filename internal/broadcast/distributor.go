package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rzbill/mediaflo/internal/outcome"
	"github.com/rzbill/mediaflo/pkg/log"
)

var (
	// ErrAlreadyAttached is returned when a sink is attached twice.
	ErrAlreadyAttached = errors.New("broadcast: sink already attached")
	// ErrReplayUnavailable is returned by a trimmed Distributor once it no
	// longer holds the beginning of the stream.
	ErrReplayUnavailable = errors.New("broadcast: replay no longer available")
	// ErrSlowSink is the terminal signal given to a sink dropped for lag.
	ErrSlowSink = errors.New("broadcast: sink fell too far behind")
	// ErrDeliveryFailed is the terminal signal given to a sink whose write
	// failed.
	ErrDeliveryFailed = errors.New("broadcast: delivery failed")
	// ErrNilSink is returned when attaching a nil sink.
	ErrNilSink = errors.New("broadcast: nil sink")
)

const (
	statePending int32 = iota
	stateAccepted
	stateCancelled
)

// target is one attached sink and its delivery cursor.
type target[T any] struct {
	sink   Sink[T]
	state  atomic.Int32
	reply  chan acceptance[T]
	wake   chan struct{}
	cursor atomic.Int64
	dead   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// acceptance is the driver's answer to an attach: the snapshot to replay
// and whether the target was registered for live delivery.
type acceptance[T any] struct {
	view View[outcome.Outcome[T]]
	live bool
	err  error
}

// Distributor replays and forwards the outcomes of one source to every
// attached sink.
type Distributor[T any] struct {
	src    <-chan outcome.Outcome[T]
	opts   options
	log    log.Logger
	buf    *Buffer[outcome.Outcome[T]]
	intake chan *target[T]

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	attached map[Sink[T]]struct{}

	// Owned by the driver goroutine.
	targets  map[*target[T]]struct{}
	accepted int
	ended    bool
}

// New starts a Distributor reading src. The source ends with its first
// terminal outcome; closing src counts as a clean end.
func New[T any](src <-chan outcome.Outcome[T], opts ...Option) *Distributor[T] {
	o := options{intakeDepth: DefaultIntakeDepth, lagLimit: DefaultLagLimit, logger: log.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	d := &Distributor[T]{
		src:      src,
		opts:     o,
		log:      o.logger.With(log.Component("broadcast")),
		buf:      NewBuffer[outcome.Outcome[T]](),
		intake:   make(chan *target[T], o.intakeDepth),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		attached: make(map[Sink[T]]struct{}),
		targets:  make(map[*target[T]]struct{}),
	}
	go d.run()
	return d
}

// Done is closed once the driver has stopped. Registered sinks may still
// be draining the buffer.
func (d *Distributor[T]) Done() <-chan struct{} { return d.done }

// Close disposes the Distributor without waiting for the source. Sinks
// receive what was buffered, including outcomes already queued on the
// source, and then a clean end of stream.
func (d *Distributor[T]) Close() {
	d.quitOnce.Do(func() { close(d.quit) })
	<-d.done
}

// Len returns the number of buffered outcomes, terminal included.
func (d *Distributor[T]) Len() int { return d.buf.View().Len() }

// Policy returns the buffering policy.
func (d *Distributor[T]) Policy() Policy { return d.opts.policy }

func (d *Distributor[T]) run() {
	defer close(d.done)
	src := d.src
	for !d.ended {
		select {
		case o, ok := <-src:
			if !ok {
				o = outcome.End[T]()
			}
			d.publish(o)
		case t := <-d.intake:
			d.accept(t)
		case <-d.quit:
			d.drainSource()
			if !d.ended {
				d.publish(outcome.End[T]())
			}
		}
	}
	// Attaches that queued before the end are answered from the final
	// buffer; later ones see done and read it themselves.
	for {
		select {
		case t := <-d.intake:
			d.accept(t)
		default:
			return
		}
	}
}

// drainSource publishes what the source already queued, so disposal never
// drops items that were sent before it.
func (d *Distributor[T]) drainSource() {
	for !d.ended {
		select {
		case o, ok := <-d.src:
			if !ok {
				o = outcome.End[T]()
			}
			d.publish(o)
		default:
			return
		}
	}
}

// publish appends o and wakes every registered pump.
func (d *Distributor[T]) publish(o outcome.Outcome[T]) {
	n := d.buf.Append(o)
	if o.Terminal() {
		d.ended = true
	}
	low := n
	for t := range d.targets {
		if t.dead.Load() {
			delete(d.targets, t)
			continue
		}
		cur := int(t.cursor.Load())
		if !d.ended && n-cur > d.opts.lagLimit {
			d.log.Warn("dropping slow sink", log.Int("lag", n-cur))
			t.dead.Store(true)
			t.cancel()
			delete(d.targets, t)
			continue
		}
		if cur < low {
			low = cur
		}
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
	if d.ended {
		// Pumps find the terminal on their own; the driver lets go of them.
		clear(d.targets)
		return
	}
	if d.opts.policy.Trimmed() && d.accepted >= d.opts.policy.expected {
		d.buf.TrimBefore(low)
	}
}

func (d *Distributor[T]) accept(t *target[T]) {
	if !t.state.CompareAndSwap(statePending, stateAccepted) {
		return
	}
	view := d.buf.View()
	if view.Base() > 0 || (d.opts.policy.Trimmed() && d.accepted >= d.opts.policy.expected) {
		t.reply <- acceptance[T]{err: ErrReplayUnavailable}
		return
	}
	d.accepted++
	if d.ended {
		t.reply <- acceptance[T]{view: view}
		return
	}
	t.cursor.Store(int64(view.Len()))
	d.targets[t] = struct{}{}
	t.reply <- acceptance[T]{view: view, live: true}
}

// finalAcceptance answers an attach the driver will never see.
func (d *Distributor[T]) finalAcceptance() acceptance[T] {
	view := d.buf.View()
	if view.Base() > 0 {
		return acceptance[T]{err: ErrReplayUnavailable}
	}
	return acceptance[T]{view: view}
}

func (d *Distributor[T]) claim(s Sink[T]) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.attached[s]; ok {
		return false
	}
	d.attached[s] = struct{}{}
	return true
}

func (d *Distributor[T]) release(s Sink[T]) {
	d.mu.Lock()
	delete(d.attached, s)
	d.mu.Unlock()
}

// AttachTarget replays everything the source has produced so far to sink,
// then registers it for live delivery. It returns once the replay was
// written; live items follow asynchronously. When the source has already
// ended the sink gets the whole stream and its terminal signal and is not
// registered. Cancelling ctx while the request is queued withdraws it.
func (d *Distributor[T]) AttachTarget(ctx context.Context, sink Sink[T]) error {
	if sink == nil {
		return ErrNilSink
	}
	if !d.claim(sink) {
		return ErrAlreadyAttached
	}
	tctx, cancel := context.WithCancel(context.Background())
	t := &target[T]{
		sink:   sink,
		reply:  make(chan acceptance[T], 1),
		wake:   make(chan struct{}, 1),
		ctx:    tctx,
		cancel: cancel,
	}

	acc, err := d.submit(ctx, t)
	if err != nil {
		cancel()
		d.release(sink)
		return err
	}
	if acc.err != nil {
		cancel()
		d.release(sink)
		return acc.err
	}

	if err := d.replay(ctx, t, acc); err != nil {
		t.dead.Store(true)
		cancel()
		d.release(sink)
		return err
	}
	if acc.live {
		go d.pump(t)
		return nil
	}
	cancel()
	d.release(sink)
	return nil
}

// submit hands t to the driver and waits for its answer.
func (d *Distributor[T]) submit(ctx context.Context, t *target[T]) (acceptance[T], error) {
	select {
	case d.intake <- t:
	case <-d.done:
		return d.finalAcceptance(), nil
	case <-ctx.Done():
		return acceptance[T]{}, ctx.Err()
	}
	select {
	case acc := <-t.reply:
		return acc, nil
	case <-d.done:
		select {
		case acc := <-t.reply:
			return acc, nil
		default:
		}
		if t.state.CompareAndSwap(statePending, stateCancelled) {
			return d.finalAcceptance(), nil
		}
		return <-t.reply, nil
	case <-ctx.Done():
		if t.state.CompareAndSwap(statePending, stateCancelled) {
			return acceptance[T]{}, ctx.Err()
		}
		// The driver won the race; undo the registration.
		<-t.reply
		t.dead.Store(true)
		return acceptance[T]{}, ctx.Err()
	}
}

// replay writes the accepted snapshot to the sink. A terminal outcome in
// the snapshot closes the sink.
func (d *Distributor[T]) replay(ctx context.Context, t *target[T], acc acceptance[T]) error {
	view := acc.view
	for i := 0; i < view.Len(); i++ {
		o, _ := view.At(i)
		if o.Terminal() {
			t.sink.Close(o.Err)
			return nil
		}
		switch t.sink.Write(ctx, o.Item) {
		case Delivered:
		case Closed:
			t.sink.Close(nil)
			return ErrSinkClosed
		default:
			if err := ctx.Err(); err != nil {
				return err
			}
			t.sink.Close(ErrDeliveryFailed)
			return ErrDeliveryFailed
		}
	}
	return nil
}

// pump delivers live outcomes to one sink until the terminal signal.
func (d *Distributor[T]) pump(t *target[T]) {
	defer t.cancel()
	defer d.release(t.sink)
	for {
		view := d.buf.View()
		for cur := int(t.cursor.Load()); cur < view.Len(); cur = int(t.cursor.Load()) {
			o, ok := view.At(cur)
			if !ok {
				t.dead.Store(true)
				t.sink.Close(ErrSlowSink)
				return
			}
			if o.Terminal() {
				t.dead.Store(true)
				t.sink.Close(o.Err)
				return
			}
			switch t.sink.Write(t.ctx, o.Item) {
			case Delivered:
				t.cursor.Add(1)
				continue
			case Closed:
				t.dead.Store(true)
				t.sink.Close(nil)
				return
			default:
				t.dead.Store(true)
				if t.ctx.Err() != nil {
					t.sink.Close(ErrSlowSink)
				} else {
					t.sink.Close(ErrDeliveryFailed)
				}
				return
			}
		}
		select {
		case <-t.wake:
		case <-t.ctx.Done():
			t.dead.Store(true)
			t.sink.Close(ErrSlowSink)
			return
		}
	}
}
