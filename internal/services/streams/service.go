package streamsvc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rzbill/mediaflo/internal/broadcast"
	"github.com/rzbill/mediaflo/internal/codec"
	"github.com/rzbill/mediaflo/internal/media"
	"github.com/rzbill/mediaflo/internal/outcome"
	"github.com/rzbill/mediaflo/internal/producer"
	"github.com/rzbill/mediaflo/internal/relay"
	"github.com/rzbill/mediaflo/internal/runtime"
	"github.com/rzbill/mediaflo/pkg/id"
	logpkg "github.com/rzbill/mediaflo/pkg/log"
)

// ErrAlreadyIngesting is returned when a stream id is ingested twice in
// this process.
var ErrAlreadyIngesting = errors.New("streams: stream is already being ingested")

// Service provides ingest and read operations over the durable log, with
// in-process live fan-out for streams this process ingests.
type Service struct {
	rt       *runtime.Runtime
	logger   logpkg.Logger
	producer *producer.Producer
	relay    *relay.Relay
	codec    *codec.Codec

	intakeDepth int
	sinkDepth   int
	lagLimit    int
	preferLive  bool

	liveMu sync.Mutex
	live   map[id.ID]*liveStream
	// activeSubs counts open readers per stream, live and durable.
	subsMu     sync.Mutex
	activeSubs map[id.ID]int
}

// liveStream is the registry entry of one stream ingested here.
type liveStream struct {
	rec  media.Record
	dist *broadcast.Distributor[media.Part]
}

// New returns a Service using a default logger.
func New(rt *runtime.Runtime) *Service {
	return NewWithLogger(rt, nil)
}

// NewWithLogger returns a Service using the provided logger.
func NewWithLogger(rt *runtime.Runtime, logger logpkg.Logger) *Service {
	if logger == nil {
		logger = rt.Logger()
	}
	cfg := rt.Config()
	p := producer.New(rt.Store(), rt.Notifier(), producer.Options{
		MaxLen:         cfg.Stream.MaxLen,
		Retention:      cfg.Stream.Retention,
		NoStreamsDelay: cfg.Stream.NoStreamsDelay,
		Naming:         rt.Naming(),
		Codec:          rt.Codec(),
		Logger:         logger,
	})
	r := relay.New(rt.Store(), rt.Notifier(), relay.Options{
		BatchSize:     cfg.Relay.BatchSize,
		PollInterval:  cfg.Relay.PollInterval,
		HandleBuffer:  cfg.Relay.HandleBuffer,
		MaxReadErrors: cfg.Relay.MaxReadErrors,
		Naming:        rt.Naming(),
		Logger:        logger,
	})
	return &Service{
		rt:          rt,
		logger:      logger.With(logpkg.Component("streams")),
		producer:    p,
		relay:       r,
		codec:       rt.Codec(),
		intakeDepth: cfg.Broadcast.IntakeDepth,
		sinkDepth:   cfg.Broadcast.SinkQueueDepth,
		lagLimit:    cfg.Broadcast.LagLimit,
		preferLive:  cfg.Broadcast.PreferLive,
		live:        map[id.ID]*liveStream{},
		activeSubs:  map[id.ID]int{},
	}
}

// Prepare assigns the record's id, author and creation time ahead of
// Ingest, so transports can report the id before the first item.
func (s *Service) Prepare(caller producer.Identity, rec media.Record) (media.Record, error) {
	return s.producer.Prepare(caller, rec)
}

// Ingest writes items to the stream described by rec until items is
// closed, publishing them live to readers in this process meanwhile. It
// returns the record as stored, with its id assigned.
func (s *Service) Ingest(ctx context.Context, caller producer.Identity, rec media.Record, items <-chan []byte) (media.Record, error) {
	rec, err := s.producer.Prepare(caller, rec)
	if err != nil {
		return rec, err
	}
	src := make(chan outcome.Outcome[media.Part], s.intakeDepth)
	dist := broadcast.New(src,
		broadcast.WithIntakeDepth(s.intakeDepth),
		broadcast.WithLagLimit(s.lagLimit),
		broadcast.WithLogger(s.logger),
	)
	if err := s.register(rec, dist); err != nil {
		close(src)
		dist.Close()
		return rec, err
	}
	l := s.logger.With(logpkg.Stream(rec.ID.String()))
	start := time.Now()

	// Tee: the producer sees each item first, then the live distributor.
	fwd := make(chan []byte)
	stop := make(chan struct{})
	teeDone := make(chan int64, 1)
	go func() {
		defer close(fwd)
		var index int64
		defer func() { teeDone <- index }()
		for {
			select {
			case <-stop:
				return
			case data, ok := <-items:
				if !ok {
					return
				}
				select {
				case fwd <- data:
				case <-stop:
					return
				}
				src <- outcome.Ok(media.Part{Index: index, Data: data})
				index++
			}
		}
	}()

	rec, err = s.producer.Ingest(ctx, caller, rec, fwd)
	close(stop)
	n := <-teeDone

	if err != nil && !errors.Is(err, context.Canceled) {
		src <- outcome.Fail[media.Part](err)
	} else {
		src <- outcome.End[media.Part]()
	}
	close(src)
	s.finish(rec.ID)

	if err != nil {
		l.Warn("streams.ingest", logpkg.Int64("items", n), logpkg.Dur("elapsed", time.Since(start)), logpkg.Err(err))
		return rec, err
	}
	l.Info("streams.ingest", logpkg.Int64("items", n), logpkg.Dur("elapsed", time.Since(start)))
	return rec, nil
}

func (s *Service) register(rec media.Record, dist *broadcast.Distributor[media.Part]) error {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if _, ok := s.live[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyIngesting, rec.ID)
	}
	s.live[rec.ID] = &liveStream{rec: rec, dist: dist}
	return nil
}

// finish waits for the distributor to buffer the closed source, terminal
// included, then unregisters the stream. Reads attached before keep
// draining the distributor; later reads go to the log, which holds the
// completion entry by now.
func (s *Service) finish(streamID id.ID) {
	s.liveMu.Lock()
	ls, ok := s.live[streamID]
	s.liveMu.Unlock()
	if !ok {
		return
	}
	<-ls.dist.Done()
	s.liveMu.Lock()
	delete(s.live, streamID)
	s.liveMu.Unlock()
}

func (s *Service) lookup(streamID id.ID) (*liveStream, bool) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	ls, ok := s.live[streamID]
	return ls, ok
}

// Read opens a reader over streamID from its first part, or as opts say.
// A plain read of a stream ingested here is served from memory.
func (s *Service) Read(ctx context.Context, streamID id.ID, opts ReadOptions) (Reader, error) {
	if streamID.IsZero() {
		return nil, errors.New("streams: stream id required")
	}
	if opts.Skip < 0 {
		return nil, fmt.Errorf("streams: negative skip %d", opts.Skip)
	}
	filter, err := newCELFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	if s.preferLive && opts.plain() {
		if ls, ok := s.lookup(streamID); ok {
			return s.readLive(ctx, streamID, ls), nil
		}
	}

	ropts := []relay.ReadOption[media.Part]{relay.WithSkip[media.Part](opts.Skip)}
	if !opts.Start.IsStart() {
		ropts = append(ropts, relay.WithStart[media.Part](opts.Start))
	}
	if p := filter.predicate(); p != nil {
		ropts = append(ropts, relay.WithFilter(p))
	}
	if opts.Consumer != "" {
		ropts = append(ropts, relay.WithCheckpoint[media.Part](opts.Consumer))
	}
	h := relay.Open(ctx, s.relay, streamID, s.decodePart, ropts...)
	s.trackReader(streamID, 1)
	return &relayReader{h: h, release: func() { s.trackReader(streamID, -1) }}, nil
}

func (s *Service) readLive(ctx context.Context, streamID id.ID, ls *liveStream) Reader {
	sink := broadcast.NewChanSink[media.Part](s.sinkDepth)
	actx, cancel := context.WithCancel(ctx)
	s.trackReader(streamID, 1)
	r := &liveReader{sink: sink, cancel: cancel, release: func() { s.trackReader(streamID, -1) }}
	// The replay blocks on the sink's bounded queue, so it runs alongside
	// the consumer.
	go func() {
		if err := ls.dist.AttachTarget(actx, sink); err != nil {
			if actx.Err() == nil {
				s.logger.Warn("live attach failed", logpkg.Stream(streamID.String()), logpkg.Err(err))
			}
			sink.Close(err)
		}
	}()
	return r
}

func (s *Service) decodePart(payload []byte) (media.Part, error) {
	var p media.Part
	err := s.codec.Decode(payload, &p)
	return p, err
}

func (s *Service) trackReader(streamID id.ID, delta int) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	n := s.activeSubs[streamID] + delta
	if n <= 0 {
		delete(s.activeSubs, streamID)
		return
	}
	s.activeSubs[streamID] = n
}

// ActiveReaders returns how many readers of streamID are open.
func (s *Service) ActiveReaders(streamID id.ID) int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return s.activeSubs[streamID]
}

// NextStream waits for the next announced stream.
func (s *Service) NextStream(ctx context.Context) (media.Record, error) {
	return s.producer.WaitForNewStream(ctx)
}

// Live lists the streams this process is ingesting, oldest first.
func (s *Service) Live() []LiveStream {
	s.liveMu.Lock()
	out := make([]LiveStream, 0, len(s.live))
	for _, ls := range s.live {
		out = append(out, LiveStream{Record: ls.rec, Parts: countParts(ls.dist)})
	}
	s.liveMu.Unlock()
	for i := range out {
		out[i].Readers = s.ActiveReaders(out[i].Record.ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Record.ID.Compare(out[j].Record.ID) < 0 })
	return out
}

// countParts excludes a buffered terminal signal.
func countParts(d *broadcast.Distributor[media.Part]) int {
	n := d.Len()
	select {
	case <-d.Done():
		if n > 0 {
			n--
		}
	default:
	}
	return n
}

// Info reports how many entries the log holds for streamID. Completed
// streams count their completion entry.
func (s *Service) Info(ctx context.Context, streamID id.ID) (StreamInfo, error) {
	n, err := s.rt.Store().Len(ctx, s.rt.Naming().StreamKey(streamID))
	if err != nil {
		return StreamInfo{}, err
	}
	_, live := s.lookup(streamID)
	return StreamInfo{ID: streamID, Entries: n, Live: live}, nil
}

type liveReader struct {
	sink    *broadcast.ChanSink[media.Part]
	cancel  context.CancelFunc
	once    sync.Once
	release func()
}

func (r *liveReader) Next(ctx context.Context) outcome.Outcome[media.Part] { return r.sink.Next(ctx) }

func (r *liveReader) Close() {
	r.once.Do(func() {
		r.sink.Cancel()
		r.cancel()
		r.release()
	})
}

func (r *liveReader) Live() bool { return true }

type relayReader struct {
	h       *relay.Handle[media.Part]
	once    sync.Once
	release func()
}

func (r *relayReader) Next(ctx context.Context) outcome.Outcome[media.Part] { return r.h.Next(ctx) }

func (r *relayReader) Close() {
	r.once.Do(func() {
		r.h.Close()
		r.release()
	})
}

func (r *relayReader) Live() bool { return false }
