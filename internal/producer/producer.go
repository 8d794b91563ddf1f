// Package producer writes ingested streams to the durable log and
// announces them.
package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/mediaflo/internal/codec"
	"github.com/rzbill/mediaflo/internal/media"
	"github.com/rzbill/mediaflo/internal/streamlog"
	"github.com/rzbill/mediaflo/pkg/id"
	"github.com/rzbill/mediaflo/pkg/log"
)

// Defaults.
const (
	DefaultMaxLen          = 1000
	DefaultRetention       = time.Minute
	DefaultNoStreamsDelay  = 5 * time.Second
	DefaultCompleteTimeout = 5 * time.Second
)

// encodePart is replaced in tests to exercise encode failures.
var encodePart = func(c *codec.Codec, part media.Part) ([]byte, error) { return c.Encode(part) }

// ErrUnauthenticated is returned when Ingest has no caller identity.
var ErrUnauthenticated = errors.New("producer: unauthenticated caller")

// Identity is the authenticated caller of an ingest. Authentication itself
// happens at the transport.
type Identity struct {
	Subject string
}

// IsZero reports whether no caller was authenticated.
func (i Identity) IsZero() bool { return i.Subject == "" }

// Options tunes a Producer. Zero values take the defaults.
type Options struct {
	// MaxLen caps each stream at approximately this many entries.
	MaxLen int
	// Retention is how long a completed stream stays in the log.
	Retention time.Duration
	// NoStreamsDelay bounds each wait of WaitForNewStream between queue
	// polls.
	NoStreamsDelay time.Duration
	// CompleteTimeout bounds writing the completion entry after the
	// ingest context was cancelled.
	CompleteTimeout time.Duration
	Naming          streamlog.Naming
	Codec           *codec.Codec
	Generator       *id.Generator
	Logger          log.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxLen <= 0 {
		o.MaxLen = DefaultMaxLen
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.NoStreamsDelay <= 0 {
		o.NoStreamsDelay = DefaultNoStreamsDelay
	}
	if o.CompleteTimeout <= 0 {
		o.CompleteTimeout = DefaultCompleteTimeout
	}
	if o.Naming.Prefix == "" && o.Naming.Queue == "" {
		o.Naming = streamlog.DefaultNaming
	}
	if o.Codec == nil {
		o.Codec = codec.New(codec.None)
	}
	if o.Generator == nil {
		o.Generator = id.NewGenerator()
	}
	if o.Logger == nil {
		o.Logger = log.NewNop()
	}
	return o
}

// Producer is the only writer of the streams it ingests.
type Producer struct {
	store    streamlog.Store
	notifier streamlog.Notifier
	opts     Options
	log      log.Logger
}

// New builds a Producer.
func New(store streamlog.Store, notifier streamlog.Notifier, opts Options) *Producer {
	opts = opts.withDefaults()
	return &Producer{
		store:    store,
		notifier: notifier,
		opts:     opts,
		log:      opts.Logger.With(log.Component("producer")),
	}
}

// Codec returns the codec parts are written with.
func (p *Producer) Codec() *codec.Codec { return p.opts.Codec }

// Naming returns the key naming the producer writes under.
func (p *Producer) Naming() streamlog.Naming { return p.opts.Naming }

// Prepare validates the caller and fills in the record's identity, kind,
// author and creation time.
func (p *Producer) Prepare(caller Identity, rec media.Record) (media.Record, error) {
	if caller.IsZero() {
		return rec, ErrUnauthenticated
	}
	if rec.ID.IsZero() {
		rec.ID = p.opts.Generator.Next()
	}
	if rec.Kind == "" {
		rec.Kind = media.KindGeneric
	}
	if rec.AuthorID == "" {
		rec.AuthorID = caller.Subject
	}
	if rec.CreatedAtMs == 0 {
		rec.CreatedAtMs = time.Now().UnixMilli()
	}
	return rec, nil
}

// Ingest appends every item of items to the stream of rec, then a
// completion entry, and schedules the stream's deletion. The stream is
// announced on the discovery queue once, with its first item or at the
// end when there were none. Ingest returns after the completion entry was
// appended. When ctx ends first the stream is still completed and ctx's
// error returned.
func (p *Producer) Ingest(ctx context.Context, caller Identity, rec media.Record, items <-chan []byte) (media.Record, error) {
	rec, err := p.Prepare(caller, rec)
	if err != nil {
		return rec, err
	}
	key := p.opts.Naming.StreamKey(rec.ID)
	channel := p.opts.Naming.PartChannel(rec.ID)
	l := p.log.With(log.Stream(rec.ID.String()))

	announced := false
	var index int64
loop:
	for {
		select {
		case <-ctx.Done():
			l.Info("ingest cancelled, completing stream", log.Int64("items", index))
			if err := p.completeDetached(ctx, rec, key, channel, announced); err != nil {
				l.Warn("complete after cancel", log.Err(err))
			}
			return rec, ctx.Err()
		case data, ok := <-items:
			if !ok {
				break loop
			}
			if !announced {
				if err := p.announce(ctx, rec); err != nil {
					return rec, err
				}
				announced = true
			}
			payload, err := encodePart(p.opts.Codec, media.Part{Index: index, Data: data})
			if err != nil {
				if cerr := p.completeDetached(ctx, rec, key, channel, announced); cerr != nil {
					l.Warn("complete after failed encode", log.Err(cerr))
				}
				return rec, fmt.Errorf("producer: encode part %d: %w", index, err)
			}
			if _, err := p.store.Append(ctx, key, streamlog.MessageFields(payload), p.opts.MaxLen); err != nil {
				if cerr := p.completeDetached(ctx, rec, key, channel, announced); cerr != nil {
					l.Warn("complete after failed append", log.Err(cerr))
				}
				return rec, fmt.Errorf("producer: append %s: %w", key, err)
			}
			index++
			p.ping(ctx, channel, l)
		}
	}

	if !announced {
		if err := p.announce(ctx, rec); err != nil {
			return rec, err
		}
	}
	if err := p.complete(ctx, key, channel, l); err != nil {
		return rec, err
	}
	l.Debug("stream completed", log.Int64("items", index))
	return rec, nil
}

// announce pushes rec onto the discovery queue and pings its channel.
func (p *Producer) announce(ctx context.Context, rec media.Record) error {
	payload, err := p.opts.Codec.Encode(rec)
	if err != nil {
		return fmt.Errorf("producer: encode record: %w", err)
	}
	if err := p.notifier.Push(ctx, p.opts.Naming.QueueKey(), payload); err != nil {
		return fmt.Errorf("producer: announce %s: %w", rec.ID, err)
	}
	p.ping(ctx, p.opts.Naming.QueueChannel(), p.log)
	return nil
}

func (p *Producer) ping(ctx context.Context, channel string, l log.Logger) {
	if err := p.notifier.Publish(ctx, channel); err != nil {
		l.Debug("ping failed", log.Str("channel", channel), log.Err(err))
	}
}

// complete appends the completion entry and schedules retention.
func (p *Producer) complete(ctx context.Context, key, channel string, l log.Logger) error {
	if _, err := p.store.Append(ctx, key, streamlog.CompletedFields(), p.opts.MaxLen); err != nil {
		return fmt.Errorf("producer: complete %s: %w", key, err)
	}
	p.ping(ctx, channel, l)
	if err := p.store.Expire(ctx, key, p.opts.Retention); err != nil {
		l.Warn("schedule retention", log.Err(err))
	}
	return nil
}

// completeDetached completes the stream on a context that outlives the
// ingest's own, so readers are not left waiting for retention.
func (p *Producer) completeDetached(ctx context.Context, rec media.Record, key, channel string, announced bool) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.CompleteTimeout)
	defer cancel()
	if !announced {
		if err := p.announce(cctx, rec); err != nil {
			return err
		}
	}
	return p.complete(cctx, key, channel, p.log.With(log.Stream(rec.ID.String())))
}

// WaitForNewStream returns the next announced stream, waiting while the
// discovery queue is empty. Malformed announcements are skipped.
func (p *Producer) WaitForNewStream(ctx context.Context) (media.Record, error) {
	var ping <-chan struct{}
	if sub, err := p.notifier.Subscribe(ctx, p.opts.Naming.QueueChannel()); err != nil {
		p.log.Debug("queue notifications unavailable, polling only", log.Err(err))
	} else {
		defer sub.Close()
		ping = sub.C()
	}
	for {
		payload, ok, err := p.notifier.Pop(ctx, p.opts.Naming.QueueKey())
		if err != nil {
			return media.Record{}, fmt.Errorf("producer: pop queue: %w", err)
		}
		if ok {
			var rec media.Record
			if err := p.opts.Codec.Decode(payload, &rec); err != nil {
				p.log.Warn("skipping malformed announcement", log.Err(err))
				continue
			}
			return rec, nil
		}
		t := time.NewTimer(p.opts.NoStreamsDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return media.Record{}, ctx.Err()
		case <-ping:
		case <-t.C:
		}
		t.Stop()
	}
}
