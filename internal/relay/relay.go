// Package relay tails a durable stream log for one consumer at a time.
//
// Each call to Open yields an independent Handle with its own cursor;
// handles are never shared. A handle starts tailing on its first Next,
// reads the log in small batches after its cursor, delivers decoded
// messages, and ends at the stream's completion entry. When the log has
// nothing new it waits for the poll interval or a per-stream ping,
// whichever comes first.
package relay

import (
	"time"

	"github.com/rzbill/mediaflo/internal/streamlog"
	"github.com/rzbill/mediaflo/pkg/log"
)

// Defaults.
const (
	DefaultBatchSize     = 10
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultHandleBuffer  = 100
	DefaultMaxReadErrors = 3
)

// Options tunes a Relay. Zero values take the defaults.
type Options struct {
	// BatchSize is how many entries one log read asks for.
	BatchSize int
	// PollInterval is the idle wait between reads that returned nothing.
	PollInterval time.Duration
	// HandleBuffer is how many decoded items a handle reads ahead.
	HandleBuffer int
	// MaxReadErrors is how many consecutive failed reads a handle
	// tolerates before it fails.
	MaxReadErrors int
	Naming        streamlog.Naming
	Logger        log.Logger
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.HandleBuffer <= 0 {
		o.HandleBuffer = DefaultHandleBuffer
	}
	if o.MaxReadErrors <= 0 {
		o.MaxReadErrors = DefaultMaxReadErrors
	}
	if o.Naming.Prefix == "" && o.Naming.Queue == "" {
		o.Naming = streamlog.DefaultNaming
	}
	if o.Logger == nil {
		o.Logger = log.NewNop()
	}
	return o
}

// Relay opens read handles over a stream log.
type Relay struct {
	store    streamlog.Store
	notifier streamlog.Notifier
	opts     Options
	log      log.Logger
}

// New builds a Relay. notifier may be nil, in which case handles only poll.
func New(store streamlog.Store, notifier streamlog.Notifier, opts Options) *Relay {
	opts = opts.withDefaults()
	return &Relay{
		store:    store,
		notifier: notifier,
		opts:     opts,
		log:      opts.Logger.With(log.Component("relay")),
	}
}

// Naming returns the key naming handles use.
func (r *Relay) Naming() streamlog.Naming { return r.opts.Naming }
