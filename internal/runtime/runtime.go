package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cfgpkg "github.com/rzbill/mediaflo/internal/config"
	"github.com/rzbill/mediaflo/internal/codec"
	"github.com/rzbill/mediaflo/internal/eventlog"
	"github.com/rzbill/mediaflo/internal/redislog"
	pebblestore "github.com/rzbill/mediaflo/internal/storage/pebble"
	"github.com/rzbill/mediaflo/internal/streamlog"
	"github.com/rzbill/mediaflo/pkg/log"
)

// Backend names accepted by storage.backend.
const (
	BackendPebble = "pebble"
	BackendRedis  = "redis"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger log.Logger
	// SlowOp, when positive, logs storage reads and commits slower than it.
	SlowOp time.Duration
}

// Runtime wires storage, config, and facades for a single-node instance.
type Runtime struct {
	config cfgpkg.Config
	root   log.Logger
	log    log.Logger
	naming streamlog.Naming
	codec  *codec.Codec

	db       *pebblestore.DB
	elog     *eventlog.Log
	rlog     *redislog.Log
	store    streamlog.Store
	notifier streamlog.Notifier

	stopSweep context.CancelFunc
	sweepWG   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Open initializes the configured backend and returns a Runtime.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	comp, err := codec.ParseCompression(cfg.Stream.Compression)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{
		config: cfg,
		root:   logger,
		log:    logger.With(log.Component("runtime")),
		naming: streamlog.Naming{Prefix: cfg.Stream.KeyPrefix, Queue: cfg.Stream.QueueKey},
		codec:  codec.New(comp),
	}

	switch cfg.Storage.Backend {
	case BackendRedis:
		rl, err := redislog.Open(ctx, redislog.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			MaxIdle:     cfg.Redis.MaxIdle,
			MaxActive:   cfg.Redis.MaxActive,
			IdleTimeout: cfg.Redis.IdleTimeout,
			DialTimeout: cfg.Redis.DialTimeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		rt.rlog, rt.store, rt.notifier = rl, rl, rl
	default:
		if err := rt.openPebble(opts); err != nil {
			return nil, err
		}
	}
	rt.log.Info("runtime opened", log.Str("backend", cfg.Storage.Backend), log.Str("compression", comp.String()))
	return rt, nil
}

func (r *Runtime) openPebble(opts Options) error {
	cfg := r.config
	dir := cfgpkg.ResolveDataDir(cfg.Storage.DataDir)
	fsync, err := pebblestore.ParseFsyncMode(cfg.Storage.Fsync)
	if err != nil {
		return err
	}
	var metrics pebblestore.MetricsHook
	if opts.SlowOp > 0 {
		metrics = slowOpMetrics{threshold: opts.SlowOp, log: r.log}
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       dir,
		Fsync:         fsync,
		FsyncInterval: cfg.Storage.FsyncInterval,
		Metrics:       metrics,
	})
	if err != nil {
		return fmt.Errorf("runtime: open pebble at %s: %w", dir, err)
	}
	r.db = db
	r.elog = eventlog.Open(db, eventlog.Options{Hook: trimLogger{log: r.log.With(log.Component("eventlog"))}})
	r.store, r.notifier = r.elog, r.elog

	sweepCtx, cancel := context.WithCancel(context.Background())
	r.stopSweep = cancel
	r.sweepWG.Add(1)
	go func() {
		defer r.sweepWG.Done()
		r.elog.RunSweeper(sweepCtx, cfg.Storage.SweepInterval, func(err error) {
			r.log.Warn("expiry sweep failed", log.Err(err))
		})
	}()
	return nil
}

// Close stops the sweeper and closes the backend.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		if r.stopSweep != nil {
			r.stopSweep()
			r.sweepWG.Wait()
		}
		var errs []error
		if r.elog != nil {
			errs = append(errs, r.elog.Close())
		}
		if r.db != nil {
			errs = append(errs, r.db.Close())
		}
		if r.rlog != nil {
			errs = append(errs, r.rlog.Close())
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}

// CheckHealth reports whether the backend answers.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	switch {
	case r.rlog != nil:
		return r.rlog.Ping(ctx)
	case r.db != nil:
		it, err := r.db.NewIter(nil)
		if err != nil {
			return err
		}
		return it.Close()
	default:
		return errors.New("runtime: no backend open")
	}
}

// Store is the durable log.
func (r *Runtime) Store() streamlog.Store { return r.store }

// Notifier is the ping and discovery queue side channel.
func (r *Runtime) Notifier() streamlog.Notifier { return r.notifier }

// EventLog returns the Pebble-backed log, or nil on the redis backend. The
// RESP gateway serves it.
func (r *Runtime) EventLog() *eventlog.Log { return r.elog }

// Naming derives keys and channels from the configured prefix.
func (r *Runtime) Naming() streamlog.Naming { return r.naming }

// Codec encodes records and parts with the configured compression.
func (r *Runtime) Codec() *codec.Codec { return r.codec }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Logger returns the root logger.
func (r *Runtime) Logger() log.Logger { return r.root }

// slowOpMetrics logs storage operations above a latency threshold.
type slowOpMetrics struct {
	threshold time.Duration
	log       log.Logger
}

func (m slowOpMetrics) ObserveRead(elapsed time.Duration, bytes int) {
	if elapsed >= m.threshold {
		m.log.Warn("slow storage read", log.Dur("elapsed", elapsed), log.Int("bytes", bytes))
	}
}

func (m slowOpMetrics) ObserveBatchCommit(elapsed time.Duration, bytes int) {
	if elapsed >= m.threshold {
		m.log.Warn("slow storage commit", log.Dur("elapsed", elapsed), log.Int("bytes", bytes))
	}
}

type trimLogger struct{ log log.Logger }

func (t trimLogger) Trimmed(key string, first, last streamlog.Position, n int) {
	t.log.Debug("stream trimmed", log.Str("key", key), log.Int("entries", n),
		log.Str("first", first.String()), log.Str("last", last.String()))
}

func (t trimLogger) Expired(key string) {
	t.log.Debug("stream expired", log.Str("key", key))
}
