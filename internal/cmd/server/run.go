package serverrun

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/mediaflo/internal/config"
	"github.com/rzbill/mediaflo/internal/runtime"
	grpcserver "github.com/rzbill/mediaflo/internal/server/grpc"
	httpserver "github.com/rzbill/mediaflo/internal/server/http"
	respserver "github.com/rzbill/mediaflo/internal/server/resp"
	streamsvc "github.com/rzbill/mediaflo/internal/services/streams"
	logpkg "github.com/rzbill/mediaflo/pkg/log"
)

// Options configures Run.
type Options struct {
	Config cfgpkg.Config
	// Logger overrides the logger built from Config.Log.
	Logger logpkg.Logger
	// Ready, when set, is called with the bound addresses once every
	// listener is up.
	Ready func(Addrs)
}

// Addrs are the bound listener addresses; nil for disabled listeners.
type Addrs struct {
	HTTP net.Addr
	GRPC net.Addr
	RESP net.Addr
}

// Run opens the runtime, starts the configured listeners and blocks until
// ctx is cancelled or a listener fails.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		l, err := logpkg.ApplyConfig(&logpkg.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
		if err != nil {
			return err
		}
		logger = l
	}
	// Pebble logs through the standard library logger.
	restore := logpkg.RedirectStdLog(logger)
	defer restore()

	rt, err := runtime.Open(sctx, runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	svc := streamsvc.NewWithLogger(rt, logger)
	var (
		addrs Addrs
		hsrv  *httpserver.Server
		hl    net.Listener
		gsrv  *grpcserver.Server
		gl    net.Listener
		rsrv  *respserver.Server
	)
	closeListeners := func() {
		for _, l := range []net.Listener{hl, gl} {
			if l != nil {
				_ = l.Close()
			}
		}
	}
	if cfg.Server.HTTPAddr != "" {
		if hl, err = net.Listen("tcp", cfg.Server.HTTPAddr); err != nil {
			return err
		}
		hsrv = httpserver.New(rt, svc, logger)
		addrs.HTTP = hl.Addr()
	}
	if cfg.Server.GRPCAddr != "" {
		if gl, err = net.Listen("tcp", cfg.Server.GRPCAddr); err != nil {
			closeListeners()
			return err
		}
		gsrv = grpcserver.New(rt, svc, logger)
		addrs.GRPC = gl.Addr()
	}
	if cfg.Server.RESPAddr != "" {
		backend := rt.EventLog()
		if backend == nil {
			logger.Warn("resp gateway needs the pebble backend; not starting", logpkg.Str("backend", cfg.Storage.Backend))
		} else {
			rsrv = respserver.New(backend, respserver.Options{Password: cfg.Server.RESPPassword, Logger: logger})
			if err := rsrv.Start(cfg.Server.RESPAddr); err != nil {
				closeListeners()
				return err
			}
			addrs.RESP = rsrv.Addr()
		}
	}

	logger.Info("mediaflo server starting",
		logpkg.Str("backend", cfg.Storage.Backend),
		logpkg.Str("http", addrString(addrs.HTTP)),
		logpkg.Str("grpc", addrString(addrs.GRPC)),
		logpkg.Str("resp", addrString(addrs.RESP)),
		logpkg.Str("compression", cfg.Stream.Compression),
	)
	if opts.Ready != nil {
		opts.Ready(addrs)
	}

	g, gctx := errgroup.WithContext(sctx)
	if hsrv != nil {
		g.Go(func() error { return hsrv.ServeContext(gctx, hl) })
	}
	if gsrv != nil {
		g.Go(func() error { return gsrv.ServeContext(gctx, gl) })
	}
	g.Go(func() error {
		<-gctx.Done()
		if rsrv != nil {
			return rsrv.Close()
		}
		return nil
	})
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", logpkg.Err(err))
		return err
	}
	logger.Info("mediaflo server stopped")
	return nil
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
