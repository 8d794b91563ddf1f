package respserver

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/redcon"

	"github.com/rzbill/mediaflo/internal/streamlog"
	"github.com/rzbill/mediaflo/pkg/log"
)

// Backend is the log the gateway serves.
type Backend interface {
	streamlog.Store
	streamlog.Notifier
	QueueLen(ctx context.Context, queue string) (int, error)
	// Tap observes every published channel, including publishes made
	// in-process, so they reach protocol subscribers.
	Tap(fn func(channel string)) (cancel func())
}

// Options tunes the gateway.
type Options struct {
	// Password, when set, must be presented with AUTH before any command.
	Password string
	// CommandTimeout bounds each backend call.
	CommandTimeout time.Duration
	Logger         log.Logger
}

// Server is a redcon server over a Backend.
type Server struct {
	backend Backend
	opts    Options
	log     log.Logger
	ps      redcon.PubSub

	mu    sync.Mutex
	srv   *redcon.Server
	untap func()
}

type client struct {
	authorized bool
}

// New builds a gateway; nothing listens until ListenAndServe or Start.
func New(backend Backend, opts Options) *Server {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	return &Server{backend: backend, opts: opts, log: opts.Logger.With(log.Component("resp"))}
}

// Start binds addr and serves in the background. It returns once the
// listener is up.
func (s *Server) Start(addr string) error {
	srv := redcon.NewServerNetwork("tcp", addr, s.handle, s.accept, s.closed)
	signal := make(chan error, 1)
	go func() {
		if err := srv.ListenServeAndSignal(signal); err != nil {
			s.log.Debug("resp server stopped", log.Err(err))
		}
	}()
	if err := <-signal; err != nil {
		return err
	}
	untap := s.backend.Tap(func(channel string) { s.ps.Publish(channel, "") })
	s.mu.Lock()
	s.srv, s.untap = srv, untap
	s.mu.Unlock()
	s.log.Info("resp gateway listening", log.Str("addr", srv.Addr().String()))
	return nil
}

// ListenAndServe binds addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if err := s.Start(addr); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}

// Addr is the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	return s.srv.Addr()
}

// Close stops listening and drops connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, untap := s.srv, s.untap
	s.srv, s.untap = nil, nil
	s.mu.Unlock()
	if untap != nil {
		untap()
	}
	if srv == nil {
		return nil
	}
	return srv.Close()
}

func (s *Server) accept(conn redcon.Conn) bool {
	conn.SetContext(&client{authorized: s.opts.Password == ""})
	return true
}

func (s *Server) closed(conn redcon.Conn, err error) {
	if err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug("resp connection closed", log.Str("remote", conn.RemoteAddr()), log.Err(err))
	}
}

func (s *Server) handle(conn redcon.Conn, cmd redcon.Command) {
	c, _ := conn.Context().(*client)
	if c == nil {
		c = &client{}
		conn.SetContext(c)
	}
	name := strings.ToLower(string(cmd.Args[0]))
	args := cmd.Args[1:]

	switch name {
	case "ping":
		if len(args) == 0 {
			conn.WriteString("PONG")
		} else {
			conn.WriteBulk(args[0])
		}
		return
	case "quit":
		conn.WriteString("OK")
		_ = conn.Close()
		return
	case "auth":
		s.auth(conn, c, args)
		return
	}
	if !c.authorized {
		conn.WriteError("NOAUTH Authentication required.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CommandTimeout)
	defer cancel()
	h, ok := commands[name]
	if !ok {
		conn.WriteError("ERR unknown command '" + name + "'")
		return
	}
	h(ctx, s, conn, args)
}

func (s *Server) auth(conn redcon.Conn, c *client, args [][]byte) {
	// AUTH password | AUTH username password
	if len(args) < 1 || len(args) > 2 {
		conn.WriteError(errWrongArgs("auth"))
		return
	}
	if s.opts.Password == "" {
		conn.WriteError("ERR AUTH called without any password configured")
		return
	}
	if string(args[len(args)-1]) != s.opts.Password {
		c.authorized = false
		conn.WriteError("WRONGPASS invalid password")
		return
	}
	c.authorized = true
	conn.WriteString("OK")
}

func errWrongArgs(cmd string) string {
	return "ERR wrong number of arguments for '" + cmd + "' command"
}
