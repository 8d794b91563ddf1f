package grpcserver

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rzbill/mediaflo/internal/auth"
	"github.com/rzbill/mediaflo/internal/runtime"
	streamsvc "github.com/rzbill/mediaflo/internal/services/streams"
	logpkg "github.com/rzbill/mediaflo/pkg/log"
)

// Server owns the gRPC server instance and runtime.
type Server struct {
	rt   *runtime.Runtime
	log  logpkg.Logger
	auth *auth.Authenticator
	grpc *grpc.Server

	mu  sync.Mutex
	lis net.Listener
}

// New constructs a gRPC server over svc and registers the streams and
// health services.
func New(rt *runtime.Runtime, svc *streamsvc.Service, logger logpkg.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = rt.Logger()
	}
	cfg := rt.Config()
	s := &Server{
		rt:   rt,
		log:  logger.With(logpkg.Component("grpc")),
		auth: auth.NewAuthenticator(cfg.Auth),
	}
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.unaryInterceptor),
		grpc.ChainStreamInterceptor(s.streamInterceptor),
	}, opts...)
	s.grpc = grpc.NewServer(opts...)
	s.grpc.RegisterService(&streamsServiceDesc, &streamsSvc{
		svc:     svc,
		limiter: auth.NewLimiter(cfg.Server.IngestRate, cfg.Server.IngestBurst),
		log:     s.log,
	})
	healthpb.RegisterHealthServer(s.grpc, &healthSvc{rt: rt})
	return s
}

// Serve accepts connections on l until Close or GracefulStop.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.lis = l
	s.mu.Unlock()
	return s.grpc.Serve(l)
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeContext(ctx, l)
}

// ServeContext serves on l until ctx is done, then stops gracefully.
func (s *Server) ServeContext(ctx context.Context, l net.Listener) error {
	s.log.Info("grpc listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(l) }()
	select {
	case <-ctx.Done():
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr is the bound address, nil before serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	s.grpc.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

// identify resolves the caller from the authorization metadata. Health
// checks need no credentials.
func (s *Server) identify(ctx context.Context, method string) (context.Context, error) {
	if strings.HasPrefix(method, "/grpc.health.v1.Health/") {
		return ctx, nil
	}
	token := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(MetadataAuthorization); len(v) > 0 {
			token = auth.BearerToken(v[0])
		}
	}
	who, ok := s.auth.Lookup(token)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	return auth.WithIdentity(ctx, who), nil
}

func (s *Server) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	ctx, err := s.identify(ctx, info.FullMethod)
	var resp any
	if err == nil {
		resp, err = handler(ctx, req)
	}
	s.logCall(info.FullMethod, start, err)
	return resp, err
}

func (s *Server) streamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	ctx, err := s.identify(ss.Context(), info.FullMethod)
	if err == nil {
		err = handler(srv, &identifiedStream{ServerStream: ss, ctx: ctx})
	}
	s.logCall(info.FullMethod, start, err)
	return err
}

func (s *Server) logCall(method string, start time.Time, err error) {
	st, _ := status.FromError(err)
	s.log.Debug("rpc",
		logpkg.Str("method", method),
		logpkg.Str("code", st.Code().String()),
		logpkg.Dur("elapsed", time.Since(start)),
	)
}

// identifiedStream carries the authenticated context into stream handlers.
type identifiedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identifiedStream) Context() context.Context { return s.ctx }

type healthSvc struct {
	healthpb.UnimplementedHealthServer
	rt *runtime.Runtime
}

func (h *healthSvc) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if err := h.rt.CheckHealth(ctx); err != nil {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
