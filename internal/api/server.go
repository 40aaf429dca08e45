// Package api hosts the analysis HTTP handler and the gRPC health service on
// their own listeners and ties their lifetimes together.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-check service name reported alongside the
// overall ("") status.
const ServiceName = "niftyscan.Analysis"

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	httpAddr string
	grpcAddr string
	handler  http.Handler
	log      *slog.Logger

	health *health.Server
	grpc   *grpc.Server
	http   *http.Server

	mu       sync.Mutex
	httpLn   net.Listener
	grpcLn   net.Listener
	ready    chan struct{}
	shutdown time.Duration
}

// NewServer creates a Server that serves handler on httpAddr and the gRPC
// health service on grpcAddr.
func NewServer(httpAddr, grpcAddr string, handler http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	// NOT_SERVING until both listeners are up.
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{
		httpAddr: httpAddr,
		grpcAddr: grpcAddr,
		handler:  handler,
		log:      log.With("component", "api"),
		health:   hs,
		grpc:     gs,
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		ready:    make(chan struct{}),
		shutdown: 5 * time.Second,
	}
}

// Ready is closed once both listeners accept connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// HTTPAddr returns the bound HTTP address (valid after Ready).
func (s *Server) HTTPAddr() string { return addrOf(&s.mu, &s.httpLn) }

// GRPCAddr returns the bound gRPC address (valid after Ready).
func (s *Server) GRPCAddr() string { return addrOf(&s.mu, &s.grpcLn) }

func addrOf(mu *sync.Mutex, ln *net.Listener) string {
	mu.Lock()
	defer mu.Unlock()
	if *ln == nil {
		return ""
	}
	return (*ln).Addr().String()
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or either server fails. Cancellation triggers a
// graceful shutdown; in-flight streams get the shutdown grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpAddr, err)
	}
	grpcLn, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
	}
	s.mu.Lock()
	s.httpLn, s.grpcLn = httpLn, grpcLn
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.http.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.log.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
		if err := s.grpc.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown(context.Background())
	})

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	close(s.ready)

	return g.Wait()
}

// Shutdown marks the health service NOT_SERVING and stops both servers,
// waiting up to the grace period for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	ctx, cancel := context.WithTimeout(ctx, s.shutdown)
	defer cancel()

	s.log.Info("shutting down")
	err := s.http.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn("forcing close of open streams")
		err = s.http.Close()
	}

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	return err
}
