package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/forestnet/forestnet/internal/logging"
	"go.uber.org/zap"
)

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Host string
	Port int

	// TLS enables a server handshake on every accepted connection.
	TLS *tls.Config

	// AcceptTimeout bounds each Accept call so cancellation is observed.
	AcceptTimeout time.Duration
	// HandshakeTimeout bounds the TLS handshake.
	HandshakeTimeout time.Duration
	// MaxConnections bounds concurrent connections (0 = unbounded). The
	// accept loop waits for a free slot before accepting.
	MaxConnections int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int

	// AllowSourceList restricts peers; empty allows everyone.
	AllowSourceList AllowList
}

// Server accepts connections and hands each one to a fresh ServerTask.
type Server struct {
	config  ServerConfig
	factory TaskFactory
	logger  *zap.Logger

	mu          sync.Mutex
	listener    net.Listener
	activeConns map[*Conn]struct{}
	shutdown    bool
	done        chan struct{}

	// connCtx outlives Serve's context so in-flight tasks finish after the
	// listener closes; Shutdown cancels it when its deadline passes.
	connCtx    context.Context
	cancelConn context.CancelFunc

	wg  sync.WaitGroup
	sem chan struct{}
}

// NewServer creates a server. A nil logger uses the process default.
func NewServer(config ServerConfig, factory TaskFactory, logger *zap.Logger) (*Server, error) {
	if factory == nil {
		return nil, fmt.Errorf("transport: nil task factory")
	}
	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("transport: port %d out of range", config.Port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:      config,
		factory:     factory,
		logger:      logging.Or(logger),
		activeConns: make(map[*Conn]struct{}),
		done:        make(chan struct{}),
		connCtx:     ctx,
		cancelConn:  cancel,
	}
	if config.MaxConnections > 0 {
		s.sem = make(chan struct{}, config.MaxConnections)
	}
	return s, nil
}

// Listen binds the listening socket. Serve calls it when needed; calling it
// first lets the caller learn the bound address (port 0).
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return newError(ErrTypeClosed, "listen", "", net.ErrClosed)
	}
	if s.listener != nil {
		return nil
	}

	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return newError(ErrTypeAccept, "listen", addr, err)
	}
	s.listener = ln

	s.logger.Info("Listening for connections",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", s.config.TLS != nil),
		zap.Int("max_connections", s.config.MaxConnections),
		zap.Int("allow_list", len(s.config.AllowSourceList)),
	)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop until ctx is cancelled, Shutdown is called, or
// the listener fails. Cancellation and Shutdown return nil; a fatal accept
// error is returned. In-flight tasks keep running after Serve returns; use
// Shutdown to wait for them.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	// Unblock Accept on cancellation.
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	for {
		if !s.acquire(ctx) {
			return nil
		}

		if s.config.AcceptTimeout > 0 {
			if dl, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
				_ = dl.SetDeadline(time.Now().Add(s.config.AcceptTimeout))
			}
		}

		raw, err := ln.Accept()
		if err != nil {
			s.release()
			if s.stopping(ctx) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			terr := ClassifyNetworkError("accept", ln.Addr().String(), err)
			terr.Type = ErrTypeAccept
			s.logger.Error("Accept failed, stopping listener", zap.Error(terr))
			return terr
		}

		remote := raw.RemoteAddr().String()
		if !s.config.AllowSourceList.Allows(raw.RemoteAddr()) {
			s.logger.Warn("Connection rejected by allow-list",
				zap.String("remote_addr", remote),
				zap.Error(newError(ErrTypeSourceRejected, "accept", remote, nil)),
			)
			_ = raw.Close()
			s.release()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.release()
			s.handleConnection(raw)
		}()
	}
}

func (s *Server) acquire(ctx context.Context) bool {
	if s.sem == nil {
		return !s.stopping(ctx)
	}
	select {
	case s.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}

func (s *Server) release() {
	if s.sem != nil {
		<-s.sem
	}
}

func (s *Server) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// handleConnection handles a single accepted connection
func (s *Server) handleConnection(raw net.Conn) {
	remoteAddr := raw.RemoteAddr().String()
	opts := connOptions{
		readTimeout:  s.config.ReadTimeout,
		writeTimeout: s.config.WriteTimeout,
		bufferSize:   s.config.BufferSize,
	}

	if s.config.TLS != nil {
		tlsConn := tls.Server(raw, s.config.TLS)
		hsCtx := s.connCtx
		if s.config.HandshakeTimeout > 0 {
			var cancel context.CancelFunc
			hsCtx, cancel = context.WithTimeout(s.connCtx, s.config.HandshakeTimeout)
			defer cancel()
		}
		if err := tlsConn.HandshakeContext(hsCtx); err != nil {
			s.logger.Warn("TLS handshake failed",
				zap.String("remote_addr", remoteAddr),
				zap.Error(ClassifyNetworkError("handshake", remoteAddr, err)),
			)
			_ = raw.Close()
			return
		}
		state := tlsConn.ConnectionState()
		logging.LogTLSHandshake(s.logger, remoteAddr, state.Version, state.CipherSuite, state.ServerName)
		raw = tlsConn
	}

	conn := newConn(raw, RoleServer, opts)
	s.track(conn)
	defer func() {
		_ = conn.Close()
		s.untrack(conn)
		logging.LogConnection(s.logger, remoteAddr, "connection_closed")
	}()

	logging.LogConnection(s.logger, remoteAddr, "connection_accepted")

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Task panicked",
				zap.String("conn_id", conn.ID()),
				zap.String("remote_addr", remoteAddr),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	task := s.factory()
	if err := task.Serve(s.connCtx, conn); err != nil && !IsClosed(err) && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Task ended with error",
			zap.String("conn_id", conn.ID()),
			zap.String("remote_addr", remoteAddr),
			zap.Error(err),
		)
	}
}

func (s *Server) track(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeConns[c] = struct{}{}
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeConns, c)
}

// ActiveConnections returns the number of connections currently served.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}

// Draining reports whether Shutdown has been called. Tasks serving
// keep-alive connections use it to finish after the current exchange.
func (s *Server) Draining() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting, then waits for in-flight tasks. When ctx expires
// first, remaining connections are closed and ctx's error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.shutdown {
		s.shutdown = true
		close(s.done)
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Error("Error closing listener", zap.Error(err))
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelConn()
		s.logger.Debug("All connections closed gracefully")
		return nil
	case <-ctx.Done():
	}

	s.cancelConn()
	s.mu.Lock()
	for c := range s.activeConns {
		s.logger.Info("Closing active connection", zap.String("remote_addr", c.remoteAddr))
		_ = c.Close()
	}
	s.mu.Unlock()
	<-done
	return ctx.Err()
}
