package task

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/forestnet/forestnet/internal/config"
	"github.com/forestnet/forestnet/internal/crypt"
	"github.com/forestnet/forestnet/internal/logging"
	"github.com/forestnet/forestnet/internal/message"
	"github.com/forestnet/forestnet/internal/rest"
	"github.com/forestnet/forestnet/internal/seed"
	"github.com/forestnet/forestnet/internal/session"
	"github.com/forestnet/forestnet/internal/soap"
	"github.com/forestnet/forestnet/internal/transport"
	"go.uber.org/zap"
)

// Bindings are the runtime handlers an endpoint dispatches to. Only the one
// its mode needs is required; Seed is optional in NORMAL and DYNAMIC mode.
type Bindings struct {
	Seed seed.ForestSeed
	REST rest.ForestREST
	SOAP *soap.Dispatcher
}

// Server is one HTTP(S) endpoint.
type Server struct {
	cfg      *config.Config
	bindings Bindings
	sessions *session.Manager
	limits   message.Limits
	logger   *zap.Logger

	transport *transport.Server
}

// NewServer validates cfg, prepares the session store and TLS material, and
// builds the listener. Nothing is bound until Listen or Serve.
func NewServer(cfg *config.Config, b Bindings, logger *zap.Logger) (*Server, error) {
	logger = logging.Or(logger)
	if err := cfg.ValidateServer(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	switch cfg.Mode {
	case config.ModeREST:
		if b.REST == nil {
			return nil, fmt.Errorf("rest mode requires a REST handler")
		}
	case config.ModeSOAP:
		if b.SOAP == nil {
			return nil, fmt.Errorf("soap mode requires a SOAP dispatcher")
		}
	}

	s := &Server{
		cfg:      cfg,
		bindings: b,
		limits:   message.Limits{MaxBodySize: cfg.MaxBodySize},
		logger:   logger,
	}

	if cfg.UseCookies {
		mgr, err := newSessionManager(cfg, logger)
		if err != nil {
			return nil, err
		}
		s.sessions = mgr
	}

	var tlsConfig *tls.Config
	if cfg.TLS() {
		cert, err := transport.LoadCertificate(cfg.Certificate, cfg.CertificateKey, cfg.CertificatePassword)
		if err != nil {
			return nil, err
		}
		tlsConfig = transport.ServerTLSConfig(cert)
	}

	allow, err := cfg.AllowPrefixes()
	if err != nil {
		return nil, err
	}

	ts, err := transport.NewServer(transport.ServerConfig{
		Host:             cfg.Host,
		Port:             cfg.Port,
		TLS:              tlsConfig,
		AcceptTimeout:    cfg.AcceptTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		MaxConnections:   cfg.MaxConnections,
		ReadTimeout:      cfg.ReadTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		BufferSize:       cfg.BufferSize,
		AllowSourceList:  transport.AllowList(allow),
	}, s.newTask, logger)
	if err != nil {
		return nil, err
	}
	s.transport = ts
	return s, nil
}

func newSessionManager(cfg *config.Config, logger *zap.Logger) (*session.Manager, error) {
	maxAge, err := cfg.SessionMaxAgeDuration()
	if err != nil {
		return nil, err
	}

	var store session.Store
	if cfg.SessionDirectory == "" {
		store = session.NewMemoryStore()
	} else {
		var cipher *crypt.Cipher
		if cfg.SessionPassphrase != "" {
			cipher, err = crypt.New(cfg.SessionPassphrase)
			if err != nil {
				return nil, fmt.Errorf("session passphrase: %w", err)
			}
		}
		fs, err := session.NewFileStore(cfg.SessionDirectory, cipher)
		if err != nil {
			return nil, err
		}
		store = fs
	}

	return session.NewManager(store, session.Options{
		MaxAge:  maxAge,
		Refresh: cfg.SessionRefresh,
		Logger:  logger,
	}), nil
}

func (s *Server) newTask() transport.ServerTask {
	return &serverTask{srv: s}
}

// Listen binds the listening socket.
func (s *Server) Listen() error { return s.transport.Listen() }

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr { return s.transport.Addr() }

// Sessions returns the session manager, or nil when cookies are off.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Config returns the endpoint configuration.
func (s *Server) Config() *config.Config { return s.cfg }

// Serve accepts connections until ctx is cancelled or Shutdown is called.
// Expired sessions are swept in the background meanwhile.
func (s *Server) Serve(ctx context.Context) error {
	if s.sessions != nil {
		interval, err := s.cfg.SessionSweepDuration()
		if err != nil {
			return err
		}
		sweepCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go s.sessions.RunSweeper(sweepCtx, interval)
	}

	s.logger.Info("Serving",
		zap.String("mode", s.cfg.Mode.String()),
		zap.String("scheme", s.cfg.Scheme),
		zap.String("address", s.cfg.Address()),
	)
	return s.transport.Serve(ctx)
}

// Shutdown stops accepting and waits for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.transport.Shutdown(ctx)
}
