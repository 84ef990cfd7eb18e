package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/forestnet/forestnet/internal/logging"
	"go.uber.org/zap"
)

// DialConfig holds the client connect settings.
type DialConfig struct {
	Host string
	Port int

	// TLS enables a client handshake after the TCP connect.
	TLS bool
	// RootCAs verifies the server chain; nil uses the system roots.
	RootCAs *x509.CertPool
	// ServerName overrides Host for SNI and hostname verification.
	ServerName string
	// ExpectedCertName pins the name the server certificate must carry.
	ExpectedCertName string

	ConnectTimeout time.Duration
	// RetryCount is the number of retries after the first attempt.
	RetryCount int
	// RetryPause is the fixed pause between attempts.
	RetryPause time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int

	Logger *zap.Logger
}

// Address returns host:port.
func (c DialConfig) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// Connect dials cfg's address, retrying up to cfg.RetryCount times with a
// fixed pause. Certificate and handshake failures are not retried.
func Connect(ctx context.Context, cfg DialConfig) (*Conn, error) {
	logger := logging.Or(cfg.Logger)
	addr := cfg.Address()

	var tlsConfig *tls.Config
	if cfg.TLS {
		tlsConfig = clientTLSConfig(cfg)
	}

	retries := cfg.RetryCount
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.RetryPause), uint64(retries)),
		ctx,
	)

	var (
		conn     net.Conn
		attempts int
	)
	operation := func() error {
		attempts++
		c, err := dialOnce(ctx, cfg, addr, tlsConfig)
		if err != nil {
			if !err.Retryable || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("Connect attempt failed, retrying",
			zap.String("addr", addr),
			zap.Int("attempt", attempts),
			zap.Duration("pause", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		logger.Warn("Connect failed",
			zap.String("addr", addr),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return nil, err
	}

	c := newConn(conn, RoleClient, connOptions{
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		bufferSize:   cfg.BufferSize,
	})
	c.attempts = attempts

	if state, ok := c.TLSState(); ok {
		logging.LogTLSHandshake(logger, addr, state.Version, state.CipherSuite, state.ServerName)
	}
	logging.LogConnection(logger, addr, "connected")
	return c, nil
}

func dialOnce(ctx context.Context, cfg DialConfig, addr string, tlsConfig *tls.Config) (net.Conn, *Error) {
	dialCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	var d net.Dialer
	raw, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, ClassifyNetworkError("connect", addr, err)
	}
	if tlsConfig == nil {
		return raw, nil
	}

	tlsConn := tls.Client(raw, tlsConfig)
	if err := tlsConn.HandshakeContext(dialCtx); err != nil {
		_ = raw.Close()
		terr := ClassifyNetworkError("handshake", addr, err)
		if terr.Type != ErrTypeTimeout {
			terr.Retryable = false
		}
		return nil, terr
	}
	return tlsConn, nil
}
