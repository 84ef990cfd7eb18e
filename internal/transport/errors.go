package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrorType represents the category of transport failure.
type ErrorType int

const (
	// ErrTypeConnect indicates a failed outbound connect.
	ErrTypeConnect ErrorType = iota
	// ErrTypeAccept indicates the listener failed to accept.
	ErrTypeAccept
	// ErrTypeHandshake indicates a TLS handshake failure.
	ErrTypeHandshake
	// ErrTypeTimeout indicates a read, write, accept or connect deadline expired.
	ErrTypeTimeout
	// ErrTypeSourceRejected indicates the peer is not on the allow-list.
	ErrTypeSourceRejected
	// ErrTypeCertificateMismatch indicates the server certificate does not
	// carry the expected name.
	ErrTypeCertificateMismatch
	// ErrTypeFrameTooLarge indicates a length-limited read exceeded its limit.
	ErrTypeFrameTooLarge
	// ErrTypeClosed indicates the connection is closed or was reset.
	ErrTypeClosed
	// ErrTypeIO indicates any other I/O failure.
	ErrTypeIO
)

// String returns a human-readable name for the error type
func (t ErrorType) String() string {
	switch t {
	case ErrTypeConnect:
		return "connect"
	case ErrTypeAccept:
		return "accept"
	case ErrTypeHandshake:
		return "handshake"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeSourceRejected:
		return "source rejected"
	case ErrTypeCertificateMismatch:
		return "certificate mismatch"
	case ErrTypeFrameTooLarge:
		return "frame too large"
	case ErrTypeClosed:
		return "closed"
	case ErrTypeIO:
		return "i/o"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(t))
	}
}

// Error is the error type returned by every operation in this package.
type Error struct {
	Type      ErrorType
	Op        string // "connect", "accept", "handshake", "read", "write"
	Addr      string // remote address, if known
	Err       error
	Retryable bool
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := "transport: " + e.Op
	if e.Addr != "" {
		msg += " " + e.Addr
	}
	msg += ": " + e.Type.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the error is a deadline expiry, so *Error satisfies
// the net.Error style check used by callers such as net/http.
func (e *Error) Timeout() bool {
	return e.Type == ErrTypeTimeout
}

func newError(t ErrorType, op, addr string, err error) *Error {
	return &Error{Type: t, Op: op, Addr: addr, Err: err}
}

// errCertificateName is produced by the client's certificate name check.
type errCertificateName struct {
	want string
	got  string
}

func (e *errCertificateName) Error() string {
	return fmt.Sprintf("server certificate %q does not match expected name %q", e.got, e.want)
}

// ClassifyNetworkError maps a raw error from the net, tls or x509 packages to
// an *Error. An *Error passes through unchanged.
func ClassifyNetworkError(op, addr string, err error) *Error {
	if err == nil {
		return nil
	}

	var te *Error
	if errors.As(err, &te) {
		return te
	}

	// Certificate name problems first; they are never worth retrying.
	var nameErr *errCertificateName
	var hostErr x509.HostnameError
	if errors.As(err, &nameErr) || errors.As(err, &hostErr) {
		return newError(ErrTypeCertificateMismatch, op, addr, err)
	}

	if os.IsTimeout(err) || errors.Is(err, os.ErrDeadlineExceeded) {
		e := newError(ErrTypeTimeout, op, addr, err)
		e.Retryable = op == "connect"
		return e
	}

	var unknownAuth x509.UnknownAuthorityError
	var certInvalid x509.CertificateInvalidError
	var recordErr tls.RecordHeaderError
	var alertErr tls.AlertError
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &unknownAuth) || errors.As(err, &certInvalid) ||
		errors.As(err, &recordErr) || errors.As(err, &alertErr) || errors.As(err, &verifyErr) {
		return newError(ErrTypeHandshake, op, addr, err)
	}

	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return newError(ErrTypeClosed, op, addr, err)
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return newError(ErrTypeClosed, op, addr, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		e := newError(ErrTypeConnect, op, addr, err)
		e.Retryable = dnsErr.IsTemporary
		return e
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		e := newError(ErrTypeConnect, op, addr, err)
		e.Retryable = true
		return e
	}

	switch op {
	case "connect":
		e := newError(ErrTypeConnect, op, addr, err)
		e.Retryable = true
		return e
	case "accept":
		return newError(ErrTypeAccept, op, addr, err)
	case "handshake":
		return newError(ErrTypeHandshake, op, addr, err)
	}
	return newError(ErrTypeIO, op, addr, err)
}

func errorType(err error) (ErrorType, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Type, true
	}
	return 0, false
}

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTypeTimeout
}

// IsCertificateMismatch reports whether err is a server certificate name
// mismatch.
func IsCertificateMismatch(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTypeCertificateMismatch
}

// IsClosed reports whether err means the peer went away.
func IsClosed(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	t, ok := errorType(err)
	return ok && t == ErrTypeClosed
}

// IsRetryable reports whether a failed operation may be attempted again.
func IsRetryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}
