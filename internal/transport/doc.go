// Package transport owns the connection lifecycle underneath forestNET's
// protocol tasks.
//
// # Server side
//
// A Server binds a TCP listener and runs an accept loop. Every accepted
// connection is checked against the source allow-list, optionally upgraded to
// TLS, wrapped in a *Conn and handed to a fresh ServerTask in its own
// goroutine:
//
//	srv, _ := transport.NewServer(transport.ServerConfig{
//	    Host: "0.0.0.0",
//	    Port: 8443,
//	    TLS:  tlsConfig,
//	}, factory, logger)
//	go srv.Serve(ctx)
//	...
//	srv.Shutdown(shutdownCtx)
//
// # Client side
//
// Connect dials with a bounded number of retries and a fixed pause between
// attempts. With TLS, the server chain is verified and, when
// DialConfig.ExpectedCertName is set, the leaf certificate must carry that
// name. A mismatch is reported as ErrTypeCertificateMismatch and is never
// retried.
//
// # Framing
//
// Conn refreshes its read and write deadlines on every call, splits writes
// into BufferSize chunks and offers ReadAmount and ReadLimited for
// length-bounded reads. Deadline expiry surfaces as ErrTypeTimeout.
package transport
