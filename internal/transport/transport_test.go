package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/forestnet/forestnet/internal/certs"
	"go.uber.org/zap"
)

func startServer(t *testing.T, cfg ServerConfig, factory TaskFactory) (*Server, int) {
	t.Helper()
	cfg.Host = "127.0.0.1"
	srv, err := NewServer(cfg, factory, zap.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
		if err := <-served; err != nil {
			t.Errorf("Serve returned %v", err)
		}
	})
	return srv, srv.Addr().(*net.TCPAddr).Port
}

func echoLine() TaskFactory {
	return func() ServerTask {
		return ServerTaskFunc(func(ctx context.Context, conn *Conn) error {
			line, err := bufio.NewReader(conn).ReadString('\n')
			if err != nil {
				return err
			}
			_, err = conn.Write([]byte(strings.ToUpper(line)))
			return err
		})
	}
}

func roundTrip(t *testing.T, conn *Conn, msg string) string {
	t.Helper()
	if _, err := conn.Write([]byte(msg + "\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	return strings.TrimSpace(reply)
}

func TestServeAndConnect(t *testing.T) {
	_, port := startServer(t, ServerConfig{ReadTimeout: time.Second}, echoLine())

	conn, err := Connect(context.Background(), DialConfig{
		Host: "127.0.0.1", Port: port, ConnectTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if conn.Role() != RoleClient || conn.ID() == "" || conn.Attempts() != 1 {
		t.Errorf("role=%v id=%q attempts=%d", conn.Role(), conn.ID(), conn.Attempts())
	}
	if got := roundTrip(t, conn, "hello forest"); got != "HELLO FOREST" {
		t.Errorf("reply = %q", got)
	}
}

func TestConcurrentConnections(t *testing.T) {
	_, port := startServer(t, ServerConfig{}, echoLine())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := Connect(context.Background(), DialConfig{Host: "127.0.0.1", Port: port})
			if err != nil {
				t.Errorf("Connect %d: %v", i, err)
				return
			}
			defer conn.Close()
			msg := strings.Repeat("x", i+1)
			if _, err := conn.Write([]byte(msg + "\n")); err != nil {
				t.Errorf("conn %d write: %v", i, err)
				return
			}
			reply, err := bufio.NewReader(conn).ReadString('\n')
			if err != nil || strings.TrimSpace(reply) != strings.ToUpper(msg) {
				t.Errorf("conn %d reply = %q, %v", i, reply, err)
			}
		}(i)
	}
	wg.Wait()
}

func TestAllowListRejectsBeforeTask(t *testing.T) {
	var started atomic.Int32
	factory := func() ServerTask {
		started.Add(1)
		return ServerTaskFunc(func(ctx context.Context, conn *Conn) error { return nil })
	}
	_, port := startServer(t, ServerConfig{
		AllowSourceList: AllowList{netip.MustParsePrefix("10.0.0.0/8")},
	}, factory)

	conn, err := Connect(context.Background(), DialConfig{Host: "127.0.0.1", Port: port, ReadTimeout: time.Second})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	if !IsClosed(err) {
		t.Fatalf("Read error = %v, want closed connection", err)
	}
	if n := started.Load(); n != 0 {
		t.Errorf("task started %d times for rejected peer", n)
	}
}

func tlsFixture(t *testing.T, name string) (*certs.Authority, *tls.Config) {
	t.Helper()
	ca, err := certs.NewAuthority("transport test CA", 1)
	if err != nil {
		t.Fatal(err)
	}
	sc, err := ca.GenerateServerCert(certs.DefaultCertParams(name))
	if err != nil {
		t.Fatal(err)
	}
	cert, err := sc.TLSCertificate()
	if err != nil {
		t.Fatal(err)
	}
	return ca, ServerTLSConfig(cert)
}

func TestTLSConnect(t *testing.T) {
	ca, serverTLS := tlsFixture(t, "forest.test")
	_, port := startServer(t, ServerConfig{TLS: serverTLS, HandshakeTimeout: time.Second}, echoLine())

	tests := []struct {
		name         string
		expected     string
		roots        bool
		wantMismatch bool
		wantErr      bool
	}{
		{"pinned name matches", "forest.test", true, false, false},
		{"loopback name", "", true, false, false},
		{"pinned name differs", "other.test", true, true, true},
		{"unknown authority", "forest.test", false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DialConfig{
				Host:             "127.0.0.1",
				Port:             port,
				TLS:              true,
				ExpectedCertName: tt.expected,
				ConnectTimeout:   time.Second,
				RetryCount:       3,
				RetryPause:       time.Second,
			}
			if tt.roots {
				cfg.RootCAs = ca.Pool()
			} else {
				cfg.RootCAs = x509PoolWithoutCA()
			}

			start := time.Now()
			conn, err := Connect(context.Background(), cfg)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Connect: %v", err)
				}
				defer conn.Close()
				if !conn.TLS() {
					t.Fatal("expected TLS connection")
				}
				if state, _ := conn.TLSState(); state.Version < tls.VersionTLS12 {
					t.Errorf("negotiated version %x", state.Version)
				}
				if got := roundTrip(t, conn, "secure"); got != "SECURE" {
					t.Errorf("reply = %q", got)
				}
				return
			}

			if err == nil {
				conn.Close()
				t.Fatal("expected error")
			}
			if IsCertificateMismatch(err) != tt.wantMismatch {
				t.Errorf("IsCertificateMismatch(%v) = %v, want %v", err, !tt.wantMismatch, tt.wantMismatch)
			}
			if IsRetryable(err) {
				t.Errorf("certificate failures must not be retryable: %v", err)
			}
			if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
				t.Errorf("certificate failure was retried (took %v)", elapsed)
			}
		})
	}
}

func TestConnectRetriesRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	start := time.Now()
	_, err = Connect(context.Background(), DialConfig{
		Host: "127.0.0.1", Port: port,
		ConnectTimeout: 200 * time.Millisecond,
		RetryCount:     2,
		RetryPause:     30 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected connect error")
	}
	var terr *Error
	if !errors.As(err, &terr) || terr.Type != ErrTypeConnect {
		t.Fatalf("error = %v, want ErrTypeConnect", err)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("two retries with 30ms pause finished in %v", elapsed)
	}
}

func TestConnectHonorsContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = Connect(ctx, DialConfig{Host: "127.0.0.1", Port: port, RetryCount: 100, RetryPause: 20 * time.Millisecond})
	if err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Connect ignored context for %v", elapsed)
	}
}

func TestReadTimeoutIsTransportError(t *testing.T) {
	result := make(chan error, 1)
	factory := func() ServerTask {
		return ServerTaskFunc(func(ctx context.Context, conn *Conn) error {
			_, err := conn.Read(make([]byte, 16))
			result <- err
			return err
		})
	}
	_, port := startServer(t, ServerConfig{ReadTimeout: 50 * time.Millisecond}, factory)

	conn, err := Connect(context.Background(), DialConfig{Host: "127.0.0.1", Port: port})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	select {
	case err := <-result:
		if !IsTimeout(err) {
			t.Fatalf("server read error = %v, want timeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server read did not time out")
	}
}

func TestMaxConnectionsBoundsConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	factory := func() ServerTask {
		return ServerTaskFunc(func(ctx context.Context, conn *Conn) error {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			current.Add(-1)
			_, err := conn.Write([]byte("ok\n"))
			return err
		})
	}
	_, port := startServer(t, ServerConfig{MaxConnections: 1}, factory)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := Connect(context.Background(), DialConfig{Host: "127.0.0.1", Port: port, ReadTimeout: 2 * time.Second})
			if err != nil {
				t.Errorf("Connect: %v", err)
				return
			}
			defer conn.Close()
			if _, err := bufio.NewReader(conn).ReadString('\n'); err != nil {
				t.Errorf("read: %v", err)
			}
		}()
	}
	wg.Wait()

	if p := peak.Load(); p != 1 {
		t.Errorf("peak concurrent tasks = %d, want 1", p)
	}
}

func TestShutdownWaitsForInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	finished := make(chan struct{})
	factory := func() ServerTask {
		return ServerTaskFunc(func(ctx context.Context, conn *Conn) error {
			close(entered)
			<-release
			_, err := conn.Write([]byte("done\n"))
			close(finished)
			return err
		})
	}

	srv, err := NewServer(ServerConfig{Host: "127.0.0.1"}, factory, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatal(err)
	}
	go srv.Serve(context.Background())

	conn, err := Connect(context.Background(), DialConfig{Host: "127.0.0.1", Port: srv.Addr().(*net.TCPAddr).Port, ReadTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	<-entered

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- srv.Shutdown(context.Background()) }()

	// The listener is gone but the in-flight response still completes.
	time.Sleep(20 * time.Millisecond)
	if _, err := net.DialTimeout("tcp", srv.Addr().String(), 100*time.Millisecond); err == nil {
		t.Error("listener still accepting after Shutdown")
	}
	close(release)

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil || line != "done\n" {
		t.Fatalf("in-flight reply = %q, %v", line, err)
	}
	<-finished
	if err := <-shutdownErr; err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestShutdownForcesCloseOnDeadline(t *testing.T) {
	entered := make(chan struct{})
	factory := func() ServerTask {
		return ServerTaskFunc(func(ctx context.Context, conn *Conn) error {
			close(entered)
			_, err := conn.Read(make([]byte, 1))
			return err
		})
	}
	srv, err := NewServer(ServerConfig{Host: "127.0.0.1"}, factory, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatal(err)
	}
	go srv.Serve(context.Background())

	conn, err := Connect(context.Background(), DialConfig{Host: "127.0.0.1", Port: srv.Addr().(*net.TCPAddr).Port})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := srv.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown error = %v, want deadline exceeded", err)
	}
	if n := srv.ActiveConnections(); n != 0 {
		t.Errorf("ActiveConnections = %d after forced shutdown", n)
	}
}

type recordingConn struct {
	net.Conn
	writes []int
}

func (r *recordingConn) Write(p []byte) (int, error) {
	r.writes = append(r.writes, len(p))
	return len(p), nil
}

func (r *recordingConn) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (r *recordingConn) SetWriteDeadline(time.Time) error { return nil }

func TestWriteIsChunked(t *testing.T) {
	rc := &recordingConn{}
	conn := NewConn(rc, RoleServer, 0, time.Second, 4)

	n, err := conn.Write([]byte("0123456789"))
	if err != nil || n != 10 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	want := []int{4, 4, 2}
	if len(rc.writes) != len(want) {
		t.Fatalf("chunks = %v, want %v", rc.writes, want)
	}
	for i := range want {
		if rc.writes[i] != want[i] {
			t.Errorf("chunks = %v, want %v", rc.writes, want)
		}
	}
}

func TestReadAmountAndReadLimited(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		max     int64
		wantErr ErrorType
		ok      bool
	}{
		{"fits", "abcdef", 10, 0, true},
		{"exact", "abcdef", 6, 0, true},
		{"too large", "abcdefg", 6, ErrTypeFrameTooLarge, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := net.Pipe()
			conn := NewConn(server, RoleServer, time.Second, time.Second, 0)
			defer conn.Close()

			go func() {
				client.Write([]byte(tt.payload))
				client.Close()
			}()

			data, err := conn.ReadLimited(tt.max)
			if tt.ok {
				if err != nil || string(data) != tt.payload {
					t.Fatalf("ReadLimited = %q, %v", data, err)
				}
				return
			}
			var terr *Error
			if !errors.As(err, &terr) || terr.Type != tt.wantErr {
				t.Fatalf("ReadLimited error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	client, server := net.Pipe()
	conn := NewConn(server, RoleServer, time.Second, time.Second, 0)
	go func() {
		client.Write([]byte("head"))
		client.Close()
	}()
	got, err := conn.ReadAmount(4)
	if err != nil || string(got) != "head" {
		t.Fatalf("ReadAmount = %q, %v", got, err)
	}
	if _, err := conn.ReadAmount(1); !IsClosed(err) {
		t.Errorf("ReadAmount past EOF error = %v, want closed", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	conn := NewConn(server, RoleServer, 0, 0, 0)

	first := conn.Close()
	second := conn.Close()
	if first != second {
		t.Errorf("Close results differ: %v vs %v", first, second)
	}
	if !conn.Closed() {
		t.Error("Closed() = false after Close")
	}
	if _, err := conn.Write([]byte("x")); !IsClosed(err) {
		t.Errorf("Write after Close error = %v", err)
	}
}

func TestAllowList(t *testing.T) {
	list := AllowList{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("2001:db8::/32"),
	}
	tests := []struct {
		addr net.Addr
		want bool
	}{
		{&net.TCPAddr{IP: net.ParseIP("10.20.30.40"), Port: 1}, true},
		{&net.TCPAddr{IP: net.ParseIP("::ffff:10.0.0.1"), Port: 1}, true},
		{&net.TCPAddr{IP: net.ParseIP("192.168.1.1"), Port: 1}, false},
		{&net.TCPAddr{IP: net.ParseIP("2001:db8::1"), Port: 1}, true},
		{&net.UnixAddr{Name: "/tmp/sock", Net: "unix"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := list.Allows(tt.addr); got != tt.want {
			t.Errorf("Allows(%v) = %v, want %v", tt.addr, got, tt.want)
		}
	}
	if !AllowList(nil).Allows(&net.TCPAddr{IP: net.ParseIP("8.8.8.8")}) {
		t.Error("empty list must allow everyone")
	}
}

func TestClassifyNetworkError(t *testing.T) {
	tests := []struct {
		name      string
		op        string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{"deadline", "read", os.ErrDeadlineExceeded, ErrTypeTimeout, false},
		{"connect deadline", "connect", os.ErrDeadlineExceeded, ErrTypeTimeout, true},
		{"refused", "connect", &net.OpError{Op: "dial", Err: &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}}, ErrTypeConnect, true},
		{"closed", "read", net.ErrClosed, ErrTypeClosed, false},
		{"reset", "read", syscall.ECONNRESET, ErrTypeClosed, false},
		{"name mismatch", "handshake", &errCertificateName{want: "a", got: "b"}, ErrTypeCertificateMismatch, false},
		{"other handshake", "handshake", errors.New("boom"), ErrTypeHandshake, false},
		{"other io", "write", errors.New("boom"), ErrTypeIO, false},
		{"passthrough", "read", &Error{Type: ErrTypeFrameTooLarge}, ErrTypeFrameTooLarge, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyNetworkError(tt.op, "127.0.0.1:1", tt.err)
			if got.Type != tt.wantType || got.Retryable != tt.retryable {
				t.Errorf("got type=%v retryable=%v, want %v/%v", got.Type, got.Retryable, tt.wantType, tt.retryable)
			}
		})
	}
	if ClassifyNetworkError("read", "", nil) != nil {
		t.Error("nil error must classify to nil")
	}
	if !IsClosed(io.EOF) {
		t.Error("io.EOF must count as closed")
	}
}

func TestLoadCertificatePEM(t *testing.T) {
	ca, err := certs.NewAuthority("pem test CA", 1)
	if err != nil {
		t.Fatal(err)
	}
	sc, err := ca.GenerateServerCert(certs.DefaultCertParams("localhost"))
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	certPath, keyPath, err := sc.WriteFiles(dir, "server", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	plainCert, plainKey, err := sc.WriteFiles(filepath.Join(dir, "plain"), "server", "")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		cert     string
		key      string
		password string
		wantErr  string
	}{
		{"encrypted key", certPath, keyPath, "hunter2", ""},
		{"plain key", plainCert, plainKey, "", ""},
		{"wrong password", certPath, keyPath, "nope", "key"},
		{"missing password", certPath, keyPath, "", "no password"},
		{"missing file", filepath.Join(dir, "absent.crt"), keyPath, "", "read certificate"},
		{"bad pkcs12", plainCert + ".p12", "", "x", "read certificate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert, err := LoadCertificate(tt.cert, tt.key, tt.password)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadCertificate: %v", err)
			}
			if len(cert.Certificate) == 0 {
				t.Error("empty certificate chain")
			}
		})
	}

	p12 := filepath.Join(dir, "broken.p12")
	if err := os.WriteFile(p12, []byte("not pkcs12"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCertificate(p12, "", "pw"); err == nil || !strings.Contains(err.Error(), "PKCS#12") {
		t.Errorf("broken PKCS#12 error = %v", err)
	}
}

func x509PoolWithoutCA() *x509.CertPool {
	return x509.NewCertPool()
}
