package task

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/forestnet/forestnet/internal/config"
	"github.com/forestnet/forestnet/internal/logging"
	"github.com/forestnet/forestnet/internal/message"
	"github.com/forestnet/forestnet/internal/session"
	"github.com/forestnet/forestnet/internal/transport"
	"github.com/forestnet/forestnet/internal/version"
	"go.uber.org/zap"
)

// Client sends requests to one endpoint. Requests are serialized over a
// single connection that is reused while the server keeps it alive. The
// session cookie the server issues is stored and sent back, so consecutive
// requests share one session.
type Client struct {
	dial       transport.DialConfig
	host       string
	keepAlive  bool
	useCookies bool
	logger     *zap.Logger

	mu     sync.Mutex
	conn   *transport.Conn
	br     *bufio.Reader
	cookie *http.Cookie
}

// NewClient builds a client for cfg's scheme, host and port. Over https the
// server chain is verified against TrustedCA (system roots when empty) and,
// when ExpectedCertName is set, the server certificate must carry that name.
func NewClient(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.ValidateClient(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger = logging.Or(logger)

	dial := transport.DialConfig{
		Host:             cfg.Host,
		Port:             cfg.Port,
		TLS:              cfg.TLS(),
		ExpectedCertName: cfg.ExpectedCertName,
		ConnectTimeout:   cfg.ConnectTimeout,
		RetryCount:       cfg.RetryCount,
		RetryPause:       cfg.RetryPause,
		ReadTimeout:      cfg.ReadTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		BufferSize:       cfg.BufferSize,
		Logger:           logger,
	}
	if cfg.TLS() && cfg.TrustedCA != "" {
		pool, err := transport.LoadCertPool(cfg.TrustedCA)
		if err != nil {
			return nil, err
		}
		dial.RootCAs = pool
	}

	return &Client{
		dial:       dial,
		host:       dial.Address(),
		keepAlive:  cfg.KeepAlive,
		useCookies: cfg.UseCookies,
		logger:     logger,
	}, nil
}

// clientTask writes one request on a connection and hands the response to
// handle while the body is still unread.
type clientTask struct {
	req    *message.ClientRequest
	br     *bufio.Reader
	handle func(res *message.Response, body io.Reader) error

	res *message.Response
}

func (t *clientTask) Run(ctx context.Context, conn *transport.Conn) error {
	if err := message.WriteRequest(conn, t.req); err != nil {
		return err
	}
	res, body, err := message.OpenResponse(t.br, t.req.Method)
	if err != nil {
		return err
	}
	t.res = res
	herr := t.handle(res, body)
	// drain so the next response starts at a message boundary
	_, derr := io.Copy(io.Discard, body)
	body.Close()
	if herr != nil {
		return herr
	}
	return derr
}

var _ transport.ClientTask = (*clientTask)(nil)

// stream performs one exchange. A request on a reused connection that the
// server has meanwhile closed is retried once on a fresh connection.
func (c *Client) stream(ctx context.Context, req *message.ClientRequest, handle func(*message.Response, io.Reader) error) (*message.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req.Host = c.host
	req.KeepAlive = c.keepAlive
	if req.UserAgent == "" {
		req.UserAgent = version.UserAgent()
	}
	if c.useCookies && c.cookie != nil {
		req.Cookies = append(req.Cookies[:0:0], c.cookie)
	}

	for attempt := 0; ; attempt++ {
		reused := c.conn != nil
		if err := c.ensureConn(ctx); err != nil {
			return nil, err
		}

		task := &clientTask{req: req, br: c.br, handle: handle}
		conn := c.conn
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		err := task.Run(ctx, conn)
		interrupted := !stop()

		if interrupted {
			c.dropConn()
			return nil, ctx.Err()
		}
		if err != nil {
			c.dropConn()
			if reused && attempt == 0 && task.res == nil && staleConn(err) {
				c.logger.Debug("Kept-alive connection was closed by the server, reconnecting")
				continue
			}
			return nil, err
		}

		c.remember(task.res)
		if !c.keepAlive || !task.res.KeepAlive {
			c.dropConn()
		}
		return task.res, nil
	}
}

func staleConn(err error) bool {
	return transport.IsClosed(err) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (c *Client) ensureConn(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	conn, err := transport.Connect(ctx, c.dial)
	if err != nil {
		return err
	}
	c.conn = conn
	c.br = bufio.NewReaderSize(conn, max(conn.BufferSize(), 4096))
	return nil
}

func (c *Client) dropConn() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.br = nil
	}
}

func (c *Client) remember(res *message.Response) {
	if !c.useCookies {
		return
	}
	if ck, ok := res.Cookie(session.CookieName); ok {
		if ck.MaxAge < 0 || ck.Value == "" {
			c.cookie = nil
			return
		}
		c.cookie = &http.Cookie{Name: ck.Name, Value: ck.Value}
	}
}

// Do sends req and returns the complete response.
func (c *Client) Do(ctx context.Context, req *message.ClientRequest) (*message.Response, error) {
	var data []byte
	res, err := c.stream(ctx, req, func(_ *message.Response, body io.Reader) error {
		var err error
		data, err = io.ReadAll(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	res.Body = data
	return res, nil
}

// Get fetches path with the given filter parameters.
func (c *Client) Get(ctx context.Context, path string, params ...message.Param) (*message.Response, error) {
	return c.Do(ctx, &message.ClientRequest{Method: http.MethodGet, Path: path, Params: params})
}

// Post sends fields URL-encoded, or multipart when files are attached.
func (c *Client) Post(ctx context.Context, path string, fields []message.Field, files ...message.FileData) (*message.Response, error) {
	return c.Do(ctx, &message.ClientRequest{Method: http.MethodPost, Path: path, Form: fields, Files: files})
}

// Put sends fields URL-encoded.
func (c *Client) Put(ctx context.Context, path string, fields []message.Field) (*message.Response, error) {
	return c.Do(ctx, &message.ClientRequest{Method: http.MethodPut, Path: path, Form: fields})
}

// Delete removes the resource at path.
func (c *Client) Delete(ctx context.Context, path string) (*message.Response, error) {
	return c.Do(ctx, &message.ClientRequest{Method: http.MethodDelete, Path: path})
}

// SessionCookie returns the stored session cookie, or nil.
func (c *Client) SessionCookie() *http.Cookie {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cookie == nil {
		return nil
	}
	ck := *c.cookie
	return &ck
}

// ResetSession forgets the session cookie; the next request starts a new
// session.
func (c *Client) ResetSession() {
	c.mu.Lock()
	c.cookie = nil
	c.mu.Unlock()
}

// Close closes the kept-alive connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropConn()
	return nil
}
