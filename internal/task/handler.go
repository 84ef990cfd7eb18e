package task

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"html/template"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/forestnet/forestnet/internal/config"
	"github.com/forestnet/forestnet/internal/logging"
	"github.com/forestnet/forestnet/internal/message"
	"github.com/forestnet/forestnet/internal/rest"
	"github.com/forestnet/forestnet/internal/seed"
	"github.com/forestnet/forestnet/internal/session"
	"github.com/forestnet/forestnet/internal/soap"
	"github.com/forestnet/forestnet/internal/transport"
	"go.uber.org/zap"
)

const textPlain = "text/plain; charset=utf-8"

// serverTask serves one connection.
type serverTask struct {
	srv *Server
}

func (t *serverTask) Serve(ctx context.Context, conn *transport.Conn) error {
	s := t.srv
	remote := conn.RemoteAddr().String()
	br := bufio.NewReaderSize(conn, max(conn.BufferSize(), 4096))

	for {
		req, err := message.ReadRequest(br, s.limits)
		if err != nil {
			var pe *message.ProtocolError
			switch {
			case errors.Is(err, io.EOF), transport.IsClosed(err):
				return nil
			case transport.IsTimeout(err):
				s.logger.Debug("Idle connection timed out", zap.String("remote_addr", remote))
				return nil
			case errors.As(err, &pe):
				s.logger.Info("Rejected malformed request",
					zap.String("remote_addr", remote),
					zap.Int("status", pe.Status),
					zap.Error(err),
				)
				return message.WriteError(conn, pe.Status, pe.Msg, false)
			}
			return err
		}

		keepAlive, err := t.exchange(ctx, conn, req)
		if err != nil {
			return err
		}
		if !keepAlive || ctx.Err() != nil {
			return nil
		}
	}
}

// exchange answers one request and reports whether the connection stays
// open.
func (t *serverTask) exchange(ctx context.Context, conn *transport.Conn, req *message.Request) (bool, error) {
	s := t.srv
	h := req.Header
	remote := conn.RemoteAddr().String()
	logging.LogHTTPRequest(s.logger, remote, h.Method, h.RequestPath, firstValues(h.Header))

	resp := message.NewResponseHeader()
	resp.KeepAlive = h.KeepAlive && s.cfg.KeepAlive && !s.transport.Draining()
	resp.Head = h.Method == http.MethodHead

	var sess *session.Session
	if s.sessions != nil {
		cookie, _ := h.CookieValue(session.CookieName)
		resolved, err := s.sessions.Resolve(cookie)
		if err != nil {
			s.logger.Warn("Session unavailable", zap.Error(err))
		} else {
			sess = resolved
			defer s.sessions.Release(sess)
			s.sessions.Touch(sess)
		}
	}

	out := t.dispatch(ctx, req, resp, sess)
	defer out.close()

	// The session is stored and unlocked before the response leaves, so the
	// client's next request sees this one's writes.
	if sess != nil {
		// Decided before Persist, which clears the new-session mark.
		issue := s.sessions.ShouldIssueCookie(sess)
		if err := s.sessions.Persist(sess); err != nil {
			s.logger.Warn("Failed to persist session",
				zap.String("session_id", sess.ID),
				zap.Error(err),
			)
		}
		if issue {
			resp.SetCookie(s.sessions.Cookie(sess, s.cfg.TLS()))
		}
		s.sessions.Release(sess)
	}

	if err := message.WriteResponse(conn, resp, out.reader(), out.size); err != nil {
		if !errors.Is(err, message.ErrInvalidHeader) {
			return false, err
		}
		s.logger.Warn("Refused response with invalid header",
			zap.String("remote_addr", remote),
			zap.String("path", h.RequestPath),
			zap.Error(err),
		)
		logging.LogHTTPResponse(s.logger, remote, http.StatusInternalServerError, 0)
		return false, message.WriteError(conn, http.StatusInternalServerError, "", false)
	}
	logging.LogHTTPResponse(s.logger, remote, resp.StatusCode, out.size)
	return resp.KeepAlive, nil
}

func firstValues(h map[string][]string) map[string]string {
	m := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			m[k] = v[0]
		}
	}
	return m
}

// payload is a response body: bytes, or an open file streamed from disk.
type payload struct {
	data []byte
	file *os.File
	size int64
}

func bytesPayload(b []byte) payload {
	return payload{data: b, size: int64(len(b))}
}

func (p payload) reader() io.Reader {
	if p.file != nil {
		return p.file
	}
	return bytes.NewReader(p.data)
}

func (p payload) close() {
	if p.file != nil {
		_ = p.file.Close()
	}
}

func (t *serverTask) dispatch(ctx context.Context, req *message.Request, resp *message.ResponseHeader, sess *session.Session) (out payload) {
	defer func() {
		if r := recover(); r != nil {
			out = t.internalError(resp, &seed.PanicError{Value: r, Stack: debug.Stack()})
		}
	}()

	switch t.srv.cfg.Mode {
	case config.ModeREST:
		return t.serveREST(req, resp, sess)
	case config.ModeSOAP:
		return t.serveSOAP(ctx, req, resp)
	default:
		return t.serveFile(req, resp, sess)
	}
}

func statusPayload(resp *message.ResponseHeader, status int, msg string) payload {
	resp.SetStatus(status, "")
	resp.ContentType = textPlain
	if msg == "" {
		msg = http.StatusText(status)
	}
	return bytesPayload([]byte(msg))
}

func methodNotAllowed(resp *message.ResponseHeader, allow string) payload {
	resp.Header.Set("Allow", allow)
	return statusPayload(resp, http.StatusMethodNotAllowed, "")
}

// internalError logs err and answers 500 without exposing it.
func (t *serverTask) internalError(resp *message.ResponseHeader, err error) payload {
	fields := []zap.Field{zap.Error(err)}
	if t.srv.cfg.PrintExceptionStackTrace {
		var pe *seed.PanicError
		if errors.As(err, &pe) {
			fields = append(fields, zap.ByteString("stack", pe.Stack))
		} else {
			fields = append(fields, zap.Stack("stack"))
		}
	}
	t.srv.logger.Error("Request failed", fields...)

	resp.Header = make(http.Header)
	return statusPayload(resp, http.StatusInternalServerError, "")
}

func (t *serverTask) serveREST(req *message.Request, resp *message.ResponseHeader, sess *session.Session) payload {
	res := rest.Dispatch(t.srv.bindings.REST, seed.New(req, resp, sess))
	resp.SetStatus(res.Status, "")
	resp.ContentType = textPlain
	return bytesPayload([]byte(res.Body))
}

func (t *serverTask) serveSOAP(ctx context.Context, req *message.Request, resp *message.ResponseHeader) payload {
	h := req.Header
	d := t.srv.bindings.SOAP
	if !t.soapPath(h) {
		return statusPayload(resp, http.StatusNotFound, "")
	}

	switch h.Method {
	case http.MethodGet, http.MethodHead:
		if !h.HasParam("wsdl") {
			return methodNotAllowed(resp, "POST")
		}
		resp.ContentType = soap.ContentType
		return bytesPayload(d.WSDL().Bytes())
	case http.MethodPost:
		res := d.Serve(ctx, h, req.Body)
		resp.SetStatus(res.Status, "")
		resp.ContentType = res.ContentType
		return bytesPayload(res.Body)
	}
	return methodNotAllowed(resp, "GET, HEAD, POST")
}

func (t *serverTask) soapPath(h *message.RequestHeader) bool {
	p := strings.TrimSuffix(t.srv.cfg.SOAPPath, "/")
	if p == "" {
		return true
	}
	return strings.TrimSuffix(h.FullPath(), "/") == p
}

// pageData is what DYNAMIC templates see.
type pageData struct {
	Temp    map[string]any
	Session map[string]any
	Post    map[string]string
	Request *message.RequestHeader
}

func (t *serverTask) serveFile(req *message.Request, resp *message.ResponseHeader, sess *session.Session) payload {
	s := t.srv
	h := req.Header
	switch h.Method {
	case http.MethodGet, http.MethodHead, http.MethodPost:
	default:
		return methodNotAllowed(resp, "GET, HEAD, POST")
	}

	sd := seed.New(req, resp, sess)
	if s.bindings.Seed != nil {
		if err := seed.Invoke(s.bindings.Seed, sd); err != nil {
			return t.internalError(resp, err)
		}
		if sd.Handled() {
			resp.ContentType = textPlain
			return bytesPayload(nil)
		}
	}

	path, err := message.ResolveStatic(s.cfg.RootDirectory, h.FullPath(), s.cfg.IndexFile)
	switch {
	case errors.Is(err, message.ErrOutsideRoot):
		s.logger.Warn("Rejected path outside root", zap.String("path", h.RequestPath))
		return statusPayload(resp, http.StatusForbidden, "")
	case errors.Is(err, message.ErrNotFound):
		return statusPayload(resp, http.StatusNotFound, "")
	case err != nil:
		return t.internalError(resp, err)
	}

	if s.cfg.Mode == config.ModeDynamic && message.IsHTML(path) {
		return t.render(path, resp, sd)
	}

	f, err := os.Open(path)
	if err != nil {
		return t.internalError(resp, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return t.internalError(resp, err)
	}
	resp.ContentType = message.ContentType(path)
	return payload{file: f, size: info.Size()}
}

func (t *serverTask) render(path string, resp *message.ResponseHeader, sd *seed.Seed) payload {
	src, err := os.ReadFile(path)
	if err != nil {
		return t.internalError(resp, err)
	}
	tmpl, err := template.New(filepath.Base(path)).Parse(string(src))
	if err != nil {
		return t.internalError(resp, err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, pageData{
		Temp:    sd.Temp,
		Session: sd.SessionData,
		Post:    sd.PostData,
		Request: sd.RequestHeader,
	})
	if err != nil {
		return t.internalError(resp, err)
	}
	resp.ContentType = message.ContentType(path)
	return bytesPayload(buf.Bytes())
}
