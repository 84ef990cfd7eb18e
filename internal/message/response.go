package message

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	"golang.org/x/net/http/httpguts"
)

// ServerName is sent in the Server header.
const ServerName = "forestNET"

// ResponseHeader is built during dispatch and written once.
type ResponseHeader struct {
	StatusCode    int
	StatusMessage string // reason phrase; derived from StatusCode when empty
	ContentType   string
	// Header carries any extra headers; they are written sorted by name.
	Header    http.Header
	Cookies   []*http.Cookie
	KeepAlive bool
	// Head suppresses the body, for HEAD requests.
	Head bool
}

// NewResponseHeader returns a 200 response header.
func NewResponseHeader() *ResponseHeader {
	return &ResponseHeader{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
	}
}

// SetStatus sets code and message. An empty message uses the standard reason
// phrase.
func (h *ResponseHeader) SetStatus(code int, message string) {
	h.StatusCode = code
	h.StatusMessage = message
}

// SetCookie adds an outgoing cookie.
func (h *ResponseHeader) SetCookie(c *http.Cookie) {
	h.Cookies = append(h.Cookies, c)
}

// Reason returns the status line's reason phrase.
func (h *ResponseHeader) Reason() string {
	if h.StatusMessage != "" {
		return h.StatusMessage
	}
	if text := http.StatusText(h.StatusCode); text != "" {
		return text
	}
	return "Status " + strconv.Itoa(h.StatusCode)
}

// ErrInvalidHeader reports a header that cannot be written verbatim, such as
// a value carrying CR or LF.
var ErrInvalidHeader = errors.New("invalid response header")

// Check reports ErrInvalidHeader for a reason phrase, content type, header
// name or value that would break the response framing.
func (h *ResponseHeader) Check() error {
	if !httpguts.ValidHeaderFieldValue(h.Reason()) {
		return fmt.Errorf("%w: reason phrase", ErrInvalidHeader)
	}
	if !httpguts.ValidHeaderFieldValue(h.ContentType) {
		return fmt.Errorf("%w: Content-Type", ErrInvalidHeader)
	}
	for name, values := range h.Header {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("%w: name %q", ErrInvalidHeader, name)
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return fmt.Errorf("%w: %s", ErrInvalidHeader, name)
			}
		}
	}
	return nil
}

// WriteResponse writes the status line, headers and length bytes of body.
// A negative length reads body fully first to learn its size. body may be nil
// for an empty response. Nothing is written when h fails Check.
func WriteResponse(w io.Writer, h *ResponseHeader, body io.Reader, length int64) error {
	if err := h.Check(); err != nil {
		return err
	}
	if body == nil {
		body = bytes.NewReader(nil)
		length = 0
	}
	if length < 0 {
		data, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		body = bytes.NewReader(data)
		length = int64(len(data))
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "HTTP/1.1 %03d %s\r\n", h.StatusCode, h.Reason())
	fmt.Fprintf(bw, "Server: %s\r\n", ServerName)
	if h.ContentType != "" {
		fmt.Fprintf(bw, "Content-Type: %s\r\n", h.ContentType)
	}
	fmt.Fprintf(bw, "Content-Length: %d\r\n", length)
	if h.KeepAlive {
		bw.WriteString("Connection: keep-alive\r\n")
	} else {
		bw.WriteString("Connection: close\r\n")
	}
	for _, c := range h.Cookies {
		if v := c.String(); v != "" {
			fmt.Fprintf(bw, "Set-Cookie: %s\r\n", v)
		}
	}

	names := make([]string, 0, len(h.Header))
	for name := range h.Header {
		switch http.CanonicalHeaderKey(name) {
		case "Server", "Content-Type", "Content-Length", "Connection", "Set-Cookie", "Date":
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range h.Header[name] {
			fmt.Fprintf(bw, "%s: %s\r\n", name, v)
		}
	}
	bw.WriteString("\r\n")

	if !h.Head && length > 0 {
		if _, err := io.CopyN(bw, body, length); err != nil {
			return fmt.Errorf("write response body: %w", err)
		}
	}
	return bw.Flush()
}

// WriteError writes a plain-text error response for status.
func WriteError(w io.Writer, status int, message string, keepAlive bool) error {
	h := NewResponseHeader()
	h.SetStatus(status, "")
	h.ContentType = "text/plain; charset=utf-8"
	h.KeepAlive = keepAlive
	if message == "" {
		message = http.StatusText(status)
	}
	body := []byte(message)
	return WriteResponse(w, h, bytes.NewReader(body), int64(len(body)))
}
