package message

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"net/url"
	"path"
	"strings"
)

// Default limits applied when Limits fields are zero.
const (
	DefaultMaxHeaderBytes = 64 << 10
	DefaultMaxBodySize    = 32 << 20
)

// Limits bounds what ReadRequest accepts.
type Limits struct {
	MaxHeaderBytes int
	MaxBodySize    int64
}

func (l Limits) withDefaults() Limits {
	if l.MaxHeaderBytes <= 0 {
		l.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if l.MaxBodySize <= 0 {
		l.MaxBodySize = DefaultMaxBodySize
	}
	return l
}

var knownMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
	http.MethodPatch:   true,
}

// RequestHeader is the parsed request line and header block. It is read-only
// once ReadRequest returns.
type RequestHeader struct {
	Method string
	// RequestPath is the request target exactly as received.
	RequestPath string
	// Path is the decoded directory part, always ending in "/".
	Path string
	// File is the last path segment, empty for directory requests.
	File     string
	RawQuery string
	Params   []Param

	Proto       string
	Host        string
	ContentType string
	// ContentLength is -1 when unknown (chunked).
	ContentLength int64
	// Cookie is the raw Cookie header.
	Cookie    string
	Cookies   []*http.Cookie
	Header    http.Header
	KeepAlive bool
}

// FullPath returns Path + File.
func (h *RequestHeader) FullPath() string {
	return h.Path + h.File
}

// Param returns the first parameter called name.
func (h *RequestHeader) Param(name string) (Param, bool) {
	for _, p := range h.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// HasParam reports whether the query carries a bare or valued parameter
// called name, such as ?wsdl.
func (h *RequestHeader) HasParam(name string) bool {
	_, ok := h.Param(name)
	return ok
}

// CookieValue returns the value of the named cookie.
func (h *RequestHeader) CookieValue(name string) (string, bool) {
	for _, c := range h.Cookies {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Field is one form field.
type Field struct {
	Name  string
	Value string
}

// FileData is one uploaded file from a multipart body.
type FileData struct {
	FieldName   string
	FileName    string
	ContentType string
	Data        []byte
}

// Form holds decoded body fields and uploads in arrival order.
type Form struct {
	Fields []Field
	Files  []FileData
}

// Value returns the first value of the named field.
func (f *Form) Value(name string) (string, bool) {
	if f == nil {
		return "", false
	}
	for _, fld := range f.Fields {
		if fld.Name == name {
			return fld.Value, true
		}
	}
	return "", false
}

// Map returns the fields as a map; the first value wins for repeated names.
func (f *Form) Map() map[string]string {
	m := make(map[string]string)
	if f == nil {
		return m
	}
	for _, fld := range f.Fields {
		if _, ok := m[fld.Name]; !ok {
			m[fld.Name] = fld.Value
		}
	}
	return m
}

// Request is a fully read request.
type Request struct {
	Header *RequestHeader
	Body   []byte
	// Form is nil unless the body was URL-encoded or multipart.
	Form *Form
}

// ReadRequest reads one request from r. It returns io.EOF when the stream
// ends cleanly before the first byte, a *ProtocolError for requests that must
// be answered with an error status, and any other error (transport failures)
// unchanged.
func ReadRequest(r *bufio.Reader, limits Limits) (*Request, error) {
	limits = limits.withDefaults()

	head, err := readHead(r, limits.MaxHeaderBytes)
	if err != nil {
		return nil, err
	}

	hreq, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(head)))
	if err != nil {
		if strings.Contains(err.Error(), "unsupported transfer encoding") {
			return nil, protocolError(http.StatusNotImplemented, "", err)
		}
		return nil, protocolError(http.StatusBadRequest, "malformed request", err)
	}
	if !knownMethods[hreq.Method] {
		return nil, protocolError(http.StatusNotImplemented, "method "+hreq.Method, nil)
	}

	header, err := buildHeader(hreq)
	if err != nil {
		return nil, err
	}

	body, err := readBody(r, hreq, limits.MaxBodySize)
	if err != nil {
		return nil, err
	}

	req := &Request{Header: header, Body: body}
	if len(body) > 0 {
		form, err := parseForm(header.ContentType, body)
		if err != nil {
			return nil, err
		}
		req.Form = form
	}
	return req, nil
}

// readHead reads the request line and header block including the blank line.
// Leading blank lines left over from a previous request are skipped.
func readHead(r *bufio.Reader, max int) ([]byte, error) {
	var head bytes.Buffer
	started := false
	for {
		line, err := r.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			if head.Len()+len(line) > max {
				return nil, protocolError(http.StatusRequestHeaderFieldsTooLarge, "", nil)
			}
			head.Write(line)
			started = true
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !started && head.Len() == 0 && len(line) == 0 {
					return nil, io.EOF
				}
				return nil, protocolError(http.StatusBadRequest, "truncated request", io.ErrUnexpectedEOF)
			}
			return nil, err
		}

		if !started && (string(line) == "\r\n" || string(line) == "\n") {
			continue
		}
		started = true

		if head.Len()+len(line) > max {
			return nil, protocolError(http.StatusRequestHeaderFieldsTooLarge, "", nil)
		}
		head.Write(line)

		if string(line) == "\r\n" || string(line) == "\n" {
			return head.Bytes(), nil
		}
	}
}

func buildHeader(hreq *http.Request) (*RequestHeader, error) {
	decoded := hreq.URL.Path
	if decoded == "" {
		decoded = "/"
	}
	if !strings.HasPrefix(decoded, "/") {
		if hreq.Method != http.MethodOptions || decoded != "*" {
			return nil, protocolError(http.StatusBadRequest, "request target must be an absolute path", nil)
		}
	}

	params, err := ParseQuery(hreq.URL.RawQuery)
	if err != nil {
		return nil, protocolError(http.StatusBadRequest, "malformed query", err)
	}

	dir, file := splitPath(decoded)
	contentLength := hreq.ContentLength
	if len(hreq.TransferEncoding) > 0 {
		contentLength = -1
	}

	return &RequestHeader{
		Method:        hreq.Method,
		RequestPath:   hreq.RequestURI,
		Path:          dir,
		File:          file,
		RawQuery:      hreq.URL.RawQuery,
		Params:        params,
		Proto:         hreq.Proto,
		Host:          hreq.Host,
		ContentType:   hreq.Header.Get("Content-Type"),
		ContentLength: contentLength,
		Cookie:        hreq.Header.Get("Cookie"),
		Cookies:       hreq.Cookies(),
		Header:        hreq.Header,
		KeepAlive:     !hreq.Close,
	}, nil
}

// splitPath splits a decoded absolute path into its directory (with a
// trailing slash) and last segment.
func splitPath(p string) (dir, file string) {
	if strings.HasSuffix(p, "/") {
		return p, ""
	}
	i := strings.LastIndexByte(p, '/')
	return p[:i+1], p[i+1:]
}

func readBody(r *bufio.Reader, hreq *http.Request, max int64) ([]byte, error) {
	if len(hreq.TransferEncoding) > 0 && hreq.TransferEncoding[0] == "chunked" {
		data, err := io.ReadAll(io.LimitReader(httputil.NewChunkedReader(r), max+1))
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, protocolError(http.StatusBadRequest, "truncated chunked body", err)
			}
			var pe *ProtocolError
			if errors.As(err, &pe) {
				return nil, err
			}
			if strings.Contains(err.Error(), "chunk") {
				return nil, protocolError(http.StatusBadRequest, "malformed chunked body", err)
			}
			return nil, err
		}
		if int64(len(data)) > max {
			return nil, protocolError(http.StatusRequestEntityTooLarge, "", nil)
		}
		// Trailer section ends with a blank line.
		if _, err := textproto.NewReader(r).ReadMIMEHeader(); err != nil && !errors.Is(err, io.EOF) {
			return nil, protocolError(http.StatusBadRequest, "malformed trailer", err)
		}
		return data, nil
	}

	if hreq.ContentLength <= 0 {
		return nil, nil
	}
	if hreq.ContentLength > max {
		return nil, protocolError(http.StatusRequestEntityTooLarge, "", nil)
	}
	body := make([]byte, hreq.ContentLength)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, protocolError(http.StatusBadRequest, "truncated body", err)
		}
		return nil, err
	}
	return body, nil
}

func parseForm(contentType string, body []byte) (*Form, error) {
	if contentType == "" {
		return nil, nil
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, protocolError(http.StatusBadRequest, "malformed Content-Type", err)
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		return parseURLEncoded(body)
	case "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return nil, protocolError(http.StatusBadRequest, "multipart body without boundary", nil)
		}
		return parseMultipart(body, boundary)
	}
	return nil, nil
}

func parseURLEncoded(body []byte) (*Form, error) {
	form := &Form{}
	for _, pair := range strings.Split(string(body), "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(k)
		if err != nil {
			return nil, protocolError(http.StatusBadRequest, "malformed form field", err)
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, protocolError(http.StatusBadRequest, "malformed form field", err)
		}
		form.Fields = append(form.Fields, Field{Name: name, Value: value})
	}
	return form, nil
}

func parseMultipart(body []byte, boundary string) (*Form, error) {
	form := &Form{}
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return form, nil
		}
		if err != nil {
			return nil, protocolError(http.StatusBadRequest, "malformed multipart body", err)
		}

		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, protocolError(http.StatusBadRequest, "malformed multipart part", err)
		}

		if part.FileName() != "" {
			ct := part.Header.Get("Content-Type")
			if ct == "" {
				ct = "application/octet-stream"
			}
			form.Files = append(form.Files, FileData{
				FieldName:   part.FormName(),
				FileName:    path.Base(part.FileName()),
				ContentType: ct,
				Data:        data,
			})
			continue
		}
		form.Fields = append(form.Fields, Field{Name: part.FormName(), Value: string(data)})
	}
}
