package message

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
)

// ClientRequest describes an outgoing request.
type ClientRequest struct {
	Method string
	Host   string
	Path   string
	Params []Param
	Header http.Header
	// Cookies are sent in one Cookie header.
	Cookies []*http.Cookie

	// Form is sent URL-encoded unless Files is non-empty, in which case
	// both go out as multipart/form-data.
	Form  []Field
	Files []FileData

	// Body and ContentType are used when neither Form nor Files is set.
	Body        []byte
	ContentType string

	KeepAlive bool
	// UserAgent defaults to ServerName.
	UserAgent string
}

// AddParam appends a query parameter.
func (r *ClientRequest) AddParam(name string, op Op, value string) *ClientRequest {
	r.Params = append(r.Params, Param{Name: name, Op: op, Value: value, Valid: op.Known()})
	return r
}

// AddField appends a form field.
func (r *ClientRequest) AddField(name, value string) *ClientRequest {
	r.Form = append(r.Form, Field{Name: name, Value: value})
	return r
}

// AddFile appends an upload.
func (r *ClientRequest) AddFile(field, fileName, contentType string, data []byte) *ClientRequest {
	r.Files = append(r.Files, FileData{FieldName: field, FileName: fileName, ContentType: contentType, Data: data})
	return r
}

// Target returns the request target: path plus encoded query.
func (r *ClientRequest) Target() string {
	p := r.Path
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(r.Params) > 0 {
		p += "?" + EncodeQuery(r.Params)
	}
	return p
}

func (r *ClientRequest) encodeBody() ([]byte, string, error) {
	switch {
	case len(r.Files) > 0:
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for _, f := range r.Form {
			if err := mw.WriteField(f.Name, f.Value); err != nil {
				return nil, "", err
			}
		}
		for _, f := range r.Files {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
				escapeQuotes(f.FieldName), escapeQuotes(f.FileName)))
			ct := f.ContentType
			if ct == "" {
				ct = "application/octet-stream"
			}
			h.Set("Content-Type", ct)
			pw, err := mw.CreatePart(h)
			if err != nil {
				return nil, "", err
			}
			if _, err := pw.Write(f.Data); err != nil {
				return nil, "", err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), mw.FormDataContentType(), nil

	case len(r.Form) > 0:
		params := make([]Param, len(r.Form))
		for i, f := range r.Form {
			params[i] = Param{Name: f.Name, Value: f.Value}
		}
		return []byte(EncodeQuery(params)), "application/x-www-form-urlencoded", nil
	}
	return r.Body, r.ContentType, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// WriteRequest serializes r to w.
func WriteRequest(w io.Writer, r *ClientRequest) error {
	body, contentType, err := r.encodeBody()
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", method, r.Target())
	fmt.Fprintf(bw, "Host: %s\r\n", r.Host)
	agent := r.UserAgent
	if agent == "" {
		agent = ServerName
	}
	fmt.Fprintf(bw, "User-Agent: %s\r\n", agent)
	if contentType != "" {
		fmt.Fprintf(bw, "Content-Type: %s\r\n", contentType)
	}
	if len(body) > 0 || method == http.MethodPost || method == http.MethodPut {
		fmt.Fprintf(bw, "Content-Length: %d\r\n", len(body))
	}
	if r.KeepAlive {
		bw.WriteString("Connection: keep-alive\r\n")
	} else {
		bw.WriteString("Connection: close\r\n")
	}
	if len(r.Cookies) > 0 {
		parts := make([]string, 0, len(r.Cookies))
		for _, c := range r.Cookies {
			parts = append(parts, c.Name+"="+c.Value)
		}
		fmt.Fprintf(bw, "Cookie: %s\r\n", strings.Join(parts, "; "))
	}

	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		switch http.CanonicalHeaderKey(name) {
		case "Host", "User-Agent", "Content-Type", "Content-Length", "Connection", "Cookie":
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range r.Header[name] {
			fmt.Fprintf(bw, "%s: %s\r\n", name, v)
		}
	}
	bw.WriteString("\r\n")
	bw.Write(body)
	return bw.Flush()
}

// Response is a response read by a client.
type Response struct {
	StatusCode    int
	Status        string // reason phrase
	Header        http.Header
	ContentLength int64
	SetCookies    []*http.Cookie
	KeepAlive     bool
	Body          []byte
}

// Cookie returns the Set-Cookie entry called name.
func (r *Response) Cookie(name string) (*http.Cookie, bool) {
	for _, c := range r.SetCookies {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// OpenResponse reads the status line and headers and returns the body as a
// stream. The caller must drain and close the body before reading the next
// response from r.
func OpenResponse(r *bufio.Reader, method string) (*Response, io.ReadCloser, error) {
	hres, err := http.ReadResponse(r, &http.Request{Method: method})
	if err != nil {
		return nil, nil, err
	}
	reason := strings.TrimSpace(strings.TrimPrefix(hres.Status, fmt.Sprint(hres.StatusCode)))
	return &Response{
		StatusCode:    hres.StatusCode,
		Status:        reason,
		Header:        hres.Header,
		ContentLength: hres.ContentLength,
		SetCookies:    hres.Cookies(),
		KeepAlive:     !hres.Close,
	}, hres.Body, nil
}

// ReadResponse reads a complete response including its body.
func ReadResponse(r *bufio.Reader, method string) (*Response, error) {
	res, body, err := OpenResponse(r, method)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	res.Body = data
	return res, nil
}
