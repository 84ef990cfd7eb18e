// Package seed is the per-request hook used by the DYNAMIC and NORMAL modes.
//
// Before a response is produced the server task fills a Seed with the parsed
// request, the response header being built, the caller's session data, the
// decoded form and any uploads, then calls the bound ForestSeed. The hook may
// read and write all of it: SessionData survives to later requests of the
// same session, Temp lives for this response only, and a changed
// ResponseHeader status (a redirect, say) short-circuits the file output.
package seed

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/forestnet/forestnet/internal/message"
	"github.com/forestnet/forestnet/internal/session"
)

// ForestSeed prepares dynamic content for one request.
type ForestSeed interface {
	PrepareContent(s *Seed) error
}

// Func adapts an ordinary function to ForestSeed.
type Func func(s *Seed) error

func (f Func) PrepareContent(s *Seed) error { return f(s) }

// Seed is what a hook sees of one request.
type Seed struct {
	RequestHeader  *message.RequestHeader
	ResponseHeader *message.ResponseHeader

	// SessionData is the live session map; writes are persisted after the
	// hook returns.
	SessionData map[string]any
	// Temp is scratch data for this response; DYNAMIC templates see it as
	// .Temp.
	Temp map[string]any
	// PostData holds URL-encoded or multipart form fields, first value per
	// name.
	PostData map[string]string
	FileData []message.FileData
	// Body is the raw request body.
	Body []byte
}

// New builds the Seed for req. sess may be nil when sessions are off; the
// hook then gets a throwaway SessionData map.
func New(req *message.Request, resp *message.ResponseHeader, sess *session.Session) *Seed {
	s := &Seed{
		RequestHeader:  req.Header,
		ResponseHeader: resp,
		Temp:           make(map[string]any),
		PostData:       req.Form.Map(),
		Body:           req.Body,
	}
	if req.Form != nil {
		s.FileData = req.Form.Files
	}
	if sess != nil {
		if sess.Data == nil {
			sess.Data = make(map[string]any)
		}
		s.SessionData = sess.Data
	} else {
		s.SessionData = make(map[string]any)
	}
	return s
}

// Param returns the value of the first query parameter called name.
func (s *Seed) Param(name string) (string, bool) {
	p, ok := s.RequestHeader.Param(name)
	if !ok {
		return "", false
	}
	return p.Value, true
}

// File returns the first upload sent under field.
func (s *Seed) File(field string) (message.FileData, bool) {
	for _, f := range s.FileData {
		if f.FieldName == field {
			return f, true
		}
	}
	return message.FileData{}, false
}

// Redirect answers with 303 See Other pointing at location.
func (s *Seed) Redirect(location string) {
	s.ResponseHeader.SetStatus(http.StatusSeeOther, "")
	s.ResponseHeader.Header.Set("Location", location)
}

// Handled reports whether the hook replaced the default 200 status, in which
// case the file or template output is skipped.
func (s *Seed) Handled() bool {
	return s.ResponseHeader.StatusCode != http.StatusOK
}

// PanicError carries a panic recovered from a hook.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("seed panicked: %v", e.Value)
}

// Invoke calls hook and turns a panic into a *PanicError.
func Invoke(hook ForestSeed, s *Seed) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return hook.PrepareContent(s)
}
