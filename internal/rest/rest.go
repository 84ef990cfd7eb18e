// Package rest dispatches REST-mode requests to a ForestREST handler.
//
// Handlers return a plain string. A string of the form "<code>;<message>",
// with a three digit HTTP status code, becomes that status with message as
// the body; anything else is a 200 body. Routing by path is left to the
// handler; Segments splits a path into its resource/id pairs.
package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/forestnet/forestnet/internal/seed"
)

// NoResults is returned with status 200 when a collection query matches
// nothing.
const NoResults = "no results"

// ForestREST handles one resource tree. Implementations must be safe for
// concurrent use; every connection shares the same handler.
type ForestREST interface {
	HandleGET(s *seed.Seed) string
	HandlePOST(s *seed.Seed) string
	HandlePUT(s *seed.Seed) string
	HandleDELETE(s *seed.Seed) string
}

// Result is the translated outcome of one dispatch.
type Result struct {
	Status int
	Body   string
}

// allowed is sent in the Allow header of 405 responses.
const allowed = "GET, HEAD, POST, PUT, DELETE"

// Dispatch routes s to the handler method for its request method and
// translates the returned string. HEAD is answered by HandleGET; the writer
// drops the body.
func Dispatch(h ForestREST, s *seed.Seed) Result {
	var out string
	switch s.RequestHeader.Method {
	case http.MethodGet, http.MethodHead:
		out = h.HandleGET(s)
	case http.MethodPost:
		out = h.HandlePOST(s)
	case http.MethodPut:
		out = h.HandlePUT(s)
	case http.MethodDelete:
		out = h.HandleDELETE(s)
	default:
		s.ResponseHeader.Header.Set("Allow", allowed)
		return Result{
			Status: http.StatusMethodNotAllowed,
			Body:   "method " + s.RequestHeader.Method + " not allowed",
		}
	}

	if code, msg, ok := ParseToken(out); ok {
		return Result{Status: code, Body: msg}
	}
	return Result{Status: http.StatusOK, Body: out}
}

// ParseToken splits "<code>;<message>". ok is false unless the prefix is a
// three digit status between 100 and 599.
func ParseToken(out string) (code int, msg string, ok bool) {
	if len(out) < 4 || out[3] != ';' {
		return 0, "", false
	}
	code, err := strconv.Atoi(out[:3])
	if err != nil || code < 100 || code > 599 {
		return 0, "", false
	}
	return code, out[4:], true
}

// Errorf formats a "<code>;<message>" token.
func Errorf(code int, format string, args ...any) string {
	return strconv.Itoa(code) + ";" + fmt.Sprintf(format, args...)
}

// Segments splits a request path into its non-empty segments:
// "/persons/3/messages/" gives [persons 3 messages].
func Segments(path string) []string {
	parts := strings.Split(path, "/")
	segs := parts[:0]
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

// Join renders records one per line, or NoResults when there are none.
func Join[R fmt.Stringer](records []R) string {
	if len(records) == 0 {
		return NoResults
	}
	lines := make([]string, len(records))
	for i, r := range records {
		lines[i] = r.String()
	}
	return strings.Join(lines, "\n")
}

// ErrorToken turns err into a response token: a *FilterError becomes 400,
// anything else 500.
func ErrorToken(err error) string {
	var fe *FilterError
	if errors.As(err, &fe) {
		return fe.Token()
	}
	return Errorf(http.StatusInternalServerError, "%v", err)
}
