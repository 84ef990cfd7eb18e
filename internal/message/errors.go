package message

import (
	"errors"
	"fmt"
	"net/http"
)

// ProtocolError is a request the server cannot accept. Status is the HTTP
// status to answer with.
type ProtocolError struct {
	Status int
	Msg    string
	Err    error
}

func (e *ProtocolError) Error() string {
	text := fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status))
	if e.Msg != "" {
		text += ": " + e.Msg
	}
	if e.Err != nil {
		text += ": " + e.Err.Error()
	}
	return text
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolError(status int, msg string, err error) *ProtocolError {
	return &ProtocolError{Status: status, Msg: msg, Err: err}
}

// StatusOf returns the status carried by a *ProtocolError in err's chain, or
// 500.
func StatusOf(err error) int {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Status
	}
	return http.StatusInternalServerError
}
