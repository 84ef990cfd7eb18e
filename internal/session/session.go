// Package session maps the FORESTNET_SESSION cookie to a persisted key/value
// store.
//
// A Manager resolves the cookie to a Session, holding a per-session lock until
// Release so concurrent requests carrying the same cookie never lose each
// other's writes. Sessions expire once now - reference > MaxAge, where the
// reference is the creation time, or the last access when refresh is on.
// Storage sits behind the Store interface; FileStore keeps one YAML file per
// session, MemoryStore keeps them in a map.
package session

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// CookieName is the cookie that carries the session id.
const CookieName = "FORESTNET_SESSION"

var (
	// ErrNotFound is returned by a Store when no session has the id.
	ErrNotFound = errors.New("session not found")
	// ErrCorrupt is returned by a Store when a stored session cannot be read
	// back.
	ErrCorrupt = errors.New("session data corrupt")
)

// Session is one client's server-side state.
type Session struct {
	ID         string         `yaml:"id"`
	Created    time.Time      `yaml:"created"`
	LastAccess time.Time      `yaml:"last_access"`
	MaxAge     time.Duration  `yaml:"max_age"`
	Refresh    bool           `yaml:"refresh"`
	Data       map[string]any `yaml:"data"`

	isNew    bool
	released bool
	dropped  bool
}

// IsNew reports whether the session was allocated by the current request.
func (s *Session) IsNew() bool { return s.isNew }

// reference is the instant expiry is measured from.
func (s *Session) reference() time.Time {
	if s.Refresh {
		return s.LastAccess
	}
	return s.Created
}

// Expired reports whether now - reference > MaxAge. A zero MaxAge never
// expires.
func (s *Session) Expired(now time.Time) bool {
	if s.MaxAge <= 0 {
		return false
	}
	return now.Sub(s.reference()) > s.MaxAge
}

// ExpiresAt returns the instant after which the session is expired, or the
// zero time when it never expires.
func (s *Session) ExpiresAt() time.Time {
	if s.MaxAge <= 0 {
		return time.Time{}
	}
	return s.reference().Add(s.MaxAge)
}

// Get returns a stored value.
func (s *Session) Get(key string) (any, bool) {
	v, ok := s.Data[key]
	return v, ok
}

// GetString returns a stored value formatted as a string; missing keys give
// "".
func (s *Session) GetString(key string) string {
	v, ok := s.Data[key]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// Set stores a value.
func (s *Session) Set(key string, value any) {
	if s.Data == nil {
		s.Data = make(map[string]any)
	}
	s.Data[key] = value
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	delete(s.Data, key)
}

// Keys returns the stored keys in sorted order.
func (s *Session) Keys() []string {
	keys := make([]string, 0, len(s.Data))
	for k := range s.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
